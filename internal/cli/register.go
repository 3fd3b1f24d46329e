package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/pendergraft/pngprotect/internal/observability/metrics"
	"github.com/pendergraft/pngprotect/internal/registry"
	"github.com/pendergraft/pngprotect/internal/validation"
	"github.com/pendergraft/pngprotect/internal/workflow"
)

func createRegisterCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "register <image>",
		Short: "Anchor a verified mark on the ownership registry",
		Long: `Verify an image, then register its mark on the on-chain ownership
registry from your wallet account. Only a one-way digest of the mark is
stored on chain.

The wallet is asked for account access and to approve the transaction.

EXAMPLES:
  pngprotect register protected.png
  pngprotect register protected.png --timeout 10m
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd.Context(), args[0], timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the transaction to be mined")

	return cmd
}

func runRegister(ctx context.Context, input string, timeout time.Duration) error {
	file, err := readImage(input)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, newLogger(cliLogLevel(cfg), cfg.Logging.Format))
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.svc.ConnectWallet(ctx)
	if err != nil {
		return errors.New(workflow.UserMessage(err))
	}
	fmt.Printf("Wallet connected: %s\n", snap.Account.Hex())

	vst, err := a.svc.VerifyFile(ctx, file.Name, file.Data)
	if err != nil {
		return errors.New(workflow.UserMessage(err))
	}
	if vst.Result == nil || !vst.Result.Found || vst.Result.ExtractedToken == nil {
		return errors.New("no ownership mark found in this image, nothing to register")
	}

	fmt.Println("Waiting for wallet approval...")
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	st, err := a.svc.Register(rctx)
	if jsonOutput {
		if perr := printJSON(st); perr != nil {
			return perr
		}
	}
	if err != nil {
		var unconfirmed *workflow.UnconfirmedError
		if errors.As(err, &unconfirmed) {
			return fmt.Errorf("transaction %s was submitted but not confirmed before the wait ended; it may still be mined, check with `pngprotect owner --image %s`", unconfirmed.Hash.Hex(), input)
		}
		if st.Tx != nil {
			return fmt.Errorf("%s (transaction %s)", workflow.UserMessage(err), st.Tx.Hash.Hex())
		}
		return errors.New(workflow.UserMessage(err))
	}

	if !jsonOutput {
		fmt.Println("Registered")
		fmt.Printf("   Digest:      %s\n", st.Digest.Hex())
		fmt.Printf("   Transaction: %s\n", st.Tx.Hash.Hex())
		fmt.Printf("   Block:       %d\n", st.Tx.BlockNumber)
	}
	return nil
}

func createOwnerCmd() *cobra.Command {
	var image string

	cmd := &cobra.Command{
		Use:   "owner [token]",
		Short: "Look up the registered owner of a mark",
		Long: `Look up who registered a mark on the ownership registry.

Pass the extracted token printed by 'pngprotect verify', or an image with
--image to let the service extract the mark and check the registry.

EXAMPLES:
  pngprotect owner 3f1c2a9e-7b4d-4c21-9a0e-5d6f7a8b9c0d
  pngprotect owner --image found.png
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if image != "" {
				return runOwnerByImage(cmd.Context(), image)
			}
			if len(args) == 0 {
				return errors.New("pass a token or --image")
			}
			return runOwner(cmd.Context(), args[0])
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "image to extract the mark from")

	return cmd
}

func runOwner(ctx context.Context, tok string) error {
	if err := validation.ValidateToken(tok); err != nil {
		return err
	}

	c, cfg, err := newClientOnly()
	if err != nil {
		return err
	}

	chain, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("connecting to chain: %w", err)
	}
	defer chain.Close()

	reg := registry.New(c, chain, nil, newLogger(cliLogLevel(cfg), cfg.Logging.Format))
	digest := registry.Digest(tok)

	own, ok, err := reg.Owner(ctx, digest)
	if err != nil {
		return errors.New(workflow.UserMessage(err))
	}

	if jsonOutput {
		out := map[string]any{"digest": digest.Hex(), "registered": ok}
		if ok {
			out["owner"] = own.Owner.Hex()
			out["registeredAt"] = own.RegisteredAt
		}
		return printJSON(out)
	}
	if !ok {
		fmt.Printf("Not registered (digest %s)\n", digest.Hex())
		return nil
	}
	fmt.Println("Registered")
	fmt.Printf("   Owner:   %s\n", own.Owner.Hex())
	fmt.Printf("   Since:   %s\n", own.RegisteredAt.UTC().Format(time.RFC3339))
	fmt.Printf("   Digest:  %s\n", digest.Hex())
	return nil
}

func runOwnerByImage(ctx context.Context, input string) error {
	file, err := readImage(input)
	if err != nil {
		return err
	}

	c, _, err := newClientOnly()
	if err != nil {
		return err
	}

	res, err := c.VerifyOnChain(ctx, file)
	metrics.RecordServiceCall("verify_onchain", err)
	if err != nil {
		return errors.New(workflow.UserMessage(err))
	}

	if jsonOutput {
		return printJSON(res)
	}
	switch {
	case !res.Found:
		fmt.Println("No ownership mark found")
	case !res.OnChain:
		fmt.Printf("Mark %s is not registered on chain\n", res.WatermarkID)
	default:
		fmt.Println("Registered")
		fmt.Printf("   Owner:   %s\n", res.Owner)
		fmt.Printf("   Since:   %s\n", time.Unix(res.Timestamp, 0).UTC().Format(time.RFC3339))
		fmt.Printf("   Mark:    %s\n", res.WatermarkID)
	}
	if res.Message != "" {
		fmt.Printf("   %s\n", res.Message)
	}
	return nil
}
