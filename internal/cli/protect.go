package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pendergraft/pngprotect/internal/observability/metrics"
	"github.com/pendergraft/pngprotect/internal/validation"
	"github.com/pendergraft/pngprotect/internal/workflow"
)

func createProtectCmd() *cobra.Command {
	var owner string
	var strength int
	var output string

	cmd := &cobra.Command{
		Use:   "protect <image>",
		Short: "Embed an ownership mark in an image",
		Long: `Embed an invisible ownership mark in an image.

Images you have already protected are recognized locally and are not sent
to the service again. The service also refuses images protected by anyone
else.

EXAMPLES:
  pngprotect protect photo.png --owner alice
  pngprotect protect photo.png --owner alice --strength 80 -o out.png
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProtect(cmd.Context(), args[0], defaultOwner(owner), defaultStrength(strength), output)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner identifier (default from config)")
	cmd.Flags().IntVar(&strength, "strength", 0, "strength from 1 (subtle) to 100 (robust)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: <name>_protected.<ext>)")

	return cmd
}

func runProtect(ctx context.Context, input, owner string, strength int, output string) error {
	if err := validation.ValidateOwnerID(owner); err != nil {
		return err
	}
	if err := validation.ValidateStrength(strength); err != nil {
		return err
	}
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

	st, err := a.svc.ProtectFile(ctx, file.Name, file.Data, owner, strength)
	if jsonOutput {
		if perr := printJSON(st); perr != nil {
			return perr
		}
	}
	if err != nil {
		return errors.New(workflow.UserMessage(err))
	}

	data, err := a.artifacts.Read(st.Artifact)
	if err != nil {
		return fmt.Errorf("reading protected image: %w", err)
	}
	dest := outputPath(output, input, "protected", extensionFor(http.DetectContentType(data)))
	if err := writeFile(dest, data); err != nil {
		return err
	}

	if !jsonOutput {
		fmt.Printf("Protected %s for %s\n", file.Name, owner)
		fmt.Printf("   Fingerprint: %s\n", st.Fingerprint.Short())
		fmt.Printf("   Written to:  %s\n", dest)
	}
	return nil
}

func createHardenCmd() *cobra.Command {
	var strength int
	var output string

	cmd := &cobra.Command{
		Use:   "harden <image>",
		Short: "Embed a mark hardened against removal attacks",
		Long: `Embed an ownership mark tuned to survive common removal attacks and
report the robustness score the service measured.

EXAMPLES:
  pngprotect harden photo.png --strength 90
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarden(cmd.Context(), args[0], defaultStrength(strength), output)
		},
	}

	cmd.Flags().IntVar(&strength, "strength", 0, "strength from 1 (subtle) to 100 (robust)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: <name>_hardened.<ext>)")

	return cmd
}

func runHarden(ctx context.Context, input string, strength int, output string) error {
	if err := validation.ValidateStrength(strength); err != nil {
		return err
	}
	file, err := readImage(input)
	if err != nil {
		return err
	}

	c, _, err := newClientOnly()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	res, err := c.AdversarialProtect(ctx, file, workflow.QuantizeStrength(strength))
	metrics.RecordServiceCall("harden", err)
	if err != nil {
		return errors.New(workflow.UserMessage(err))
	}

	dest := outputPath(output, input, "hardened", extensionFor(res.ContentType))
	if err := writeFile(dest, res.Data); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]any{"output": dest, "robustnessScore": res.RobustnessScore})
	}
	fmt.Printf("Hardened %s\n", file.Name)
	if res.RobustnessScore != nil {
		fmt.Printf("   Robustness:  %.1f\n", *res.RobustnessScore)
	}
	fmt.Printf("   Written to:  %s\n", dest)
	return nil
}

func createStripCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "strip <image>",
		Short: "Remove all metadata from an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStrip(cmd.Context(), args[0], output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: <name>_clean.<ext>)")

	return cmd
}

func runStrip(ctx context.Context, input, output string) error {
	file, err := readImage(input)
	if err != nil {
		return err
	}

	c, _, err := newClientOnly()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	res, err := c.StripMetadata(ctx, file)
	metrics.RecordServiceCall("strip", err)
	if err != nil {
		return errors.New(workflow.UserMessage(err))
	}

	dest := outputPath(output, input, "clean", extensionFor(res.ContentType))
	if err := writeFile(dest, res.Data); err != nil {
		return err
	}
	fmt.Printf("Metadata removed, written to %s\n", dest)
	return nil
}

// signalContext cancels ctx on interrupt so in-flight requests are abandoned
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt)
}
