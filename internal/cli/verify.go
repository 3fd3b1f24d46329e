package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pendergraft/pngprotect/internal/observability/metrics"
	"github.com/pendergraft/pngprotect/internal/workflow"
	"github.com/pendergraft/pngprotect/pkg/client"
)

func createVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <image>",
		Short: "Check an image for an ownership mark",
		Long: `Extract the ownership mark from an image and report its owner.

EXAMPLES:
  pngprotect verify found.png
  pngprotect verify found.png --json
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), args[0])
		},
	}

	return cmd
}

func runVerify(ctx context.Context, input string) error {
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

	st, err := a.svc.VerifyFile(ctx, file.Name, file.Data)
	if jsonOutput {
		if perr := printJSON(st); perr != nil {
			return perr
		}
		if err != nil {
			return errors.New(workflow.UserMessage(err))
		}
		return nil
	}
	if err != nil {
		return errors.New(workflow.UserMessage(err))
	}

	printVerifyResult(st.Result)
	return nil
}

func printVerifyResult(res *workflow.VerifyResult) {
	if res == nil || !res.Found {
		fmt.Println("No ownership mark found")
		if res != nil && res.TamperStatus != "" {
			fmt.Printf("   Tamper status: %s\n", res.TamperStatus)
		}
		return
	}

	fmt.Println("Ownership mark found")
	if res.OwnerID != nil {
		fmt.Printf("   Owner:       %s\n", *res.OwnerID)
	}
	if res.ExtractedToken != nil {
		fmt.Printf("   Token:       %s\n", *res.ExtractedToken)
	}
	fmt.Printf("   Confidence:  %.0f%%\n", res.Confidence)
	fmt.Printf("   Match ratio: %.2f\n", res.MatchRatio)
	if res.TamperStatus != "" {
		fmt.Printf("   Tampering:   %s\n", res.TamperStatus)
	}
}

func createDetectCmd() *cobra.Command {
	var fast, forensicsOnly bool

	cmd := &cobra.Command{
		Use:   "detect <image>",
		Short: "Look for signs that a mark was removed",
		Long: `Run forensic analysis on an image to detect attempts to remove an
ownership mark.

EXAMPLES:
  pngprotect detect suspicious.png
  pngprotect detect suspicious.png --fast
  pngprotect detect suspicious.png --forensics-only
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if forensicsOnly {
				return runForensics(cmd.Context(), args[0])
			}
			mode := client.DetectFull
			if fast {
				mode = client.DetectFast
			}
			return runDetect(cmd.Context(), args[0], mode)
		},
	}

	cmd.Flags().BoolVar(&fast, "fast", false, "skip the slower forensic checks")
	cmd.Flags().BoolVar(&forensicsOnly, "forensics-only", false, "run only the rule-based artifact checks")
	cmd.MarkFlagsMutuallyExclusive("fast", "forensics-only")

	return cmd
}

func runDetect(ctx context.Context, input string, mode client.DetectMode) error {
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

	report, err := c.DetectTampering(ctx, file, mode)
	metrics.RecordServiceCall("detect", err)
	if err != nil {
		return errors.New(workflow.UserMessage(err))
	}

	if jsonOutput {
		return printJSON(report)
	}

	verdict := "No removal attempt detected"
	if report.LikelyRemoved {
		verdict = "A mark was likely removed"
	}
	fmt.Println(verdict)
	fmt.Printf("   Confidence:  %.0f%% (%s)\n", report.OverallTamperingConfidence, report.ConfidenceLevel)
	if len(report.DetectedTechniques) > 0 {
		fmt.Printf("   Techniques:  %s\n", strings.Join(report.DetectedTechniques, ", "))
	}
	if report.ForensicExplanation != "" {
		fmt.Printf("   %s\n", report.ForensicExplanation)
	}
	return nil
}

func runForensics(ctx context.Context, input string) error {
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

	report, err := c.Forensics(ctx, file)
	metrics.RecordServiceCall("forensics", err)
	if err != nil {
		return errors.New(workflow.UserMessage(err))
	}

	if jsonOutput {
		return printJSON(report)
	}

	fmt.Printf("Artifact confidence: %.0f%%\n", report.OverallConfidence)
	if report.Width > 0 {
		fmt.Printf("   Image:  %dx%d\n", report.Width, report.Height)
	}
	for _, a := range report.Artifacts {
		fmt.Printf("   %-12s %5.1f%%  %s\n", a.Type, a.Confidence, a.Description)
	}
	return nil
}

func createLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <watermark-id>",
		Short: "Show the public record of a watermark id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd.Context(), args[0])
		},
	}
}

func runLookup(ctx context.Context, id string) error {
	c, _, err := newClientOnly()
	if err != nil {
		return err
	}

	rec, err := c.PublicLookup(ctx, id)
	metrics.RecordServiceCall("lookup", err)
	if err != nil {
		var svcErr *client.ServiceError
		if errors.As(err, &svcErr) && svcErr.Status == 404 {
			return fmt.Errorf("no public record for %s", id)
		}
		return errors.New(workflow.UserMessage(err))
	}

	if jsonOutput {
		return printJSON(rec)
	}
	fmt.Printf("Watermark %s\n", rec.WatermarkID)
	fmt.Printf("   Owner:      %s\n", rec.OwnerID)
	fmt.Printf("   Strength:   %d\n", rec.Strength)
	fmt.Printf("   Image hash: %s\n", rec.ImageHash)
	fmt.Printf("   Created:    %s\n", rec.CreatedAt)
	return nil
}
