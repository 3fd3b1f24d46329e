package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/pngprotect/internal/registry"
	"github.com/pendergraft/pngprotect/internal/validation"
	"github.com/pendergraft/pngprotect/internal/workflow"
	"github.com/pendergraft/pngprotect/pkg/client"
)

// ServiceStatus summarizes the processing service and registry availability
type ServiceStatus struct {
	Service           string `json:"service"`
	Healthy           bool   `json:"healthy"`
	Message           string `json:"message,omitempty"`
	APIVersion        string `json:"apiVersion,omitempty"`
	Compatible        bool   `json:"compatible"`
	CompatibilityNote string `json:"compatibilityNote,omitempty"`
	Registry          string `json:"registry"`
}

func createStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the processing service and registry",
		Long: `Check that the processing service is reachable, speaks a supported API
version, and has an ownership registry configured.

EXAMPLES:
  pngprotect status
  pngprotect status --service https://protect.example.com --json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	c, cfg, err := newClientOnly()
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	st := checkStatus(ctx, c, cfg.Service.URL)

	if jsonOutput {
		if err := printJSON(st); err != nil {
			return err
		}
	} else {
		printStatus(st)
	}

	if !st.Healthy {
		return errors.New("service unavailable")
	}
	return nil
}

// statusChecker is the part of the service client the status check uses
type statusChecker interface {
	registry.ConfigSource
	Health(ctx context.Context) (*client.Health, error)
	APIVersion(ctx context.Context) (string, error)
}

func checkStatus(ctx context.Context, c statusChecker, url string) ServiceStatus {
	st := ServiceStatus{Service: url}

	health, err := c.Health(ctx)
	if err != nil {
		st.Message = workflow.UserMessage(err)
		st.Registry = "unknown"
		return st
	}
	st.Healthy = true
	st.Message = health.Message

	version, err := c.APIVersion(ctx)
	switch {
	case err != nil:
		st.CompatibilityNote = "could not read the service API version"
	default:
		st.APIVersion = version
		if err := validation.CheckServiceVersion(version); err != nil {
			st.CompatibilityNote = err.Error()
		} else {
			st.Compatible = true
		}
	}

	// The registry check goes through the same validation registration uses.
	reg := registry.New(c, nil, nil, nil)
	if cfg, err := reg.Config(ctx); err != nil {
		if registry.IsConfigurationError(err) {
			st.Registry = "not configured"
		} else {
			st.Registry = "unknown: " + workflow.UserMessage(err)
		}
	} else {
		st.Registry = cfg.ContractAddress.Hex()
	}

	return st
}

func printStatus(st ServiceStatus) {
	if !st.Healthy {
		fmt.Printf("Service %s is unavailable\n", st.Service)
		fmt.Printf("   %s\n", st.Message)
		return
	}

	fmt.Printf("Service %s is up\n", st.Service)
	if st.Message != "" {
		fmt.Printf("   Message:   %s\n", st.Message)
	}
	if st.APIVersion != "" {
		fmt.Printf("   API:       %s\n", st.APIVersion)
	}
	if !st.Compatible {
		fmt.Printf("   Warning:   %s\n", st.CompatibilityNote)
	}
	fmt.Printf("   Registry:  %s\n", st.Registry)
}
