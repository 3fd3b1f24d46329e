package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/pngprotect/pkg/client"
)

// Credentials stores service tokens per service URL
type Credentials struct {
	Services map[string]ServiceCredential `yaml:"services"`
}

// ServiceCredential stores the credential for a single service
type ServiceCredential struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name,omitempty"`
}

func createAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
	}

	cmd.AddCommand(createAuthLoginCmd())
	cmd.AddCommand(createAuthLogoutCmd())
	cmd.AddCommand(createAuthStatusCmd())

	return cmd
}

func createAuthLoginCmd() *cobra.Command {
	var serviceFlag string
	var tokenFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save a service token",
		Long: `Save a token for a processing service.

The token is stored in ~/.pngprotect/credentials with owner-only permissions.

EXAMPLES:
  # Interactive login (prompts for the token)
  pngprotect auth login

  # Login to a specific service
  pngprotect auth login --service https://protect.example.com

  # Non-interactive login (for CI)
  pngprotect auth login --token $PNGPROTECT_SERVICE_TOKEN
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(serviceFlag, tokenFlag)
		},
	}

	cmd.Flags().StringVar(&serviceFlag, "service", "", "service URL (default from config)")
	cmd.Flags().StringVar(&tokenFlag, "token", "", "service token (prompts if not provided)")

	return cmd
}

func createAuthLogoutCmd() *cobra.Command {
	var serviceFlag string
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear credentials",
		Long: `Remove the saved token for a service.

EXAMPLES:
  pngprotect auth logout
  pngprotect auth logout --service https://protect.example.com
  pngprotect auth logout --all
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout(serviceFlag, allFlag)
		},
	}

	cmd.Flags().StringVar(&serviceFlag, "service", "", "service URL (default from config)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "clear all credentials")

	return cmd
}

func createAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show saved credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus()
		},
	}
}

func runAuthLogin(serviceURL, tokenInput string) error {
	if serviceURL == "" {
		serviceURL = getServiceURL()
	}

	tok := tokenInput
	if tok == "" {
		fmt.Printf("Enter token for %s: ", serviceURL)

		stdinFd := int(os.Stdin.Fd())
		if term.IsTerminal(stdinFd) {
			b, err := term.ReadPassword(stdinFd)
			fmt.Println()
			if err != nil {
				return fmt.Errorf("failed to read token: %w", err)
			}
			tok = string(b)
		} else {
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("failed to read token: %w", err)
			}
			tok = strings.TrimSpace(line)
		}
	}

	if tok == "" {
		return fmt.Errorf("token cannot be empty")
	}

	fmt.Printf("Validating token with %s...\n", serviceURL)
	valid, checked, err := validateToken(serviceURL, tok)
	if err != nil {
		return fmt.Errorf("failed to validate token: %w", err)
	}
	if !valid {
		return fmt.Errorf("invalid token")
	}
	if !checked {
		fmt.Println("   The service does not check tokens; saving without validation")
	}

	if err := saveCredential(serviceURL, tok); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("Authenticated to %s (token: %s)\n", serviceURL, maskToken(tok))
	fmt.Printf("   Credentials saved to %s\n", credentialsFilePath())

	return nil
}

func runAuthLogout(serviceURL string, all bool) error {
	if all {
		if err := os.Remove(credentialsFilePath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		fmt.Println("All credentials cleared")
		return nil
	}

	if serviceURL == "" {
		serviceURL = getServiceURL()
	}

	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No credentials found for %s\n", serviceURL)
			return nil
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if _, exists := creds.Services[serviceURL]; !exists {
		fmt.Printf("No credentials found for %s\n", serviceURL)
		return nil
	}

	delete(creds.Services, serviceURL)

	if err := writeCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("Logged out from %s\n", serviceURL)
	return nil
}

func runAuthStatus() error {
	creds, err := loadCredentials()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if creds == nil || len(creds.Services) == 0 {
		fmt.Println("No saved service tokens")
		fmt.Println("\nRun 'pngprotect auth login' to save one")
		return nil
	}

	fmt.Println("Saved service tokens:")
	for url, cred := range creds.Services {
		if cred.Name != "" {
			fmt.Printf("  • %s (%s, token: %s)\n", url, cred.Name, maskToken(cred.Token))
		} else {
			fmt.Printf("  • %s (token: %s)\n", url, maskToken(cred.Token))
		}
	}

	return nil
}

// Credential file helpers

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pngprotect"
	}
	return filepath.Join(home, ".pngprotect")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	if creds.Services == nil {
		creds.Services = make(map[string]ServiceCredential)
	}

	return &creds, nil
}

func writeCredentials(creds *Credentials) error {
	if err := os.MkdirAll(credentialsDir(), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	return os.WriteFile(credentialsFilePath(), data, 0600)
}

func saveCredential(serviceURL, tok string) error {
	creds, err := loadCredentials()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		creds = &Credentials{Services: make(map[string]ServiceCredential)}
	}

	creds.Services[serviceURL] = ServiceCredential{Token: tok}
	return writeCredentials(creds)
}

func getCredential(serviceURL string) string {
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	if cred, ok := creds.Services[serviceURL]; ok {
		return cred.Token
	}
	return ""
}

// validateToken asks the service to check tok. checked is false when the
// service has no token endpoint and the token could not be checked.
func validateToken(serviceURL, tok string) (valid, checked bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	valid, err = client.New(serviceURL, tok).VerifyToken(ctx)
	if errors.Is(err, client.ErrTokenCheckUnsupported) {
		return true, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return valid, true, nil
}

func maskToken(tok string) string {
	if len(tok) <= 8 {
		return "****"
	}
	return tok[:8] + "..." + tok[len(tok)-4:]
}
