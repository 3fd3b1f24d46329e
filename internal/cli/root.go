package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	serviceURL string
	token      string
	logLevel   string
	jsonOutput bool
)

// Execute runs the CLI
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pngprotect",
		Short: "Protect, verify and register image ownership",
		Long: `pngprotect embeds invisible ownership marks in images through a processing
service, verifies marks in images you find, and anchors verified marks on an
on-chain ownership registry using your wallet.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: pngprotect.toml)")
	rootCmd.PersistentFlags().StringVar(&serviceURL, "service", "", "processing service URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "processing service token")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	// Add subcommands
	rootCmd.AddCommand(createProtectCmd())
	rootCmd.AddCommand(createHardenCmd())
	rootCmd.AddCommand(createStripCmd())
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createDetectCmd())
	rootCmd.AddCommand(createLookupCmd())
	rootCmd.AddCommand(createRegisterCmd())
	rootCmd.AddCommand(createOwnerCmd())
	rootCmd.AddCommand(createStatusCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createCacheCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd
}

// getServiceURL returns the service URL from flag, env, config file, or default
func getServiceURL() string {
	// 1. Command line flag
	if serviceURL != "" {
		return serviceURL
	}

	// 2. Environment variable
	if env := os.Getenv("PNGPROTECT_SERVICE_URL"); env != "" {
		return env
	}

	// 3. Project config file (TOML)
	if config := loadProjectConfigSilent(); config != nil && config.Service != "" {
		return config.Service
	}

	// 4. Default
	return "http://localhost:8000"
}

// getToken returns the service token from flag, env, or credentials file
func getToken() string {
	// 1. Command line flag
	if token != "" {
		return token
	}

	// 2. Environment variable
	if env := os.Getenv("PNGPROTECT_SERVICE_TOKEN"); env != "" {
		return env
	}

	// 3. Credentials file (keyed by service URL)
	if cred := getCredential(getServiceURL()); cred != "" {
		return cred
	}

	return ""
}

// newLogger builds the CLI logger. Logs go to stderr so results on stdout
// stay pipeable.
func newLogger(level, format string) *slog.Logger {
	if logLevel != "" {
		level = logLevel
	}

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
