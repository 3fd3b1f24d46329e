package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/pendergraft/pngprotect/internal/config"
)

// projectConfigFiles is the search order for project config files
var projectConfigFiles = []string{"pngprotect.toml", ".pngprotect.toml"}

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Service   string `toml:"service"`
	Owner     string `toml:"owner,omitempty"`
	Strength  int    `toml:"strength,omitempty"`
	OutputDir string `toml:"output_dir,omitempty"`
	WalletRPC string `toml:"wallet_rpc,omitempty"`
	ChainRPC  string `toml:"chain_rpc,omitempty"`
	Storage   string `toml:"storage,omitempty"`
}

// apply layers project settings under environment variables
func (p *ProjectConfig) apply(cfg *config.Config) {
	if p.WalletRPC != "" && os.Getenv("PNGPROTECT_WALLET_RPC_URL") == "" {
		if cfg.Chain.RPCURL == cfg.Wallet.RPCURL && os.Getenv("PNGPROTECT_CHAIN_RPC_URL") == "" {
			cfg.Chain.RPCURL = p.WalletRPC
		}
		cfg.Wallet.RPCURL = p.WalletRPC
	}
	if p.ChainRPC != "" && os.Getenv("PNGPROTECT_CHAIN_RPC_URL") == "" {
		cfg.Chain.RPCURL = p.ChainRPC
	}
	if p.Storage != "" && os.Getenv("PNGPROTECT_STORAGE_TYPE") == "" && cfg.Storage.Postgres.URL == "" {
		cfg.Storage.Type = p.Storage
	}
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var service string
	var owner string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a pngprotect.toml configuration file in the current directory.

This file stores defaults like the processing service URL, your owner
identifier and the wallet RPC endpoint.

EXAMPLES:
  # Create config with default service
  pngprotect config init

  # Create config for a specific service and owner
  pngprotect config init --service https://protect.example.com --owner alice

  # Overwrite existing config
  pngprotect config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(service, owner, force)
		},
	}

	cmd.Flags().StringVar(&service, "service", "http://localhost:8000", "processing service URL")
	cmd.Flags().StringVar(&owner, "owner", "", "default owner identifier")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the current configuration and where each value comes from.

EXAMPLES:
  pngprotect config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}
}

func runConfigInit(service, owner string, force bool) error {
	configPath := projectConfigFiles[0]

	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", name)
		}
	}

	content := fmt.Sprintf(`# pngprotect configuration

service = %q
owner = %q

# Protection strength, 1 (subtle) to 100 (robust)
strength = 50

# Where protected images are written (default: next to the input)
# output_dir = "protected"

# Wallet JSON-RPC endpoint used for registration
# wallet_rpc = "http://localhost:8545"

# Separate chain endpoint for receipts and ownership lookups
# chain_rpc = "https://rpc.example.org"
`, service, owner)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s to customize settings\n", configPath)
	fmt.Println("  2. Run 'pngprotect status' to check the service")
	fmt.Println("  3. Run 'pngprotect protect image.png' to protect an image")

	return nil
}

func runConfigShow() error {
	fmt.Println("Configuration sources (in order of precedence):")
	fmt.Println()

	fmt.Println("1. Command line flags")
	fmt.Println("   --service, --token, --config, --log-level")
	fmt.Println()

	fmt.Println("2. Environment variables")
	for _, key := range []string{"PNGPROTECT_SERVICE_URL", "PNGPROTECT_SERVICE_TOKEN", "PNGPROTECT_WALLET_RPC_URL", "PNGPROTECT_STORAGE_TYPE"} {
		val := os.Getenv(key)
		switch {
		case val == "":
			val = "(not set)"
		case key == "PNGPROTECT_SERVICE_TOKEN":
			val = maskToken(val)
		}
		fmt.Printf("   %s=%s\n", key, val)
	}
	fmt.Println()

	fmt.Println("3. Project config (pngprotect.toml)")
	pc, path, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else {
		fmt.Printf("   Loaded from: %s\n", path)
		if pc.Service != "" {
			fmt.Printf("   service: %s\n", pc.Service)
		}
		if pc.Owner != "" {
			fmt.Printf("   owner: %s\n", pc.Owner)
		}
		if pc.Strength != 0 {
			fmt.Printf("   strength: %d\n", pc.Strength)
		}
		if pc.WalletRPC != "" {
			fmt.Printf("   wallet_rpc: %s\n", pc.WalletRPC)
		}
		if pc.ChainRPC != "" {
			fmt.Printf("   chain_rpc: %s\n", pc.ChainRPC)
		}
	}
	fmt.Println()

	fmt.Println("4. Credentials (~/.pngprotect/credentials)")
	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else if len(creds.Services) == 0 {
		fmt.Println("   (no credentials stored)")
	} else {
		for url, cred := range creds.Services {
			fmt.Printf("   %s: %s\n", url, maskToken(cred.Token))
		}
	}
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Println("Effective configuration:")
	fmt.Printf("   Service:  %s\n", cfg.Service.URL)
	if cfg.Service.Token != "" {
		fmt.Printf("   Token:    %s\n", maskToken(cfg.Service.Token))
	} else {
		fmt.Println("   Token:    (not set)")
	}
	fmt.Printf("   Storage:  %s\n", cfg.Storage.Type)
	fmt.Printf("   Wallet:   %s\n", cfg.Wallet.RPCURL)
	fmt.Printf("   Chain:    %s\n", cfg.Chain.RPCURL)

	return nil
}

// loadProjectConfig loads the project config from the first matching config file.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	if cfgFile != "" {
		config, err := loadProjectConfigFromPath(cfgFile)
		if err != nil {
			return nil, cfgFile, err
		}
		return config, cfgFile, nil
	}

	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			config, err := loadProjectConfigFromPath(name)
			if err != nil {
				return nil, name, err
			}
			return config, name, nil
		}
	}
	return nil, "", os.ErrNotExist
}

// loadProjectConfigFromPath loads a project config from a specific path
func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config ProjectConfig
	if _, err := toml.Decode(string(data), &config); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	return &config, nil
}

// loadProjectConfigSilent loads the project config without returning errors for missing files.
// Returns nil if the file doesn't exist, but warns about parse failures.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		return nil
	}
	return config
}
