package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pendergraft/pngprotect/internal/artifacts"
	"github.com/pendergraft/pngprotect/internal/config"
	"github.com/pendergraft/pngprotect/internal/dedup"
	"github.com/pendergraft/pngprotect/internal/registry"
	"github.com/pendergraft/pngprotect/internal/storage"
	"github.com/pendergraft/pngprotect/internal/wallet"
	"github.com/pendergraft/pngprotect/internal/workflow"
	"github.com/pendergraft/pngprotect/pkg/client"
)

// app holds the wired components for one CLI invocation
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	client    *client.Client
	store     storage.Store
	dedup     *dedup.Store
	artifacts *artifacts.Store
	provider  *wallet.RPCProvider
	session   *wallet.Session
	chain     *ethclient.Client
	registry  *registry.Client
	orch      *workflow.Orchestrator
	svc       workflow.Service
}

// loadConfig loads env configuration and layers the project file and flags on top
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if pc := loadProjectConfigSilent(); pc != nil {
		pc.apply(cfg)
	}
	cfg.Service.URL = getServiceURL()
	cfg.Service.Token = getToken()

	return cfg, nil
}

// newServiceClient builds the processing service client from configuration
func newServiceClient(cfg *config.Config) *client.Client {
	return client.New(cfg.Service.URL, cfg.Service.Token,
		client.WithTimeout(time.Duration(cfg.Service.Timeout)*time.Second),
		client.WithRateLimit(cfg.Service.RequestsPerMin, cfg.Service.BurstSize),
	)
}

// newClientOnly loads configuration and returns a service client, for
// commands that do not touch local state.
func newClientOnly() (*client.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return newServiceClient(cfg), cfg, nil
}

// cliLogLevel keeps one-shot commands quiet unless a level is asked for
func cliLogLevel(cfg *config.Config) string {
	if os.Getenv("PNGPROTECT_LOG_LEVEL") == "" {
		return "warn"
	}
	return cfg.Logging.Level
}

// newApp wires storage, the service client, the wallet and the registry into
// a workflow orchestrator.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	a.client = newServiceClient(cfg)

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	a.store = store

	if err := store.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	a.dedup = dedup.Load(ctx, store, logger)

	a.artifacts, err = artifacts.New(cfg.Storage.ArtifactsDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.provider, err = wallet.Dial(ctx, cfg.Wallet.RPCURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connecting to wallet provider: %w", err)
	}
	a.session = wallet.NewSession(a.provider, time.Duration(cfg.Wallet.PollSeconds)*time.Second, logger)

	if cfg.Chain.RPCURL == cfg.Wallet.RPCURL {
		a.chain = ethclient.NewClient(a.provider.Client())
	} else {
		a.chain, err = ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to chain: %w", err)
		}
	}

	a.registry = registry.New(a.client, a.chain, a.session, logger,
		registry.WithPollInterval(time.Duration(cfg.Chain.ReceiptPollSeconds)*time.Second),
	)

	a.orch, err = workflow.New(workflow.Deps{
		Dedup:     a.dedup,
		Service:   a.client,
		Artifacts: a.artifacts,
		Wallet:    a.session,
		Registry:  a.registry,
		Logger:    logger,
		Retry: workflow.RetryPolicy{
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialInterval: time.Duration(cfg.Retry.InitialIntervalMs) * time.Millisecond,
		},
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.svc = workflow.LoggingMiddleware(logger)(a.orch)

	return a, nil
}

// Close releases everything newApp opened
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	if a.session != nil {
		a.session.Close()
	}
	// The chain client shares the provider connection when the URLs match.
	if a.chain != nil && a.cfg.Chain.RPCURL != a.cfg.Wallet.RPCURL {
		a.chain.Close()
	}
	if a.provider != nil {
		a.provider.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
