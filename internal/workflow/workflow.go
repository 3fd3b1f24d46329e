// Package workflow coordinates the protect, verify and register workflows.
//
// Each workflow is an independent single-flight state machine owned by one
// Orchestrator. The workflows may run concurrently with each other; register
// always evaluates eligibility against the latest completed verification and
// the current wallet state.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/pngprotect/internal/dedup"
	"github.com/pendergraft/pngprotect/internal/fingerprint"
	"github.com/pendergraft/pngprotect/internal/registry"
	"github.com/pendergraft/pngprotect/internal/wallet"
	"github.com/pendergraft/pngprotect/pkg/client"
)

// ServiceClient is the part of the processing service the workflows call
type ServiceClient interface {
	Protect(ctx context.Context, req client.ProtectRequest) (*client.Artifact, error)
	Verify(ctx context.Context, file client.Upload) (*client.VerifyResult, error)
}

// ArtifactStore keeps protected images and hands out download handles
type ArtifactStore interface {
	Save(contentType string, data []byte) (string, error)
}

// Wallet is the wallet session the register workflow depends on
type Wallet interface {
	Snapshot() wallet.Snapshot
	Connect(ctx context.Context) (wallet.Snapshot, error)
	Disconnect() wallet.Snapshot
	OnAccountsChanged(h wallet.Handler) func()
	OnChainChanged(h wallet.Handler) func()
}

// Registry submits and tracks registrations
type Registry interface {
	Config(ctx context.Context) (*registry.Config, error)
	Submit(ctx context.Context, from common.Address, digest common.Hash) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*registry.Transaction, error)
}

// RetryPolicy bounds retries of idempotent calls failing with a NetworkError
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Hasher    *fingerprint.Hasher
	Dedup     *dedup.Store
	Service   ServiceClient
	Artifacts ArtifactStore
	Wallet    Wallet
	Registry  Registry
	Logger    *slog.Logger
	Retry     RetryPolicy
	Now       func() time.Time
}

// File is a selected input file
type File struct {
	Name string
	Data []byte
}

// Orchestrator owns all workflow state. All mutation goes through its methods.
type Orchestrator struct {
	hasher    *fingerprint.Hasher
	dedup     *dedup.Store
	service   ServiceClient
	artifacts ArtifactStore
	wallet    Wallet
	registry  Registry
	logger    *slog.Logger
	retry     RetryPolicy
	now       func() time.Time

	mu       sync.Mutex
	closed   bool
	protect  protectState
	verify   verifyState
	register registerState

	unsubscribe []func()
}

// New creates an orchestrator and subscribes it to wallet notifications
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Dedup == nil:
		return nil, errors.New("workflow: dedup store is required")
	case deps.Service == nil:
		return nil, errors.New("workflow: service client is required")
	case deps.Artifacts == nil:
		return nil, errors.New("workflow: artifact store is required")
	case deps.Wallet == nil:
		return nil, errors.New("workflow: wallet is required")
	case deps.Registry == nil:
		return nil, errors.New("workflow: registry is required")
	}

	o := &Orchestrator{
		hasher:    deps.Hasher,
		dedup:     deps.Dedup,
		service:   deps.Service,
		artifacts: deps.Artifacts,
		wallet:    deps.Wallet,
		registry:  deps.Registry,
		logger:    deps.Logger,
		retry:     deps.Retry,
		now:       deps.Now,
	}
	if o.hasher == nil {
		o.hasher = fingerprint.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.retry.InitialInterval <= 0 {
		o.retry.InitialInterval = 500 * time.Millisecond
	}

	o.unsubscribe = append(o.unsubscribe,
		o.wallet.OnAccountsChanged(func(snap wallet.Snapshot) {
			o.logger.Debug("wallet accounts changed", "state", snap.State)
			o.reevaluate()
		}),
		o.wallet.OnChainChanged(func(snap wallet.Snapshot) {
			o.logger.Info("wallet chain changed", "chainId", snap.ChainID)
			o.reevaluate()
		}),
	)

	o.register.state = RegisterIneligible
	return o, nil
}

// Close detaches the orchestrator from the wallet. In-flight requests run to
// completion; new triggers fail with ErrClosed.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	return nil
}

// ConnectWallet connects the wallet session and re-evaluates registration
func (o *Orchestrator) ConnectWallet(ctx context.Context) (wallet.Snapshot, error) {
	if o.isClosed() {
		return wallet.Snapshot{}, ErrClosed
	}
	snap, err := o.wallet.Connect(ctx)
	o.reevaluate()
	return snap, err
}

// DisconnectWallet forgets the wallet account
func (o *Orchestrator) DisconnectWallet() wallet.Snapshot {
	snap := o.wallet.Disconnect()
	o.reevaluate()
	return snap
}

// WalletStatus returns the current wallet state
func (o *Orchestrator) WalletStatus() wallet.Snapshot {
	return o.wallet.Snapshot()
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) reevaluate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reevaluateRegisterLocked()
}

// withRetry runs op, retrying NetworkErrors with exponential backoff.
// Only idempotent calls go through here.
func (o *Orchestrator) withRetry(ctx context.Context, name string, op func() error) error {
	if o.retry.MaxRetries <= 0 {
		return op()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.retry.InitialInterval
	eb.MaxElapsedTime = 0

	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(o.retry.MaxRetries)), ctx)
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !client.IsNetworkError(err) {
			return backoff.Permanent(err)
		}
		o.logger.Warn("retrying after network error", "operation", name, "attempt", attempt, "error", err)
		return err
	}, b)
}

func copyFile(name string, data []byte) (*File, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &File{Name: name, Data: buf}, nil
}

func strPtr(s string) *string { return &s }
