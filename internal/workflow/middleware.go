package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/pendergraft/pngprotect/internal/wallet"
)

// Service is the workflow surface used by the CLI and the local API
type Service interface {
	SelectProtectFile(name string, data []byte) (ProtectStatus, error)
	Protect(ctx context.Context, ownerID string, strength int) (ProtectStatus, error)
	ProtectFile(ctx context.Context, name string, data []byte, ownerID string, strength int) (ProtectStatus, error)
	ProtectStatus() ProtectStatus
	SelectVerifyFile(name string, data []byte) (VerifyStatus, error)
	Verify(ctx context.Context) (VerifyStatus, error)
	VerifyFile(ctx context.Context, name string, data []byte) (VerifyStatus, error)
	VerifyStatus() VerifyStatus
	ConnectWallet(ctx context.Context) (wallet.Snapshot, error)
	DisconnectWallet() wallet.Snapshot
	WalletStatus() wallet.Snapshot
	Register(ctx context.Context) (RegisterStatus, error)
	RegisterStatus() RegisterStatus
}

var _ Service = (*Orchestrator)(nil)

// LoggingMiddleware returns a service middleware that logs workflow triggers.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func (m *loggingMiddleware) SelectProtectFile(name string, data []byte) (ProtectStatus, error) {
	st, err := m.next.SelectProtectFile(name, data)
	m.logger.Debug("SelectProtectFile",
		"file", name,
		"bytes", len(data),
		"error", err,
	)
	return st, err
}

func (m *loggingMiddleware) Protect(ctx context.Context, ownerID string, strength int) (ProtectStatus, error) {
	start := time.Now()
	st, err := m.next.Protect(ctx, ownerID, strength)
	m.logger.Info("Protect",
		"owner", ownerID,
		"strength", strength,
		"state", st.State,
		"fingerprint", st.Fingerprint.Short(),
		"duration", time.Since(start),
		"error", err,
	)
	return st, err
}

func (m *loggingMiddleware) ProtectFile(ctx context.Context, name string, data []byte, ownerID string, strength int) (ProtectStatus, error) {
	start := time.Now()
	st, err := m.next.ProtectFile(ctx, name, data, ownerID, strength)
	m.logger.Info("ProtectFile",
		"file", name,
		"bytes", len(data),
		"owner", ownerID,
		"strength", strength,
		"state", st.State,
		"fingerprint", st.Fingerprint.Short(),
		"duration", time.Since(start),
		"error", err,
	)
	return st, err
}

func (m *loggingMiddleware) ProtectStatus() ProtectStatus {
	return m.next.ProtectStatus()
}

func (m *loggingMiddleware) SelectVerifyFile(name string, data []byte) (VerifyStatus, error) {
	st, err := m.next.SelectVerifyFile(name, data)
	m.logger.Debug("SelectVerifyFile",
		"file", name,
		"bytes", len(data),
		"error", err,
	)
	return st, err
}

func (m *loggingMiddleware) Verify(ctx context.Context) (VerifyStatus, error) {
	start := time.Now()
	st, err := m.next.Verify(ctx)
	m.logger.Info("Verify",
		"state", st.State,
		"duration", time.Since(start),
		"error", err,
	)
	return st, err
}

func (m *loggingMiddleware) VerifyFile(ctx context.Context, name string, data []byte) (VerifyStatus, error) {
	start := time.Now()
	st, err := m.next.VerifyFile(ctx, name, data)
	m.logger.Info("VerifyFile",
		"file", name,
		"bytes", len(data),
		"state", st.State,
		"duration", time.Since(start),
		"error", err,
	)
	return st, err
}

func (m *loggingMiddleware) VerifyStatus() VerifyStatus {
	return m.next.VerifyStatus()
}

func (m *loggingMiddleware) ConnectWallet(ctx context.Context) (wallet.Snapshot, error) {
	start := time.Now()
	snap, err := m.next.ConnectWallet(ctx)
	m.logger.Info("ConnectWallet",
		"state", snap.State,
		"duration", time.Since(start),
		"error", err,
	)
	return snap, err
}

func (m *loggingMiddleware) DisconnectWallet() wallet.Snapshot {
	snap := m.next.DisconnectWallet()
	m.logger.Info("DisconnectWallet")
	return snap
}

func (m *loggingMiddleware) WalletStatus() wallet.Snapshot {
	return m.next.WalletStatus()
}

func (m *loggingMiddleware) Register(ctx context.Context) (RegisterStatus, error) {
	start := time.Now()
	st, err := m.next.Register(ctx)
	attrs := []any{
		"state", st.State,
		"duration", time.Since(start),
		"error", err,
	}
	if st.Tx != nil {
		attrs = append(attrs, "tx", st.Tx.Hash.Hex())
	}
	m.logger.Info("Register", attrs...)
	return st, err
}

func (m *loggingMiddleware) RegisterStatus() RegisterStatus {
	return m.next.RegisterStatus()
}
