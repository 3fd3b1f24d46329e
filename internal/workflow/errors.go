package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/pngprotect/internal/registry"
	"github.com/pendergraft/pngprotect/internal/wallet"
	"github.com/pendergraft/pngprotect/pkg/client"
)

// Common errors returned by the orchestrator.
var (
	ErrInProgress    = errors.New("workflow already in progress")
	ErrNoFile        = errors.New("no file selected")
	ErrEmptyFile     = errors.New("file is empty")
	ErrOwnerRequired = errors.New("owner identifier is required")
	ErrNotEligible   = errors.New("registration requires a connected wallet and a verified watermark")
	ErrClosed        = errors.New("orchestrator closed")
)

// DuplicateSource says who reported a duplicate protection
type DuplicateSource string

const (
	DuplicateLocal  DuplicateSource = "local"
	DuplicateRemote DuplicateSource = "service"
)

// DuplicateProtectionError means the content is already protected. It is
// terminal for the fingerprint: there is no retry path.
type DuplicateProtectionError struct {
	OwnerID string
	Source  DuplicateSource
}

func (e *DuplicateProtectionError) Error() string {
	return fmt.Sprintf("image already protected by %s", e.OwnerID)
}

// UnconfirmedError means a registration was submitted but its outcome was
// not awaited. Err is the context error that ended the wait.
type UnconfirmedError struct {
	Hash common.Hash
	Err  error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("transaction %s submitted, confirmation not awaited: %v", e.Hash.Hex(), e.Err)
}

func (e *UnconfirmedError) Unwrap() error { return e.Err }

// UserMessage renders err as a short message for the user
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		unconfErr *UnconfirmedError
		dupErr    *DuplicateProtectionError
		cfgErr    *registry.ConfigurationError
		ledgerErr *registry.LedgerError
		walletErr *wallet.WalletError
		svcErr    *client.ServiceError
		netErr    *client.NetworkError
	)

	switch {
	case errors.As(err, &unconfErr):
		return fmt.Sprintf("Transaction %s was submitted, but confirmation was not awaited. Register again to resume waiting.", unconfErr.Hash.Hex())
	case errors.As(err, &dupErr):
		return fmt.Sprintf("This image is already protected by %s.", dupErr.OwnerID)
	case errors.As(err, &cfgErr):
		return "The on-chain registry is not configured on the server. Registration is unavailable until an operator deploys and configures the registry contract."
	case errors.As(err, &ledgerErr):
		if ledgerErr.Reason != "" {
			return fmt.Sprintf("The registry rejected the registration: %s.", ledgerErr.Reason)
		}
		return "The registry rejected the registration. This watermark may already be registered."
	case errors.As(err, &walletErr):
		switch walletErr.Kind {
		case wallet.KindNoProvider:
			return "No wallet found. Install or start a wallet and try again."
		case wallet.KindRejected:
			return "The request was rejected in your wallet."
		case wallet.KindNotConnected:
			return "Connect your wallet first."
		default:
			return "The wallet request failed. Try again."
		}
	case errors.As(err, &svcErr):
		return svcErr.Message()
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Try again."
	case errors.As(err, &netErr):
		return "Could not reach the processing service. Check your connection and try again."
	case errors.Is(err, ErrOwnerRequired):
		return "Enter an owner identifier before protecting."
	case errors.Is(err, ErrNotEligible):
		return "Connect a wallet and verify a watermarked image before registering."
	case errors.Is(err, ErrInProgress):
		return "Already working on it."
	default:
		return err.Error()
	}
}
