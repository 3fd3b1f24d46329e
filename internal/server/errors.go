package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/pendergraft/pngprotect/internal/registry"
	"github.com/pendergraft/pngprotect/internal/wallet"
	"github.com/pendergraft/pngprotect/internal/workflow"
	"github.com/pendergraft/pngprotect/pkg/client"
)

// errorStatus maps a workflow error to an HTTP status and error code
func errorStatus(err error) (int, string) {
	var (
		unconfErr *workflow.UnconfirmedError
		dupErr    *workflow.DuplicateProtectionError
		cfgErr    *registry.ConfigurationError
		ledgerErr *registry.LedgerError
		walletErr *wallet.WalletError
		svcErr    *client.ServiceError
		netErr    *client.NetworkError
	)

	switch {
	case errors.As(err, &unconfErr):
		return http.StatusAccepted, "UNCONFIRMED"
	case errors.As(err, &dupErr):
		return http.StatusConflict, "ALREADY_PROTECTED"
	case errors.Is(err, workflow.ErrInProgress):
		return http.StatusConflict, "IN_PROGRESS"
	case errors.Is(err, workflow.ErrNotEligible):
		return http.StatusConflict, "NOT_ELIGIBLE"
	case errors.Is(err, workflow.ErrOwnerRequired),
		errors.Is(err, workflow.ErrNoFile),
		errors.Is(err, workflow.ErrEmptyFile):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.As(err, &cfgErr):
		return http.StatusServiceUnavailable, "REGISTRY_NOT_CONFIGURED"
	case errors.As(err, &ledgerErr):
		return http.StatusConflict, "LEDGER_REJECTED"
	case errors.As(err, &walletErr):
		switch walletErr.Kind {
		case wallet.KindRejected:
			return http.StatusBadRequest, "WALLET_REJECTED"
		case wallet.KindNotConnected:
			return http.StatusBadRequest, "WALLET_NOT_CONNECTED"
		case wallet.KindNoProvider:
			return http.StatusServiceUnavailable, "WALLET_UNAVAILABLE"
		default:
			return http.StatusBadGateway, "WALLET_ERROR"
		}
	case errors.Is(err, wallet.ErrConnecting):
		return http.StatusConflict, "IN_PROGRESS"
	case errors.Is(err, wallet.ErrConnectAborted):
		return http.StatusConflict, "WALLET_DISCONNECTED"
	case errors.As(err, &svcErr):
		return http.StatusBadGateway, "SERVICE_ERROR"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.As(err, &netErr):
		return http.StatusBadGateway, "SERVICE_UNREACHABLE"
	case errors.Is(err, workflow.ErrClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (s *Server) writeWorkflowError(w http.ResponseWriter, err error, st any) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("workflow failed", "error", err)
	}
	writeErrorWithStatus(w, status, code, workflow.UserMessage(err), st)
}
