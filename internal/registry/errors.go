package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ConfigurationError means the registry is not deployed or not configured
// on the service side. Retrying does not help until an operator fixes it.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "registry not configured: " + e.Reason
}

// LedgerError is a contract-level rejection, such as registering a digest twice
type LedgerError struct {
	Reason string
	Err    error
}

func (e *LedgerError) Error() string {
	if e.Reason == "" {
		return "registry contract rejected the transaction"
	}
	return fmt.Sprintf("registry contract rejected the transaction: %s", e.Reason)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// asRevert recognizes execution reverts reported by a node or wallet.
func asRevert(err error) (*LedgerError, bool) {
	if err == nil {
		return nil, false
	}

	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return ledgerErr, true
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				reason, unpackErr := abi.UnpackRevert(data)
				if unpackErr != nil {
					reason = ""
				}
				return &LedgerError{Reason: reason, Err: err}, true
			}
		}
	}

	msg := err.Error()
	if i := strings.Index(strings.ToLower(msg), "revert"); i >= 0 {
		reason := strings.TrimSpace(msg[i+len("revert"):])
		reason = strings.TrimSpace(strings.TrimPrefix(reason, "ed"))
		reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
		return &LedgerError{Reason: reason, Err: err}, true
	}
	return nil, false
}
