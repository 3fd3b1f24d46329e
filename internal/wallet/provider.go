package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// JSON-RPC error codes used by wallet providers (EIP-1193 and JSON-RPC 2.0)
const (
	CodeUserRejected   = 4001
	CodeUnauthorized   = 4100
	CodeMethodNotFound = -32601
)

// TxRequest is a transaction for the provider to sign and send
type TxRequest struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64 // 0 lets the provider estimate
}

// Provider is the wallet provider boundary
type Provider interface {
	// RequestAccounts asks for account access and may prompt the user.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts returns the currently exposed accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx TxRequest) (common.Hash, error)
}

// RPCProvider talks to a wallet over Ethereum JSON-RPC
type RPCProvider struct {
	client *rpc.Client
}

// Dial connects to a wallet JSON-RPC endpoint
func Dial(ctx context.Context, rawURL string) (*RPCProvider, error) {
	c, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, &WalletError{Kind: KindNoProvider, Err: err}
	}
	return &RPCProvider{client: c}, nil
}

// NewRPCProvider wraps an existing RPC client
func NewRPCProvider(c *rpc.Client) *RPCProvider {
	return &RPCProvider{client: c}
}

// Client returns the underlying RPC client
func (p *RPCProvider) Client() *rpc.Client {
	return p.client
}

// Close releases the connection
func (p *RPCProvider) Close() {
	p.client.Close()
}

// RequestAccounts calls eth_requestAccounts, falling back to eth_accounts for
// nodes that do not implement the EIP-1102 method.
func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := p.client.CallContext(ctx, &accounts, "eth_requestAccounts")
	if err == nil {
		return accounts, nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == CodeMethodNotFound {
		return p.Accounts(ctx)
	}
	return nil, classify(err)
}

func (p *RPCProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, classify(err)
	}
	return accounts, nil
}

func (p *RPCProvider) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := p.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, classify(err)
	}
	return (*big.Int)(&id), nil
}

func (p *RPCProvider) SendTransaction(ctx context.Context, tx TxRequest) (common.Hash, error) {
	args := map[string]any{
		"from": tx.From,
		"to":   tx.To,
		"data": hexutil.Bytes(tx.Data),
	}
	if tx.Value != nil {
		args["value"] = (*hexutil.Big)(tx.Value)
	}
	if tx.Gas > 0 {
		args["gas"] = hexutil.Uint64(tx.Gas)
	}

	var hash common.Hash
	if err := p.client.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, classify(err)
	}
	return hash, nil
}

// classify turns provider errors into WalletErrors. User rejection is
// reported with code 4001 by compliant wallets; some only say so in the message.
func classify(err error) error {
	var rpcErr rpc.Error
	code := 0
	if errors.As(err, &rpcErr) {
		code = rpcErr.ErrorCode()
	}

	msg := strings.ToLower(err.Error())
	switch {
	case code == CodeUserRejected, strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return &WalletError{Kind: KindRejected, Code: CodeUserRejected, Err: err}
	default:
		return &WalletError{Kind: KindFailed, Code: code, Err: err}
	}
}

// Kind classifies wallet failures
type Kind int

const (
	KindFailed Kind = iota
	KindNoProvider
	KindRejected
	KindNotConnected
)

// WalletError is a wallet provider failure
type WalletError struct {
	Kind Kind
	Code int
	Err  error
}

func (e *WalletError) Error() string {
	switch e.Kind {
	case KindNoProvider:
		if e.Err != nil {
			return fmt.Sprintf("no wallet provider available: %v", e.Err)
		}
		return "no wallet provider available"
	case KindRejected:
		return "request rejected in wallet"
	case KindNotConnected:
		return "wallet not connected"
	default:
		return fmt.Sprintf("wallet request failed: %v", e.Err)
	}
}

func (e *WalletError) Unwrap() error { return e.Err }

// IsRejected reports whether err is a user rejection
func IsRejected(err error) bool {
	var wErr *WalletError
	return errors.As(err, &wErr) && wErr.Kind == KindRejected
}
