// Package registry anchors ownership commitments on the registry contract:
// it resolves the contract configuration, submits registrations through the
// wallet and tracks them until mined.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/pngprotect/internal/wallet"
	"github.com/pendergraft/pngprotect/pkg/client"
)

// DefaultABI is used when the service does not return an interface description
const DefaultABI = `[
  {"inputs":[{"internalType":"bytes32","name":"uuidHash","type":"bytes32"}],"name":"register","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"bytes32","name":"uuidHash","type":"bytes32"}],"name":"getOwner","outputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"uint256","name":"timestamp","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"uuidHash","type":"bytes32"},{"indexed":true,"internalType":"address","name":"owner","type":"address"},{"indexed":false,"internalType":"uint256","name":"timestamp","type":"uint256"}],"name":"Registered","type":"event"}
]`

const (
	methodRegister = "register"
	methodGetOwner = "getOwner"
)

// ConfigSource provides the registry configuration, normally the processing service
type ConfigSource interface {
	RegistryConfig(ctx context.Context) (*client.RegistryConfig, error)
}

// Chain is the read side of the ledger. *ethclient.Client satisfies it.
type Chain interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Sender signs and sends transactions. *wallet.Session satisfies it.
type Sender interface {
	SendTransaction(ctx context.Context, tx wallet.TxRequest) (common.Hash, error)
}

// Config is the resolved registry contract
type Config struct {
	ContractAddress common.Address
	ABI             abi.ABI
}

// TxStatus is the lifecycle of a registration transaction
type TxStatus int

const (
	TxPending TxStatus = iota
	TxConfirmed
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	default:
		return "pending"
	}
}

// MarshalText renders the status name
func (s TxStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transaction tracks a submitted registration
type Transaction struct {
	Hash        common.Hash `json:"hash"`
	Status      TxStatus    `json:"status"`
	BlockNumber uint64      `json:"blockNumber,omitempty"`
}

// Ownership is a registry record
type Ownership struct {
	Owner        common.Address
	RegisteredAt time.Time
}

// Client talks to the registry contract
type Client struct {
	source       ConfigSource
	chain        Chain
	sender       Sender
	logger       *slog.Logger
	pollInterval time.Duration

	mu     sync.Mutex
	config *Config
}

// Option configures a Client
type Option func(*Client)

// WithPollInterval sets how often receipts are polled
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// New creates a registry client
func New(source ConfigSource, chain Chain, sender Sender, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		source:       source,
		chain:        chain,
		sender:       sender,
		logger:       logger,
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Digest is the on-chain identifier of a watermark token. Only this one-way
// commitment is stored on the ledger, never the token itself.
func Digest(token string) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(token))
}

// Config returns the registry configuration, fetching it on first use.
// A configuration without a contract address is not cached so that a later
// deployment is picked up.
func (c *Client) Config(ctx context.Context) (*Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config != nil {
		return c.config, nil
	}

	raw, err := c.source.RegistryConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching registry config: %w", err)
	}

	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}

	c.config = cfg
	c.logger.Debug("registry config loaded", "contract", cfg.ContractAddress.Hex())
	return cfg, nil
}

func parseConfig(raw *client.RegistryConfig) (*Config, error) {
	addr := strings.TrimSpace(raw.ContractAddress)
	if addr == "" {
		return nil, &ConfigurationError{Reason: "the service has no registry contract address"}
	}
	if !common.IsHexAddress(addr) {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid registry contract address %q", addr)}
	}

	abiJSON := []byte(DefaultABI)
	if len(raw.ABI) > 0 {
		abiJSON = raw.ABI
	}
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid registry interface: %v", err)}
	}
	if _, ok := parsed.Methods[methodRegister]; !ok {
		return nil, &ConfigurationError{Reason: "registry interface has no register method"}
	}

	return &Config{ContractAddress: common.HexToAddress(addr), ABI: parsed}, nil
}

// Submit sends a registration of digest from the given account. The call is
// simulated first so contract rejections surface as LedgerErrors without a
// wallet prompt.
func (c *Client) Submit(ctx context.Context, from common.Address, digest common.Hash) (common.Hash, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := cfg.ABI.Pack(methodRegister, [32]byte(digest))
	if err != nil {
		return common.Hash{}, fmt.Errorf("encoding register call: %w", err)
	}

	to := cfg.ContractAddress
	if c.chain != nil {
		_, err := c.chain.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil)
		if ledgerErr, ok := asRevert(err); ok {
			return common.Hash{}, ledgerErr
		}
		if err != nil {
			return common.Hash{}, fmt.Errorf("simulating registration: %w", err)
		}
	}

	hash, err := c.sender.SendTransaction(ctx, wallet.TxRequest{From: from, To: to, Data: data})
	if ledgerErr, ok := asRevert(err); ok {
		return common.Hash{}, ledgerErr
	}
	if err != nil {
		return common.Hash{}, err
	}

	c.logger.Info("registration submitted", "tx", hash.Hex(), "digest", digest.Hex())
	return hash, nil
}

// WaitMined polls for the receipt of hash until it is mined or ctx ends
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*Transaction, error) {
	if c.chain == nil {
		return nil, errors.New("no chain connection to track transactions")
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.chain.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt == nil:
			// Same as not mined yet.
		case err == nil:
			tx := &Transaction{Hash: hash, Status: TxConfirmed}
			if receipt.BlockNumber != nil {
				tx.BlockNumber = receipt.BlockNumber.Uint64()
			}
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				tx.Status = TxFailed
				return tx, &LedgerError{Reason: "transaction reverted"}
			}
			return tx, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Debug("polling receipt", "tx", hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Owner looks up the registry record of digest. ok is false when the digest
// is not registered.
func (c *Client) Owner(ctx context.Context, digest common.Hash) (own Ownership, ok bool, err error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return Ownership{}, false, err
	}
	if _, found := cfg.ABI.Methods[methodGetOwner]; !found {
		return Ownership{}, false, &ConfigurationError{Reason: "registry interface has no getOwner method"}
	}
	if c.chain == nil {
		return Ownership{}, false, errors.New("no chain connection to query the registry")
	}

	data, err := cfg.ABI.Pack(methodGetOwner, [32]byte(digest))
	if err != nil {
		return Ownership{}, false, fmt.Errorf("encoding getOwner call: %w", err)
	}

	to := cfg.ContractAddress
	out, err := c.chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return Ownership{}, false, fmt.Errorf("querying registry: %w", err)
	}

	values, err := cfg.ABI.Unpack(methodGetOwner, out)
	if err != nil {
		return Ownership{}, false, fmt.Errorf("decoding getOwner result: %w", err)
	}
	if len(values) != 2 {
		return Ownership{}, false, fmt.Errorf("decoding getOwner result: got %d values", len(values))
	}

	owner, _ := values[0].(common.Address)
	ts, _ := values[1].(*big.Int)
	if owner == (common.Address{}) {
		return Ownership{}, false, nil
	}

	own = Ownership{Owner: owner}
	if ts != nil {
		own.RegisteredAt = time.Unix(ts.Int64(), 0).UTC()
	}
	return own, true, nil
}
