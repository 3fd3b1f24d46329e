// Package wallet tracks the connection to a wallet provider and relays
// account and chain changes to subscribers.
package wallet

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrConnecting is returned when a connect is already in flight
	ErrConnecting = errors.New("wallet connection already in progress")
	// ErrConnectAborted is returned when Disconnect wins over an in-flight Connect
	ErrConnectAborted = errors.New("wallet disconnected while connecting")
)

// State is the session connection state
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText renders the state name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is an immutable copy of the session state
type Snapshot struct {
	State   State           `json:"state"`
	Account *common.Address `json:"account,omitempty"`
	ChainID *big.Int        `json:"chainId,omitempty"`
}

// Connected reports whether the snapshot has a usable account
func (s Snapshot) Connected() bool {
	return s.State == Connected && s.Account != nil
}

// Handler receives the session state after a change
type Handler func(Snapshot)

// Session is a wallet connection. It always starts disconnected.
type Session struct {
	provider     Provider
	logger       *slog.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	state   State
	account *common.Address
	chainID *big.Int

	nextID          int
	accountHandlers map[int]Handler
	chainHandlers   map[int]Handler

	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// NewSession creates a session. provider may be nil when no wallet is
// available; Connect then fails with KindNoProvider. A positive pollInterval
// watches the provider for account and chain changes while connected.
func NewSession(provider Provider, pollInterval time.Duration, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		provider:        provider,
		logger:          logger,
		pollInterval:    pollInterval,
		accountHandlers: make(map[int]Handler),
		chainHandlers:   make(map[int]Handler),
	}
}

// Snapshot returns the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state}
	if s.account != nil {
		a := *s.account
		snap.Account = &a
	}
	if s.chainID != nil {
		snap.ChainID = new(big.Int).Set(s.chainID)
	}
	return snap
}

// Connect requests account access from the provider. A rejection returns the
// session to Disconnected.
func (s *Session) Connect(ctx context.Context) (Snapshot, error) {
	if s.provider == nil {
		return s.Snapshot(), &WalletError{Kind: KindNoProvider}
	}

	s.mu.Lock()
	switch s.state {
	case Connecting:
		s.mu.Unlock()
		return s.Snapshot(), ErrConnecting
	case Connected:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	s.state = Connecting
	s.mu.Unlock()

	accounts, err := s.provider.RequestAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = &WalletError{Kind: KindFailed, Err: errors.New("provider returned no accounts")}
	}
	if err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		s.logger.Info("wallet connect failed", "error", err)
		return s.Snapshot(), err
	}

	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		s.logger.Warn("reading wallet chain id", "error", err)
	}

	s.mu.Lock()
	if s.state != Connecting {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrConnectAborted
	}
	account := accounts[0]
	s.state = Connected
	s.account = &account
	s.chainID = chainID
	s.startWatchLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("wallet connected", "account", account.Hex(), "chainId", chainID)
	return snap, nil
}

// Disconnect forgets the account. Subscriptions stay registered.
func (s *Session) Disconnect() Snapshot {
	s.mu.Lock()
	s.state = Disconnected
	s.account = nil
	s.chainID = nil
	cancel, done := s.stopWatch, s.watchDone
	s.stopWatch, s.watchDone = nil, nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return snap
}

// Close stops the watcher and disconnects
func (s *Session) Close() {
	s.Disconnect()
}

// OnAccountsChanged registers h for account changes and returns a function
// removing it.
func (s *Session) OnAccountsChanged(h Handler) func() {
	return s.subscribe(s.accountHandlers, h)
}

// OnChainChanged registers h for chain changes and returns a function removing it.
func (s *Session) OnChainChanged(h Handler) func() {
	return s.subscribe(s.chainHandlers, h)
}

func (s *Session) subscribe(handlers map[int]Handler, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	handlers[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(handlers, id)
	}
}

// HandleAccountsChanged applies an accounts-changed notification. An empty
// list disconnects the session.
func (s *Session) HandleAccountsChanged(accounts []common.Address) {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}

	if len(accounts) == 0 {
		s.state = Disconnected
		s.account = nil
		s.chainID = nil
		if s.stopWatch != nil {
			// The watcher exits on its own; it may be the caller.
			s.stopWatch()
			s.stopWatch, s.watchDone = nil, nil
		}
		s.logger.Info("wallet disconnected by provider")
	} else {
		if s.account != nil && *s.account == accounts[0] {
			s.mu.Unlock()
			return
		}
		account := accounts[0]
		s.account = &account
		s.logger.Info("wallet account changed", "account", account.Hex())
	}

	snap := s.snapshotLocked()
	handlers := collect(s.accountHandlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(snap)
	}
}

// HandleChainChanged records a chain-changed notification
func (s *Session) HandleChainChanged(chainID *big.Int) {
	s.mu.Lock()
	if s.state != Connected || chainID == nil || (s.chainID != nil && s.chainID.Cmp(chainID) == 0) {
		s.mu.Unlock()
		return
	}
	s.chainID = new(big.Int).Set(chainID)
	snap := s.snapshotLocked()
	handlers := collect(s.chainHandlers)
	s.mu.Unlock()

	s.logger.Info("wallet chain changed", "chainId", chainID)
	for _, h := range handlers {
		h(snap)
	}
}

// SendTransaction sends tx from the connected account
func (s *Session) SendTransaction(ctx context.Context, tx TxRequest) (common.Hash, error) {
	snap := s.Snapshot()
	if !snap.Connected() {
		return common.Hash{}, &WalletError{Kind: KindNotConnected}
	}
	tx.From = *snap.Account
	return s.provider.SendTransaction(ctx, tx)
}

func (s *Session) startWatchLocked() {
	if s.pollInterval <= 0 || s.stopWatch != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopWatch, s.watchDone = cancel, done
	go s.watch(ctx, done)
}

// watch polls the provider; JSON-RPC wallets have no push channel for
// account and chain changes.
func (s *Session) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		accounts, err := s.provider.Accounts(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("polling wallet accounts", "error", err)
			}
			continue
		}
		s.HandleAccountsChanged(accounts)
		if ctx.Err() != nil {
			return
		}

		if chainID, err := s.provider.ChainID(ctx); err == nil {
			s.HandleChainChanged(chainID)
		}
	}
}

func collect(handlers map[int]Handler) []Handler {
	out := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h)
	}
	return out
}
