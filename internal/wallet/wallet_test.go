package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type rejectedError struct{}

func (rejectedError) Error() string  { return "User rejected the request." }
func (rejectedError) ErrorCode() int { return CodeUserRejected }

// fakeEth is served as the "eth" namespace of an in-process RPC server.
type fakeEth struct {
	mu       sync.Mutex
	accounts []common.Address
	chainID  int64
	reject   bool
	sent     []map[string]any
}

func (f *fakeEth) RequestAccounts() ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return nil, rejectedError{}
	}
	return f.accounts, nil
}

func (f *fakeEth) Accounts() ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts, nil
}

func (f *fakeEth) ChainId() (*hexutil.Big, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*hexutil.Big)(big.NewInt(f.chainID)), nil
}

func (f *fakeEth) SendTransaction(args map[string]any) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return common.Hash{}, rejectedError{}
	}
	f.sent = append(f.sent, args)
	return common.HexToHash("0xabc"), nil
}

func (f *fakeEth) set(accounts []common.Address, chainID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = accounts
	f.chainID = chainID
}

// legacyEth has no eth_requestAccounts.
type legacyEth struct{}

func (legacyEth) Accounts() ([]common.Address, error) { return []common.Address{bob}, nil }

func newProvider(t *testing.T, service any) *RPCProvider {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", service))
	c := rpc.DialInProc(server)
	t.Cleanup(func() {
		c.Close()
		server.Stop()
	})
	return NewRPCProvider(c)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSession_StartsDisconnected(t *testing.T) {
	s := NewSession(newProvider(t, &fakeEth{accounts: []common.Address{alice}}), 0, testLogger())
	snap := s.Snapshot()
	assert.Equal(t, Disconnected, snap.State)
	assert.Nil(t, snap.Account)
}

func TestSession_Connect(t *testing.T) {
	s := NewSession(newProvider(t, &fakeEth{accounts: []common.Address{alice, bob}, chainID: 137}), 0, testLogger())

	snap, err := s.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Connected())
	assert.Equal(t, alice, *snap.Account)
	assert.Equal(t, int64(137), snap.ChainID.Int64())

	// Connecting again is a no-op
	again, err := s.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap, again)
}

func TestSession_ConnectRejected(t *testing.T) {
	s := NewSession(newProvider(t, &fakeEth{accounts: []common.Address{alice}, reject: true}), 0, testLogger())

	snap, err := s.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Equal(t, Disconnected, snap.State)

	var wErr *WalletError
	require.True(t, errors.As(err, &wErr))
	assert.Equal(t, CodeUserRejected, wErr.Code)
}

func TestSession_ConnectNoProvider(t *testing.T) {
	s := NewSession(nil, 0, testLogger())

	_, err := s.Connect(context.Background())
	var wErr *WalletError
	require.True(t, errors.As(err, &wErr))
	assert.Equal(t, KindNoProvider, wErr.Kind)
}

func TestSession_ConnectNoAccounts(t *testing.T) {
	s := NewSession(newProvider(t, &fakeEth{}), 0, testLogger())

	snap, err := s.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, IsRejected(err))
	assert.Equal(t, Disconnected, snap.State)
}

func TestRPCProvider_FallsBackToAccounts(t *testing.T) {
	p := newProvider(t, legacyEth{})

	accounts, err := p.RequestAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{bob}, accounts)
}

func TestSession_AccountsChanged(t *testing.T) {
	s := NewSession(newProvider(t, &fakeEth{accounts: []common.Address{alice}}), 0, testLogger())
	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	var got []Snapshot
	unsubscribe := s.OnAccountsChanged(func(snap Snapshot) { got = append(got, snap) })

	s.HandleAccountsChanged([]common.Address{alice}) // unchanged, no event
	s.HandleAccountsChanged([]common.Address{bob})
	require.Len(t, got, 1)
	assert.Equal(t, bob, *got[0].Account)
	assert.Equal(t, bob, *s.Snapshot().Account)

	s.HandleAccountsChanged(nil)
	require.Len(t, got, 2)
	assert.Equal(t, Disconnected, got[1].State)
	assert.Nil(t, got[1].Account)

	unsubscribe()
	_, err = s.Connect(context.Background())
	require.NoError(t, err)
	s.HandleAccountsChanged([]common.Address{bob})
	assert.Len(t, got, 2)
}

func TestSession_IgnoresNotificationsWhileDisconnected(t *testing.T) {
	s := NewSession(newProvider(t, &fakeEth{accounts: []common.Address{alice}}), 0, testLogger())

	called := false
	s.OnAccountsChanged(func(Snapshot) { called = true })
	s.OnChainChanged(func(Snapshot) { called = true })

	s.HandleAccountsChanged([]common.Address{bob})
	s.HandleChainChanged(big.NewInt(5))
	assert.False(t, called)
	assert.Equal(t, Disconnected, s.Snapshot().State)
}

func TestSession_ChainChanged(t *testing.T) {
	s := NewSession(newProvider(t, &fakeEth{accounts: []common.Address{alice}, chainID: 1}), 0, testLogger())
	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	var got *big.Int
	s.OnChainChanged(func(snap Snapshot) { got = snap.ChainID })

	s.HandleChainChanged(big.NewInt(1))
	assert.Nil(t, got)

	s.HandleChainChanged(big.NewInt(80002))
	require.NotNil(t, got)
	assert.Equal(t, int64(80002), got.Int64())
	assert.Equal(t, Connected, s.Snapshot().State)
}

func TestSession_WatchPollsProvider(t *testing.T) {
	eth := &fakeEth{accounts: []common.Address{alice}, chainID: 1}
	s := NewSession(newProvider(t, eth), 10*time.Millisecond, testLogger())
	defer s.Close()

	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	eth.set([]common.Address{bob}, 5)
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Account != nil && *snap.Account == bob && snap.ChainID != nil && snap.ChainID.Int64() == 5
	}, 2*time.Second, 10*time.Millisecond)

	eth.set(nil, 5)
	require.Eventually(t, func() bool {
		return s.Snapshot().State == Disconnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_SendTransaction(t *testing.T) {
	eth := &fakeEth{accounts: []common.Address{alice}}
	s := NewSession(newProvider(t, eth), 0, testLogger())

	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	_, err := s.SendTransaction(context.Background(), TxRequest{To: to, Data: []byte{1, 2}})
	var wErr *WalletError
	require.True(t, errors.As(err, &wErr))
	assert.Equal(t, KindNotConnected, wErr.Kind)

	_, err = s.Connect(context.Background())
	require.NoError(t, err)

	hash, err := s.SendTransaction(context.Background(), TxRequest{To: to, Data: []byte{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xabc"), hash)

	require.Len(t, eth.sent, 1)
	assert.Equal(t, "0x0102", eth.sent[0]["data"])
	assert.Equal(t, to.Hex(), common.HexToAddress(eth.sent[0]["to"].(string)).Hex())
	assert.Equal(t, alice, common.HexToAddress(eth.sent[0]["from"].(string)))
}
