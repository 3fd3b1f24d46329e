package workflow

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/pngprotect/internal/observability/metrics"
	"github.com/pendergraft/pngprotect/internal/registry"
	"github.com/pendergraft/pngprotect/internal/wallet"
)

// RegisterState is a state of the register workflow
type RegisterState int

const (
	RegisterIneligible RegisterState = iota
	RegisterReady
	RegisterPreparing
	RegisterSubmitted
	RegisterConfirmed
	RegisterFailed
	// RegisterUnconfirmed means the transaction was submitted but the caller
	// stopped waiting before it was mined. Registering again with the same
	// inputs resumes waiting on the same transaction.
	RegisterUnconfirmed
)

var registerStateNames = map[RegisterState]string{
	RegisterIneligible:  "ineligible",
	RegisterReady:       "ready",
	RegisterPreparing:   "preparing",
	RegisterSubmitted:   "submitted",
	RegisterConfirmed:   "confirmed",
	RegisterFailed:      "failed",
	RegisterUnconfirmed: "unconfirmed",
}

func (s RegisterState) String() string { return registerStateNames[s] }

func (s RegisterState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// InFlight reports whether a registration is running
func (s RegisterState) InFlight() bool {
	return s == RegisterPreparing || s == RegisterSubmitted
}

// RegisterStatus is a snapshot of the register workflow
type RegisterStatus struct {
	State   RegisterState         `json:"state"`
	Account *common.Address       `json:"account,omitempty"`
	Digest  *common.Hash          `json:"digest,omitempty"`
	Tx      *registry.Transaction `json:"transaction,omitempty"`
	Error   string                `json:"error,omitempty"`
	// ConfigError is set when registration failed because the registry
	// is not configured, as opposed to a transient failure.
	ConfigError bool `json:"configError,omitempty"`
}

type registerState struct {
	state       RegisterState
	account     *common.Address
	token       string
	digest      *common.Hash
	tx          *registry.Transaction
	err         string
	configError bool
}

func (r *registerState) status() RegisterStatus {
	st := RegisterStatus{State: r.state, Error: r.err, ConfigError: r.configError}
	if r.account != nil {
		a := *r.account
		st.Account = &a
	}
	if r.digest != nil {
		d := *r.digest
		st.Digest = &d
	}
	if r.tx != nil {
		tx := *r.tx
		st.Tx = &tx
	}
	return st
}

// RegisterStatus returns the register workflow state
func (o *Orchestrator) RegisterStatus() RegisterStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.register.status()
}

// eligibleLocked returns the account and token register would use, if the
// wallet is connected and the latest verification found a token.
func (o *Orchestrator) eligibleLocked() (common.Address, string, bool) {
	snap := o.wallet.Snapshot()
	res := o.verify.result
	if !snap.Connected() || res == nil || !res.Found || res.ExtractedToken == nil {
		return common.Address{}, "", false
	}
	return *snap.Account, *res.ExtractedToken, true
}

// reevaluateRegisterLocked moves register between Ineligible and Ready. A
// running registration keeps the inputs it started with. A finished one
// stays visible until its account or token changes.
func (o *Orchestrator) reevaluateRegisterLocked() {
	r := &o.register
	if r.state.InFlight() {
		return
	}

	account, token, ok := o.eligibleLocked()
	switch r.state {
	case RegisterConfirmed, RegisterFailed, RegisterUnconfirmed:
		if ok && r.sameInputs(account, token) {
			return
		}
	}

	if ok {
		if r.state != RegisterReady {
			o.logger.Debug("registration ready")
		}
		o.register = registerState{state: RegisterReady}
		return
	}
	o.register = registerState{state: RegisterIneligible}
}

func (r *registerState) sameInputs(account common.Address, token string) bool {
	return r.account != nil && *r.account == account && r.token == token
}

// Register anchors a commitment to the latest verified token on the ledger
// and waits until the transaction is mined or ctx ends.
func (o *Orchestrator) Register(ctx context.Context) (RegisterStatus, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return RegisterStatus{}, ErrClosed
	}
	if o.register.state.InFlight() {
		st := o.register.status()
		o.mu.Unlock()
		return st, ErrInProgress
	}

	account, token, ok := o.eligibleLocked()
	if !ok {
		o.register = registerState{state: RegisterIneligible}
		st := o.register.status()
		o.mu.Unlock()
		return st, ErrNotEligible
	}

	if o.register.state == RegisterUnconfirmed && o.register.tx != nil && o.register.sameInputs(account, token) {
		hash := o.register.tx.Hash
		o.register.state = RegisterSubmitted
		o.register.err = ""
		o.mu.Unlock()
		o.logger.Info("resuming registration", "tx", hash.Hex())
		return o.awaitRegistration(ctx, hash)
	}

	o.register = registerState{state: RegisterPreparing, account: &account, token: token}
	o.mu.Unlock()

	// The registry configuration is resolved before anything is submitted.
	err := o.withRetry(ctx, "registry config", func() error {
		_, err := o.registry.Config(ctx)
		return err
	})
	if err != nil {
		return o.finishRegisterFailed(err)
	}

	digest := registry.Digest(token)
	o.mu.Lock()
	o.register.digest = &digest
	o.mu.Unlock()

	hash, err := o.registry.Submit(ctx, account, digest)
	if err != nil {
		return o.finishRegisterFailed(err)
	}

	o.mu.Lock()
	o.register.state = RegisterSubmitted
	o.register.tx = &registry.Transaction{Hash: hash, Status: registry.TxPending}
	o.mu.Unlock()

	return o.awaitRegistration(ctx, hash)
}

// awaitRegistration waits for a submitted transaction. If ctx ends first the
// transaction stays pending: it may still be mined.
func (o *Orchestrator) awaitRegistration(ctx context.Context, hash common.Hash) (RegisterStatus, error) {
	tx, err := o.registry.WaitMined(ctx, hash)
	if err != nil {
		var ledgerErr *registry.LedgerError
		if ctx.Err() != nil && !errors.As(err, &ledgerErr) {
			return o.finishRegisterUnconfirmed(hash, err)
		}

		o.mu.Lock()
		if tx != nil {
			o.register.tx = tx
		} else if errors.As(err, &ledgerErr) {
			o.register.tx.Status = registry.TxFailed
		}
		o.mu.Unlock()
		return o.finishRegisterFailed(err)
	}

	metrics.RecordRegister("confirmed")

	o.mu.Lock()
	defer o.mu.Unlock()
	o.register.state = RegisterConfirmed
	o.register.tx = tx
	o.register.err = ""
	o.logger.Info("registration confirmed", "tx", hash.Hex(), "block", tx.BlockNumber)
	st := o.register.status()
	o.reevaluateRegisterLocked()
	return st, nil
}

func (o *Orchestrator) finishRegisterUnconfirmed(hash common.Hash, err error) (RegisterStatus, error) {
	metrics.RecordRegister("unconfirmed")
	unconfirmed := &UnconfirmedError{Hash: hash, Err: err}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.register.state = RegisterUnconfirmed
	o.register.tx = &registry.Transaction{Hash: hash, Status: registry.TxPending}
	o.register.err = UserMessage(unconfirmed)
	o.logger.Warn("stopped waiting for registration", "tx", hash.Hex(), "error", err)
	st := o.register.status()
	o.reevaluateRegisterLocked()
	return st, unconfirmed
}

func (o *Orchestrator) finishRegisterFailed(err error) (RegisterStatus, error) {
	outcome := "failed"
	if registry.IsConfigurationError(err) {
		outcome = "not_configured"
	} else if wallet.IsRejected(err) {
		outcome = "rejected"
	}
	metrics.RecordRegister(outcome)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.register.state = RegisterFailed
	o.register.err = UserMessage(err)
	o.register.configError = registry.IsConfigurationError(err)
	st := o.register.status()
	o.reevaluateRegisterLocked()
	return st, err
}
