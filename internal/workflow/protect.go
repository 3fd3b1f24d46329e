package workflow

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pendergraft/pngprotect/internal/dedup"
	"github.com/pendergraft/pngprotect/internal/fingerprint"
	"github.com/pendergraft/pngprotect/internal/observability/metrics"
	"github.com/pendergraft/pngprotect/pkg/client"
)

// ProtectState is a state of the protect workflow
type ProtectState int

const (
	ProtectIdle ProtectState = iota
	ProtectFileSelected
	ProtectHashing
	ProtectDedupChecking
	ProtectProtecting
	ProtectProtected
	ProtectBlocked
	ProtectFailed
)

var protectStateNames = map[ProtectState]string{
	ProtectIdle:          "idle",
	ProtectFileSelected:  "file_selected",
	ProtectHashing:       "hashing",
	ProtectDedupChecking: "dedup_checking",
	ProtectProtecting:    "protecting",
	ProtectProtected:     "protected",
	ProtectBlocked:       "blocked",
	ProtectFailed:        "failed",
}

func (s ProtectState) String() string { return protectStateNames[s] }

func (s ProtectState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// InFlight reports whether a protect request is running
func (s ProtectState) InFlight() bool {
	return s == ProtectHashing || s == ProtectDedupChecking || s == ProtectProtecting
}

// ProtectStatus is a snapshot of the protect workflow
type ProtectStatus struct {
	State       ProtectState            `json:"state"`
	FileName    string                  `json:"fileName,omitempty"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	// ExistingOwner is set when Blocked.
	ExistingOwner string        `json:"existingOwner,omitempty"`
	Record        *dedup.Record `json:"record,omitempty"`
	// Artifact is the download handle of the protected image.
	Artifact string `json:"artifact,omitempty"`
	Error    string `json:"error,omitempty"`
}

type protectState struct {
	state         ProtectState
	file          *File
	fingerprint   fingerprint.Fingerprint
	existingOwner string
	record        *dedup.Record
	artifact      string
	err           string
}

func (p *protectState) status() ProtectStatus {
	st := ProtectStatus{
		State:         p.state,
		Fingerprint:   p.fingerprint,
		ExistingOwner: p.existingOwner,
		Artifact:      p.artifact,
		Error:         p.err,
	}
	if p.file != nil {
		st.FileName = p.file.Name
	}
	if p.record != nil {
		rec := *p.record
		st.Record = &rec
	}
	return st
}

// SelectProtectFile selects the file to protect, replacing any previous
// selection and result.
func (o *Orchestrator) SelectProtectFile(name string, data []byte) (ProtectStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.selectProtectLocked(name, data); err != nil {
		return o.protect.status(), err
	}
	return o.protect.status(), nil
}

func (o *Orchestrator) selectProtectLocked(name string, data []byte) error {
	if o.closed {
		return ErrClosed
	}
	if o.protect.state.InFlight() {
		return ErrInProgress
	}

	f, err := copyFile(name, data)
	if err != nil {
		return err
	}
	o.protect = protectState{state: ProtectFileSelected, file: f}
	return nil
}

// ProtectStatus returns the protect workflow state
func (o *Orchestrator) ProtectStatus() ProtectStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.protect.status()
}

// Protect runs the protect workflow on the selected file. strength is on the
// 1-100 user scale. A trigger while a request is in flight returns
// ErrInProgress and changes nothing.
func (o *Orchestrator) Protect(ctx context.Context, ownerID string, strength int) (ProtectStatus, error) {
	o.mu.Lock()
	file, err := o.beginProtectLocked(ownerID)
	st := o.protect.status()
	o.mu.Unlock()
	if err != nil {
		return st, err
	}
	return o.runProtect(ctx, file, strings.TrimSpace(ownerID), strength)
}

// ProtectFile selects a file and starts protecting it without letting another
// selection in between. Without an owner the file stays selected.
func (o *Orchestrator) ProtectFile(ctx context.Context, name string, data []byte, ownerID string, strength int) (ProtectStatus, error) {
	o.mu.Lock()
	if err := o.selectProtectLocked(name, data); err != nil {
		st := o.protect.status()
		o.mu.Unlock()
		return st, err
	}
	file, err := o.beginProtectLocked(ownerID)
	st := o.protect.status()
	o.mu.Unlock()
	if err != nil {
		return st, err
	}
	return o.runProtect(ctx, file, strings.TrimSpace(ownerID), strength)
}

// beginProtectLocked moves the selected file into Hashing and returns it.
func (o *Orchestrator) beginProtectLocked(ownerID string) (*File, error) {
	if o.closed {
		return nil, ErrClosed
	}
	if o.protect.state.InFlight() {
		return nil, ErrInProgress
	}
	if o.protect.file == nil {
		return nil, ErrNoFile
	}

	// Retrying after a failure or re-running a finished file starts over
	// from the selected file.
	o.protect = protectState{state: ProtectFileSelected, file: o.protect.file}

	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrOwnerRequired
	}

	o.protect.state = ProtectHashing
	return o.protect.file, nil
}

func (o *Orchestrator) runProtect(ctx context.Context, file *File, ownerID string, strength int) (ProtectStatus, error) {
	fp := o.hasher.Fingerprint(file.Data)

	o.mu.Lock()
	o.protect.fingerprint = fp
	o.protect.state = ProtectDedupChecking
	o.mu.Unlock()

	// The local check completes before any remote call.
	if rec, ok := o.dedup.Get(fp); ok {
		metrics.RecordProtect("blocked_local")
		return o.finishBlocked(rec.OwnerID, DuplicateLocal)
	}

	o.mu.Lock()
	o.protect.state = ProtectProtecting
	o.mu.Unlock()

	serviceStrength := QuantizeStrength(strength)
	artifact, err := o.service.Protect(ctx, client.ProtectRequest{
		File:     client.Upload{Name: file.Name, Data: file.Data},
		OwnerID:  ownerID,
		Strength: serviceStrength,
	})
	if err != nil {
		var svcErr *client.ServiceError
		if errors.As(err, &svcErr) && svcErr.Status == http.StatusConflict {
			return o.reconcileRemoteDuplicate(ctx, fp, svcErr, serviceStrength)
		}
		metrics.RecordProtect("failed")
		return o.finishProtectFailed(err)
	}

	ref, err := o.artifacts.Save(artifact.ContentType, artifact.Data)
	if err != nil {
		metrics.RecordProtect("failed")
		return o.finishProtectFailed(err)
	}

	rec := dedup.Record{
		OwnerID:         ownerID,
		Strength:        serviceStrength,
		CreatedAt:       o.now().UTC(),
		ResultReference: ref,
	}
	if err := o.dedup.Put(ctx, fp, rec); err != nil {
		// Another writer recorded the same content first; ours is still a
		// valid artifact.
		o.logger.Warn("recording protection", "fingerprint", fp.Short(), "error", err)
	}

	metrics.RecordProtect("protected")

	o.mu.Lock()
	defer o.mu.Unlock()
	o.protect.state = ProtectProtected
	o.protect.record = &rec
	o.protect.artifact = ref
	return o.protect.status(), nil
}

// reconcileRemoteDuplicate records a duplicate reported by the service so
// the next attempt is rejected locally.
func (o *Orchestrator) reconcileRemoteDuplicate(ctx context.Context, fp fingerprint.Fingerprint, svcErr *client.ServiceError, strength int) (ProtectStatus, error) {
	owner := svcErr.Field("owner_id")
	if owner == "" {
		owner = "Unknown"
	}

	if existing, ok := o.dedup.Get(fp); ok {
		owner = existing.OwnerID
	} else if err := o.dedup.Put(ctx, fp, dedup.Record{
		OwnerID:   owner,
		Strength:  strength,
		CreatedAt: o.now().UTC(),
	}); err != nil {
		o.logger.Warn("reconciling duplicate", "fingerprint", fp.Short(), "error", err)
	}

	o.logger.Info("service reports content already protected", "fingerprint", fp.Short(), "owner", owner)
	metrics.RecordProtect("blocked_remote")
	return o.finishBlocked(owner, DuplicateRemote)
}

func (o *Orchestrator) finishBlocked(owner string, source DuplicateSource) (ProtectStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.protect.state = ProtectBlocked
	o.protect.existingOwner = owner
	dupErr := &DuplicateProtectionError{OwnerID: owner, Source: source}
	o.protect.err = UserMessage(dupErr)
	return o.protect.status(), dupErr
}

func (o *Orchestrator) finishProtectFailed(err error) (ProtectStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.protect.state = ProtectFailed
	o.protect.err = UserMessage(err)
	return o.protect.status(), err
}
