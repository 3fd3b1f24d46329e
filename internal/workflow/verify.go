package workflow

import (
	"context"

	"github.com/pendergraft/pngprotect/internal/observability/metrics"
	"github.com/pendergraft/pngprotect/pkg/client"
)

// VerifyState is a state of the verify workflow
type VerifyState int

const (
	VerifyIdle VerifyState = iota
	VerifyFileSelected
	Verifying
	VerifyFound
	VerifyNotFound
	VerifyFailed
)

var verifyStateNames = map[VerifyState]string{
	VerifyIdle:         "idle",
	VerifyFileSelected: "file_selected",
	Verifying:          "verifying",
	VerifyFound:        "found",
	VerifyNotFound:     "not_found",
	VerifyFailed:       "failed",
}

func (s VerifyState) String() string { return verifyStateNames[s] }

func (s VerifyState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// VerifyResult is the outcome of the latest completed verification. It is the
// only input the register workflow takes from verification.
type VerifyResult struct {
	Found          bool    `json:"found"`
	OwnerID        *string `json:"ownerId"`
	ExtractedToken *string `json:"extractedToken"`
	Confidence     float64 `json:"confidence"`
	MatchRatio     float64 `json:"matchRatio"`
	TamperStatus   string  `json:"tamperStatus,omitempty"`
}

// VerifyStatus is a snapshot of the verify workflow
type VerifyStatus struct {
	State    VerifyState   `json:"state"`
	FileName string        `json:"fileName,omitempty"`
	Result   *VerifyResult `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type verifyState struct {
	state  VerifyState
	file   *File
	result *VerifyResult
	err    string
}

func (v *verifyState) status() VerifyStatus {
	st := VerifyStatus{State: v.state, Error: v.err}
	if v.file != nil {
		st.FileName = v.file.Name
	}
	if v.result != nil {
		r := *v.result
		st.Result = &r
	}
	return st
}

// SelectVerifyFile selects the file to verify. The previous result stays in
// effect until the next verification completes.
func (o *Orchestrator) SelectVerifyFile(name string, data []byte) (VerifyStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.selectVerifyLocked(name, data); err != nil {
		return o.verify.status(), err
	}
	return o.verify.status(), nil
}

func (o *Orchestrator) selectVerifyLocked(name string, data []byte) error {
	if o.closed {
		return ErrClosed
	}
	if o.verify.state == Verifying {
		return ErrInProgress
	}

	f, err := copyFile(name, data)
	if err != nil {
		return err
	}
	o.verify.state = VerifyFileSelected
	o.verify.file = f
	o.verify.err = ""
	return nil
}

// VerifyStatus returns the verify workflow state
func (o *Orchestrator) VerifyStatus() VerifyStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.verify.status()
}

// LatestVerifyResult returns the result register would use, or nil
func (o *Orchestrator) LatestVerifyResult() *VerifyResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.verify.result == nil {
		return nil
	}
	r := *o.verify.result
	return &r
}

// Verify checks the selected file for an ownership mark. Network failures are
// retried per the retry policy. Any outcome replaces the previous result.
func (o *Orchestrator) Verify(ctx context.Context) (VerifyStatus, error) {
	o.mu.Lock()
	file, err := o.beginVerifyLocked()
	st := o.verify.status()
	o.mu.Unlock()
	if err != nil {
		return st, err
	}
	return o.runVerify(ctx, file)
}

// VerifyFile selects a file and verifies it without letting another
// selection in between.
func (o *Orchestrator) VerifyFile(ctx context.Context, name string, data []byte) (VerifyStatus, error) {
	o.mu.Lock()
	if err := o.selectVerifyLocked(name, data); err != nil {
		st := o.verify.status()
		o.mu.Unlock()
		return st, err
	}
	file, err := o.beginVerifyLocked()
	st := o.verify.status()
	o.mu.Unlock()
	if err != nil {
		return st, err
	}
	return o.runVerify(ctx, file)
}

func (o *Orchestrator) beginVerifyLocked() (*File, error) {
	if o.closed {
		return nil, ErrClosed
	}
	if o.verify.state == Verifying {
		return nil, ErrInProgress
	}
	if o.verify.file == nil {
		return nil, ErrNoFile
	}
	o.verify.state = Verifying
	o.verify.err = ""
	return o.verify.file, nil
}

func (o *Orchestrator) runVerify(ctx context.Context, file *File) (VerifyStatus, error) {
	var res *client.VerifyResult
	err := o.withRetry(ctx, "verify", func() error {
		var err error
		res, err = o.service.Verify(ctx, client.Upload{Name: file.Name, Data: file.Data})
		return err
	})

	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case err != nil:
		o.verify.state = VerifyFailed
		o.verify.result = nil
		o.verify.err = UserMessage(err)
		metrics.RecordVerify("failed")
	case res.Found:
		o.verify.state = VerifyFound
		o.verify.result = &VerifyResult{
			Found:          true,
			OwnerID:        strPtr(res.OwnerID),
			ExtractedToken: res.ExtractedText,
			Confidence:     res.Confidence,
			MatchRatio:     res.MatchRatio,
			TamperStatus:   res.TamperStatus,
		}
		metrics.RecordVerify("found")
	default:
		o.verify.state = VerifyNotFound
		o.verify.result = &VerifyResult{Found: false, Confidence: res.Confidence, MatchRatio: res.MatchRatio}
		metrics.RecordVerify("not_found")
	}

	o.reevaluateRegisterLocked()
	return o.verify.status(), err
}
