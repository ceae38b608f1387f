// Package transform provides the Session orchestrator that sequences
// encoding, frame extraction and generative calls for one user at a time,
// together with the Attempt state machine it records progress in.
package transform

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/mediaforge/internal/media"
	"github.com/maauso/mediaforge/internal/transform/id"
)

// Phase represents the current stage of a transformation attempt.
type Phase string

const (
	// PhaseIdle indicates no attempt has started.
	PhaseIdle Phase = "IDLE"
	// PhaseValidating indicates inputs are being checked.
	PhaseValidating Phase = "VALIDATING"
	// PhaseEncoding indicates the media is being read, encoded or sampled.
	PhaseEncoding Phase = "ENCODING"
	// PhaseSubmitting indicates the request is being sent to the service.
	PhaseSubmitting Phase = "SUBMITTING"
	// PhasePolling indicates a video job is running on the service.
	PhasePolling Phase = "POLLING"
	// PhaseDone indicates the attempt produced a result.
	PhaseDone Phase = "DONE"
	// PhaseError indicates the attempt failed.
	PhaseError Phase = "ERROR"
)

// ErrInvalidTransition is returned when an invalid phase transition is attempted.
var ErrInvalidTransition = errors.New("invalid phase transition")

// validTransitions defines which phase transitions are allowed.
// Images go from Submitting straight to Done; videos pass through Polling.
var validTransitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseValidating},
	PhaseValidating: {PhaseEncoding, PhaseError},
	PhaseEncoding:   {PhaseSubmitting, PhaseError},
	PhaseSubmitting: {PhasePolling, PhaseDone, PhaseError},
	PhasePolling:    {PhasePolling, PhaseDone, PhaseError},
	PhaseDone:       {},
	PhaseError:      {},
}

// canTransition checks if a transition from one phase to another is valid.
func canTransition(from, to Phase) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// Attempt records one run of the transformation pipeline.
type Attempt struct {
	mu sync.RWMutex

	// ID is the unique identifier for this attempt.
	ID string
	// Phase is the current stage.
	Phase Phase
	// Kind is the media kind being transformed.
	Kind media.Kind
	// Polls counts the status calls made for a video job.
	Polls int
	// Error contains the user-facing message if the attempt failed.
	Error string
	// ErrorKind is the diagnostic classification of the failure.
	ErrorKind Kind
	// CreatedAt is when the attempt was created.
	CreatedAt time.Time
	// UpdatedAt is when the attempt was last updated.
	UpdatedAt time.Time
	// CompletedAt is when the attempt reached Done or Error.
	CompletedAt time.Time
}

// NewAttempt creates an Attempt with a generated ID in the Idle phase.
func NewAttempt() *Attempt {
	return NewAttemptWithID(id.Generate())
}

// NewAttemptWithID creates an Attempt with the specified ID in the Idle phase.
func NewAttemptWithID(attemptID string) *Attempt {
	now := time.Now()
	return &Attempt{
		ID:        attemptID,
		Phase:     PhaseIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the phase.
// Returns ErrInvalidTransition if the transition is not allowed.
func (a *Attempt) TransitionTo(phase Phase) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !canTransition(a.Phase, phase) {
		return ErrInvalidTransition
	}

	a.Phase = phase
	a.UpdatedAt = time.Now()
	if phase == PhaseDone || phase == PhaseError {
		a.CompletedAt = a.UpdatedAt
	}

	return nil
}

// Fail records err and transitions to Error.
func (a *Attempt) Fail(err error) error {
	a.mu.Lock()
	a.Error = UserMessage(err)
	a.ErrorKind = Classify(err)
	a.mu.Unlock()
	return a.TransitionTo(PhaseError)
}

// RecordPoll stores the number of status calls made so far.
func (a *Attempt) RecordPoll(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Polls = n
	a.UpdatedAt = time.Now()
}

// GetPhase returns the current phase (thread-safe).
func (a *Attempt) GetPhase() Phase {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Phase
}

// IsTerminal returns true if the attempt is Done or Error.
func (a *Attempt) IsTerminal() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Phase == PhaseDone || a.Phase == PhaseError
}

// Clone creates a copy of the attempt for safe reads.
func (a *Attempt) Clone() *Attempt {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return &Attempt{
		ID:          a.ID,
		Phase:       a.Phase,
		Kind:        a.Kind,
		Polls:       a.Polls,
		Error:       a.Error,
		ErrorKind:   a.ErrorKind,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		CompletedAt: a.CompletedAt,
	}
}
