// Package saga drives a distributed transaction through an ordered list of
// forward steps, advancing only when the expected outcome event arrives and
// compensating completed steps in reverse when anything else does.
package saga

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"storefront/internal/event"
)

// Action emits an outbound event for a step, a compensation or a terminal
// decision. Actions receive the event that triggered them so they can echo
// correlation and payload fields.
type Action func(ctx context.Context, ev event.Event) error

// Step pairs a forward command with its compensation and names the outcome
// events the engine should classify against.
type Step struct {
	Command      Action
	Compensation Action
	SuccessEvent string
	ErrorEvent   string
}

// Instance is one in-flight saga. stepIndex is the index of the step whose
// outcome is currently awaited; it only ever increases.
type Instance struct {
	correlationID string
	steps         []Step
	stepIndex     int
	commit        Action
	abort         Action
}

// CorrelationID identifies the transaction this instance belongs to.
func (s *Instance) CorrelationID() string { return s.correlationID }

// StepIndex reports how many forward steps have completed.
func (s *Instance) StepIndex() int { return s.stepIndex }

func (s *Instance) expectedSuccess() string { return s.steps[s.stepIndex].SuccessEvent }

func (s *Instance) isError(eventType string) bool {
	for _, st := range s.steps {
		if st.ErrorEvent == eventType {
			return true
		}
	}
	return false
}

func (s *Instance) isSuccess(eventType string) bool {
	for _, st := range s.steps {
		if st.SuccessEvent == eventType {
			return true
		}
	}
	return false
}

// ErrDuplicateSaga is returned by Build when a saga already exists for the
// correlation id, which happens when the initiating command is redelivered.
var ErrDuplicateSaga = errors.New("saga already registered for correlation id")

// Manager owns every in-flight saga of the process. All event handling for
// one saga runs inside its mutex, which is the per-saga critical section;
// the consumer feeding it is sequential, so the lock is uncontended in
// practice and exists to keep the map and the instances coherent.
type Manager struct {
	log   *slog.Logger
	mu    sync.Mutex
	sagas map[string]*Instance
}

func NewManager(log *slog.Logger) *Manager {
	return &Manager{log: log, sagas: make(map[string]*Instance)}
}

// Build registers a new saga. The instance is destroyed when it commits or
// aborts; nothing is persisted, so an orchestrator crash abandons it and the
// caller observes a timeout.
func (m *Manager) Build(correlationID string, steps []Step, commit, abort Action) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sagas[correlationID]; ok {
		return nil, ErrDuplicateSaga
	}
	inst := &Instance{
		correlationID: correlationID,
		steps:         steps,
		commit:        commit,
		abort:         abort,
	}
	m.sagas[correlationID] = inst
	return inst, nil
}

// Len reports the number of in-flight sagas.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sagas)
}

// Start issues the first forward command. It does not advance the step
// index; advancement is outcome-driven. A failed emission aborts the saga
// immediately (no step has completed, so there is nothing to compensate).
func (m *Manager) Start(ctx context.Context, inst *Instance, initial event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := inst.steps[0].Command(ctx, initial); err != nil {
		m.log.Error("saga start failed", "correlation_id", inst.correlationID, "err", err)
		m.abortLocked(ctx, inst, initial)
		return err
	}
	m.log.Info("saga started", "correlation_id", inst.correlationID, "steps", len(inst.steps))
	return nil
}

// HandleEvent classifies an outcome event against the saga it belongs to:
//
//   - the success event awaited by the current step advances the saga and
//     issues the next command, or commits when every step has completed;
//   - any mapped error event, or a success event for a different step,
//     aborts: completed steps are compensated in reverse and the terminal
//     abort action runs;
//   - events for unknown sagas are logged and dropped, and event types
//     outside the saga's mapping are ignored.
func (m *Manager) HandleEvent(ctx context.Context, ev event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.sagas[ev.CorrelationID]
	if !ok {
		m.log.Warn("event for unknown saga dropped", "type", ev.Type, "correlation_id", ev.CorrelationID)
		return
	}

	switch {
	case ev.Type == inst.expectedSuccess():
		m.advanceLocked(ctx, inst, ev)
	case inst.isError(ev.Type):
		m.log.Info("saga step failed", "correlation_id", inst.correlationID, "type", ev.Type, "step", inst.stepIndex)
		m.abortLocked(ctx, inst, ev)
	case inst.isSuccess(ev.Type):
		// A success event for some other step: the participant protocol has
		// been violated, the safe reaction is to roll back.
		m.log.Warn("out-of-order success event, aborting saga",
			"correlation_id", inst.correlationID, "type", ev.Type, "step", inst.stepIndex)
		m.abortLocked(ctx, inst, ev)
	default:
		m.log.Debug("event unrelated to saga mapping ignored", "type", ev.Type, "correlation_id", ev.CorrelationID)
	}
}

func (m *Manager) advanceLocked(ctx context.Context, inst *Instance, ev event.Event) {
	inst.stepIndex++
	if inst.stepIndex == len(inst.steps) {
		if err := inst.commit(ctx, ev); err != nil {
			m.log.Error("commit action failed", "correlation_id", inst.correlationID, "err", err)
		}
		delete(m.sagas, inst.correlationID)
		m.log.Info("saga committed", "correlation_id", inst.correlationID)
		return
	}

	if err := inst.steps[inst.stepIndex].Command(ctx, ev); err != nil {
		m.log.Error("step command failed", "correlation_id", inst.correlationID, "step", inst.stepIndex, "err", err)
		m.abortLocked(ctx, inst, ev)
	}
}

// abortLocked compensates completed steps in strictly decreasing order,
// then runs the terminal abort action and destroys the instance. Emission
// failures are logged and do not halt the sweep: the recipients are
// idempotent and compensation is best-effort at-least-once.
func (m *Manager) abortLocked(ctx context.Context, inst *Instance, ev event.Event) {
	for i := inst.stepIndex - 1; i >= 0; i-- {
		if err := inst.steps[i].Compensation(ctx, ev); err != nil {
			m.log.Error("compensation emission failed", "correlation_id", inst.correlationID, "step", i, "err", err)
		}
	}
	if err := inst.abort(ctx, ev); err != nil {
		m.log.Error("abort action failed", "correlation_id", inst.correlationID, "err", err)
	}
	delete(m.sagas, inst.correlationID)
	m.log.Info("saga aborted", "correlation_id", inst.correlationID)
}
