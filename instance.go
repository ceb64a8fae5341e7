package sagaorch

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a saga instance.
type Status string

const (
	StatusStarted      Status = "STARTED"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
)

// Terminal reports whether no further transition can occur from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated
}

// nextStatus validates the transition from s to to.
//
//	STARTED -> IN_PROGRESS -> COMPLETED
//	                       -> FAILED -> COMPENSATING -> COMPENSATED
func (s Status) nextStatus(to Status) error {
	switch s {
	case StatusStarted:
		if to == StatusInProgress {
			return nil
		}
	case StatusInProgress:
		switch to {
		case StatusCompleted, StatusFailed:
			return nil
		}
	case StatusFailed:
		if to == StatusCompensating {
			return nil
		}
	case StatusCompensating:
		if to == StatusCompensated {
			return nil
		}
	}
	return fmt.Errorf("illegal saga transition %s -> %s", s, to)
}

// StepStatus is the state of one step within a saga instance.
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepCompensated StepStatus = "COMPENSATED"
)

func (s StepStatus) nextStatus(to StepStatus) error {
	switch s {
	case StepPending:
		switch to {
		case StepCompleted, StepFailed:
			return nil
		}
	case StepCompleted:
		if to == StepCompensated {
			return nil
		}
	}
	return fmt.Errorf("illegal step transition %s -> %s", s, to)
}

// StepResult is the per-instance record of one step of the definition.
type StepResult struct {
	Name          string          `json:"name"`
	Status        StepStatus      `json:"status"`
	Request       json.RawMessage `json:"request,omitempty"`
	Response      json.RawMessage `json:"response,omitempty"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty"`
	CompensatedAt *time.Time      `json:"compensated_at,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Transition records one accepted status change.
type Transition struct {
	From Status    `json:"from,omitempty"`
	To   Status    `json:"to"`
	At   time.Time `json:"at"`
}

// Instance is the run-time record of one execution of a saga definition.
// Instances handed out by the orchestrator and the store are snapshots; only
// the orchestrator running the saga mutates the stored copy.
type Instance struct {
	TransactionID string       `json:"transaction_id"`
	SagaType      string       `json:"saga_type"`
	BusinessID    string       `json:"business_id"`
	Status        Status       `json:"status"`
	Steps         []StepResult `json:"steps"`
	History       []Transition `json:"history"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Error         string       `json:"error,omitempty"`
}

// newInstance builds a STARTED instance with one PENDING result per step name.
func newInstance(txID, sagaType, businessID string, steps []string, now time.Time) *Instance {
	results := make([]StepResult, len(steps))
	for i, name := range steps {
		results[i] = StepResult{Name: name, Status: StepPending}
	}
	return &Instance{
		TransactionID: txID,
		SagaType:      sagaType,
		BusinessID:    businessID,
		Status:        StatusStarted,
		Steps:         results,
		History:       []Transition{{To: StatusStarted, At: now}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// transition moves the instance to status to, rejecting illegal moves.
func (i *Instance) transition(to Status, at time.Time) error {
	if err := i.Status.nextStatus(to); err != nil {
		return err
	}
	i.setStatus(to, at)
	return nil
}

// setStatus records a status change without validation. It is reserved for
// the orchestrator's fault boundary.
func (i *Instance) setStatus(to Status, at time.Time) {
	i.History = append(i.History, Transition{From: i.Status, To: to, At: at})
	i.Status = to
	i.UpdatedAt = at
}

// setStep moves step idx to status to.
func (i *Instance) setStep(idx int, to StepStatus, at time.Time) error {
	if idx < 0 || idx >= len(i.Steps) {
		return fmt.Errorf("step index %d out of range", idx)
	}
	step := &i.Steps[idx]
	if err := step.Status.nextStatus(to); err != nil {
		return fmt.Errorf("step %q: %w", step.Name, err)
	}
	step.Status = to
	i.UpdatedAt = at
	return nil
}

// Step returns the result for the named step.
func (i *Instance) Step(name string) (StepResult, bool) {
	for _, s := range i.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.Steps = make([]StepResult, len(i.Steps))
	for idx, s := range i.Steps {
		c.Steps[idx] = s.clone()
	}
	c.History = append([]Transition(nil), i.History...)
	return &c
}

func (s StepResult) clone() StepResult {
	c := s
	c.Request = cloneRaw(s.Request)
	c.Response = cloneRaw(s.Response)
	if s.ExecutedAt != nil {
		t := *s.ExecutedAt
		c.ExecutedAt = &t
	}
	if s.CompensatedAt != nil {
		t := *s.CompensatedAt
		c.CompensatedAt = &t
	}
	return c
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
