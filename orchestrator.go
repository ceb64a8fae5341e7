package sagaorch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultStepTimeout bounds each participant call when neither the step nor
// the orchestrator sets a timeout.
const DefaultStepTimeout = 5 * time.Second

const tracerName = "github.com/fortressi/sagaorch"

type options struct {
	store       Store
	logger      *zap.Logger
	sink        EventSink
	metrics     *Metrics
	stepTimeout time.Duration
	newID       func() string
	now         func() time.Time
	validate    *validator.Validate
	tracer      trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*options)

// WithStore sets the instance store. The default is a new MemoryStore.
func WithStore(store Store) Option {
	return func(o *options) { o.store = store }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventSink sets where lifecycle events go. The default is NopSink.
func WithEventSink(sink EventSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithMetrics records engine metrics on m. Metrics are off by default.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithStepTimeout sets the default per-call timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(o *options) { o.stepTimeout = d }
}

// WithIDGenerator replaces the uuid transaction id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(o *options) { o.now = fn }
}

// WithValidator replaces the struct validator used on triggers.
func WithValidator(v *validator.Validate) Option {
	return func(o *options) { o.validate = v }
}

// WithTracerProvider sets the provider spans are created from. The default is
// the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp.Tracer(tracerName) }
}

// Orchestrator drives sagas: forward execution step by step, and on the first
// failure, compensation of every completed step in reverse order.
//
// One saga runs to completion on the calling goroutine. Distinct sagas may run
// concurrently.
type Orchestrator[T Trigger] struct {
	registry *DefinitionRegistry[T]
	executor StepExecutor
	opts     options
}

// NewOrchestrator creates an orchestrator for the definitions in registry,
// reaching participants through executor.
func NewOrchestrator[T Trigger](registry *DefinitionRegistry[T], executor StepExecutor, opts ...Option) *Orchestrator[T] {
	o := options{
		stepTimeout: DefaultStepTimeout,
		newID:       uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = NewMemoryStore()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.sink == nil {
		o.sink = NopSink{}
	}
	if o.validate == nil {
		o.validate = validator.New(validator.WithRequiredStructEnabled())
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.stepTimeout <= 0 {
		o.stepTimeout = DefaultStepTimeout
	}

	return &Orchestrator[T]{registry: registry, executor: executor, opts: o}
}

// Registry returns the definitions known to the orchestrator.
func (o *Orchestrator[T]) Registry() *DefinitionRegistry[T] {
	return o.registry
}

// StartSaga is ExecuteSaga under its external name.
func (o *Orchestrator[T]) StartSaga(ctx context.Context, sagaType string, trigger T) (*Instance, error) {
	return o.ExecuteSaga(ctx, sagaType, trigger)
}

// ExecuteSaga runs one saga of type sagaType and blocks until it reaches a
// final state. Step and compensation failures are reported on the returned
// instance, never as an error. An error is returned only when no instance was
// created: an unknown saga type, a trigger that fails validation, or a store
// that rejects the new instance.
func (o *Orchestrator[T]) ExecuteSaga(ctx context.Context, sagaType string, trigger T) (*Instance, error) {
	def, err := o.registry.Get(sagaType)
	if err != nil {
		return nil, err
	}
	if err := o.validateTrigger(trigger); err != nil {
		return nil, err
	}

	txID := o.opts.newID()
	started := o.opts.now()
	inst := newInstance(txID, def.Name(), trigger.BusinessID(), def.StepNames(), started)
	if err := o.opts.store.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("create saga instance: %w", err)
	}

	// The saga outlives caller cancellation so a compensation pass is never
	// cut short.
	runCtx := ContextWithTransactionID(context.WithoutCancel(ctx), txID)
	runCtx, span := o.opts.tracer.Start(runCtx, "saga "+def.Name(), trace.WithAttributes(
		attribute.String("saga.type", def.Name()),
		attribute.String("saga.transaction_id", txID),
		attribute.String("saga.business_id", inst.BusinessID),
	))
	defer span.End()

	r := &run[T]{
		o:          o,
		def:        def,
		trigger:    trigger,
		txID:       txID,
		businessID: inst.BusinessID,
		log: o.opts.logger.With(
			zap.String("transaction_id", txID),
			zap.String("saga", def.Name()),
		),
	}
	r.log.Info("saga started", zap.String("business_id", inst.BusinessID), zap.Int("steps", def.Len()))
	o.opts.metrics.sagaStarted(def.Name())
	r.publish(runCtx, Event{Type: EventSagaStatus, Status: StatusStarted})

	if err := r.execute(runCtx); err != nil {
		r.fault(runCtx, err)
	}

	final, err := o.opts.store.Get(runCtx, txID)
	if err != nil {
		return nil, fmt.Errorf("load saga instance: %w", err)
	}

	o.opts.metrics.sagaFinished(def.Name(), final.Status, o.opts.now().Sub(started))
	span.SetAttributes(attribute.String("saga.status", string(final.Status)))
	if final.Status != StatusCompleted {
		span.SetStatus(codes.Error, final.Error)
	}
	r.log.Info("saga finished", zap.String("status", string(final.Status)), zap.String("error", final.Error))
	return final, nil
}

// GetStatus returns the current, possibly intermediate, state of a saga. It
// fails with ErrNotFound for an id that was never issued.
func (o *Orchestrator[T]) GetStatus(ctx context.Context, txID string) (*Instance, error) {
	return o.opts.store.Get(ctx, txID)
}

// GetSagaStatus is GetStatus under its external name.
func (o *Orchestrator[T]) GetSagaStatus(ctx context.Context, txID string) (*Instance, error) {
	return o.GetStatus(ctx, txID)
}

// ListSagas pages through saga instances in creation order.
func (o *Orchestrator[T]) ListSagas(ctx context.Context, after string, limit int) ([]*Instance, error) {
	return o.opts.store.List(ctx, after, limit)
}

// Compensate unwinds a saga that was left FAILED, for example after an
// internal fault stopped it. Every step still COMPLETED is compensated, newest
// first.
func (o *Orchestrator[T]) Compensate(ctx context.Context, txID string) (*Instance, error) {
	inst, err := o.opts.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusFailed {
		return nil, notCompensable(txID, inst.Status)
	}
	def, err := o.registry.Get(inst.SagaType)
	if err != nil {
		return nil, err
	}

	r := &run[T]{
		o:          o,
		def:        def,
		txID:       txID,
		businessID: inst.BusinessID,
		log:        o.opts.logger.With(zap.String("transaction_id", txID), zap.String("saga", def.Name())),
	}
	runCtx := ContextWithTransactionID(context.WithoutCancel(ctx), txID)
	if err := r.compensate(runCtx, len(def.steps)-1); err != nil {
		if errors.Is(err, ErrNotCompensable) {
			return nil, err
		}
		r.fault(runCtx, err)
	}
	return o.opts.store.Get(runCtx, txID)
}

func notCompensable(txID string, status Status) error {
	return fmt.Errorf("%w: saga %s is %s, only %s sagas can be compensated", ErrNotCompensable, txID, status, StatusFailed)
}

func (o *Orchestrator[T]) validateTrigger(trigger T) error {
	rv := reflect.ValueOf(any(trigger))
	if !rv.IsValid() || (rv.Kind() == reflect.Pointer && rv.IsNil()) {
		return newValidationError(errors.New("trigger is required"))
	}

	if err := o.opts.validate.Struct(trigger); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			return newValidationError(err)
		}
		// Not a struct: nothing to check by tag.
	}

	if v, ok := any(trigger).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return newValidationError(err)
		}
	}
	return nil
}

// run is the state of one saga execution.
type run[T Trigger] struct {
	o          *Orchestrator[T]
	def        *Definition[T]
	trigger    T
	txID       string
	businessID string
	log        *zap.Logger
}

// execute is the forward pass.
func (r *run[T]) execute(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if err := r.setStatus(ctx, StatusInProgress); err != nil {
		return err
	}

	for i, step := range r.def.steps {
		payload, buildErr := buildPayload(step, r.trigger, r.txID)
		if buildErr != nil {
			if err := r.failStep(ctx, i, payload, buildErr.Error()); err != nil {
				return err
			}
			return r.unwind(ctx, i-1)
		}

		out := r.call(ctx, step, callForward, step.Forward, payload)
		if !out.OK {
			if err := r.failStep(ctx, i, payload, out.Reason); err != nil {
				return err
			}
			return r.unwind(ctx, i-1)
		}

		if err := r.completeStep(ctx, i, payload, out.Payload); err != nil {
			return err
		}
	}

	return r.setStatus(ctx, StatusCompleted)
}

// unwind compensates after a forward failure. A concurrent Compensate call
// may have claimed the saga first; that walk then owns it.
func (r *run[T]) unwind(ctx context.Context, highest int) error {
	err := r.compensate(ctx, highest)
	if errors.Is(err, ErrNotCompensable) {
		r.log.Debug("compensation already claimed")
		return nil
	}
	return err
}

// compensate walks from highest down to 0, undoing every COMPLETED step. A
// failed compensation is recorded on its step and the walk continues.
func (r *run[T]) compensate(ctx context.Context, highest int) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during compensation: %v", p)
		}
	}()

	inst, err := r.claimCompensation(ctx)
	if err != nil {
		return err
	}
	if highest >= len(r.def.steps) {
		highest = len(r.def.steps) - 1
	}

	for i := highest; i >= 0; i-- {
		if inst.Steps[i].Status != StepCompleted {
			continue
		}
		step := r.def.steps[i]

		body, buildErr := buildCompensationPayload(step, CompensationRequest{
			TransactionID: r.txID,
			SagaType:      r.def.Name(),
			BusinessID:    r.businessID,
			Step:          step.Name,
			Request:       inst.Steps[i].Request,
		})
		if buildErr != nil {
			if err := r.compensationFailed(ctx, i, buildErr.Error()); err != nil {
				return err
			}
			continue
		}

		out := r.call(ctx, step, callCompensate, step.Compensation, body)
		if !out.OK {
			if err := r.compensationFailed(ctx, i, out.Reason); err != nil {
				return err
			}
			continue
		}
		if err := r.compensateStep(ctx, i); err != nil {
			return err
		}
	}

	return r.setStatus(ctx, StatusCompensated)
}

// call performs one participant call bounded by the step timeout. An executor
// that ignores its context is abandoned at the deadline.
func (r *run[T]) call(ctx context.Context, step StepSpec[T], kind, address string, payload json.RawMessage) Outcome {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = r.o.opts.stepTimeout
	}

	ctx, span := r.o.opts.tracer.Start(ctx, kind+" "+step.Name, trace.WithAttributes(
		attribute.String("saga.step", step.Name),
		attribute.String("saga.call", kind),
		attribute.String("saga.address", address),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.o.opts.now()
	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Failed(fmt.Sprintf("executor panic: %v", p))
			}
		}()
		done <- r.o.executor.Invoke(callCtx, address, payload)
	}()

	var out Outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		select {
		case out = <-done:
		default:
			out = Failed(contextReason(callCtx.Err()))
		}
	}
	if !out.OK && out.Reason == "" {
		out.Reason = "participant reported failure"
	}

	r.o.opts.metrics.stepCall(r.def.Name(), step.Name, kind, out.OK, r.o.opts.now().Sub(start))
	if !out.OK {
		span.SetStatus(codes.Error, out.Reason)
	}
	return out
}

// claimCompensation moves a FAILED saga to COMPENSATING in one update, so
// only one walk runs per saga. It returns the claimed snapshot.
func (r *run[T]) claimCompensation(ctx context.Context) (*Instance, error) {
	var claimed *Instance
	err := r.o.opts.store.Update(ctx, r.txID, func(inst *Instance) error {
		if inst.Status != StatusFailed {
			return notCompensable(r.txID, inst.Status)
		}
		if err := inst.transition(StatusCompensating, r.o.opts.now()); err != nil {
			return err
		}
		claimed = inst.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Debug("saga status", zap.String("status", string(StatusCompensating)))
	r.publish(ctx, Event{Type: EventSagaStatus, Status: StatusCompensating})
	return claimed, nil
}

func (r *run[T]) setStatus(ctx context.Context, to Status) error {
	err := r.o.opts.store.Update(ctx, r.txID, func(inst *Instance) error {
		return inst.transition(to, r.o.opts.now())
	})
	if err != nil {
		return err
	}
	r.log.Debug("saga status", zap.String("status", string(to)))
	r.publish(ctx, Event{Type: EventSagaStatus, Status: to})
	return nil
}

func (r *run[T]) completeStep(ctx context.Context, idx int, request, response json.RawMessage) error {
	name := r.def.steps[idx].Name
	err := r.o.opts.store.Update(ctx, r.txID, func(inst *Instance) error {
		now := r.o.opts.now()
		if err := inst.setStep(idx, StepCompleted, now); err != nil {
			return err
		}
		inst.Steps[idx].Request = request
		inst.Steps[idx].Response = response
		inst.Steps[idx].ExecutedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info("step completed", zap.String("step", name))
	r.publish(ctx, Event{Type: EventStepCompleted, Step: name})
	return nil
}

// failStep marks the step and the instance FAILED in a single update so no
// reader sees one without the other.
func (r *run[T]) failStep(ctx context.Context, idx int, request json.RawMessage, reason string) error {
	name := r.def.steps[idx].Name
	instErr := fmt.Sprintf("step %q failed: %s", name, reason)
	err := r.o.opts.store.Update(ctx, r.txID, func(inst *Instance) error {
		now := r.o.opts.now()
		if err := inst.setStep(idx, StepFailed, now); err != nil {
			return err
		}
		inst.Steps[idx].Request = request
		inst.Steps[idx].ExecutedAt = &now
		inst.Steps[idx].Error = reason
		inst.Error = instErr
		return inst.transition(StatusFailed, now)
	})
	if err != nil {
		return err
	}
	r.log.Warn("step failed", zap.String("step", name), zap.String("error", reason))
	r.publish(ctx, Event{Type: EventStepFailed, Step: name, Error: reason})
	r.publish(ctx, Event{Type: EventSagaStatus, Status: StatusFailed, Error: instErr})
	return nil
}

func (r *run[T]) compensateStep(ctx context.Context, idx int) error {
	name := r.def.steps[idx].Name
	err := r.o.opts.store.Update(ctx, r.txID, func(inst *Instance) error {
		now := r.o.opts.now()
		if err := inst.setStep(idx, StepCompensated, now); err != nil {
			return err
		}
		inst.Steps[idx].CompensatedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info("step compensated", zap.String("step", name))
	r.publish(ctx, Event{Type: EventStepCompensated, Step: name})
	return nil
}

// compensationFailed leaves the step COMPLETED and records the reason.
func (r *run[T]) compensationFailed(ctx context.Context, idx int, reason string) error {
	name := r.def.steps[idx].Name
	stepErr := "compensation failed: " + reason
	err := r.o.opts.store.Update(ctx, r.txID, func(inst *Instance) error {
		inst.Steps[idx].Error = stepErr
		inst.UpdatedAt = r.o.opts.now()
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Warn("compensation failed", zap.String("step", name), zap.String("error", reason))
	r.publish(ctx, Event{Type: EventStepCompensationFailed, Step: name, Error: reason})
	return nil
}

// fault records an internal orchestration failure and forces the saga to
// FAILED unless it already reached a terminal status.
func (r *run[T]) fault(ctx context.Context, cause error) {
	r.log.Error("saga fault", zap.Error(cause))
	msg := "internal error: " + cause.Error()
	var status Status
	err := r.o.opts.store.Update(ctx, r.txID, func(inst *Instance) error {
		status = inst.Status
		if status.Terminal() {
			return nil
		}
		inst.Error = msg
		if status != StatusFailed {
			inst.setStatus(StatusFailed, r.o.opts.now())
			status = StatusFailed
		}
		return nil
	})
	if err != nil {
		r.log.Error("failed to record saga fault", zap.Error(err))
		return
	}
	if status.Terminal() {
		r.log.Warn("fault after saga finished, instance left as is", zap.String("status", string(status)))
		return
	}
	r.publish(ctx, Event{Type: EventSagaStatus, Status: status, Error: msg})
}

func (r *run[T]) publish(ctx context.Context, ev Event) {
	ev.TransactionID = r.txID
	ev.SagaType = r.def.Name()
	ev.BusinessID = r.businessID
	ev.At = r.o.opts.now()
	if err := r.o.opts.sink.Publish(ctx, ev); err != nil {
		r.log.Warn("failed to publish saga event", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

func buildPayload[T any](step StepSpec[T], trigger T, txID string) (json.RawMessage, error) {
	body, err := step.Payload(trigger, txID)
	if err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}
	return marshalPayload(body)
}

func buildCompensationPayload[T any](step StepSpec[T], req CompensationRequest) (json.RawMessage, error) {
	if step.CompensationPayload == nil {
		return marshalPayload(req)
	}
	body, err := step.CompensationPayload(req)
	if err != nil {
		return nil, fmt.Errorf("build compensation payload: %w", err)
	}
	return marshalPayload(body)
}

func marshalPayload(body any) (json.RawMessage, error) {
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}
	return data, nil
}
