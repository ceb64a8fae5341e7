package sagaorch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

// Test saga: Order Processing
// Flow: create -> pay -> ship

type orderTrigger struct {
	OrderID string  `json:"order_id" validate:"required"`
	Amount  float64 `json:"amount" validate:"gt=0"`
}

func (t *orderTrigger) BusinessID() string { return t.OrderID }

type stepBody struct {
	TransactionID string  `json:"transaction_id"`
	OrderID       string  `json:"order_id"`
	Amount        float64 `json:"amount"`
}

func orderPayload(trigger *orderTrigger, txID string) (any, error) {
	return stepBody{TransactionID: txID, OrderID: trigger.OrderID, Amount: trigger.Amount}, nil
}

func orderSteps() []StepSpec[*orderTrigger] {
	return []StepSpec[*orderTrigger]{
		{Name: "create", Forward: "create/do", Compensation: "create/undo", Payload: orderPayload},
		{Name: "pay", Forward: "pay/do", Compensation: "pay/undo", Payload: orderPayload},
		{Name: "ship", Forward: "ship/do", Compensation: "ship/undo", Payload: orderPayload},
	}
}

type call struct {
	Address string
	Payload json.RawMessage
}

// fakeExecutor records every call and fails the addresses listed in failures.
type fakeExecutor struct {
	mu       sync.Mutex
	calls    []call
	failures map[string]string
	block    map[string]bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{failures: map[string]string{}, block: map[string]bool{}}
}

func (f *fakeExecutor) failOn(address, reason string) *fakeExecutor {
	f.failures[address] = reason
	return f
}

func (f *fakeExecutor) Invoke(ctx context.Context, address string, payload json.RawMessage) Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, call{Address: address, Payload: payload})
	reason, fail := f.failures[address]
	block := f.block[address]
	f.mu.Unlock()

	if block {
		// Ignores ctx on purpose: the orchestrator must abandon it.
		time.Sleep(time.Second)
		return Succeeded(json.RawMessage(`{"late":true}`))
	}
	if fail {
		return Failed(reason)
	}
	return Succeeded(json.RawMessage(fmt.Sprintf(`{"address":%q}`, address)))
}

func (f *fakeExecutor) addresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Address
	}
	return out
}

func newTestOrchestrator(t *testing.T, exec StepExecutor, opts ...Option) *Orchestrator[*orderTrigger] {
	t.Helper()
	registry := NewDefinitionRegistry[*orderTrigger]()
	def, err := NewDefinition("order", orderSteps()...)
	require.NoError(t, err)
	require.NoError(t, registry.Register(def))
	return NewOrchestrator(registry, exec, opts...)
}

func historyStatuses(inst *Instance) []Status {
	out := make([]Status, len(inst.History))
	for i, tr := range inst.History {
		out[i] = tr.To
	}
	return out
}

func TestExecuteSagaHappyPath(t *testing.T) {
	exec := newFakeExecutor()
	orch := newTestOrchestrator(t, exec)

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-1", Amount: 10})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, inst.Status)
	assert.Equal(t, "order-1", inst.BusinessID)
	assert.Empty(t, inst.Error)
	require.Len(t, inst.Steps, 3)
	for _, s := range inst.Steps {
		assert.Equal(t, StepCompleted, s.Status, s.Name)
		assert.NotNil(t, s.ExecutedAt)
		assert.Nil(t, s.CompensatedAt)
		assert.NotEmpty(t, s.Response)
	}

	assert.Equal(t, []string{"create/do", "pay/do", "ship/do"}, exec.addresses())
	assert.Equal(t, []Status{StatusStarted, StatusInProgress, StatusCompleted}, historyStatuses(inst))

	// Every forward request carries the transaction id.
	var body stepBody
	require.NoError(t, json.Unmarshal(inst.Steps[0].Request, &body))
	assert.Equal(t, inst.TransactionID, body.TransactionID)
}

func TestExecuteSagaMidFailure(t *testing.T) {
	exec := newFakeExecutor().failOn("pay/do", "status 402: payment declined")
	orch := newTestOrchestrator(t, exec)

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-2", Amount: 10})
	require.NoError(t, err)

	assert.Equal(t, StatusCompensated, inst.Status)
	assert.Equal(t, StepCompensated, inst.Steps[0].Status)
	assert.NotNil(t, inst.Steps[0].CompensatedAt)
	assert.Equal(t, StepFailed, inst.Steps[1].Status)
	assert.Equal(t, "status 402: payment declined", inst.Steps[1].Error)
	assert.Equal(t, StepPending, inst.Steps[2].Status)
	assert.Nil(t, inst.Steps[2].ExecutedAt)
	assert.Equal(t, `step "pay" failed: status 402: payment declined`, inst.Error)

	// ship is never attempted and only create is compensated.
	assert.Equal(t, []string{"create/do", "pay/do", "create/undo"}, exec.addresses())
	assert.Equal(t, []Status{
		StatusStarted, StatusInProgress, StatusFailed, StatusCompensating, StatusCompensated,
	}, historyStatuses(inst))
}

func TestExecuteSagaFirstStepFailure(t *testing.T) {
	exec := newFakeExecutor().failOn("create/do", "out of stock")
	orch := newTestOrchestrator(t, exec)

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-3", Amount: 10})
	require.NoError(t, err)

	assert.Equal(t, StatusCompensated, inst.Status)
	assert.Equal(t, StepFailed, inst.Steps[0].Status)
	assert.Equal(t, StepPending, inst.Steps[1].Status)
	assert.Equal(t, StepPending, inst.Steps[2].Status)
	assert.Equal(t, []string{"create/do"}, exec.addresses())
	assert.Equal(t, []Status{
		StatusStarted, StatusInProgress, StatusFailed, StatusCompensating, StatusCompensated,
	}, historyStatuses(inst))
}

func TestExecuteSagaCompensationFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	exec := newFakeExecutor().
		failOn("pay/do", "declined").
		failOn("create/undo", "status 500: boom")
	orch := newTestOrchestrator(t, exec, WithLogger(zap.New(core)))

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-4", Amount: 10})
	require.NoError(t, err)

	assert.Equal(t, StatusCompensated, inst.Status)
	assert.Equal(t, StepCompleted, inst.Steps[0].Status)
	assert.Equal(t, "compensation failed: status 500: boom", inst.Steps[0].Error)
	assert.Nil(t, inst.Steps[0].CompensatedAt)
	assert.Equal(t, StepFailed, inst.Steps[1].Status)

	warnings := logs.FilterMessage("compensation failed").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "create", warnings[0].ContextMap()["step"])
	assert.Equal(t, inst.TransactionID, warnings[0].ContextMap()["transaction_id"])
}

func TestCompensationContinuesPastFailures(t *testing.T) {
	registry := NewDefinitionRegistry[*orderTrigger]()
	steps := append(orderSteps(), StepSpec[*orderTrigger]{
		Name: "notify", Forward: "notify/do", Compensation: "notify/undo", Payload: orderPayload,
	})
	require.NoError(t, registry.Register(MustDefinition("order", steps...)))

	exec := newFakeExecutor().
		failOn("notify/do", "unreachable").
		failOn("pay/undo", "refund rejected")
	orch := NewOrchestrator(registry, exec)

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-5", Amount: 1})
	require.NoError(t, err)

	assert.Equal(t, StatusCompensated, inst.Status)
	assert.Equal(t, []string{
		"create/do", "pay/do", "ship/do", "notify/do",
		"ship/undo", "pay/undo", "create/undo",
	}, exec.addresses())
	assert.Equal(t, StepCompensated, inst.Steps[2].Status)
	assert.Equal(t, StepCompleted, inst.Steps[1].Status)
	assert.Equal(t, StepCompensated, inst.Steps[0].Status)
}

func TestCompensationRequestCarriesForwardPayload(t *testing.T) {
	exec := newFakeExecutor().failOn("pay/do", "declined")
	orch := newTestOrchestrator(t, exec)

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-6", Amount: 3})
	require.NoError(t, err)

	undo := exec.calls[len(exec.calls)-1]
	require.Equal(t, "create/undo", undo.Address)

	var req CompensationRequest
	require.NoError(t, json.Unmarshal(undo.Payload, &req))
	assert.Equal(t, inst.TransactionID, req.TransactionID)
	assert.Equal(t, "order", req.SagaType)
	assert.Equal(t, "order-6", req.BusinessID)
	assert.Equal(t, "create", req.Step)
	assert.JSONEq(t, string(inst.Steps[0].Request), string(req.Request))
}

func TestCustomCompensationPayload(t *testing.T) {
	registry := NewDefinitionRegistry[*orderTrigger]()
	steps := orderSteps()
	steps[0].CompensationPayload = func(req CompensationRequest) (any, error) {
		return map[string]string{"cancel": req.TransactionID}, nil
	}
	require.NoError(t, registry.Register(MustDefinition("order", steps...)))

	exec := newFakeExecutor().failOn("pay/do", "declined")
	orch := NewOrchestrator(registry, exec, WithIDGenerator(func() string { return "tx-fixed" }))

	_, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-7", Amount: 3})
	require.NoError(t, err)

	undo := exec.calls[len(exec.calls)-1]
	assert.JSONEq(t, `{"cancel":"tx-fixed"}`, string(undo.Payload))
}

func TestPayloadBuilderErrorFailsStep(t *testing.T) {
	registry := NewDefinitionRegistry[*orderTrigger]()
	steps := orderSteps()
	steps[1].Payload = func(*orderTrigger, string) (any, error) {
		return nil, errors.New("no card on file")
	}
	require.NoError(t, registry.Register(MustDefinition("order", steps...)))

	exec := newFakeExecutor()
	orch := NewOrchestrator(registry, exec)

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-8", Amount: 3})
	require.NoError(t, err)

	assert.Equal(t, StatusCompensated, inst.Status)
	assert.Equal(t, StepFailed, inst.Steps[1].Status)
	assert.Contains(t, inst.Steps[1].Error, "no card on file")
	assert.Equal(t, []string{"create/do", "create/undo"}, exec.addresses())
}

func TestExecuteSagaTimeoutAbandonsCall(t *testing.T) {
	exec := newFakeExecutor()
	exec.block["pay/do"] = true
	orch := newTestOrchestrator(t, exec, WithStepTimeout(20*time.Millisecond))

	start := time.Now()
	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-9", Amount: 3})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, StatusCompensated, inst.Status)
	assert.Equal(t, StepFailed, inst.Steps[1].Status)
	assert.Equal(t, ReasonTimeout, inst.Steps[1].Error)
	assert.Equal(t, StepCompensated, inst.Steps[0].Status)
}

func TestExecutorPanicIsStepFailure(t *testing.T) {
	exec := ExecutorFunc(func(_ context.Context, address string, _ json.RawMessage) Outcome {
		if address == "ship/do" {
			panic("participant client bug")
		}
		return Succeeded(nil)
	})
	orch := newTestOrchestrator(t, exec)

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-10", Amount: 3})
	require.NoError(t, err)

	assert.Equal(t, StatusCompensated, inst.Status)
	assert.Equal(t, StepFailed, inst.Steps[2].Status)
	assert.Contains(t, inst.Steps[2].Error, "executor panic")
	assert.Equal(t, StepCompensated, inst.Steps[0].Status)
	assert.Equal(t, StepCompensated, inst.Steps[1].Status)
}

// failingStore rejects the failAt-th update and accepts all others.
type failingStore struct {
	*MemoryStore
	mu      sync.Mutex
	updates int
	failAt  int
}

func (s *failingStore) Update(ctx context.Context, txID string, fn func(*Instance) error) error {
	s.mu.Lock()
	s.updates++
	fail := s.updates == s.failAt
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Update(ctx, txID, fn)
}

func TestInternalFaultForcesFailedThenCompensate(t *testing.T) {
	// Updates: IN_PROGRESS, create completed, pay completed (rejected).
	store := &failingStore{MemoryStore: NewMemoryStore(), failAt: 3}
	exec := newFakeExecutor()
	orch := newTestOrchestrator(t, exec, WithStore(store))

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-11", Amount: 3})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, inst.Status)
	assert.Equal(t, "internal error: store unavailable", inst.Error)
	assert.Equal(t, StepCompleted, inst.Steps[0].Status)
	assert.Equal(t, StepPending, inst.Steps[1].Status)
	assert.Equal(t, []string{"create/do", "pay/do"}, exec.addresses())

	inst, err = orch.Compensate(context.Background(), inst.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, inst.Status)
	assert.Equal(t, StepCompensated, inst.Steps[0].Status)
	assert.Equal(t, StepPending, inst.Steps[1].Status)
	assert.Equal(t, []string{"create/do", "pay/do", "create/undo"}, exec.addresses())
	assert.Equal(t, []Status{
		StatusStarted, StatusInProgress, StatusFailed, StatusCompensating, StatusCompensated,
	}, historyStatuses(inst))
}

// rendezvousStore holds the first two Get calls after arm until both have
// read, so both callers see the same status.
type rendezvousStore struct {
	Store
	mu    sync.Mutex
	armed bool
	gets  int
	meet  sync.WaitGroup
}

func (s *rendezvousStore) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	s.meet.Add(2)
}

func (s *rendezvousStore) Get(ctx context.Context, txID string) (*Instance, error) {
	s.mu.Lock()
	wait := s.armed && s.gets < 2
	if s.armed {
		s.gets++
	}
	s.mu.Unlock()
	inst, err := s.Store.Get(ctx, txID)
	if wait {
		s.meet.Done()
		s.meet.Wait()
	}
	return inst, err
}

func TestConcurrentCompensateRunsOneWalk(t *testing.T) {
	store := &rendezvousStore{Store: &failingStore{MemoryStore: NewMemoryStore(), failAt: 3}}
	exec := newFakeExecutor()
	orch := newTestOrchestrator(t, exec, WithStore(store))

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-12", Amount: 3})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, inst.Status)

	store.arm()
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = orch.Compensate(context.Background(), inst.TransactionID)
		}()
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrNotCompensable):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	final, err := orch.GetStatus(context.Background(), inst.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, final.Status)
	assert.Equal(t, "internal error: store unavailable", final.Error)
	assert.Equal(t, []string{"create/do", "pay/do", "create/undo"}, exec.addresses())
	assert.Equal(t, []Status{
		StatusStarted, StatusInProgress, StatusFailed, StatusCompensating, StatusCompensated,
	}, historyStatuses(final))
}

func TestFaultLeavesFinishedSagaAlone(t *testing.T) {
	orch := newTestOrchestrator(t, newFakeExecutor())
	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-14", Amount: 3})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, inst.Status)

	def, err := orch.Registry().Get("order")
	require.NoError(t, err)
	r := &run[*orderTrigger]{o: orch, def: def, txID: inst.TransactionID, log: zap.NewNop()}
	r.fault(context.Background(), errors.New("late failure"))

	got, err := orch.GetStatus(context.Background(), inst.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, inst.History, got.History)
}

func TestCompensateRejectsNonFailedSaga(t *testing.T) {
	orch := newTestOrchestrator(t, newFakeExecutor())

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-13", Amount: 3})
	require.NoError(t, err)

	_, err = orch.Compensate(context.Background(), inst.TransactionID)
	assert.ErrorIs(t, err, ErrNotCompensable)
	assert.Contains(t, err.Error(), "only FAILED sagas can be compensated")

	_, err = orch.Compensate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecuteSagaRejectsUnknownType(t *testing.T) {
	store := NewMemoryStore()
	orch := newTestOrchestrator(t, newFakeExecutor(), WithStore(store))

	_, err := orch.ExecuteSaga(context.Background(), "refund", &orderTrigger{OrderID: "o", Amount: 1})
	assert.ErrorIs(t, err, ErrUnknownSagaType)
	assert.Equal(t, 0, store.Len())
}

func TestExecuteSagaValidation(t *testing.T) {
	store := NewMemoryStore()
	exec := newFakeExecutor()
	orch := newTestOrchestrator(t, exec, WithStore(store))

	tests := []struct {
		name    string
		trigger *orderTrigger
		fields  []string
	}{
		{name: "nil trigger", trigger: nil},
		{name: "missing order id", trigger: &orderTrigger{Amount: 1}, fields: []string{"orderTrigger.OrderID"}},
		{name: "zero amount", trigger: &orderTrigger{OrderID: "o"}, fields: []string{"orderTrigger.Amount"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := orch.ExecuteSaga(context.Background(), "order", tt.trigger)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.fields, verr.Fields)
		})
	}

	assert.Equal(t, 0, store.Len())
	assert.Empty(t, exec.addresses())
}

type checkedTrigger struct {
	ID string
}

func (c checkedTrigger) BusinessID() string { return c.ID }

func (c checkedTrigger) Validate() error {
	if c.ID == "blocked" {
		return errors.New("customer is blocked")
	}
	return nil
}

func TestExecuteSagaCustomValidate(t *testing.T) {
	registry := NewDefinitionRegistry[checkedTrigger]()
	require.NoError(t, registry.Register(MustDefinition("check", StepSpec[checkedTrigger]{
		Name: "only", Forward: "a", Compensation: "b",
		Payload: func(c checkedTrigger, txID string) (any, error) { return c, nil },
	})))
	orch := NewOrchestrator(registry, newFakeExecutor())

	_, err := orch.ExecuteSaga(context.Background(), "check", checkedTrigger{ID: "blocked"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "customer is blocked")

	inst, err := orch.ExecuteSaga(context.Background(), "check", checkedTrigger{ID: "ok"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, inst.Status)
}

func TestGetStatus(t *testing.T) {
	orch := newTestOrchestrator(t, newFakeExecutor())

	_, err := orch.GetStatus(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrNotFound)

	inst, err := orch.StartSaga(context.Background(), "order", &orderTrigger{OrderID: "order-14", Amount: 3})
	require.NoError(t, err)

	got, err := orch.GetSagaStatus(context.Background(), inst.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, inst, got)

	// Snapshots are independent of the stored instance.
	got.Steps[0].Status = StepFailed
	again, err := orch.GetStatus(context.Background(), inst.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, again.Steps[0].Status)
}

func TestStatusReadsDuringRunAreConsistent(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, address string, _ json.RawMessage) Outcome {
		if address == "pay/do" {
			close(started)
			<-release
			return Failed("declined")
		}
		return Succeeded(nil)
	})
	orch := newTestOrchestrator(t, exec, WithIDGenerator(func() string { return "tx-run" }))

	var g errgroup.Group
	g.Go(func() error {
		_, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-15", Amount: 3})
		return err
	})

	<-started
	mid, err := orch.GetStatus(context.Background(), "tx-run")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, mid.Status)
	assert.Equal(t, StepCompleted, mid.Steps[0].Status)
	assert.Equal(t, StepPending, mid.Steps[1].Status)

	close(release)
	require.NoError(t, g.Wait())

	final, err := orch.GetStatus(context.Background(), "tx-run")
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, final.Status)
}

func TestConcurrentSagas(t *testing.T) {
	exec := newFakeExecutor().failOn("ship/do", "no courier")
	orch := newTestOrchestrator(t, exec)

	const n = 50
	ids := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{
				OrderID: fmt.Sprintf("order-%d", i),
				Amount:  1,
			})
			if err != nil {
				return err
			}
			if inst.Status != StatusCompensated {
				return fmt.Errorf("saga %d ended %s", i, inst.Status)
			}
			ids[i] = inst.TransactionID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate transaction id %s", id)
		seen[id] = true
	}

	all, err := orch.ListSagas(context.Background(), "", n+10)
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestCallerCancellationDoesNotStopSaga(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := ExecutorFunc(func(callCtx context.Context, address string, _ json.RawMessage) Outcome {
		if address == "create/do" {
			cancel()
		}
		if callCtx.Err() != nil {
			return Failed(contextReason(callCtx.Err()))
		}
		return Succeeded(nil)
	})
	orch := newTestOrchestrator(t, exec)

	inst, err := orch.ExecuteSaga(ctx, "order", &orderTrigger{OrderID: "order-16", Amount: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, inst.Status)
}

func TestEventsAndMetrics(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	sink := SinkFunc(func(_ context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
		return errors.New("sink offline")
	})
	m := NewMetrics()
	exec := newFakeExecutor().failOn("pay/do", "declined")
	orch := newTestOrchestrator(t, exec, WithEventSink(sink), WithMetrics(m))

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-17", Amount: 3})
	require.NoError(t, err)
	// A failing sink never changes the outcome.
	assert.Equal(t, StatusCompensated, inst.Status)

	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
		assert.Equal(t, inst.TransactionID, ev.TransactionID)
		assert.Equal(t, "order", ev.SagaType)
	}
	assert.Equal(t, []EventType{
		EventSagaStatus,    // STARTED
		EventSagaStatus,    // IN_PROGRESS
		EventStepCompleted, // create
		EventStepFailed,    // pay
		EventSagaStatus,    // FAILED
		EventSagaStatus,    // COMPENSATING
		EventStepCompensated,
		EventSagaStatus, // COMPENSATED
	}, types)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sagasStarted.WithLabelValues("order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sagasFinished.WithLabelValues("order", string(StatusCompensated))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sagasInFlight.WithLabelValues("order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepCalls.WithLabelValues("order", "pay", callForward, "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepCalls.WithLabelValues("order", "create", callCompensate, "success")))
}
