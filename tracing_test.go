package sagaorch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSagaSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	exec := newFakeExecutor().failOn("pay/do", "declined")
	orch := newTestOrchestrator(t, exec, WithTracerProvider(tp))

	inst, err := orch.ExecuteSaga(context.Background(), "order", &orderTrigger{OrderID: "order-t", Amount: 1})
	require.NoError(t, err)

	spans := recorder.Ended()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	assert.Equal(t, []string{"forward create", "forward pay", "compensate create", "saga order"}, names)

	root := spans[len(spans)-1]
	assert.Equal(t, codes.Error, root.Status().Code)
	for _, s := range spans[:len(spans)-1] {
		assert.Equal(t, root.SpanContext().TraceID(), s.SpanContext().TraceID())
	}

	var sawTx bool
	for _, kv := range root.Attributes() {
		if kv.Key == "saga.transaction_id" {
			sawTx = kv.Value.AsString() == inst.TransactionID
		}
	}
	assert.True(t, sawTx)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
