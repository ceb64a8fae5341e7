package sagaorch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HeaderTransactionID carries the saga transaction id on participant calls.
const HeaderTransactionID = "X-Saga-Transaction-Id"

const (
	maxResponseBody = 1 << 20
	maxReasonBody   = 256
)

type ctxKeyTransactionID struct{}

// ContextWithTransactionID returns a context carrying the saga transaction id.
func ContextWithTransactionID(ctx context.Context, txID string) context.Context {
	return context.WithValue(ctx, ctxKeyTransactionID{}, txID)
}

// TransactionIDFromContext returns the saga transaction id carried by ctx.
func TransactionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	txID, _ := ctx.Value(ctxKeyTransactionID{}).(string)
	return txID
}

// HTTPExecutor calls participants with a JSON POST to the step address. Any
// 2xx reply is a success and its body becomes the step's response payload.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an executor using client, or a default client when
// nil. Deadlines come from the call context, so client needs no Timeout.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) Invoke(ctx context.Context, address string, payload json.RawMessage) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(payload))
	if err != nil {
		return Failed(fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if txID := TransactionIDFromContext(ctx); txID != "" {
		req.Header.Set(HeaderTransactionID, txID)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Failed(contextReason(ctx.Err()))
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Failed(ReasonTimeout)
		}
		return Failed(fmt.Sprintf("do request: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if ctx.Err() != nil {
			return Failed(contextReason(ctx.Err()))
		}
		return Failed(fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := fmt.Sprintf("status %d", resp.StatusCode)
		if msg := strings.TrimSpace(string(body)); msg != "" {
			if len(msg) > maxReasonBody {
				msg = msg[:maxReasonBody]
			}
			reason += ": " + msg
		}
		return Failed(reason)
	}

	return Succeeded(opaquePayload(body))
}

// opaquePayload keeps JSON bodies as-is and wraps anything else as a JSON
// string.
func opaquePayload(body []byte) json.RawMessage {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return wrapped
}
