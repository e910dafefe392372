package stsfetcher

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// ResponseListener receives the outcome of one transport send. Exactly one of
// the two methods is invoked unless the request handle is cancelled first, in
// which case neither fires after Cancel returns.
type ResponseListener interface {
	OnResponse(statusCode int, body []byte)
	OnError(err error)
}

// RequestHandle cancels an in-flight send. Cancel is idempotent.
type RequestHandle interface {
	Cancel()
}

// Transport sends a fully formed request asynchronously and reports to the
// listener. Implementations must never invoke the listener from within Send.
type Transport interface {
	Send(req *http.Request, timeout time.Duration, listener ResponseListener) RequestHandle
}

// HTTPTransport is the production Transport on net/http.
type HTTPTransport struct {
	Client *http.Client
}

func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{Client: client}
}

func (t *HTTPTransport) Send(req *http.Request, timeout time.Duration, listener ResponseListener) RequestHandle {
	ctx := req.Context()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	h := &httpHandle{cancel: cancel}

	go func() {
		defer cancel()
		resp, err := t.Client.Do(req.WithContext(ctx))
		if err != nil {
			h.deliver(func() { listener.OnError(err) })
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			h.deliver(func() { listener.OnError(err) })
			return
		}
		h.deliver(func() { listener.OnResponse(resp.StatusCode, body) })
	}()

	return h
}

type httpHandle struct {
	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
}

func (h *httpHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	h.cancel()
}

// deliver invokes fn under the handle lock so that a concurrent Cancel either
// observes the delivery complete or suppresses it entirely.
func (h *httpHandle) deliver(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return
	}
	fn()
}
