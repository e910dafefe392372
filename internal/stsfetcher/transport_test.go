package stsfetcher_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jbohanon/aws-sts-fetch/internal/stsfetcher"
)

type listenerRecorder struct {
	responses chan listenerResponse
	errs      chan error
}

type listenerResponse struct {
	statusCode int
	body       string
}

func newListenerRecorder() *listenerRecorder {
	return &listenerRecorder{
		responses: make(chan listenerResponse, 1),
		errs:      make(chan error, 1),
	}
}

func (l *listenerRecorder) OnResponse(statusCode int, body []byte) {
	l.responses <- listenerResponse{statusCode: statusCode, body: string(body)}
}

func (l *listenerRecorder) OnError(err error) {
	l.errs <- err
}

func Test_HTTPTransport_delivers_response(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST got %s", r.Method)
		}
		w.WriteHeader(403)
		w.Write([]byte("ExpiredTokenException"))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("Action=AssumeRole"))
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}

	listener := newListenerRecorder()
	transport := stsfetcher.NewHTTPTransport(srv.Client())
	transport.Send(req, 5*time.Second, listener)

	select {
	case resp := <-listener.responses:
		if resp.statusCode != 403 {
			t.Errorf("got %d, wanted 403", resp.statusCode)
		}
		if resp.body != "ExpiredTokenException" {
			t.Errorf("got %q", resp.body)
		}
	case err := <-listener.errs:
		t.Fatalf("got %s, wanted a response", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}
}

func Test_HTTPTransport_timeout_is_an_error(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("Action=AssumeRole"))
	listener := newListenerRecorder()
	transport := stsfetcher.NewHTTPTransport(srv.Client())
	transport.Send(req, 50*time.Millisecond, listener)

	select {
	case <-listener.errs:
	case resp := <-listener.responses:
		t.Fatalf("got a response %v, wanted an error", resp)
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}
}

func Test_HTTPTransport_cancel_suppresses_delivery(t *testing.T) {
	reached := make(chan struct{}, 1)
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached <- struct{}{}
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("Action=AssumeRole"))
	listener := newListenerRecorder()
	transport := stsfetcher.NewHTTPTransport(srv.Client())
	handle := transport.Send(req, 5*time.Second, listener)

	<-reached
	handle.Cancel()

	select {
	case resp := <-listener.responses:
		t.Fatalf("delivery after cancel: %v", resp)
	case err := <-listener.errs:
		t.Fatalf("delivery after cancel: %s", err)
	case <-time.After(200 * time.Millisecond):
	}
}
