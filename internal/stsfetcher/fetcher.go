package stsfetcher

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// ServiceName scopes chained-request signatures.
	ServiceName = "sts"
	// DefaultRegion is guaranteed to be available for STS signing. An
	// override may be faster but is not required for correctness.
	DefaultRegion = "us-east-1"

	contentTypeFormURLEncoded = "application/x-www-form-urlencoded"

	// expiredTokenMarker is matched as a substring of 4xx error bodies.
	// The structured XML error payload is not parsed beyond this, so other
	// error codes collapse into FailureNetwork.
	expiredTokenMarker = "ExpiredTokenException"

	// Wire templates. Field order is fixed for interoperability with the
	// credential-issuing service; the timestamp is integer seconds since
	// epoch and doubles as the session name suffix.
	webIdentityBodyFormat = "Action=AssumeRoleWithWebIdentity&Version=2011-06-15&RoleArn=%s&RoleSessionName=session-%d&WebIdentityToken=%s"
	chainedBodyFormat     = "Action=AssumeRole&Version=2011-06-15&RoleArn=%s&RoleSessionName=session-%d"
)

var ErrFetchInProgress = errors.New("a fetch is already in progress on this instance")

// FailureStatus is the closed set of fetch failure reasons. Downstream
// retry/backoff decisions key off it, so it must not grow silently.
type FailureStatus int

const (
	// FailureClusterNotFound - the endpoint's cluster has no resolvable
	// target. Detected before any network I/O.
	FailureClusterNotFound FailureStatus = iota
	// FailureNetwork - transport-level failure, unexpected status code,
	// empty success body or an unrecognised error body.
	FailureNetwork
	// FailureExpiredToken - a 4xx response naming an expired token.
	FailureExpiredToken
)

func (s FailureStatus) String() string {
	switch s {
	case FailureClusterNotFound:
		return "ClusterNotFound"
	case FailureNetwork:
		return "Network"
	case FailureExpiredToken:
		return "ExpiredToken"
	}
	return fmt.Sprintf("FailureStatus(%d)", int(s))
}

// Callbacks receives the outcome of one fetch. Exactly one of the two methods
// fires per Fetch call, after which the fetcher is idle again.
type Callbacks interface {
	OnSuccess(body []byte)
	OnFailure(status FailureStatus)
}

// Fetcher obtains temporary credentials over HTTP. One instance performs at
// most one fetch at a time; concurrent logical fetches need separate
// instances. The zero value is not usable, construct with New.
type Fetcher struct {
	resolver  ClusterResolver
	transport Transport
	newSigner SignerFactory
	now       func() time.Time

	mu        sync.Mutex
	seq       uint64
	inflight  RequestHandle
	callbacks Callbacks
}

func New(resolver ClusterResolver, transport Transport) *Fetcher {
	return &Fetcher{
		resolver:  resolver,
		transport: transport,
		newSigner: NewSigV4Signer,
		now:       time.Now,
	}
}

// WithSignerFactory swaps the signer implementation, e.g. for a deterministic
// stub in tests. The factory is invoked once per chained fetch.
func (f *Fetcher) WithSignerFactory(factory SignerFactory) *Fetcher {
	f.newSigner = factory
	return f
}

// WithClock overrides the timestamp source used in request bodies.
func (f *Fetcher) WithClock(now func() time.Time) *Fetcher {
	f.now = now
	return f
}

// Fetch begins one credential fetch against endpoint. Mode is selected by
// parent: nil exchanges webToken directly, non-nil chain-assumes roleARN with
// a request signed by the parent credentials. The outcome is delivered through
// cb exactly once; when the endpoint's cluster cannot be resolved that happens
// synchronously, before Fetch returns.
//
// Calling Fetch while a fetch is outstanding is a caller bug and returns
// ErrFetchInProgress without disturbing the outstanding transaction.
func (f *Fetcher) Fetch(endpoint Endpoint, roleARN, webToken string, parent *Credentials, cb Callbacks) error {
	f.mu.Lock()
	if f.callbacks != nil {
		f.mu.Unlock()
		return ErrFetchInProgress
	}
	f.seq++
	seq := f.seq
	f.callbacks = cb
	f.mu.Unlock()

	base, err := f.resolver.Resolve(endpoint.Cluster)
	if err != nil {
		f.completeNow(FailureClusterNotFound)
		return nil
	}
	target, err := requestURL(base, endpoint.URI)
	if err != nil {
		f.completeNow(FailureClusterNotFound)
		return nil
	}

	now := f.now().Unix()
	var body string
	if parent == nil {
		body = fmt.Sprintf(webIdentityBodyFormat, roleARN, now, webToken)
	} else {
		body = fmt.Sprintf(chainedBodyFormat, roleARN, now)
	}

	req, err := http.NewRequest(http.MethodPost, target.String(), strings.NewReader(body))
	if err != nil {
		f.completeNow(FailureNetwork)
		return nil
	}
	req.Header.Set("Content-Type", contentTypeFormURLEncoded)

	if parent != nil {
		// Fresh signer per call so no hash state survives between
		// unrelated requests. Only Content-Type is attached at this
		// point; the signer contributes x-amz-date and host, which
		// yields the documented signed header set.
		signer := f.newSigner(*parent)
		if err := signer.Sign(req.Context(), req, []byte(body), ServiceName, DefaultRegion); err != nil {
			f.completeNow(FailureNetwork)
			return nil
		}
	}

	handle := f.transport.Send(req, endpoint.Timeout, &fetchListener{f: f, seq: seq})

	f.mu.Lock()
	if f.seq == seq && f.callbacks != nil {
		f.inflight = handle
		f.mu.Unlock()
		return nil
	}
	// The transport completed on another goroutine before the handle could
	// be recorded. Nothing left to own.
	f.mu.Unlock()
	return nil
}

// Cancel discards the outstanding fetch, if any. No callback fires for a
// cancelled transaction once Cancel has returned. Safe to call repeatedly and
// while idle.
func (f *Fetcher) Cancel() {
	f.mu.Lock()
	handle := f.inflight
	if f.callbacks != nil {
		// Invalidate any delivery already racing toward complete().
		f.seq++
	}
	f.inflight = nil
	f.callbacks = nil
	f.mu.Unlock()

	if handle != nil {
		handle.Cancel()
	}
}

// completeNow resolves a transaction before any transport call was issued.
// State is reset before the callback fires so the instance is idle by the
// time the caller observes the outcome.
func (f *Fetcher) completeNow(status FailureStatus) {
	f.mu.Lock()
	cb := f.callbacks
	f.inflight = nil
	f.callbacks = nil
	f.mu.Unlock()

	if cb != nil {
		cb.OnFailure(status)
	}
}

func (f *Fetcher) complete(seq uint64, statusCode int, body []byte, transportErr error) {
	f.mu.Lock()
	if f.seq != seq || f.callbacks == nil {
		// Cancelled, or a stale delivery from a prior transaction.
		f.mu.Unlock()
		return
	}
	cb := f.callbacks
	f.inflight = nil
	f.callbacks = nil
	f.mu.Unlock()

	if transportErr != nil {
		cb.OnFailure(FailureNetwork)
		return
	}

	switch {
	case statusCode == http.StatusOK && len(body) > 0:
		cb.OnSuccess(body)
	case statusCode == http.StatusOK:
		cb.OnFailure(FailureNetwork)
	case statusCode >= 400 && statusCode <= 403 && len(body) > 0:
		if bytes.Contains(body, []byte(expiredTokenMarker)) {
			cb.OnFailure(FailureExpiredToken)
		} else {
			cb.OnFailure(FailureNetwork)
		}
	default:
		cb.OnFailure(FailureNetwork)
	}
}

// fetchListener pins a transport delivery to the transaction that issued it.
type fetchListener struct {
	f   *Fetcher
	seq uint64
}

func (l *fetchListener) OnResponse(statusCode int, body []byte) {
	l.f.complete(l.seq, statusCode, body, nil)
}

func (l *fetchListener) OnError(err error) {
	l.f.complete(l.seq, 0, nil, err)
}
