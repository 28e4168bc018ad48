package dialer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rkgitvinay/p2p-file-demo/internal/directory"
)

// fakeTransport records every connect attempt and answers from a script.
type fakeTransport struct {
	mu       sync.Mutex
	attempts []string // addresses in attempt order
	failFor  map[string]error
	failAll  error
	block    chan struct{} // if set, Connect blocks until closed
}

func (f *fakeTransport) Connect(ctx context.Context, peerID, addr string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.attempts = append(f.attempts, addr)
	f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	if err, ok := f.failFor[addr]; ok {
		return err
	}
	return nil
}

func (f *fakeTransport) attemptLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attempts...)
}

func testOptions() Options {
	return Options{
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		AttemptTimeout: time.Second,
		MaxConcurrent:  8,
	}
}

func newTestDialer(t *testing.T, transport Transport) (*Dialer, *directory.Directory) {
	t.Helper()
	dir := directory.New("local-node", nil, 0)
	return New(transport, dir, testOptions(), 0), dir
}

const (
	addrDirect  = "/ip4/10.0.0.1/tcp/4001"
	addrRelayed = "/ip4/10.0.0.2/tcp/4001/p2p-circuit"
	addrBrowser = "/ip4/10.0.0.3/udp/4001/webrtc-direct"
)

func TestRetryBound(t *testing.T) {
	transport := &fakeTransport{failAll: errors.New("connection refused")}
	d, dir := newTestDialer(t, transport)
	dir.UpsertDiscovered("node-a", []string{addrDirect})

	start := time.Now()
	err := d.AttemptConnect(context.Background(), "node-a", []string{addrDirect}, 3)
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if !errors.Is(err, transport.failAll) {
		t.Errorf("error should wrap the last observed dial error, got %v", err)
	}

	// Exactly 3 rounds over 1 address = 3 attempts
	if got := len(transport.attemptLog()); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	// Two inter-round backoffs must have elapsed (jittered around 1ms and 2ms)
	if elapsed := time.Since(start); elapsed < time.Millisecond {
		t.Errorf("elapsed %v, want at least the backoff intervals", elapsed)
	}

	rec, _ := dir.Get("node-a")
	if rec.Status != directory.StatusDiscovered {
		t.Errorf("status after exhausted retries = %s, want %s", rec.Status, directory.StatusDiscovered)
	}
	if rec.ConnectionAttempts != 3 {
		t.Errorf("connectionAttempts = %d, want 3", rec.ConnectionAttempts)
	}
	if rec.LastError == "" {
		t.Error("lastError should be recorded")
	}
}

func TestTransportPreferenceOrder(t *testing.T) {
	transport := &fakeTransport{failAll: errors.New("refused")}
	d, dir := newTestDialer(t, transport)
	dir.UpsertDiscovered("node-a", nil)

	// Candidates deliberately in worst-first order
	candidates := []string{addrBrowser, addrRelayed, addrDirect}
	_ = d.AttemptConnect(context.Background(), "node-a", candidates, 1)

	want := []string{addrDirect, addrRelayed, addrBrowser}
	got := transport.attemptLog()
	if len(got) != len(want) {
		t.Fatalf("attempts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attempt %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFirstSuccessShortCircuits(t *testing.T) {
	transport := &fakeTransport{
		failFor: map[string]error{addrDirect: errors.New("refused")},
	}
	d, dir := newTestDialer(t, transport)
	dir.UpsertDiscovered("node-a", nil)

	err := d.AttemptConnect(context.Background(), "node-a", []string{addrRelayed, addrDirect}, 3)
	if err != nil {
		t.Fatalf("AttemptConnect failed: %v", err)
	}

	// Direct failed, relayed succeeded; browser class absent; no second round
	if got := transport.attemptLog(); len(got) != 2 || got[1] != addrRelayed {
		t.Errorf("attempts = %v, want direct then relayed only", got)
	}

	rec, _ := dir.Get("node-a")
	if rec.Status != directory.StatusConnected {
		t.Errorf("status = %s, want %s", rec.Status, directory.StatusConnected)
	}
	if rec.ConnectionAttempts != 0 {
		t.Errorf("attempt counter = %d, want 0 after success", rec.ConnectionAttempts)
	}
}

func TestConcurrentDialsCoalesce(t *testing.T) {
	block := make(chan struct{})
	transport := &fakeTransport{block: block}
	d, dir := newTestDialer(t, transport)
	dir.UpsertDiscovered("node-a", nil)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- d.AttemptConnect(context.Background(), "node-a", []string{addrDirect}, 3)
	}()

	// Wait until the first dial is in flight
	deadline := time.After(time.Second)
	for {
		d.mu.Lock()
		inFlight := d.inFlight["node-a"]
		d.mu.Unlock()
		if inFlight {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first dial never became in-flight")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Second concurrent dial for the same peer must return immediately
	if err := d.AttemptConnect(context.Background(), "node-a", []string{addrDirect}, 3); err != nil {
		t.Fatalf("coalesced dial returned error: %v", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first dial failed: %v", err)
	}

	// Only the first dial may touch the transport
	if got := len(transport.attemptLog()); got != 1 {
		t.Errorf("attempts = %d, want 1 (coalesced dial must not double-count)", got)
	}
	rec, _ := dir.Get("node-a")
	if rec.ConnectionAttempts != 0 {
		t.Errorf("attempt counter = %d, want 0", rec.ConnectionAttempts)
	}
}

func TestCancellationStopsRetryLoop(t *testing.T) {
	transport := &fakeTransport{failAll: errors.New("refused")}
	dir := directory.New("local-node", nil, 0)
	opts := testOptions()
	opts.BaseBackoff = time.Hour // cancellation must cut the backoff short
	d := New(transport, dir, opts, 0)
	dir.UpsertDiscovered("node-a", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.AttemptConnect(ctx, "node-a", []string{addrDirect}, 5)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dial loop did not observe cancellation")
	}
}

func TestClassify(t *testing.T) {
	if classify(addrDirect) != classDirect {
		t.Error("tcp address should classify as direct")
	}
	if classify(addrRelayed) != classRelayed {
		t.Error("p2p-circuit address should classify as relayed")
	}
	if classify(addrBrowser) != classBrowser {
		t.Error("webrtc-direct address should classify as browser")
	}
	if classify("not-a-multiaddr") != classDirect {
		t.Error("unparseable address should fall back to direct")
	}
}
