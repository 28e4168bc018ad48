package dialer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/multiformats/go-multiaddr"

	"github.com/rkgitvinay/p2p-file-demo/internal/directory"
)

// Transport attempts a single connection to one address of a peer. The
// overlay provides the real implementation; tests substitute fakes.
type Transport interface {
	Connect(ctx context.Context, peerID string, addr string) error
}

// Transport preference classes, tried in this order within a round.
const (
	classDirect = iota
	classRelayed
	classBrowser
)

// Options bound the retry behavior of a dialer.
type Options struct {
	BaseBackoff    time.Duration // first inter-round delay
	MaxBackoff     time.Duration // cap on inter-round delay growth
	AttemptTimeout time.Duration // per-address connect timeout
	MaxConcurrent  int           // cap on dials in flight across all peers
}

// DefaultOptions returns the standard dial policy.
func DefaultOptions() Options {
	return Options{
		BaseBackoff:    time.Second,
		MaxBackoff:     30 * time.Second,
		AttemptTimeout: 10 * time.Second,
		MaxConcurrent:  8,
	}
}

// Dialer connects to discovered peers with bounded retries, exponential
// backoff between rounds, and a fixed transport preference order. Dial
// outcomes are reported to the peer directory.
type Dialer struct {
	transport Transport
	dir       *directory.Directory
	opts      Options
	verbosity int

	mu       sync.Mutex
	inFlight map[string]bool
	sem      chan struct{}
}

// New creates a dialer reporting outcomes to dir.
func New(transport Transport, dir *directory.Directory, opts Options, verbosity int) *Dialer {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultOptions().MaxConcurrent
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultOptions().BaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultOptions().MaxBackoff
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultOptions().AttemptTimeout
	}
	return &Dialer{
		transport: transport,
		dir:       dir,
		opts:      opts,
		verbosity: verbosity,
		inFlight:  make(map[string]bool),
		sem:       make(chan struct{}, opts.MaxConcurrent),
	}
}

func (d *Dialer) logf(level int, format string, args ...any) {
	if level > d.verbosity {
		return
	}
	fmt.Printf("[dialer] %s\n", fmt.Sprintf(format, args...))
}

// AttemptConnect dials a peer across its candidate addresses for up to
// maxRetries rounds. A concurrent attempt for the same peer is coalesced:
// the second call returns immediately without touching the retry counters.
// On success the directory record is marked connected; after the final
// failed round the last observed error is returned and the node is left in
// discovered state with the failure recorded.
func (d *Dialer) AttemptConnect(ctx context.Context, peerID string, candidateAddresses []string, maxRetries int) error {
	if maxRetries <= 0 {
		return fmt.Errorf("dial %s: maxRetries must be positive", peerID)
	}
	if len(candidateAddresses) == 0 {
		return fmt.Errorf("dial %s: no candidate addresses", peerID)
	}

	d.mu.Lock()
	if d.inFlight[peerID] {
		d.mu.Unlock()
		d.logf(2, "dial already in flight for %s, coalescing", peerID)
		return nil
	}
	d.inFlight[peerID] = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.inFlight, peerID)
		d.mu.Unlock()
	}()

	// Bound concurrent dials to survive a peer-discovery storm
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.sem }()

	d.dir.MarkDialing(peerID)

	ordered := orderByPreference(candidateAddresses)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.opts.BaseBackoff
	bo.Multiplier = 2
	bo.MaxInterval = d.opts.MaxBackoff
	bo.MaxElapsedTime = 0 // the round count is the only bound
	bo.Reset()

	var lastErr error
	for round := 0; round < maxRetries; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, addr := range ordered {
			attemptCtx, cancel := context.WithTimeout(ctx, d.opts.AttemptTimeout)
			err := d.transport.Connect(attemptCtx, peerID, addr)
			cancel()
			if err == nil {
				d.logf(1, "connected to %s via %s", peerID, addr)
				d.dir.MarkConnected(peerID, []string{addr})
				return nil
			}
			lastErr = err
			d.logf(2, "dial %s via %s failed: %v", peerID, addr, err)
		}

		d.dir.RecordDialFailure(peerID, lastErr)

		if round < maxRetries-1 {
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return err
			}
		}
	}

	d.logf(1, "dial %s exhausted %d rounds: %v", peerID, maxRetries, lastErr)
	return fmt.Errorf("dial %s: %w", peerID, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// orderByPreference stably sorts addresses so direct-stream candidates come
// first, relayed second, browser-peer last. Relative order within a class
// is preserved.
func orderByPreference(addrs []string) []string {
	ordered := append([]string(nil), addrs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return classify(ordered[i]) < classify(ordered[j])
	})
	return ordered
}

// classify reads the transport hint embedded in a multiaddr. Unparseable
// addresses are treated as direct so they still get one attempt.
func classify(addr string) int {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return classDirect
	}
	for _, p := range ma.Protocols() {
		switch p.Code {
		case multiaddr.P_CIRCUIT:
			return classRelayed
		case multiaddr.P_WEBRTC, multiaddr.P_WEBRTC_DIRECT, multiaddr.P_WEBTRANSPORT:
			return classBrowser
		}
	}
	return classDirect
}
