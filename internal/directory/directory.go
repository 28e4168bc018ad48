package directory

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of a node in the directory.
type Status string

const (
	StatusDiscovered   Status = "discovered"
	StatusDialing      Status = "dialing"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// NodeRecord is a point-in-time copy of the directory's view of a node.
// Snapshot and Get return copies; callers never see the live containers.
type NodeRecord struct {
	ID                    string
	Addresses             []string
	Files                 []string
	Status                Status
	LastSeen              time.Time
	ConnectionAttempts    int
	LastConnectionAttempt time.Time
	LastError             string
	IsLocal               bool
}

type nodeState struct {
	id           string
	addresses    []string // most-recently-seen first
	files        []string
	fileSet      map[string]bool
	status       Status
	lastSeen     time.Time
	attempts     int
	lastAttempt  time.Time
	lastError    string
	isLocal      bool
}

// Directory is the authoritative in-memory map of known nodes.
// All mutations are serialized behind a single mutex; the maps are not
// write-hot so coarse locking is fine.
type Directory struct {
	mu        sync.RWMutex
	nodes     map[string]*nodeState
	localID   string
	verbosity int
	onChange  func(NodeRecord)
}

// New creates a directory seeded with the record for this process.
// The local record is created directly in connected state and never
// transitions or disappears.
func New(localID string, localAddresses []string, verbosity int) *Directory {
	d := &Directory{
		nodes:     make(map[string]*nodeState),
		localID:   localID,
		verbosity: verbosity,
	}
	d.nodes[localID] = &nodeState{
		id:        localID,
		addresses: append([]string(nil), localAddresses...),
		fileSet:   make(map[string]bool),
		status:    StatusConnected,
		lastSeen:  time.Now(),
		isLocal:   true,
	}
	return d
}

// SetChangeCallback registers a callback invoked after a node's status
// changes. The callback receives a copy and runs on its own goroutine.
func (d *Directory) SetChangeCallback(cb func(NodeRecord)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = cb
}

// LocalID returns the id of the record representing this process.
func (d *Directory) LocalID() string {
	return d.localID
}

func (d *Directory) logf(level int, format string, args ...any) {
	if level > d.verbosity {
		return
	}
	fmt.Printf("[directory] %s\n", fmt.Sprintf(format, args...))
}

// UpsertDiscovered records a discovery event for a peer. A new peer gets a
// record in discovered state; a known peer gets its address list merged and
// lastSeen refreshed. Idempotent.
func (d *Directory) UpsertDiscovered(peerID string, knownAddresses []string) {
	if peerID == "" || peerID == d.localID {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.nodes[peerID]
	if !exists {
		n = &nodeState{
			id:      peerID,
			fileSet: make(map[string]bool),
			status:  StatusDiscovered,
		}
		d.nodes[peerID] = n
		d.logf(1, "discovered new node %s", peerID)
	}
	n.mergeAddressesLocked(knownAddresses)
	n.lastSeen = time.Now()
}

// mergeAddressesLocked prepends newly seen addresses, deduplicating while
// keeping most-recently-seen order.
func (n *nodeState) mergeAddressesLocked(addrs []string) {
	if len(addrs) == 0 {
		return
	}
	merged := make([]string, 0, len(addrs)+len(n.addresses))
	seen := make(map[string]bool, len(addrs)+len(n.addresses))
	for _, a := range addrs {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		merged = append(merged, a)
	}
	for _, a := range n.addresses {
		if seen[a] {
			continue
		}
		seen[a] = true
		merged = append(merged, a)
	}
	n.addresses = merged
}

// MarkDialing transitions a node to dialing. No-op (logged) for unknown
// peers and for the local record.
func (d *Directory) MarkDialing(peerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.nodes[peerID]
	if !exists {
		d.logf(1, "markDialing: unknown node %s", peerID)
		return
	}
	if n.isLocal {
		return
	}
	n.status = StatusDialing
	n.lastAttempt = time.Now()
}

// MarkConnected transitions a node to connected, merges the addresses the
// connection was established on, and resets retry bookkeeping.
func (d *Directory) MarkConnected(peerID string, addresses []string) {
	d.mu.Lock()
	n, exists := d.nodes[peerID]
	if !exists {
		d.mu.Unlock()
		d.logf(1, "markConnected: unknown node %s", peerID)
		return
	}
	if n.isLocal {
		d.mu.Unlock()
		return
	}
	n.mergeAddressesLocked(addresses)
	n.status = StatusConnected
	n.lastSeen = time.Now()
	n.attempts = 0
	n.lastError = ""
	rec := n.copyLocked()
	cb := d.onChange
	d.mu.Unlock()

	d.logf(1, "node %s connected", peerID)
	if cb != nil {
		go cb(rec)
	}
}

// MarkDisconnected records a transport-level disconnect. The node becomes
// dial-eligible again.
func (d *Directory) MarkDisconnected(peerID string) {
	d.mu.Lock()
	n, exists := d.nodes[peerID]
	if !exists {
		d.mu.Unlock()
		d.logf(1, "markDisconnected: unknown node %s", peerID)
		return
	}
	if n.isLocal {
		d.mu.Unlock()
		return
	}
	n.status = StatusDisconnected
	rec := n.copyLocked()
	cb := d.onChange
	d.mu.Unlock()

	d.logf(1, "node %s disconnected", peerID)
	if cb != nil {
		go cb(rec)
	}
}

// RecordDialFailure records one failed dial round: the node drops back to
// discovered with the attempt counter bumped and the error remembered.
func (d *Directory) RecordDialFailure(peerID string, dialErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.nodes[peerID]
	if !exists {
		d.logf(1, "recordDialFailure: unknown node %s", peerID)
		return
	}
	if n.isLocal {
		return
	}
	n.status = StatusDiscovered
	n.attempts++
	n.lastAttempt = time.Now()
	if dialErr != nil {
		n.lastError = dialErr.Error()
	}
}

// AddFileToNode records that a node hosts a file. An announcement from an
// unknown node creates a discovered record, since an announcement is
// evidence the node exists and is alive.
func (d *Directory) AddFileToNode(peerID, filename string) {
	if peerID == "" || filename == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.nodes[peerID]
	if !exists {
		n = &nodeState{
			id:      peerID,
			fileSet: make(map[string]bool),
			status:  StatusDiscovered,
		}
		d.nodes[peerID] = n
		d.logf(1, "discovered node %s via announcement", peerID)
	}
	if !n.fileSet[filename] {
		n.fileSet[filename] = true
		n.files = append(n.files, filename)
	}
	n.lastSeen = time.Now()
}

// ShouldDial reports whether a dial attempt for the peer should start now.
// A peer in the backoff suppression window (attempt counter at or past the
// cap) stays suppressed until the window elapses.
func (d *Directory) ShouldDial(peerID string, maxAttempts int, suppressWindow time.Duration) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, exists := d.nodes[peerID]
	if !exists || n.isLocal {
		return false
	}
	if n.status != StatusDiscovered && n.status != StatusDisconnected {
		return false
	}
	if n.attempts >= maxAttempts && time.Since(n.lastAttempt) < suppressWindow {
		return false
	}
	return true
}

// IsConnected reports whether the peer is currently connected.
func (d *Directory) IsConnected(peerID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, exists := d.nodes[peerID]
	return exists && n.status == StatusConnected
}

// Get returns a copy of a single node record.
func (d *Directory) Get(peerID string) (NodeRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, exists := d.nodes[peerID]
	if !exists {
		return NodeRecord{}, false
	}
	return n.copyLocked(), true
}

// Snapshot returns copies of all records, local record first, remaining
// nodes sorted by id for stable output.
func (d *Directory) Snapshot() []NodeRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	records := make([]NodeRecord, 0, len(d.nodes))
	for _, n := range d.nodes {
		records = append(records, n.copyLocked())
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].IsLocal != records[j].IsLocal {
			return records[i].IsLocal
		}
		return records[i].ID < records[j].ID
	})
	return records
}

func (n *nodeState) copyLocked() NodeRecord {
	rec := NodeRecord{
		ID:                    n.id,
		Addresses:             append([]string(nil), n.addresses...),
		Files:                 append([]string(nil), n.files...),
		Status:                n.status,
		LastSeen:              n.lastSeen,
		ConnectionAttempts:    n.attempts,
		LastConnectionAttempt: n.lastAttempt,
		LastError:             n.lastError,
		IsLocal:               n.isLocal,
	}
	sort.Strings(rec.Files)
	return rec
}
