package catalog

import (
	"sort"
	"sync"
	"time"
)

// HostingPeer is one node known to host a file.
type HostingPeer struct {
	PeerID      string
	AnnouncedAt time.Time
}

// FileEntry is a point-in-time copy of the catalog's view of one file.
// Size, OriginNodeID and FirstAnnouncedAt are set by the first announcement
// observed for the filename and never change afterwards.
type FileEntry struct {
	Filename         string
	Size             int64
	OriginNodeID     string
	FirstAnnouncedAt time.Time
	HostingPeers     []HostingPeer
}

type fileState struct {
	size    int64
	origin  string
	firstAt time.Time
	hosts   map[string]time.Time // peerID -> latest announcement time
}

// Catalog is the merged network-wide view of filename -> hosting nodes.
// Merges are commutative and idempotent; announcements may arrive in any
// order, any number of times, and converge to the same state.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*fileState
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string]*fileState)}
}

// AddHostingRecord merges one announcement into the catalog. The first
// announcement for a filename fixes size and origin metadata; every
// announcement upserts the hosting peer, keeping the latest timestamp per
// peer regardless of arrival order.
func (c *Catalog) AddHostingRecord(filename, peerID string, size int64, originNodeID string, timestamp time.Time) {
	if filename == "" || peerID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[filename]
	if !exists {
		e = &fileState{
			size:    size,
			origin:  originNodeID,
			firstAt: timestamp,
			hosts:   make(map[string]time.Time),
		}
		c.entries[filename] = e
	}
	if prev, ok := e.hosts[peerID]; !ok || timestamp.After(prev) {
		e.hosts[peerID] = timestamp
	}
}

// ListFiles returns copies of all entries, sorted by filename.
func (c *Catalog) ListFiles() []FileEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	files := make([]FileEntry, 0, len(c.entries))
	for name, e := range c.entries {
		files = append(files, e.copyLocked(name))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files
}

// HostsOf returns the hosting peers for a filename, sorted by peer id.
func (c *Catalog) HostsOf(filename string) ([]HostingPeer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[filename]
	if !exists {
		return nil, false
	}
	return e.hostingPeersLocked(), true
}

// HasHost reports whether the given peer is a known host of the file.
func (c *Catalog) HasHost(filename, peerID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[filename]
	if !exists {
		return false
	}
	_, ok := e.hosts[peerID]
	return ok
}

func (e *fileState) copyLocked(name string) FileEntry {
	return FileEntry{
		Filename:         name,
		Size:             e.size,
		OriginNodeID:     e.origin,
		FirstAnnouncedAt: e.firstAt,
		HostingPeers:     e.hostingPeersLocked(),
	}
}

func (e *fileState) hostingPeersLocked() []HostingPeer {
	peers := make([]HostingPeer, 0, len(e.hosts))
	for id, at := range e.hosts {
		peers = append(peers, HostingPeer{PeerID: id, AnnouncedAt: at})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].PeerID < peers[j].PeerID })
	return peers
}
