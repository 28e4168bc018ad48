package query

import (
	"errors"
	"time"

	"github.com/rkgitvinay/p2p-file-demo/internal/catalog"
	"github.com/rkgitvinay/p2p-file-demo/internal/directory"
	"github.com/rkgitvinay/p2p-file-demo/internal/storage"
)

// Boundary error taxonomy: callers translate these into 404-class results.
var (
	// ErrNotFound covers an unknown node, an unknown file, or a local
	// file missing from storage.
	ErrNotFound = errors.New("not found")
	// ErrNotConnected covers a known remote node that is not currently
	// connected (or not a known host of the requested file).
	ErrNotConnected = errors.New("node not connected")
)

// NodeStatus is one node's row in the network status response.
type NodeStatus struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Files       []string  `json:"files"`
	LastSeen    time.Time `json:"lastSeen"`
	IsLocal     bool      `json:"isLocal"`
	IsConnected bool      `json:"isConnected"`
}

// NetworkStatus is the response shape consumed by the HTTP boundary.
type NetworkStatus struct {
	Nodes          []NodeStatus `json:"nodes"`
	CurrentNode    string       `json:"currentNode"`
	ConnectedPeers []string     `json:"connectedPeers"`
}

// DownloadTarget is the resolved routing decision for a download request.
type DownloadTarget struct {
	Local     bool
	NodeID    string
	Filename  string
	Addresses []string // remote targets only
}

// Facade exposes read-only views over the directory, catalog and store.
// All reads work off point-in-time snapshots; writers are never locked out.
type Facade struct {
	dir   *directory.Directory
	cat   *catalog.Catalog
	store *storage.Store
}

// NewFacade creates a query facade over the given state.
func NewFacade(dir *directory.Directory, cat *catalog.Catalog, store *storage.Store) *Facade {
	return &Facade{dir: dir, cat: cat, store: store}
}

// NetworkStatus composes a directory snapshot into the boundary response.
func (f *Facade) NetworkStatus() NetworkStatus {
	snap := f.dir.Snapshot()

	status := NetworkStatus{
		CurrentNode:    f.dir.LocalID(),
		Nodes:          make([]NodeStatus, 0, len(snap)),
		ConnectedPeers: []string{},
	}
	for _, rec := range snap {
		addr := ""
		if len(rec.Addresses) > 0 {
			addr = rec.Addresses[0]
		}
		files := rec.Files
		if files == nil {
			files = []string{}
		}
		connected := rec.Status == directory.StatusConnected
		status.Nodes = append(status.Nodes, NodeStatus{
			ID:          rec.ID,
			Address:     addr,
			Files:       files,
			LastSeen:    rec.LastSeen,
			IsLocal:     rec.IsLocal,
			IsConnected: connected,
		})
		if connected && !rec.IsLocal {
			status.ConnectedPeers = append(status.ConnectedPeers, rec.ID)
		}
	}
	return status
}

// ListFiles returns the merged network-wide catalog.
func (f *Facade) ListFiles() []catalog.FileEntry {
	return f.cat.ListFiles()
}

// ResolveDownloadTarget decides how a (nodeId, filename) download request
// should be served. It never dials on demand: a remote node is only a valid
// target while it is already connected and a known host of the file.
func (f *Facade) ResolveDownloadTarget(nodeID, filename string) (DownloadTarget, error) {
	rec, ok := f.dir.Get(nodeID)
	if !ok {
		return DownloadTarget{}, ErrNotFound
	}

	if rec.IsLocal {
		if !f.store.Exists(filename) {
			return DownloadTarget{}, ErrNotFound
		}
		return DownloadTarget{Local: true, NodeID: nodeID, Filename: filename}, nil
	}

	if rec.Status != directory.StatusConnected {
		return DownloadTarget{}, ErrNotConnected
	}
	if !f.cat.HasHost(filename, nodeID) {
		return DownloadTarget{}, ErrNotFound
	}
	return DownloadTarget{
		NodeID:    nodeID,
		Filename:  filename,
		Addresses: rec.Addresses,
	}, nil
}
