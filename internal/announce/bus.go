package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rkgitvinay/p2p-file-demo/internal/catalog"
	"github.com/rkgitvinay/p2p-file-demo/internal/directory"
)

// TypeFileAvailable is the only announcement type this node produces.
// Messages with any other type value are ignored without error.
const TypeFileAvailable = "file-available"

// Announcement is the wire payload carried on the announcement topic.
type Announcement struct {
	Type      string `json:"type"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	NodeID    string `json:"nodeId"`
}

// Publisher hands serialized announcements to the outbound pub/sub channel.
// The overlay provides the real implementation; tests substitute fakes.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}

// Bus turns local file-share events into outbound announcements and
// incoming announcements into catalog and directory updates. Incoming
// payloads are untrusted: malformed messages are logged and dropped, never
// allowed past the handler boundary.
type Bus struct {
	publisher Publisher
	catalog   *catalog.Catalog
	dir       *directory.Directory
	localID   string
	verbosity int

	mu        sync.RWMutex
	onApplied func(Announcement)
}

// NewBus creates an announcement bus publishing through pub.
func NewBus(pub Publisher, cat *catalog.Catalog, dir *directory.Directory, verbosity int) *Bus {
	return &Bus{
		publisher: pub,
		catalog:   cat,
		dir:       dir,
		localID:   dir.LocalID(),
		verbosity: verbosity,
	}
}

// SetAppliedCallback registers a callback invoked after an announcement is
// merged into the catalog, local or remote. Runs on its own goroutine.
// Safe to call while announcements are being delivered.
func (b *Bus) SetAppliedCallback(cb func(Announcement)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onApplied = cb
}

func (b *Bus) logf(level int, format string, args ...any) {
	if level > b.verbosity {
		return
	}
	fmt.Printf("[announce] %s\n", fmt.Sprintf(format, args...))
}

// PublishFileAvailable announces that originNodeID hosts filename. The
// announcement is applied to the local catalog before publishing so the
// node can list its own shared files without a network round trip; a
// publish failure does not roll that back.
func (b *Bus) PublishFileAvailable(ctx context.Context, filename string, size int64, originNodeID string) error {
	ann := Announcement{
		Type:      TypeFileAvailable,
		Filename:  filename,
		Size:      size,
		Timestamp: time.Now().UnixMilli(),
		NodeID:    originNodeID,
	}

	b.apply(ann)

	data, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	if err := b.publisher.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish announcement: %w", err)
	}
	b.logf(1, "announced %s (%d bytes)", filename, size)
	return nil
}

// OnAnnouncementReceived handles one raw message from the overlay. Bad
// payloads never take down the coordination layer.
func (b *Bus) OnAnnouncementReceived(raw []byte) {
	var ann Announcement
	if err := json.Unmarshal(raw, &ann); err != nil {
		b.logf(1, "dropping malformed announcement: %v", err)
		return
	}
	if ann.Type != TypeFileAvailable {
		b.logf(2, "ignoring announcement type %q", ann.Type)
		return
	}
	if ann.Filename == "" || ann.NodeID == "" {
		b.logf(1, "dropping announcement with missing fields")
		return
	}
	if ann.NodeID == b.localID {
		// Loopback of our own publish; already applied locally
		return
	}

	b.logf(2, "received announcement: %s hosts %s", ann.NodeID, ann.Filename)
	b.apply(ann)
}

func (b *Bus) apply(ann Announcement) {
	ts := time.UnixMilli(ann.Timestamp)
	b.catalog.AddHostingRecord(ann.Filename, ann.NodeID, ann.Size, ann.NodeID, ts)
	b.dir.AddFileToNode(ann.NodeID, ann.Filename)

	b.mu.RLock()
	cb := b.onApplied
	b.mu.RUnlock()
	if cb != nil {
		go cb(ann)
	}
}
