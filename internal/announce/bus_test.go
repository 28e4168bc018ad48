package announce

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rkgitvinay/p2p-file-demo/internal/catalog"
	"github.com/rkgitvinay/p2p-file-demo/internal/directory"
)

type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, append([]byte(nil), data...))
	return nil
}

func newTestBus(t *testing.T, pub Publisher) (*Bus, *catalog.Catalog, *directory.Directory) {
	t.Helper()
	cat := catalog.New()
	dir := directory.New("local-node", nil, 0)
	return NewBus(pub, cat, dir, 0), cat, dir
}

func TestPublishFileAvailableSelfConsistency(t *testing.T) {
	pub := &fakePublisher{}
	b, cat, dir := newTestBus(t, pub)

	if err := b.PublishFileAvailable(context.Background(), "a.txt", 42, "local-node"); err != nil {
		t.Fatalf("PublishFileAvailable failed: %v", err)
	}

	// Own announcement visible immediately, no round trip needed
	files := cat.ListFiles()
	if len(files) != 1 || files[0].Filename != "a.txt" {
		t.Fatalf("catalog = %v, want a.txt listed", files)
	}
	if !cat.HasHost("a.txt", "local-node") {
		t.Error("local node should be a known host of its own file")
	}
	rec, _ := dir.Get("local-node")
	if len(rec.Files) != 1 || rec.Files[0] != "a.txt" {
		t.Errorf("local node files = %v, want [a.txt]", rec.Files)
	}

	// Wire payload honors the pub/sub contract
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	var ann Announcement
	if err := json.Unmarshal(pub.published[0], &ann); err != nil {
		t.Fatalf("published payload is not valid JSON: %v", err)
	}
	if ann.Type != TypeFileAvailable || ann.Filename != "a.txt" || ann.Size != 42 || ann.NodeID != "local-node" {
		t.Errorf("unexpected payload: %+v", ann)
	}
	if ann.Timestamp == 0 {
		t.Error("payload timestamp not set")
	}
}

func TestPublishFailureKeepsLocalState(t *testing.T) {
	pub := &fakePublisher{err: errors.New("topic closed")}
	b, cat, _ := newTestBus(t, pub)

	err := b.PublishFileAvailable(context.Background(), "a.txt", 42, "local-node")
	if err == nil {
		t.Fatal("expected publish failure")
	}

	// Already-applied catalog state stays applied
	if len(cat.ListFiles()) != 1 {
		t.Error("local catalog update must survive a publish failure")
	}
}

func TestOnAnnouncementReceived(t *testing.T) {
	b, cat, dir := newTestBus(t, &fakePublisher{})

	raw, _ := json.Marshal(Announcement{
		Type:      TypeFileAvailable,
		Filename:  "b.txt",
		Size:      100,
		Timestamp: time.Now().UnixMilli(),
		NodeID:    "node-remote",
	})
	b.OnAnnouncementReceived(raw)

	if !cat.HasHost("b.txt", "node-remote") {
		t.Error("remote announcement not merged into catalog")
	}
	rec, ok := dir.Get("node-remote")
	if !ok {
		t.Fatal("announcing node not recorded in directory")
	}
	if len(rec.Files) != 1 || rec.Files[0] != "b.txt" {
		t.Errorf("node files = %v, want [b.txt]", rec.Files)
	}
}

func TestMalformedAnnouncementIsDropped(t *testing.T) {
	b, cat, dir := newTestBus(t, &fakePublisher{})

	// Must not panic past the handler boundary and must not change state
	b.OnAnnouncementReceived([]byte("\x00\x01 not json"))
	b.OnAnnouncementReceived(nil)
	b.OnAnnouncementReceived([]byte(`{"type":"file-available"}`)) // missing fields

	if len(cat.ListFiles()) != 0 {
		t.Error("malformed announcements must leave the catalog unchanged")
	}
	if len(dir.Snapshot()) != 1 {
		t.Error("malformed announcements must leave the directory unchanged")
	}
}

func TestUnknownAnnouncementTypeIgnored(t *testing.T) {
	b, cat, _ := newTestBus(t, &fakePublisher{})

	raw, _ := json.Marshal(Announcement{
		Type:      "file-removed",
		Filename:  "b.txt",
		NodeID:    "node-remote",
		Timestamp: time.Now().UnixMilli(),
	})
	b.OnAnnouncementReceived(raw)

	if len(cat.ListFiles()) != 0 {
		t.Error("unknown announcement types must be ignored")
	}
}

func TestLoopbackAnnouncementIgnored(t *testing.T) {
	b, cat, _ := newTestBus(t, &fakePublisher{})

	if err := b.PublishFileAvailable(context.Background(), "a.txt", 42, "local-node"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	hostsBefore, _ := cat.HostsOf("a.txt")

	// The overlay may deliver our own message back; it must not double-apply
	raw, _ := json.Marshal(Announcement{
		Type:      TypeFileAvailable,
		Filename:  "a.txt",
		Size:      42,
		Timestamp: time.Now().Add(time.Hour).UnixMilli(),
		NodeID:    "local-node",
	})
	b.OnAnnouncementReceived(raw)

	hostsAfter, _ := cat.HostsOf("a.txt")
	if len(hostsBefore) != len(hostsAfter) || !hostsBefore[0].AnnouncedAt.Equal(hostsAfter[0].AnnouncedAt) {
		t.Error("loopback announcement must be ignored")
	}
}

func TestSetAppliedCallbackDuringDelivery(t *testing.T) {
	b, _, _ := newTestBus(t, &fakePublisher{})

	raw, _ := json.Marshal(Announcement{
		Type:      TypeFileAvailable,
		Filename:  "d.txt",
		Size:      1,
		Timestamp: time.Now().UnixMilli(),
		NodeID:    "node-remote",
	})

	// Callback registration may happen after the overlay has started
	// delivering announcements; both sides must be safe concurrently.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.OnAnnouncementReceived(raw)
		}
	}()
	for i := 0; i < 100; i++ {
		b.SetAppliedCallback(func(Announcement) {})
	}
	<-done
}

func TestAppliedCallback(t *testing.T) {
	b, _, _ := newTestBus(t, &fakePublisher{})

	ch := make(chan Announcement, 1)
	b.SetAppliedCallback(func(a Announcement) { ch <- a })

	raw, _ := json.Marshal(Announcement{
		Type:      TypeFileAvailable,
		Filename:  "c.txt",
		Size:      7,
		Timestamp: time.Now().UnixMilli(),
		NodeID:    "node-remote",
	})
	b.OnAnnouncementReceived(raw)

	select {
	case ann := <-ch:
		if ann.Filename != "c.txt" || ann.NodeID != "node-remote" {
			t.Errorf("unexpected callback payload: %+v", ann)
		}
	case <-time.After(time.Second):
		t.Fatal("applied callback never fired")
	}
}
