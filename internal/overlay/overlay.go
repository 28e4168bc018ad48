// Package overlay wires the libp2p transport stack (host, discovery,
// pub/sub) to the coordination core. It owns no peer or catalog state of
// its own: discovery, connection and announcement events are translated
// into directory, dialer and bus calls.
package overlay

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	discoveryrouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/multiformats/go-multiaddr"

	"github.com/rkgitvinay/p2p-file-demo/internal/announce"
	"github.com/rkgitvinay/p2p-file-demo/internal/config"
	"github.com/rkgitvinay/p2p-file-demo/internal/dialer"
	"github.com/rkgitvinay/p2p-file-demo/internal/directory"
)

const keyFileName = "peer.key"

// Overlay is the adapter between the libp2p stack and the coordination
// core.
type Overlay struct {
	ctx         context.Context
	cancel      context.CancelFunc
	host        host.Host
	dht         *dht.IpfsDHT
	pubsub      *pubsub.PubSub
	topic       *pubsub.Topic
	sub         *pubsub.Subscription
	mdnsService mdns.Service
	cfg         *config.Config
	verbosity   int

	dir    *directory.Directory
	dialer *dialer.Dialer
	bus    *announce.Bus
}

// discoveryNotifee receives mDNS peer-found events.
type discoveryNotifee struct {
	o *Overlay
}

func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	n.o.handleDiscovered(pi)
}

// New builds the libp2p host, DHT, mDNS service and GossipSub instance and
// joins the announcement topic. The node identity is loaded from (or
// created under) storageDir so the peer id survives restarts.
func New(ctx context.Context, cfg *config.Config, storageDir string) (*Overlay, error) {
	ctx, cancel := context.WithCancel(ctx)

	priv, err := loadOrCreateIdentity(storageDir)
	if err != nil {
		cancel()
		return nil, err
	}

	o := &Overlay{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		verbosity: cfg.Behavior.Verbosity,
	}

	var kdht *dht.IpfsDHT
	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings("/ip4/0.0.0.0/tcp/0"), // random port
		libp2p.ConnectionGater(&allowPrivateGater{}),   // allow private/local addresses
		libp2p.EnableRelay(),                           // relay for NAT traversal
		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
		libp2p.EnableHolePunching(),
	}
	if cfg.P2P.EnableDHT {
		opts = append(opts, libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			kdht, err = dht.New(ctx, h, dht.Mode(dht.ModeAutoServer))
			return kdht, err
		}))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create host: %w", err)
	}
	o.host = h
	o.dht = kdht

	if kdht != nil {
		o.bootstrapDHT()
	}

	// GossipSub, with DHT-based discovery when available
	var ps *pubsub.PubSub
	if kdht != nil {
		routingDiscovery := discoveryrouting.NewRoutingDiscovery(kdht)
		ps, err = pubsub.NewGossipSub(ctx, h, pubsub.WithDiscovery(routingDiscovery))
	} else {
		ps, err = pubsub.NewGossipSub(ctx, h)
	}
	if err != nil {
		o.closePartial()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}
	o.pubsub = ps

	topic, err := ps.Join(cfg.P2P.AnnounceTopic)
	if err != nil {
		o.closePartial()
		return nil, fmt.Errorf("failed to join topic: %w", err)
	}
	o.topic = topic

	return o, nil
}

// bootstrapDHT connects to a few bootstrap peers and starts the DHT.
// Failures here are logged, not fatal: the DHT keeps trying on its own.
func (o *Overlay) bootstrapDHT() {
	bootstrapPeers := dht.GetDefaultBootstrapPeerAddrInfos()
	for _, raw := range o.cfg.P2P.BootstrapPeers {
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			o.logf(1, "invalid bootstrap address %q: %v", raw, err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			o.logf(1, "invalid bootstrap address %q: %v", raw, err)
			continue
		}
		bootstrapPeers = append([]peer.AddrInfo{*pi}, bootstrapPeers...)
	}

	connected := 0
	for _, pi := range bootstrapPeers {
		if err := o.host.Connect(o.ctx, pi); err == nil {
			connected++
		}
		// A handful of bootstrap nodes is enough for the DHT
		if connected >= 3 {
			break
		}
	}
	if err := o.dht.Bootstrap(o.ctx); err != nil {
		o.logf(1, "DHT bootstrap warning: %v", err)
	}
}

func (o *Overlay) logf(level int, format string, args ...any) {
	if level > o.verbosity {
		return
	}
	fmt.Printf("[overlay] %s\n", fmt.Sprintf(format, args...))
}

// LocalID returns this node's peer id.
func (o *Overlay) LocalID() string {
	return o.host.ID().String()
}

// Addresses returns the host's listen addresses as multiaddr strings.
func (o *Overlay) Addresses() []string {
	addrs := o.host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

// Start attaches the coordination core and begins translating overlay
// events: mDNS discovery, connection notifications and announcement
// messages.
func (o *Overlay) Start(dir *directory.Directory, dl *dialer.Dialer, bus *announce.Bus) error {
	o.dir = dir
	o.dialer = dl
	o.bus = bus

	sub, err := o.topic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}
	o.sub = sub
	go o.readLoop()

	o.host.Network().Notify(&network.NotifyBundle{
		ConnectedF:    o.onConnected,
		DisconnectedF: o.onDisconnected,
	})

	if o.cfg.P2P.EnableMDNS {
		svc := mdns.NewMdnsService(o.host, o.cfg.P2P.Rendezvous, &discoveryNotifee{o: o})
		if err := svc.Start(); err != nil {
			return fmt.Errorf("failed to start mDNS: %w", err)
		}
		o.mdnsService = svc
	}

	return nil
}

// handleDiscovered records a discovered peer and triggers a dial unless
// the peer is already being dialed, connected, or inside its backoff
// suppression window.
func (o *Overlay) handleDiscovered(pi peer.AddrInfo) {
	id := pi.ID.String()
	if id == o.LocalID() {
		return
	}

	addrs := make([]string, 0, len(pi.Addrs))
	for _, a := range pi.Addrs {
		addrs = append(addrs, a.String())
	}

	o.logf(2, "discovered %s (%d addresses)", id, len(addrs))
	o.dir.UpsertDiscovered(id, addrs)

	if !o.dir.ShouldDial(id, o.cfg.Dial.MaxRetries, o.cfg.Dial.SuppressWindow.Duration) {
		return
	}
	// Dial across everything known about the peer, not just this event:
	// earlier discovery events may have carried addresses this one lacks.
	candidates := addrs
	if rec, ok := o.dir.Get(id); ok && len(rec.Addresses) > 0 {
		candidates = rec.Addresses
	}
	go func() {
		if err := o.dialer.AttemptConnect(o.ctx, id, candidates, o.cfg.Dial.MaxRetries); err != nil {
			o.logf(2, "dial %s: %v", id, err)
		}
	}()
}

func (o *Overlay) onConnected(n network.Network, c network.Conn) {
	id := c.RemotePeer().String()
	o.dir.MarkConnected(id, []string{c.RemoteMultiaddr().String()})
}

func (o *Overlay) onDisconnected(n network.Network, c network.Conn) {
	p := c.RemotePeer()
	// Only report when the last connection to the peer is gone
	if n.Connectedness(p) == network.Connected {
		return
	}
	o.dir.MarkDisconnected(p.String())
}

// readLoop feeds announcement topic messages to the bus.
func (o *Overlay) readLoop() {
	for {
		msg, err := o.sub.Next(o.ctx)
		if err != nil {
			if o.ctx.Err() == nil {
				o.logf(1, "announcement subscription closed: %v", err)
			}
			return
		}
		if msg.ReceivedFrom == o.host.ID() {
			continue
		}
		o.bus.OnAnnouncementReceived(msg.Data)
	}
}

// Publish implements announce.Publisher over the GossipSub topic.
func (o *Overlay) Publish(ctx context.Context, data []byte) error {
	if err := o.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

// Connect implements dialer.Transport: one connection attempt to a single
// address of a peer.
func (o *Overlay) Connect(ctx context.Context, peerID string, addr string) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("invalid peer ID: %w", err)
	}

	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	// Addresses may carry a trailing /p2p/<id> component
	if transport, id := peer.SplitAddr(ma); transport != nil && id != "" {
		ma = transport
	}

	return o.host.Connect(ctx, peer.AddrInfo{ID: pid, Addrs: []multiaddr.Multiaddr{ma}})
}

func (o *Overlay) closePartial() {
	if o.dht != nil {
		_ = o.dht.Close()
	}
	if o.host != nil {
		_ = o.host.Close()
	}
	o.cancel()
}

// Close shuts the overlay down: discovery first, then pubsub, DHT and the
// host.
func (o *Overlay) Close() error {
	o.cancel()

	if o.mdnsService != nil {
		_ = o.mdnsService.Close()
	}
	if o.sub != nil {
		o.sub.Cancel()
	}
	if o.topic != nil {
		_ = o.topic.Close()
	}
	if o.dht != nil {
		_ = o.dht.Close()
	}
	return o.host.Close()
}

// loadOrCreateIdentity reads the node key from storageDir, generating and
// persisting a fresh Ed25519 key on first start.
func loadOrCreateIdentity(storageDir string) (crypto.PrivKey, error) {
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	keyPath := filepath.Join(storageDir, keyFileName)

	if encoded, err := os.ReadFile(keyPath); err == nil {
		keyBytes, err := crypto.ConfigDecodeKey(string(encoded))
		if err != nil {
			return nil, fmt.Errorf("failed to decode peer key: %w", err)
		}
		priv, err := crypto.UnmarshalPrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal peer key: %w", err)
		}
		return priv, nil
	}

	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	keyBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(crypto.ConfigEncodeKey(keyBytes)), 0600); err != nil {
		return nil, fmt.Errorf("failed to save peer key: %w", err)
	}
	return priv, nil
}
