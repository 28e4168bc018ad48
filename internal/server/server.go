package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rkgitvinay/p2p-file-demo/internal/announce"
	"github.com/rkgitvinay/p2p-file-demo/internal/config"
	"github.com/rkgitvinay/p2p-file-demo/internal/directory"
	"github.com/rkgitvinay/p2p-file-demo/internal/pidfile"
	"github.com/rkgitvinay/p2p-file-demo/internal/query"
	"github.com/rkgitvinay/p2p-file-demo/internal/storage"
)

// Server exposes the HTTP boundary consumed by the UI: file sharing,
// network status, download routing and a WebSocket event feed.
type Server struct {
	ctx         context.Context
	cancel      context.CancelFunc
	httpServer  *http.Server
	engine      *gin.Engine
	facade      *query.Facade
	bus         *announce.Bus
	dir         *directory.Directory
	store       *storage.Store
	cfg         *config.Config
	port        int
	verbosity   int
	mu          sync.RWMutex
	connections map[*WSConnection]bool
}

// New creates the HTTP server and registers it for directory and
// announcement change events, which are fanned out to WebSocket clients.
func New(ctx context.Context, cfg *config.Config, facade *query.Facade, bus *announce.Bus, dir *directory.Directory, store *storage.Store) *Server {
	ctx, cancel := context.WithCancel(ctx)
	s := &Server{
		ctx:         ctx,
		cancel:      cancel,
		facade:      facade,
		bus:         bus,
		dir:         dir,
		store:       store,
		cfg:         cfg,
		port:        cfg.Server.Port,
		verbosity:   cfg.Behavior.Verbosity,
		connections: make(map[*WSConnection]bool),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.POST("/share", s.handleShare)
	engine.GET("/network-status", s.handleNetworkStatus)
	engine.GET("/download/:nodeId/:filename", s.handleDownload)
	engine.GET("/ws", s.handleWebSocket)
	s.engine = engine

	dir.SetChangeCallback(s.onNodeChange)
	bus.SetAppliedCallback(s.onAnnouncementApplied)

	return s
}

// Start listens on the first free port in the configured range and serves
// in the background.
func (s *Server) Start() error {
	startPort := s.cfg.Server.Port
	if startPort == 0 {
		startPort = 10000
	}

	var listener net.Listener
	var err error
	for attempt := 0; attempt < s.cfg.Server.PortRange; attempt++ {
		port := startPort + attempt
		listener, err = net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			s.port = port
			break
		}
	}
	if listener == nil {
		return fmt.Errorf("failed to find available port starting from %d", startPort)
	}

	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.cfg.Server.Timeouts.Read.Duration,
		WriteTimeout:      s.cfg.Server.Timeouts.Write.Duration,
		IdleTimeout:       s.cfg.Server.Timeouts.Idle.Duration,
		ReadHeaderTimeout: s.cfg.Server.Timeouts.ReadHeader.Duration,
		MaxHeaderBytes:    s.cfg.Server.MaxHeaderBytes,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("HTTP server error: %v\n", err)
		}
	}()

	if err := pidfile.Register(); err != nil {
		fmt.Printf("Warning: failed to register process: %v\n", err)
	}

	fmt.Printf("Server started on http://localhost:%d\n", s.port)
	return nil
}

// Stop closes all WebSocket connections and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	conns := make([]*WSConnection, 0, len(s.connections))
	for conn := range s.connections {
		conns = append(conns, conn)
	}
	s.connections = make(map[*WSConnection]bool)
	s.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}

	var shutdownErr error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr = s.httpServer.Shutdown(ctx)
	}

	if err := pidfile.Unregister(); err != nil {
		fmt.Printf("Warning: failed to unregister process: %v\n", err)
	}

	return shutdownErr
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}

// Done is closed when the server has been stopped or its parent context
// cancelled. Callers select on it to exit alongside the server.
func (s *Server) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Server) logf(level int, format string, args ...any) {
	if level > s.verbosity {
		return
	}
	fmt.Printf("[server] %s\n", fmt.Sprintf(format, args...))
}

// handleShare stores an uploaded file and announces it to the network.
func (s *Server) handleShare(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		s.logf(1, "share: open upload failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}
	defer f.Close()

	size, err := s.store.Save(fileHeader.Filename, f)
	if err != nil {
		s.logf(1, "share: store %s failed: %v", fileHeader.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}

	if err := s.bus.PublishFileAvailable(c.Request.Context(), fileHeader.Filename, size, s.dir.LocalID()); err != nil {
		// Local catalog state already applied stays applied
		s.logf(1, "share: announce %s failed: %v", fileHeader.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to announce file"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "File shared successfully",
		"fileInfo": gin.H{
			"filename": fileHeader.Filename,
			"size":     size,
		},
	})
}

// handleNetworkStatus returns the composed directory and catalog view.
func (s *Server) handleNetworkStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.facade.NetworkStatus())
}

// handleDownload serves a local file, or answers with a routing descriptor
// naming the connected remote node that hosts it. It never dials on
// demand.
func (s *Server) handleDownload(c *gin.Context) {
	nodeID := c.Param("nodeId")
	filename := c.Param("filename")

	target, err := s.facade.ResolveDownloadTarget(nodeID, filename)
	switch {
	case errors.Is(err, query.ErrNotConnected):
		c.JSON(http.StatusNotFound, gin.H{"error": "Node not connected"})
		return
	case errors.Is(err, query.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !target.Local {
		c.JSON(http.StatusOK, gin.H{
			"message":   "File hosted by remote node",
			"nodeId":    target.NodeID,
			"filename":  target.Filename,
			"addresses": target.Addresses,
		})
		return
	}

	f, info, err := s.store.Open(filename)
	if err != nil {
		s.logf(1, "download: open %s failed: %v", filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
		return
	}
	defer f.Close()

	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", f, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename=%q`, filename),
	})
}

// Event fan-out to WebSocket clients

func (s *Server) onNodeChange(rec directory.NodeRecord) {
	eventType := EventPeerDisconnected
	if rec.Status == directory.StatusConnected {
		eventType = EventPeerConnected
	}
	s.broadcast(newEvent(eventType, gin.H{
		"nodeId":  rec.ID,
		"status":  string(rec.Status),
		"address": firstOrEmpty(rec.Addresses),
	}))
}

func (s *Server) onAnnouncementApplied(ann announce.Announcement) {
	s.broadcast(newEvent(EventFileAnnounced, gin.H{
		"filename": ann.Filename,
		"size":     ann.Size,
		"nodeId":   ann.NodeID,
	}))
}

func (s *Server) broadcast(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.connections {
		if err := conn.Send(ev); err != nil {
			s.logf(2, "failed to send event to client: %v", err)
		}
	}
}

func firstOrEmpty(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}
