package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rkgitvinay/p2p-file-demo/internal/announce"
	"github.com/rkgitvinay/p2p-file-demo/internal/catalog"
	"github.com/rkgitvinay/p2p-file-demo/internal/commands"
	"github.com/rkgitvinay/p2p-file-demo/internal/config"
	"github.com/rkgitvinay/p2p-file-demo/internal/dialer"
	"github.com/rkgitvinay/p2p-file-demo/internal/directory"
	"github.com/rkgitvinay/p2p-file-demo/internal/overlay"
	"github.com/rkgitvinay/p2p-file-demo/internal/query"
	"github.com/rkgitvinay/p2p-file-demo/internal/server"
	"github.com/rkgitvinay/p2p-file-demo/internal/storage"
)

var (
	verbose int
	port    int
	dir     string
)

var rootCmd = &cobra.Command{
	Use:   "p2p-file-demo",
	Short: "A peer-to-peer file sharing node",
	Long: `p2p-file-demo runs a peer-to-peer file sharing node.
Each node discovers peers over mDNS and the DHT, announces shared files
over GossipSub, and serves a local HTTP API for sharing, browsing and
downloading files across the network.`,
	RunE: runServe,
}

func init() {
	rootCmd.Flags().CountVarP(&verbose, "verbose", "v", "Verbose output (can be specified multiple times: -v, -vv, -vvv)")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default: auto-select starting from 10000)")
	rootCmd.Flags().StringVar(&dir, "dir", ".", "Directory holding config and file storage")

	rootCmd.AddCommand(commands.PsCmd)
	rootCmd.AddCommand(commands.KillCmd)
	rootCmd.AddCommand(commands.KillAllCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Merge(port, verbose)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	verbosity := cfg.Behavior.Verbosity

	storageDir := cfg.Storage.Dir
	if !filepath.IsAbs(storageDir) {
		storageDir = filepath.Join(dir, storageDir)
	}
	store, err := storage.New(storageDir)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	ov, err := overlay.New(ctx, cfg, storageDir)
	if err != nil {
		return fmt.Errorf("failed to create overlay node: %w", err)
	}
	defer func() {
		if err := ov.Close(); err != nil {
			fmt.Printf("Warning: failed to close overlay node: %v\n", err)
		}
	}()

	fmt.Printf("Node ID: %s\n", ov.LocalID())

	nodeDir := directory.New(ov.LocalID(), ov.Addresses(), verbosity)
	cat := catalog.New()
	dl := dialer.New(ov, nodeDir, dialer.Options{
		BaseBackoff:    cfg.Dial.BaseBackoff.Duration,
		MaxBackoff:     cfg.Dial.MaxBackoff.Duration,
		AttemptTimeout: cfg.Dial.AttemptTimeout.Duration,
		MaxConcurrent:  cfg.Dial.MaxConcurrent,
	}, verbosity)
	bus := announce.NewBus(ov, cat, nodeDir, verbosity)

	if err := ov.Start(nodeDir, dl, bus); err != nil {
		return fmt.Errorf("failed to start overlay node: %w", err)
	}

	facade := query.NewFacade(nodeDir, cat, store)
	srv := server.New(ctx, cfg, facade, bus, nodeDir, store)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			fmt.Printf("Warning: srv.Stop() returned error: %v\n", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case <-srv.Done():
		fmt.Println("Server stopped")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
