// Command peerdropd is a minimal LAN peer-to-peer file transfer daemon
// demonstrating the transfer package: it discovers peers by UDP
// broadcast, exchanges files over a QUIC stream wrapped as a
// transfer.Channel, and persists progress in memory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"peerdrop/transfer"
)

func main() {
	var (
		port      = flag.String("port", "9443", "QUIC listen port")
		sendPath  = flag.String("send", "", "path of a file to send once a peer is found")
		storeDir  = flag.String("store", "", "directory received files are saved to (default: a temp dir)")
		verbose   = flag.Bool("verbose", false, "enable debug logging")
		discoverf = flag.Bool("discover", false, "discover peers and exit")
	)
	flag.Parse()

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *discoverf {
		peers := discoverPeers(logger)
		for _, p := range peers {
			fmt.Printf("%s\t%s\n", p.Hostname, p.Addr)
		}
		return
	}

	if *storeDir == "" {
		dir, err := os.MkdirTemp("", "peerdropd-store-*")
		if err != nil {
			logger.Fatal("create store dir", zap.Error(err))
		}
		*storeDir = dir
	}

	fileStore, err := transfer.NewDiskFileStore(*storeDir)
	if err != nil {
		logger.Fatal("create file store", zap.Error(err))
	}
	progressStore := transfer.NewMemoryProgressStore(transfer.RealClock{})
	svc := transfer.NewTransferService(progressStore, fileStore, transfer.RealClock{}, logger, "")

	svc.OnTransferError = func(peerID transfer.PeerID, transferID transfer.TransferID, err error) {
		logger.Warn("transfer error", zap.Uint64("peer_id", uint64(peerID)), zap.String("transfer_id", string(transferID)), zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go listenForDiscovery(*port, logger)
	go func() {
		err := listenForPeers(ctx, *port, func(stream *quicStreamChannel) {
			handleInboundStream(ctx, svc, logger, stream)
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("quic listener exited", zap.Error(err))
		}
	}()

	logger.Info("peerdropd listening", zap.String("port", *port), zap.String("store", *storeDir))

	if *sendPath != "" {
		go sendToFirstPeer(ctx, svc, logger, *sendPath)
	}

	waitForShutdown(logger)
}

// handleInboundStream wires an accepted QUIC stream's messages into the
// service's demux. peerdropd has no higher-level contact directory, so
// every inbound stream uses the same fixed PeerID(1).
func handleInboundStream(ctx context.Context, svc *transfer.TransferService, logger *zap.Logger, stream *quicStreamChannel) {
	peerID := transfer.PeerID(1)
	logger.Debug("accepted inbound stream", zap.Uint64("peer_id", uint64(peerID)))
	stream.OnMessage(func(data []byte) {
		svc.HandleIncoming(ctx, peerID, stream, data)
	})
}

func sendToFirstPeer(ctx context.Context, svc *transfer.TransferService, logger *zap.Logger, path string) {
	peers := discoverPeers(logger)
	for _, p := range peers {
		channel, err := dialPeer(ctx, p.Addr)
		if err != nil {
			logger.Warn("dial peer failed", zap.String("addr", p.Addr), zap.Error(err))
			continue
		}

		renderer := newConsoleProgress(path)
		transferID, err := svc.SendFile(ctx, transfer.PeerID(1), channel, path, 0, "")
		if err != nil {
			logger.Warn("send_file failed", zap.Error(err))
			return
		}
		logger.Info("send started", zap.String("transfer_id", string(transferID)), zap.String("peer", p.Addr))

		pollTransferUntilDone(svc, transfer.PeerID(1), transferID, renderer)
		return
	}
	logger.Warn("no peers found to send to")
}

func pollTransferUntilDone(svc *transfer.TransferService, peerID transfer.PeerID, transferID transfer.TransferID, renderer *consoleProgress) {
	for {
		active := svc.ActiveTransfers(peerID)
		found := false
		for _, p := range active {
			if p.TransferID != transferID {
				continue
			}
			found = true
			renderer.Update(p)
			if p.State.IsTerminal() {
				return
			}
		}
		if !found {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
}
