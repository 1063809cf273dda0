// Command hycastd is the CLI driver spec.md names as an external
// collaborator: it wires flags into a Shipper or a Receiver and performs no
// protocol logic of its own.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/s-emmerson/hycast/mcastpub"
	"github.com/s-emmerson/hycast/peer"
	"github.com/s-emmerson/hycast/peer/impl"
	"github.com/s-emmerson/hycast/ship"
	"github.com/s-emmerson/hycast/store"
	"github.com/s-emmerson/hycast/transport/mcast"
	"github.com/s-emmerson/hycast/transport/msrt"
	"github.com/s-emmerson/hycast/types"
)

func main() {
	app := &cli.App{
		Name:  "hycastd",
		Usage: "content-addressed multicast product dissemination",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "group", Usage: "multicast group address, host:port", Required: true},
			&cli.StringFlag{Name: "iface", Usage: "network interface to join the group on"},
			&cli.StringFlag{Name: "listen", Usage: "address to accept peer connections on", Value: ":0"},
			&cli.StringSliceFlag{Name: "peer", Usage: "host:port of a peer to dial, repeatable"},
			&cli.IntFlag{Name: "residence-seconds", Value: 3600, Usage: "seconds a complete product lingers before eviction"},
			&cli.StringFlag{Name: "persistence-path", Usage: "path to a store snapshot, read on startup and written on shutdown"},
			&cli.IntFlag{Name: "hop-limit", Value: 1, Usage: "multicast TTL, 0..255"},
			&cli.BoolFlag{Name: "mcast-loop", Usage: "loop multicast traffic back to the sending host"},
			&cli.IntFlag{Name: "chunk-size", Value: 32760, Usage: "canonical chunk size in bytes"},
			&cli.UintFlag{Name: "protocol-version", Value: 1, Usage: "negotiated protocol version"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Commands: []*cli.Command{
			{
				Name:      "publish",
				Usage:     "ship files given on the command line to the multicast group",
				ArgsUsage: "FILE...",
				Action:    runPublish,
			},
			{
				Name:   "subscribe",
				Usage:  "join the multicast group and backfill missing chunks from peers",
				Action: runSubscribe,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hycastd:", err)
		os.Exit(1)
	}
}

func setupLogger(c *cli.Context) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.String("log-level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)
	return logger
}

func mcastConfig(c *cli.Context) (mcast.Config, error) {
	addr, err := net.ResolveUDPAddr("udp4", c.String("group"))
	if err != nil {
		return mcast.Config{}, err
	}
	cfg := mcast.Config{
		GroupAddr: addr,
		TTL:       c.Int("hop-limit"),
		Loopback:  c.Bool("mcast-loop"),
	}
	if name := c.String("iface"); name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return mcast.Config{}, err
		}
		cfg.Iface = ifi
	}
	return cfg, nil
}

func storeConfig(c *cli.Context, onComplete store.CompletionFunc) store.Config {
	return store.Config{
		Residence:       time.Duration(c.Int("residence-seconds")) * time.Second,
		PersistencePath: c.String("persistence-path"),
		OnComplete:      onComplete,
	}
}

// dialPeers connects to every --peer address and wraps each connection as a
// peer.Peer reporting upcalls to rcvr.
func dialPeers(ctx context.Context, c *cli.Context, version uint32, rcvr peer.Rcvr, logger zerolog.Logger) ([]peer.Peer, error) {
	var peers []peer.Peer
	for _, addr := range c.StringSlice("peer") {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dialing peer %s: %w", addr, err)
		}
		p, err := impl.New(ctx, msrt.New(conn), peer.Configuration{Version: version, Rcvr: rcvr, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("handshaking with peer %s: %w", addr, err)
		}
		if err := p.Start(ctx); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// acceptPeers listens on --listen and spawns a peer.Peer per accepted
// connection, registering it with register as each handshake completes.
func acceptPeers(ctx context.Context, addr string, version uint32, rcvr peer.Rcvr, logger zerolog.Logger, register func(peer.Peer)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info().Str("addr", ln.Addr().String()).Msg("accepting peer connections")
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				p, err := impl.New(ctx, msrt.New(conn), peer.Configuration{Version: version, Rcvr: rcvr, Logger: logger})
				if err != nil {
					logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("peer handshake failed")
					conn.Close()
					return
				}
				if err := p.Start(ctx); err != nil {
					logger.Warn().Err(err).Msg("failed to start accepted peer")
					return
				}
				register(p)
			}()
		}
	}()
	return nil
}

func runPublish(c *cli.Context) error {
	logger := setupLogger(c)
	ctx, cancel := signalContext()
	defer cancel()

	version := uint32(c.Uint("protocol-version"))

	mc, err := mcastConfig(c)
	if err != nil {
		return err
	}
	sender, err := mcast.NewSender(mc)
	if err != nil {
		return err
	}
	defer sender.Close()

	st, err := store.NewStore(storeConfig(c, nil))
	if err != nil {
		return err
	}
	shipper := ship.NewShipper(st, mcastpub.NewSender(version, sender))

	go func() {
		if err := st.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("store reaper exited")
		}
	}()

	if err := acceptPeers(ctx, c.String("listen"), version, shipper, logger, shipper.AddPeer); err != nil {
		return err
	}
	dialed, err := dialPeers(ctx, c, version, shipper, logger)
	if err != nil {
		return err
	}
	for _, p := range dialed {
		shipper.AddPeer(p)
	}

	for _, path := range c.Args().Slice() {
		prod, err := loadProduct(path, types.ChunkSize(c.Int("chunk-size")))
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		if err := shipper.Ship(ctx, prod); err != nil {
			return fmt.Errorf("shipping %s: %w", path, err)
		}
		logger.Info().Str("path", path).Str("prodInfo", prod.Info.String()).Msg("shipped")
	}

	<-ctx.Done()
	return st.Close(context.Background())
}

func runSubscribe(c *cli.Context) error {
	logger := setupLogger(c)
	ctx, cancel := signalContext()
	defer cancel()

	version := uint32(c.Uint("protocol-version"))

	mc, err := mcastConfig(c)
	if err != nil {
		return err
	}
	mcastRecv, err := mcast.NewReceiver(mc)
	if err != nil {
		return err
	}
	defer mcastRecv.Close()

	st, err := store.NewStore(storeConfig(c, func(info types.ProdInfo, data []byte) {
		logger.Info().Str("prodInfo", info.String()).Int("bytes", len(data)).Msg("product complete")
	}))
	if err != nil {
		return err
	}
	receiver := ship.NewReceiver(st)

	if err := acceptPeers(ctx, c.String("listen"), version, receiver, logger, receiver.AddPeer); err != nil {
		return err
	}
	dialed, err := dialPeers(ctx, c, version, receiver, logger)
	if err != nil {
		return err
	}
	for _, p := range dialed {
		receiver.AddPeer(p)
	}

	go func() {
		if err := receiver.RunBackfill(ctx, ship.BackfillConfig{}); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("backfill loop exited")
		}
	}()

	mrcvr := mcastpub.NewReceiver(version, mcastRecv, receiver)
	go func() {
		if err := mrcvr.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("multicast receive loop exited")
		}
	}()

	go func() {
		if err := st.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("store reaper exited")
		}
	}()

	<-ctx.Done()
	return st.Close(context.Background())
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}

// loadProduct reads the whole file at path into memory and builds a
// types.Product from it, since a CLI driver has no business streaming. Its
// ProdIndex is taken from the first four bytes of a fresh xid.
func loadProduct(path string, chunkSize types.ChunkSize) (types.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Product{}, err
	}
	id := xid.New()
	index := types.ProdIndex(binary.BigEndian.Uint32(id[:4]))
	info, err := types.NewProdInfo(index, filepath.Base(path), types.ProdSize(len(data)), chunkSize)
	if err != nil {
		return types.Product{}, err
	}
	return types.Product{Info: info, Data: data}, nil
}
