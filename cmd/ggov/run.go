package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/libp2p/go-libp2p"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/gordian-engine/ggov/cmd/internal/gcmd"
	"github.com/gordian-engine/ggov/gcrypto"
	"github.com/gordian-engine/ggov/gdml"
	"github.com/gordian-engine/ggov/gdml/gdmllibp2p"
	"github.com/gordian-engine/ggov/ggov"
	"github.com/gordian-engine/ggov/ggov/ggovhttp"
	"github.com/gordian-engine/ggov/gwatchdog"
)

const (
	listenIPFlag      = "listen-ip"
	peerFlag          = "peer"
	httpAddrFlag      = "http-addr"
	fetchIntervalFlag = "fetch-interval"
)

func NewRunCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "run INSECURE_PASSPHRASE",

		Short: "Run a governance node with keys derived from the given insecure passphrase",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			// We need a cancelable context if we fail partway through setup.
			// Be sure to defer cancel() after other deferred
			// close and cleanup calls, for types dependent on
			// a parent context cancellation.
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			w, wCtx := gwatchdog.NewWatchdog(ctx, log.With("sys", "watchdog"))
			defer w.Wait()
			defer cancel()
			ctx = wCtx

			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}

			signer, err := gcmd.SignerFromInsecurePassphrase(gcmd.ValidatorKeyPrefix, args[0])
			if err != nil {
				return err
			}
			netPrivKey, err := gcmd.Libp2pKeyFromInsecurePassphrase(gcmd.NetworkKeyPrefix, args[0])
			if err != nil {
				return fmt.Errorf("failed to generate libp2p network key: %w", err)
			}

			peers := gdml.NewKnownPeers()
			for _, a := range parsePeerAddrs(v.GetStringSlice(peerFlag)) {
				ai, err := libp2ppeer.AddrInfoFromString(a)
				if err != nil {
					return fmt.Errorf("invalid --%s %q: %w", peerFlag, a, err)
				}
				peers.Add(gdml.Peer{Name: ai.ID.String(), Addr: a})
			}
			if len(peers.Snapshot()) == 0 {
				log.Warn("No peers configured; relying on other nodes pushing to and fetching from this one")
			}

			store, closeStore, err := openStorage(ctx, v)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					log.Warn("Error closing storage", "err", err)
				}
			}()

			reg := gcrypto.NewEd25519Registry()

			// A fresh log starts at the governance height,
			// so a newly initialized node begins in sync with itself.
			st, err := ggov.LoadState(ctx, store, reg)
			if err != nil {
				return err
			}

			h, err := gdmllibp2p.NewHost(gdmllibp2p.HostOptions{
				Options: []libp2p.Option{
					libp2p.Identity(netPrivKey),

					// The governance log adds its own listener when served.
					libp2p.NoListenAddrs,

					// Unsure if this is something we always want.
					// Can be controlled by a flag later if undesirable by default.
					libp2p.ForceReachabilityPublic(),
				},
			})
			if err != nil {
				return fmt.Errorf("failed to create libp2p host: %w", err)
			}
			defer func() {
				if err := h.Close(); err != nil {
					log.Warn("Error closing libp2p host", "err", err)
				}
			}()

			dml, err := gdmllibp2p.NewLog(ctx, log.With("sys", "dml"), gdmllibp2p.Config{
				Host:           h,
				CryptoRegistry: reg,
				Storage:        store,
				InitialHeight:  st.Height,
			})
			if err != nil {
				return fmt.Errorf("failed to open governance log: %w", err)
			}

			promReg := prometheus.NewRegistry()
			promReg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			g, err := ggov.Open(ctx, log.With("sys", "gov"), ggov.Config{
				DML:            dml,
				Storage:        store,
				CryptoRegistry: reg,
				Metrics:        ggov.NewMetrics(promReg),
			})
			if err != nil {
				return err
			}

			nc := gdml.NetworkConfig{
				Signer:   signer,
				ListenIP: v.GetString(listenIPFlag),
			}

			hdl, err := g.Serve(ctx, nc, peers)
			if err != nil {
				return err
			}
			defer func() {
				hdl.Stop()
				if err := hdl.Wait(); err != nil {
					log.Warn("Governance log server stopped with error", "err", err)
				}
			}()

			if addr := v.GetString(httpAddrFlag); addr != "" {
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return fmt.Errorf("failed to listen for HTTP on %q: %w", addr, err)
				}

				srv := ggovhttp.NewHTTPServer(ctx, log.With("sys", "http"), ggovhttp.HTTPServerConfig{
					Listener: ln,

					Governance:     g,
					CryptoRegistry: reg,

					NetworkConfig: nc,
					Peers:         peers,

					Voter:    signer,
					Gatherer: promReg,
				})
				defer srv.Wait()
				defer cancel()

				log.Info("Started HTTP server", "addr", ln.Addr().String())
			}

			log.Info(
				"Governance node running",
				"validator_pubkey", fmt.Sprintf("%x", signer.PubKey().PubKeyBytes()),
				"libp2p_id", h.Libp2pHost().ID(),
				"height", st.Height,
			)
			log.Info("Press ^c to stop")

			fetchPeriodically(ctx, log, w, g, nc, peers, v.GetDuration(fetchIntervalFlag))

			if gwatchdog.IsTermination(ctx) {
				return context.Cause(ctx)
			}
			return nil
		},
	}

	addStoreFlags(cmd.Flags())
	cmd.Flags().String(listenIPFlag, "", "IPv4 address to serve the governance log on (all interfaces if empty)")
	cmd.Flags().StringArray(peerFlag, nil, "Multiaddr, including /p2p/ID, of another governance node (may be repeated)")
	cmd.Flags().String(httpAddrFlag, "", "TCP address of the governance HTTP API; if blank, the API is not started")
	cmd.Flags().Duration(fetchIntervalFlag, 5*time.Second, "How often to fetch votes from peers")

	return cmd
}

// fetchPeriodically fetches from peers every interval until ctx is canceled.
// The loop is monitored by w, so a fetch wedged past its timeout stops the node.
func fetchPeriodically(
	ctx context.Context,
	log *slog.Logger,
	w *gwatchdog.Watchdog,
	g *ggov.Governance,
	nc gdml.NetworkConfig,
	peers *gdml.KnownPeers,
	interval time.Duration,
) {
	if interval <= 0 {
		log.Warn("Periodic fetch disabled", "interval", interval)
		<-ctx.Done()
		return
	}

	sigCh := w.Monitor(gwatchdog.MonitorConfig{
		Name:     "fetch",
		Interval: 4 * interval, Jitter: interval,

		// One fetch is bounded by interval.
		ResponseTimeout: 2*interval + time.Second,
	})

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return
		case sig := <-sigCh:
			close(sig.Alive)
		case <-t.C:
			fctx, cancel := context.WithTimeout(ctx, interval)
			err := g.Fetch(fctx, nc, peers.Snapshot())
			cancel()
			if err != nil && ctx.Err() == nil {
				log.Info("Periodic fetch failed", "err", err)
			}
		}
	}
}
