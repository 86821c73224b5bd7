// Package ggovhttp serves an HTTP API over a running [ggov.Governance].
package ggovhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gordian-engine/ggov/gcrypto"
	"github.com/gordian-engine/ggov/gdml"
	"github.com/gordian-engine/ggov/ggov"
)

type HTTPServer struct {
	done chan struct{}
}

type HTTPServerConfig struct {
	Listener net.Listener

	Governance *ggov.Governance

	CryptoRegistry *gcrypto.Registry

	// NetworkConfig and Peers are used when submitting votes.
	NetworkConfig gdml.NetworkConfig
	Peers         *gdml.KnownPeers

	// Voter signs votes submitted through POST /votes.
	// If nil, the route responds 501.
	Voter gcrypto.Signer

	// Gatherer backs GET /metrics.
	// If nil, the route is not registered.
	Gatherer prometheus.Gatherer
}

func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg HTTPServerConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/state", handleState(log, cfg)).Methods("GET")
	r.HandleFunc("/votes", handleVote(log, cfg)).Methods("POST")
	r.HandleFunc("/advance", handleAdvance(log, cfg)).Methods("POST")

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	Height uint64

	// Votes maps each hex agenda hash to registry-encoded voter keys.
	Votes map[ggov.AgendaHash][][]byte
}

func handleState(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	g := cfg.Governance
	reg := cfg.CryptoRegistry
	return func(w http.ResponseWriter, req *http.Request) {
		s, err := g.Read(req.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read state: %v", err), http.StatusServiceUnavailable)
			return
		}

		resp := StateResponse{
			Height: s.Height,
			Votes:  make(map[ggov.AgendaHash][][]byte, len(s.Votes)),
		}
		for agenda, voters := range s.Votes {
			enc := make([][]byte, len(voters))
			for i, v := range voters {
				enc[i] = reg.Marshal(v)
			}
			resp.Votes[agenda] = enc
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("Failed to marshal state response", "err", err)
			return
		}
	}
}

// VoteRequest is the body of POST /votes.
type VoteRequest struct {
	Agenda ggov.AgendaHash
}

func handleVote(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	g := cfg.Governance
	return func(w http.ResponseWriter, req *http.Request) {
		if cfg.Voter == nil {
			http.Error(w, "this node has no voter key", http.StatusNotImplemented)
			return
		}

		var vr VoteRequest
		if err := json.NewDecoder(req.Body).Decode(&vr); err != nil {
			http.Error(w, fmt.Sprintf("invalid vote request: %v", err), http.StatusBadRequest)
			return
		}

		var peers []gdml.Peer
		if cfg.Peers != nil {
			peers = cfg.Peers.Snapshot()
		}

		if err := g.Vote(req.Context(), cfg.NetworkConfig, peers, vr.Agenda, cfg.Voter); err != nil {
			log.Info("Vote submission failed", "agenda", vr.Agenda, "err", err)
			http.Error(w, err.Error(), statusForError(err))
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// AdvanceRequest is the body of POST /advance.
type AdvanceRequest struct {
	// Height is the height the caller asserts the log is at.
	Height uint64
}

// AdvanceResponse is the body of a successful POST /advance.
type AdvanceResponse struct {
	Height uint64
}

func handleAdvance(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	g := cfg.Governance
	return func(w http.ResponseWriter, req *http.Request) {
		var ar AdvanceRequest
		if err := json.NewDecoder(req.Body).Decode(&ar); err != nil {
			http.Error(w, fmt.Sprintf("invalid advance request: %v", err), http.StatusBadRequest)
			return
		}

		if err := g.Advance(req.Context(), ar.Height); err != nil {
			log.Info("Advance failed", "asserted_height", ar.Height, "err", err)
			http.Error(w, err.Error(), statusForError(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(AdvanceResponse{Height: ar.Height + 1}); err != nil {
			log.Warn("Failed to marshal advance response", "err", err)
			return
		}
	}
}

func statusForError(err error) int {
	switch {
	case errors.As(err, new(ggov.HeightMismatchError)):
		return http.StatusConflict
	case errors.As(err, new(ggov.PropagationError)), errors.As(err, new(ggov.NetworkError)):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
