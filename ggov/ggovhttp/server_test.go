package ggovhttp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/ggov/gcrypto"
	"github.com/gordian-engine/ggov/gcrypto/gcryptotest"
	"github.com/gordian-engine/ggov/gdml"
	"github.com/gordian-engine/ggov/gdml/gdmltest"
	"github.com/gordian-engine/ggov/ggov"
	"github.com/gordian-engine/ggov/gstore/gmemstore"
)

type fixture struct {
	Cfg     HTTPServerConfig
	DML     *gdmltest.Log
	Handler http.Handler
}

func newFixture(t *testing.T, height uint64) *fixture {
	t.Helper()

	ctx := context.Background()
	log := slogt.New(t)

	dml := gdmltest.NewNetwork().NewLog(log, "node", height)
	store := gmemstore.NewStorage()
	reg := gcrypto.NewEd25519Registry()
	promReg := prometheus.NewRegistry()

	require.NoError(t, ggov.Create(ctx, store, height))
	g, err := ggov.Open(ctx, log, ggov.Config{
		DML:            dml,
		Storage:        store,
		CryptoRegistry: reg,
		Metrics:        ggov.NewMetrics(promReg),
	})
	require.NoError(t, err)

	signers := gcryptotest.DeterministicEd25519Signers(2)
	cfg := HTTPServerConfig{
		Governance:     g,
		CryptoRegistry: reg,
		NetworkConfig:  gdml.NetworkConfig{Signer: signers[0]},
		Peers:          gdml.NewKnownPeers(),
		Voter:          signers[1],
		Gatherer:       promReg,
	}

	return &fixture{
		Cfg:     cfg,
		DML:     dml,
		Handler: newMux(log, cfg),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.Handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) state(t *testing.T) StateResponse {
	t.Helper()

	rec := f.do(t, "GET", "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var s StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	return s
}

func TestHTTP_voteFetchAdvance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3)

	agenda := ggov.HashAgenda([]byte("agenda"))

	s := f.state(t)
	require.Equal(t, uint64(3), s.Height)
	require.Empty(t, s.Votes)

	rec := f.do(t, "POST", "/votes", `{"Agenda":"`+agenda.String()+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.NoError(t, f.Cfg.Governance.Fetch(ctx, f.Cfg.NetworkConfig, nil))

	s = f.state(t)
	require.Len(t, s.Votes[agenda], 1)
	require.Equal(t, f.Cfg.CryptoRegistry.Marshal(f.Cfg.Voter.PubKey()), s.Votes[agenda][0])

	rec = f.do(t, "POST", "/advance", `{"Height":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ar AdvanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ar))
	require.Equal(t, uint64(4), ar.Height)

	s = f.state(t)
	require.Equal(t, uint64(4), s.Height)
	require.Empty(t, s.Votes)

	rec = f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ggov_advances_total 1")
}

func TestHTTP_errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)

	t.Run("stale advance", func(t *testing.T) {
		rec := f.do(t, "POST", "/advance", `{"Height":2}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, uint64(3), f.state(t).Height)
	})

	t.Run("malformed advance", func(t *testing.T) {
		rec := f.do(t, "POST", "/advance", `{"Height":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed agenda", func(t *testing.T) {
		rec := f.do(t, "POST", "/votes", `{"Agenda":"abc"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := f.do(t, "GET", "/votes", "")
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHTTP_voteUnreachablePeers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	f.Cfg.Peers.Add(gdml.Peer{Name: "nobody", Addr: "nobody"})

	agenda := ggov.HashAgenda([]byte("agenda"))
	rec := f.do(t, "POST", "/votes", `{"Agenda":"`+agenda.String()+`"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHTTP_noVoter(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	cfg := f.Cfg
	cfg.Voter = nil
	h := newMux(slogt.New(t), cfg)

	agenda := ggov.HashAgenda([]byte("agenda"))
	req := httptest.NewRequest("POST", "/votes", strings.NewReader(`{"Agenda":"`+agenda.String()+`"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHTTPServer_lifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := f.Cfg
	cfg.Listener = ln
	srv := NewHTTPServer(ctx, slogt.New(t), cfg)

	resp, err := http.Get("http://" + ln.Addr().String() + "/state")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	cancel()
	srv.Wait()
}
