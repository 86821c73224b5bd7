// Package gdmllibp2p contains a [gdml.Log] replicated over libp2p streams.
//
// Pushes and fetches are direct request/response streams
// ([AddProtocolID] and [FetchProtocolID]) carrying snappy-compressed JSON frames,
// so a push can report whether any peer actually accepted the message.
// The open segment and every committed segment are persisted through a [gstore.Storage].
package gdmllibp2p

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	libp2phost "github.com/libp2p/go-libp2p/core/host"
	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/errgroup"

	"github.com/gordian-engine/ggov/gcrypto"
	"github.com/gordian-engine/ggov/gdml"
	"github.com/gordian-engine/ggov/gexchange"
	"github.com/gordian-engine/ggov/gstore"
	"github.com/gordian-engine/ggov/internal/glog"
)

// SegmentFileName is the storage name of the open segment.
const SegmentFileName = "dml.json"

// CommittedSegmentFileName is the storage name of the segment committed at height.
func CommittedSegmentFileName(height uint64) string {
	return fmt.Sprintf("dml-%d.json", height)
}

// StreamTimeout bounds how long a served stream may stay open.
const StreamTimeout = 10 * time.Second

// maxPeerConcurrency limits simultaneous outgoing streams for one push or fetch.
const maxPeerConcurrency = 16

// Config holds the dependencies of a [Log].
type Config struct {
	Host *Host

	// CryptoRegistry encodes message signer keys on the wire and in storage.
	CryptoRegistry *gcrypto.Registry

	// Storage holds the open and committed segments.
	// It may be the same storage that holds governance state.
	Storage gstore.Storage

	// InitialHeight is the height of the open segment
	// when Storage does not yet contain one.
	InitialHeight uint64

	// FetchPageBytes bounds the encoded messages served in one fetch response.
	// Zero means half the maximum frame size.
	FetchPageBytes int
}

// Log is a [gdml.Log] backed by a libp2p host.
type Log struct {
	log *slog.Logger

	h     libp2phost.Host
	reg   *gcrypto.Registry
	store gstore.Storage

	seg *gdml.Segment

	pageBytes int

	// mu serializes segment mutations with their persistence.
	mu sync.Mutex

	// servers counts active Serve handles;
	// stream handlers are removed when it drops to zero.
	servers int

	closed atomic.Bool
}

var _ gdml.Log = (*Log)(nil)

// NewLog loads the open segment from cfg.Storage,
// or creates one at cfg.InitialHeight if none exists.
func NewLog(ctx context.Context, log *slog.Logger, cfg Config) (*Log, error) {
	l := &Log{
		log: log,

		h:     cfg.Host.Libp2pHost(),
		reg:   cfg.CryptoRegistry,
		store: cfg.Storage,

		pageBytes: cfg.FetchPageBytes,
	}
	if l.pageBytes <= 0 {
		l.pageBytes = defaultFetchPageBytes
	}

	b, err := cfg.Storage.ReadFile(ctx, SegmentFileName)
	if err != nil {
		if !errors.Is(err, gstore.ErrFileNotFound) {
			return nil, fmt.Errorf("failed to load segment: %w", err)
		}

		l.seg = gdml.NewSegment(cfg.InitialHeight)
		if err := l.persist(ctx); err != nil {
			return nil, err
		}
		log.Info("Created new DML segment", "height", cfg.InitialHeight)
		return l, nil
	}

	var sf segmentFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("failed to decode segment: %w", err)
	}

	msgs := make([]gdml.Message, 0, len(sf.Messages))
	for _, jm := range sf.Messages {
		m, err := jm.toMessage(cfg.CryptoRegistry)
		if err != nil {
			log.Warn("Dropping undecodable stored message", "err", err)
			continue
		}
		msgs = append(msgs, m)
	}

	l.seg = gdml.NewSegment(sf.Height)
	if dropped := l.seg.Restore(sf.Height, msgs); dropped > 0 {
		log.Warn("Dropped invalid stored messages", "height", sf.Height, "dropped", dropped)
	}
	log.Info("Loaded DML segment", "height", sf.Height, "messages", len(msgs))

	return l, nil
}

// Close fails all further calls with [gdml.ErrLogClosed].
// It does not close the host.
func (l *Log) Close() {
	l.closed.Store(true)
}

func (l *Log) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.closed.Load() {
		return gdml.ErrLogClosed
	}
	return nil
}

// persist writes the open segment. The caller must hold l.mu,
// except during construction.
func (l *Log) persist(ctx context.Context) error {
	height, msgs := l.seg.Snapshot()
	return l.writeSegment(ctx, SegmentFileName, height, msgs)
}

func (l *Log) writeSegment(ctx context.Context, name string, height uint64, msgs []gdml.Message) error {
	b, err := json.Marshal(segmentFile{
		Height:   height,
		Messages: encodeMessages(l.reg, msgs),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal segment: %w", err)
	}
	if err := l.store.AddOrOverwriteFile(ctx, name, b); err != nil {
		return fmt.Errorf("failed to persist segment %q: %w", name, err)
	}
	return nil
}

// addBatch adds msgs to the open segment and persists it once if anything was new.
// It returns the feedback and error for each message.
func (l *Log) addBatch(ctx context.Context, msgs ...gdml.Message) ([]gexchange.Feedback, []error, error) {
	fbs := make([]gexchange.Feedback, len(msgs))
	errs := make([]error, len(msgs))

	l.mu.Lock()
	defer l.mu.Unlock()

	accepted := false
	for i, m := range msgs {
		fbs[i], errs[i] = l.seg.Add(m)
		accepted = accepted || fbs[i] == gexchange.FeedbackAccepted
	}

	if accepted {
		// Memory and storage must not diverge because the caller gave up.
		if err := l.persist(context.WithoutCancel(ctx)); err != nil {
			return fbs, errs, err
		}
	}
	return fbs, errs, nil
}

func (l *Log) Height(ctx context.Context) (uint64, error) {
	if err := l.checkOpen(ctx); err != nil {
		return 0, err
	}
	return l.seg.Height(), nil
}

func (l *Log) AddMessage(ctx context.Context, _ gdml.NetworkConfig, peers []gdml.Peer, msg gdml.Message) error {
	if err := l.checkOpen(ctx); err != nil {
		return err
	}

	fbs, errs, err := l.addBatch(ctx, msg)
	if err != nil {
		return err
	}
	if fbs[0] == gexchange.FeedbackRejected || errs[0] != nil {
		return errs[0]
	}

	if len(peers) == 0 {
		return nil
	}

	jm := toJSONMessage(l.reg, msg)

	results := make([]error, len(peers))
	var eg errgroup.Group
	eg.SetLimit(maxPeerConcurrency)
	for i, p := range peers {
		eg.Go(func() error {
			results[i] = l.push(ctx, p, jm)
			return nil
		})
	}
	_ = eg.Wait()

	failed := make(map[string]error)
	for i, err := range results {
		if err != nil {
			failed[peers[i].Name] = err
		}
	}

	if len(failed) == len(peers) {
		return gdml.NoReachablePeersError{Errs: failed}
	}
	if len(failed) > 0 {
		l.log.Debug(
			"Message pushed to a subset of peers",
			"msg_id", msg.ID(), "delivered", len(peers)-len(failed), "failed", len(failed),
		)
	}
	return nil
}

func (l *Log) push(ctx context.Context, p gdml.Peer, jm jsonMessage) error {
	var resp addResponse
	if err := l.roundTrip(ctx, p, AddProtocolID, jm, &resp); err != nil {
		return err
	}

	if !resp.Feedback.Delivered() {
		return fmt.Errorf("peer responded %s: %s", resp.Feedback, resp.Reason)
	}
	return nil
}

func (l *Log) Fetch(ctx context.Context, _ gdml.NetworkConfig, peers []gdml.Peer) error {
	if err := l.checkOpen(ctx); err != nil {
		return err
	}
	if len(peers) == 0 {
		return nil
	}

	height := l.seg.Height()

	batches := make([][]jsonMessage, len(peers))
	results := make([]error, len(peers))
	var eg errgroup.Group
	eg.SetLimit(maxPeerConcurrency)
	for i, p := range peers {
		eg.Go(func() error {
			batches[i], results[i] = l.fetchPeer(ctx, p, height)
			return nil
		})
	}
	_ = eg.Wait()

	failed := make(map[string]error)
	var msgs []gdml.Message
	for i, p := range peers {
		if results[i] != nil {
			failed[p.Name] = results[i]
			continue
		}
		for _, jm := range batches[i] {
			m, err := jm.toMessage(l.reg)
			if err != nil {
				l.log.Debug("Dropped undecodable fetched message", "peer", p.Name, "err", err)
				continue
			}
			msgs = append(msgs, m)
		}
	}

	if len(failed) == len(peers) {
		return gdml.NoReachablePeersError{Errs: failed}
	}

	fbs, errs, err := l.addBatch(ctx, msgs...)
	if err != nil {
		return err
	}

	var added int
	for i, fb := range fbs {
		switch fb {
		case gexchange.FeedbackAccepted:
			added++
		case gexchange.FeedbackRejected:
			l.log.Debug("Rejected fetched message", "msg_id", msgs[i].ID(), "err", errs[i])
		}
	}
	if added > 0 {
		l.log.Debug("Fetched new messages", "height", height, "added", added, "failed_peers", len(failed))
	}
	return nil
}

// roundTrip writes req to a new stream for pid on p and reads one response frame into resp.
// fetchPeer requests every page of p's segment at height.
// A peer at another height contributes no messages.
func (l *Log) fetchPeer(ctx context.Context, p gdml.Peer, height uint64) ([]jsonMessage, error) {
	var out []jsonMessage
	req := fetchRequest{Height: height}
	for {
		var resp fetchResponse
		if err := l.roundTrip(ctx, p, FetchProtocolID, req, &resp); err != nil {
			return out, err
		}
		if resp.Height != height {
			l.log.Debug(
				"Peer is at a different height",
				"peer", p.Name, "height", height, "peer_height", resp.Height,
			)
			return out, nil
		}
		out = append(out, resp.Messages...)
		if !resp.More {
			return out, nil
		}
		if resp.Next <= req.Offset {
			return out, fmt.Errorf("peer returned non-advancing page offset %d after %d", resp.Next, req.Offset)
		}
		req.Offset = resp.Next
	}
}

func (l *Log) roundTrip(ctx context.Context, p gdml.Peer, pid string, req, resp any) error {
	ai, err := libp2ppeer.AddrInfoFromString(p.Addr)
	if err != nil {
		return fmt.Errorf("invalid peer address %q: %w", p.Addr, err)
	}

	if err := l.h.Connect(ctx, *ai); err != nil {
		return fmt.Errorf("failed to connect to peer: %w", err)
	}

	s, err := l.h.NewStream(ctx, ai.ID, libp2pprotocol.ID(pid))
	if err != nil {
		return fmt.Errorf("failed to open stream to peer: %w", err)
	}
	defer s.Close()

	// Unblock reads and writes if the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = s.Reset() })
	defer stop()

	if err := writeFrame(s, req); err != nil {
		return err
	}
	if err := s.CloseWrite(); err != nil {
		return fmt.Errorf("failed to close stream for write: %w", err)
	}

	if err := readFrame(bufio.NewReader(s), resp); err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}
	return nil
}

func (l *Log) Messages(ctx context.Context, height uint64) ([]gdml.Message, error) {
	if err := l.checkOpen(ctx); err != nil {
		return nil, err
	}
	return l.seg.Messages(height), nil
}

// Advance persists the open segment as committed,
// then persists and opens an empty segment at the next height.
// The in-memory segment only advances once both writes succeed.
func (l *Log) Advance(ctx context.Context) error {
	if err := l.checkOpen(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	height, msgs := l.seg.Snapshot()
	if err := l.writeSegment(ctx, CommittedSegmentFileName(height), height, msgs); err != nil {
		return err
	}
	if err := l.writeSegment(ctx, SegmentFileName, height+1, nil); err != nil {
		return err
	}

	l.seg.Advance()
	l.log.Info("Committed DML segment", "committed_height", height, "messages", len(msgs))
	return nil
}

// Serve installs the DML stream handlers on the host
// until the returned handle is stopped or ctx is canceled.
//
// A nonzero port adds a TCP listener on nc.ListenIP (all interfaces if empty);
// port 0 serves only on the host's existing listeners.
// Known peers are dialed once at startup so that they learn this node's address.
func (l *Log) Serve(ctx context.Context, nc gdml.NetworkConfig, port uint16, peers *gdml.KnownPeers) (*gdml.Handle, error) {
	if err := l.checkOpen(ctx); err != nil {
		return nil, err
	}

	if port != 0 {
		ip := nc.ListenIP
		if ip == "" {
			ip = "0.0.0.0"
		}
		addr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", ip, port))
		if err != nil {
			return nil, fmt.Errorf("invalid listen address: %w", err)
		}
		if err := l.h.Network().Listen(addr); err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	l.mu.Lock()
	if l.servers == 0 {
		l.h.SetStreamHandler(AddProtocolID, l.handleAdd)
		l.h.SetStreamHandler(FetchProtocolID, l.handleFetch)
	}
	l.servers++
	l.mu.Unlock()

	l.log.Info("Serving DML", "id", l.h.ID(), "addrs", l.h.Addrs())

	var known []gdml.Peer
	if peers != nil {
		known = peers.Snapshot()
	}

	return gdml.Go(ctx, func(ctx context.Context) error {
		defer func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.servers--
			if l.servers == 0 {
				l.h.RemoveStreamHandler(AddProtocolID)
				l.h.RemoveStreamHandler(FetchProtocolID)
			}
		}()

		for _, p := range known {
			ai, err := libp2ppeer.AddrInfoFromString(p.Addr)
			if err != nil {
				l.log.Warn("Skipping known peer with invalid address", "peer", p.Name, "err", err)
				continue
			}
			if err := l.h.Connect(ctx, *ai); err != nil {
				l.log.Debug("Failed to dial known peer", "peer", p.Name, "err", err)
			}
		}

		<-ctx.Done()
		return ctx.Err()
	}), nil
}

func (l *Log) handleAdd(s libp2pnetwork.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(StreamTimeout))

	log := l.log.With("handler", "add", "peer_id", s.Conn().RemotePeer())

	var jm jsonMessage
	if err := readFrame(bufio.NewReader(s), &jm); err != nil {
		log.Debug("Failed to read pushed message", "err", err)
		_ = s.Reset()
		return
	}

	var resp addResponse
	m, err := jm.toMessage(l.reg)
	if err != nil {
		resp = addResponse{Feedback: gexchange.FeedbackRejected, Reason: err.Error()}
	} else if l.closed.Load() {
		resp = addResponse{Feedback: gexchange.FeedbackIgnored, Reason: gdml.ErrLogClosed.Error()}
	} else {
		fbs, errs, perr := l.addBatch(context.Background(), m)
		resp.Feedback = fbs[0]
		switch {
		case perr != nil:
			log.Warn("Failed to persist pushed message", "err", perr)
		case errs[0] != nil:
			resp.Reason = errs[0].Error()
			log.Debug(
				"Rejected pushed message",
				"signer", glog.Key{PubKey: m.Signer},
				"sig", glog.Hex(m.Signature),
				"err", errs[0],
			)
		}
	}

	if err := writeFrame(s, resp); err != nil {
		log.Debug("Failed to write add response", "err", err)
	}
}

func (l *Log) handleFetch(s libp2pnetwork.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(StreamTimeout))

	log := l.log.With("handler", "fetch", "peer_id", s.Conn().RemotePeer())

	var req fetchRequest
	if err := readFrame(bufio.NewReader(s), &req); err != nil {
		log.Debug("Failed to read fetch request", "err", err)
		_ = s.Reset()
		return
	}

	height, msgs := l.seg.Snapshot()
	resp := fetchResponse{Height: height}
	if req.Height == height && !l.closed.Load() && req.Offset >= 0 && req.Offset < len(msgs) {
		page, next, skipped, err := paginate(l.reg, msgs, req.Offset, l.pageBytes)
		if err != nil {
			log.Warn("Failed to encode fetch page", "offset", req.Offset, "err", err)
			_ = s.Reset()
			return
		}
		for _, i := range skipped {
			log.Warn("Skipping message too large to serve", "msg_id", msgs[i].ID())
		}
		resp.Messages = page
		resp.Next = next
		resp.More = next < len(msgs)
	}

	if err := writeFrame(s, resp); err != nil {
		log.Warn("Failed to write fetch response", "offset", req.Offset, "err", err)
	}
}
