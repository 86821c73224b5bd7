// Package ggov is the agenda-governance state machine of a validator node.
//
// Validators sign votes for agenda hashes and submit them to a
// distributed message log ([gdml.Log]).
// Each node fetches the log, verifies every vote record,
// and folds the verified voters into a per-height tally.
// [*Governance.Advance] moves to the next height,
// fenced by the height the caller asserts the log is currently at.
package ggov

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/ggov/gcrypto"
	"github.com/gordian-engine/ggov/gdml"
	"github.com/gordian-engine/ggov/gstore"
	"github.com/gordian-engine/ggov/internal/glog"
	"golang.org/x/sync/semaphore"
)

// ServePort is the fixed port the governance log is served on.
const ServePort uint16 = 123

// Config holds the collaborators of a [Governance].
type Config struct {
	// DML is the log votes are submitted to and fetched from.
	DML gdml.Log

	// Storage holds the state file.
	Storage gstore.Storage

	// CryptoRegistry decodes voter keys in vote records and the state file.
	CryptoRegistry *gcrypto.Registry

	// Metrics is optional.
	Metrics *Metrics
}

// Governance owns the tally for one node.
// It is safe for concurrent use.
type Governance struct {
	log *slog.Logger

	dml   gdml.Log
	store gstore.Storage
	reg   *gcrypto.Registry
	m     *Metrics

	// sem is the single-writer lock over every field below.
	// It is a semaphore rather than a mutex so that waiting honors the caller's context.
	sem *semaphore.Weighted

	height uint64
	votes  tally

	// IDs of log messages already ingested at height,
	// so that replaying the segment only processes new messages.
	seen map[gdml.MessageID]struct{}
}

// Create writes a fresh state at height to s.
// Any existing state is overwritten, so Create must only be called
// once per governance instance.
func Create(ctx context.Context, s gstore.Storage, height uint64) error {
	// An empty state has no voter keys, so no registry is needed to encode it.
	b, err := marshalState(nil, State{Height: height})
	if err != nil {
		panic(fmt.Errorf("BUG: failed to marshal empty state: %w", err))
	}

	if err := s.AddOrOverwriteFile(ctx, StateFileName, b); err != nil {
		return StorageWriteError{Name: StateFileName, Err: err}
	}
	return nil
}

// Open loads the state previously written by [Create] or a prior [*Governance.Advance]
// and returns a Governance bound to cfg.DML.
func Open(ctx context.Context, log *slog.Logger, cfg Config) (*Governance, error) {
	height, t, err := loadState(ctx, cfg.Storage, cfg.CryptoRegistry)
	if err != nil {
		return nil, err
	}

	g := &Governance{
		log: log,

		dml:   cfg.DML,
		store: cfg.Storage,
		reg:   cfg.CryptoRegistry,
		m:     cfg.Metrics,

		sem: semaphore.NewWeighted(1),

		height: height,
		votes:  t,
		seen:   make(map[gdml.MessageID]struct{}),
	}
	g.m.setState(height, len(t), false)

	glog.H(log, height).Info("Opened governance state", "agendas", len(t))
	return g, nil
}

// LoadState reads the persisted state from s without opening a [Governance].
// It fails the same way as [Open].
func LoadState(ctx context.Context, s gstore.Storage, reg *gcrypto.Registry) (State, error) {
	height, t, err := loadState(ctx, s, reg)
	if err != nil {
		return State{}, err
	}
	return State{Height: height, Votes: t.snapshot()}, nil
}

func loadState(ctx context.Context, s gstore.Storage, reg *gcrypto.Registry) (uint64, tally, error) {
	b, err := s.ReadFile(ctx, StateFileName)
	if err != nil {
		if errors.Is(err, gstore.ErrFileNotFound) {
			return 0, nil, NotFoundError{Name: StateFileName}
		}
		return 0, nil, StorageReadError{Name: StateFileName, Err: err}
	}

	height, t, err := unmarshalState(reg, b)
	if err != nil {
		return 0, nil, DeserializationError{Name: StateFileName, Err: err}
	}
	return height, t, nil
}

func (g *Governance) lock(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire governance state: %w", err)
	}
	return nil
}

func (g *Governance) unlock() {
	g.sem.Release(1)
}

// Read returns a snapshot of the current state.
// The snapshot shares no memory with g.
func (g *Governance) Read(ctx context.Context) (State, error) {
	if err := g.lock(ctx); err != nil {
		return State{}, err
	}
	defer g.unlock()

	return State{
		Height: g.height,
		Votes:  g.votes.snapshot(),
	}, nil
}

// Vote signs a vote for agenda with voter, wraps it in a log message
// signed by nc.Signer, and submits it to the log for propagation to peers.
//
// Vote does not change the local tally;
// the vote is counted once it is ingested through [*Governance.Fetch].
//
// The voter signs only the agenda hash.
// The height binding of the outer message signature does not protect the vote record:
// any signer may rewrap a record from an earlier height into a message at the current height,
// and it is counted there.
func (g *Governance) Vote(
	ctx context.Context,
	nc gdml.NetworkConfig,
	peers []gdml.Peer,
	agenda AgendaHash,
	voter gcrypto.Signer,
) error {
	v, err := SignVote(ctx, agenda, voter)
	if err != nil {
		return SignatureError{Err: err}
	}

	// The message targets the log's open segment,
	// which is authoritative even if the local height trails it.
	height, err := g.dml.Height(ctx)
	if err != nil {
		return PropagationError{Err: err}
	}

	msg, err := gdml.NewMessage(ctx, nc.Signer, height, MarshalVote(g.reg, v))
	if err != nil {
		return SignatureError{Err: err}
	}

	if err := g.dml.AddMessage(ctx, nc, peers, msg); err != nil {
		return PropagationError{Err: err}
	}

	g.m.submitted()
	glog.H(g.log, height).Debug(
		"Submitted vote",
		"agenda", agenda,
		"voter", glog.Key{PubKey: v.Voter},
		"msg_id", msg.ID(),
	)
	return nil
}

// Fetch pulls new messages from peers and ingests every vote
// stamped with the current height.
//
// Messages that are not valid votes are logged and dropped;
// they never cause Fetch to fail.
// Fetch replays the whole segment for the height,
// so calling it after a restart rebuilds the tally.
func (g *Governance) Fetch(ctx context.Context, nc gdml.NetworkConfig, peers []gdml.Peer) error {
	if err := g.dml.Fetch(ctx, nc, peers); err != nil {
		return NetworkError{Op: "fetch", Err: err}
	}

	if err := g.lock(ctx); err != nil {
		return err
	}
	defer g.unlock()

	// Reading by the local height while holding the lock
	// means a fetch that raced an advance contributes nothing
	// to the new height: those messages belong to the retired one.
	msgs, err := g.dml.Messages(ctx, g.height)
	if err != nil {
		return NetworkError{Op: "read messages", Err: err}
	}

	g.ingest(msgs)
	return nil
}

// ingest must be called while holding the lock.
func (g *Governance) ingest(msgs []gdml.Message) {
	log := glog.H(g.log, g.height)

	var admitted int
	for _, m := range msgs {
		if m.Height != g.height {
			continue
		}

		id := m.ID()
		if _, ok := g.seen[id]; ok {
			continue
		}
		g.seen[id] = struct{}{}

		v, err := UnmarshalVote(g.reg, m.Content)
		if err != nil {
			log.Warn("Dropping undecodable vote record", "msg_id", id, "err", err)
			g.m.dropped(dropReasonDecode)
			continue
		}

		if !v.Verify() {
			log.Warn(
				"Dropping vote with invalid signature",
				"msg_id", id,
				"agenda", v.AgendaHash,
				"claimed_voter", glog.Key{PubKey: v.Voter},
			)
			g.m.dropped(dropReasonSignature)
			continue
		}

		added := g.votes.add(g.reg, v.AgendaHash, v.Voter)
		g.m.admitted(added)
		if added {
			admitted++
		}
	}

	if admitted > 0 {
		log.Debug("Ingested votes", "admitted", admitted, "agendas", len(g.votes))
	}
	g.m.setState(g.height, len(g.votes), false)
}

// Advance moves governance to the next height, discarding all votes.
//
// heightToAssert is the height the caller believes the log is at.
// If the log reports any other height, Advance returns a [HeightMismatchError]
// and changes nothing.
// If the log fails to advance, Advance returns a [NetworkError]
// and changes nothing.
//
// On success the local height becomes heightToAssert+1, the log's new height,
// and the new empty state is persisted.
// That is not always the prior local height plus one:
// when the local height trailed the log, Advance resynchronizes to the log,
// so callers must read the new height rather than derive it.
// A [StorageWriteError] after a successful log advance
// leaves the in-memory state advanced, matching the log.
func (g *Governance) Advance(ctx context.Context, heightToAssert uint64) error {
	if err := g.lock(ctx); err != nil {
		return err
	}
	defer g.unlock()

	logHeight, err := g.dml.Height(ctx)
	if err != nil {
		return NetworkError{Op: "read height", Err: err}
	}
	if logHeight != heightToAssert {
		g.m.heightMismatch()
		return HeightMismatchError{Want: heightToAssert, Have: logHeight}
	}

	if err := g.dml.Advance(ctx); err != nil {
		return NetworkError{Op: "advance", Err: err}
	}

	// Nothing above mutated local state,
	// so the log and the tally move together from here on.
	prev := g.height
	g.height = heightToAssert + 1
	g.votes = make(tally)
	clear(g.seen)
	g.m.setState(g.height, 0, true)

	log := glog.H(g.log, g.height)
	if prev != heightToAssert {
		log.Warn("Local height was out of sync with the log", "prev_height", prev)
	}
	log.Info("Advanced governance height")

	// The log has already advanced; finish persisting even if the caller gave up.
	b, err := marshalState(g.reg, State{Height: g.height})
	if err != nil {
		panic(fmt.Errorf("BUG: failed to marshal empty state: %w", err))
	}
	if err := g.store.AddOrOverwriteFile(context.WithoutCancel(ctx), StateFileName, b); err != nil {
		glog.HE(g.log, g.height, err).Error("Failed to persist advanced state")
		return StorageWriteError{Name: StateFileName, Err: err}
	}

	return nil
}

// Serve serves the governance log on [ServePort] until the handle is stopped.
func (g *Governance) Serve(ctx context.Context, nc gdml.NetworkConfig, peers *gdml.KnownPeers) (*gdml.Handle, error) {
	h, err := g.dml.Serve(ctx, nc, ServePort, peers)
	if err != nil {
		return nil, NetworkError{Op: "serve", Err: err}
	}
	return h, nil
}
