package ggov

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/gordian-engine/ggov/gcrypto"
)

// StateFileName is the storage name of the persisted governance state.
const StateFileName = "state.json"

// State is a snapshot of governance at one height.
type State struct {
	Height uint64

	// Votes maps each agenda to the distinct voters supporting it at Height.
	// Voters are sorted by their encoded key bytes.
	Votes map[AgendaHash][]gcrypto.PubKey
}

// HasVote reports whether voter is recorded as supporting agenda.
func (s State) HasVote(agenda AgendaHash, voter gcrypto.PubKey) bool {
	return slices.ContainsFunc(s.Votes[agenda], func(k gcrypto.PubKey) bool {
		return k.Equal(voter)
	})
}

// tally is the mutable set form of [State.Votes],
// keyed by the registry encoding of each voter.
type tally map[AgendaHash]map[string]gcrypto.PubKey

// add records voter for agenda, reporting whether the pair was new.
func (t tally) add(reg *gcrypto.Registry, agenda AgendaHash, voter gcrypto.PubKey) bool {
	voters := t[agenda]
	if voters == nil {
		voters = make(map[string]gcrypto.PubKey)
		t[agenda] = voters
	}

	k := string(reg.Marshal(voter))
	if _, ok := voters[k]; ok {
		return false
	}
	voters[k] = voter
	return true
}

func (t tally) snapshot() map[AgendaHash][]gcrypto.PubKey {
	out := make(map[AgendaHash][]gcrypto.PubKey, len(t))
	for agenda, voters := range t {
		keys := slices.Sorted(maps.Keys(voters))
		sorted := make([]gcrypto.PubKey, len(keys))
		for i, k := range keys {
			sorted[i] = voters[k]
		}
		out[agenda] = sorted
	}
	return out
}

type jsonState struct {
	Height uint64
	Votes  map[AgendaHash][][]byte
}

func marshalState(reg *gcrypto.Registry, s State) ([]byte, error) {
	js := jsonState{
		Height: s.Height,
		Votes:  make(map[AgendaHash][][]byte, len(s.Votes)),
	}
	for agenda, voters := range s.Votes {
		enc := make([][]byte, len(voters))
		for i, v := range voters {
			enc[i] = reg.Marshal(v)
		}
		slices.SortFunc(enc, bytes.Compare)
		js.Votes[agenda] = enc
	}
	return json.Marshal(js)
}

// unmarshalState decodes a persisted state into its height and tally.
// Duplicate voters in the file collapse into one entry.
func unmarshalState(reg *gcrypto.Registry, b []byte) (uint64, tally, error) {
	var js jsonState
	if err := json.Unmarshal(b, &js); err != nil {
		return 0, nil, err
	}

	t := make(tally, len(js.Votes))
	for agenda, voters := range js.Votes {
		for _, enc := range voters {
			v, err := reg.Unmarshal(enc)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid voter for agenda %s: %w", agenda, err)
			}
			t.add(reg, agenda, v)
		}
	}
	return js.Height, t, nil
}
