package ggov

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gordian-engine/ggov/gcrypto"
)

// Vote is a voter's signed support for one agenda.
// It travels as the content of a DML message.
type Vote struct {
	AgendaHash AgendaHash
	Voter      gcrypto.PubKey

	// Signature is the voter's signature over the agenda hash bytes.
	// It does not cover a height, so a record is valid at any height.
	Signature []byte
}

// SignVote returns a vote for agenda signed by voter.
func SignVote(ctx context.Context, agenda AgendaHash, voter gcrypto.Signer) (Vote, error) {
	sig, err := voter.Sign(ctx, agenda[:])
	if err != nil {
		return Vote{}, err
	}

	return Vote{
		AgendaHash: agenda,
		Voter:      voter.PubKey(),
		Signature:  sig,
	}, nil
}

// Verify reports whether v's signature was produced by v.Voter.
func (v Vote) Verify() bool {
	if v.Voter == nil {
		return false
	}
	return v.Voter.Verify(v.AgendaHash[:], v.Signature)
}

type jsonVote struct {
	AgendaHash AgendaHash
	Voter      []byte
	Signature  []byte
}

// MarshalVote encodes v as JSON, with the voter key encoded through reg.
func MarshalVote(reg *gcrypto.Registry, v Vote) []byte {
	b, err := json.Marshal(jsonVote{
		AgendaHash: v.AgendaHash,
		Voter:      reg.Marshal(v.Voter),
		Signature:  v.Signature,
	})
	if err != nil {
		panic(fmt.Errorf("BUG: failed to marshal vote: %w", err))
	}
	return b
}

// UnmarshalVote decodes a vote produced by [MarshalVote].
// It does not verify the signature.
func UnmarshalVote(reg *gcrypto.Registry, b []byte) (Vote, error) {
	var jv jsonVote
	if err := json.Unmarshal(b, &jv); err != nil {
		return Vote{}, fmt.Errorf("failed to decode vote: %w", err)
	}

	if len(jv.Voter) == 0 {
		return Vote{}, fmt.Errorf("vote missing voter")
	}
	voter, err := reg.Unmarshal(jv.Voter)
	if err != nil {
		return Vote{}, fmt.Errorf("failed to decode voter: %w", err)
	}

	return Vote{
		AgendaHash: jv.AgendaHash,
		Voter:      voter,
		Signature:  jv.Signature,
	}, nil
}
