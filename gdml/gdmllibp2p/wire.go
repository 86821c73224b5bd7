package gdmllibp2p

import (
	"encoding/json"
	"fmt"

	"github.com/gordian-engine/ggov/gcrypto"
	"github.com/gordian-engine/ggov/gdml"
	"github.com/gordian-engine/ggov/gexchange"
)

// Protocol IDs served by a [Log].
const (
	AddProtocolID   = "/ggov/dml/add/1.0.0"
	FetchProtocolID = "/ggov/dml/fetch/1.0.0"
)

// jsonMessage is the wire and storage form of a [gdml.Message].
type jsonMessage struct {
	Height    uint64
	Content   []byte
	Signer    []byte
	Signature []byte
}

func toJSONMessage(reg *gcrypto.Registry, m gdml.Message) jsonMessage {
	return jsonMessage{
		Height:    m.Height,
		Content:   m.Content,
		Signer:    reg.Marshal(m.Signer),
		Signature: m.Signature,
	}
}

func (jm jsonMessage) toMessage(reg *gcrypto.Registry) (gdml.Message, error) {
	signer, err := reg.Unmarshal(jm.Signer)
	if err != nil {
		return gdml.Message{}, fmt.Errorf("failed to decode message signer: %w", err)
	}
	return gdml.Message{
		Height:    jm.Height,
		Content:   jm.Content,
		Signer:    signer,
		Signature: jm.Signature,
	}, nil
}

type addResponse struct {
	Feedback gexchange.Feedback

	// Reason is set when the message was not accepted.
	Reason string `json:",omitempty"`
}

type fetchRequest struct {
	Height uint64

	// Offset is the index into the segment of the first message to return.
	Offset int
}

type fetchResponse struct {
	// Height is the serving log's current height.
	// Messages is empty when it differs from the requested height.
	Height   uint64
	Messages []jsonMessage

	// Next is the offset to request the following page from,
	// and More reports whether there is such a page.
	Next int
	More bool
}

// segmentFile is the storage form of a segment.
type segmentFile struct {
	Height   uint64
	Messages []jsonMessage
}

// paginate encodes msgs[offset:] into a page whose encoded messages
// total at most budget bytes. A page holds at least one message
// unless the message at offset alone exceeds maxMessageBytes,
// in which case that message is skipped and reported through skipped.
func paginate(
	reg *gcrypto.Registry, msgs []gdml.Message, offset, budget int,
) (page []jsonMessage, next int, skipped []int, err error) {
	total := 0
	next = offset
	for ; next < len(msgs); next++ {
		jm := toJSONMessage(reg, msgs[next])
		b, err := json.Marshal(jm)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("failed to encode message %d: %w", next, err)
		}
		if len(b) > maxMessageBytes {
			skipped = append(skipped, next)
			continue
		}
		if len(page) > 0 && total+len(b) > budget {
			break
		}
		page = append(page, jm)
		total += len(b)
	}
	return page, next, skipped, nil
}

func encodeMessages(reg *gcrypto.Registry, msgs []gdml.Message) []jsonMessage {
	out := make([]jsonMessage, len(msgs))
	for i, m := range msgs {
		out[i] = toJSONMessage(reg, m)
	}
	return out
}
