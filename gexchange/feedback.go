// Package gexchange holds values exchanged between a DML peer
// and the node that pushed a message to it.
package gexchange

import "strconv"

// Feedback is a peer's verdict on a single pushed message.
type Feedback uint8

const (
	// FeedbackUnspecified is the zero value for Feedback.
	// Returning FeedbackUnspecified is a bug.
	FeedbackUnspecified Feedback = iota

	// FeedbackAccepted indicates that the message was valid
	// and is now part of the peer's segment.
	FeedbackAccepted

	// FeedbackRejected indicates that the message was invalid,
	// for example its outer signature did not verify.
	FeedbackRejected

	// FeedbackIgnored indicates that the message was not stored
	// but the sender is not at fault:
	// the peer already had it, or the peer is at a different height.
	FeedbackIgnored
)

func (f Feedback) String() string {
	switch f {
	case FeedbackUnspecified:
		return "Unspecified"
	case FeedbackAccepted:
		return "Accepted"
	case FeedbackRejected:
		return "Rejected"
	case FeedbackIgnored:
		return "Ignored"
	default:
		return "Feedback(" + strconv.Itoa(int(f)) + ")"
	}
}

// Delivered reports whether the sender may treat the push as delivered.
// An ignored message counts, since the peer either has it
// or has moved past the height it belongs to.
func (f Feedback) Delivered() bool {
	return f == FeedbackAccepted || f == FeedbackIgnored
}
