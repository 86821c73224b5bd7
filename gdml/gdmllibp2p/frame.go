package gdmllibp2p

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

const (
	uncompressedHeader byte = 0
	snappyHeader       byte = 1
)

// maxFrameSize bounds the decoded size of a single frame,
// so that a misbehaving peer cannot force an arbitrarily large allocation.
const maxFrameSize = 16 << 20

// maxMessageBytes is the largest encoded message a fetch page can carry,
// leaving room in the frame for the response envelope.
const maxMessageBytes = maxFrameSize - 4096

// defaultFetchPageBytes is the encoded message budget of one fetch page.
const defaultFetchPageBytes = maxFrameSize / 2

// writeFrame JSON-encodes v and writes it to w as one frame:
// a header byte, the compressed size as a uvarint, and the snappy-compressed body.
func writeFrame(w io.Writer, v any) error {
	j, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if len(j) > maxFrameSize {
		return fmt.Errorf("frame size %d exceeds maximum %d", len(j), maxFrameSize)
	}

	c := snappy.Encode(nil, j)

	buf := make([]byte, 0, 1+binary.MaxVarintLen64+len(c))
	buf = append(buf, snappyHeader)
	buf = binary.AppendUvarint(buf, uint64(len(c)))
	buf = append(buf, c...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// readFrame reads one frame written by [writeFrame] and decodes it into v.
func readFrame(r *bufio.Reader, v any) error {
	header, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read frame header: %w", err)
	}

	var j []byte
	switch header {
	case snappyHeader:
		j, err = readSnappy(r)
		if err != nil {
			return err
		}
	case uncompressedHeader:
		// Writers always compress, so a plain frame indicates a confused peer.
		return fmt.Errorf("uncompressed frames are not accepted")
	default:
		return fmt.Errorf("unrecognized frame header byte %x", header)
	}

	if err := json.Unmarshal(j, v); err != nil {
		return fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	return nil
}

func readSnappy(r *bufio.Reader) ([]byte, error) {
	cSize, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read compressed size: %w", err)
	}
	if cSize == 0 {
		return nil, fmt.Errorf("invalid compressed size 0")
	}
	if maxC := uint64(snappy.MaxEncodedLen(maxFrameSize)); cSize > maxC {
		return nil, fmt.Errorf(
			"invalid compressed size %d larger than max snappy-encoded size %d",
			cSize, maxC,
		)
	}

	cBuf := make([]byte, cSize)
	if _, err := io.ReadFull(r, cBuf); err != nil {
		return nil, fmt.Errorf("failed to read full compressed data: %w", err)
	}

	uSize, err := snappy.DecodedLen(cBuf)
	if err != nil {
		return nil, fmt.Errorf("failed to read decoded length from compressed data: %w", err)
	}
	if uSize > maxFrameSize {
		return nil, fmt.Errorf("decoded frame size %d exceeds maximum %d", uSize, maxFrameSize)
	}

	u, err := snappy.Decode(nil, cBuf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snappy data: %w", err)
	}
	return u, nil
}
