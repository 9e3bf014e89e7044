// Package frame handles the gateway's length-prefixed frames: reassembly
// from a byte stream and the login, service and SSO envelopes inside them.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// LengthLen is the size of the big-endian length prefix, which counts itself.
const LengthLen = 4

var (
	ErrShortHeader     = errors.New("frame: short length prefix")
	ErrLengthTooSmall  = errors.New("frame: declared length smaller than prefix")
	ErrFrameTooLarge   = errors.New("frame: frame too large")
	ErrReassemblerDead = errors.New("frame: reassembler stopped after malformed input")
)

// Limits constrains frame decode memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: 8 * 1024 * 1024}
}

func checkLength(n uint32, limits Limits) error {
	if n < LengthLen {
		return fmt.Errorf("%w: %d", ErrLengthTooSmall, n)
	}
	if limits.MaxFrameBytes > 0 && n > limits.MaxFrameBytes {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	return nil
}

// ReadFrame reads one whole frame, length prefix included.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [LengthLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if err := checkLength(n, limits); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, prefix[:])
	if _, err := io.ReadFull(r, out[LengthLen:]); err != nil {
		return nil, err
	}
	return out, nil
}

// Reassembler slices complete frames out of arbitrarily chunked input.
type Reassembler struct {
	limits Limits
	buf    []byte
	err    error
}

func NewReassembler(limits Limits) *Reassembler {
	return &Reassembler{limits: limits}
}

// Feed appends chunk and returns every frame it completed, in order. Each
// frame includes its length prefix. A malformed length stops the
// reassembler; later calls return the same error.
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.buf = append(r.buf, chunk...)
	var frames [][]byte
	for len(r.buf) >= LengthLen {
		n := binary.BigEndian.Uint32(r.buf)
		if err := checkLength(n, r.limits); err != nil {
			r.err = fmt.Errorf("%w: %w", ErrReassemblerDead, err)
			r.buf = nil
			return frames, r.err
		}
		if uint32(len(r.buf)) < n {
			break
		}
		f := make([]byte, n)
		copy(f, r.buf[:n])
		frames = append(frames, f)
		r.buf = r.buf[n:]
	}
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return frames, nil
}

