package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// ErrInvalidPayload is returned when a pulse payload is not valid UTF-8 text
var ErrInvalidPayload = errors.New("pulse payload is not valid UTF-8")

// Pulse represents a decoded heartbeat datagram
type Pulse struct {
	Text string // Decoded payload, verbatim
	Size int    // Payload size in bytes

	// Sequence is set when the payload is a plain decimal counter ("1", "2", ...)
	Sequence    uint64
	HasSequence bool
}

// DecodePulse decodes a heartbeat payload as UTF-8 text.
// The payload has no required format; an empty payload decodes to an empty pulse.
func DecodePulse(data []byte) (*Pulse, error) {
	decoded, _, err := transform.Bytes(encoding.UTF8Validator, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %v", ErrInvalidPayload, len(data), err)
	}

	pulse := &Pulse{
		Text: string(decoded),
		Size: len(data),
	}

	if seq, err := strconv.ParseUint(strings.TrimSpace(pulse.Text), 10, 64); err == nil {
		pulse.Sequence = seq
		pulse.HasSequence = true
	}

	return pulse, nil
}

// EncodePulse renders a sequence number as a pulse payload
func EncodePulse(seq uint64) []byte {
	return []byte(strconv.FormatUint(seq, 10))
}

// String returns a human-readable representation of the pulse
func (p *Pulse) String() string {
	if p.HasSequence {
		return fmt.Sprintf("Pulse{Seq:%d, Size:%d}", p.Sequence, p.Size)
	}
	return fmt.Sprintf("Pulse{Text:%q, Size:%d}", p.Text, p.Size)
}
