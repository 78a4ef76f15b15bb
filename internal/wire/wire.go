// Package wire frames near-cache slot values. Every stored value embeds
// the reservation ticket it was committed under; the read path compares
// the embedded ticket against the live counter and rejects the frame on
// mismatch. A flag bit encodes "cached absent" distinctly from a present
// empty payload.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1

	// flagAbsent marks a committed "no value" entry (the remote store had
	// nothing for the key); the payload must be empty.
	flagAbsent byte = 1 << 0
)

var (
	ErrCorrupt = errors.New("nearcache: corrupt slot frame")
	magic4     = [...]byte{'N', 'R', 'C', 'H'}
)

// Frame: magic(4) | ver(1) | flags(1) | ticket(i64 be) | vlen(u32 be) | payload(vlen)
const headerLen = 4 + 1 + 1 + 8 + 4

func Encode(ticket int64, absent bool, payload []byte) []byte {
	if absent {
		payload = nil
	}

	var buf bytes.Buffer
	buf.Grow(headerLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var flags byte
	if absent {
		flags |= flagAbsent
	}
	buf.WriteByte(flags)

	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], uint64(ticket))
	buf.Write(u8[:])

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func Decode(b []byte) (ticket int64, absent bool, payload []byte, err error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return 0, false, nil, ErrCorrupt
	}

	flags := b[5]
	absent = flags&flagAbsent != 0

	off := 6
	ticket = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen > len(b)-off { // overflow-safe bound check
		return 0, false, nil, ErrCorrupt
	}
	if absent && vlen != 0 {
		return 0, false, nil, ErrCorrupt
	}

	return ticket, absent, b[off : off+vlen], nil
}
