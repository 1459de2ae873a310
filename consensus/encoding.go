package consensus

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bfte-project/bfte/crypto"
)

// Domain-separation tags. Every signable message is prefixed with exactly
// one of these bytes before hashing or signing, so that a signature over
// one message type can never be replayed as a signature over another.
const (
	domainBlockHeader      byte = 0x01
	domainVote             byte = 0x02
	domainFinalizationVote byte = 0x03
	domainConsensusParams  byte = 0x04
	domainCItem            byte = 0x05
)

// encoder builds the canonical, length-prefixed, little-endian encoding
// shared by hashing, signing, and transport. Mirrors the teacher's
// MarshalCramberry convention without a code generator behind it.
type encoder struct {
	buf bytes.Buffer
}

func newEncoder(domain byte) *encoder {
	e := &encoder{}
	e.buf.WriteByte(domain)
	return e
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

func (e *encoder) u8(v uint8) *encoder {
	e.buf.WriteByte(v)
	return e
}

func (e *encoder) u32(v uint32) *encoder {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
	return e
}

func (e *encoder) u64(v uint64) *encoder {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
	return e
}

func (e *encoder) i64(v int64) *encoder { return e.u64(uint64(v)) }

func (e *encoder) hash(h crypto.Hash) *encoder {
	e.buf.Write(h[:])
	return e
}

func (e *encoder) peerId(p crypto.PeerId) *encoder {
	e.buf.Write(p[:])
	return e
}

func (e *encoder) sig(s crypto.Signature) *encoder {
	e.buf.Write(s[:])
	return e
}

// bytesField writes a length-prefixed byte slice; absent values (nil) are
// represented explicitly as a zero-length field, never as "no field at all"
// per the canonical-encoding rule that no field is optional.
func (e *encoder) bytesField(b []byte) *encoder {
	e.u32(uint32(len(b)))
	e.buf.Write(b)
	return e
}

func (e *encoder) boolField(v bool) *encoder {
	if v {
		return e.u8(1)
	}
	return e.u8(0)
}

// decoder reads back the canonical encoding produced by encoder. It is used
// to parse block payloads (DecodePayload), never for hashing (hashes are
// computed over encoded bytes, so a decoder bug can never forge a hash).
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(domain byte, data []byte) (*decoder, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("consensus: empty canonical encoding")
	}
	if data[0] != domain {
		return nil, fmt.Errorf("consensus: domain tag mismatch: want 0x%02x got 0x%02x", domain, data[0])
	}
	return &decoder{buf: data, pos: 1}, nil
}

func (d *decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return fmt.Errorf("consensus: truncated canonical encoding")
	}
	return nil
}

func (d *decoder) u8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) i64() (int64, error) {
	v, err := d.u64()
	return int64(v), err
}

func (d *decoder) hash() (crypto.Hash, error) {
	var h crypto.Hash
	if err := d.need(crypto.HashSize); err != nil {
		return h, err
	}
	copy(h[:], d.buf[d.pos:])
	d.pos += crypto.HashSize
	return h, nil
}

func (d *decoder) peerId() (crypto.PeerId, error) {
	var p crypto.PeerId
	if err := d.need(crypto.PublicKeySize); err != nil {
		return p, err
	}
	copy(p[:], d.buf[d.pos:])
	d.pos += crypto.PublicKeySize
	return p, nil
}

func (d *decoder) sig() (crypto.Signature, error) {
	var s crypto.Signature
	if err := d.need(crypto.SignatureSize); err != nil {
		return s, err
	}
	copy(s[:], d.buf[d.pos:])
	d.pos += crypto.SignatureSize
	return s, nil
}

func (d *decoder) bytesField() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out, nil
}

func (d *decoder) boolField() (bool, error) {
	v, err := d.u8()
	return v != 0, err
}

func (d *decoder) finished() error {
	if d.pos != len(d.buf) {
		return fmt.Errorf("consensus: trailing bytes after canonical encoding")
	}
	return nil
}
