package client

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// HashSize is the length of a block hash.
const HashSize = 32

// Hash identifies a block.
type Hash [HashSize]byte

// String returns the 0x-prefixed hex form.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a 0x-prefixed 32 byte hex hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(raw) != HashSize {
		return h, fmt.Errorf("invalid hash %q: expected %d bytes, got %d", s, HashSize, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// Block is a stored block. Payload is opaque to the node.
type Block struct {
	Number     uint64 `json:"number"`
	ParentHash Hash   `json:"parentHash"`
	Timestamp  uint64 `json:"timestamp"`
	Author     string `json:"author,omitempty"`
	Payload    []byte `json:"payload,omitempty"`
	Hash       Hash   `json:"hash"`
}

// NewBlock builds the child of parent and seals its hash.
func NewBlock(parent *Block, timestamp uint64, author string, payload []byte) *Block {
	b := &Block{
		Number:     parent.Number + 1,
		ParentHash: parent.Hash,
		Timestamp:  timestamp,
		Author:     author,
		Payload:    payload,
	}
	b.Hash = b.ComputeHash()
	return b
}

// ComputeHash hashes the header fields and payload.
func (b *Block) ComputeHash() Hash {
	h := blake3.New()
	h.Write(b.encodeHeader())
	h.Write(b.Payload)

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// encodeHeader is number | parent | timestamp | author length | author.
func (b *Block) encodeHeader() []byte {
	buf := make([]byte, 0, 8+HashSize+8+2+len(b.Author))
	buf = binary.BigEndian.AppendUint64(buf, b.Number)
	buf = append(buf, b.ParentHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, b.Timestamp)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(b.Author)))
	buf = append(buf, b.Author...)
	return buf
}

// MarshalBinary encodes the header, the length-prefixed payload and the hash.
func (b *Block) MarshalBinary() ([]byte, error) {
	if len(b.Author) > 0xFFFF {
		return nil, errors.New("author too long")
	}
	buf := b.encodeHeader()
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b.Payload)))
	buf = append(buf, b.Payload...)
	buf = append(buf, b.Hash[:]...)
	return buf, nil
}

var errShortBlock = errors.New("truncated block encoding")

// UnmarshalBinary decodes the MarshalBinary format.
func (b *Block) UnmarshalBinary(data []byte) error {
	const fixed = 8 + HashSize + 8 + 2
	if len(data) < fixed {
		return errShortBlock
	}

	b.Number = binary.BigEndian.Uint64(data[0:8])
	copy(b.ParentHash[:], data[8:8+HashSize])
	b.Timestamp = binary.BigEndian.Uint64(data[8+HashSize : 16+HashSize])
	authorLen := int(binary.BigEndian.Uint16(data[16+HashSize : fixed]))
	rest := data[fixed:]

	if len(rest) < authorLen+4 {
		return errShortBlock
	}
	b.Author = string(rest[:authorLen])
	rest = rest[authorLen:]

	payloadLen := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if len(rest) != payloadLen+HashSize {
		return errShortBlock
	}
	b.Payload = nil
	if payloadLen > 0 {
		b.Payload = append([]byte(nil), rest[:payloadLen]...)
	}
	copy(b.Hash[:], rest[payloadLen:])
	return nil
}
