package network

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tristanlee/substrate/internal/client"
)

const (
	// maxMessageSize is the maximum allowed message size (16 MB)
	maxMessageSize = 16 << 20

	// lengthPrefixSize is the size of the length prefix in bytes
	lengthPrefixSize = 4

	// maxBlocksPerRequest caps what one sync request may ask for
	maxBlocksPerRequest = 512

	// alpnProtocol is the ALPN protocol identifier
	alpnProtocol = "hoster-sync/1"
)

// blocksRequest asks a peer for count canonical blocks starting at From.
type blocksRequest struct {
	Genesis string `json:"genesis"`
	From    uint64 `json:"from"`
	Count   uint32 `json:"count"`
}

// writeMessage writes a length-prefixed message.
// Format: [4 bytes big-endian length] [payload]
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), maxMessageSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// readMessage reads a length-prefixed message.
func readMessage(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, maxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

func writeRequest(w io.Writer, req blocksRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return writeMessage(w, data)
}

func readRequest(r io.Reader) (blocksRequest, error) {
	var req blocksRequest
	data, err := readMessage(r)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// writeBlocks streams each block followed by an empty end marker.
func writeBlocks(w io.Writer, blocks []*client.Block) error {
	for _, b := range blocks {
		enc, err := b.MarshalBinary()
		if err != nil {
			return err
		}
		if err := writeMessage(w, enc); err != nil {
			return err
		}
	}
	return writeMessage(w, nil)
}

// readBlocks reads blocks until the end marker, accepting at most limit.
func readBlocks(r io.Reader, limit int) ([]*client.Block, error) {
	var blocks []*client.Block
	for {
		data, err := readMessage(r)
		if err != nil {
			return blocks, err
		}
		if len(data) == 0 {
			return blocks, nil
		}
		if len(blocks) >= limit {
			return blocks, fmt.Errorf("peer sent more than %d blocks", limit)
		}
		var b client.Block
		if err := b.UnmarshalBinary(data); err != nil {
			return blocks, fmt.Errorf("decode block: %w", err)
		}
		blocks = append(blocks, &b)
	}
}
