package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/tristanlee/substrate/internal/validate"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// maxBlockEncoding bounds one length-prefixed block on import.
const maxBlockEncoding = 16 << 20

// ImportStats reports the outcome of an import.
type ImportStats struct {
	Imported uint64
	Skipped  uint64
	Bytes    uint64
}

// ExportStats reports the outcome of an export.
type ExportStats struct {
	Blocks uint64
	Bytes  uint64
}

type countingWriter struct {
	w io.Writer
	n uint64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += uint64(n)
	return n, err
}

// Export writes canonical blocks from..to (inclusive) to w as JSON lines, or
// length-prefixed binary when binary is set. A nil to exports up to best.
func (c *Client) Export(ctx context.Context, w io.Writer, from uint64, to *uint64, binaryFormat bool) (ExportStats, error) {
	if err := validate.ValidateBlockRange(from, to); err != nil {
		return ExportStats{}, err
	}

	last := c.Info().BestNumber
	if to != nil && *to < last {
		last = *to
	}

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	enc := json.NewEncoder(bw)

	var stats ExportStats
	for n := from; n <= last; n++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		b, err := c.BlockByNumber(n)
		if err != nil {
			return stats, fmt.Errorf("export block #%d: %w", n, err)
		}
		if binaryFormat {
			err = writeFrame(bw, b)
		} else {
			err = enc.Encode(b)
		}
		if err != nil {
			return stats, fmt.Errorf("export block #%d: %w", n, err)
		}
		stats.Blocks++
	}

	if err := bw.Flush(); err != nil {
		return stats, err
	}
	stats.Bytes = cw.n
	return stats, nil
}

func writeFrame(w io.Writer, b *Block) error {
	enc, err := b.MarshalBinary()
	if err != nil {
		return err
	}
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(enc)))
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	_, err = w.Write(enc)
	return err
}

// Import reads blocks written by Export and imports them in order. Blocks
// already in the chain are skipped. zstd-compressed input is detected and
// decompressed transparently.
func (c *Client) Import(ctx context.Context, r io.Reader, binaryFormat bool) (ImportStats, error) {
	var stats ImportStats

	br := bufio.NewReader(r)
	head, _ := br.Peek(len(zstdMagic))

	var src io.Reader = br
	if bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return stats, fmt.Errorf("open zstd stream: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	next := jsonBlocks(src)
	if binaryFormat {
		next = binaryBlocks(src)
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		b, size, err := next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read block %d: %w", stats.Imported+stats.Skipped+1, err)
		}
		stats.Bytes += uint64(size)

		switch err := c.ImportBlock(b); {
		case errors.Is(err, ErrKnownBlock):
			stats.Skipped++
		case err != nil:
			return stats, err
		default:
			stats.Imported++
		}
	}
}

type blockReader func() (*Block, int, error)

func jsonBlocks(r io.Reader) blockReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxBlockEncoding)

	return func() (*Block, int, error) {
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var b Block
			if err := json.Unmarshal(line, &b); err != nil {
				return nil, 0, err
			}
			return &b, len(line) + 1, nil
		}
		if err := scanner.Err(); err != nil {
			return nil, 0, err
		}
		return nil, 0, io.EOF
	}
}

func binaryBlocks(r io.Reader) blockReader {
	return func() (*Block, int, error) {
		var size [4]byte
		if _, err := io.ReadFull(r, size[:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, 0, errShortBlock
			}
			return nil, 0, err
		}
		n := binary.BigEndian.Uint32(size[:])
		if n > maxBlockEncoding {
			return nil, 0, fmt.Errorf("block encoding of %d bytes exceeds limit", n)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, 0, errShortBlock
		}
		var b Block
		if err := b.UnmarshalBinary(buf); err != nil {
			return nil, 0, err
		}
		return &b, int(n) + 4, nil
	}
}

// NewCompressedWriter wraps w in a zstd encoder. Close flushes the frame.
func NewCompressedWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
}
