package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Capture dump record layout: [direction:1][unix-millis:8 BE][blob-len:4 BE]
// [blob...]. The blob is the raw captured envelope exactly as it arrived,
// so reading a dump goes through Adapt like live traffic would.

// DumpRecord is one raw capture entry read back from a dump stream.
type DumpRecord struct {
	Direction Direction
	Timestamp time.Time
	Blob      []byte
}

// WriteDumpRecord appends one raw capture entry to a dump stream.
func WriteDumpRecord(w io.Writer, dir Direction, ts time.Time, blob []byte) error {
	if len(blob) > MaxFrameSize+envelopeHeaderSize {
		return fmt.Errorf("capture: dump record too large: %d bytes", len(blob))
	}
	var hdr [13]byte
	hdr[0] = byte(dir)
	binary.BigEndian.PutUint64(hdr[1:9], uint64(ts.UnixMilli()))
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(blob)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write dump header: %w", err)
	}
	if _, err := w.Write(blob); err != nil {
		return fmt.Errorf("failed to write dump blob: %w", err)
	}
	return nil
}

// ReadDump streams raw capture entries from a dump, invoking fn for each.
// Reading stops at a clean EOF, the first malformed record, or the first
// error returned by fn.
func ReadDump(r io.Reader, fn func(DumpRecord) error) error {
	var hdr [13]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read dump header: %w", err)
		}

		n := binary.BigEndian.Uint32(hdr[9:13])
		if n > MaxFrameSize+envelopeHeaderSize {
			return fmt.Errorf("capture: dump record claims %d bytes (max %d)", n, MaxFrameSize+envelopeHeaderSize)
		}

		blob := make([]byte, n)
		if _, err := io.ReadFull(r, blob); err != nil {
			return fmt.Errorf("failed to read dump blob (%d bytes): %w", n, err)
		}

		rec := DumpRecord{
			Direction: Direction(hdr[0] & 1),
			Timestamp: time.UnixMilli(int64(binary.BigEndian.Uint64(hdr[1:9]))).UTC(),
			Blob:      blob,
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
