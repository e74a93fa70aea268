package export

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/fakeyudi/termctx/internal/analytics"
	"github.com/fakeyudi/termctx/internal/event"
	"github.com/fakeyudi/termctx/internal/session"
)

// A CBOR export is framed as: magic "TCTX", one compression tag byte, the
// uncompressed length as a big-endian uint32, then the payload.
var cborMagic = []byte("TCTX")

const cborHeaderLen = 9

// Compression identifies the algorithm applied to a CBOR export. The
// values are stored in the file and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// ParseCompression parses a compression name. The empty string means zstd.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	}
	return 0, fmt.Errorf("unknown compression %q (supported: zstd, lz4, none)", name)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder

	errIncompressible = errors.New("data is incompressible")
)

func init() {
	var err error

	// Core deterministic encoding: the same document always yields the
	// same bytes.
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("export: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("export: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("export: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("export: zstd decoder initialization failed: " + err.Error())
	}
}

// cborDocument mirrors Document with each event payload pre-encoded, so
// that payloads decode according to their kind.
type cborDocument struct {
	Version int               `cbor:"version"`
	Author  string            `cbor:"author,omitempty"`
	Session session.Session   `cbor:"session"`
	Summary analytics.Summary `cbor:"summary"`
	Events  []cborEvent       `cbor:"events"`
}

type cborEvent struct {
	Sequence  uint64          `cbor:"sequence"`
	Timestamp time.Time       `cbor:"timestamp"`
	Kind      event.Kind      `cbor:"kind"`
	Source    string          `cbor:"source"`
	Payload   cbor.RawMessage `cbor:"payload"`
}

// CBORRenderer renders a Document as framed, compressed CBOR.
type CBORRenderer struct {
	Compression Compression
}

func (r *CBORRenderer) Render(doc *Document) ([]byte, error) {
	cd := cborDocument{
		Version: doc.Version,
		Author:  doc.Author,
		Session: doc.Session,
		Summary: doc.Summary,
		Events:  make([]cborEvent, 0, len(doc.Events)),
	}
	for _, e := range doc.Events {
		payload, err := encMode.Marshal(e.Payload())
		if err != nil {
			return nil, fmt.Errorf("encode event %d payload: %w", e.Sequence, err)
		}
		cd.Events = append(cd.Events, cborEvent{
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
			Kind:      e.Kind,
			Source:    e.Source,
			Payload:   payload,
		})
	}
	raw, err := encMode.Marshal(cd)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if uint64(len(raw)) > math.MaxUint32 {
		return nil, fmt.Errorf("document too large for CBOR export: %d bytes", len(raw))
	}

	tag := r.Compression
	body, err := compress(raw, tag)
	if errors.Is(err, errIncompressible) {
		tag, body, err = CompressionNone, raw, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, cborHeaderLen, cborHeaderLen+len(body))
	copy(out, cborMagic)
	out[4] = byte(tag)
	binary.BigEndian.PutUint32(out[5:], uint32(len(raw)))
	return append(out, body...), nil
}

// CBORParser parses a framed CBOR export.
type CBORParser struct{}

func (p *CBORParser) Parse(data []byte) (*Document, error) {
	if len(data) < cborHeaderLen || !bytes.Equal(data[:4], cborMagic) {
		return nil, fmt.Errorf("not a valid termctx export: missing CBOR frame header")
	}
	tag := Compression(data[4])
	size := int(binary.BigEndian.Uint32(data[5:cborHeaderLen]))
	raw, err := decompress(data[cborHeaderLen:], tag, size)
	if err != nil {
		return nil, fmt.Errorf("not a valid termctx export: %w", err)
	}

	var cd cborDocument
	if err := decMode.Unmarshal(raw, &cd); err != nil {
		return nil, fmt.Errorf("not a valid termctx export: failed to decode CBOR: %w", err)
	}
	doc := &Document{
		Version: cd.Version,
		Author:  cd.Author,
		Session: cd.Session,
		Summary: cd.Summary,
		Events:  make([]event.Event, 0, len(cd.Events)),
	}
	for _, ce := range cd.Events {
		payload := ce.Payload
		e, err := event.Decode(ce.Sequence, ce.Timestamp, ce.Kind, ce.Source, func(v any) error {
			return decMode.Unmarshal(payload, v)
		})
		if err != nil {
			return nil, fmt.Errorf("not a valid termctx export: event %d: %w", ce.Sequence, err)
		}
		doc.Events = append(doc.Events, e)
	}
	return doc, nil
}

func compress(data []byte, tag Compression) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil

	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock reports 0 for incompressible input.
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return dst[:n], nil

	case CompressionZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported compression: %s", tag)
}

func decompress(data []byte, tag Compression, size int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d", len(data), size)
		}
		return data, nil

	case CompressionLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return dst, nil

	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported compression: %s", tag)
}
