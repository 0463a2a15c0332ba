// Package gguf reads the header of a GGUF model file — the format
// llama-server's model loader consumes — without loading its tensor
// data, so the catalog can populate a model's architecture, context
// size, and parameter count at registration time.
//
// The format (magic "GGUF", a little-endian version/tensor-count/kv-count
// triplet, followed by a metadata key-value section and a tensor-info
// section) is a public, stable binary layout; no parsing library for it
// appears anywhere in the retrieved corpus, so this reads the header
// directly with encoding/binary rather than guessing at an unverified
// third-party API.
package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/mrwong99/gglib/internal/ports"
)

const (
	magic = "GGUF"

	typeUint8   = 0
	typeInt8    = 1
	typeUint16  = 2
	typeInt16   = 3
	typeUint32  = 4
	typeInt32   = 5
	typeFloat32 = 6
	typeBool    = 7
	typeString  = 8
	typeArray   = 9
	typeUint64  = 10
	typeInt64   = 11
	typeFloat64 = 12
)

// Parser implements [ports.GGUFParser] by reading a GGUF file's header
// directly.
type Parser struct{}

var _ ports.GGUFParser = (*Parser)(nil)

// New returns a ready-to-use Parser.
func New() *Parser {
	return &Parser{}
}

// ParseMetadata opens path and reads its GGUF header, returning the
// architecture, total parameter count (summed from every tensor's
// element count across the tensor-info section), context length, and
// chat template found in its metadata key-value section.
func (p *Parser) ParseMetadata(path string) (ports.ModelMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return ports.ModelMetadata{}, fmt.Errorf("gguf: open %q: %w", path, err)
	}
	defer f.Close()

	r := &reader{r: f}

	var hdr [4]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return ports.ModelMetadata{}, fmt.Errorf("gguf: read magic: %w", err)
	}
	if string(hdr[:]) != magic {
		return ports.ModelMetadata{}, fmt.Errorf("gguf: %q is not a GGUF file (bad magic %q)", path, hdr[:])
	}

	version, err := r.readU32()
	if err != nil {
		return ports.ModelMetadata{}, fmt.Errorf("gguf: read version: %w", err)
	}
	if version < 2 {
		return ports.ModelMetadata{}, fmt.Errorf("gguf: unsupported version %d", version)
	}

	tensorCount, err := r.readU64()
	if err != nil {
		return ports.ModelMetadata{}, fmt.Errorf("gguf: read tensor count: %w", err)
	}
	kvCount, err := r.readU64()
	if err != nil {
		return ports.ModelMetadata{}, fmt.Errorf("gguf: read kv count: %w", err)
	}

	kv := make(map[string]any, kvCount)
	for i := uint64(0); i < kvCount; i++ {
		key, err := r.readString()
		if err != nil {
			return ports.ModelMetadata{}, fmt.Errorf("gguf: read kv %d key: %w", i, err)
		}
		val, err := r.readValue()
		if err != nil {
			return ports.ModelMetadata{}, fmt.Errorf("gguf: read kv %q value: %w", key, err)
		}
		kv[key] = val
	}

	md := ports.ModelMetadata{}
	if arch, ok := kv["general.architecture"].(string); ok {
		md.Architecture = arch
	}
	if md.Architecture != "" {
		if ctx, ok := asInt(kv[md.Architecture+".context_length"]); ok {
			md.ContextLength = int(ctx)
		}
	}
	if tmpl, ok := kv["tokenizer.chat_template"].(string); ok {
		md.ChatTemplate = &tmpl
	}

	var total int64
	for i := uint64(0); i < tensorCount; i++ {
		n, err := r.readTensorInfoElementCount()
		if err != nil {
			return ports.ModelMetadata{}, fmt.Errorf("gguf: read tensor info %d: %w", i, err)
		}
		total += n
	}
	md.ParamCount = total

	return md, nil
}

// asInt normalizes any of the GGUF integer value types to an int64.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case uint8:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case int16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// reader wraps an io.Reader with the little-endian primitive readers the
// GGUF format's header sections are built from.
type reader struct {
	r io.Reader
}

func (r *reader) readU32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *reader) readU64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// readString reads a GGUF string: a uint64 byte length followed by the
// (not NUL-terminated) UTF-8 bytes.
func (r *reader) readString() (string, error) {
	n, err := r.readU64()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readValue reads one metadata value given its preceding type tag,
// returning it boxed as the corresponding Go type. Array elements are
// read and discarded into a slice of any, since no consumer here needs
// array-valued metadata.
func (r *reader) readValue() (any, error) {
	typ, err := r.readU32()
	if err != nil {
		return nil, err
	}
	return r.readValueOfType(typ)
}

func (r *reader) readValueOfType(typ uint32) (any, error) {
	switch typ {
	case typeUint8:
		var b [1]byte
		if _, err := io.ReadFull(r.r, b[:]); err != nil {
			return nil, err
		}
		return uint8(b[0]), nil
	case typeInt8:
		var b [1]byte
		if _, err := io.ReadFull(r.r, b[:]); err != nil {
			return nil, err
		}
		return int8(b[0]), nil
	case typeUint16:
		var b [2]byte
		if _, err := io.ReadFull(r.r, b[:]); err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint16(b[:]), nil
	case typeInt16:
		var b [2]byte
		if _, err := io.ReadFull(r.r, b[:]); err != nil {
			return nil, err
		}
		return int16(binary.LittleEndian.Uint16(b[:])), nil
	case typeUint32:
		v, err := r.readU32()
		return v, err
	case typeInt32:
		v, err := r.readU32()
		return int32(v), err
	case typeFloat32:
		v, err := r.readU32()
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(v), nil
	case typeBool:
		var b [1]byte
		if _, err := io.ReadFull(r.r, b[:]); err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case typeString:
		return r.readString()
	case typeArray:
		elemType, err := r.readU32()
		if err != nil {
			return nil, err
		}
		n, err := r.readU64()
		if err != nil {
			return nil, err
		}
		vals := make([]any, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := r.readValueOfType(elemType)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return vals, nil
	case typeUint64:
		return r.readU64()
	case typeInt64:
		v, err := r.readU64()
		return int64(v), err
	case typeFloat64:
		v, err := r.readU64()
		return math.Float64frombits(v), err
	default:
		return nil, fmt.Errorf("gguf: unknown value type %d", typ)
	}
}

// readTensorInfoElementCount reads one tensor-info entry (name,
// dimension count, dimension sizes, tensor type, data offset) and
// returns the number of elements the tensor holds, i.e. the product of
// its dimensions. Callers sum this across every tensor to approximate
// the model's total parameter count, the same computation llama.cpp's
// own GGUF reader performs when reporting a model's parameter count.
func (r *reader) readTensorInfoElementCount() (int64, error) {
	if _, err := r.readString(); err != nil { // name
		return 0, err
	}
	nDims, err := r.readU32()
	if err != nil {
		return 0, err
	}
	elems := int64(1)
	for i := uint32(0); i < nDims; i++ {
		dim, err := r.readU64()
		if err != nil {
			return 0, err
		}
		elems *= int64(dim)
	}
	if _, err := r.readU32(); err != nil { // tensor type
		return 0, err
	}
	if _, err := r.readU64(); err != nil { // offset
		return 0, err
	}
	return elems, nil
}
