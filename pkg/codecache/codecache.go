// Package codecache serializes compiled chunks to a compact binary form so
// embedders can skip recompilation across runs. The format is CBOR behind a
// small magic-and-version header; any mismatch fails the load and the caller
// recompiles.
package codecache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"sparrow/pkg/errors"
	"sparrow/pkg/vm"
)

// Version is bumped whenever the wire layout or bytecode numbering changes.
const Version = 1

var magic = []byte{'s', 'p', 'w', 'c'}

var encMode cbor.EncMode

func init() {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = mode
}

// Constant kinds on the wire. Only primitives are cacheable; a chunk whose
// pool holds an object cannot be serialized.
const (
	kindUndefined uint8 = iota
	kindNull
	kindFalse
	kindTrue
	kindInteger
	kindFloat
	kindString
	kindBigInt
)

type wireValue struct {
	Kind    uint8   `cbor:"1,keyasint"`
	Integer int32   `cbor:"2,keyasint,omitempty"`
	Float   float64 `cbor:"3,keyasint,omitempty"`
	Str     string  `cbor:"4,keyasint,omitempty"`
	// Big holds big.Int bytes; Neg carries the sign separately.
	Big []byte `cbor:"5,keyasint,omitempty"`
	Neg bool   `cbor:"6,keyasint,omitempty"`
}

type wireHandler struct {
	TryStart  int  `cbor:"1,keyasint"`
	TryEnd    int  `cbor:"2,keyasint"`
	HandlerPC int  `cbor:"3,keyasint"`
	CatchReg  int  `cbor:"4,keyasint"`
	IsCatch   bool `cbor:"5,keyasint,omitempty"`
	IsFinally bool `cbor:"6,keyasint,omitempty"`
	EnvDepth  int  `cbor:"7,keyasint"`
}

type wireProto struct {
	Name         string     `cbor:"1,keyasint,omitempty"`
	Arity        int        `cbor:"2,keyasint"`
	Variadic     bool       `cbor:"3,keyasint,omitempty"`
	Kind         uint8      `cbor:"4,keyasint"`
	RegisterSize int        `cbor:"5,keyasint"`
	Strict       bool       `cbor:"6,keyasint,omitempty"`
	Chunk        *wireChunk `cbor:"7,keyasint"`
}

type wireChunk struct {
	Name           string        `cbor:"1,keyasint,omitempty"`
	Code           []byte        `cbor:"2,keyasint"`
	Constants      []wireValue   `cbor:"3,keyasint,omitempty"`
	Functions      []*wireProto  `cbor:"4,keyasint,omitempty"`
	Lines          []int         `cbor:"5,keyasint,omitempty"`
	ExceptionTable []wireHandler `cbor:"6,keyasint,omitempty"`
	MaxRegisters   int           `cbor:"7,keyasint"`
}

func toWireValue(v vm.Value) (wireValue, error) {
	switch v.Type() {
	case vm.TypeUndefined:
		return wireValue{Kind: kindUndefined}, nil
	case vm.TypeNull:
		return wireValue{Kind: kindNull}, nil
	case vm.TypeBoolean:
		if v.AsBoolean() {
			return wireValue{Kind: kindTrue}, nil
		}
		return wireValue{Kind: kindFalse}, nil
	case vm.TypeIntegerNumber:
		return wireValue{Kind: kindInteger, Integer: v.AsInteger()}, nil
	case vm.TypeFloatNumber:
		return wireValue{Kind: kindFloat, Float: v.AsFloat()}, nil
	case vm.TypeString:
		return wireValue{Kind: kindString, Str: v.AsString()}, nil
	case vm.TypeBigInt:
		b := v.AsBigInt()
		return wireValue{Kind: kindBigInt, Big: b.Bytes(), Neg: b.Sign() < 0}, nil
	default:
		return wireValue{}, errors.Newf("constant of type %s is not cacheable", v.TypeName())
	}
}

func fromWireValue(w wireValue) (vm.Value, error) {
	switch w.Kind {
	case kindUndefined:
		return vm.Undefined, nil
	case kindNull:
		return vm.Null, nil
	case kindFalse:
		return vm.BooleanValue(false), nil
	case kindTrue:
		return vm.BooleanValue(true), nil
	case kindInteger:
		return vm.IntegerValue(w.Integer), nil
	case kindFloat:
		return vm.NumberValue(w.Float), nil
	case kindString:
		return vm.NewString(w.Str), nil
	case kindBigInt:
		b := new(big.Int).SetBytes(w.Big)
		if w.Neg {
			b.Neg(b)
		}
		return vm.NewBigInt(b), nil
	default:
		return vm.Undefined, errors.Newf("unknown constant kind %d", w.Kind)
	}
}

func toWireChunk(c *vm.Chunk) (*wireChunk, error) {
	w := &wireChunk{
		Name:         c.Name,
		Code:         c.Code,
		Lines:        c.Lines,
		MaxRegisters: c.MaxRegisters,
	}
	for _, v := range c.Constants {
		wv, err := toWireValue(v)
		if err != nil {
			return nil, errors.Newf("chunk %q: %s", c.Name, err).CausedBy(err)
		}
		w.Constants = append(w.Constants, wv)
	}
	for _, proto := range c.Functions {
		wp, err := toWireProto(proto)
		if err != nil {
			return nil, err
		}
		w.Functions = append(w.Functions, wp)
	}
	for _, h := range c.ExceptionTable {
		w.ExceptionTable = append(w.ExceptionTable, wireHandler{
			TryStart:  h.TryStart,
			TryEnd:    h.TryEnd,
			HandlerPC: h.HandlerPC,
			CatchReg:  h.CatchReg,
			IsCatch:   h.IsCatch,
			IsFinally: h.IsFinally,
			EnvDepth:  h.EnvDepth,
		})
	}
	return w, nil
}

func toWireProto(p *vm.FunctionProto) (*wireProto, error) {
	wc, err := toWireChunk(p.Chunk)
	if err != nil {
		return nil, err
	}
	return &wireProto{
		Name:         p.Name,
		Arity:        p.Arity,
		Variadic:     p.Variadic,
		Kind:         uint8(p.Kind),
		RegisterSize: p.RegisterSize,
		Strict:       p.Strict,
		Chunk:        wc,
	}, nil
}

func fromWireChunk(w *wireChunk) (*vm.Chunk, error) {
	c := &vm.Chunk{
		Name:         w.Name,
		Code:         w.Code,
		Lines:        w.Lines,
		MaxRegisters: w.MaxRegisters,
	}
	for _, wv := range w.Constants {
		v, err := fromWireValue(wv)
		if err != nil {
			return nil, err
		}
		c.Constants = append(c.Constants, v)
	}
	for _, wp := range w.Functions {
		p, err := fromWireProto(wp)
		if err != nil {
			return nil, err
		}
		c.Functions = append(c.Functions, p)
	}
	for _, h := range w.ExceptionTable {
		c.ExceptionTable = append(c.ExceptionTable, vm.ExceptionHandler{
			TryStart:  h.TryStart,
			TryEnd:    h.TryEnd,
			HandlerPC: h.HandlerPC,
			CatchReg:  h.CatchReg,
			IsCatch:   h.IsCatch,
			IsFinally: h.IsFinally,
			EnvDepth:  h.EnvDepth,
		})
	}
	return c, nil
}

func fromWireProto(w *wireProto) (*vm.FunctionProto, error) {
	if w.Chunk == nil {
		return nil, errors.Newf("function template missing its chunk")
	}
	c, err := fromWireChunk(w.Chunk)
	if err != nil {
		return nil, err
	}
	return &vm.FunctionProto{
		Name:         w.Name,
		Arity:        w.Arity,
		Variadic:     w.Variadic,
		Kind:         vm.FunctionKind(w.Kind),
		RegisterSize: w.RegisterSize,
		Strict:       w.Strict,
		Chunk:        c,
	}, nil
}

// Encode serializes a chunk, including its nested function templates.
func Encode(c *vm.Chunk) ([]byte, error) {
	w, err := toWireChunk(c)
	if err != nil {
		return nil, err
	}
	body, err := encMode.Marshal(w)
	if err != nil {
		return nil, errors.Newf("cannot encode chunk %q: %s", c.Name, err).CausedBy(err)
	}
	out := make([]byte, 0, len(magic)+1+len(body))
	out = append(out, magic...)
	out = append(out, Version)
	out = append(out, body...)
	return out, nil
}

// Decode parses data produced by Encode. Wrong magic or a version mismatch is
// an error; callers should fall back to compiling from source.
func Decode(data []byte) (*vm.Chunk, error) {
	if len(data) < len(magic)+1 || !bytes.Equal(data[:len(magic)], magic) {
		return nil, errors.Newf("not a code cache file")
	}
	if v := data[len(magic)]; v != Version {
		return nil, errors.Newf("code cache version %d, want %d", v, Version)
	}
	var w wireChunk
	if err := cbor.Unmarshal(data[len(magic)+1:], &w); err != nil {
		return nil, errors.Newf("corrupt code cache: %s", err).CausedBy(err)
	}
	return fromWireChunk(&w)
}

// Cache stores encoded chunks on disk, keyed by the hash of the source text
// they were compiled from.
type Cache struct {
	dir string
}

// Open returns a cache rooted at dir, creating it if needed.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Newf("cannot open code cache at %q: %s", dir, err).CausedBy(err)
	}
	return &Cache{dir: dir}, nil
}

// Key derives the cache key for a piece of source text.
func Key(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:16])
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".spwc")
}

// Get loads the cached chunk for key. ok=false covers both a miss and a
// stale or corrupt entry, which is removed.
func (c *Cache) Get(key string) (*vm.Chunk, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	chunk, err := Decode(data)
	if err != nil {
		os.Remove(c.path(key))
		return nil, false
	}
	return chunk, true
}

// Put stores a chunk under key. The write goes through a temp file and a
// rename so readers never see a partial entry.
func (c *Cache) Put(key string, chunk *vm.Chunk) error {
	data, err := Encode(chunk)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, key+".tmp*")
	if err != nil {
		return errors.Newf("cannot write code cache entry: %s", err).CausedBy(err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Newf("cannot write code cache entry: %s", err).CausedBy(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Newf("cannot write code cache entry: %s", err).CausedBy(err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return errors.Newf("cannot write code cache entry: %s", err).CausedBy(err)
	}
	return nil
}
