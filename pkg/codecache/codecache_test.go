package codecache

import (
	"math"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sparrow/pkg/vm"
)

// richChunk exercises every wire field: all primitive constant kinds, a
// nested function template, an exception table and a line table.
func richChunk() *vm.Chunk {
	inner := vm.NewChunk("inner")
	inner.MaxRegisters = 1
	inner.WriteOpCode(vm.OpLoadConst, 3)
	inner.WriteByte(0)
	inner.WriteUint16(inner.AddConstant(vm.NewString("nested")))
	inner.WriteOpCode(vm.OpReturn, 3)
	inner.WriteByte(0)

	c := vm.NewChunk("rich")
	c.MaxRegisters = 2
	for _, v := range []vm.Value{
		vm.Undefined,
		vm.Null,
		vm.BooleanValue(true),
		vm.BooleanValue(false),
		vm.IntegerValue(-42),
		vm.NumberValue(math.Pi),
		vm.NewString("héllo"),
		vm.NewBigInt(big.NewInt(-123456789)),
	} {
		c.AddConstant(v)
	}
	c.AddFunction(&vm.FunctionProto{
		Name:         "nested",
		Arity:        1,
		Variadic:     true,
		Kind:         vm.NormalFunction,
		RegisterSize: 3,
		Strict:       true,
		Chunk:        inner,
	})
	c.AddExceptionHandler(vm.ExceptionHandler{
		TryStart:  0,
		TryEnd:    8,
		HandlerPC: 8,
		CatchReg:  1,
		IsCatch:   true,
		EnvDepth:  2,
	})
	c.WriteOpCode(vm.OpLoadConst, 7)
	c.WriteByte(0)
	c.WriteUint16(c.AddConstant(vm.IntegerValue(-42)))
	c.WriteOpCode(vm.OpReturn, 9)
	c.WriteByte(0)
	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := richChunk()
	data, err := Encode(original)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	if decoded.Name != original.Name || decoded.MaxRegisters != original.MaxRegisters {
		t.Errorf("header fields: %q/%d, want %q/%d",
			decoded.Name, decoded.MaxRegisters, original.Name, original.MaxRegisters)
	}
	if len(decoded.Code) != len(original.Code) {
		t.Fatalf("code length %d, want %d", len(decoded.Code), len(original.Code))
	}
	for i := range original.Code {
		if decoded.Code[i] != original.Code[i] {
			t.Fatalf("code byte %d = %d, want %d", i, decoded.Code[i], original.Code[i])
		}
	}
	if len(decoded.Constants) != len(original.Constants) {
		t.Fatalf("constant count %d, want %d", len(decoded.Constants), len(original.Constants))
	}
	for i, want := range original.Constants {
		got := decoded.Constants[i]
		if !vm.SameValue(got, want) {
			t.Errorf("constant %d = %s, want %s", i, got.Inspect(), want.Inspect())
		}
	}
	if len(decoded.Functions) != 1 {
		t.Fatalf("function count %d, want 1", len(decoded.Functions))
	}
	p := decoded.Functions[0]
	if p.Name != "nested" || p.Arity != 1 || !p.Variadic || !p.Strict || p.RegisterSize != 3 {
		t.Errorf("function template mangled: %+v", p)
	}
	if p.Chunk == nil || p.Chunk.Name != "inner" {
		t.Error("nested chunk lost")
	}
	if len(decoded.ExceptionTable) != 1 || decoded.ExceptionTable[0] != original.ExceptionTable[0] {
		t.Errorf("exception table = %+v, want %+v", decoded.ExceptionTable, original.ExceptionTable)
	}
	if decoded.GetLine(0) != 7 {
		t.Errorf("line of first opcode = %d, want 7", decoded.GetLine(0))
	}
}

func TestDecodedChunkStillRuns(t *testing.T) {
	c := vm.NewChunk("add")
	c.MaxRegisters = 2
	c.WriteOpCode(vm.OpLoadConst, 1)
	c.WriteByte(0)
	c.WriteUint16(c.AddConstant(vm.IntegerValue(40)))
	c.WriteOpCode(vm.OpLoadConst, 1)
	c.WriteByte(1)
	c.WriteUint16(c.AddConstant(vm.IntegerValue(2)))
	c.WriteOpCode(vm.OpAdd, 1)
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(1)
	c.WriteOpCode(vm.OpReturn, 1)
	c.WriteByte(0)

	data, err := Encode(c)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	ctx := vm.NewContext()
	defer ctx.Close()
	result, err := ctx.Eval(decoded)
	if err != nil {
		t.Fatal(err)
	}
	if result.NumberValueOf() != 42 {
		t.Errorf("decoded chunk evaluated to %s, want 42", result.Inspect())
	}
}

func TestObjectConstantIsNotCacheable(t *testing.T) {
	ctx := vm.NewContext()
	defer ctx.Close()

	c := vm.NewChunk("objconst")
	c.AddConstant(vm.ObjectValue(ctx.NewObject()))
	if _, err := Encode(c); err == nil {
		t.Fatal("chunk with an object constant encoded")
	} else if !strings.Contains(err.Error(), "not cacheable") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestDecodeRejectsForeignData(t *testing.T) {
	if _, err := Decode([]byte("plain text, not a cache file")); err == nil {
		t.Error("garbage decoded")
	}
	if _, err := Decode(nil); err == nil {
		t.Error("empty input decoded")
	}

	data, err := Encode(vm.NewChunk("v"))
	if err != nil {
		t.Fatal(err)
	}
	data[4] = Version + 1
	if _, err := Decode(data); err == nil {
		t.Error("future version decoded")
	} else if !strings.Contains(err.Error(), "version") {
		t.Errorf("error = %q, want a version message", err.Error())
	}

	data[4] = Version
	data[len(data)-1] ^= 0xff
	if _, err := Decode(data); err == nil {
		t.Error("corrupt body decoded")
	}
}

func TestCacheStoreAndLoad(t *testing.T) {
	cache, err := Open(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatal(err)
	}
	key := Key("let x = 1")

	if _, ok := cache.Get(key); ok {
		t.Fatal("hit on an empty cache")
	}
	if err := cache.Put(key, richChunk()); err != nil {
		t.Fatal(err)
	}
	chunk, ok := cache.Get(key)
	if !ok {
		t.Fatal("miss after put")
	}
	if chunk.Name != "rich" {
		t.Errorf("loaded chunk %q, want rich", chunk.Name)
	}

	// A different source text is a different key.
	if _, ok := cache.Get(Key("let x = 2")); ok {
		t.Error("distinct sources shared a cache entry")
	}
}

func TestCacheDropsCorruptEntries(t *testing.T) {
	dir := t.TempDir()
	cache, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	key := Key("broken entry")
	if err := cache.Put(key, richChunk()); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, key+".spwc")
	if err := os.WriteFile(path, []byte("scribbled over"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.Get(key); ok {
		t.Fatal("corrupt entry loaded")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt entry left on disk")
	}
}

func TestKeyIsStable(t *testing.T) {
	if Key("same") != Key("same") {
		t.Error("key is not deterministic")
	}
	if Key("a") == Key("b") {
		t.Error("distinct inputs collided")
	}
	if len(Key("x")) != 32 {
		t.Errorf("key length = %d, want 32 hex chars", len(Key("x")))
	}
}
