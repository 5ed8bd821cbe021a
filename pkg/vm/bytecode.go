package vm

import "fmt"

// OpCode defines the register-machine instruction set. Operand encoding:
// registers are one byte, constant/name indexes and jump offsets are 16-bit
// big endian, jump offsets are signed deltas relative to the end of the
// instruction.
type OpCode uint8

const (
	// Loads and moves
	OpLoadConst     OpCode = iota // Rx K16: Rx = Constants[K]
	OpLoadConstW                  // Rx K32: wide constant index for large pools
	OpLoadUndefined               // Rx
	OpLoadNull                    // Rx
	OpLoadTrue                    // Rx
	OpLoadFalse                   // Rx
	OpMove                        // Rx Ry: Rx = Ry

	// Arithmetic
	OpAdd       // Rx Ry Rz: Rx = Ry + Rz (numeric add or string concat)
	OpSubtract  // Rx Ry Rz
	OpMultiply  // Rx Ry Rz
	OpDivide    // Rx Ry Rz
	OpRemainder // Rx Ry Rz
	OpExponent  // Rx Ry Rz

	// Unary
	OpNegate     // Rx Ry: Rx = -Ry
	OpNot        // Rx Ry: Rx = !Ry
	OpBitwiseNot // Rx Ry: Rx = ~Ry
	OpTypeof     // Rx Ry: Rx = typeof Ry
	OpToNumber   // Rx Ry: Rx = +Ry

	// Bitwise and shifts
	OpBitwiseAnd         // Rx Ry Rz
	OpBitwiseOr          // Rx Ry Rz
	OpBitwiseXor         // Rx Ry Rz
	OpShiftLeft          // Rx Ry Rz
	OpShiftRight         // Rx Ry Rz: arithmetic shift
	OpUnsignedShiftRight // Rx Ry Rz: logical shift

	// Comparison
	OpEqual          // Rx Ry Rz: Rx = (Ry == Rz)
	OpNotEqual       // Rx Ry Rz
	OpStrictEqual    // Rx Ry Rz
	OpStrictNotEqual // Rx Ry Rz
	OpLess           // Rx Ry Rz
	OpGreater        // Rx Ry Rz
	OpLessEqual      // Rx Ry Rz
	OpGreaterEqual   // Rx Ry Rz
	OpIn             // Rx Ry Rz: Rx = (Ry in Rz)
	OpInstanceof     // Rx Ry Rz: Rx = (Ry instanceof Rz)
	OpStringConcat   // Rx Ry Rz: string-typed fast concat

	// Control flow
	OpJump          // Offset16: unconditional relative jump
	OpJumpIfFalse   // Ry Offset16: jump when ToBoolean(Ry) is false
	OpJumpIfTrue    // Ry Offset16
	OpJumpIfNullish // Ry Offset16: jump when Ry is null or undefined

	// Calls. Arguments occupy consecutive registers after the callee (after
	// the this register for method calls).
	OpCall            // Rx FuncReg ArgCount: args in FuncReg+1..
	OpCallMethod      // Rx FuncReg ThisReg ArgCount: args in ThisReg+1..
	OpNew             // Rx CtorReg ArgCount: args in CtorReg+1..
	OpSpreadCall      // Rx FuncReg ThisReg ArrayReg: call with array as args
	OpReturn          // Rx
	OpReturnUndefined //
	OpThrow           // Rx

	// Closures and function context
	OpClosure       // Rx FuncIdx16: instantiate Functions[FuncIdx] over the current environment
	OpLoadThis      // Rx
	OpLoadNewTarget // Rx

	// Object and array operations
	OpMakeEmptyObject // Rx
	OpMakeArray       // Rx StartReg Count: array from Count registers
	OpGetProp         // Rx ObjReg Name16 (inline cached)
	OpSetProp         // ObjReg ValueReg Name16 (inline cached)
	OpGetIndex        // Rx ObjReg KeyReg
	OpSetIndex        // ObjReg KeyReg ValueReg
	OpDeleteProp      // Rx ObjReg Name16
	OpDeleteIndex     // Rx ObjReg KeyReg
	OpGetOwnKeys      // Rx ObjReg: array of own enumerable string keys
	OpDefineAccessor  // ObjReg GetterReg SetterReg Name16
	OpSetPrototype    // ObjReg ProtoReg

	// Globals
	OpGetGlobal        // Rx Name16: throws ReferenceError when unresolvable
	OpSetGlobal        // Name16 Ry
	OpTypeofIdentifier // Rx Name16: "undefined" instead of ReferenceError

	// Environments. Depth counts hops along the environment chain from the
	// innermost record.
	OpPushEnv      // SlotCount16: push a declarative record
	OpPopEnv       //
	OpPushWithEnv  // ObjReg: push an object record for with
	OpLoadEnv      // Rx Depth Slot: throws ReferenceError on an uninitialized binding
	OpStoreEnv     // Depth Slot Ry: throws TypeError on an immutable binding
	OpInitEnv      // Depth Slot Kind Ry: initialize a binding, clearing TDZ
	OpLoadEnvName  // Rx Name16: dynamic chain lookup (with, eval)
	OpStoreEnvName // Name16 Ry

	// Iteration
	OpGetIterator  // Rx Ry: Rx = GetIterator(Ry)
	OpIteratorNext // ValueReg DoneReg IterReg

	// Exception bookkeeping for finally blocks
	OpHandlePending  // replay the pending completion after a finally body
	OpPushBreak      // Target16: record a break completion entering finally
	OpPushContinue   // Target16: record a continue completion entering finally
	OpReturnFinally  // Rx: record a return completion entering finally

	// Suspension
	OpYield // Rx OutReg: yield Rx, resume storing the sent value in OutReg
	OpAwait // Rx PromiseReg: suspend until PromiseReg settles, result in Rx

	opCount
)

var opNames = [...]string{
	OpLoadConst:          "OpLoadConst",
	OpLoadConstW:         "OpLoadConstW",
	OpLoadUndefined:      "OpLoadUndefined",
	OpLoadNull:           "OpLoadNull",
	OpLoadTrue:           "OpLoadTrue",
	OpLoadFalse:          "OpLoadFalse",
	OpMove:               "OpMove",
	OpAdd:                "OpAdd",
	OpSubtract:           "OpSubtract",
	OpMultiply:           "OpMultiply",
	OpDivide:             "OpDivide",
	OpRemainder:          "OpRemainder",
	OpExponent:           "OpExponent",
	OpNegate:             "OpNegate",
	OpNot:                "OpNot",
	OpBitwiseNot:         "OpBitwiseNot",
	OpTypeof:             "OpTypeof",
	OpToNumber:           "OpToNumber",
	OpBitwiseAnd:         "OpBitwiseAnd",
	OpBitwiseOr:          "OpBitwiseOr",
	OpBitwiseXor:         "OpBitwiseXor",
	OpShiftLeft:          "OpShiftLeft",
	OpShiftRight:         "OpShiftRight",
	OpUnsignedShiftRight: "OpUnsignedShiftRight",
	OpEqual:              "OpEqual",
	OpNotEqual:           "OpNotEqual",
	OpStrictEqual:        "OpStrictEqual",
	OpStrictNotEqual:     "OpStrictNotEqual",
	OpLess:               "OpLess",
	OpGreater:            "OpGreater",
	OpLessEqual:          "OpLessEqual",
	OpGreaterEqual:       "OpGreaterEqual",
	OpIn:                 "OpIn",
	OpInstanceof:         "OpInstanceof",
	OpStringConcat:       "OpStringConcat",
	OpJump:               "OpJump",
	OpJumpIfFalse:        "OpJumpIfFalse",
	OpJumpIfTrue:         "OpJumpIfTrue",
	OpJumpIfNullish:      "OpJumpIfNullish",
	OpCall:               "OpCall",
	OpCallMethod:         "OpCallMethod",
	OpNew:                "OpNew",
	OpSpreadCall:         "OpSpreadCall",
	OpReturn:             "OpReturn",
	OpReturnUndefined:    "OpReturnUndefined",
	OpThrow:              "OpThrow",
	OpClosure:            "OpClosure",
	OpLoadThis:           "OpLoadThis",
	OpLoadNewTarget:      "OpLoadNewTarget",
	OpMakeEmptyObject:    "OpMakeEmptyObject",
	OpMakeArray:          "OpMakeArray",
	OpGetProp:            "OpGetProp",
	OpSetProp:            "OpSetProp",
	OpGetIndex:           "OpGetIndex",
	OpSetIndex:           "OpSetIndex",
	OpDeleteProp:         "OpDeleteProp",
	OpDeleteIndex:        "OpDeleteIndex",
	OpGetOwnKeys:         "OpGetOwnKeys",
	OpDefineAccessor:     "OpDefineAccessor",
	OpSetPrototype:       "OpSetPrototype",
	OpGetGlobal:          "OpGetGlobal",
	OpSetGlobal:          "OpSetGlobal",
	OpTypeofIdentifier:   "OpTypeofIdentifier",
	OpPushEnv:            "OpPushEnv",
	OpPopEnv:             "OpPopEnv",
	OpPushWithEnv:        "OpPushWithEnv",
	OpLoadEnv:            "OpLoadEnv",
	OpStoreEnv:           "OpStoreEnv",
	OpInitEnv:            "OpInitEnv",
	OpLoadEnvName:        "OpLoadEnvName",
	OpStoreEnvName:       "OpStoreEnvName",
	OpGetIterator:        "OpGetIterator",
	OpIteratorNext:       "OpIteratorNext",
	OpHandlePending:      "OpHandlePending",
	OpPushBreak:          "OpPushBreak",
	OpPushContinue:       "OpPushContinue",
	OpReturnFinally:      "OpReturnFinally",
	OpYield:              "OpYield",
	OpAwait:              "OpAwait",
}

// String returns a human-readable name for the OpCode.
func (op OpCode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("UnknownOpcode(%d)", op)
}

// BindingKind is the OpInitEnv kind operand.
type BindingKind uint8

const (
	BindingMutable   BindingKind = iota // let, var, function
	BindingImmutable                    // const
)

// ExceptionHandler is one entry in a chunk's exception table. Entries are
// ordered innermost-first; the unwinder picks the first entry covering the
// faulting pc.
type ExceptionHandler struct {
	TryStart  int  // pc where the protected range starts (inclusive)
	TryEnd    int  // pc where the protected range ends (exclusive)
	HandlerPC int  // where to resume when this handler fires
	CatchReg  int  // register receiving the exception, -1 for finally-only
	IsCatch   bool
	IsFinally bool
	// EnvDepth is the environment stack depth at try entry. The unwinder
	// pops environments down to this depth before entering the handler, so
	// block scopes opened inside the try never leak.
	EnvDepth int
}

// FunctionProto is an immutable function template referenced by OpClosure.
// Instantiation pairs it with the environment captured at closure creation.
type FunctionProto struct {
	Name         string
	Arity        int
	Variadic     bool
	Kind         FunctionKind
	RegisterSize int
	Strict       bool
	Chunk        *Chunk
}

// Chunk is a compiled unit of bytecode with its constant pool, line table,
// nested function templates and exception table.
type Chunk struct {
	Code           []byte
	Constants      []Value
	Functions      []*FunctionProto
	Lines          []int
	ExceptionTable []ExceptionHandler
	Name           string
	MaxRegisters   int
}

// NewChunk creates a new, empty Chunk.
func NewChunk(name string) *Chunk {
	return &Chunk{Name: name}
}

// GetLine returns the source line for a bytecode offset, 0 when unknown.
func (c *Chunk) GetLine(offset int) int {
	if offset < 0 || offset >= len(c.Lines) {
		return 0
	}
	return c.Lines[offset]
}

// WriteOpCode appends an opcode, recording its source line.
func (c *Chunk) WriteOpCode(op OpCode, line int) {
	c.Code = append(c.Code, byte(op))
	c.Lines = append(c.Lines, line)
}

// WriteByte appends a raw operand byte. Lines track opcodes only, so the
// line table gets a filler entry to stay index-aligned with Code.
func (c *Chunk) WriteByte(b byte) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, 0)
}

// WriteUint16 appends a big-endian 16-bit operand.
func (c *Chunk) WriteUint16(val uint16) {
	c.WriteByte(byte(val >> 8))
	c.WriteByte(byte(val & 0xff))
}

// WriteInt16 appends a signed big-endian 16-bit operand (jump offsets).
func (c *Chunk) WriteInt16(val int16) {
	c.WriteUint16(uint16(val))
}

// PatchUint16 overwrites a previously emitted 16-bit operand, for forward
// jump backpatching.
func (c *Chunk) PatchUint16(offset int, val uint16) {
	c.Code[offset] = byte(val >> 8)
	c.Code[offset+1] = byte(val & 0xff)
}

// AddConstant interns a value into the constant pool and returns its index.
// Primitives are deduplicated; object constants keep their identity.
func (c *Chunk) AddConstant(v Value) uint16 {
	if v.typ != TypeObject {
		for i, existing := range c.Constants {
			if StrictEquals(existing, v) && SameValue(existing, v) {
				return uint16(i)
			}
		}
	}
	c.Constants = append(c.Constants, v)
	idx := len(c.Constants) - 1
	if idx > 0xffff {
		panic("too many constants in one chunk")
	}
	return uint16(idx)
}

// AddFunction registers a nested function template and returns its index.
func (c *Chunk) AddFunction(proto *FunctionProto) uint16 {
	c.Functions = append(c.Functions, proto)
	idx := len(c.Functions) - 1
	if idx > 0xffff {
		panic("too many functions in one chunk")
	}
	return uint16(idx)
}

// AddExceptionHandler appends a handler entry. Callers must append inner
// handlers before outer ones for overlapping ranges.
func (c *Chunk) AddExceptionHandler(h ExceptionHandler) {
	c.ExceptionTable = append(c.ExceptionTable, h)
}

func readUint16(code []byte, ip int) uint16 {
	return uint16(code[ip])<<8 | uint16(code[ip+1])
}

func readInt16(code []byte, ip int) int16 {
	return int16(readUint16(code, ip))
}

func readUint32(code []byte, ip int) uint32 {
	return uint32(code[ip])<<24 | uint32(code[ip+1])<<16 | uint32(code[ip+2])<<8 | uint32(code[ip+3])
}
