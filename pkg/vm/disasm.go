package vm

import (
	"fmt"
	"strings"
)

// Operand layout codes for the disassembler. r = register byte, k = 16-bit
// constant index, K = 32-bit constant index, n = 16-bit name index, j =
// signed 16-bit jump offset, b = raw byte, u = 16-bit unsigned immediate,
// f = 16-bit function template index.
var opLayouts = [...]string{
	OpLoadConst:          "rk",
	OpLoadConstW:         "rK",
	OpLoadUndefined:      "r",
	OpLoadNull:           "r",
	OpLoadTrue:           "r",
	OpLoadFalse:          "r",
	OpMove:               "rr",
	OpAdd:                "rrr",
	OpSubtract:           "rrr",
	OpMultiply:           "rrr",
	OpDivide:             "rrr",
	OpRemainder:          "rrr",
	OpExponent:           "rrr",
	OpNegate:             "rr",
	OpNot:                "rr",
	OpBitwiseNot:         "rr",
	OpTypeof:             "rr",
	OpToNumber:           "rr",
	OpBitwiseAnd:         "rrr",
	OpBitwiseOr:          "rrr",
	OpBitwiseXor:         "rrr",
	OpShiftLeft:          "rrr",
	OpShiftRight:         "rrr",
	OpUnsignedShiftRight: "rrr",
	OpEqual:              "rrr",
	OpNotEqual:           "rrr",
	OpStrictEqual:        "rrr",
	OpStrictNotEqual:     "rrr",
	OpLess:               "rrr",
	OpGreater:            "rrr",
	OpLessEqual:          "rrr",
	OpGreaterEqual:       "rrr",
	OpIn:                 "rrr",
	OpInstanceof:         "rrr",
	OpStringConcat:       "rrr",
	OpJump:               "j",
	OpJumpIfFalse:        "rj",
	OpJumpIfTrue:         "rj",
	OpJumpIfNullish:      "rj",
	OpCall:               "rrb",
	OpCallMethod:         "rrrb",
	OpNew:                "rrb",
	OpSpreadCall:         "rrrr",
	OpReturn:             "r",
	OpReturnUndefined:    "",
	OpThrow:              "r",
	OpClosure:            "rf",
	OpLoadThis:           "r",
	OpLoadNewTarget:      "r",
	OpMakeEmptyObject:    "r",
	OpMakeArray:          "rrb",
	OpGetProp:            "rrn",
	OpSetProp:            "rrn",
	OpGetIndex:           "rrr",
	OpSetIndex:           "rrr",
	OpDeleteProp:         "rrn",
	OpDeleteIndex:        "rrr",
	OpGetOwnKeys:         "rr",
	OpDefineAccessor:     "rrrn",
	OpSetPrototype:       "rr",
	OpGetGlobal:          "rn",
	OpSetGlobal:          "nr",
	OpTypeofIdentifier:   "rn",
	OpPushEnv:            "u",
	OpPopEnv:             "",
	OpPushWithEnv:        "r",
	OpLoadEnv:            "rbb",
	OpStoreEnv:           "bbr",
	OpInitEnv:            "bbbr",
	OpLoadEnvName:        "rn",
	OpStoreEnvName:       "nr",
	OpGetIterator:        "rr",
	OpIteratorNext:       "rrr",
	OpHandlePending:      "",
	OpPushBreak:          "u",
	OpPushContinue:       "u",
	OpReturnFinally:      "r",
	OpYield:              "rr",
	OpAwait:              "rr",
}

// instructionWidth returns the byte length of the instruction at ip.
func instructionWidth(op OpCode) int {
	w := 1
	for _, c := range layoutFor(op) {
		switch c {
		case 'r', 'b':
			w++
		case 'k', 'n', 'j', 'u', 'f':
			w += 2
		case 'K':
			w += 4
		}
	}
	return w
}

func layoutFor(op OpCode) string {
	if int(op) < len(opLayouts) {
		return opLayouts[op]
	}
	return ""
}

// Disassemble renders the chunk as human-readable text.
func (c *Chunk) Disassemble() string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", c.Name)
	offset := 0
	for offset < len(c.Code) {
		offset = c.disassembleInstruction(&b, offset)
	}
	if len(c.ExceptionTable) > 0 {
		b.WriteString("-- exception table --\n")
		for i, h := range c.ExceptionTable {
			kind := "finally"
			if h.IsCatch {
				kind = "catch"
			}
			fmt.Fprintf(&b, "  [%d] %s try=[%d,%d) handler=%d catchReg=%d envDepth=%d\n",
				i, kind, h.TryStart, h.TryEnd, h.HandlerPC, h.CatchReg, h.EnvDepth)
		}
	}
	for _, fn := range c.Functions {
		b.WriteString(fn.Chunk.Disassemble())
	}
	return b.String()
}

func (c *Chunk) disassembleInstruction(b *strings.Builder, offset int) int {
	fmt.Fprintf(b, "%04d ", offset)
	if line := c.GetLine(offset); line > 0 {
		fmt.Fprintf(b, "%4d ", line)
	} else {
		b.WriteString("   | ")
	}

	op := OpCode(c.Code[offset])
	fmt.Fprintf(b, "%-22s", op.String())
	ip := offset + 1
	for _, lc := range layoutFor(op) {
		switch lc {
		case 'r':
			fmt.Fprintf(b, " R%d", c.Code[ip])
			ip++
		case 'b':
			fmt.Fprintf(b, " %d", c.Code[ip])
			ip++
		case 'k':
			idx := readUint16(c.Code, ip)
			fmt.Fprintf(b, " K%d", idx)
			if int(idx) < len(c.Constants) {
				fmt.Fprintf(b, " (%s)", c.Constants[idx].Inspect())
			}
			ip += 2
		case 'K':
			idx := readUint32(c.Code, ip)
			fmt.Fprintf(b, " K%d", idx)
			if int(idx) < len(c.Constants) {
				fmt.Fprintf(b, " (%s)", c.Constants[idx].Inspect())
			}
			ip += 4
		case 'n':
			idx := readUint16(c.Code, ip)
			fmt.Fprintf(b, " N%d", idx)
			if int(idx) < len(c.Constants) && c.Constants[idx].IsString() {
				fmt.Fprintf(b, " (%q)", c.Constants[idx].AsString())
			}
			ip += 2
		case 'j':
			delta := readInt16(c.Code, ip)
			ip += 2
			fmt.Fprintf(b, " %+d -> %d", delta, ip+int(delta))
		case 'u':
			fmt.Fprintf(b, " %d", readUint16(c.Code, ip))
			ip += 2
		case 'f':
			idx := readUint16(c.Code, ip)
			fmt.Fprintf(b, " F%d", idx)
			if int(idx) < len(c.Functions) {
				fmt.Fprintf(b, " (%s)", c.Functions[idx].Name)
			}
			ip += 2
		}
	}
	b.WriteByte('\n')
	return ip
}
