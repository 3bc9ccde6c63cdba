// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import (
	pe "github.com/saferwall/clrmeta"
)

const (
	bodyHeaderTag  = 0x03 // low 2 bits of the first header byte
	bodyHeaderTiny = 0x02
	bodyHeaderFat  = 0x03

	fatHeaderInitLocals   = 0x10
	fatHeaderMoreSections = 0x08
	fatHeaderSizeMask     = 0xf0 // high nibble of byte 1 is the 4-byte-word header size

	sectionKindFatFormat  = 0x40
	sectionKindMoreSects  = 0x80
	sectionKindEHTable    = 0x01
	sectionKindKindMask   = 0x3f

	ehFlagException = 0x0000
	ehFlagFilter    = 0x0001
	ehFlagFinally   = 0x0002
	ehFlagFault     = 0x0004
)

// Instruction is one decoded IL instruction, positioned by byte offset in
// the method's code stream.
type Instruction struct {
	Offset uint32
	Length uint32
	Opcode uint16 // single-byte opcode, or 0xFEXX for the two-byte set
}

// InstructionDecoder parses a method's raw IL into per-instruction records.
// This is the pluggable "instruction decoder" external interface: given the
// code bytes, it returns every instruction's position and length, needed to
// build instrOffsets for branch-target and exception-clause resolution.
// Supplying a custom decoder (e.g. one that also extracts operand values)
// only requires satisfying this interface.
type InstructionDecoder interface {
	Decode(il []byte) ([]Instruction, error)
}

// defaultInstructionDecoder walks the IL stream using ECMA-335 Partition
// III's opcode operand-size table. It classifies instructions by length
// only; it does not interpret operand values.
type defaultInstructionDecoder struct{}

// singleByteOperandSize gives the number of operand bytes following a single-byte
// opcode. -1 marks the 0xFE two-byte prefix; -2 marks switch, whose
// operand is a 4-byte count N followed by N 4-byte targets. Opcodes absent
// from this table take 0 operand bytes.
var singleByteOperandSize = [256]int8{
	0xfe: -1, // two-byte opcode prefix
	0x45: -2, // switch

	// short-form arg/local load/store: uint8 index
	0x0e: 1, 0x0f: 1, 0x10: 1, 0x11: 1, 0x12: 1, 0x13: 1,
	// ldc.i4.s: int8
	0x1f: 1,
	// short-form branches: int8 displacement
	0x2b: 1, 0x2c: 1, 0x2d: 1, 0x2e: 1, 0x2f: 1, 0x30: 1, 0x31: 1, 0x32: 1,
	0x33: 1, 0x34: 1, 0x35: 1, 0x36: 1, 0x37: 1,
	// leave.s: int8
	0xde: 1,

	// ldc.i4: int32; ldc.r4: float32
	0x20: 4, 0x22: 4,
	// jmp/call/calli: metadata token
	0x27: 4, 0x28: 4, 0x29: 4,
	// long-form branches: int32 displacement
	0x38: 4, 0x39: 4, 0x3a: 4, 0x3b: 4, 0x3c: 4, 0x3d: 4, 0x3e: 4, 0x3f: 4,
	0x40: 4, 0x41: 4, 0x42: 4, 0x43: 4, 0x44: 4,
	// token-carrying member/type operands
	0x6f: 4, 0x70: 4, 0x71: 4, 0x72: 4, 0x73: 4, 0x74: 4, 0x75: 4,
	0x79: 4, 0x7b: 4, 0x7c: 4, 0x7d: 4, 0x7e: 4, 0x7f: 4, 0x80: 4, 0x81: 4,
	0x8c: 4, 0x8d: 4, 0x8f: 4, 0xa3: 4, 0xa4: 4, 0xa5: 4,
	0xc2: 4, // refanyval
	0xc6: 4, // mkrefany
	0xd0: 4, // ldtoken
	// leave: int32 displacement
	0xdd: 4,

	// ldc.i8: int64; ldc.r8: float64
	0x21: 8, 0x23: 8,
}

// decodeTwoByteOperandSize returns the operand size of a 0xFE-prefixed opcode's second
// byte. Most are 0; the loc/arg long forms take a 2-byte index, the
// unaligned./no. prefixes a 1-byte operand, and a few take a 4-byte
// metadata token.
func decodeTwoByteOperandSize(second byte) int {
	switch second {
	case 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e: // ldarg, ldarga, starg, ldloc, ldloca, stloc (long forms)
		return 2
	case 0x12, 0x19: // unaligned., no.
		return 1
	case 0x06, 0x07, 0x15, 0x16, 0x1c: // ldftn, ldvirtftn, initobj, constrained., sizeof
		return 4
	default:
		return 0
	}
}

// Decode walks il and returns one Instruction per opcode. An unrecognized
// single-byte opcode with no registered operand size is treated as 0
// operand bytes, matching how a CIL verifier's well-formedness check would
// reject it anyway were it actually invalid.
func (defaultInstructionDecoder) Decode(il []byte) ([]Instruction, error) {
	var instrs []Instruction
	offset := 0
	for offset < len(il) {
		start := offset
		op := uint16(il[offset])
		offset++
		size := int(singleByteOperandSize[op])
		if op == 0xfe {
			if offset >= len(il) {
				return nil, otherError("method body: truncated two-byte opcode at %#x", start)
			}
			second := il[offset]
			op = 0xfe00 | uint16(second)
			offset++
			size = decodeTwoByteOperandSize(second)
		} else if size == -2 {
			// switch: 4-byte count N, then N 4-byte targets.
			if offset+4 > len(il) {
				return nil, otherError("method body: truncated switch count at %#x", start)
			}
			n := uint32(il[offset]) | uint32(il[offset+1])<<8 | uint32(il[offset+2])<<16 | uint32(il[offset+3])<<24
			size = 4 + int(n)*4
		} else if size < 0 {
			size = 0
		}
		offset += size
		if offset > len(il) {
			return nil, otherError("method body: opcode %#x at %#x overruns code size", op, start)
		}
		instrs = append(instrs, Instruction{Offset: uint32(start), Length: uint32(offset - start), Opcode: op})
	}
	return instrs, nil
}

// MethodDataSectionKind tags a method body's extra data section.
type MethodDataSectionKind int

// Data section kinds (ECMA-335 II.25.4.5).
const (
	SectionExceptionHandlers MethodDataSectionKind = iota
	SectionUnknown
)

// ExceptionClauseKind is a clause's Flags column.
type ExceptionClauseKind int

// Exception clause kinds.
const (
	ClauseTypedException ExceptionClauseKind = iota
	ClauseFilter
	ClauseFinally
	ClauseFault
)

// ExceptionClause is one entry of an exception-handler data section, with
// byte offsets already translated to instruction indices.
type ExceptionClause struct {
	Kind           ExceptionClauseKind
	TryIndex       int
	TryLength      int
	HandlerIndex   int
	HandlerLength  int
	CatchType      *MemberType // ClauseTypedException
	FilterIndex    int         // ClauseFilter: instruction index of the filter expression
}

// MethodDataSection is one entry of MethodBody.DataSections.
type MethodDataSection struct {
	Kind     MethodDataSectionKind
	Clauses  []ExceptionClause // SectionExceptionHandlers
	RawKind  byte              // SectionUnknown: the section's kind byte, preserved verbatim
	RawFat   bool
	RawBytes []byte // SectionUnknown: the section payload, preserved verbatim
}

// passMethodBodies is pass 27: decode every MethodDef with a nonzero RVA.
func (r *resolver) passMethodBodies() error {
	rows := tableRows[pe.MethodDefTableRow](r.pe, pe.MethodDef)
	decoder := InstructionDecoder(defaultInstructionDecoder{})

	for i, row := range rows {
		if row.RVA == 0 {
			continue
		}
		rowNum := i + 1
		m := r.methods[rowNum]
		if m == nil {
			continue
		}
		body, err := r.decodeMethodBody(row.RVA, decoder)
		if err != nil {
			return tableError("MethodDef", rowNum, m.Name, "%v", err)
		}
		m.Body = body
	}
	return nil
}

func (r *resolver) decodeMethodBody(rva uint32, decoder InstructionDecoder) (*MethodBody, error) {
	off := r.pe.GetOffsetFromRva(rva)
	first, err := r.pe.ReadBytesAtOffset(off, 1)
	if err != nil {
		return nil, err
	}

	var body MethodBody
	var codeSize uint32
	var localVarSigTok uint32
	var codeOff uint32

	switch first[0] & bodyHeaderTag {
	case bodyHeaderTiny:
		codeSize = uint32(first[0]) >> 2
		body.MaxStack = 8
		codeOff = off + 1
	case bodyHeaderFat:
		hdr, err := r.pe.ReadBytesAtOffset(off, 12)
		if err != nil {
			return nil, err
		}
		flags := uint16(hdr[0]) | uint16(hdr[1])<<8
		headerWords := hdr[1] >> 4 // byte 1's high nibble: header size in 4-byte words
		body.InitLocals = flags&fatHeaderInitLocals != 0
		body.MaxStack = uint16(hdr[2]) | uint16(hdr[3])<<8
		codeSize = uint32(hdr[4]) | uint32(hdr[5])<<8 | uint32(hdr[6])<<16 | uint32(hdr[7])<<24
		localVarSigTok = uint32(hdr[8]) | uint32(hdr[9])<<8 | uint32(hdr[10])<<16 | uint32(hdr[11])<<24
		codeOff = off + uint32(headerWords)*4
		if flags&fatHeaderMoreSections == 0 {
			// no trailing data sections to walk later; nothing else to do here
		}
	default:
		return nil, otherError("method body: bad header tag at rva %#x", rva)
	}

	if localVarSigTok != 0 {
		locals, err := r.decodeLocalVars(localVarSigTok)
		if err != nil {
			return nil, err
		}
		body.Locals = locals
	}

	il, err := r.pe.ReadBytesAtOffset(codeOff, codeSize)
	if err != nil {
		return nil, err
	}
	instrs, err := decoder.Decode(il)
	if err != nil {
		return nil, err
	}
	body.Instructions = il
	body.InstrOffsets = make([]uint32, len(instrs))
	for i, ins := range instrs {
		body.InstrOffsets[i] = ins.Offset
	}

	if first[0]&bodyHeaderTag == bodyHeaderFat {
		hdr, err := r.pe.ReadBytesAtOffset(off, 12)
		if err != nil {
			return nil, err
		}
		flags := uint16(hdr[0]) | uint16(hdr[1])<<8
		if flags&fatHeaderMoreSections != 0 {
			sections, err := r.decodeDataSections(codeOff+codeSize, body.InstrOffsets, uint32(len(body.Instructions)))
			if err != nil {
				return nil, err
			}
			body.DataSections = sections
		}
	}

	return &body, nil
}

func (r *resolver) decodeLocalVars(token uint32) ([]LocalVar, error) {
	table := int(token >> 24)
	row := token & 0x00ffffff
	if table != pe.StandAloneSig {
		return nil, otherError("method body: local var signature token does not target StandAloneSig")
	}
	rows := tableRows[pe.StandAloneSigTableRow](r.pe, pe.StandAloneSig)
	if row == 0 || int(row) > len(rows) {
		return nil, otherError("method body: bad StandAloneSig row %d", row)
	}
	blob, err := r.heaps.Blob.At(rows[row-1].Signature)
	if err != nil {
		return nil, err
	}
	sig, err := decodeLocalVarSig(blob, r.convertType)
	if err != nil {
		return nil, err
	}
	return sig.Locals, nil
}

// decodeDataSections walks the chain of data sections following a fat
// method body's code. toInstrIndex translates a byte offset into the code
// stream to the index of the instruction starting there; maxOffset+1 (one
// past the last byte) maps to len(instrOffsets).
func (r *resolver) decodeDataSections(off uint32, instrOffsets []uint32, codeLen uint32) ([]MethodDataSection, error) {
	toInstrIndex := func(byteOff uint32) int {
		if byteOff == codeLen {
			return len(instrOffsets)
		}
		for i, o := range instrOffsets {
			if o == byteOff {
				return i
			}
		}
		return -1
	}

	// The first data section starts at the next 4-byte boundary after the code.
	if rem := off % 4; rem != 0 {
		off += 4 - rem
	}
	var sections []MethodDataSection
	for {
		hdr, err := r.pe.ReadBytesAtOffset(off, 4)
		if err != nil {
			return nil, err
		}
		kindByte := hdr[0]
		isFat := kindByte&sectionKindFatFormat != 0
		more := kindByte&sectionKindMoreSects != 0
		kind := kindByte & sectionKindKindMask

		var sectionLen uint32
		var dataOff uint32
		if isFat {
			sectionLen = uint32(hdr[1]) | uint32(hdr[2])<<8 | uint32(hdr[3])<<16
			dataOff = off + 4
		} else {
			sectionLen = uint32(hdr[1])
			dataOff = off + 4
		}

		if kind == sectionKindEHTable {
			clauses, err := r.decodeExceptionClauses(dataOff, sectionLen, isFat, toInstrIndex)
			if err != nil {
				return nil, err
			}
			sections = append(sections, MethodDataSection{Kind: SectionExceptionHandlers, Clauses: clauses})
		} else {
			raw, err := r.pe.ReadBytesAtOffset(dataOff, sectionLen-4)
			if err != nil {
				return nil, err
			}
			sections = append(sections, MethodDataSection{Kind: SectionUnknown, RawKind: kind, RawFat: isFat, RawBytes: raw})
		}

		off = dataOff + (sectionLen - 4)
		// Data sections are 4-byte aligned.
		if rem := off % 4; rem != 0 {
			off += 4 - rem
		}
		if !more {
			break
		}
	}
	return sections, nil
}

func (r *resolver) decodeExceptionClauses(off, sectionLen uint32, isFat bool, toInstrIndex func(uint32) int) ([]ExceptionClause, error) {
	const smallClauseSize = 12
	const fatClauseSize = 24
	clauseSize := uint32(smallClauseSize)
	if isFat {
		clauseSize = fatClauseSize
	}
	// sectionLen includes the 4-byte section header already consumed by the
	// caller's dataOff computation, so the clause count is derived from the
	// remaining bytes.
	count := (sectionLen - 4) / clauseSize
	clauses := make([]ExceptionClause, 0, count)
	for i := uint32(0); i < count; i++ {
		raw, err := r.pe.ReadBytesAtOffset(off, clauseSize)
		if err != nil {
			return nil, err
		}
		var flags, tryOffset, tryLength, handlerOffset, handlerLength, classTokenOrFilterOffset uint32
		if isFat {
			flags = le32(raw[0:4])
			tryOffset = le32(raw[4:8])
			tryLength = le32(raw[8:12])
			handlerOffset = le32(raw[12:16])
			handlerLength = le32(raw[16:20])
			classTokenOrFilterOffset = le32(raw[20:24])
		} else {
			flags = uint32(le16(raw[0:2]))
			tryOffset = uint32(le16(raw[2:4]))
			tryLength = uint32(raw[4])
			handlerOffset = uint32(le16(raw[5:7]))
			handlerLength = uint32(raw[7])
			classTokenOrFilterOffset = le32(raw[8:12])
		}

		var kind ExceptionClauseKind
		switch flags {
		case ehFlagException:
			kind = ClauseTypedException
		case ehFlagFilter:
			kind = ClauseFilter
		case ehFlagFinally:
			kind = ClauseFinally
		case ehFlagFault:
			kind = ClauseFault
		default:
			return nil, otherError("exception clause: bad flags %#x", flags)
		}

		tryIndex := toInstrIndex(tryOffset)
		handlerIndex := toInstrIndex(handlerOffset)
		clause := ExceptionClause{
			Kind:          kind,
			TryIndex:      tryIndex,
			TryLength:     toInstrIndex(tryOffset+tryLength) - tryIndex,
			HandlerIndex:  handlerIndex,
			HandlerLength: toInstrIndex(handlerOffset+handlerLength) - handlerIndex,
		}
		if kind == ClauseTypedException {
			mt, err := r.convertType(typeDefOrRefTag{table: tokenTable(classTokenOrFilterOffset), row: classTokenOrFilterOffset & 0x00ffffff})
			if err != nil {
				return nil, err
			}
			clause.CatchType = &mt
		} else if kind == ClauseFilter {
			clause.FilterIndex = toInstrIndex(classTokenOrFilterOffset)
		}
		clauses = append(clauses, clause)
		off += clauseSize
	}
	return clauses, nil
}

func tokenTable(token uint32) int { return int(token >> 24) }

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
