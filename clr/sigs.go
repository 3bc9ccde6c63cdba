// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import (
	pe "github.com/saferwall/clrmeta"
)

// ElementType is an ECMA-335 II.23.1.16 signature element-type tag.
type ElementType byte

// Element-type tags used by the signature decoder.
const (
	ElementTypeEnd         ElementType = 0x00
	ElementTypeVoid        ElementType = 0x01
	ElementTypeBoolean     ElementType = 0x02
	ElementTypeChar        ElementType = 0x03
	ElementTypeI1          ElementType = 0x04
	ElementTypeU1          ElementType = 0x05
	ElementTypeI2          ElementType = 0x06
	ElementTypeU2          ElementType = 0x07
	ElementTypeI4          ElementType = 0x08
	ElementTypeU4          ElementType = 0x09
	ElementTypeI8          ElementType = 0x0a
	ElementTypeU8          ElementType = 0x0b
	ElementTypeR4          ElementType = 0x0c
	ElementTypeR8          ElementType = 0x0d
	ElementTypeString      ElementType = 0x0e
	ElementTypePtr         ElementType = 0x0f
	ElementTypeByRef       ElementType = 0x10
	ElementTypeValuetype   ElementType = 0x11
	ElementTypeClass       ElementType = 0x12
	ElementTypeVar         ElementType = 0x13
	ElementTypeArray       ElementType = 0x14
	ElementTypeGenericInst ElementType = 0x15
	ElementTypeTypedByRef  ElementType = 0x16
	ElementTypeI           ElementType = 0x18
	ElementTypeU           ElementType = 0x19
	ElementTypeFnPtr       ElementType = 0x1b
	ElementTypeObject      ElementType = 0x1c
	ElementTypeSZArray     ElementType = 0x1d
	ElementTypeMVar        ElementType = 0x1e
	ElementTypeCModReqd    ElementType = 0x1f
	ElementTypeCModOpt     ElementType = 0x20
	ElementTypeInternal    ElementType = 0x21
	ElementTypeModifier    ElementType = 0x40
	ElementTypeSentinel    ElementType = 0x41
	ElementTypePinned      ElementType = 0x45
)

// decodeCompressedUint reads an ECMA-335 II.23.2 compressed unsigned
// integer starting at offset. Returns the value and the number of bytes
// consumed.
func decodeCompressedUint(data []byte, offset int) (uint32, int, error) {
	if offset >= len(data) {
		return 0, 0, otherError("compressed integer: short read at %#x", offset)
	}
	b0 := data[offset]
	switch {
	case b0&0x80 == 0:
		return uint32(b0), 1, nil
	case b0&0xc0 == 0x80:
		if offset+1 >= len(data) {
			return 0, 0, otherError("compressed integer: short read at %#x", offset)
		}
		v := (uint32(b0&0x3f) << 8) | uint32(data[offset+1])
		return v, 2, nil
	case b0&0xe0 == 0xc0:
		if offset+3 >= len(data) {
			return 0, 0, otherError("compressed integer: short read at %#x", offset)
		}
		v := (uint32(b0&0x1f) << 24) | (uint32(data[offset+1]) << 16) |
			(uint32(data[offset+2]) << 8) | uint32(data[offset+3])
		return v, 4, nil
	default:
		return 0, 0, otherError("compressed integer: bad prefix byte %#x at %#x", b0, offset)
	}
}

// decodeCompressedInt reads a compressed SIGNED integer (ECMA-335
// II.23.2, used by ARRAY lower bounds), which differs from the unsigned
// form only in how the final bit of the raw payload is interpreted.
func decodeCompressedInt(data []byte, offset int) (int32, int, error) {
	u, n, err := decodeCompressedUint(data, offset)
	if err != nil {
		return 0, 0, err
	}
	var bits int
	switch n {
	case 1:
		bits = 7
	case 2:
		bits = 14
	default:
		bits = 28
	}
	signed := u>>1
	if u&1 != 0 {
		signed = signed | (^uint32(0) << (bits - 1))
	}
	return int32(signed), n, nil
}

// typeDefOrRefTag decodes ECMA-335 II.23.2.8's compact TypeDefOrRefEncoded
// token embedded directly in a signature blob: 2 tag bits then a
// compressed row index, distinct from the fixed-width coded-index columns
// decoded in codedindex.go.
type typeDefOrRefTag struct {
	table int // pe.TypeDef, pe.TypeRef, or pe.TypeSpec
	row   uint32
}

func decodeTypeDefOrRefTag(data []byte, offset int) (typeDefOrRefTag, int, error) {
	v, n, err := decodeCompressedUint(data, offset)
	if err != nil {
		return typeDefOrRefTag{}, 0, err
	}
	tag := v & 0x3
	row := v >> 2
	var table int
	switch tag {
	case 0:
		table = pe.TypeDef
	case 1:
		table = pe.TypeRef
	case 2:
		table = pe.TypeSpec
	default:
		return typeDefOrRefTag{}, 0, otherError("bad TypeDefOrRef tag %d in signature", tag)
	}
	return typeDefOrRefTag{table: table, row: row}, n, nil
}

// typeConverter resolves a typeDefOrRefTag into a MemberType, using the
// resolver's TypeDef/TypeRef position lookups built in passes 4 and 8.
type typeConverter func(tag typeDefOrRefTag) (MemberType, error)

// CustomMod is a required or optional custom modifier prefixing a type.
type CustomMod struct {
	Required bool
	Type     MemberType
}

// ArrayShape is an ARRAY signature's rank/sizes/lower-bounds record.
type ArrayShape struct {
	Rank        uint32
	Sizes       []uint32
	LowerBounds []int32
}

// GenericInstSig is a GENERICINST signature node.
type GenericInstSig struct {
	IsValueType bool
	Generic     MemberType
	Args        []TypeSig
}

// TypeSig is the signature decoder's structured type tree (ECMA-335
// II.23.2.12).
type TypeSig struct {
	Tag        ElementType
	CustomMods []CustomMod   // leading CMOD_REQD/CMOD_OPT prefix, if any
	Member     *MemberType   // CLASS / VALUETYPE
	Elem       *TypeSig      // PTR / SZARRAY element type
	Array      *ArrayShape   // ARRAY shape
	ArrayElem  *TypeSig      // ARRAY element type
	Generic    *GenericInstSig
	VarIndex   uint32 // VAR(n) / MVAR(n)
	FnPtr      *MethodSig
}

func decodeCustomMods(data []byte, offset int, conv typeConverter) ([]CustomMod, int, error) {
	var mods []CustomMod
	start := offset
	for offset < len(data) {
		tag := ElementType(data[offset])
		if tag != ElementTypeCModReqd && tag != ElementTypeCModOpt {
			break
		}
		tdr, n, err := decodeTypeDefOrRefTag(data, offset+1)
		if err != nil {
			return nil, 0, err
		}
		mt, err := conv(tdr)
		if err != nil {
			return nil, 0, err
		}
		mods = append(mods, CustomMod{Required: tag == ElementTypeCModReqd, Type: mt})
		offset += 1 + n
	}
	return mods, offset - start, nil
}

// decodeTypeSig decodes a single type node starting at offset, returning
// bytes consumed.
func decodeTypeSig(data []byte, offset int, conv typeConverter) (TypeSig, int, error) {
	start := offset
	mods, n, err := decodeCustomMods(data, offset, conv)
	if err != nil {
		return TypeSig{}, 0, err
	}
	offset += n

	if offset >= len(data) {
		return TypeSig{}, 0, otherError("type signature: short read at %#x", offset)
	}
	tag := ElementType(data[offset])
	offset++
	sig := TypeSig{Tag: tag, CustomMods: mods}

	switch tag {
	case ElementTypeBoolean, ElementTypeChar, ElementTypeI1, ElementTypeU1,
		ElementTypeI2, ElementTypeU2, ElementTypeI4, ElementTypeU4,
		ElementTypeI8, ElementTypeU8, ElementTypeR4, ElementTypeR8,
		ElementTypeString, ElementTypeObject, ElementTypeI, ElementTypeU,
		ElementTypeVoid, ElementTypeTypedByRef:
		// no extra payload

	case ElementTypeClass, ElementTypeValuetype:
		tdr, m, err := decodeTypeDefOrRefTag(data, offset)
		if err != nil {
			return TypeSig{}, 0, err
		}
		mt, err := conv(tdr)
		if err != nil {
			return TypeSig{}, 0, err
		}
		sig.Member = &mt
		offset += m

	case ElementTypeVar, ElementTypeMVar:
		idx, m, err := decodeCompressedUint(data, offset)
		if err != nil {
			return TypeSig{}, 0, err
		}
		sig.VarIndex = idx
		offset += m

	case ElementTypePtr:
		if offset < len(data) && ElementType(data[offset]) == ElementTypeVoid {
			offset++
			sig.Elem = &TypeSig{Tag: ElementTypeVoid}
			break
		}
		elem, m, err := decodeTypeSig(data, offset, conv)
		if err != nil {
			return TypeSig{}, 0, err
		}
		sig.Elem = &elem
		offset += m

	case ElementTypeSZArray:
		elem, m, err := decodeTypeSig(data, offset, conv)
		if err != nil {
			return TypeSig{}, 0, err
		}
		sig.Elem = &elem
		offset += m

	case ElementTypeArray:
		elem, m, err := decodeTypeSig(data, offset, conv)
		if err != nil {
			return TypeSig{}, 0, err
		}
		offset += m
		shape, m2, err := decodeArrayShape(data, offset)
		if err != nil {
			return TypeSig{}, 0, err
		}
		sig.ArrayElem = &elem
		sig.Array = &shape
		offset += m2

	case ElementTypeGenericInst:
		if offset >= len(data) {
			return TypeSig{}, 0, otherError("GENERICINST: short read at %#x", offset)
		}
		kindTag := ElementType(data[offset])
		if kindTag != ElementTypeClass && kindTag != ElementTypeValuetype {
			return TypeSig{}, 0, otherError("GENERICINST: expected CLASS or VALUETYPE, got %#x", kindTag)
		}
		offset++
		tdr, m, err := decodeTypeDefOrRefTag(data, offset)
		if err != nil {
			return TypeSig{}, 0, err
		}
		generic, err := conv(tdr)
		if err != nil {
			return TypeSig{}, 0, err
		}
		offset += m
		argc, m2, err := decodeCompressedUint(data, offset)
		if err != nil {
			return TypeSig{}, 0, err
		}
		offset += m2
		args := make([]TypeSig, argc)
		for i := range args {
			args[i], m2, err = decodeTypeSig(data, offset, conv)
			if err != nil {
				return TypeSig{}, 0, err
			}
			offset += m2
		}
		sig.Generic = &GenericInstSig{IsValueType: kindTag == ElementTypeValuetype, Generic: generic, Args: args}

	case ElementTypeFnPtr:
		msig, m, err := decodeMethodSigAt(data, offset, conv)
		if err != nil {
			return TypeSig{}, 0, err
		}
		sig.FnPtr = &msig
		offset += m

	default:
		return TypeSig{}, 0, otherError("unrecognized element type %#x", tag)
	}

	return sig, offset - start, nil
}

func decodeArrayShape(data []byte, offset int) (ArrayShape, int, error) {
	start := offset
	rank, n, err := decodeCompressedUint(data, offset)
	if err != nil {
		return ArrayShape{}, 0, err
	}
	offset += n

	numSizes, n, err := decodeCompressedUint(data, offset)
	if err != nil {
		return ArrayShape{}, 0, err
	}
	offset += n
	sizes := make([]uint32, numSizes)
	for i := range sizes {
		sizes[i], n, err = decodeCompressedUint(data, offset)
		if err != nil {
			return ArrayShape{}, 0, err
		}
		offset += n
	}

	numLo, n, err := decodeCompressedUint(data, offset)
	if err != nil {
		return ArrayShape{}, 0, err
	}
	offset += n
	lo := make([]int32, numLo)
	for i := range lo {
		lo[i], n, err = decodeCompressedInt(data, offset)
		if err != nil {
			return ArrayShape{}, 0, err
		}
		offset += n
	}

	return ArrayShape{Rank: rank, Sizes: sizes, LowerBounds: lo}, offset - start, nil
}

// ParamSig is a signature's "Param" production: custom mods plus either
// BYREF/TYPEDBYREF or a plain type.
type ParamSig struct {
	CustomMods []CustomMod
	ByRef      bool
	TypedByRef bool
	Type       TypeSig
}

func decodeParamSig(data []byte, offset int, conv typeConverter) (ParamSig, int, error) {
	start := offset
	mods, n, err := decodeCustomMods(data, offset, conv)
	if err != nil {
		return ParamSig{}, 0, err
	}
	offset += n

	if offset < len(data) && ElementType(data[offset]) == ElementTypeTypedByRef {
		return ParamSig{CustomMods: mods, TypedByRef: true}, offset + 1 - start, nil
	}

	byRef := false
	if offset < len(data) && ElementType(data[offset]) == ElementTypeByRef {
		byRef = true
		offset++
	}
	t, m, err := decodeTypeSig(data, offset, conv)
	if err != nil {
		return ParamSig{}, 0, err
	}
	offset += m
	return ParamSig{CustomMods: mods, ByRef: byRef, Type: t}, offset - start, nil
}

// CallingConventionKind is MethodSig's low nibble.
type CallingConventionKind int

// Calling conventions (ECMA-335 II.23.2.1/23.2.3).
const (
	CCDefault CallingConventionKind = iota
	CCC
	CCStdcall
	CCThiscall
	CCFastcall
	CCVararg
	CCGeneric
)

// CallingConvention is MethodSig's calling-convention byte, split into its
// kind plus (only for Generic) the generic parameter count.
type CallingConvention struct {
	Kind              CallingConventionKind
	GenericParamCount uint32
}

// MethodSig is a decoded method signature (definition, not call-site, form).
type MethodSig struct {
	Convention   CallingConvention
	HasThis      bool
	ExplicitThis bool
	RetType      ParamSig
	Params       []ParamSig
}

// MethodRefSig is MethodSig plus an optional VARARG tail, present only at
// MemberRef call sites with the Vararg calling convention.
type MethodRefSig struct {
	MethodSig
	VarArgs []ParamSig
}

const (
	sigHasThis      = 0x20
	sigExplicitThis = 0x40
	sigCallConvMask = 0x0f
	sigGeneric      = 0x10
)

func decodeMethodSigAt(data []byte, offset int, conv typeConverter) (MethodSig, int, error) {
	start := offset
	if offset >= len(data) {
		return MethodSig{}, 0, otherError("method signature: short read at %#x", offset)
	}
	header := data[offset]
	offset++

	var sig MethodSig
	sig.HasThis = header&sigHasThis != 0
	sig.ExplicitThis = header&sigExplicitThis != 0
	switch header & sigCallConvMask {
	case 0x0:
		sig.Convention.Kind = CCDefault
	case 0x1:
		sig.Convention.Kind = CCC
	case 0x2:
		sig.Convention.Kind = CCStdcall
	case 0x3:
		sig.Convention.Kind = CCThiscall
	case 0x4:
		sig.Convention.Kind = CCFastcall
	case 0x5:
		sig.Convention.Kind = CCVararg
	default:
		if header&sigGeneric != 0 {
			sig.Convention.Kind = CCGeneric
		} else {
			return MethodSig{}, 0, otherError("method signature: bad calling convention %#x", header)
		}
	}

	if sig.Convention.Kind == CCGeneric || header&sigGeneric != 0 {
		n, m, err := decodeCompressedUint(data, offset)
		if err != nil {
			return MethodSig{}, 0, err
		}
		sig.Convention.Kind = CCGeneric
		sig.Convention.GenericParamCount = n
		offset += m
	}

	paramCount, n, err := decodeCompressedUint(data, offset)
	if err != nil {
		return MethodSig{}, 0, err
	}
	offset += n

	ret, n, err := decodeParamSig(data, offset, conv)
	if err != nil {
		return MethodSig{}, 0, err
	}
	sig.RetType = ret
	offset += n

	params := make([]ParamSig, 0, paramCount)
	for i := uint32(0); i < paramCount; i++ {
		if offset < len(data) && ElementType(data[offset]) == ElementTypeSentinel {
			// Reached the VARARG sentinel inside a definition-form decode;
			// stop here and let decodeMethodRefSig pick up the tail.
			break
		}
		p, n, err := decodeParamSig(data, offset, conv)
		if err != nil {
			return MethodSig{}, 0, err
		}
		params = append(params, p)
		offset += n
	}
	sig.Params = params

	return sig, offset - start, nil
}

// decodeMethodSig decodes a full method-definition signature blob.
func decodeMethodSig(blob []byte, conv typeConverter) (MethodSig, error) {
	sig, _, err := decodeMethodSigAt(blob, 0, conv)
	return sig, err
}

// decodeMethodRefSig decodes a call-site method signature, including the
// VARARG tail when present.
func decodeMethodRefSig(blob []byte, conv typeConverter) (MethodRefSig, error) {
	sig, n, err := decodeMethodSigAt(blob, 0, conv)
	if err != nil {
		return MethodRefSig{}, err
	}
	out := MethodRefSig{MethodSig: sig}
	if sig.Convention.Kind != CCVararg {
		return out, nil
	}
	offset := n
	if offset >= len(blob) || ElementType(blob[offset]) != ElementTypeSentinel {
		return out, nil
	}
	offset++
	for offset < len(blob) {
		p, m, err := decodeParamSig(blob, offset, conv)
		if err != nil {
			return MethodRefSig{}, err
		}
		out.VarArgs = append(out.VarArgs, p)
		offset += m
	}
	return out, nil
}

// FieldSig is a decoded field signature.
type FieldSig struct {
	CustomMods []CustomMod
	Type       TypeSig
}

func decodeFieldSig(blob []byte, conv typeConverter) (FieldSig, error) {
	if len(blob) == 0 || blob[0] != 0x06 {
		return FieldSig{}, otherError("field signature: bad prefix")
	}
	offset := 1
	mods, n, err := decodeCustomMods(blob, offset, conv)
	if err != nil {
		return FieldSig{}, err
	}
	offset += n
	t, _, err := decodeTypeSig(blob, offset, conv)
	if err != nil {
		return FieldSig{}, err
	}
	return FieldSig{CustomMods: mods, Type: t}, nil
}

// PropertySig is a decoded property signature.
type PropertySig struct {
	HasThis         bool
	Type            TypeSig
	IndexParameters []ParamSig
}

func decodePropertySig(blob []byte, conv typeConverter) (PropertySig, error) {
	if len(blob) == 0 {
		return PropertySig{}, otherError("property signature: empty blob")
	}
	header := blob[0]
	if header&0x0f != 0x08 {
		return PropertySig{}, otherError("property signature: bad prefix %#x", header)
	}
	offset := 1
	paramCount, n, err := decodeCompressedUint(blob, offset)
	if err != nil {
		return PropertySig{}, err
	}
	offset += n
	t, n, err := decodeTypeSig(blob, offset, conv)
	if err != nil {
		return PropertySig{}, err
	}
	offset += n
	params := make([]ParamSig, paramCount)
	for i := range params {
		params[i], n, err = decodeParamSig(blob, offset, conv)
		if err != nil {
			return PropertySig{}, err
		}
		offset += n
	}
	return PropertySig{HasThis: header&sigHasThis != 0, Type: t, IndexParameters: params}, nil
}

// LocalVar is one LocalVarSig entry.
type LocalVar struct {
	TypedByRef bool
	CustomMods []CustomMod
	Pinned     bool
	ByRef      bool
	Type       TypeSig
}

// LocalVarSig is a decoded StandAloneSig local-variable signature.
type LocalVarSig struct {
	Locals []LocalVar
}

func decodeLocalVarSig(blob []byte, conv typeConverter) (LocalVarSig, error) {
	if len(blob) == 0 || blob[0] != 0x07 {
		return LocalVarSig{}, otherError("local variable signature: bad prefix")
	}
	offset := 1
	count, n, err := decodeCompressedUint(blob, offset)
	if err != nil {
		return LocalVarSig{}, err
	}
	offset += n
	locals := make([]LocalVar, 0, count)
	for i := uint32(0); i < count; i++ {
		if offset < len(blob) && ElementType(blob[offset]) == ElementTypeTypedByRef {
			locals = append(locals, LocalVar{TypedByRef: true})
			offset++
			continue
		}
		mods, m, err := decodeCustomMods(blob, offset, conv)
		if err != nil {
			return LocalVarSig{}, err
		}
		offset += m
		pinned := false
		for offset < len(blob) && ElementType(blob[offset]) == ElementTypePinned {
			pinned = true
			offset++
		}
		byRef := false
		if offset < len(blob) && ElementType(blob[offset]) == ElementTypeByRef {
			byRef = true
			offset++
		}
		t, m, err := decodeTypeSig(blob, offset, conv)
		if err != nil {
			return LocalVarSig{}, err
		}
		offset += m
		locals = append(locals, LocalVar{CustomMods: mods, Pinned: pinned, ByRef: byRef, Type: t})
	}
	return LocalVarSig{Locals: locals}, nil
}

// MarshalSpec is kept as structured data, not re-interpreted beyond the
// leading native-type tag (spec.md §4.2).
type MarshalSpec struct {
	NativeType byte
	Extra      []byte
}

func decodeMarshalSpec(blob []byte) (MarshalSpec, error) {
	if len(blob) == 0 {
		return MarshalSpec{}, otherError("marshal spec: empty blob")
	}
	return MarshalSpec{NativeType: blob[0], Extra: blob[1:]}, nil
}
