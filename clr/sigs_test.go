// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import (
	"testing"

	pe "github.com/saferwall/clrmeta"
)

func TestDecodeCompressedUint(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantVal  uint32
		wantRead int
	}{
		{"1-byte 0x03", []byte{0x03}, 0x03, 1},
		{"1-byte max 0x7f", []byte{0x7f}, 0x7f, 1},
		{"2-byte 0x80", []byte{0x80, 0x80}, 0x80, 2},
		{"2-byte 0x4000-1", []byte{0xbf, 0xff}, 0x3fff, 2},
		{"4-byte 0x4000", []byte{0xc0, 0x00, 0x40, 0x00}, 0x4000, 4},
		{"4-byte max", []byte{0xdf, 0xff, 0xff, 0xff}, 0x1fffffff, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := decodeCompressedUint(tt.data, 0)
			if err != nil {
				t.Fatalf("decodeCompressedUint failed: %v", err)
			}
			if got != tt.wantVal || n != tt.wantRead {
				t.Errorf("decodeCompressedUint(%v) = (%#x, %d), want (%#x, %d)",
					tt.data, got, n, tt.wantVal, tt.wantRead)
			}
		})
	}

	if _, _, err := decodeCompressedUint(nil, 0); err == nil {
		t.Error("decodeCompressedUint(nil): want error on empty input")
	}
}

func TestDecodeCompressedInt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want int32
	}{
		{"positive 3", []byte{0x06}, 3},
		{"negative 3", []byte{0x7b}, -3},
		{"zero", []byte{0x00}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := decodeCompressedInt(tt.data, 0)
			if err != nil {
				t.Fatalf("decodeCompressedInt failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeCompressedInt(%v) = %d, want %d", tt.data, got, tt.want)
			}
		})
	}
}

func identityConverter(tag typeDefOrRefTag) (MemberType, error) {
	switch tag.table {
	case pe.TypeDef:
		return MemberType{Kind: MemberTypeDef, TypeDefIndex: int(tag.row) - 1}, nil
	default:
		return MemberType{Kind: MemberTypeRef, TypeRefIndex: int(tag.row) - 1}, nil
	}
}

func TestDecodeFieldSigScalar(t *testing.T) {
	// FIELD sig: 0x06 prefix, then I4 (0x08).
	blob := []byte{0x06, byte(ElementTypeI4)}
	sig, err := decodeFieldSig(blob, identityConverter)
	if err != nil {
		t.Fatalf("decodeFieldSig failed: %v", err)
	}
	if sig.Type.Tag != ElementTypeI4 {
		t.Errorf("Type.Tag = %#x, want %#x", sig.Type.Tag, ElementTypeI4)
	}
}

func TestDecodeFieldSigBadPrefix(t *testing.T) {
	if _, err := decodeFieldSig([]byte{0x07, 0x08}, identityConverter); err == nil {
		t.Error("decodeFieldSig: want error for non-0x06 prefix")
	}
}

func TestDecodeMethodSigNoArgs(t *testing.T) {
	// DEFAULT convention, 0 params, VOID return.
	blob := []byte{0x00, 0x00, byte(ElementTypeVoid)}
	sig, err := decodeMethodSig(blob, identityConverter)
	if err != nil {
		t.Fatalf("decodeMethodSig failed: %v", err)
	}
	if sig.Convention.Kind != CCDefault {
		t.Errorf("Convention.Kind = %v, want CCDefault", sig.Convention.Kind)
	}
	if len(sig.Params) != 0 {
		t.Errorf("Params = %v, want empty", sig.Params)
	}
	if sig.RetType.Type.Tag != ElementTypeVoid {
		t.Errorf("RetType.Type.Tag = %#x, want VOID", sig.RetType.Type.Tag)
	}
}

func TestDecodeMethodSigWithParams(t *testing.T) {
	// HASTHIS, DEFAULT, 2 params, I4 return, params (STRING, BOOLEAN).
	blob := []byte{
		sigHasThis | 0x00,
		0x02,
		byte(ElementTypeI4),
		byte(ElementTypeString),
		byte(ElementTypeBoolean),
	}
	sig, err := decodeMethodSig(blob, identityConverter)
	if err != nil {
		t.Fatalf("decodeMethodSig failed: %v", err)
	}
	if !sig.HasThis {
		t.Error("HasThis = false, want true")
	}
	if len(sig.Params) != 2 {
		t.Fatalf("len(Params) = %d, want 2", len(sig.Params))
	}
	if sig.Params[0].Type.Tag != ElementTypeString || sig.Params[1].Type.Tag != ElementTypeBoolean {
		t.Errorf("Params = %+v, want [STRING, BOOLEAN]", sig.Params)
	}
}

func TestDecodeLocalVarSig(t *testing.T) {
	// 0x07 prefix, 2 locals: I4, PINNED+OBJECT.
	blob := []byte{
		0x07,
		0x02,
		byte(ElementTypeI4),
		byte(ElementTypePinned), byte(ElementTypeObject),
	}
	sig, err := decodeLocalVarSig(blob, identityConverter)
	if err != nil {
		t.Fatalf("decodeLocalVarSig failed: %v", err)
	}
	if len(sig.Locals) != 2 {
		t.Fatalf("len(Locals) = %d, want 2", len(sig.Locals))
	}
	if sig.Locals[0].Type.Tag != ElementTypeI4 {
		t.Errorf("Locals[0].Type.Tag = %#x, want I4", sig.Locals[0].Type.Tag)
	}
	if !sig.Locals[1].Pinned || sig.Locals[1].Type.Tag != ElementTypeObject {
		t.Errorf("Locals[1] = %+v, want Pinned OBJECT", sig.Locals[1])
	}
}

func TestDecodeArrayShapeRoundTrip(t *testing.T) {
	// rank 2, one size (4), one lower bound (-1).
	blob := []byte{0x02, 0x01, 0x04, 0x01, 0x7f}
	shape, n, err := decodeArrayShape(blob, 0)
	if err != nil {
		t.Fatalf("decodeArrayShape failed: %v", err)
	}
	if n != len(blob) {
		t.Errorf("consumed %d bytes, want %d", n, len(blob))
	}
	if shape.Rank != 2 || len(shape.Sizes) != 1 || shape.Sizes[0] != 4 {
		t.Errorf("shape = %+v, want rank 2 sizes [4]", shape)
	}
	if len(shape.LowerBounds) != 1 || shape.LowerBounds[0] != -1 {
		t.Errorf("LowerBounds = %v, want [-1]", shape.LowerBounds)
	}
}

func TestDecodeMarshalSpec(t *testing.T) {
	spec, err := decodeMarshalSpec([]byte{0x02, 0xAA, 0xBB})
	if err != nil {
		t.Fatalf("decodeMarshalSpec failed: %v", err)
	}
	if spec.NativeType != 0x02 || len(spec.Extra) != 2 {
		t.Errorf("spec = %+v, want NativeType 0x02 Extra len 2", spec)
	}

	if _, err := decodeMarshalSpec(nil); err == nil {
		t.Error("decodeMarshalSpec(nil): want error on empty blob")
	}
}
