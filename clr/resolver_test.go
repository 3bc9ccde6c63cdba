// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import (
	"testing"

	pe "github.com/saferwall/clrmeta"
)

func TestDecodeHashAlgorithm(t *testing.T) {
	tests := []struct {
		id   uint32
		want HashAlgorithm
	}{
		{0x8003, HashAlgorithmReservedMD5},
		{0x8004, HashAlgorithmSHA1},
		{0x0, HashAlgorithmNone},
		{0xdead, HashAlgorithmNone},
	}
	for _, tt := range tests {
		if got := decodeHashAlgorithm(tt.id); got != tt.want {
			t.Errorf("decodeHashAlgorithm(%#x) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestDecodeConstantValue(t *testing.T) {
	tests := []struct {
		name string
		tag  ElementType
		blob []byte
		want interface{}
	}{
		{"bool true", ElementTypeBoolean, []byte{0x01}, true},
		{"bool false", ElementTypeBoolean, []byte{0x00}, false},
		{"i1 negative", ElementTypeI1, []byte{0xff}, int8(-1)},
		{"u1", ElementTypeU1, []byte{0x2a}, byte(0x2a)},
		{"i4", ElementTypeI4, []byte{0x01, 0x00, 0x00, 0x00}, int32(1)},
		{"u4", ElementTypeU4, []byte{0xff, 0xff, 0xff, 0xff}, uint32(0xffffffff)},
		{"class is always nil", ElementTypeClass, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeConstantValue(tt.tag, tt.blob)
			if err != nil {
				t.Fatalf("decodeConstantValue failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeConstantValue(%#x, %v) = %v (%T), want %v (%T)",
					tt.tag, tt.blob, got, got, tt.want, tt.want)
			}
		})
	}

	if _, err := decodeConstantValue(ElementType(0xff), nil); err == nil {
		t.Error("decodeConstantValue: want error for unsupported element type")
	}
}

func TestDecodeConstantValueString(t *testing.T) {
	// "Hi" as little-endian UTF-16.
	blob := []byte{'H', 0x00, 'i', 0x00}
	got, err := decodeConstantValue(ElementTypeString, blob)
	if err != nil {
		t.Fatalf("decodeConstantValue failed: %v", err)
	}
	if got != "Hi" {
		t.Errorf("decodeConstantValue(STRING) = %v, want \"Hi\"", got)
	}
}

func TestPad(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		n    int
		want []byte
	}{
		{"already long enough", []byte{1, 2, 3}, 2, []byte{1, 2, 3}},
		{"needs padding", []byte{1}, 4, []byte{1, 0, 0, 0}},
		{"empty input", nil, 2, []byte{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pad(tt.in, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("pad(%v, %d) = %v, want %v", tt.in, tt.n, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("pad(%v, %d)[%d] = %d, want %d", tt.in, tt.n, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSortGenerics(t *testing.T) {
	gps := []*GenericParameter{
		{Sequence: 2, Name: "U"},
		{Sequence: 0, Name: "T"},
		{Sequence: 1, Name: "V"},
	}
	sortGenerics(gps)
	wantOrder := []string{"T", "V", "U"}
	for i, want := range wantOrder {
		if gps[i].Name != want {
			t.Errorf("gps[%d].Name = %q, want %q", i, gps[i].Name, want)
		}
	}
}

func TestDecodeSecurityDeclarationLegacyXML(t *testing.T) {
	xml := []byte(`<PermissionSet/>`)
	sd, err := decodeSecurityDeclaration(xml)
	if err != nil {
		t.Fatalf("decodeSecurityDeclaration failed: %v", err)
	}
	if sd == nil || string(sd.LegacyXML) != string(xml) {
		t.Errorf("decodeSecurityDeclaration(legacy) = %+v, want LegacyXML %q", sd, xml)
	}
}

func TestDecodeSecurityDeclarationBinary(t *testing.T) {
	// "." prefix, count=1, one attribute: typeName "A", empty property set.
	blob := []byte{'.', 0x01, 0x01, 'A', 0x00}
	sd, err := decodeSecurityDeclaration(blob)
	if err != nil {
		t.Fatalf("decodeSecurityDeclaration failed: %v", err)
	}
	if len(sd.Attributes) != 1 || sd.Attributes[0].TypeName != "A" {
		t.Errorf("decodeSecurityDeclaration(binary) = %+v, want one attribute named A", sd)
	}
}

// TestExtractSemanticsPartitionInvariant builds a TypeDef owning three
// methods, two of which (get_X/set_X) occupy a property's accessor slots
// per a MethodSemantics table, and checks the partition invariant:
// TypeDefinition.Methods keeps only methods whose current
// MethodMemberIndex.Kind is MemberMethod, every MemberMethod Position
// still addresses the right entry in the (now shorter) slice, and
// Resolution.MethodAt finds a relocated method through its new slot.
func TestExtractSemanticsPartitionInvariant(t *testing.T) {
	getX := &Method{Name: "get_X"}
	setX := &Method{Name: "set_X"}
	helper := &Method{Name: "Helper"}
	td := &TypeDefinition{Name: "T", Methods: []*Method{getX, setX, helper}}
	prop := &Property{Name: "X"}

	const propertyAssociation = 1<<1 | 1 // HasSemantics tag 1 = Property, row 1

	r := &resolver{
		pe: &pe.File{CLR: pe.CLRData{MetadataTables: map[int]*pe.MetadataTable{
			pe.MethodSemantics: {Content: []pe.MethodSemanticsTableRow{
				{Semantics: semanticsGetter, Method: 1, Association: propertyAssociation},
				{Semantics: semanticsSetter, Method: 2, Association: propertyAssociation},
			}},
		}}},
		res: &Resolution{
			TypeDefs: []*TypeDefinition{td},
			methods: []MethodMemberIndex{
				{TypeIndex: 0, Kind: MemberMethod, Position: 0},
				{TypeIndex: 0, Kind: MemberMethod, Position: 1},
				{TypeIndex: 0, Kind: MemberMethod, Position: 2},
			},
		},
		methods:    []*Method{nil, getX, setX, helper},
		properties: []*Property{nil, prop},
	}

	if err := extractSemantics(r, semanticsSetter|semanticsGetter, false); err != nil {
		t.Fatalf("extractSemantics: %v", err)
	}

	if len(td.Methods) != 1 || td.Methods[0] != helper {
		t.Fatalf("TypeDefinition.Methods = %v, want [Helper]", td.Methods)
	}
	if prop.Getter != getX {
		t.Errorf("property Getter = %v, want get_X", prop.Getter)
	}
	if prop.Setter != setX {
		t.Errorf("property Setter = %v, want set_X", prop.Setter)
	}

	for row, mi := range r.res.methods {
		if mi.Kind != MemberMethod {
			continue
		}
		if mi.Position < 0 || mi.Position >= len(td.Methods) || td.Methods[mi.Position] != r.methods[row+1] {
			t.Errorf("method row %d: MemberMethod Position %d does not address its method in TypeDefinition.Methods", row+1, mi.Position)
		}
	}

	gotTD, gotMI, err := r.res.MethodAt(3)
	if err != nil {
		t.Fatalf("MethodAt(3): %v", err)
	}
	if gotTD != td || gotMI.Kind != MemberMethod || gotTD.Methods[gotMI.Position] != helper {
		t.Errorf("MethodAt(3) = %+v, %+v, want td/MemberMethod pointing at Helper", gotTD, gotMI)
	}

	relocTD, relocMI, err := r.res.MethodAt(1)
	if err != nil {
		t.Fatalf("MethodAt(1): %v", err)
	}
	if relocTD != td || relocMI.Kind != MemberPropertyGetter {
		t.Errorf("MethodAt(1) = %+v, %+v, want td/MemberPropertyGetter", relocTD, relocMI)
	}
}
