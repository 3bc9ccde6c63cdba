// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import (
	pe "github.com/saferwall/clrmeta"
)

// codedIndexSet mirrors the pe package's own codedidx tag tables
// (dotnet_helper.go): tagBits low bits select a table from tables, the
// remaining high bits are the 1-based row index.
type codedIndexSet struct {
	tagBits uint
	tables  []int
}

// Coded-index tag sets, ECMA-335 II.24.2.6, matching the pe package's own
// idxXxx variables one-for-one.
var (
	csTypeDefOrRef        = codedIndexSet{tagBits: 2, tables: []int{pe.TypeDef, pe.TypeRef, pe.TypeSpec}}
	csResolutionScope     = codedIndexSet{tagBits: 2, tables: []int{pe.Module, pe.ModuleRef, pe.AssemblyRef, pe.TypeRef}}
	csMemberRefParent     = codedIndexSet{tagBits: 3, tables: []int{pe.TypeDef, pe.TypeRef, pe.ModuleRef, pe.MethodDef, pe.TypeSpec}}
	csHasConstant         = codedIndexSet{tagBits: 2, tables: []int{pe.Field, pe.Param, pe.Property}}
	csHasCustomAttribute  = codedIndexSet{tagBits: 5, tables: []int{pe.MethodDef, pe.Field, pe.TypeRef, pe.TypeDef, pe.Param, pe.InterfaceImpl, pe.MemberRef, pe.Module, pe.DeclSecurity, pe.Property, pe.Event, pe.StandAloneSig, pe.ModuleRef, pe.TypeSpec, pe.Assembly, pe.AssemblyRef, pe.FileMD, pe.ExportedType, pe.ManifestResource, pe.GenericParam, pe.GenericParamConstraint, pe.MethodSpec}}
	csCustomAttributeType = codedIndexSet{tagBits: 3, tables: []int{-1, -1, pe.MethodDef, pe.MemberRef, -1}}
	csHasFieldMarshal     = codedIndexSet{tagBits: 1, tables: []int{pe.Field, pe.Param}}
	csHasDeclSecurity     = codedIndexSet{tagBits: 2, tables: []int{pe.TypeDef, pe.MethodDef, pe.Assembly}}
	csHasSemantics        = codedIndexSet{tagBits: 1, tables: []int{pe.Event, pe.Property}}
	csMethodDefOrRef      = codedIndexSet{tagBits: 1, tables: []int{pe.MethodDef, pe.MemberRef}}
	csMemberForwarded     = codedIndexSet{tagBits: 1, tables: []int{pe.Field, pe.MethodDef}}
	csImplementation      = codedIndexSet{tagBits: 2, tables: []int{pe.FileMD, pe.AssemblyRef, pe.ExportedType}}
	csTypeOrMethodDef     = codedIndexSet{tagBits: 1, tables: []int{pe.TypeDef, pe.MethodDef}}
)

// codedRef is the split, tagged form of a raw packed coded-index column.
type codedRef struct {
	Table int
	Row   uint32
	Null  bool
}

// decodeCoded splits a coded index's tag bits from its row index. The raw
// uint32 already has the tag packed into the low bits by the pe package's
// readFromMetadataStream, which reads the whole column width (2 or 4
// bytes) as one integer.
func decodeCoded(raw uint32, set codedIndexSet) (codedRef, error) {
	mask := uint32(1)<<set.tagBits - 1
	tag := raw & mask
	row := raw >> set.tagBits
	if int(tag) >= len(set.tables) || set.tables[tag] < 0 {
		return codedRef{}, otherError("bad coded-index tag %d", tag)
	}
	return codedRef{Table: set.tables[tag], Row: row, Null: row == 0}, nil
}

// decodeCustomAttributeType resolves CustomAttributeType's 3-bit tag
// space directly to a MemberMethodRef, since its two live tags (2 and 3)
// both identify the attribute constructor rather than a generic row. For a
// MemberRef constructor, MethodRefIndex holds the MemberRef row minus one;
// passCustomAttributes maps it to the constructor's Resolution.MethodRefs
// position.
func decodeCustomAttributeType(raw uint32) (MemberMethodRef, error) {
	ref, err := decodeCoded(raw, csCustomAttributeType)
	if err != nil {
		return MemberMethodRef{}, err
	}
	switch ref.Table {
	case pe.MethodDef:
		return MemberMethodRef{Kind: RefMethodDef, MethodDefRow: ref.Row}, nil
	case pe.MemberRef:
		return MemberMethodRef{Kind: RefMemberRef, MethodRefIndex: int(ref.Row) - 1}, nil
	default:
		return MemberMethodRef{}, otherError("bad CustomAttributeType tag")
	}
}
