// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import (
	"encoding/binary"
	"io"
	"math"
	"sort"

	pe "github.com/saferwall/clrmeta"
	"github.com/saferwall/clrmeta/log"
)

// Options configures a Resolve call.
type Options struct {
	// SkipMethodBodies skips pass 27, leaving every Method.Body nil. Useful
	// for callers that only need the metadata shape, not the IL.
	SkipMethodBodies bool

	// Logger receives diagnostic messages emitted while resolving. Defaults
	// to a no-op logger when nil.
	Logger log.Logger

	// MaxCustomAttributeBytes caps how much of a CustomAttribute's Value
	// blob pass 26 will copy out; oversized blobs are truncated rather than
	// rejected. Zero uses defaultMaxCustomAttributeBytes.
	MaxCustomAttributeBytes uint32
}

const defaultMaxCustomAttributeBytes = 1 << 20

const maxTypeSpecDepth = 64

// resolver carries the mutable state threaded through the ordered passes.
// It is discarded once Resolve returns; only the Resolution it built
// survives.
type resolver struct {
	pe     *pe.File
	opts   Options
	logger *log.Helper
	heaps  Heaps
	res    *Resolution

	typeSpecDepth int

	fieldOwner  []int // 1-based Field row -> TypeDefs index
	methodOwner []int // 1-based MethodDef row -> TypeDefs index
	paramRange  []uint32 // 1-based MethodDef row -> first owned Param row (next entry or len(Params)+1 bounds the range)

	fields  []*Field  // 1-based Field row -> the Field stored under its owner
	methods []*Method // 1-based MethodDef row -> the Method stored under its owner (pre-extraction)

	properties []*Property // 1-based Property row -> stored Property
	events     []*Event    // 1-based Event row -> stored Event

	declSecurity []*SecurityDeclaration // 1-based DeclSecurity row -> stored declaration

	genericParams           []*GenericParameter   // 1-based GenericParam row -> stored parameter
	genericParamConstraints []genericConstraintRef // 1-based GenericParamConstraint row -> owning parameter + slot

	fieldRefByRow  map[uint32]int // 1-based MemberRef row -> index into res.FieldRefs
	methodRefByRow map[uint32]int // 1-based MemberRef row -> index into res.MethodRefs
}

// genericConstraintRef locates a decoded GenericParamConstraint row within
// its owning GenericParameter's TypeConstraints, so pass 26 can attach a
// CustomAttribute to it after pass 16 is done growing that slice (a raw
// pointer into TypeConstraints would be invalidated by a later append to
// the same GenericParameter).
type genericConstraintRef struct {
	gp  *GenericParameter
	idx int
}

// tableRows type-asserts a parsed metadata table's rows, returning nil for
// an absent table rather than panicking: an absent table is zero rows.
func tableRows[T any](p *pe.File, idx int) []T {
	t, ok := p.CLR.MetadataTables[idx]
	if !ok || t.Content == nil {
		return nil
	}
	rows, _ := t.Content.([]T)
	return rows
}

// Resolve builds a fully linked Resolution from peFile's CLI metadata,
// running the ordered passes in sequence. peFile must already have been
// through pe.File.Parse with CLR data directory parsing enabled.
func Resolve(peFile *pe.File, opts Options) (*Resolution, error) {
	if !peFile.HasCLR {
		return nil, otherError("image carries no CLI metadata")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewStdLogger(io.Discard)
	}
	if opts.MaxCustomAttributeBytes == 0 {
		opts.MaxCustomAttributeBytes = defaultMaxCustomAttributeBytes
	}

	r := &resolver{
		pe:     peFile,
		opts:   opts,
		logger: log.NewHelper(logger),
		res:    &Resolution{},
	}

	// Pass 1: heaps.
	r.heaps = newHeaps(peFile.CLR.MetadataStreams)

	if err := r.passAssembly(); err != nil { // pass 2
		return nil, err
	}
	if err := r.passAssemblyRefs(); err != nil { // pass 3
		return nil, err
	}
	if err := r.passTypeDefPre(); err != nil { // pass 4
		return nil, err
	}
	if err := r.passNestedClass(); err != nil { // pass 5
		return nil, err
	}
	r.passMemberRanges() // pass 6
	if err := r.passFilesResourcesExportsModules(); err != nil { // pass 7
		return nil, err
	}
	if err := r.passTypeRefScopes(); err != nil { // pass 8
		return nil, err
	}
	if err := r.passInterfaceImpl(); err != nil { // pass 9
		return nil, err
	}
	if err := r.passFields(); err != nil { // pass 10
		return nil, err
	}
	if err := r.passFieldLayout(); err != nil { // pass 11
		return nil, err
	}
	if err := r.passFieldRVA(); err != nil { // pass 12
		return nil, err
	}
	if err := r.passMethods(); err != nil { // pass 13
		return nil, err
	}
	if err := r.passImplMap(); err != nil { // pass 14
		return nil, err
	}
	if err := r.passDeclSecurity(); err != nil { // pass 15
		return nil, err
	}
	if err := r.passGenericParams(); err != nil { // pass 16
		return nil, err
	}
	if err := r.passParams(); err != nil { // pass 17
		return nil, err
	}
	if err := r.passFieldMarshal(); err != nil { // pass 18
		return nil, err
	}
	if err := r.passProperties(); err != nil { // pass 19
		return nil, err
	}
	if err := r.passConstants(); err != nil { // pass 20
		return nil, err
	}
	if err := r.passEvents(); err != nil { // pass 21
		return nil, err
	}
	if err := r.passRemainingSemantics(); err != nil { // pass 22
		return nil, err
	}
	if err := r.passMemberRefs(); err != nil { // pass 23
		return nil, err
	}
	if err := r.passMethodImpl(); err != nil { // pass 24
		return nil, err
	}
	if err := r.passEntryPoint(); err != nil { // pass 25
		return nil, err
	}
	if err := r.passCustomAttributes(); err != nil { // pass 26
		return nil, err
	}
	if !opts.SkipMethodBodies {
		if err := r.passMethodBodies(); err != nil { // pass 27
			return nil, err
		}
	}

	return r.res, nil
}

// convertType is the typeConverter threaded into every signature decode: it
// resolves a signature-embedded TypeDefOrRef tag using the position tables
// built by passTypeDefPre/passTypeRefScopes, recursing into TypeSpec blobs
// as needed.
func (r *resolver) convertType(tag typeDefOrRefTag) (MemberType, error) {
	switch tag.table {
	case pe.TypeDef:
		if tag.row == 0 || int(tag.row) > len(r.res.TypeDefs) {
			return MemberType{}, otherError("TypeDefOrRef: bad TypeDef row %d", tag.row)
		}
		return MemberType{Kind: MemberTypeDef, TypeDefIndex: int(tag.row) - 1}, nil
	case pe.TypeRef:
		if tag.row == 0 || int(tag.row) > len(r.res.TypeRefs) {
			return MemberType{}, otherError("TypeDefOrRef: bad TypeRef row %d", tag.row)
		}
		return MemberType{Kind: MemberTypeRef, TypeRefIndex: int(tag.row) - 1}, nil
	case pe.TypeSpec:
		sig, err := r.typeSpecSig(tag.row)
		if err != nil {
			return MemberType{}, err
		}
		return MemberType{Kind: MemberTypeSpec, Spec: &sig}, nil
	default:
		return MemberType{}, otherError("TypeDefOrRef: unexpected table %d", tag.table)
	}
}

func (r *resolver) typeSpecSig(row uint32) (TypeSig, error) {
	rows := tableRows[pe.TypeSpecTableRow](r.pe, pe.TypeSpec)
	if row == 0 || int(row) > len(rows) {
		return TypeSig{}, otherError("bad TypeSpec row %d", row)
	}
	blob, err := r.heaps.Blob.At(rows[row-1].Signature)
	if err != nil {
		return TypeSig{}, err
	}
	if r.typeSpecDepth >= maxTypeSpecDepth {
		return TypeSig{}, otherError("TypeSpec row %d: signature nesting too deep", row)
	}
	r.typeSpecDepth++
	defer func() { r.typeSpecDepth-- }()
	sig, _, err := decodeTypeSig(blob, 0, r.convertType)
	return sig, err
}

// ---- pass 2: Assembly ----

func (r *resolver) passAssembly() error {
	rows := tableRows[pe.AssemblyTableRow](r.pe, pe.Assembly)
	if len(rows) == 0 {
		return nil
	}
	row := rows[0] // at most one Assembly row
	pk, err := r.heaps.Blob.At(row.PublicKey)
	if err != nil {
		return err
	}
	name, err := r.heaps.Strings.At(row.Name)
	if err != nil {
		return err
	}
	culture, _, err := r.heaps.Strings.Optional(row.Culture)
	if err != nil {
		return err
	}
	r.res.Assembly = &Assembly{
		Version:       [4]uint16{row.MajorVersion, row.MinorVersion, row.BuildNumber, row.RevisionNumber},
		Flags:         row.Flags,
		HashAlgorithm: decodeHashAlgorithm(row.HashAlgId),
		PublicKey:     pk,
		Name:          name,
		Culture:       culture,
	}
	return nil
}

func decodeHashAlgorithm(id uint32) HashAlgorithm {
	switch id {
	case 0x8003:
		return HashAlgorithmReservedMD5
	case 0x8004:
		return HashAlgorithmSHA1
	default:
		return HashAlgorithmNone
	}
}

// ---- pass 3: AssemblyRef ----

func (r *resolver) passAssemblyRefs() error {
	rows := tableRows[pe.AssemblyRefTableRow](r.pe, pe.AssemblyRef)
	r.res.AssemblyRefs = make([]*ExternalAssemblyReference, len(rows))
	for i, row := range rows {
		pkt, err := r.heaps.Blob.At(row.PublicKeyOrToken)
		if err != nil {
			return err
		}
		name, err := r.heaps.Strings.At(row.Name)
		if err != nil {
			return err
		}
		culture, _, err := r.heaps.Strings.Optional(row.Culture)
		if err != nil {
			return err
		}
		hash, err := r.heaps.Blob.At(row.HashValue)
		if err != nil {
			return err
		}
		r.res.AssemblyRefs[i] = &ExternalAssemblyReference{
			Version:          [4]uint16{row.MajorVersion, row.MinorVersion, row.BuildNumber, row.RevisionNumber},
			Flags:            row.Flags,
			PublicKeyOrToken: pkt,
			Name:             name,
			Culture:          culture,
			Hash:             hash,
		}
	}
	return nil
}

// ---- pass 4: TypeDef pre-pass ----

const (
	typeVisibilityMask = 0x00000007
	typeLayoutMask     = 0x00000018
	typeLayoutShift    = 3
)

func (r *resolver) passTypeDefPre() error {
	rows := tableRows[pe.TypeDefTableRow](r.pe, pe.TypeDef)
	r.res.TypeDefs = make([]*TypeDefinition, len(rows))
	for i, row := range rows {
		name, err := r.heaps.Strings.At(row.TypeName)
		if err != nil {
			return err
		}
		namespace, _, err := r.heaps.Strings.Optional(row.TypeNamespace)
		if err != nil {
			return err
		}
		r.res.TypeDefs[i] = &TypeDefinition{
			Visibility: row.Flags & typeVisibilityMask,
			Semantics:  row.Flags &^ (typeVisibilityMask | typeLayoutMask),
			Layout:     TypeLayout{Kind: TypeLayoutKind((row.Flags & typeLayoutMask) >> typeLayoutShift)},
			Name:       name,
			Namespace:  namespace,
		}
	}
	// ClassLayout rows attach PackingSize/ClassSize to Sequential/Explicit types.
	for _, cl := range tableRows[pe.ClassLayoutTableRow](r.pe, pe.ClassLayout) {
		if cl.Parent == 0 || int(cl.Parent) > len(r.res.TypeDefs) {
			return otherError("ClassLayout: bad TypeDef row %d", cl.Parent)
		}
		td := r.res.TypeDefs[cl.Parent-1]
		td.Layout.PackingSize = cl.PackingSize
		td.Layout.ClassSize = cl.ClassSize
	}
	// Extends resolved now that every TypeDef position is known (TypeRef
	// positions follow in pass 8, but the coded-index row number alone is
	// enough to build the MemberType; TypeRef-target conversions are valid
	// as soon as passTypeDefPre has sized res.TypeRefs, done next).
	r.res.TypeRefs = make([]*ExternalTypeReference, len(tableRows[pe.TypeRefTableRow](r.pe, pe.TypeRef)))
	for i, row := range rows {
		if row.Extends == 0 {
			continue
		}
		ref, err := decodeCoded(row.Extends, csTypeDefOrRef)
		if err != nil {
			return err
		}
		if ref.Null {
			continue
		}
		mt, err := r.convertType(typeDefOrRefTag{table: ref.Table, row: ref.Row})
		if err != nil {
			return err
		}
		r.res.TypeDefs[i].Extends = &mt
	}
	return nil
}

// ---- pass 5: NestedClass ----

func (r *resolver) passNestedClass() error {
	for _, row := range tableRows[pe.NestedClassTableRow](r.pe, pe.NestedClass) {
		if row.NestedClass == 0 || int(row.NestedClass) > len(r.res.TypeDefs) {
			return otherError("NestedClass: bad nested TypeDef row %d", row.NestedClass)
		}
		if row.EnclosingClass == 0 || int(row.EnclosingClass) > len(r.res.TypeDefs) {
			return otherError("NestedClass: bad enclosing TypeDef row %d", row.EnclosingClass)
		}
		enc := int(row.EnclosingClass) - 1
		r.res.TypeDefs[row.NestedClass-1].Encloser = &enc
	}
	return nil
}

// ---- pass 6: field/method ownership ranges ----

func (r *resolver) passMemberRanges() {
	typeDefRows := tableRows[pe.TypeDefTableRow](r.pe, pe.TypeDef)
	fieldRows := tableRows[pe.FieldTableRow](r.pe, pe.Field)
	methodRows := tableRows[pe.MethodDefTableRow](r.pe, pe.MethodDef)

	r.fieldOwner = make([]int, len(fieldRows)+1)
	r.methodOwner = make([]int, len(methodRows)+1)

	for i, td := range typeDefRows {
		fieldStart := td.FieldList
		fieldEnd := uint32(len(fieldRows)) + 1
		if i+1 < len(typeDefRows) {
			fieldEnd = typeDefRows[i+1].FieldList
		}
		for row := fieldStart; row < fieldEnd && int(row) < len(r.fieldOwner); row++ {
			if row == 0 {
				continue
			}
			r.fieldOwner[row] = i
		}

		methodStart := td.MethodList
		methodEnd := uint32(len(methodRows)) + 1
		if i+1 < len(typeDefRows) {
			methodEnd = typeDefRows[i+1].MethodList
		}
		for row := methodStart; row < methodEnd && int(row) < len(r.methodOwner); row++ {
			if row == 0 {
				continue
			}
			r.methodOwner[row] = i
		}
	}
}

// ---- pass 7: Files, ManifestResources, ExportedTypes, Module, ModuleRef ----

func (r *resolver) passFilesResourcesExportsModules() error {
	// Module (exactly one).
	if rows := tableRows[pe.ModuleTableRow](r.pe, pe.Module); len(rows) > 0 {
		name, err := r.heaps.Strings.At(rows[0].Name)
		if err != nil {
			return err
		}
		mvid, err := r.heaps.GUID.At(rows[0].Mvid)
		if err != nil {
			return err
		}
		r.res.Module = Module{Name: name, MVID: mvid}
	}

	// ModuleRef.
	for _, row := range tableRows[pe.ModuleRefTableRow](r.pe, pe.ModuleRef) {
		name, err := r.heaps.Strings.At(row.Name)
		if err != nil {
			return err
		}
		r.res.ModuleRefs = append(r.res.ModuleRefs, &ExternalModuleReference{Name: name})
	}

	// File.
	for _, row := range tableRows[pe.FileTableRow](r.pe, pe.FileMD) {
		name, err := r.heaps.Strings.At(row.Name)
		if err != nil {
			return err
		}
		hash, err := r.heaps.Blob.At(row.HashValue)
		if err != nil {
			return err
		}
		r.res.Files = append(r.res.Files, &ManifestFile{
			HasMetadata: row.Flags&0x1 == 0,
			Name:        name,
			Hash:        hash,
		})
	}

	// ExportedType.
	exportRows := tableRows[pe.ExportedTypeTableRow](r.pe, pe.ExportedType)
	r.res.ExportedTypes = make([]*ExportedType, len(exportRows))
	for i, row := range exportRows {
		name, err := r.heaps.Strings.At(row.TypeName)
		if err != nil {
			return err
		}
		namespace, _, err := r.heaps.Strings.Optional(row.TypeNamespace)
		if err != nil {
			return err
		}
		impl, err := r.decodeExportedTypeImplementation(row.Implementation, row.TypeDefId)
		if err != nil {
			return err
		}
		r.res.ExportedTypes[i] = &ExportedType{
			Flags:          row.Flags,
			Name:           name,
			Namespace:      namespace,
			Implementation: impl,
		}
	}

	// ManifestResource.
	for _, row := range tableRows[pe.ManifestResourceTableRow](r.pe, pe.ManifestResource) {
		name, err := r.heaps.Strings.At(row.Name)
		if err != nil {
			return err
		}
		impl, err := r.decodeManifestResourceImplementation(row.Implementation)
		if err != nil {
			return err
		}
		r.res.ManifestResources = append(r.res.ManifestResources, ManifestResource{
			Offset:         row.Offset,
			Name:           name,
			Visibility:     ManifestResourceVisibility(row.Flags & 0x7),
			Implementation: impl,
		})
	}
	return nil
}

func (r *resolver) decodeExportedTypeImplementation(raw, typeDefID uint32) (ExportedTypeImplementation, error) {
	ref, err := decodeCoded(raw, csImplementation)
	if err != nil {
		return ExportedTypeImplementation{}, err
	}
	switch ref.Table {
	case pe.FileMD:
		if ref.Null {
			return ExportedTypeImplementation{Kind: ImplModuleFile, TypeDefIndex: int(typeDefID)}, nil
		}
		if int(ref.Row) > len(r.res.Files) {
			return ExportedTypeImplementation{}, otherError("ExportedType: bad File row %d", ref.Row)
		}
		return ExportedTypeImplementation{Kind: ImplModuleFile, TypeDefIndex: int(typeDefID), File: r.res.Files[ref.Row-1]}, nil
	case pe.AssemblyRef:
		if int(ref.Row) > len(r.res.AssemblyRefs) {
			return ExportedTypeImplementation{}, otherError("ExportedType: bad AssemblyRef row %d", ref.Row)
		}
		return ExportedTypeImplementation{Kind: ImplTypeForwarder, AssemblyRef: r.res.AssemblyRefs[ref.Row-1]}, nil
	case pe.ExportedType:
		return ExportedTypeImplementation{Kind: ImplNested, NestedIndex: int(ref.Row) - 1}, nil
	default:
		return ExportedTypeImplementation{}, otherError("ExportedType: unexpected implementation table %d", ref.Table)
	}
}

func (r *resolver) decodeManifestResourceImplementation(raw uint32) (ManifestResourceImplementation, error) {
	ref, err := decodeCoded(raw, csImplementation)
	if err != nil {
		return ManifestResourceImplementation{}, err
	}
	if ref.Null {
		return ManifestResourceImplementation{Kind: ResourceEmbedded}, nil
	}
	switch ref.Table {
	case pe.FileMD:
		if int(ref.Row) > len(r.res.Files) {
			return ManifestResourceImplementation{}, otherError("ManifestResource: bad File row %d", ref.Row)
		}
		return ManifestResourceImplementation{Kind: ResourceInFile, File: r.res.Files[ref.Row-1]}, nil
	case pe.AssemblyRef:
		if int(ref.Row) > len(r.res.AssemblyRefs) {
			return ManifestResourceImplementation{}, otherError("ManifestResource: bad AssemblyRef row %d", ref.Row)
		}
		return ManifestResourceImplementation{Kind: ResourceInAssembly, Assembly: r.res.AssemblyRefs[ref.Row-1]}, nil
	default:
		return ManifestResourceImplementation{}, otherError("ManifestResource: unexpected implementation table %d", ref.Table)
	}
}

// ---- pass 8: TypeRef resolution scopes ----

func (r *resolver) passTypeRefScopes() error {
	rows := tableRows[pe.TypeRefTableRow](r.pe, pe.TypeRef)
	for i, row := range rows {
		name, err := r.heaps.Strings.At(row.TypeName)
		if err != nil {
			return err
		}
		namespace, _, err := r.heaps.Strings.Optional(row.TypeNamespace)
		if err != nil {
			return err
		}
		scope, err := r.decodeResolutionScope(row.ResolutionScope, name, namespace)
		if err != nil {
			return err
		}
		r.res.TypeRefs[i] = &ExternalTypeReference{Name: name, Namespace: namespace, Scope: scope}
	}
	return nil
}

func (r *resolver) decodeResolutionScope(raw uint32, name, namespace string) (ResolutionScope, error) {
	ref, err := decodeCoded(raw, csResolutionScope)
	if err != nil {
		return ResolutionScope{}, err
	}
	if ref.Null {
		// Null resolution scope: either an exported type forwarder or a
		// nested TypeRef (ECMA-335 II.22.38) resolved by name match against
		// ExportedTypes.
		for i, et := range r.res.ExportedTypes {
			if et.Name == name && et.Namespace == namespace {
				return ResolutionScope{Kind: ScopeExported, Exported: r.res.ExportedTypes[i]}, nil
			}
		}
		return ResolutionScope{Kind: ScopeExported}, nil
	}
	switch ref.Table {
	case pe.Module:
		return ResolutionScope{Kind: ScopeCurrentModule}, nil
	case pe.ModuleRef:
		if int(ref.Row) > len(r.res.ModuleRefs) {
			return ResolutionScope{}, otherError("TypeRef: bad ModuleRef row %d", ref.Row)
		}
		return ResolutionScope{Kind: ScopeExternalModule, ExternalModule: r.res.ModuleRefs[ref.Row-1]}, nil
	case pe.AssemblyRef:
		if int(ref.Row) > len(r.res.AssemblyRefs) {
			return ResolutionScope{}, otherError("TypeRef: bad AssemblyRef row %d", ref.Row)
		}
		return ResolutionScope{Kind: ScopeAssembly, Assembly: r.res.AssemblyRefs[ref.Row-1]}, nil
	case pe.TypeRef:
		return ResolutionScope{Kind: ScopeNested, NestedIndex: int(ref.Row) - 1}, nil
	default:
		return ResolutionScope{}, otherError("TypeRef: unexpected scope table %d", ref.Table)
	}
}

// ---- pass 9: InterfaceImpl ----

func (r *resolver) passInterfaceImpl() error {
	for _, row := range tableRows[pe.InterfaceImplTableRow](r.pe, pe.InterfaceImpl) {
		if row.Class == 0 || int(row.Class) > len(r.res.TypeDefs) {
			return otherError("InterfaceImpl: bad TypeDef row %d", row.Class)
		}
		ref, err := decodeCoded(row.Interface, csTypeDefOrRef)
		if err != nil {
			return err
		}
		mt, err := r.convertType(typeDefOrRefTag{table: ref.Table, row: ref.Row})
		if err != nil {
			return err
		}
		td := r.res.TypeDefs[row.Class-1]
		td.Implements = append(td.Implements, ImplementsEntry{Type: mt})
	}
	return nil
}

// ---- pass 10: Fields ----

const (
	fieldAccessMask   = 0x0007
	fieldStatic       = 0x0010
	fieldInitOnly     = 0x0020
	fieldLiteral      = 0x0040
	fieldNotSerial    = 0x0080
	fieldSpecialName  = 0x0200
	fieldRTSpecialName = 0x0400
)

func (r *resolver) passFields() error {
	rows := tableRows[pe.FieldTableRow](r.pe, pe.Field)
	r.fields = make([]*Field, len(rows)+1)
	for i, row := range rows {
		rowNum := i + 1
		name, err := r.heaps.Strings.At(row.Name)
		if err != nil {
			return err
		}
		blob, err := r.heaps.Blob.At(row.Signature)
		if err != nil {
			return err
		}
		sig, err := decodeFieldSig(blob, r.convertType)
		if err != nil {
			return err
		}
		acc, err := decodeAccessibility(row.Flags & fieldAccessMask)
		if err != nil {
			return err
		}
		f := &Field{
			Name:          name,
			Signature:     sig,
			Accessibility: acc,
			Flags: FieldFlags{
				Static:        row.Flags&fieldStatic != 0,
				InitOnly:      row.Flags&fieldInitOnly != 0,
				Literal:       row.Flags&fieldLiteral != 0,
				SpecialName:   row.Flags&fieldSpecialName != 0,
				RTSpecialName: row.Flags&fieldRTSpecialName != 0,
				NotSerialized: row.Flags&fieldNotSerial != 0,
			},
		}
		r.fields[rowNum] = f
		ti := r.fieldOwner[rowNum]
		r.res.TypeDefs[ti].Fields = append(r.res.TypeDefs[ti].Fields, f)
	}
	return nil
}

// ---- pass 11: FieldLayout ----

func (r *resolver) passFieldLayout() error {
	for _, row := range tableRows[pe.FieldLayoutTableRow](r.pe, pe.FieldLayout) {
		f, err := r.fieldAt(row.Field)
		if err != nil {
			return err
		}
		off := row.Offset
		f.Offset = &off
	}
	return nil
}

func (r *resolver) fieldAt(row uint32) (*Field, error) {
	if row == 0 || int(row) >= len(r.fields) {
		return nil, otherError("bad Field row %d", row)
	}
	return r.fields[row], nil
}

// ---- pass 12: FieldRVA ----

func (r *resolver) passFieldRVA() error {
	for _, row := range tableRows[pe.FieldRVATableRow](r.pe, pe.FieldRVA) {
		f, err := r.fieldAt(row.Field)
		if err != nil {
			return err
		}
		off := r.pe.GetOffsetFromRva(row.RVA)
		size := r.initialValueSize(f.Signature.Type)
		data, err := r.pe.ReadBytesAtOffset(off, size)
		if err != nil {
			return err
		}
		f.InitialValueRVA = data
	}
	return nil
}

// initialValueSize estimates the byte length of a field's RVA-backed
// initial value from its signature's element type; composite/array/generic
// payloads are left to the caller's own knowledge of the blob layout and
// default to zero (unresolvable without the field's declaring type size).
func (r *resolver) initialValueSize(t TypeSig) uint32 {
	switch t.Tag {
	case ElementTypeBoolean, ElementTypeI1, ElementTypeU1:
		return 1
	case ElementTypeChar, ElementTypeI2, ElementTypeU2:
		return 2
	case ElementTypeI4, ElementTypeU4, ElementTypeR4:
		return 4
	case ElementTypeI8, ElementTypeU8, ElementTypeR8:
		return 8
	default:
		return 0
	}
}

// ---- pass 13: Methods ----

const (
	methodAccessMask     = 0x0007
	methodStatic         = 0x0010
	methodFinal          = 0x0020
	methodVirtual        = 0x0040
	methodHideBySig      = 0x0080
	methodVtableLayout   = 0x0100
	methodStrict         = 0x0200
	methodAbstract       = 0x0400
	methodSpecialName    = 0x0800
	methodRTSpecialName  = 0x1000
	methodRequireSecObj  = 0x8000

	implCodeTypeMask = 0x0003
	implUnmanaged    = 0x0004
	implForwardRef   = 0x0010
	implNoInlining   = 0x0008
	implSynchronized = 0x0020
	implNoOptimization = 0x0040
	implPreserveSig  = 0x0080
)

func (r *resolver) passMethods() error {
	rows := tableRows[pe.MethodDefTableRow](r.pe, pe.MethodDef)
	paramRows := tableRows[pe.ParamTableRow](r.pe, pe.Param)
	r.methods = make([]*Method, len(rows)+1)
	r.res.methods = make([]MethodMemberIndex, len(rows))
	r.paramRange = make([]uint32, len(rows)+2)

	for i, row := range rows {
		rowNum := i + 1
		paramEnd := uint32(len(paramRows)) + 1
		if i+1 < len(rows) {
			paramEnd = rows[i+1].ParamList
		}
		r.paramRange[rowNum] = row.ParamList
		r.paramRange[rowNum+1] = paramEnd

		name, err := r.heaps.Strings.At(row.Name)
		if err != nil {
			return err
		}
		blob, err := r.heaps.Blob.At(row.Signature)
		if err != nil {
			return err
		}
		sig, err := decodeMethodSig(blob, r.convertType)
		if err != nil {
			return err
		}
		acc, err := decodeAccessibility(row.Flags & methodAccessMask)
		if err != nil {
			return err
		}
		vtable := ReuseSlot
		if row.Flags&methodVtableLayout != 0 {
			vtable = NewSlot
		}
		if BodyFormat(row.ImplFlags&implCodeTypeMask) == BodyFormatOPTIL {
			return otherError("MethodDef row %d: OPTIL method bodies are unsupported", rowNum)
		}
		bodyManagement := BodyManaged
		if row.ImplFlags&implUnmanaged != 0 {
			bodyManagement = BodyUnmanaged
		}
		m := &Method{
			Name:          name,
			Signature:     sig,
			Accessibility: acc,
			Parameters:    make([]Parameter, len(sig.Params)+1),
			KindFlags: MethodKindFlags{
				Static:           row.Flags&methodStatic != 0,
				Sealed:           row.Flags&methodFinal != 0,
				Virtual:          row.Flags&methodVirtual != 0,
				HideBySig:        row.Flags&methodHideBySig != 0,
				Strict:           row.Flags&methodStrict != 0,
				Abstract:         row.Flags&methodAbstract != 0,
				VtableLayout:     vtable,
				SpecialName:      row.Flags&methodSpecialName != 0,
				RTSpecialName:    row.Flags&methodRTSpecialName != 0,
				RequireSecObject: row.Flags&methodRequireSecObj != 0,
			},
			BodyFormat:     BodyFormat(row.ImplFlags & implCodeTypeMask),
			BodyManagement: bodyManagement,
			ImplFlags: MethodImplFlags{
				ForwardRef:     row.ImplFlags&implForwardRef != 0,
				PreserveSig:    row.ImplFlags&implPreserveSig != 0,
				Synchronized:   row.ImplFlags&implSynchronized != 0,
				NoInlining:     row.ImplFlags&implNoInlining != 0,
				NoOptimization: row.ImplFlags&implNoOptimization != 0,
			},
		}
		r.methods[rowNum] = m
		ti := r.methodOwner[rowNum]
		pos := len(r.res.TypeDefs[ti].Methods)
		r.res.TypeDefs[ti].Methods = append(r.res.TypeDefs[ti].Methods, m)
		r.res.methods[i] = MethodMemberIndex{TypeIndex: ti, Kind: MemberMethod, Position: pos}
	}
	return nil
}

func (r *resolver) methodAt(row uint32) (*Method, error) {
	if row == 0 || int(row) >= len(r.methods) {
		return nil, otherError("bad MethodDef row %d", row)
	}
	return r.methods[row], nil
}

// ---- pass 14: ImplMap (P/Invoke) ----

const (
	pinvokeNoMangle     = 0x0001
	pinvokeCharSetMask  = 0x0006
	pinvokeCharSetShift = 1
	pinvokeLastError    = 0x0040
	pinvokeCallConvMask = 0x0700
	pinvokeCallConvShift = 8
)

func (r *resolver) passImplMap() error {
	for _, row := range tableRows[pe.ImplMapTableRow](r.pe, pe.ImplMap) {
		name, err := r.heaps.Strings.At(row.ImportName)
		if err != nil {
			return err
		}
		var modRef *ExternalModuleReference
		if int(row.ImportScope) > 0 && int(row.ImportScope) <= len(r.res.ModuleRefs) {
			modRef = r.res.ModuleRefs[row.ImportScope-1]
		}
		callConv := (row.MappingFlags & pinvokeCallConvMask) >> pinvokeCallConvShift
		if callConv > 0 {
			callConv--
		}
		pinvoke := &PInvoke{
			NoMangle:          row.MappingFlags&pinvokeNoMangle != 0,
			CharacterSet:      CharacterSet((row.MappingFlags & pinvokeCharSetMask) >> pinvokeCharSetShift),
			SupportsLastError: row.MappingFlags&pinvokeLastError != 0,
			CallingConvention: PInvokeCallingConvention(callConv),
			ImportName:        name,
			ModuleRef:         modRef,
		}

		ref, err := decodeCoded(row.MemberForwarded, csMemberForwarded)
		if err != nil {
			return err
		}
		switch ref.Table {
		case pe.Field:
			f, err := r.fieldAt(ref.Row)
			if err != nil {
				return err
			}
			f.PInvoke = pinvoke
		case pe.MethodDef:
			m, err := r.methodAt(ref.Row)
			if err != nil {
				return err
			}
			m.PInvoke = pinvoke
		default:
			return otherError("ImplMap: unexpected MemberForwarded table %d", ref.Table)
		}
	}
	return nil
}

// ---- pass 15: DeclSecurity ----

func (r *resolver) passDeclSecurity() error {
	rows := tableRows[pe.DeclSecurityTableRow](r.pe, pe.DeclSecurity)
	r.declSecurity = make([]*SecurityDeclaration, len(rows)+1)
	for i, row := range rows {
		blob, err := r.heaps.Blob.At(row.PermissionSet)
		if err != nil {
			return err
		}
		decl, err := decodeSecurityDeclaration(blob)
		if err != nil {
			return err
		}
		r.declSecurity[i+1] = decl
		ref, err := decodeCoded(row.Parent, csHasDeclSecurity)
		if err != nil {
			return err
		}
		switch ref.Table {
		case pe.TypeDef:
			if int(ref.Row) > len(r.res.TypeDefs) {
				return otherError("DeclSecurity: bad TypeDef row %d", ref.Row)
			}
			r.res.TypeDefs[ref.Row-1].Security = decl
		case pe.MethodDef:
			m, err := r.methodAt(ref.Row)
			if err != nil {
				return err
			}
			m.Security = decl
		case pe.Assembly:
			if r.res.Assembly != nil {
				r.res.Assembly.Security = decl
			}
		default:
			return otherError("DeclSecurity: unexpected parent table %d", ref.Table)
		}
	}
	return nil
}

// decodeSecurityDeclaration handles both the pre-2.0 legacy-XML form (a
// raw UTF-16 permission set blob with no header byte) and the 2.0+
// HasSecurity binary form (a '.' prefix byte, compressed attribute count,
// then (typeName, propertySet) pairs).
func decodeSecurityDeclaration(blob []byte) (*SecurityDeclaration, error) {
	if len(blob) == 0 {
		return &SecurityDeclaration{}, nil
	}
	if blob[0] != '.' {
		return &SecurityDeclaration{LegacyXML: blob}, nil
	}
	offset := 1
	count, n, err := decodeCompressedUint(blob, offset)
	if err != nil {
		return nil, err
	}
	offset += n
	attrs := make([]SecurityAttribute, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen, n, err := decodeCompressedUint(blob, offset)
		if err != nil {
			return nil, err
		}
		offset += n
		if offset+int(nameLen) > len(blob) {
			return nil, otherError("security declaration: type name out of range")
		}
		typeName := string(blob[offset : offset+int(nameLen)])
		offset += int(nameLen)

		blobLen, n, err := decodeCompressedUint(blob, offset)
		if err != nil {
			return nil, err
		}
		offset += n
		if offset+int(blobLen) > len(blob) {
			return nil, otherError("security declaration: property set out of range")
		}
		attrs = append(attrs, SecurityAttribute{TypeName: typeName, PropertySetRaw: blob[offset : offset+int(blobLen)]})
		offset += int(blobLen)
	}
	return &SecurityDeclaration{Attributes: attrs}, nil
}

// ---- pass 16: GenericParam + GenericParamConstraint ----

const (
	genericVarianceMask   = 0x0003
	genericReferenceType  = 0x0004
	genericValueType      = 0x0008
	genericDefaultCtor    = 0x0010
)

func (r *resolver) passGenericParams() error {
	rows := tableRows[pe.GenericParamTableRow](r.pe, pe.GenericParam)
	gps := make([]*GenericParameter, len(rows))
	r.genericParams = make([]*GenericParameter, len(rows)+1)

	for i, row := range rows {
		name, err := r.heaps.Strings.At(row.Name)
		if err != nil {
			return err
		}
		if row.Flags&genericVarianceMask == 0x3 {
			return otherError("GenericParam row %d: invalid variance 0x3", i+1)
		}
		gp := &GenericParameter{
			Sequence: row.Number,
			Name:     name,
			Variance: Variance(row.Flags & genericVarianceMask),
			SpecialConstraints: SpecialConstraints{
				ReferenceType:  row.Flags&genericReferenceType != 0,
				ValueType:      row.Flags&genericValueType != 0,
				HasDefaultCtor: row.Flags&genericDefaultCtor != 0,
			},
		}
		gps[i] = gp
		r.genericParams[i+1] = gp

		ref, err := decodeCoded(row.Owner, csTypeOrMethodDef)
		if err != nil {
			return err
		}
		switch ref.Table {
		case pe.TypeDef:
			if int(ref.Row) > len(r.res.TypeDefs) {
				return otherError("GenericParam: bad TypeDef owner row %d", ref.Row)
			}
			td := r.res.TypeDefs[ref.Row-1]
			td.Generics = append(td.Generics, gp)
		case pe.MethodDef:
			m, err := r.methodAt(ref.Row)
			if err != nil {
				return err
			}
			m.Generics = append(m.Generics, gp)
		default:
			return otherError("GenericParam: unexpected owner table %d", ref.Table)
		}
	}

	// Stable sort by declared sequence within each owner, since rows are
	// not guaranteed to already be sequence-ordered (ECMA-335 II.22.20).
	for _, td := range r.res.TypeDefs {
		sortGenerics(td.Generics)
	}
	for _, m := range r.methods {
		if m != nil {
			sortGenerics(m.Generics)
		}
	}

	constraintRows := tableRows[pe.GenericParamConstraintTableRow](r.pe, pe.GenericParamConstraint)
	r.genericParamConstraints = make([]genericConstraintRef, len(constraintRows)+1)
	for i, row := range constraintRows {
		if row.Owner == 0 || int(row.Owner) > len(gps) {
			return otherError("GenericParamConstraint: bad GenericParam row %d", row.Owner)
		}
		ref, err := decodeCoded(row.Constraint, csTypeDefOrRef)
		if err != nil {
			return err
		}
		mt, err := r.convertType(typeDefOrRefTag{table: ref.Table, row: ref.Row})
		if err != nil {
			return err
		}
		gp := gps[row.Owner-1]
		gp.TypeConstraints = append(gp.TypeConstraints, GenericConstraint{Type: mt})
		r.genericParamConstraints[i+1] = genericConstraintRef{gp: gp, idx: len(gp.TypeConstraints) - 1}
	}
	return nil
}

func sortGenerics(gps []*GenericParameter) {
	sort.SliceStable(gps, func(i, j int) bool { return gps[i].Sequence < gps[j].Sequence })
}

// ---- pass 17: Param ----

const (
	paramIn       = 0x0001
	paramOut      = 0x0002
	paramOptional = 0x0010
	paramHasDefault = 0x1000
)

func (r *resolver) passParams() error {
	rows := tableRows[pe.ParamTableRow](r.pe, pe.Param)
	for methodRow := 1; methodRow < len(r.paramRange)-1; methodRow++ {
		m := r.methods[methodRow]
		if m == nil {
			continue
		}
		start, end := r.paramRange[methodRow], r.paramRange[methodRow+1]
		for row := start; row < end; row++ {
			if row == 0 || int(row) > len(rows) {
				continue
			}
			pr := rows[row-1]
			name, err := r.heaps.Strings.At(pr.Name)
			if err != nil {
				return err
			}
			if int(pr.Sequence) >= len(m.Parameters) {
				continue
			}
			m.Parameters[pr.Sequence] = Parameter{
				Name:     name,
				IsIn:     pr.Flags&paramIn != 0,
				IsOut:    pr.Flags&paramOut != 0,
				Optional: pr.Flags&paramOptional != 0,
			}
		}
	}
	return nil
}

// ---- pass 18: FieldMarshal ----

func (r *resolver) passFieldMarshal() error {
	for _, row := range tableRows[pe.FieldMarshalTableRow](r.pe, pe.FieldMarshal) {
		blob, err := r.heaps.Blob.At(row.NativeType)
		if err != nil {
			return err
		}
		spec, err := decodeMarshalSpec(blob)
		if err != nil {
			return err
		}
		ref, err := decodeCoded(row.Parent, csHasFieldMarshal)
		if err != nil {
			return err
		}
		switch ref.Table {
		case pe.Field:
			f, err := r.fieldAt(ref.Row)
			if err != nil {
				return err
			}
			f.Marshal = &spec
		case pe.Param:
			// Parameter marshal specs are attached by methodRow search,
			// since HasFieldMarshal's Param operand is a Param table row,
			// not a (method,sequence) pair; find the owning method/slot.
			if err := r.attachParamMarshal(ref.Row, spec); err != nil {
				return err
			}
		default:
			return otherError("FieldMarshal: unexpected parent table %d", ref.Table)
		}
	}
	return nil
}

func (r *resolver) attachParamMarshal(paramRow uint32, spec MarshalSpec) error {
	for methodRow := 1; methodRow < len(r.paramRange)-1; methodRow++ {
		start, end := r.paramRange[methodRow], r.paramRange[methodRow+1]
		if paramRow < start || paramRow >= end {
			continue
		}
		m := r.methods[methodRow]
		if m == nil {
			return nil
		}
		paramRows := tableRows[pe.ParamTableRow](r.pe, pe.Param)
		if int(paramRow) > len(paramRows) {
			return otherError("FieldMarshal: bad Param row %d", paramRow)
		}
		seq := paramRows[paramRow-1].Sequence
		if int(seq) < len(m.Parameters) {
			m.Parameters[seq].Marshal = &spec
		}
		return nil
	}
	return otherError("FieldMarshal: Param row %d not owned by any method", paramRow)
}

// ---- pass 19: Property/PropertyMap ----

func (r *resolver) passProperties() error {
	propertyRows := tableRows[pe.PropertyTableRow](r.pe, pe.Property)
	r.properties = make([]*Property, len(propertyRows)+1)

	mapRows := tableRows[pe.PropertyMapTableRow](r.pe, pe.PropertyMap)
	for i, pm := range mapRows {
		if pm.Parent == 0 || int(pm.Parent) > len(r.res.TypeDefs) {
			return otherError("PropertyMap: bad TypeDef row %d", pm.Parent)
		}
		start := pm.PropertyList
		end := uint32(len(propertyRows)) + 1
		if i+1 < len(mapRows) {
			end = mapRows[i+1].PropertyList
		}
		td := r.res.TypeDefs[pm.Parent-1]
		for row := start; row < end; row++ {
			if row == 0 || int(row) > len(propertyRows) {
				continue
			}
			pr := propertyRows[row-1]
			name, err := r.heaps.Strings.At(pr.Name)
			if err != nil {
				return err
			}
			blob, err := r.heaps.Blob.At(pr.Type)
			if err != nil {
				return err
			}
			psig, err := decodePropertySig(blob, r.convertType)
			if err != nil {
				return err
			}
			p := &Property{Name: name, PropertyType: psig.Type, Flags: pr.Flags}
			r.properties[row] = p
			td.Properties = append(td.Properties, p)
		}
	}
	return nil
}

// ---- pass 20: Constant ----

func (r *resolver) passConstants() error {
	for _, row := range tableRows[pe.ConstantTableRow](r.pe, pe.Constant) {
		blob, err := r.heaps.Blob.At(row.Value)
		if err != nil {
			return err
		}
		tag := ElementType(row.Type)
		val, err := decodeConstantValue(tag, blob)
		if err != nil {
			return err
		}
		c := &Constant{Tag: tag, Value: val}

		ref, err := decodeCoded(row.Parent, csHasConstant)
		if err != nil {
			return err
		}
		switch ref.Table {
		case pe.Field:
			f, err := r.fieldAt(ref.Row)
			if err != nil {
				return err
			}
			f.Default = c
		case pe.Param:
			if err := r.attachParamConstant(ref.Row, c); err != nil {
				return err
			}
		case pe.Property:
			if ref.Row == 0 || int(ref.Row) >= len(r.properties) || r.properties[ref.Row] == nil {
				return otherError("Constant: bad Property row %d", ref.Row)
			}
			r.properties[ref.Row].Default = c
		default:
			return otherError("Constant: unexpected parent table %d", ref.Table)
		}
	}
	return nil
}

func (r *resolver) attachParamConstant(paramRow uint32, c *Constant) error {
	for methodRow := 1; methodRow < len(r.paramRange)-1; methodRow++ {
		start, end := r.paramRange[methodRow], r.paramRange[methodRow+1]
		if paramRow < start || paramRow >= end {
			continue
		}
		m := r.methods[methodRow]
		if m == nil {
			return nil
		}
		paramRows := tableRows[pe.ParamTableRow](r.pe, pe.Param)
		if int(paramRow) > len(paramRows) {
			return otherError("Constant: bad Param row %d", paramRow)
		}
		seq := paramRows[paramRow-1].Sequence
		if int(seq) < len(m.Parameters) {
			m.Parameters[seq].Default = c
		}
		return nil
	}
	return otherError("Constant: Param row %d not owned by any method", paramRow)
}

// decodeConstantValue decodes a Constant row's Value blob per its Type
// tag. STRING is raw UTF-16 with no length prefix (the heap's own
// compressed-length prefix already delimited it); CLASS only ever encodes
// the null reference.
func decodeConstantValue(tag ElementType, blob []byte) (interface{}, error) {
	switch tag {
	case ElementTypeBoolean:
		return len(blob) > 0 && blob[0] != 0, nil
	case ElementTypeChar:
		return binary.LittleEndian.Uint16(pad(blob, 2)), nil
	case ElementTypeI1:
		return int8(pad(blob, 1)[0]), nil
	case ElementTypeU1:
		return pad(blob, 1)[0], nil
	case ElementTypeI2:
		return int16(binary.LittleEndian.Uint16(pad(blob, 2))), nil
	case ElementTypeU2:
		return binary.LittleEndian.Uint16(pad(blob, 2)), nil
	case ElementTypeI4:
		return int32(binary.LittleEndian.Uint32(pad(blob, 4))), nil
	case ElementTypeU4:
		return binary.LittleEndian.Uint32(pad(blob, 4)), nil
	case ElementTypeI8:
		return int64(binary.LittleEndian.Uint64(pad(blob, 8))), nil
	case ElementTypeU8:
		return binary.LittleEndian.Uint64(pad(blob, 8)), nil
	case ElementTypeR4:
		return math.Float32frombits(binary.LittleEndian.Uint32(pad(blob, 4))), nil
	case ElementTypeR8:
		return math.Float64frombits(binary.LittleEndian.Uint64(pad(blob, 8))), nil
	case ElementTypeString:
		return pe.DecodeUTF16String(blob)
	case ElementTypeClass:
		return nil, nil
	default:
		return nil, otherError("constant: unsupported element type %#x", tag)
	}
}

func pad(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// ---- pass 21/22: Event/EventMap + MethodSemantics extraction ----

func (r *resolver) passEvents() error {
	eventRows := tableRows[pe.EventTableRow](r.pe, pe.Event)
	r.events = make([]*Event, len(eventRows)+1)

	mapRows := tableRows[pe.EventMapTableRow](r.pe, pe.EventMap)
	for i, em := range mapRows {
		if em.Parent == 0 || int(em.Parent) > len(r.res.TypeDefs) {
			return otherError("EventMap: bad TypeDef row %d", em.Parent)
		}
		start := em.EventList
		end := uint32(len(eventRows)) + 1
		if i+1 < len(mapRows) {
			end = mapRows[i+1].EventList
		}
		td := r.res.TypeDefs[em.Parent-1]
		for row := start; row < end; row++ {
			if row == 0 || int(row) > len(eventRows) {
				continue
			}
			er := eventRows[row-1]
			name, err := r.heaps.Strings.At(er.Name)
			if err != nil {
				return err
			}
			var delegateType MemberType
			if er.EventType != 0 {
				ref, err := decodeCoded(er.EventType, csTypeDefOrRef)
				if err != nil {
					return err
				}
				delegateType, err = r.convertType(typeDefOrRefTag{table: ref.Table, row: ref.Row})
				if err != nil {
					return err
				}
			}
			ev := &Event{Name: name, DelegateType: delegateType, Flags: er.EventFlags}
			r.events[row] = ev
			td.Events = append(td.Events, ev)
		}
	}
	return extractSemantics(r, semanticsAddOn|semanticsRemoveOn, true)
}

// passRemainingSemantics handles the Fire/Other (event) and
// Setter/Getter/Other (property) MethodSemantics rows left after pass 21
// took AddOn/RemoveOn.
func (r *resolver) passRemainingSemantics() error {
	return extractSemantics(r, semanticsFire|semanticsOther|semanticsSetter|semanticsGetter, false)
}

const (
	semanticsSetter    = 0x0001
	semanticsGetter    = 0x0002
	semanticsOther     = 0x0004
	semanticsAddOn     = 0x0008
	semanticsRemoveOn  = 0x0010
	semanticsFire      = 0x0020
)

// extractSemantics walks MethodSemantics once per call (it is cheap
// relative to the metadata size) and relocates matching rows' MethodDef
// out of its owning type's top-level Methods slice into the matched
// property/event accessor slot, decrementing every later MemberMethod
// Position in that type to keep res.methods consistent.
func extractSemantics(r *resolver, mask uint16, firstPass bool) error {
	for _, row := range tableRows[pe.MethodSemanticsTableRow](r.pe, pe.MethodSemantics) {
		if row.Semantics&mask == 0 {
			continue
		}
		ref, err := decodeCoded(row.Association, csHasSemantics)
		if err != nil {
			return err
		}
		m, err := r.methodAt(row.Method)
		if err != nil {
			return err
		}
		mi := r.res.methods[row.Method-1]
		if mi.Kind != MemberMethod {
			// Already relocated by an earlier semantics row (e.g. a method
			// serving double duty); leave it where it is.
			continue
		}

		var newKind MethodMemberIndexKind
		var otherIdx int
		switch {
		case row.Semantics&semanticsAddOn != 0:
			newKind = MemberEventAdd
		case row.Semantics&semanticsRemoveOn != 0:
			newKind = MemberEventRemove
		case row.Semantics&semanticsFire != 0:
			newKind = MemberEventRaise
		case row.Semantics&semanticsSetter != 0:
			newKind = MemberPropertySetter
		case row.Semantics&semanticsGetter != 0:
			newKind = MemberPropertyGetter
		case row.Semantics&semanticsOther != 0:
			if ref.Table == pe.Event {
				newKind = MemberEventOther
			} else {
				newKind = MemberPropertyOther
			}
		default:
			continue
		}

		// A single accessor slot that is already filled keeps its first
		// method; the later row's method stays in the top-level Methods.
		var slotPos int
		switch ref.Table {
		case pe.Event:
			if ref.Row == 0 || int(ref.Row) >= len(r.events) || r.events[ref.Row] == nil {
				return otherError("MethodSemantics: bad Event row %d", ref.Row)
			}
			ev := r.events[ref.Row]
			switch newKind {
			case MemberEventAdd:
				if ev.Add != nil {
					continue
				}
				ev.Add = m
			case MemberEventRemove:
				if ev.Remove != nil {
					continue
				}
				ev.Remove = m
			case MemberEventRaise:
				if ev.Raise != nil {
					continue
				}
				ev.Raise = m
			case MemberEventOther:
				otherIdx = len(ev.Other)
				ev.Other = append(ev.Other, m)
			}
			for i, e := range r.res.TypeDefs[mi.TypeIndex].Events {
				if e == ev {
					slotPos = i
				}
			}
		case pe.Property:
			if ref.Row == 0 || int(ref.Row) >= len(r.properties) || r.properties[ref.Row] == nil {
				return otherError("MethodSemantics: bad Property row %d", ref.Row)
			}
			p := r.properties[ref.Row]
			switch newKind {
			case MemberPropertySetter:
				if p.Setter != nil {
					continue
				}
				p.Setter = m
			case MemberPropertyGetter:
				if p.Getter != nil {
					continue
				}
				p.Getter = m
			case MemberPropertyOther:
				otherIdx = len(p.Other)
				p.Other = append(p.Other, m)
			}
			for i, q := range r.res.TypeDefs[mi.TypeIndex].Properties {
				if q == p {
					slotPos = i
				}
			}
		default:
			return otherError("MethodSemantics: unexpected association table %d", ref.Table)
		}

		removeMethodFromType(r, mi)
		r.res.methods[row.Method-1] = MethodMemberIndex{TypeIndex: mi.TypeIndex, Kind: newKind, Position: slotPos, OtherIdx: otherIdx}
	}
	return nil
}

// removeMethodFromType deletes the method at mi's original top-level
// position from its owning TypeDefinition.Methods, then decrements the
// Position of every remaining MemberMethod entry of that type that sat
// after it, keeping res.methods consistent with the shifted slice.
func removeMethodFromType(r *resolver, mi MethodMemberIndex) {
	td := r.res.TypeDefs[mi.TypeIndex]
	pos := mi.Position
	if pos < 0 || pos >= len(td.Methods) {
		return
	}
	td.Methods = append(td.Methods[:pos], td.Methods[pos+1:]...)
	for i := range r.res.methods {
		other := r.res.methods[i]
		if other.TypeIndex == mi.TypeIndex && other.Kind == MemberMethod && other.Position > pos {
			r.res.methods[i].Position--
		}
	}
}

// ---- pass 23: MemberRef (twofold: field or method) ----

func (r *resolver) passMemberRefs() error {
	var fieldRefs []*ExternalFieldReference
	var methodRefs []*ExternalMethodReference

	rows := tableRows[pe.MemberRefTableRow](r.pe, pe.MemberRef)
	r.fieldRefByRow = make(map[uint32]int, len(rows))
	r.methodRefByRow = make(map[uint32]int, len(rows))

	for i, row := range rows {
		rowNum := uint32(i + 1)
		name, err := r.heaps.Strings.At(row.Name)
		if err != nil {
			return err
		}
		blob, err := r.heaps.Blob.At(row.Signature)
		if err != nil {
			return err
		}
		parent, err := r.decodeMemberRefParent(row.Class)
		if err != nil {
			return err
		}
		if len(blob) > 0 && blob[0] == 0x06 {
			sig, err := decodeFieldSig(blob, r.convertType)
			if err != nil {
				return err
			}
			fieldRefs = append(fieldRefs, &ExternalFieldReference{Parent: parent, Name: name, Signature: sig})
			r.fieldRefByRow[rowNum] = len(fieldRefs) - 1
			continue
		}
		sig, err := decodeMethodRefSig(blob, r.convertType)
		if err != nil {
			return err
		}
		methodRefs = append(methodRefs, &ExternalMethodReference{Parent: parent, Name: name, Signature: sig})
		r.methodRefByRow[rowNum] = len(methodRefs) - 1
	}

	r.res.FieldRefs = fieldRefs
	r.res.MethodRefs = methodRefs
	return nil
}

func (r *resolver) decodeMemberRefParent(raw uint32) (MemberRefParent, error) {
	ref, err := decodeCoded(raw, csMemberRefParent)
	if err != nil {
		return MemberRefParent{}, err
	}
	switch ref.Table {
	case pe.ModuleRef:
		if int(ref.Row) > len(r.res.ModuleRefs) {
			return MemberRefParent{}, otherError("MemberRef: bad ModuleRef row %d", ref.Row)
		}
		return MemberRefParent{Kind: ParentModule, Module: r.res.ModuleRefs[ref.Row-1]}, nil
	case pe.MethodDef:
		return MemberRefParent{Kind: ParentVarargMethod, VarargMethod: ref.Row}, nil
	case pe.TypeDef, pe.TypeRef, pe.TypeSpec:
		mt, err := r.convertType(typeDefOrRefTag{table: ref.Table, row: ref.Row})
		if err != nil {
			return MemberRefParent{}, err
		}
		return MemberRefParent{Kind: ParentType, Type: mt}, nil
	default:
		return MemberRefParent{}, otherError("MemberRef: unexpected parent table %d", ref.Table)
	}
}

// ---- pass 24: MethodImpl ----

func (r *resolver) passMethodImpl() error {
	for _, row := range tableRows[pe.MethodImplTableRow](r.pe, pe.MethodImpl) {
		if row.Class == 0 || int(row.Class) > len(r.res.TypeDefs) {
			return otherError("MethodImpl: bad TypeDef row %d", row.Class)
		}
		decl, err := r.decodeMethodDefOrRef(row.MethodDeclaration)
		if err != nil {
			return err
		}
		impl, err := r.decodeMethodDefOrRef(row.MethodBody)
		if err != nil {
			return err
		}
		kind := Override
		if r.isInterfaceMethodRef(decl) {
			kind = ExplicitInterfaceImpl
		}
		td := r.res.TypeDefs[row.Class-1]
		td.Overrides = append(td.Overrides, MethodOverride{Kind: kind, Declaration: decl, Implementation: impl})
	}
	return nil
}

func (r *resolver) decodeMethodDefOrRef(raw uint32) (MemberMethodRef, error) {
	ref, err := decodeCoded(raw, csMethodDefOrRef)
	if err != nil {
		return MemberMethodRef{}, err
	}
	switch ref.Table {
	case pe.MethodDef:
		return MemberMethodRef{Kind: RefMethodDef, MethodDefRow: ref.Row}, nil
	case pe.MemberRef:
		idx, ok := r.methodRefByRow[ref.Row]
		if !ok {
			return MemberMethodRef{}, otherError("MethodDefOrRef: MemberRef row %d is not a method reference", ref.Row)
		}
		return MemberMethodRef{Kind: RefMemberRef, MethodRefIndex: idx}, nil
	default:
		return MemberMethodRef{}, otherError("MethodDefOrRef: unexpected table %d", ref.Table)
	}
}

// isInterfaceMethodRef reports whether a MemberMethodRef's declaring type
// is an interface (TypeAttributes.Interface, bit 0x20 of the semantics
// field kept raw on TypeDefinition). MemberRef parents resolving to a
// TypeDef can be checked directly; TypeRef/TypeSpec parents and vararg
// call-site refs cannot be classified locally and are treated as ordinary
// overrides.
func (r *resolver) isInterfaceMethodRef(ref MemberMethodRef) bool {
	const typeInterfaceFlag = 0x00000020
	switch ref.Kind {
	case RefMethodDef:
		if ref.MethodDefRow == 0 || int(ref.MethodDefRow) >= len(r.res.methods)+1 {
			return false
		}
		td, _, err := r.res.MethodAt(ref.MethodDefRow)
		if err != nil {
			return false
		}
		return td.Semantics&typeInterfaceFlag != 0
	case RefMemberRef:
		if ref.MethodRefIndex < 0 || ref.MethodRefIndex >= len(r.res.MethodRefs) {
			return false
		}
		mr := r.res.MethodRefs[ref.MethodRefIndex]
		if mr.Parent.Kind != ParentType || mr.Parent.Type.Kind != MemberTypeDef {
			return false
		}
		return r.res.TypeDefs[mr.Parent.Type.TypeDefIndex].Semantics&typeInterfaceFlag != 0
	default:
		return false
	}
}

// ---- pass 25: EntryPoint ----

func (r *resolver) passEntryPoint() error {
	hdr := r.pe.CLR.CLRHeader
	const nativeEntryPoint = 0x00000010 // COMIMAGE_FLAGS_NATIVE_ENTRYPOINT
	if hdr.Flags&nativeEntryPoint != 0 || hdr.EntryPointRVAorToken == 0 {
		return nil
	}
	token := hdr.EntryPointRVAorToken
	table := int(token >> 24)
	rid := token & 0x00FFFFFF
	switch table {
	case pe.MethodDef:
		m, err := r.methodAt(rid)
		if err != nil {
			return err
		}
		r.res.EntryPoint = &EntryPoint{Kind: EntryPointMethod, Method: m}
	case pe.FileMD:
		if rid == 0 || int(rid) > len(r.res.Files) {
			return otherError("entry point: bad File row %d", rid)
		}
		r.res.EntryPoint = &EntryPoint{Kind: EntryPointFile, File: r.res.Files[rid-1]}
	default:
		r.logger.Warnf("entry point token references unsupported table %d, ignoring", table)
	}
	return nil
}

// ---- pass 26: CustomAttribute ----

func (r *resolver) passCustomAttributes() error {
	for _, row := range tableRows[pe.CustomAttributeTableRow](r.pe, pe.CustomAttribute) {
		value, err := r.heaps.Blob.At(row.Value)
		if err != nil {
			return err
		}
		if uint32(len(value)) > r.opts.MaxCustomAttributeBytes {
			value = value[:r.opts.MaxCustomAttributeBytes]
		}
		ctor, err := decodeCustomAttributeType(row.Type)
		if err != nil {
			return err
		}
		if ctor.Kind == RefMemberRef {
			idx, ok := r.methodRefByRow[uint32(ctor.MethodRefIndex+1)]
			if !ok {
				return otherError("CustomAttribute: MemberRef row %d is not a method reference", ctor.MethodRefIndex+1)
			}
			ctor.MethodRefIndex = idx
		}
		ca := CustomAttribute{Constructor: ctor, Value: value}

		ref, err := decodeCoded(row.Parent, csHasCustomAttribute)
		if err != nil {
			return err
		}
		if err := r.attachCustomAttribute(ref, ca); err != nil {
			return err
		}
	}
	return nil
}

func (r *resolver) attachCustomAttribute(ref codedRef, ca CustomAttribute) error {
	switch ref.Table {
	case pe.MethodDef:
		m, err := r.methodAt(ref.Row)
		if err != nil {
			return err
		}
		m.Attributes = append(m.Attributes, ca)
	case pe.Field:
		f, err := r.fieldAt(ref.Row)
		if err != nil {
			return err
		}
		f.Attributes = append(f.Attributes, ca)
	case pe.TypeRef:
		if int(ref.Row) > len(r.res.TypeRefs) {
			return otherError("CustomAttribute: bad TypeRef row %d", ref.Row)
		}
		tr := r.res.TypeRefs[ref.Row-1]
		tr.Attributes = append(tr.Attributes, ca)
	case pe.TypeDef:
		if int(ref.Row) > len(r.res.TypeDefs) {
			return otherError("CustomAttribute: bad TypeDef row %d", ref.Row)
		}
		td := r.res.TypeDefs[ref.Row-1]
		td.Attributes = append(td.Attributes, ca)
	case pe.Param:
		return r.attachParamAttribute(ref.Row, ca)
	case pe.InterfaceImpl:
		// InterfaceImpl rows are not individually addressable once folded
		// into TypeDefinition.Implements; attach to the entry recorded at
		// the matching table position instead.
		return r.attachInterfaceImplAttribute(ref.Row, ca)
	case pe.Module:
		r.res.Module.Attributes = append(r.res.Module.Attributes, ca)
	case pe.FileMD:
		if int(ref.Row) > len(r.res.Files) {
			return otherError("CustomAttribute: bad File row %d", ref.Row)
		}
		f := r.res.Files[ref.Row-1]
		f.Attributes = append(f.Attributes, ca)
	case pe.DeclSecurity:
		if ref.Row == 0 || int(ref.Row) >= len(r.declSecurity) || r.declSecurity[ref.Row] == nil {
			return otherError("CustomAttribute: bad DeclSecurity row %d", ref.Row)
		}
		sd := r.declSecurity[ref.Row]
		sd.CustomAttributes = append(sd.CustomAttributes, ca)
	case pe.Property:
		if ref.Row == 0 || int(ref.Row) >= len(r.properties) || r.properties[ref.Row] == nil {
			return otherError("CustomAttribute: bad Property row %d", ref.Row)
		}
		p := r.properties[ref.Row]
		p.Attributes = append(p.Attributes, ca)
	case pe.Event:
		if ref.Row == 0 || int(ref.Row) >= len(r.events) || r.events[ref.Row] == nil {
			return otherError("CustomAttribute: bad Event row %d", ref.Row)
		}
		ev := r.events[ref.Row]
		ev.Attributes = append(ev.Attributes, ca)
	case pe.StandAloneSig, pe.TypeSpec, pe.MethodSpec:
		r.logger.Warnf("custom attribute on %d row %d dropped: parent is not materialized", ref.Table, ref.Row)
	case pe.ModuleRef:
		if int(ref.Row) > len(r.res.ModuleRefs) {
			return otherError("CustomAttribute: bad ModuleRef row %d", ref.Row)
		}
		mr := r.res.ModuleRefs[ref.Row-1]
		mr.Attributes = append(mr.Attributes, ca)
	case pe.Assembly:
		if r.res.Assembly != nil {
			r.res.Assembly.Attributes = append(r.res.Assembly.Attributes, ca)
		}
	case pe.AssemblyRef:
		if int(ref.Row) > len(r.res.AssemblyRefs) {
			return otherError("CustomAttribute: bad AssemblyRef row %d", ref.Row)
		}
		ar := r.res.AssemblyRefs[ref.Row-1]
		ar.Attributes = append(ar.Attributes, ca)
	case pe.ExportedType:
		if int(ref.Row) > len(r.res.ExportedTypes) {
			return otherError("CustomAttribute: bad ExportedType row %d", ref.Row)
		}
		et := r.res.ExportedTypes[ref.Row-1]
		et.Attributes = append(et.Attributes, ca)
	case pe.ManifestResource:
		if ref.Row == 0 || int(ref.Row) > len(r.res.ManifestResources) {
			return otherError("CustomAttribute: bad ManifestResource row %d", ref.Row)
		}
		mr := &r.res.ManifestResources[ref.Row-1]
		mr.Attributes = append(mr.Attributes, ca)
	case pe.GenericParam:
		if ref.Row == 0 || int(ref.Row) >= len(r.genericParams) || r.genericParams[ref.Row] == nil {
			return otherError("CustomAttribute: bad GenericParam row %d", ref.Row)
		}
		gp := r.genericParams[ref.Row]
		gp.Attributes = append(gp.Attributes, ca)
	case pe.GenericParamConstraint:
		if ref.Row == 0 || int(ref.Row) >= len(r.genericParamConstraints) || r.genericParamConstraints[ref.Row].gp == nil {
			return otherError("CustomAttribute: bad GenericParamConstraint row %d", ref.Row)
		}
		c := r.genericParamConstraints[ref.Row]
		c.gp.TypeConstraints[c.idx].Attributes = append(c.gp.TypeConstraints[c.idx].Attributes, ca)
	case pe.MemberRef:
		if idx, ok := r.fieldRefByRow[ref.Row]; ok {
			r.res.FieldRefs[idx].Attributes = append(r.res.FieldRefs[idx].Attributes, ca)
			return nil
		}
		if idx, ok := r.methodRefByRow[ref.Row]; ok {
			r.res.MethodRefs[idx].Attributes = append(r.res.MethodRefs[idx].Attributes, ca)
			return nil
		}
		return otherError("CustomAttribute: bad MemberRef row %d", ref.Row)
	default:
		return otherError("CustomAttribute: unexpected parent table %d", ref.Table)
	}
	return nil
}

func (r *resolver) attachParamAttribute(paramRow uint32, ca CustomAttribute) error {
	for methodRow := 1; methodRow < len(r.paramRange)-1; methodRow++ {
		start, end := r.paramRange[methodRow], r.paramRange[methodRow+1]
		if paramRow < start || paramRow >= end {
			continue
		}
		m := r.methods[methodRow]
		if m == nil {
			return nil
		}
		paramRows := tableRows[pe.ParamTableRow](r.pe, pe.Param)
		if int(paramRow) > len(paramRows) {
			return otherError("CustomAttribute: bad Param row %d", paramRow)
		}
		seq := paramRows[paramRow-1].Sequence
		if int(seq) < len(m.Parameters) {
			m.Parameters[seq].Attributes = append(m.Parameters[seq].Attributes, ca)
		}
		return nil
	}
	return otherError("CustomAttribute: Param row %d not owned by any method", paramRow)
}

func (r *resolver) attachInterfaceImplAttribute(row uint32, ca CustomAttribute) error {
	// InterfaceImpl rows are processed strictly in table order in pass 9,
	// and TypeDefinition.Implements only ever grows by append, so the
	// row's 1-based position still identifies its ImplementsEntry by
	// counting interface-impl rows up to and including it.
	seen := uint32(0)
	for _, td := range r.res.TypeDefs {
		for i := range td.Implements {
			seen++
			if seen == row {
				td.Implements[i].Attributes = append(td.Implements[i].Attributes, ca)
				return nil
			}
		}
	}
	return otherError("CustomAttribute: bad InterfaceImpl row %d", row)
}
