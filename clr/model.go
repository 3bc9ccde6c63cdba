// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

// Resolution is the fully linked object graph a Resolve call produces: every
// 1-based table index has been replaced by a direct, typed handle to its
// target.
type Resolution struct {
	Assembly          *Assembly
	AssemblyRefs      []*ExternalAssemblyReference
	Module            Module
	ModuleRefs        []*ExternalModuleReference
	Files             []*ManifestFile
	TypeDefs          []*TypeDefinition
	TypeRefs          []*ExternalTypeReference
	ManifestResources []ManifestResource
	ExportedTypes     []*ExportedType
	EntryPoint        *EntryPoint
	FieldRefs         []*ExternalFieldReference
	MethodRefs        []*ExternalMethodReference

	// methods indexes every MethodDef row by its original 1-based position,
	// tracking where that method currently lives after pass 21/22's
	// extraction into property/event slots. Needed to resolve
	// ExternalFieldReference/ExternalMethodReference's VarargMethod operand
	// and to satisfy testable property 2.
	methods []MethodMemberIndex
}

// MethodAt resolves a 1-based MethodDef row to its current owning type and
// slot.
func (r *Resolution) MethodAt(row uint32) (*TypeDefinition, MethodMemberIndex, error) {
	if row == 0 || int(row) > len(r.methods) {
		return nil, MethodMemberIndex{}, otherError("bad MethodDef row %#x", row)
	}
	mi := r.methods[row-1]
	return r.TypeDefs[mi.TypeIndex], mi, nil
}

// HashAlgorithm is Assembly's HashAlgId column.
type HashAlgorithm int

// Hash algorithms recognized on an Assembly row.
const (
	HashAlgorithmNone HashAlgorithm = iota
	HashAlgorithmReservedMD5
	HashAlgorithmSHA1
)

// Assembly is the current module's own assembly identity (at most one).
type Assembly struct {
	Version       [4]uint16 // major, minor, build, revision
	Flags         uint32
	HashAlgorithm HashAlgorithm
	PublicKey     []byte
	Name          string
	Culture       string
	Security      *SecurityDeclaration
	Attributes    []CustomAttribute
}

// ExternalAssemblyReference is a shared handle: many entities (type refs,
// resources, exports, member refs) may point at the same referenced
// assembly.
type ExternalAssemblyReference struct {
	Version         [4]uint16
	Flags           uint32
	PublicKeyOrToken []byte
	Name            string
	Culture         string
	Hash            []byte
	Attributes      []CustomAttribute
}

// Module is the current module descriptor (exactly one).
type Module struct {
	Name       string
	MVID       [16]byte
	Attributes []CustomAttribute
}

// ExternalModuleReference is a shared handle to another module of the same
// assembly.
type ExternalModuleReference struct {
	Name       string
	Attributes []CustomAttribute
}

// ManifestFile is a shared handle to a File table row: another file of the
// current assembly's manifest.
type ManifestFile struct {
	// HasMetadata is bit 0 of the row's Flags column, inverted from the
	// usual sense: 0 means the file DOES carry metadata, 1 means it does
	// not (ECMA-335 II.23.1.6).
	HasMetadata bool
	Name        string
	Hash        []byte
	Attributes  []CustomAttribute
}

// TypeLayoutKind distinguishes a TypeDef's class-layout policy.
type TypeLayoutKind int

// Layout kinds, selected by TypeAttributes bits 0x18.
const (
	LayoutAuto TypeLayoutKind = iota
	LayoutSequential
	LayoutExplicit
)

// TypeLayout carries the optional ClassLayout row attached to a Sequential
// or Explicit type.
type TypeLayout struct {
	Kind            TypeLayoutKind
	PackingSize     uint16 // Sequential only, 0 if unset
	ClassSize       uint32 // Sequential/Explicit, 0 if unset
}

// ResolutionScopeKind tags a TypeRef's scope.
type ResolutionScopeKind int

// Resolution scope kinds for a TypeRef row.
const (
	ScopeCurrentModule ResolutionScopeKind = iota
	ScopeExternalModule
	ScopeAssembly
	ScopeNested
	ScopeExported
)

// ResolutionScope is the resolved ResolutionScope coded index of a TypeRef.
type ResolutionScope struct {
	Kind             ResolutionScopeKind
	ExternalModule   *ExternalModuleReference // ScopeExternalModule
	Assembly         *ExternalAssemblyReference // ScopeAssembly
	NestedIndex      int                      // ScopeNested: index into TypeRefs of the enclosing TypeRef
	Exported         *ExportedType            // ScopeExported: a Null-scope row resolved to a type forwarder
}

// MemberTypeKind tags a resolved type reference used wherever ECMA-335
// embeds a TypeDefOrRef or a recursively-decoded TypeSpec.
type MemberTypeKind int

// Member type kinds.
const (
	MemberTypeDef MemberTypeKind = iota
	MemberTypeRef
	MemberTypeSpec
)

// MemberType is the type-reference converter's output node: either a
// TypeDefinition by position, an ExternalTypeReference by position, or a
// recursively decoded type-spec signature.
type MemberType struct {
	Kind         MemberTypeKind
	TypeDefIndex int
	TypeRefIndex int
	Spec         *TypeSig
}

// ExternalTypeReference is a type referenced from elsewhere, indexed by
// position (not a shared handle: spec.md's ownership column lists it as
// "value (indexed by position)").
type ExternalTypeReference struct {
	Name       string
	Namespace  string
	Scope      ResolutionScope
	Attributes []CustomAttribute
}

// ExportedTypeImplementationKind tags an ExportedType's implementation.
type ExportedTypeImplementationKind int

// Implementation kinds for an exported type.
const (
	ImplModuleFile ExportedTypeImplementationKind = iota
	ImplTypeForwarder
	ImplNested
)

// ExportedTypeImplementation is the resolved Implementation coded index of
// an ExportedType row.
type ExportedTypeImplementation struct {
	Kind          ExportedTypeImplementationKind
	TypeDefIndex  int           // ImplModuleFile
	File          *ManifestFile // ImplModuleFile
	AssemblyRef   *ExternalAssemblyReference // ImplTypeForwarder
	NestedIndex   int           // ImplNested: index into ExportedTypes of the enclosing export
}

// ExportedType is a shared handle: a type whose canonical definition lives
// elsewhere, surfaced through this assembly's manifest.
type ExportedType struct {
	Flags          uint32
	Name           string
	Namespace      string
	Implementation ExportedTypeImplementation
	Attributes     []CustomAttribute
}

// Accessibility is shared by Field and Method (spec.md §3.2's field/method
// accessibility is the same 3-bit enum in both ECMA-335 FieldAttributes and
// MethodAttributes).
type Accessibility int

// Accessibility levels, decoded from flags & 0x7.
const (
	CompilerControlled Accessibility = iota
	Private
	FamANDAssem
	Assem
	Family
	FamORAssem
	AccessPublic
)

func decodeAccessibility(flags uint16) (Accessibility, error) {
	v := flags & 0x7
	if v == 0x7 {
		return 0, otherError("invalid accessibility bit pattern 0x7")
	}
	return Accessibility(v), nil
}

// FieldFlags are Field's boolean attribute bits, decoded independently of
// accessibility.
type FieldFlags struct {
	Static       bool
	InitOnly     bool
	Literal      bool
	SpecialName  bool
	RTSpecialName bool
	NotSerialized bool
}

// PInvoke is the resolved ImplMap row attached to a Field or Method.
type PInvoke struct {
	CharacterSet     CharacterSet
	CallingConvention PInvokeCallingConvention
	NoMangle         bool
	SupportsLastError bool
	ImportName       string
	ModuleRef        *ExternalModuleReference
}

// CharacterSet is ImplMap's character-set bits.
type CharacterSet int

// Character sets.
const (
	CharSetNotSpecified CharacterSet = iota
	CharSetAnsi
	CharSetUnicode
	CharSetAuto
)

// PInvokeCallingConvention is ImplMap's calling-convention bits.
type PInvokeCallingConvention int

// P/Invoke calling conventions.
const (
	PInvokePlatformapi PInvokeCallingConvention = iota
	PInvokeCdecl
	PInvokeStdcall
	PInvokeThiscall
	PInvokeFastcall
)

// Field is owned by its TypeDefinition.
type Field struct {
	Name             string
	Signature        FieldSig
	Accessibility    Accessibility
	Flags            FieldFlags
	Default          *Constant
	PInvoke          *PInvoke
	Marshal          *MarshalSpec
	Offset           *uint32
	InitialValueRVA  []byte
	Attributes       []CustomAttribute
}

// Constant is a decoded Constant table row's literal value, attached to a
// field, parameter, or property.
type Constant struct {
	Tag   ElementType
	Value interface{}
}

// BodyFormat is Method's ImplFlags & 0x3 column.
type BodyFormat int

// Method body formats.
const (
	BodyFormatIL BodyFormat = iota
	BodyFormatNative
	BodyFormatOPTIL // unsupported; decoding throws
	BodyFormatRuntime
)

// BodyManagement is Method's ImplFlags & 0x4 column.
type BodyManagement int

// Method body management.
const (
	BodyUnmanaged BodyManagement = iota
	BodyManaged
)

// VtableLayout is Method's vtable-slot reuse policy.
type VtableLayout int

// Vtable layout kinds.
const (
	ReuseSlot VtableLayout = iota
	NewSlot
)

// MethodKindFlags are Method's boolean attribute bits.
type MethodKindFlags struct {
	Static           bool
	Sealed           bool
	Virtual          bool
	HideBySig        bool
	Strict           bool
	Abstract         bool
	VtableLayout     VtableLayout
	SpecialName      bool
	RTSpecialName    bool
	RequireSecObject bool
}

// MethodImplFlags are Method's implementation bits orthogonal to
// BodyFormat/BodyManagement.
type MethodImplFlags struct {
	ForwardRef     bool
	PreserveSig    bool
	Synchronized   bool
	NoInlining     bool
	NoOptimization bool
}

// Parameter is one slot of a Method's parameterMetadata; index 0 is the
// return parameter.
type Parameter struct {
	Name       string
	IsIn       bool
	IsOut      bool
	Optional   bool
	Default    *Constant
	Marshal    *MarshalSpec
	Attributes []CustomAttribute
}

// MethodBody is the decoded body of a method with a nonzero RVA.
type MethodBody struct {
	MaxStack     uint16
	InitLocals   bool
	Locals       []LocalVar
	Instructions []byte // raw IL bytes, as delegated instruction decoding is out of scope
	InstrOffsets []uint32
	DataSections []MethodDataSection
}

// Method is owned by its TypeDefinition, OR moved into a Property/Event
// slot by pass 21/22's extraction.
type Method struct {
	Name           string
	Signature      MethodSig
	Body           *MethodBody
	Accessibility  Accessibility
	Generics       []*GenericParameter
	Parameters     []Parameter
	KindFlags      MethodKindFlags
	BodyFormat     BodyFormat
	BodyManagement BodyManagement
	ImplFlags      MethodImplFlags
	PInvoke        *PInvoke
	Security       *SecurityDeclaration
	Attributes     []CustomAttribute
}

// MethodMemberIndexKind tags where a MethodDef row currently lives.
type MethodMemberIndexKind int

// Member-index kinds a MethodDef row can occupy.
const (
	MemberMethod MethodMemberIndexKind = iota
	MemberPropertyGetter
	MemberPropertySetter
	MemberPropertyOther
	MemberEventAdd
	MemberEventRemove
	MemberEventRaise
	MemberEventOther
)

// MethodMemberIndex locates a MethodDef row within its owning type: either
// the top-level methods slice, or a property/event accessor slot.
type MethodMemberIndex struct {
	TypeIndex int
	Kind      MethodMemberIndexKind
	Position  int // slice position for MemberMethod; property/event position otherwise
	OtherIdx  int // index within Other[] for MemberPropertyOther/MemberEventOther
}

// Property is owned by its TypeDefinition.
type Property struct {
	Name         string
	Getter       *Method
	Setter       *Method
	Other        []*Method
	PropertyType TypeSig
	Flags        uint16
	Default      *Constant
	Attributes   []CustomAttribute
}

// Event is owned by its TypeDefinition.
type Event struct {
	Name         string
	DelegateType MemberType
	Add          *Method
	Remove       *Method
	Raise        *Method
	Other        []*Method
	Flags        uint16
	Attributes   []CustomAttribute
}

// Variance is a GenericParameter's variance annotation.
type Variance int

// Variance kinds (0x0/0x1/0x2; 0x3 is invalid). Bit 0x2 decodes as
// Contravariant: see DESIGN.md's Open Question resolution.
const (
	Invariant Variance = iota
	Covariant
	Contravariant
)

// SpecialConstraints are a GenericParameter's special-constraint bits.
type SpecialConstraints struct {
	ReferenceType bool
	ValueType     bool
	HasDefaultCtor bool
}

// GenericConstraint is one GenericParamConstraint row attached to a
// GenericParameter.
type GenericConstraint struct {
	Type       MemberType
	Attributes []CustomAttribute
}

// GenericParameter is owned by its owning TypeDefinition or Method.
type GenericParameter struct {
	Sequence           uint16
	Name               string
	Variance           Variance
	SpecialConstraints SpecialConstraints
	TypeConstraints    []GenericConstraint
	Attributes         []CustomAttribute
}

// OverrideKind tags a TypeDefinition.Overrides entry (a MethodImpl row).
type OverrideKind int

// Override kinds: a genuine virtual override, or an explicit interface
// method implementation.
const (
	Override OverrideKind = iota
	ExplicitInterfaceImpl
)

// MethodOverride pairs a MethodImpl's Declaration/Implementation operands.
type MethodOverride struct {
	Kind           OverrideKind
	Declaration    MemberMethodRef
	Implementation MemberMethodRef
}

// MemberMethodRefKind tags a "user method" operand (MethodImpl, vararg
// call site, etc.).
type MemberMethodRefKind int

// Member-method reference kinds.
const (
	RefMethodDef MemberMethodRefKind = iota
	RefMemberRef
	RefMethodSpec
)

// MemberMethodRef is a resolved MethodDefOrRef/MethodSpec-capable operand.
type MemberMethodRef struct {
	Kind             MemberMethodRefKind
	MethodDefRow     uint32 // RefMethodDef: 1-based MethodDef row
	MethodRefIndex   int    // RefMemberRef: index into Resolution method-ref list
	MethodSpecIndex  int    // RefMethodSpec: MethodSpec row index; Resolution keeps no decoded method-spec list
}

// ImplementsEntry is a TypeDefinition.Implements entry.
type ImplementsEntry struct {
	Type       MemberType
	Attributes []CustomAttribute
}

// TypeDefinition is value-owned, indexed by position.
type TypeDefinition struct {
	Visibility  uint32 // TypeAttributes visibility sub-field, kept raw (8 values)
	Semantics   uint32 // TypeAttributes bits outside the visibility and layout sub-fields, kept raw
	Layout      TypeLayout
	Name        string
	Namespace   string
	Fields      []*Field
	Methods     []*Method
	Properties  []*Property
	Events      []*Event
	Extends     *MemberType
	Implements  []ImplementsEntry
	Overrides   []MethodOverride
	Generics    []*GenericParameter
	Encloser    *int // index into TypeDefs of the enclosing type, for nested types
	Security    *SecurityDeclaration
	Attributes  []CustomAttribute
}

// ManifestResourceVisibility is a ManifestResource's visibility bit.
type ManifestResourceVisibility int

// Visibility constants matching ECMA-335 II.22.24's 0x1/0x2 encoding.
const (
	VisibilityPublic  ManifestResourceVisibility = 0x1
	VisibilityPrivate ManifestResourceVisibility = 0x2
)

// ManifestResourceImplementationKind tags a resource's storage location.
type ManifestResourceImplementationKind int

// Manifest resource implementation kinds.
const (
	ResourceInFile ManifestResourceImplementationKind = iota
	ResourceInAssembly
	ResourceEmbedded
)

// ManifestResourceImplementation is the resolved Implementation coded
// index of a ManifestResource row.
type ManifestResourceImplementation struct {
	Kind     ManifestResourceImplementationKind
	File     *ManifestFile
	Assembly *ExternalAssemblyReference
}

// ManifestResource is value-owned.
type ManifestResource struct {
	Offset         uint32
	Name           string
	Visibility     ManifestResourceVisibility
	Implementation ManifestResourceImplementation
	Attributes     []CustomAttribute
}

// ExternalFieldReferenceParentKind tags an ExternalFieldReference/
// ExternalMethodReference's parent.
type ExternalFieldReferenceParentKind int

// Parent kinds for a MemberRef-derived field or method reference.
const (
	ParentType ExternalFieldReferenceParentKind = iota
	ParentModule
	ParentVarargMethod
)

// MemberRefParent is the resolved parent of a field- or method-reference
// MemberRef row.
type MemberRefParent struct {
	Kind          ExternalFieldReferenceParentKind
	Type          MemberType
	Module        *ExternalModuleReference
	VarargMethod  uint32 // 1-based MethodDef row being called vararg-style
}

// ExternalFieldReference is a shared handle produced by MemberRef pass 23
// when a row parses as a field signature.
type ExternalFieldReference struct {
	Parent     MemberRefParent
	Name       string
	Signature  FieldSig
	Attributes []CustomAttribute
}

// ExternalMethodReference is a shared handle produced by MemberRef pass 23
// when a row parses as a method signature.
type ExternalMethodReference struct {
	Parent     MemberRefParent
	Name       string
	Signature  MethodRefSig
	Attributes []CustomAttribute
}

// EntryPointKind tags the CLI header's entry-point token.
type EntryPointKind int

// Entry-point kinds.
const (
	EntryPointMethod EntryPointKind = iota
	EntryPointFile
)

// EntryPoint is the decoded CLI header entryPointToken.
type EntryPoint struct {
	Kind   EntryPointKind
	Method *Method
	File   *ManifestFile
}

// SecurityDeclaration keeps both the pre-2.0 legacy XML form and the
// HasSecurity binary form, matching original_source's two-variant enum
// (spec.md doesn't give this shape; see SPEC_FULL.md §3).
type SecurityDeclaration struct {
	LegacyXML  []byte
	Attributes []SecurityAttribute

	// CustomAttributes are CustomAttribute rows whose parent coded index
	// points directly at this DeclSecurity row (distinct from Attributes,
	// the SecurityAttribute pairs decoded out of the permission set blob
	// itself).
	CustomAttributes []CustomAttribute
}

// SecurityAttribute is one (typeName, propertySetBlob) pair of a
// HasSecurity-form SecurityDeclaration.
type SecurityAttribute struct {
	TypeName       string
	PropertySetRaw []byte
}

// CustomAttribute is attached to any of the 22 parent kinds the
// HasCustomAttribute coded index can name.
type CustomAttribute struct {
	Constructor MemberMethodRef
	Value       []byte
}
