// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import (
	"testing"

	pe "github.com/saferwall/clrmeta"
)

func TestDecodeCoded(t *testing.T) {
	tests := []struct {
		name    string
		raw     uint32
		set     codedIndexSet
		want    codedRef
		wantErr bool
	}{
		{
			name: "TypeDefOrRef tag 0 row 5",
			raw:  5<<2 | 0,
			set:  csTypeDefOrRef,
			want: codedRef{Table: pe.TypeDef, Row: 5},
		},
		{
			name: "TypeDefOrRef tag 1 row 7",
			raw:  7<<2 | 1,
			set:  csTypeDefOrRef,
			want: codedRef{Table: pe.TypeRef, Row: 7},
		},
		{
			name: "TypeDefOrRef tag 2 row 1",
			raw:  1<<2 | 2,
			set:  csTypeDefOrRef,
			want: codedRef{Table: pe.TypeSpec, Row: 1},
		},
		{
			name:    "TypeDefOrRef bad tag",
			raw:     3, // tag 3 doesn't exist in a 3-table, 2-bit set
			set:     csTypeDefOrRef,
			wantErr: true,
		},
		{
			name: "null row decodes with Null set",
			raw:  0<<2 | 0,
			set:  csTypeDefOrRef,
			want: codedRef{Table: pe.TypeDef, Row: 0, Null: true},
		},
		{
			name: "MethodDefOrRef tag 1",
			raw:  4<<1 | 1,
			set:  csMethodDefOrRef,
			want: codedRef{Table: pe.MemberRef, Row: 4},
		},
		{
			name:    "CustomAttributeType unused tag",
			raw:     0, // tag 0 -> tables[0] == -1
			set:     csCustomAttributeType,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeCoded(tt.raw, tt.set)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("decodeCoded(%#x) = %v, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeCoded(%#x) failed: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("decodeCoded(%#x) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDecodeCustomAttributeType(t *testing.T) {
	tests := []struct {
		name string
		raw  uint32
		want MemberMethodRef
	}{
		{
			name: "MethodDef constructor",
			raw:  9<<3 | 2,
			want: MemberMethodRef{Kind: RefMethodDef, MethodDefRow: 9},
		},
		{
			name: "MemberRef constructor",
			raw:  9<<3 | 3,
			want: MemberMethodRef{Kind: RefMemberRef, MethodRefIndex: 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeCustomAttributeType(tt.raw)
			if err != nil {
				t.Fatalf("decodeCustomAttributeType(%#x) failed: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("decodeCustomAttributeType(%#x) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}
