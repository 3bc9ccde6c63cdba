// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import "testing"

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "context free",
			err:  otherError("bad offset %#x", 0x10),
			want: "bad offset 0x10",
		},
		{
			name: "table rooted",
			err:  tableError("TypeDef", 3, "", "bad Extends coded index"),
			want: "TypeDef[3]: bad Extends coded index",
		},
		{
			name: "table rooted with parent",
			err:  tableError("MethodDef", 1, "TypeDef[2]", "truncated method body"),
			want: "MethodDef[1]: truncated method body (in TypeDef[2])",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindCLI, "cli"},
		{KindOther, "other"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
