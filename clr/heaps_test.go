// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import "testing"

func TestStringsAt(t *testing.T) {
	data := []byte{0x00, 'F', 'o', 'o', 0x00, 'B', 'a', 'r', 0x00}
	s := Strings{data: data}

	tests := []struct {
		in      uint32
		want    string
		wantErr bool
	}{
		{1, "Foo", false},
		{5, "Bar", false},
		{9, "", true}, // one past end, no terminator reachable
	}

	for _, tt := range tests {
		got, err := s.At(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("At(%#x): want error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("At(%#x) failed: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("At(%#x) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStringsOptional(t *testing.T) {
	data := []byte{0x00, 'A', 0x00}
	s := Strings{data: data}

	str, ok, err := s.Optional(0)
	if err != nil || ok || str != "" {
		t.Errorf("Optional(0) = (%q, %v, %v), want (\"\", false, nil)", str, ok, err)
	}

	str, ok, err = s.Optional(1)
	if err != nil || !ok || str != "A" {
		t.Errorf("Optional(1) = (%q, %v, %v), want (\"A\", true, nil)", str, ok, err)
	}
}

func TestBlobAt(t *testing.T) {
	// index 0 -> null; index 1 -> a 3-byte blob {0xAA, 0xBB, 0xCC}.
	data := []byte{0x00, 0x03, 0xAA, 0xBB, 0xCC}
	b := Blob{data: data}

	got, err := b.At(0)
	if err != nil || got != nil {
		t.Errorf("At(0) = (%v, %v), want (nil, nil)", got, err)
	}

	got, err = b.At(1)
	if err != nil {
		t.Fatalf("At(1) failed: %v", err)
	}
	want := []byte{0xAA, 0xBB, 0xCC}
	if len(got) != len(want) {
		t.Fatalf("At(1) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("At(1)[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}

	if _, err := b.At(1000); err == nil {
		t.Error("At(1000): want error for out-of-range index")
	}
}

func TestGUIDHeapAt(t *testing.T) {
	var raw [32]byte
	for i := range raw {
		raw[i] = byte(i)
	}
	g := GUIDHeap{data: raw[:]}

	zero, err := g.At(0)
	if err != nil || zero != ([16]byte{}) {
		t.Errorf("At(0) = (%v, %v), want (zero guid, nil)", zero, err)
	}

	got, err := g.At(2)
	if err != nil {
		t.Fatalf("At(2) failed: %v", err)
	}
	var want [16]byte
	copy(want[:], raw[16:32])
	if got != want {
		t.Errorf("At(2) = %v, want %v", got, want)
	}

	if _, err := g.At(100); err == nil {
		t.Error("At(100): want error for out-of-range index")
	}
}

func TestUserStringsAt(t *testing.T) {
	// index 0 -> empty string without error.
	u := UserStrings{data: []byte{0x00}}
	got, err := u.At(0)
	if err != nil || got != "" {
		t.Errorf("At(0) = (%q, %v), want (\"\", nil)", got, err)
	}
}

func TestNewHeapsMissingStreamsAreEmpty(t *testing.T) {
	h := newHeaps(map[string][]byte{"#Strings": {0x00, 'X', 0x00}})
	if h.Blob.data != nil {
		t.Errorf("missing #Blob stream should be nil, got %v", h.Blob.data)
	}
	s, err := h.Strings.At(1)
	if err != nil || s != "X" {
		t.Errorf("Strings.At(1) = (%q, %v), want (\"X\", nil)", s, err)
	}
}
