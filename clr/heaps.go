// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import (
	pe "github.com/saferwall/clrmeta"
)

// Strings is the #Strings heap: UTF-8 bytes, NUL-terminated, index 0 null.
type Strings struct{ data []byte }

// At returns the string starting at i, up to (not including) the first NUL.
func (s Strings) At(i uint32) (string, error) {
	str, _, ok := nulTerminated(s.data, i)
	if !ok {
		return "", otherError("bad heap index %#x into #Strings", i)
	}
	return str, nil
}

// Optional returns ("", false, nil) for the null index 0 without error.
func (s Strings) Optional(i uint32) (string, bool, error) {
	if i == 0 {
		return "", false, nil
	}
	str, err := s.At(i)
	if err != nil {
		return "", false, err
	}
	return str, true, nil
}

func nulTerminated(data []byte, off uint32) (string, uint32, bool) {
	if int(off) > len(data) {
		return "", 0, false
	}
	end := off
	for int(end) < len(data) && data[end] != 0 {
		end++
	}
	if int(end) >= len(data) {
		return "", 0, false
	}
	return string(data[off:end]), end + 1, true
}

// UserStrings is the #US heap: length-prefixed UTF-16 records with a
// trailing single-byte terminator (ECMA-335 II.24.2.4) that is not part of
// the string itself.
type UserStrings struct{ data []byte }

// At decodes the user string at index i.
func (u UserStrings) At(i uint32) (string, error) {
	if i == 0 {
		return "", nil
	}
	n, read, err := decodeCompressedUint(u.data, int(i))
	if err != nil {
		return "", otherError("bad heap index %#x into #US: %v", i, err)
	}
	start := int(i) + read
	if n == 0 {
		return "", nil
	}
	end := start + int(n)
	if end > len(u.data) || end < start {
		return "", otherError("bad heap index %#x into #US: out of range", i)
	}
	// Last byte is the ECMA-335 terminator, not UTF-16 payload.
	body := u.data[start:end]
	if len(body) > 0 {
		body = body[:len(body)-1]
	}
	return pe.DecodeUTF16String(body)
}

// Blob is the #Blob heap: a compressed-integer length prefix followed by
// that many raw bytes (ECMA-335 II.23.2).
type Blob struct{ data []byte }

// At returns the raw bytes of the blob record at index i.
func (b Blob) At(i uint32) ([]byte, error) {
	if i == 0 {
		return nil, nil
	}
	n, read, err := decodeCompressedUint(b.data, int(i))
	if err != nil {
		return nil, otherError("bad heap index %#x into #Blob: %v", i, err)
	}
	start := int(i) + read
	end := start + int(n)
	if end > len(b.data) || end < start {
		return nil, otherError("bad heap index %#x into #Blob: out of range", i)
	}
	return b.data[start:end], nil
}

// GUIDHeap is the #GUID heap: 16-byte records, 1-based index. Index 0 is
// null.
type GUIDHeap struct{ data []byte }

// At returns the 16-byte GUID record at (i-1)*16.
func (g GUIDHeap) At(i uint32) ([16]byte, error) {
	var guid [16]byte
	if i == 0 {
		return guid, nil
	}
	off := int(i-1) * 16
	if off+16 > len(g.data) {
		return guid, otherError("bad heap index %#x into #GUID", i)
	}
	copy(guid[:], g.data[off:off+16])
	return guid, nil
}

// Heaps bundles the four heap views constructed in resolver pass 1.
type Heaps struct {
	Strings     Strings
	UserStrings UserStrings
	Blob        Blob
	GUID        GUIDHeap
}

// newHeaps builds the four heap views from the metadata root's stream
// slices. Missing optional streams (anything but #~/#Strings, which the PE
// layer already treats as fatal) are tolerated as empty.
func newHeaps(streams map[string][]byte) Heaps {
	return Heaps{
		Strings:     Strings{data: streams["#Strings"]},
		UserStrings: UserStrings{data: streams["#US"]},
		Blob:        Blob{data: streams["#Blob"]},
		GUID:        GUIDHeap{data: streams["#GUID"]},
	}
}
