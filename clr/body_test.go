// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import "testing"

func TestDefaultInstructionDecoderFixedWidth(t *testing.T) {
	// nop (0x00), ldarg.0 (0x02), ldc.i4.s 5 (0x1f 0x05), ret (0x2a).
	il := []byte{0x00, 0x02, 0x1f, 0x05, 0x2a}
	instrs, err := (defaultInstructionDecoder{}).Decode(il)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	want := []Instruction{
		{Offset: 0, Length: 1, Opcode: 0x00},
		{Offset: 1, Length: 1, Opcode: 0x02},
		{Offset: 2, Length: 2, Opcode: 0x1f},
		{Offset: 4, Length: 1, Opcode: 0x2a},
	}
	if len(instrs) != len(want) {
		t.Fatalf("Decode produced %d instructions, want %d: %+v", len(instrs), len(want), instrs)
	}
	for i := range want {
		if instrs[i] != want[i] {
			t.Errorf("instr[%d] = %+v, want %+v", i, instrs[i], want[i])
		}
	}
}

func TestDefaultInstructionDecoderTwoByte(t *testing.T) {
	// 0xFE 0x09 is the long-form ldarg, taking a 2-byte index operand.
	il := []byte{0xfe, 0x09, 0x01, 0x00}
	instrs, err := (defaultInstructionDecoder{}).Decode(il)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(instrs) != 1 {
		t.Fatalf("Decode produced %d instructions, want 1: %+v", len(instrs), instrs)
	}
	if instrs[0].Opcode != 0xfe09 || instrs[0].Length != 4 {
		t.Errorf("instr = %+v, want {Opcode: 0xfe09, Length: 4}", instrs[0])
	}
}

func TestDefaultInstructionDecoderSwitch(t *testing.T) {
	// switch (0x45) with N=2 targets, each a 4-byte displacement.
	il := []byte{
		0x45,
		0x02, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
	}
	instrs, err := (defaultInstructionDecoder{}).Decode(il)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(instrs) != 1 {
		t.Fatalf("Decode produced %d instructions, want 1: %+v", len(instrs), instrs)
	}
	if instrs[0].Length != uint32(len(il)) {
		t.Errorf("switch instruction length = %d, want %d", instrs[0].Length, len(il))
	}
}

func TestDefaultInstructionDecoderTruncated(t *testing.T) {
	tests := []struct {
		name string
		il   []byte
	}{
		{"truncated 4-byte operand", []byte{0x20, 0x01, 0x02}},       // ldc.i4 needs 4 bytes
		{"truncated two-byte prefix", []byte{0xfe}},                  // no second opcode byte
		{"truncated switch count", []byte{0x45, 0x01, 0x00}},         // switch needs 4-byte count
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := (defaultInstructionDecoder{}).Decode(tt.il); err == nil {
				t.Error("Decode: want error for truncated input")
			}
		})
	}
}

func TestDecodeTwoByteOperandSize(t *testing.T) {
	tests := []struct {
		second byte
		want   int
	}{
		{0x09, 2}, // ldarg
		{0x0a, 2}, // ldarga
		{0x0b, 2}, // starg
		{0x12, 1}, // unaligned.
		{0x15, 4}, // initobj
		{0x16, 4}, // constrained.
		{0x1c, 4}, // sizeof
		{0x00, 0}, // arglist, no operand
	}
	for _, tt := range tests {
		if got := decodeTwoByteOperandSize(tt.second); got != tt.want {
			t.Errorf("decodeTwoByteOperandSize(%#x) = %d, want %d", tt.second, got, tt.want)
		}
	}
}
