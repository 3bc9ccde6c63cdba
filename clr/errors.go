// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clr

import "fmt"

// Kind classifies an Error by where it originated.
type Kind int

// Error kinds.
const (
	// KindCLI covers short reads, bad tags, and malformed rows discovered
	// while decoding the #~ tables or the heap streams.
	KindCLI Kind = iota
	// KindOther covers the small set of static, context-free failures
	// (bad object type, missing CLI directory, bad stream offset).
	KindOther
)

func (k Kind) String() string {
	if k == KindOther {
		return "other"
	}
	return "cli"
}

// Error is the resolver's single tagged error type. Table/Row/Parent are
// populated whenever the failing row is known, so Display always locates
// the offending record without extra tooling.
type Error struct {
	Kind    Kind
	Table   string
	Row     int
	Parent  string
	Message string
}

func (e *Error) Error() string {
	if e.Table == "" {
		return e.Message
	}
	if e.Parent != "" {
		return fmt.Sprintf("%s[%d]: %s (in %s)", e.Table, e.Row, e.Message, e.Parent)
	}
	return fmt.Sprintf("%s[%d]: %s", e.Table, e.Row, e.Message)
}

// tableError builds a KindCLI error rooted at a specific table row.
func tableError(table string, row int, parent, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindCLI,
		Table:   table,
		Row:     row,
		Parent:  parent,
		Message: fmt.Sprintf(format, args...),
	}
}

// otherError builds a context-free KindOther error.
func otherError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindOther, Message: fmt.Sprintf(format, args...)}
}
