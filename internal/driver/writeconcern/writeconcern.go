// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package writeconcern describes the level of acknowledgement
// requested from the server for write operations, grounded on the
// teacher's mongo/writeconcern package.
package writeconcern

import (
	"errors"
	"time"

	"github.com/nilkamal/driverlite/internal/bsoncore"
)

// ErrInconsistent indicates that a write concern was built with both
// w=0 and j=true, which the server rejects.
var ErrInconsistent = errors.New("a write concern cannot have both w=0 and j=true")

// ErrNegativeW indicates that a negative integer w value was given.
var ErrNegativeW = errors.New("write concern `w` field cannot be a negative number")

// ErrEmpty indicates that a write concern has no fields set.
var ErrEmpty = errors.New("a write concern must have at least one field set")

// WriteConcern describes the level of acknowledgement requested from
// the server for a write operation.
type WriteConcern struct {
	w        interface{} // nil, int, or string ("majority" or a tag set name)
	j        *bool
	wTimeout time.Duration
}

// Option configures a WriteConcern.
type Option func(*WriteConcern)

// New constructs a WriteConcern from the given options.
func New(opts ...Option) *WriteConcern {
	concern := &WriteConcern{}
	for _, opt := range opts {
		opt(concern)
	}
	return concern
}

// W requests acknowledgement that the write propagated to n members.
func W(n int) Option {
	return func(wc *WriteConcern) { wc.w = n }
}

// WMajority requests acknowledgement from the majority of members.
func WMajority() Option {
	return func(wc *WriteConcern) { wc.w = "majority" }
}

// WTagSet requests acknowledgement from members matching tag.
func WTagSet(tag string) Option {
	return func(wc *WriteConcern) { wc.w = tag }
}

// J requests acknowledgement that the write was written to the
// on-disk journal.
func J(j bool) Option {
	return func(wc *WriteConcern) { wc.j = &j }
}

// WTimeout sets a time limit for the write concern.
func WTimeout(d time.Duration) Option {
	return func(wc *WriteConcern) { wc.wTimeout = d }
}

// Unacknowledged is the {w: 0} write concern.
func Unacknowledged() *WriteConcern { return New(W(0)) }

// Majority is the {w: "majority"} write concern.
func Majority() *WriteConcern { return New(WMajority()) }

// Acknowledged reports whether a write with this concern will be
// acknowledged by the server. A nil WriteConcern means "server
// default", which is always acknowledged.
func (wc *WriteConcern) Acknowledged() bool {
	if wc == nil {
		return true
	}
	if wc.j != nil && *wc.j {
		return true
	}
	if n, ok := wc.w.(int); ok && n == 0 {
		return false
	}
	return true
}

// Validate checks that the write concern is internally consistent.
func (wc *WriteConcern) Validate() error {
	if wc == nil {
		return nil
	}
	if n, ok := wc.w.(int); ok && n < 0 {
		return ErrNegativeW
	}
	if wc.j != nil && *wc.j {
		if n, ok := wc.w.(int); ok && n == 0 {
			return ErrInconsistent
		}
	}
	if wc.w == nil && wc.j == nil && wc.wTimeout == 0 {
		return ErrEmpty
	}
	return nil
}

// AppendElement appends this write concern as a "writeConcern"
// sub-document element onto dst, or returns dst unchanged if wc has
// no fields set (the server-default case).
func AppendElement(dst []byte, wc *WriteConcern) ([]byte, error) {
	if wc == nil {
		return dst, nil
	}
	if err := wc.Validate(); err != nil && err != ErrEmpty {
		return dst, err
	}

	idx, doc := bsoncore.AppendDocumentStart(nil)
	switch v := wc.w.(type) {
	case int:
		doc = bsoncore.AppendInt32Element(doc, "w", int32(v))
	case string:
		doc = bsoncore.AppendStringElement(doc, "w", v)
	}
	if wc.j != nil {
		doc = bsoncore.AppendBooleanElement(doc, "j", *wc.j)
	}
	if wc.wTimeout != 0 {
		doc = bsoncore.AppendInt64Element(doc, "wtimeout", wc.wTimeout.Milliseconds())
	}
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)

	if len(doc) <= 5 { // empty document: nothing was actually set
		return dst, nil
	}

	return bsoncore.AppendDocumentElement(dst, "writeConcern", bsoncore.Document(doc)), nil
}
