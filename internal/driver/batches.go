// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"io"

	"github.com/nilkamal/driverlite/internal/bsoncore"
)

// Batches holds the write documents (insert/update/delete items) for
// one bulk write, split into wire-sized groups on demand (spec.md
// §4.7 "batching"), grounded on the teacher's batches.go.
type Batches struct {
	Identifier string // "documents", "updates", or "deletes"
	Documents  []bsoncore.Document
	Ordered    *bool

	offset int
}

// AppendBatchArray appends as many remaining documents as fit within
// maxCount and totalSize to dst as a BSON array named b.Identifier. It
// returns the number of documents appended. io.EOF signals no
// documents remain.
func (b *Batches) AppendBatchArray(dst []byte, maxCount, totalSize int) (int, []byte, error) {
	if b.Size() == 0 {
		return 0, dst, io.EOF
	}
	l := len(dst)
	aidx, dst := bsoncore.AppendArrayElementStart(dst, b.Identifier)
	var size, n int
	for i := b.offset; i < len(b.Documents); i++ {
		if n == maxCount {
			break
		}
		doc := b.Documents[i]
		size += len(doc)
		if size > totalSize {
			break
		}
		dst = bsoncore.AppendDocumentElement(dst, itoa(n), doc)
		n++
	}
	if n == 0 {
		return 0, dst[:l], nil
	}
	dst, err := bsoncore.AppendArrayEnd(dst, aidx)
	if err != nil {
		return 0, nil, err
	}
	return n, dst, nil
}

// IsOrdered reports the ordered/unordered setting for this batch set.
func (b *Batches) IsOrdered() *bool { return b.Ordered }

// AdvanceBatches advances past the n documents most recently appended.
func (b *Batches) AdvanceBatches(n int) {
	b.offset += n
	if b.offset > len(b.Documents) {
		b.offset = len(b.Documents)
	}
}

// Size reports how many documents remain unbatched.
func (b *Batches) Size() int {
	if b.offset > len(b.Documents) {
		return 0
	}
	return len(b.Documents) - b.offset
}

// minWireVersionForHintedRequest is the per-request-type minimum
// server wire version that must support a `hint` field on an update
// or delete (spec.md §4.7, SPEC_FULL.md §6.5 "Hinted-request minimum
// wire version check"). Inserts carry no hint field and so have no
// entry here.
var minWireVersionForHintedRequest = map[string]int32{
	"update": 5,
	"delete": 9,
}

// requestHasHint reports whether an already-built update or delete
// item document (one element of an `updates`/`deletes` array) carries
// a `hint` field, per spec.md §4.7's "request-type-specific predicate"
// for collecting hinted requests.
func requestHasHint(doc bsoncore.Document) bool {
	_, ok := doc.Lookup("hint")
	return ok
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	n := i
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}
