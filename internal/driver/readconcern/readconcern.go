// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readconcern defines read concerns for driver operations,
// grounded on the teacher's mongo/readconcern package.
package readconcern

import "github.com/nilkamal/driverlite/internal/bsoncore"

// ReadConcern controls the consistency and isolation properties of
// data read from a deployment.
type ReadConcern struct {
	Level         string
	AtClusterTime bool // snapshot reads set atClusterTime once the session has a value
}

// Local requests data with no durability guarantee.
func Local() *ReadConcern { return &ReadConcern{Level: "local"} }

// Majority requests majority-acknowledged data.
func Majority() *ReadConcern { return &ReadConcern{Level: "majority"} }

// Linearizable requests linearizable data.
func Linearizable() *ReadConcern { return &ReadConcern{Level: "linearizable"} }

// Available requests data with no majority-write guarantee.
func Available() *ReadConcern { return &ReadConcern{Level: "available"} }

// Snapshot requests a read at a single point in time across shards.
func Snapshot() *ReadConcern { return &ReadConcern{Level: "snapshot", AtClusterTime: true} }

// AppendElement appends this read concern as a "readConcern"
// sub-document, optionally including atClusterTime when non-zero.
// Per spec.md §4.3, the field is suppressed entirely when rc is nil
// (the effective-value helper upstream decides that case, e.g. a
// default read concern against a standalone).
func AppendElement(dst []byte, rc *ReadConcern, atClusterTime []byte) []byte {
	if rc == nil {
		return dst
	}

	idx, doc := bsoncore.AppendDocumentStart(nil)
	if rc.Level != "" {
		doc = bsoncore.AppendStringElement(doc, "level", rc.Level)
	}
	if rc.AtClusterTime && len(atClusterTime) > 0 {
		doc = bsoncore.AppendDocumentElement(doc, "atClusterTime", bsoncore.Document(atClusterTime))
	}
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)

	return bsoncore.AppendDocumentElement(dst, "readConcern", bsoncore.Document(doc))
}
