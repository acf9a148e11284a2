// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"strings"
	"time"

	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/description"
	"github.com/nilkamal/driverlite/internal/driver/session"
)

// CursorBatch is one page of results off the wire: a cursor id (zero
// once the server has exhausted the cursor) plus the documents of
// this batch (spec.md §3 "CursorBatch / Cursor").
type CursorBatch struct {
	CursorID  int64
	Documents []bsoncore.Document
}

// CursorResponse is the decoded shape of a command reply's `cursor`
// sub-document: `{id, ns, firstBatch}` (spec.md §4.6).
type CursorResponse struct {
	Batch    CursorBatch
	Database string
	Collection string
}

// NewCursorResponse decodes reply's top-level `cursor` document and,
// if present, advances sess's cluster-time bookkeeping from a
// top-level `atClusterTime` (spec.md §4.6 "propagate into the
// session").
func NewCursorResponse(reply bsoncore.Document, sess *session.Client) (CursorResponse, error) {
	cursorVal, ok := reply.Lookup("cursor")
	if !ok {
		return CursorResponse{}, ConfigurationError{Message: "cursor: reply has no cursor field"}
	}
	cursorDoc := cursorVal.AsDocument()

	var resp CursorResponse
	if idVal, ok := cursorDoc.Lookup("id"); ok {
		resp.Batch.CursorID = idVal.Int64()
	}
	if nsVal, ok := cursorDoc.Lookup("ns"); ok {
		resp.Database, resp.Collection = splitNamespace(nsVal.StringValue())
	}
	if batchVal, ok := cursorDoc.Lookup("firstBatch"); ok {
		elems, err := batchVal.AsDocument().Elements()
		if err == nil {
			for _, el := range elems {
				resp.Batch.Documents = append(resp.Batch.Documents, el.Value.AsDocument())
			}
		}
	}

	if tsVal, ok := reply.Lookup("atClusterTime"); ok && sess != nil && sess.Clock != nil {
		t, i := tsVal.Timestamp()
		sess.Clock.AdvanceClusterTime(session.Timestamp{T: t, I: i})
	}

	return resp, nil
}

func splitNamespace(ns string) (db, coll string) {
	idx := strings.IndexByte(ns, '.')
	if idx < 0 {
		return ns, ""
	}
	return ns[:idx], ns[idx+1:]
}

// BatchCursor is the stateful handle over a server-side cursor
// (spec.md §3 "Cursor"). It holds the current batch in memory and
// issues getMore against a channel source that may be pinned to a
// single channel (spec.md §4.6 "channel-pinning policy").
type BatchCursor struct {
	ns           string
	batchSize    int32
	limit        int64
	singleBatch  bool
	maxAwaitTime *time.Duration

	session *session.Client

	cs ChannelSource
	ch Channel // non-nil only when pinned

	current CursorBatch
	fetched int64
}

// NewBatchCursor materializes a cursor from a command's decoded
// CursorResponse. cs is the channel source that served the originating
// command and ch the channel it ran on. The cursor keeps ch when the
// pinning predicate holds (load-balanced topology, or a nonzero cursor
// id on a non-load-balanced server still pins defensively since the
// server may expect getMore on the same connection for unsharded
// deployments) and otherwise closes a non-nil ch immediately.
func NewBatchCursor(resp CursorResponse, cs ChannelSource, ch Channel, desc description.Server, batchSize int32, limit int64, sess *session.Client) *BatchCursor {
	bc := &BatchCursor{
		ns:          resp.Database + "." + resp.Collection,
		batchSize:   batchSize,
		session:     sess,
		cs:          cs,
		current:     resp.Batch,
		fetched:     int64(len(resp.Batch.Documents)),
	}
	if limit < 0 {
		bc.limit = -limit
		bc.singleBatch = true
	} else {
		bc.limit = limit
	}
	if cursorPinned(desc, resp.Batch.CursorID) {
		bc.ch = ch
	} else if ch != nil {
		// The originating command's channel isn't needed for getMore on
		// this deployment; release it back to its pool rather than
		// holding a caller-leased channel the cursor will never use.
		ch.Close()
	}
	return bc
}

// cursorPinned implements spec.md §4.6's pinning predicate: a
// load-balanced topology always pins; otherwise a nonzero cursor id
// pins so getMore reaches the server that opened it.
func cursorPinned(desc description.Server, cursorID int64) bool {
	return desc.Kind == description.LoadBalanced || cursorID != 0
}

// ID returns the current cursor id; zero means exhausted.
func (c *BatchCursor) ID() int64 { return c.current.CursorID }

// Batch returns the documents of the current, already-fetched batch.
func (c *BatchCursor) Batch() []bsoncore.Document { return c.current.Documents }

// Next issues a getMore for the next batch if the cursor is not yet
// exhausted, limit-satisfied, or single-batch. It returns false once
// there is nothing further to fetch.
func (c *BatchCursor) Next(ctx context.Context) (bool, error) {
	if c.current.CursorID == 0 {
		return false, nil
	}
	if c.singleBatch {
		return false, nil
	}
	if c.limit > 0 && c.fetched >= c.limit {
		return false, nil
	}

	ch := c.ch
	if ch == nil {
		var err error
		ch, err = c.cs.Channel(ctx)
		if err != nil {
			return false, err
		}
		defer ch.Close()
	}

	cmd := buildGetMore(c.current.CursorID, c.ns, c.batchSize, c.maxAwaitTime)
	if err := ch.WriteCommand(ctx, cmd); err != nil {
		return false, err
	}
	reply, err := ch.ReadReply(ctx)
	if err != nil {
		return false, err
	}

	resp, err := NewCursorResponse(reply, c.session)
	if err != nil {
		return false, err
	}
	c.current = resp.Batch
	c.fetched += int64(len(resp.Batch.Documents))
	return len(resp.Batch.Documents) > 0 || c.current.CursorID != 0, nil
}

// Close releases the cursor's server-side resources by letting the
// pinned channel (if any) and channel source go; a full killCursors
// round trip is an external collaborator this core does not issue
// directly (spec.md §1 transport is out of scope).
func (c *BatchCursor) Close() error {
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	if c.cs != nil {
		err := c.cs.Close()
		c.cs = nil
		return err
	}
	return nil
}

func buildGetMore(cursorID int64, ns string, batchSize int32, maxAwaitTime *time.Duration) bsoncore.Document {
	db, coll := splitNamespace(ns)
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt64Element(dst, "getMore", cursorID)
	dst = bsoncore.AppendStringElement(dst, "collection", coll)
	if batchSize > 0 {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", batchSize)
	}
	if maxAwaitTime != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", int64(*maxAwaitTime/time.Millisecond))
	}
	dst = bsoncore.AppendStringElement(dst, "$db", db)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return bsoncore.Document(dst)
}
