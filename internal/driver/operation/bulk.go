// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"io"

	"github.com/nilkamal/driverlite/internal/bsoncore"
	driver "github.com/nilkamal/driverlite/internal/driver"
	"github.com/nilkamal/driverlite/internal/driver/session"
	"github.com/nilkamal/driverlite/internal/driver/writeconcern"
)

// BulkInsert represents the insert-command half of a bulk write
// (spec.md §3 "BulkInsert", §4.7), grounded on the teacher's
// core/command/insert.go Encode method.
type BulkInsert struct {
	Database   string
	Collection string
	Documents  []bsoncore.Document

	Ordered                  *bool
	BypassDocumentValidation *bool
	Comment                  *string
	Let                      bsoncore.Document

	WriteConcern *writeconcern.WriteConcern
	Session      *session.Client
}

// Batches returns the generic batching state for this insert's
// documents, spliced by driver.RunBulkWrite.
func (bi *BulkInsert) Batches() *driver.Batches {
	return &driver.Batches{Identifier: "documents", Documents: bi.Documents, Ordered: bi.Ordered}
}

// Build implements driver.BatchCommandBuilder: it drains as many
// remaining documents as fit within maxCount/maxSize from batch into
// a real `insert` command document (SPEC_FULL.md §6.5 "Bulk command
// builder").
func (bi *BulkInsert) Build(batch *driver.Batches, maxCount, maxSize int) (bsoncore.Document, int, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "insert", bi.Collection)

	n, dst, err := batch.AppendBatchArray(dst, maxCount, maxSize)
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, nil
	}

	if bi.Ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *bi.Ordered)
	}
	if bi.BypassDocumentValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *bi.BypassDocumentValidation)
	}
	if bi.Comment != nil {
		dst = bsoncore.AppendStringElement(dst, "comment", *bi.Comment)
	}
	if bi.Let != nil {
		dst = bsoncore.AppendDocumentElement(dst, "let", bi.Let)
	}
	dst = bsoncore.AppendStringElement(dst, "$db", bi.Database)

	dst, err = bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		return nil, 0, err
	}
	return driver.PrepareCommand(bsoncore.Document(dst), bi.Session), n, nil
}

// BulkUpdate represents the update-command half of a bulk write.
// Documents holds the already-built `{q, u, multi, upsert, ...}`
// update items, each possibly carrying a `hint` field (spec.md §4.7).
type BulkUpdate struct {
	Database   string
	Collection string
	Documents  []bsoncore.Document

	Ordered                  *bool
	BypassDocumentValidation *bool
	Comment                  *string
	Let                      bsoncore.Document

	WriteConcern *writeconcern.WriteConcern
	Session      *session.Client
}

func (bu *BulkUpdate) Batches() *driver.Batches {
	return &driver.Batches{Identifier: "updates", Documents: bu.Documents, Ordered: bu.Ordered}
}

func (bu *BulkUpdate) Build(batch *driver.Batches, maxCount, maxSize int) (bsoncore.Document, int, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "update", bu.Collection)

	n, dst, err := batch.AppendBatchArray(dst, maxCount, maxSize)
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, nil
	}

	if bu.Ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *bu.Ordered)
	}
	if bu.BypassDocumentValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *bu.BypassDocumentValidation)
	}
	if bu.Comment != nil {
		dst = bsoncore.AppendStringElement(dst, "comment", *bu.Comment)
	}
	if bu.Let != nil {
		dst = bsoncore.AppendDocumentElement(dst, "let", bu.Let)
	}
	dst = bsoncore.AppendStringElement(dst, "$db", bu.Database)

	dst, err = bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		return nil, 0, err
	}
	return driver.PrepareCommand(bsoncore.Document(dst), bu.Session), n, nil
}

// BulkDelete represents the delete-command half of a bulk write.
// Documents holds the already-built `{q, limit, ...}` delete items,
// each possibly carrying a `hint` field (spec.md §4.7).
type BulkDelete struct {
	Database   string
	Collection string
	Documents  []bsoncore.Document

	Ordered *bool
	Comment *string
	Let     bsoncore.Document

	WriteConcern *writeconcern.WriteConcern
	Session      *session.Client
}

func (bd *BulkDelete) Batches() *driver.Batches {
	return &driver.Batches{Identifier: "deletes", Documents: bd.Documents, Ordered: bd.Ordered}
}

func (bd *BulkDelete) Build(batch *driver.Batches, maxCount, maxSize int) (bsoncore.Document, int, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "delete", bd.Collection)

	n, dst, err := batch.AppendBatchArray(dst, maxCount, maxSize)
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, nil
	}

	if bd.Ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *bd.Ordered)
	}
	if bd.Comment != nil {
		dst = bsoncore.AppendStringElement(dst, "comment", *bd.Comment)
	}
	if bd.Let != nil {
		dst = bsoncore.AppendDocumentElement(dst, "let", bd.Let)
	}
	dst = bsoncore.AppendStringElement(dst, "$db", bd.Database)

	dst, err = bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		return nil, 0, err
	}
	return driver.PrepareCommand(bsoncore.Document(dst), bd.Session), n, nil
}

// decodeWriteReply extracts n/nModified/upserted and any write or
// write-concern errors from a raw insert/update/delete command reply,
// grounded on the field names of the teacher's
// mongo/private/roots/result.Update/Insert/Delete types and on
// cursor.go's NewCursorResponse decoding style.
func decodeWriteReply(requestKind string, reply bsoncore.Document) (*driver.BulkWriteResult, []driver.WriteError, *driver.WriteConcernError) {
	result := &driver.BulkWriteResult{}

	if nVal, ok := reply.Lookup("n"); ok {
		n := int64(nVal.Int32())
		switch requestKind {
		case "insert":
			result.InsertedCount = n
		case "update":
			result.MatchedCount = n
		case "delete":
			result.DeletedCount = n
		}
	}

	if requestKind == "update" {
		if nModVal, ok := reply.Lookup("nModified"); ok {
			result.ModifiedCount = int64(nModVal.Int32())
		}
		if upsertedVal, ok := reply.Lookup("upserted"); ok {
			if elems, err := upsertedVal.AsDocument().Elements(); err == nil {
				for _, el := range elems {
					item := el.Value.AsDocument()
					idVal, hasID := item.Lookup("_id")
					if !hasID {
						continue
					}
					idxVal, _ := item.Lookup("index")
					if result.UpsertedIDs == nil {
						result.UpsertedIDs = make(map[int64]bsoncore.Value)
					}
					result.UpsertedIDs[int64(idxVal.Int32())] = idVal
					result.UpsertedCount++
				}
			}
		}
	}

	var writeErrors []driver.WriteError
	if weVal, ok := reply.Lookup("writeErrors"); ok {
		if elems, err := weVal.AsDocument().Elements(); err == nil {
			for _, el := range elems {
				item := el.Value.AsDocument()
				var we driver.WriteError
				if idxVal, ok := item.Lookup("index"); ok {
					we.Index = int64(idxVal.Int32())
				}
				if codeVal, ok := item.Lookup("code"); ok {
					we.Code = codeVal.Int32()
				}
				if msgVal, ok := item.Lookup("errmsg"); ok {
					we.Message = msgVal.StringValue()
				}
				writeErrors = append(writeErrors, we)
			}
		}
	}

	var wcErr *driver.WriteConcernError
	if wceVal, ok := reply.Lookup("writeConcernError"); ok {
		item := wceVal.AsDocument()
		wce := &driver.WriteConcernError{}
		if codeVal, ok := item.Lookup("code"); ok {
			wce.Code = codeVal.Int32()
		}
		if msgVal, ok := item.Lookup("errmsg"); ok {
			wce.Message = msgVal.StringValue()
		}
		if nameVal, ok := item.Lookup("codeName"); ok {
			wce.Name = nameVal.StringValue()
		}
		wcErr = wce
	}

	return result, writeErrors, wcErr
}

// executeBulkBatch round-trips one already-built batch command over
// ch and decodes its reply, matching the executeBatch contract of
// driver.RunBulkWrite.
func executeBulkBatch(requestKind string) func(ctx context.Context, ch driver.Channel, cmd bsoncore.Document) (bsoncore.Document, *driver.BulkWriteResult, []driver.WriteError, *driver.WriteConcernError, error) {
	return func(ctx context.Context, ch driver.Channel, cmd bsoncore.Document) (bsoncore.Document, *driver.BulkWriteResult, []driver.WriteError, *driver.WriteConcernError, error) {
		if err := ch.WriteCommand(ctx, cmd); err != nil {
			return nil, nil, nil, nil, err
		}
		reply, err := ch.ReadReply(ctx)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		result, writeErrors, wcErr := decodeWriteReply(requestKind, reply)
		return reply, result, writeErrors, wcErr, nil
	}
}

// RunBulkInsert drives a BulkInsert through driver.RunBulkWrite,
// splicing in the real command builder and reply decoder in place of
// a stub (SPEC_FULL.md §6.5).
func RunBulkInsert(ctx context.Context, binding driver.WriteBinding, retryRequested bool, maxBatchCount, maxBatchSize int, bi *BulkInsert) (driver.BulkWriteResult, error) {
	return driver.RunBulkWrite(ctx, binding, retryRequested, bi.Batches(), maxBatchCount, maxBatchSize, bi.WriteConcern, bi.Build, executeBulkBatch("insert"))
}

// RunBulkUpdate drives a BulkUpdate through driver.RunBulkWrite.
func RunBulkUpdate(ctx context.Context, binding driver.WriteBinding, retryRequested bool, maxBatchCount, maxBatchSize int, bu *BulkUpdate) (driver.BulkWriteResult, error) {
	return driver.RunBulkWrite(ctx, binding, retryRequested, bu.Batches(), maxBatchCount, maxBatchSize, bu.WriteConcern, bu.Build, executeBulkBatch("update"))
}

// RunBulkDelete drives a BulkDelete through driver.RunBulkWrite.
func RunBulkDelete(ctx context.Context, binding driver.WriteBinding, retryRequested bool, maxBatchCount, maxBatchSize int, bd *BulkDelete) (driver.BulkWriteResult, error) {
	return driver.RunBulkWrite(ctx, binding, retryRequested, bd.Batches(), maxBatchCount, maxBatchSize, bd.WriteConcern, bd.Build, executeBulkBatch("delete"))
}
