// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"time"

	driver "github.com/nilkamal/driverlite/internal/driver"
	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/description"
	"github.com/nilkamal/driverlite/internal/driver/readconcern"
	"github.com/nilkamal/driverlite/internal/driver/session"
	"github.com/nilkamal/driverlite/internal/logging"
)

// legacyModifierFields maps a legacy $-prefixed "modifiers" key to the
// command field it shadows, grounded on spec.md §4.3's exhaustive
// table. Any modifiers key outside this map is a ConfigurationError
// naming the offending key.
var legacyModifierFields = map[string]string{
	"$comment":    "comment",
	"$hint":       "hint",
	"$max":        "max",
	"$maxScan":    "maxScan",
	"$maxTimeMS":  "maxTime",
	"$min":        "min",
	"$orderby":    "sort",
	"$returnKey":  "returnKey",
	"$showDiskLoc": "showRecordId",
	"$snapshot":   "snapshot",
}

// Find represents a find operation (spec.md §2/§4.3).
type Find struct {
	Filter     bsoncore.Document
	Sort       bsoncore.Document
	Projection bsoncore.Document
	Hint       bsoncore.Value
	Skip       *int64
	Limit      *int64
	BatchSize  *int32
	SingleBatch *bool
	Comment    *string
	MaxScan    *int64
	MaxTime    *time.Duration
	Max        bsoncore.Document
	Min        bsoncore.Document
	ReturnKey  *bool
	ShowRecordID *bool
	Snapshot   *bool
	Tailable   *bool
	OplogReplay *bool
	NoCursorTimeout *bool
	AwaitData  *bool
	AllowDiskUse *bool
	AllowPartialResults *bool
	Collation  bsoncore.Document
	ReadConcern *readconcern.ReadConcern
	Let        bsoncore.Document

	// Modifiers is the legacy options document some callers still pass
	// instead of the typed fields above (spec.md §4.3 "effective-value
	// precedence"). It is never itself on the wire; each of its keys is
	// translated into the field it shadows, unless that field was
	// already set explicitly, in which case the explicit value wins.
	Modifiers bsoncore.Document

	Collection string

	// Session, when non-nil, contributes "lsid" and "$clusterTime" to
	// the built command (spec.md §3, SPEC_FULL.md §4.2 item 3).
	Session *session.Client
}

// Command builds the wire command document for this find, gated by
// desc (the connected server, needed for the allowPartialResults
// predicate). Field order matches spec.md §6's "wire command shape
// (find)" list exactly.
func (f *Find) Command(desc description.Server) (bsoncore.Document, error) {
	eff, err := f.effectiveValues()
	if err != nil {
		return nil, err
	}

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "find", f.Collection)

	if f.Filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", f.Filter)
	}
	if eff.sort != nil {
		dst = bsoncore.AppendDocumentElement(dst, "sort", eff.sort)
	}
	if f.Projection != nil {
		dst = bsoncore.AppendDocumentElement(dst, "projection", f.Projection)
	}
	if eff.hint.Type != 0 {
		dst = bsoncore.AppendValueElement(dst, "hint", eff.hint)
	}
	if f.Skip != nil {
		dst = bsoncore.AppendInt64Element(dst, "skip", *f.Skip)
	}
	if f.Limit != nil && *f.Limit != 0 {
		limit := *f.Limit
		if limit < 0 {
			limit = -limit
		}
		dst = bsoncore.AppendInt64Element(dst, "limit", limit)
	}
	if f.BatchSize != nil {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", *f.BatchSize)
	}
	if singleBatch, ok := eff.singleBatch(); ok {
		dst = bsoncore.AppendBooleanElement(dst, "singleBatch", singleBatch)
	}
	if eff.comment != nil {
		dst = bsoncore.AppendStringElement(dst, "comment", *eff.comment)
	}
	if eff.maxScan != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxScan", *eff.maxScan)
	}
	if eff.maxTime != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", int64(*eff.maxTime/time.Millisecond))
	}
	if eff.max != nil {
		dst = bsoncore.AppendDocumentElement(dst, "max", eff.max)
	}
	if eff.min != nil {
		dst = bsoncore.AppendDocumentElement(dst, "min", eff.min)
	}
	if eff.returnKey != nil {
		dst = bsoncore.AppendBooleanElement(dst, "returnKey", *eff.returnKey)
	}
	if eff.showRecordID != nil {
		dst = bsoncore.AppendBooleanElement(dst, "showRecordId", *eff.showRecordID)
	}
	if eff.snapshot != nil {
		dst = bsoncore.AppendBooleanElement(dst, "snapshot", *eff.snapshot)
	}
	if f.Tailable != nil {
		dst = bsoncore.AppendBooleanElement(dst, "tailable", *f.Tailable)
	}
	if f.OplogReplay != nil {
		dst = bsoncore.AppendBooleanElement(dst, "oplogReplay", *f.OplogReplay)
	}
	if f.NoCursorTimeout != nil {
		dst = bsoncore.AppendBooleanElement(dst, "noCursorTimeout", *f.NoCursorTimeout)
	}
	if f.AwaitData != nil {
		dst = bsoncore.AppendBooleanElement(dst, "awaitData", *f.AwaitData)
	}
	if f.AllowDiskUse != nil {
		dst = bsoncore.AppendBooleanElement(dst, "allowDiskUse", *f.AllowDiskUse)
	}
	// allowPartialResults is gated: only a shard router honors it, so
	// it's only worth sending there (spec.md §4.3 "conditional field
	// inclusion").
	if f.AllowPartialResults != nil && desc.Kind == description.Mongos {
		dst = bsoncore.AppendBooleanElement(dst, "allowPartialResults", *f.AllowPartialResults)
	}
	if f.Collation != nil {
		dst = bsoncore.AppendDocumentElement(dst, "collation", f.Collation)
	}
	dst = readconcern.AppendElement(dst, f.ReadConcern, nil)
	if f.Let != nil {
		dst = bsoncore.AppendDocumentElement(dst, "let", f.Let)
	}

	dst, err = bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		return nil, err
	}
	return driver.PrepareCommand(bsoncore.Document(dst), f.Session), nil
}

// effectiveFields holds, for each modifiers-shadowable field, the
// value to actually emit: the explicit option if set, else the
// legacy-modifiers translation if present, else unset.
type effectiveFields struct {
	sort         bsoncore.Document
	hint         bsoncore.Value
	comment      *string
	maxScan      *int64
	maxTime      *time.Duration
	max          bsoncore.Document
	min          bsoncore.Document
	returnKey    *bool
	showRecordID *bool
	snapshot     *bool

	limitForSingleBatch int64
	singleBatchExplicit *bool
}

func (e *effectiveFields) singleBatch() (bool, bool) {
	if e.singleBatchExplicit != nil {
		return *e.singleBatchExplicit, true
	}
	if e.limitForSingleBatch < 0 {
		return true, true
	}
	return false, false
}

// effectiveValues applies spec.md §4.3's effective-value precedence:
// every field set explicitly on f shadows the same semantic carried
// in f.Modifiers; any key in Modifiers outside the exhaustive legacy
// table is a ConfigurationError naming the offending key.
func (f *Find) effectiveValues() (*effectiveFields, error) {
	eff := &effectiveFields{
		sort:                f.Sort,
		hint:                f.Hint,
		comment:             f.Comment,
		maxScan:             f.MaxScan,
		maxTime:             f.MaxTime,
		max:                 f.Max,
		min:                 f.Min,
		returnKey:           f.ReturnKey,
		showRecordID:        f.ShowRecordID,
		snapshot:            f.Snapshot,
		singleBatchExplicit: f.SingleBatch,
	}
	if f.Limit != nil {
		eff.limitForSingleBatch = *f.Limit
	}

	if f.Modifiers == nil {
		return eff, nil
	}

	elems, err := f.Modifiers.Elements()
	if err != nil {
		return nil, driver.ConfigurationError{Message: "find: malformed modifiers document: " + err.Error()}
	}

	for _, el := range elems {
		target, known := legacyModifierFields[el.Key]
		if !known {
			return nil, driver.ConfigurationError{Message: "find: unknown legacy modifier key " + el.Key}
		}

		switch target {
		case "sort":
			if eff.sort == nil {
				eff.sort = el.Value.AsDocument()
			}
		case "hint":
			if eff.hint.IsZero() {
				eff.hint = el.Value
			}
		case "comment":
			if eff.comment == nil {
				s := el.Value.StringValue()
				eff.comment = &s
			}
		case "maxScan":
			if eff.maxScan == nil {
				v := int64(el.Value.Double())
				eff.maxScan = &v
			}
		case "maxTime":
			if eff.maxTime == nil {
				ms := time.Duration(el.Value.Double()) * time.Millisecond
				eff.maxTime = &ms
			}
		case "max":
			if eff.max == nil {
				eff.max = el.Value.AsDocument()
			}
		case "min":
			if eff.min == nil {
				eff.min = el.Value.AsDocument()
			}
		case "returnKey":
			if eff.returnKey == nil {
				v := el.Value.Boolean()
				eff.returnKey = &v
			}
		case "showRecordId":
			if eff.showRecordID == nil {
				v := el.Value.Boolean()
				eff.showRecordID = &v
			}
		case "snapshot":
			if eff.snapshot == nil {
				v := el.Value.Boolean()
				eff.snapshot = &v
			}
		}
	}

	return eff, nil
}

// findRetryableOperation adapts a Find into the C6 read-side
// RetryableReadOperation contract (executor.go), grounded on the
// teacher's operation.Find.Execute: the command is rebuilt fresh on
// every attempt since a retry may select a different server and
// allowPartialResults is gated on that server's Kind.
type findRetryableOperation struct {
	find *Find
}

func (f *findRetryableOperation) ExecuteAttempt(ctx context.Context, rCtx *driver.RetryableReadContext, attempt int) (bsoncore.Document, error) {
	ch := rCtx.Channel()
	cmd, err := f.find.Command(ch.Description())
	if err != nil {
		return nil, err
	}
	if err := ch.WriteCommand(ctx, cmd); err != nil {
		return nil, err
	}
	return ch.ReadReply(ctx)
}

// RunFind binds find's query to binding, round-trips its command
// through the C6 retryable-read executor, and materializes the reply
// into a cursor (spec.md §2's C7 "Cursor Materializer" fed by C5's
// Find output via C4's read binding). Per executor.go's
// ExecuteRetryableRead contract, ownership of the winning attempt's
// ChannelSource/Channel passes from the executor to the returned
// BatchCursor; RunFind only disposes the read context on a failure
// that never reaches cursor construction.
func RunFind(ctx context.Context, binding driver.ReadBinding, retryRequested bool, find *Find, batchSize int32, limit int64, log *logging.Logger) (*driver.BatchCursor, error) {
	op := &findRetryableOperation{find: find}

	rCtx, reply, err := driver.ExecuteRetryableRead(ctx, binding, retryRequested, op, log)
	if err != nil {
		return nil, err
	}

	resp, err := driver.NewCursorResponse(reply, find.Session)
	if err != nil {
		rCtx.Dispose()
		return nil, err
	}

	desc := rCtx.Channel().Description()
	cursor := driver.NewBatchCursor(resp, rCtx.ChannelSource(), rCtx.Channel(), desc, batchSize, limit, find.Session)
	return cursor, nil
}
