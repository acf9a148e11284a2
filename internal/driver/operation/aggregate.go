// Copyright (C) MongoDB, Inc. 2019-present.
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
	"github.com/nilkamal/driverlite/internal/driver/readconcern"
	"github.com/nilkamal/driverlite/internal/driver/session"
	"github.com/nilkamal/driverlite/internal/driver/writeconcern"
	"github.com/nilkamal/driverlite/internal/logging"
)

// AggregateToCollection represents an aggregate pipeline whose last
// stage writes into a collection (spec.md §2, §4.6). Construction
// fails with a ConfigurationError if the pipeline does not end in an
// output stage, grounded on spec.md §4.6 "a pipeline with no output
// stage is a configuration error raised at construction time".
type AggregateToCollection struct {
	Database   string
	Collection string // empty for a database-scoped aggregate

	Pipeline                 bsoncore.Document // a BSON array of stage documents
	AllowDiskUse             *bool
	BypassDocumentValidation *bool
	MaxTime                  *time.Duration
	Collation                bsoncore.Document
	Hint                     bsoncore.Value
	Let                      bsoncore.Document
	Comment                  *string
	ReadConcern              *readconcern.ReadConcern
	WriteConcern             *writeconcern.WriteConcern

	// Session, when non-nil, contributes "lsid" and "$clusterTime" to
	// the built command (spec.md §3, SPEC_FULL.md §4.2 item 3).
	Session *session.Client
}

// NewAggregateToCollection validates that pipeline ends in $out or
// $merge and, per spec.md §8 property 7 ($out simplification), rewrites
// a same-database {$out: {db: database, coll: C}} stage to the
// shorthand {$out: "C"}. Pipelines targeting a different database, or
// already using the string/`$merge` forms, pass through unchanged.
func NewAggregateToCollection(database, collection string, pipeline bsoncore.Document) (*AggregateToCollection, error) {
	rewritten, err := rewriteOutStage(database, pipeline)
	if err != nil {
		return nil, err
	}
	return &AggregateToCollection{Database: database, Collection: collection, Pipeline: rewritten}, nil
}

func rewriteOutStage(database string, pipeline bsoncore.Document) (bsoncore.Document, error) {
	stages, err := stageDocuments(pipeline)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, driver.ConfigurationError{Message: "aggregate: pipeline must end in an output stage ($out or $merge)"}
	}

	last := stages[len(stages)-1]
	elems, err := last.Elements()
	if err != nil || len(elems) != 1 {
		return nil, driver.ConfigurationError{Message: "aggregate: pipeline must end in an output stage ($out or $merge)"}
	}
	stageName, stageValue := elems[0].Key, elems[0].Value

	switch stageName {
	case "$merge":
		return pipeline, nil
	case "$out":
		if stageValue.Type != bsoncore.TypeEmbeddedDocument {
			// Already the shorthand string form.
			return pipeline, nil
		}
		outDoc := stageValue.AsDocument()
		dbVal, hasDB := outDoc.Lookup("db")
		collVal, hasColl := outDoc.Lookup("coll")
		if !hasDB || !hasColl {
			return pipeline, nil
		}
		if dbVal.StringValue() != database {
			return pipeline, nil
		}
		return replaceLastStage(stages, bsoncore.BuildDocument(nil,
			appendOutShorthand(nil, collVal.StringValue()),
		)), nil
	default:
		return nil, driver.ConfigurationError{Message: "aggregate: pipeline must end in an output stage ($out or $merge), found " + stageName}
	}
}

func appendOutShorthand(dst []byte, collection string) []byte {
	return bsoncore.AppendStringElement(dst, "$out", collection)
}

// stageDocuments decodes pipeline (a BSON array) into its constituent
// stage documents.
func stageDocuments(pipeline bsoncore.Document) ([]bsoncore.Document, error) {
	if pipeline == nil {
		return nil, nil
	}
	elems, err := pipeline.Elements()
	if err != nil {
		return nil, err
	}
	stages := make([]bsoncore.Document, 0, len(elems))
	for _, el := range elems {
		stages = append(stages, el.Value.AsDocument())
	}
	return stages, nil
}

// replaceLastStage rebuilds the pipeline array with its last element
// replaced by replacement.
func replaceLastStage(stages []bsoncore.Document, replacement bsoncore.Document) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	for i, s := range stages {
		if i == len(stages)-1 {
			dst = bsoncore.AppendDocumentElement(dst, itoa(i), replacement)
			continue
		}
		dst = bsoncore.AppendDocumentElement(dst, itoa(i), s)
	}
	dst, _ = bsoncore.AppendArrayEnd(dst, idx)
	return bsoncore.Document(dst)
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

// Command builds the wire command document (spec.md §6 "wire command
// shape (aggregate)"). cursor is always present, even when empty, for
// a cursored aggregate; an aggregate with an output stage still opens
// a cursor over its (typically empty) result batch.
func (a *AggregateToCollection) Command() (bsoncore.Document, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)

	if a.Collection != "" {
		dst = bsoncore.AppendStringElement(dst, "aggregate", a.Collection)
	} else {
		dst = bsoncore.AppendInt32Element(dst, "aggregate", 1)
	}

	dst = bsoncore.AppendArrayElement(dst, "pipeline", a.Pipeline)

	if a.AllowDiskUse != nil {
		dst = bsoncore.AppendBooleanElement(dst, "allowDiskUse", *a.AllowDiskUse)
	}
	if a.BypassDocumentValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *a.BypassDocumentValidation)
	}
	if a.MaxTime != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", int64(*a.MaxTime/time.Millisecond))
	}
	if a.Collation != nil {
		dst = bsoncore.AppendDocumentElement(dst, "collation", a.Collation)
	}
	dst = readconcern.AppendElement(dst, a.ReadConcern, nil)

	var err error
	dst, err = writeconcern.AppendElement(dst, a.WriteConcern)
	if err != nil {
		return nil, err
	}

	cursorIdx, cursorDoc := bsoncore.AppendDocumentStart(nil)
	cursorDoc, _ = bsoncore.AppendDocumentEnd(cursorDoc, cursorIdx)
	dst = bsoncore.AppendDocumentElement(dst, "cursor", cursorDoc)

	if a.Hint.Type != 0 {
		dst = bsoncore.AppendValueElement(dst, "hint", a.Hint)
	}
	if a.Let != nil {
		dst = bsoncore.AppendDocumentElement(dst, "let", a.Let)
	}
	if a.Comment != nil {
		dst = bsoncore.AppendStringElement(dst, "comment", *a.Comment)
	}

	dst, err = bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		return nil, err
	}
	return driver.PrepareCommand(bsoncore.Document(dst), a.Session), nil
}

// aggregateRetryableOperation adapts an AggregateToCollection into the
// C6 RetryableWriteOperation contract, mirroring bulk_write.go's
// bulkBatchOperation adapter. A plain method can't implement
// WriteConcern() directly on *AggregateToCollection since that type
// already exports a WriteConcern field of the same name; wrapping it
// is the idiom this module already uses for that exact collision.
type aggregateRetryableOperation struct {
	agg *AggregateToCollection
}

func (a *aggregateRetryableOperation) ExecuteAttempt(ctx context.Context, rwCtx *driver.RetryableWriteContext, attempt int, txnNumber *int64) (bsoncore.Document, error) {
	cmd, err := a.agg.Command()
	if err != nil {
		return nil, err
	}
	ch := rwCtx.Channel()
	if err := ch.WriteCommand(ctx, cmd); err != nil {
		return nil, err
	}
	return ch.ReadReply(ctx)
}

func (a *aggregateRetryableOperation) WriteConcern() *writeconcern.WriteConcern { return a.agg.WriteConcern }

// RunAggregateToCollection drives agg through the C6 retryable-write
// executor (spec.md §2's component table, §4.5), rebuilding the
// command fresh on each attempt since a retry may land on a different
// server. Aggregate's wire shape carries no txnNumber field
// (SPEC_FULL.md §6 "wire command shape (aggregate)"), so txnNumber is
// ignored here; PrepareCommand's lsid/$clusterTime splice already ran
// inside Command().
func RunAggregateToCollection(ctx context.Context, binding driver.WriteBinding, retryRequested bool, agg *AggregateToCollection, log *logging.Logger) (bsoncore.Document, error) {
	op := &aggregateRetryableOperation{agg: agg}
	return driver.ExecuteRetryableWrite(ctx, binding, retryRequested, op, log)
}
