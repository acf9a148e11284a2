// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"

	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/description"
	"github.com/nilkamal/driverlite/internal/driver/writeconcern"
)

// BulkWriteResult aggregates the per-batch tallies of a bulk write
// (spec.md §7 "BulkWriteResult"), accumulated across every batch that
// was attempted before either running out of batches or, for an
// ordered bulk, hitting the first batch with a write error.
type BulkWriteResult struct {
	InsertedCount int64
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
	UpsertedCount int64
	UpsertedIDs   map[int64]bsoncore.Value
}

func (r *BulkWriteResult) merge(other BulkWriteResult, indexOffset int64) {
	r.InsertedCount += other.InsertedCount
	r.MatchedCount += other.MatchedCount
	r.ModifiedCount += other.ModifiedCount
	r.DeletedCount += other.DeletedCount
	r.UpsertedCount += other.UpsertedCount
	for idx, v := range other.UpsertedIDs {
		if r.UpsertedIDs == nil {
			r.UpsertedIDs = make(map[int64]bsoncore.Value)
		}
		r.UpsertedIDs[idx+indexOffset] = v
	}
}

// BatchCommandBuilder builds one batch's command document from the
// items of batch not yet consumed, taking at most maxCount items and
// maxSize bytes of them. It returns the command plus how many items
// from the batch it actually consumed, mirroring
// Batches.AppendBatchArray's contract.
type BatchCommandBuilder func(batch *Batches, maxCount, maxSize int) (cmd bsoncore.Document, consumed int, err error)

// RunBulkWrite drives one bulk write's batches through the C6
// retryable-write executor, one batch at a time (spec.md §4.7). Each
// batch is itself a RetryableWriteOperation: the executor's two-attempt
// semantics apply per batch, not to the bulk write as a whole, so a
// batch that exhausts its retries still lets earlier batches' results
// stand for an unordered bulk.
func RunBulkWrite(
	ctx context.Context,
	binding WriteBinding,
	retryRequested bool,
	batches *Batches,
	maxBatchCount, maxBatchSize int,
	wc *writeconcern.WriteConcern,
	build BatchCommandBuilder,
	executeBatch func(ctx context.Context, ch Channel, cmd bsoncore.Document) (bsoncore.Document, *BulkWriteResult, []WriteError, *WriteConcernError, error),
) (BulkWriteResult, error) {
	var result BulkWriteResult
	var indexOffset int64
	var unorderedErr BulkWriteError
	ordered := batches.IsOrdered() == nil || *batches.IsOrdered()

	for batches.Size() > 0 {
		cmd, consumed, err := build(batches, maxBatchCount, maxBatchSize)
		if err != nil {
			return result, err
		}
		if consumed == 0 {
			break
		}
		cmd = PrepareCommand(cmd, binding.Session())

		op := &bulkBatchOperation{
			cmd:         cmd,
			wc:          wc,
			run:         executeBatch,
			requestKind: requestKindFromIdentifier(batches.Identifier),
		}
		_, err = ExecuteRetryableWrite(ctx, binding, retryRequested, op, nil)

		batches.AdvanceBatches(consumed)
		indexOffset += int64(consumed)

		if op.batchResult != nil {
			result.merge(*op.batchResult, indexOffset-int64(consumed))
		}

		if len(op.writeErrors) > 0 || op.writeConcernError != nil {
			bwErr := BulkWriteError{
				WriteErrors:       op.writeErrors,
				WriteConcernError: op.writeConcernError,
				PartialResult:     result,
			}
			if ordered {
				return result, bwErr
			}
			unorderedErr.WriteErrors = append(unorderedErr.WriteErrors, op.writeErrors...)
			if op.writeConcernError != nil {
				unorderedErr.WriteConcernError = op.writeConcernError
			}
			if err == nil {
				err = bwErr
			}
		}

		if err != nil && !isBulkContinuable(err, ordered) {
			return result, err
		}
	}

	if len(unorderedErr.WriteErrors) > 0 || unorderedErr.WriteConcernError != nil {
		unorderedErr.PartialResult = result
		return result, unorderedErr
	}
	return result, nil
}

// isBulkContinuable reports whether a batch-level error should stop
// the whole bulk write (ordered semantics, or a non-write-error
// failure) or just be folded into the aggregated result.
func isBulkContinuable(err error, ordered bool) bool {
	if ordered {
		return false
	}
	switch err.(type) {
	case BulkWriteError:
		return true
	default:
		return false
	}
}

// bulkBatchOperation adapts one batch's command into the C6
// RetryableWriteOperation contract.
type bulkBatchOperation struct {
	cmd         bsoncore.Document
	wc          *writeconcern.WriteConcern
	run         func(ctx context.Context, ch Channel, cmd bsoncore.Document) (bsoncore.Document, *BulkWriteResult, []WriteError, *WriteConcernError, error)
	requestKind string // "insert", "update", or "delete"

	batchResult       *BulkWriteResult
	writeErrors       []WriteError
	writeConcernError *WriteConcernError
}

func (b *bulkBatchOperation) ExecuteAttempt(ctx context.Context, rwCtx *RetryableWriteContext, attempt int, txnNumber *int64) (bsoncore.Document, error) {
	if err := checkHintedRequestsSupported(b.requestKind, b.cmd, rwCtx.Channel().Description()); err != nil {
		return nil, err
	}

	cmd := b.cmd
	if txnNumber != nil {
		cmd = appendTxnNumber(cmd, *txnNumber)
	}

	reply, result, writeErrors, wcErr, err := b.run(ctx, rwCtx.Channel(), cmd)
	b.batchResult = result
	b.writeErrors = writeErrors
	b.writeConcernError = wcErr
	return reply, err
}

func (b *bulkBatchOperation) WriteConcern() *writeconcern.WriteConcern { return b.wc }

// requestKindFromIdentifier maps a Batches.Identifier ("documents",
// "updates", "deletes") to the request kind the hint-gating table
// keys on.
func requestKindFromIdentifier(identifier string) string {
	switch identifier {
	case "updates":
		return "update"
	case "deletes":
		return "delete"
	default:
		return "insert"
	}
}

// commandHasHintedRequest reports whether any item of cmd's
// arrayField array carries a `hint` (spec.md §4.7).
func commandHasHintedRequest(cmd bsoncore.Document, arrayField string) bool {
	arrVal, ok := cmd.Lookup(arrayField)
	if !ok {
		return false
	}
	elems, err := arrVal.AsDocument().Elements()
	if err != nil {
		return false
	}
	for _, el := range elems {
		if requestHasHint(el.Value.AsDocument()) {
			return true
		}
	}
	return false
}

// checkHintedRequestsSupported raises a ConfigurationError before a
// batch containing a hinted update or delete is sent to a server
// whose wire version is below the minimum that supports hint on that
// request type (SPEC_FULL.md §6.5).
func checkHintedRequestsSupported(requestKind string, cmd bsoncore.Document, desc description.Server) error {
	minVersion, ok := minWireVersionForHintedRequest[requestKind]
	if !ok {
		return nil
	}
	arrayField := requestKind + "s"
	if !commandHasHintedRequest(cmd, arrayField) {
		return nil
	}
	if desc.WireVersion == nil || desc.WireVersion.Max < minVersion {
		return ConfigurationError{Message: "hint is not supported on " + requestKind + " for servers below wire version " + itoa(int(minVersion))}
	}
	return nil
}

// appendTxnNumber rebuilds cmd with a txnNumber field spliced in
// before the closing NUL, used when the executor assigns a
// transaction number for a retryable batch.
func appendTxnNumber(cmd bsoncore.Document, txnNumber int64) bsoncore.Document {
	if len(cmd) < 5 {
		return cmd
	}
	body := cmd[:len(cmd)-1]
	body = bsoncore.AppendInt64Element(body, "txnNumber", txnNumber)
	body = append(body, 0x00)
	bsoncore.UpdateLength(body, 0, int32(len(body)))
	return bsoncore.Document(body)
}
