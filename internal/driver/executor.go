// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"

	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/description"
	"github.com/nilkamal/driverlite/internal/driver/session"
	"github.com/nilkamal/driverlite/internal/driver/writeconcern"
	"github.com/nilkamal/driverlite/internal/logging"
)

// RetryableWriteOperation is the contract C6 drives (spec.md §4.5):
// any operation that can be expressed as "run this attempt against
// this context, with this attempt number and this transaction
// number" is retryable by the executor without the executor knowing
// anything else about it. Grounded on the teacher's polymorphism note
// in spec.md §9: dispatch happens on this capability, never on a
// concrete operation type.
type RetryableWriteOperation interface {
	// ExecuteAttempt runs one attempt of the operation against ctx's
	// currently-bound channel, using txnNumber (nil on the
	// single-attempt, non-retryable path).
	ExecuteAttempt(ctx context.Context, rwCtx *RetryableWriteContext, attempt int, txnNumber *int64) (bsoncore.Document, error)

	// WriteConcern returns the operation's write concern (nil means
	// "server default", which is acknowledged).
	WriteConcern() *writeconcern.WriteConcern
}

// supportsRetryableWrites implements spec.md §4.5 precondition 3:
// LoadBalanced servers always qualify; otherwise a non-standalone
// server that has advertised a logical session timeout qualifies.
func supportsRetryableWrites(desc description.Server) bool {
	if desc.Kind == description.LoadBalanced {
		return true
	}
	return desc.SessionTimeoutMinutes != nil && desc.Kind != description.Standalone
}

// retryPreconditionsMet checks all five preconditions of spec.md
// §4.5 that must hold to enter the two-attempt path.
func retryPreconditionsMet(
	retryRequested bool,
	wc *writeconcern.WriteConcern,
	currentServer description.Server,
	sess *session.Client,
) bool {
	if !retryRequested {
		return false
	}
	if !wc.Acknowledged() {
		return false
	}
	if !supportsRetryableWrites(currentServer) {
		return false
	}
	if sess == nil {
		return false
	}
	if sess.InTransaction() {
		return false
	}
	return true
}

// ExecuteRetryableWrite is the C6 two-attempt state machine:
// Attempt1 -> Classify1 -> Reselect -> CheckCap -> Attempt2 ->
// Classify2 -> Done (spec.md §4.5). It never issues more than two
// attempts (spec.md §8 property 2) and, when it does retry, both
// attempts observe the identical transaction number (property 1).
func ExecuteRetryableWrite(
	ctx context.Context,
	binding WriteBinding,
	retryRequested bool,
	op RetryableWriteOperation,
	log *logging.Logger,
) (bsoncore.Document, error) {
	rwCtx, err := NewRetryableWriteContext(ctx, binding, retryRequested)
	if err != nil {
		return nil, err
	}
	defer rwCtx.Dispose()

	sess := binding.Session()

	if !retryPreconditionsMet(retryRequested, op.WriteConcern(), rwCtx.Channel().Description(), sess) {
		// Execute exactly once; no transaction number is assigned.
		return op.ExecuteAttempt(ctx, rwCtx, 1, nil)
	}

	// Attempt1: assign the transaction number once, before the first
	// attempt begins (spec.md §5 ordering guarantee).
	txnNumber := sess.AdvanceTransactionNumber()

	res, err := op.ExecuteAttempt(ctx, rwCtx, 1, &txnNumber)
	if err == nil {
		return res, nil
	}

	// Classify1.
	if !isRetryableWriteError(err) {
		return nil, err
	}
	originalErr := err
	log.Debugf("retryable write error on attempt 1, retrying: %v", originalErr)

	// Reselect. Deprioritize the server that just failed if this
	// deployment is sharded (SPEC_FULL.md §7.5).
	var deprioritized []description.Server
	if rwCtx.ChannelSource() != nil {
		failedServer := rwCtx.Channel().Description()
		if topologyIsSharded(binding) {
			deprioritized = []description.Server{failedServer}
		}
	}

	select {
	case <-ctx.Done():
		return nil, CancelledError{Wrapped: ctx.Err()}
	default:
	}

	if err := rwCtx.Reselect(ctx, deprioritized); err != nil {
		return nil, originalErr
	}

	// CheckCap.
	if !supportsRetryableWrites(rwCtx.Channel().Description()) {
		return nil, originalErr
	}

	select {
	case <-ctx.Done():
		// A cancellation raised between classification and dispatch
		// supersedes the original error (spec.md §5 "Cancellation").
		return nil, CancelledError{Wrapped: ctx.Err()}
	default:
	}

	// Attempt2, reusing the SAME transaction number.
	res2, err2 := op.ExecuteAttempt(ctx, rwCtx, 2, &txnNumber)
	if err2 == nil {
		return res2, nil
	}

	// Classify2 / Done.
	if shouldSurfaceOriginalError(err2) {
		return nil, originalErr
	}
	return nil, err2
}

// RetryableReadOperation is the read-side counterpart of
// RetryableWriteOperation (spec.md §3 "RetryableReadContext"): any
// operation expressible as "run this attempt against this context" is
// retryable by the executor without it knowing anything else about
// the operation. Unlike a write, a retryable read carries no
// transaction number, so there is no txnNumber parameter here.
type RetryableReadOperation interface {
	ExecuteAttempt(ctx context.Context, rCtx *RetryableReadContext, attempt int) (bsoncore.Document, error)
}

// ExecuteRetryableRead runs op through at most two attempts
// (spec.md §4.1 "isRetryableReadError"), reselecting a server before
// the second attempt on a retryable error. It deliberately does not
// dispose the *RetryableReadContext on a successful attempt: C7 (the
// cursor materializer) needs the ChannelSource and, when pinned, the
// Channel that served the winning attempt for its later getMores, so
// ownership passes to the caller. The caller must Dispose the
// returned context once it has handed off (or decided not to need)
// that ChannelSource/Channel. On any error this function has already
// disposed the context itself, and returns a nil one.
func ExecuteRetryableRead(
	ctx context.Context,
	binding ReadBinding,
	retryRequested bool,
	op RetryableReadOperation,
	log *logging.Logger,
) (*RetryableReadContext, bsoncore.Document, error) {
	rCtx, err := NewRetryableReadContext(ctx, binding, retryRequested)
	if err != nil {
		return nil, nil, err
	}

	res, err := op.ExecuteAttempt(ctx, rCtx, 1)
	if err == nil {
		return rCtx, res, nil
	}

	if !retryRequested || !isRetryableReadError(err) {
		rCtx.Dispose()
		return nil, nil, err
	}
	originalErr := err
	log.Debugf("retryable read error on attempt 1, retrying: %v", originalErr)

	select {
	case <-ctx.Done():
		rCtx.Dispose()
		return nil, nil, CancelledError{Wrapped: ctx.Err()}
	default:
	}

	if err := rCtx.Reselect(ctx, nil); err != nil {
		rCtx.Dispose()
		return nil, nil, originalErr
	}

	select {
	case <-ctx.Done():
		rCtx.Dispose()
		return nil, nil, CancelledError{Wrapped: ctx.Err()}
	default:
	}

	res2, err2 := op.ExecuteAttempt(ctx, rCtx, 2)
	if err2 == nil {
		return rCtx, res2, nil
	}

	rCtx.Dispose()
	if shouldSurfaceOriginalError(err2) {
		return nil, nil, originalErr
	}
	return nil, nil, err2
}

// topologyIsSharded is a narrow seam onto the Deployment the binding
// wraps, used only to decide whether a failed server should be
// deprioritized on retry (SPEC_FULL.md §7.5). It degrades to "not
// sharded" for bindings that don't expose a Deployment.
func topologyIsSharded(binding WriteBinding) bool {
	type kindProvider interface{ DeploymentKind() description.TopologyKind }
	if kp, ok := binding.(kindProvider); ok {
		return kp.DeploymentKind() == description.TopologyKindSharded
	}
	return false
}
