// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/description"
	"github.com/nilkamal/driverlite/internal/driver/session"
	"github.com/nilkamal/driverlite/internal/driver/writeconcern"
	"github.com/nilkamal/driverlite/internal/logging"
)

// fakeChannel and fakeChannelSource give the executor tests a minimal,
// in-memory stand-in for the transport this core leaves abstract
// (spec.md §1), grounded on the hand-written test-double idiom the
// teacher uses throughout its own topology tests rather than a mocking
// library.
type fakeChannel struct {
	desc   description.Server
	closed bool
}

func (c *fakeChannel) Description() description.Server { return c.desc }
func (c *fakeChannel) WriteCommand(ctx context.Context, cmd bsoncore.Document) error { return nil }
func (c *fakeChannel) ReadReply(ctx context.Context) (bsoncore.Document, error)      { return nil, nil }
func (c *fakeChannel) Close() error                                                  { c.closed = true; return nil }

type fakeChannelSource struct {
	desc      description.Server
	channel   *fakeChannel
	closed    bool
	channelErr error
}

func (s *fakeChannelSource) Channel(ctx context.Context) (Channel, error) {
	if s.channelErr != nil {
		return nil, s.channelErr
	}
	return s.channel, nil
}
func (s *fakeChannelSource) ServerDescription() description.Server { return s.desc }
func (s *fakeChannelSource) Close() error                          { s.closed = true; return nil }

type fakeBinding struct {
	sess     *session.Client
	sources  []*fakeChannelSource // consumed in order, one per GetWriteChannelSource call
	getErr   error
	kind     description.TopologyKind

	deprioritizedSeen [][]description.Server // one entry per GetWriteChannelSource call
}

func (b *fakeBinding) Session() *session.Client { return b.sess }
func (b *fakeBinding) DeploymentKind() description.TopologyKind { return b.kind }
func (b *fakeBinding) GetWriteChannelSource(ctx context.Context, deprioritized []description.Server) (ChannelSource, error) {
	b.deprioritizedSeen = append(b.deprioritizedSeen, deprioritized)
	if b.getErr != nil {
		return nil, b.getErr
	}
	if len(b.sources) == 0 {
		return nil, assertionError{"fakeBinding: no more sources queued"}
	}
	cs := b.sources[0]
	b.sources = b.sources[1:]
	return cs, nil
}

func (b *fakeBinding) GetReadChannelSource(ctx context.Context, deprioritized []description.Server) (ChannelSource, error) {
	return b.GetWriteChannelSource(ctx, deprioritized)
}

type assertionError struct{ msg string }

func (e assertionError) Error() string { return e.msg }

// recordingOp counts ExecuteAttempt calls and returns scripted results.
type recordingOp struct {
	wc      *writeconcern.WriteConcern
	results []opResult
	calls   []int // attempt numbers observed
	txnSeen []*int64
}

type opResult struct {
	doc bsoncore.Document
	err error
}

func (o *recordingOp) WriteConcern() *writeconcern.WriteConcern { return o.wc }

func (o *recordingOp) ExecuteAttempt(ctx context.Context, rwCtx *RetryableWriteContext, attempt int, txnNumber *int64) (bsoncore.Document, error) {
	o.calls = append(o.calls, attempt)
	o.txnSeen = append(o.txnSeen, txnNumber)
	idx := len(o.calls) - 1
	if idx >= len(o.results) {
		return nil, nil
	}
	return o.results[idx].doc, o.results[idx].err
}

func rsPrimaryDesc() description.Server {
	timeout := int64(30)
	return description.Server{Kind: description.RSPrimary, SessionTimeoutMinutes: &timeout}
}

func TestExecuteRetryableWriteSingleAttemptSucceeds(t *testing.T) {
	sess, err := session.NewClient(false, nil)
	require.NoError(t, err)

	ch := &fakeChannel{desc: rsPrimaryDesc()}
	cs := &fakeChannelSource{desc: ch.desc, channel: ch}
	binding := &fakeBinding{sess: sess, sources: []*fakeChannelSource{cs}, kind: description.TopologyKindReplicaSet}

	op := &recordingOp{wc: writeconcern.Majority(), results: []opResult{{doc: bsoncore.Document("ok")}}}

	res, err := ExecuteRetryableWrite(context.Background(), binding, true, op, logging.New(nil))
	require.NoError(t, err)
	assert.Equal(t, bsoncore.Document("ok"), res)
	assert.Equal(t, []int{1}, op.calls)
	require.Len(t, op.txnSeen, 1)
	assert.NotNil(t, op.txnSeen[0])
	assert.Equal(t, int64(1), *op.txnSeen[0])
}

func TestExecuteRetryableWriteRetriesOnRetryableErrorAndReusesTxnNumber(t *testing.T) {
	sess, err := session.NewClient(false, nil)
	require.NoError(t, err)

	desc := rsPrimaryDesc()
	cs1 := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	cs2 := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	binding := &fakeBinding{sess: sess, sources: []*fakeChannelSource{cs1, cs2}, kind: description.TopologyKindReplicaSet}

	op := &recordingOp{
		wc: writeconcern.Majority(),
		results: []opResult{
			{err: Error{Code: 91}}, // ShutdownInProgress: retryable
			{doc: bsoncore.Document("ok-on-retry")},
		},
	}

	res, err := ExecuteRetryableWrite(context.Background(), binding, true, op, logging.New(nil))
	require.NoError(t, err)
	assert.Equal(t, bsoncore.Document("ok-on-retry"), res)
	assert.Equal(t, []int{1, 2}, op.calls)
	require.Len(t, op.txnSeen, 2)
	require.NotNil(t, op.txnSeen[0])
	require.NotNil(t, op.txnSeen[1])
	assert.Equal(t, *op.txnSeen[0], *op.txnSeen[1], "both attempts must carry the identical transaction number")
}

func TestExecuteRetryableWriteNonRetryableErrorSurfacesImmediately(t *testing.T) {
	sess, err := session.NewClient(false, nil)
	require.NoError(t, err)

	desc := rsPrimaryDesc()
	cs := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	binding := &fakeBinding{sess: sess, sources: []*fakeChannelSource{cs}, kind: description.TopologyKindReplicaSet}

	wantErr := Error{Code: 999}
	op := &recordingOp{wc: writeconcern.Majority(), results: []opResult{{err: wantErr}}}

	_, err = ExecuteRetryableWrite(context.Background(), binding, true, op, logging.New(nil))
	assert.Equal(t, wantErr, err)
	assert.Equal(t, []int{1}, op.calls, "a non-retryable error must not trigger a second attempt")
}

func TestExecuteRetryableWriteSecondFailureSurfacesRetryErrorWhenConnectionLevel(t *testing.T) {
	sess, err := session.NewClient(false, nil)
	require.NoError(t, err)

	desc := rsPrimaryDesc()
	cs1 := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	cs2 := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	binding := &fakeBinding{sess: sess, sources: []*fakeChannelSource{cs1, cs2}, kind: description.TopologyKindReplicaSet}

	originalErr := Error{Code: 91}
	op := &recordingOp{
		wc: writeconcern.Majority(),
		results: []opResult{
			{err: originalErr},
			{err: ConnectionError{Address: "h:1"}},
		},
	}

	_, err = ExecuteRetryableWrite(context.Background(), binding, true, op, logging.New(nil))
	assert.Equal(t, ConnectionError{Address: "h:1"}, err, "a connection-level second failure must surface the second attempt's error")
}

func TestExecuteRetryableWriteDoesNotRetryWithoutSession(t *testing.T) {
	desc := rsPrimaryDesc()
	cs := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	binding := &fakeBinding{sess: nil, sources: []*fakeChannelSource{cs}, kind: description.TopologyKindReplicaSet}

	op := &recordingOp{
		wc:      writeconcern.Majority(),
		results: []opResult{{err: Error{Code: 91}}},
	}

	_, err := ExecuteRetryableWrite(context.Background(), binding, true, op, logging.New(nil))
	require.Error(t, err)
	assert.Equal(t, []int{1}, op.calls, "no session means no retry path, and no attempt carries a transaction number")
	require.Len(t, op.txnSeen, 1)
	assert.Nil(t, op.txnSeen[0])
}

func TestExecuteRetryableWriteDeprioritizesFailedServerOnShardedRetry(t *testing.T) {
	sess, err := session.NewClient(false, nil)
	require.NoError(t, err)

	desc1 := rsPrimaryDesc()
	desc1.Addr = "h1:27017"
	desc2 := rsPrimaryDesc()
	desc2.Addr = "h2:27017"
	cs1 := &fakeChannelSource{desc: desc1, channel: &fakeChannel{desc: desc1}}
	cs2 := &fakeChannelSource{desc: desc2, channel: &fakeChannel{desc: desc2}}
	binding := &fakeBinding{sess: sess, sources: []*fakeChannelSource{cs1, cs2}, kind: description.TopologyKindSharded}

	op := &recordingOp{
		wc: writeconcern.Majority(),
		results: []opResult{
			{err: Error{Code: 91}}, // ShutdownInProgress: retryable
			{doc: bsoncore.Document("ok-on-retry")},
		},
	}

	res, err := ExecuteRetryableWrite(context.Background(), binding, true, op, logging.New(nil))
	require.NoError(t, err)
	assert.Equal(t, bsoncore.Document("ok-on-retry"), res)

	require.Len(t, binding.deprioritizedSeen, 2, "one GetWriteChannelSource call per attempt")
	assert.Empty(t, binding.deprioritizedSeen[0], "the first attempt must not deprioritize anything yet")
	require.Len(t, binding.deprioritizedSeen[1], 1, "a sharded retry must deprioritize the server that just failed")
	assert.Equal(t, desc1, binding.deprioritizedSeen[1][0])
}

func TestExecuteRetryableWriteDoesNotDeprioritizeOnNonShardedRetry(t *testing.T) {
	sess, err := session.NewClient(false, nil)
	require.NoError(t, err)

	desc := rsPrimaryDesc()
	cs1 := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	cs2 := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	binding := &fakeBinding{sess: sess, sources: []*fakeChannelSource{cs1, cs2}, kind: description.TopologyKindReplicaSet}

	op := &recordingOp{
		wc: writeconcern.Majority(),
		results: []opResult{
			{err: Error{Code: 91}},
			{doc: bsoncore.Document("ok-on-retry")},
		},
	}

	_, err = ExecuteRetryableWrite(context.Background(), binding, true, op, logging.New(nil))
	require.NoError(t, err)

	require.Len(t, binding.deprioritizedSeen, 2)
	assert.Empty(t, binding.deprioritizedSeen[0])
	assert.Empty(t, binding.deprioritizedSeen[1], "a replica-set retry must not deprioritize any server")
}

func TestExecuteRetryableWriteUnacknowledgedWriteConcernSkipsRetryPath(t *testing.T) {
	sess, err := session.NewClient(false, nil)
	require.NoError(t, err)

	desc := rsPrimaryDesc()
	cs := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	binding := &fakeBinding{sess: sess, sources: []*fakeChannelSource{cs}, kind: description.TopologyKindReplicaSet}

	op := &recordingOp{wc: writeconcern.Unacknowledged(), results: []opResult{{doc: bsoncore.Document("ok")}}}

	_, err = ExecuteRetryableWrite(context.Background(), binding, true, op, logging.New(nil))
	require.NoError(t, err)
	assert.Nil(t, op.txnSeen[0])
}

// recordingReadOp mirrors recordingOp for the read-side contract.
type recordingReadOp struct {
	results []opResult
	calls   []int
}

func (o *recordingReadOp) ExecuteAttempt(ctx context.Context, rCtx *RetryableReadContext, attempt int) (bsoncore.Document, error) {
	o.calls = append(o.calls, attempt)
	idx := len(o.calls) - 1
	if idx >= len(o.results) {
		return nil, nil
	}
	return o.results[idx].doc, o.results[idx].err
}

func TestExecuteRetryableReadSingleAttemptSucceeds(t *testing.T) {
	desc := rsPrimaryDesc()
	cs := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	binding := &fakeBinding{sources: []*fakeChannelSource{cs}, kind: description.TopologyKindReplicaSet}

	op := &recordingReadOp{results: []opResult{{doc: bsoncore.Document("ok")}}}

	rCtx, res, err := ExecuteRetryableRead(context.Background(), binding, true, op, logging.New(nil))
	require.NoError(t, err)
	require.NotNil(t, rCtx, "a successful attempt must hand the live context back to the caller")
	assert.Equal(t, bsoncore.Document("ok"), res)
	assert.Equal(t, []int{1}, op.calls)
}

func TestExecuteRetryableReadRetriesOnRetryableError(t *testing.T) {
	desc := rsPrimaryDesc()
	cs1 := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	cs2 := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	binding := &fakeBinding{sources: []*fakeChannelSource{cs1, cs2}, kind: description.TopologyKindReplicaSet}

	op := &recordingReadOp{
		results: []opResult{
			{err: Error{Code: 91}},
			{doc: bsoncore.Document("ok-on-retry")},
		},
	}

	rCtx, res, err := ExecuteRetryableRead(context.Background(), binding, true, op, logging.New(nil))
	require.NoError(t, err)
	require.NotNil(t, rCtx)
	assert.Equal(t, bsoncore.Document("ok-on-retry"), res)
	assert.Equal(t, []int{1, 2}, op.calls)
}

func TestExecuteRetryableReadNonRetryableErrorSurfacesImmediatelyAndDisposes(t *testing.T) {
	desc := rsPrimaryDesc()
	cs := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	binding := &fakeBinding{sources: []*fakeChannelSource{cs}, kind: description.TopologyKindReplicaSet}

	wantErr := Error{Code: 999}
	op := &recordingReadOp{results: []opResult{{err: wantErr}}}

	rCtx, _, err := ExecuteRetryableRead(context.Background(), binding, true, op, logging.New(nil))
	assert.Equal(t, wantErr, err)
	assert.Nil(t, rCtx)
	assert.Equal(t, []int{1}, op.calls, "a non-retryable error must not trigger a second attempt")
	assert.True(t, cs.channel.closed, "a failed attempt must dispose the context's channel")
	assert.True(t, cs.closed, "a failed attempt must dispose the context's channel source")
}

func TestExecuteRetryableReadSecondFailureSurfacesRetryErrorWhenConnectionLevel(t *testing.T) {
	desc := rsPrimaryDesc()
	cs1 := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	cs2 := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	binding := &fakeBinding{sources: []*fakeChannelSource{cs1, cs2}, kind: description.TopologyKindReplicaSet}

	originalErr := Error{Code: 91}
	op := &recordingReadOp{
		results: []opResult{
			{err: originalErr},
			{err: ConnectionError{Address: "h:1"}},
		},
	}

	rCtx, _, err := ExecuteRetryableRead(context.Background(), binding, true, op, logging.New(nil))
	assert.Equal(t, ConnectionError{Address: "h:1"}, err, "a connection-level second failure must surface the second attempt's error")
	assert.Nil(t, rCtx)
}

func TestExecuteRetryableReadWithoutRetryRequestedSurfacesImmediately(t *testing.T) {
	desc := rsPrimaryDesc()
	cs := &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	binding := &fakeBinding{sources: []*fakeChannelSource{cs}, kind: description.TopologyKindReplicaSet}

	op := &recordingReadOp{results: []opResult{{err: Error{Code: 91}}}}

	_, _, err := ExecuteRetryableRead(context.Background(), binding, false, op, logging.New(nil))
	require.Error(t, err)
	assert.Equal(t, []int{1}, op.calls, "retryRequested=false must not trigger a second attempt even for a retryable error")
}
