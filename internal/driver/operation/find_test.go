// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/description"
	"github.com/nilkamal/driverlite/internal/logging"
)

func buildFilter() bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "x", "y")
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return bsoncore.Document(dst)
}

func TestFindCommandBasicFields(t *testing.T) {
	f := &Find{
		Collection: "coll",
		Filter:     buildFilter(),
	}

	cmd, err := f.Command(description.Server{})
	require.NoError(t, err)

	elems, err := cmd.Elements()
	require.NoError(t, err)

	byKey := make(map[string]bsoncore.Value, len(elems))
	for _, e := range elems {
		byKey[e.Key] = e.Value
	}

	assert.Equal(t, "coll", byKey["find"].StringValue())
	xv, ok := byKey["filter"].AsDocument().Lookup("x")
	require.True(t, ok)
	assert.Equal(t, "y", xv.StringValue())
}

func TestFindCommandAllowPartialResultsGatedOnMongos(t *testing.T) {
	allow := true
	f := &Find{Collection: "coll", AllowPartialResults: &allow}

	cmd, err := f.Command(description.Server{Kind: description.Unknown})
	require.NoError(t, err)
	_, ok := cmd.Lookup("allowPartialResults")
	assert.False(t, ok, "allowPartialResults must be suppressed against a non-mongos server")

	cmd, err = f.Command(description.Server{Kind: description.Mongos})
	require.NoError(t, err)
	v, ok := cmd.Lookup("allowPartialResults")
	require.True(t, ok, "allowPartialResults must be sent against mongos")
	assert.True(t, v.Boolean())
}

func TestFindCommandNegativeLimitImpliesSingleBatchAndPositiveLimit(t *testing.T) {
	limit := int64(-5)
	f := &Find{Collection: "coll", Limit: &limit}

	cmd, err := f.Command(description.Server{})
	require.NoError(t, err)

	lv, ok := cmd.Lookup("limit")
	require.True(t, ok)
	assert.Equal(t, int64(5), lv.Int64())

	sv, ok := cmd.Lookup("singleBatch")
	require.True(t, ok)
	assert.True(t, sv.Boolean())
}

func TestFindCommandExplicitFieldShadowsLegacyModifier(t *testing.T) {
	comment := "explicit"
	modIdx, mod := bsoncore.AppendDocumentStart(nil)
	mod = bsoncore.AppendStringElement(mod, "$comment", "legacy")
	mod, _ = bsoncore.AppendDocumentEnd(mod, modIdx)

	f := &Find{
		Collection: "coll",
		Comment:    &comment,
		Modifiers:  bsoncore.Document(mod),
	}

	cmd, err := f.Command(description.Server{})
	require.NoError(t, err)

	v, ok := cmd.Lookup("comment")
	require.True(t, ok)
	assert.Equal(t, "explicit", v.StringValue())
}

func TestFindCommandLegacyModifierFillsUnsetField(t *testing.T) {
	modIdx, mod := bsoncore.AppendDocumentStart(nil)
	mod = bsoncore.AppendStringElement(mod, "$comment", "from modifiers")
	mod, _ = bsoncore.AppendDocumentEnd(mod, modIdx)

	f := &Find{Collection: "coll", Modifiers: bsoncore.Document(mod)}

	cmd, err := f.Command(description.Server{})
	require.NoError(t, err)

	v, ok := cmd.Lookup("comment")
	require.True(t, ok)
	assert.Equal(t, "from modifiers", v.StringValue())
}

func TestFindCommandUnknownModifierKeyIsConfigurationError(t *testing.T) {
	modIdx, mod := bsoncore.AppendDocumentStart(nil)
	mod = bsoncore.AppendStringElement(mod, "$bogus", "x")
	mod, _ = bsoncore.AppendDocumentEnd(mod, modIdx)

	f := &Find{Collection: "coll", Modifiers: bsoncore.Document(mod)}

	_, err := f.Command(description.Server{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$bogus")
}

func buildFindReplyDoc(cursorID int64, nItems int) bsoncore.Document {
	batchIdx, batch := bsoncore.AppendDocumentStart(nil)
	for i := 0; i < nItems; i++ {
		itemIdx, item := bsoncore.AppendDocumentStart(nil)
		item = bsoncore.AppendInt32Element(item, "a", int32(i))
		item, _ = bsoncore.AppendDocumentEnd(item, itemIdx)
		batch = bsoncore.AppendDocumentElement(batch, itoa(i), bsoncore.Document(item))
	}
	batch, _ = bsoncore.AppendArrayEnd(batch, batchIdx)

	cursorIdx, cursor := bsoncore.AppendDocumentStart(nil)
	cursor = bsoncore.AppendInt64Element(cursor, "id", cursorID)
	cursor = bsoncore.AppendStringElement(cursor, "ns", "db.coll")
	cursor = bsoncore.AppendArrayElement(cursor, "firstBatch", bsoncore.Document(batch))
	cursor, _ = bsoncore.AppendDocumentEnd(cursor, cursorIdx)

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "ok", 1)
	dst = bsoncore.AppendDocumentElement(dst, "cursor", bsoncore.Document(cursor))
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return bsoncore.Document(dst)
}

func TestRunFindReturnsBatchCursorAndReleasesUnpinnedChannel(t *testing.T) {
	binding := newTestBinding(t, 1)
	binding.sources[0].channel.replies = []bsoncore.Document{buildFindReplyDoc(0, 2)}

	cursor, err := RunFind(context.Background(), binding, false, &Find{Collection: "coll"}, 0, 0, logging.New(nil))
	require.NoError(t, err)
	require.NotNil(t, cursor)

	assert.Len(t, cursor.Batch(), 2)
	assert.Equal(t, int64(0), cursor.ID())
	assert.True(t, binding.sources[0].channel.closed, "an exhausted, non-pinned cursor must release its command channel")
	assert.False(t, binding.sources[0].closed, "the channel source must stay open for the cursor to use")

	require.NoError(t, cursor.Close())
	assert.True(t, binding.sources[0].closed)
}

func TestRunFindPinsChannelWhenCursorIDNonzero(t *testing.T) {
	binding := newTestBinding(t, 1)
	binding.sources[0].channel.replies = []bsoncore.Document{buildFindReplyDoc(42, 1)}

	cursor, err := RunFind(context.Background(), binding, false, &Find{Collection: "coll"}, 0, 0, logging.New(nil))
	require.NoError(t, err)
	require.NotNil(t, cursor)

	assert.Equal(t, int64(42), cursor.ID())
	assert.False(t, binding.sources[0].channel.closed, "a live cursor id must pin and keep its channel open")

	require.NoError(t, cursor.Close())
	assert.True(t, binding.sources[0].channel.closed)
	assert.True(t, binding.sources[0].closed)
}

func TestFindCommandMaxTimeConvertsToMilliseconds(t *testing.T) {
	d := 250 * time.Millisecond
	f := &Find{Collection: "coll", MaxTime: &d}

	cmd, err := f.Command(description.Server{})
	require.NoError(t, err)

	v, ok := cmd.Lookup("maxTimeMS")
	require.True(t, ok)
	assert.Equal(t, int64(250), v.Int64())
}
