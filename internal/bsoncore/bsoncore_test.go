// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsoncore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T) Document {
	t.Helper()
	idx, dst := AppendDocumentStart(nil)
	dst = AppendStringElement(dst, "name", "sample")
	dst = AppendInt32Element(dst, "count", 7)
	dst = AppendInt64Element(dst, "big", 1<<40)
	dst = AppendBooleanElement(dst, "flag", true)
	dst = AppendDoubleElement(dst, "ratio", 3.5)
	dst = AppendTimestampElement(dst, "ts", 100, 2)
	dst = AppendNullElement(dst, "absent")

	sidx, sub := AppendDocumentStart(nil)
	sub = AppendStringElement(sub, "inner", "v")
	sub, err := AppendDocumentEnd(sub, sidx)
	require.NoError(t, err)
	dst = AppendDocumentElement(dst, "sub", Document(sub))

	dst, err = AppendDocumentEnd(dst, idx)
	require.NoError(t, err)
	return Document(dst)
}

func TestElementsRoundTrip(t *testing.T) {
	doc := buildSample(t)
	elems, err := doc.Elements()
	require.NoError(t, err)
	require.Len(t, elems, 8)

	byKey := make(map[string]Value, len(elems))
	for _, e := range elems {
		byKey[e.Key] = e.Value
	}

	assert.Equal(t, "sample", byKey["name"].StringValue())
	assert.Equal(t, int32(7), byKey["count"].Int32())
	assert.Equal(t, int64(1<<40), byKey["big"].Int64())
	assert.True(t, byKey["flag"].Boolean())
	assert.Equal(t, 3.5, byKey["ratio"].Double())
	ts, inc := byKey["ts"].Timestamp()
	assert.Equal(t, uint32(100), ts)
	assert.Equal(t, uint32(2), inc)
	assert.True(t, byKey["absent"].IsZero() == false) // null decodes to a zero-data Value of TypeNull, not the unset zero Value
	assert.Equal(t, TypeNull, byKey["absent"].Type)
	assert.Equal(t, "v", byKey["sub"].AsDocument().Lookup2(t, "inner"))
}

// Lookup2 is a tiny test-only convenience wrapping Lookup+StringValue.
func (d Document) Lookup2(t *testing.T, key string) string {
	t.Helper()
	v, ok := d.Lookup(key)
	require.True(t, ok)
	return v.StringValue()
}

func TestLookupMissingKey(t *testing.T) {
	doc := buildSample(t)
	_, ok := doc.Lookup("does-not-exist")
	assert.False(t, ok)
}

func TestElementsRejectsShortDocument(t *testing.T) {
	_, err := Document([]byte{1, 2, 3}).Elements()
	assert.Error(t, err)
}

func TestAppendDocumentEndNotEnoughBytes(t *testing.T) {
	_, err := AppendDocumentEnd([]byte{0, 0}, 0)
	assert.Error(t, err)
}

func TestValueAccessorsMismatchedTypeAreZero(t *testing.T) {
	v := Value{Type: TypeString, Data: []byte{5, 0, 0, 0, 'a', 0}}
	assert.Equal(t, int32(0), v.Int32())
	assert.Equal(t, int64(0), v.Int64())
	assert.Equal(t, 0.0, v.Double())
	assert.False(t, v.Boolean())
	tt, ii := v.Timestamp()
	assert.Zero(t, tt)
	assert.Zero(t, ii)
}
