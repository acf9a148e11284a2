// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package bsoncore provides the minimal set of document-building
// primitives the command builders in this module need. It is
// deliberately a thin slice of the teacher's x/bsonx/bsoncore package:
// full BSON encoding/decoding is an external collaborator named only
// by this interface (see spec.md §1/§6), not something this core
// reimplements.
package bsoncore

import (
	"encoding/binary"
	"errors"
	"math"
)

// Type mirrors the handful of BSON element types the command builders
// in this module emit.
type Type byte

const (
	TypeDouble          Type = 0x01
	TypeString          Type = 0x02
	TypeEmbeddedDocument Type = 0x03
	TypeArray           Type = 0x04
	TypeBinary          Type = 0x05
	TypeBoolean         Type = 0x08
	TypeDateTime        Type = 0x09
	TypeNull            Type = 0x0A
	TypeInt32           Type = 0x10
	TypeTimestamp       Type = 0x11
	TypeInt64           Type = 0x12
)

// Document is a raw, already-encoded BSON document.
type Document []byte

// Value is a typed, already-encoded BSON value.
type Value struct {
	Type Type
	Data []byte
}

// IsZero reports whether v has not been set.
func (v Value) IsZero() bool { return v.Type == 0 }

func appendLengthPlaceholder(dst []byte) (int32, []byte) {
	idx := int32(len(dst))
	return idx, append(dst, 0x00, 0x00, 0x00, 0x00)
}

// ReserveLength reserves 4 bytes for a length header and returns the
// index at which it begins.
func ReserveLength(dst []byte) (int32, []byte) {
	return appendLengthPlaceholder(dst)
}

// UpdateLength writes length at idx as a little-endian int32.
func UpdateLength(dst []byte, idx, length int32) []byte {
	binary.LittleEndian.PutUint32(dst[idx:], uint32(length))
	return dst
}

// AppendDocumentStart reserves a document length header and returns
// the index to later close with AppendDocumentEnd.
func AppendDocumentStart(dst []byte) (int32, []byte) {
	return ReserveLength(dst)
}

// AppendDocumentEnd appends the trailing NUL byte of a document and
// backfills its length at idx.
func AppendDocumentEnd(dst []byte, idx int32) ([]byte, error) {
	if int(idx) > len(dst)-4 {
		return dst, errors.New("bsoncore: not enough bytes to finish document")
	}
	dst = append(dst, 0x00)
	dst = UpdateLength(dst, idx, int32(len(dst))-idx)
	return dst, nil
}

// BuildDocument wraps elements (each already a complete element,
// header included) in a document length/NUL frame.
func BuildDocument(dst []byte, elements ...[]byte) []byte {
	idx, dst := AppendDocumentStart(dst)
	for _, e := range elements {
		dst = append(dst, e...)
	}
	dst, _ = AppendDocumentEnd(dst, idx)
	return dst
}

// AppendDocumentElementStart writes the header for a nested document
// element and reserves its length.
func AppendDocumentElementStart(dst []byte, key string) (int32, []byte) {
	dst = appendHeader(dst, TypeEmbeddedDocument, key)
	return AppendDocumentStart(dst)
}

// AppendArrayElementStart writes the header for an array element and
// reserves its length.
func AppendArrayElementStart(dst []byte, key string) (int32, []byte) {
	dst = appendHeader(dst, TypeArray, key)
	return AppendDocumentStart(dst)
}

// AppendArrayEnd closes an array opened with AppendArrayElementStart.
func AppendArrayEnd(dst []byte, idx int32) ([]byte, error) {
	return AppendDocumentEnd(dst, idx)
}

func appendHeader(dst []byte, t Type, key string) []byte {
	dst = append(dst, byte(t))
	dst = append(dst, key...)
	dst = append(dst, 0x00)
	return dst
}

// AppendValueElement appends a full element (header + data) for v.
func AppendValueElement(dst []byte, key string, v Value) []byte {
	dst = appendHeader(dst, v.Type, key)
	return append(dst, v.Data...)
}

// AppendStringElement appends a string element.
func AppendStringElement(dst []byte, key, val string) []byte {
	dst = appendHeader(dst, TypeString, key)
	return appendLengthPrefixedString(dst, val)
}

func appendLengthPrefixedString(dst []byte, s string) []byte {
	idx, dst := ReserveLength(dst)
	dst = append(dst, s...)
	dst = append(dst, 0x00)
	return UpdateLength(dst, idx, int32(len(dst))-idx-4)
}

// AppendInt32Element appends an int32 element.
func AppendInt32Element(dst []byte, key string, i int32) []byte {
	dst = appendHeader(dst, TypeInt32, key)
	return appendInt32(dst, i)
}

func appendInt32(dst []byte, i int32) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(i))
}

// AppendInt64Element appends an int64 element.
func AppendInt64Element(dst []byte, key string, i int64) []byte {
	dst = appendHeader(dst, TypeInt64, key)
	return binary.LittleEndian.AppendUint64(dst, uint64(i))
}

// AppendDoubleElement appends a double element.
func AppendDoubleElement(dst []byte, key string, f float64) []byte {
	dst = appendHeader(dst, TypeDouble, key)
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(f))
}

// AppendBooleanElement appends a boolean element.
func AppendBooleanElement(dst []byte, key string, b bool) []byte {
	dst = appendHeader(dst, TypeBoolean, key)
	if b {
		return append(dst, 0x01)
	}
	return append(dst, 0x00)
}

// AppendTimestampElement appends a BSON Timestamp element.
func AppendTimestampElement(dst []byte, key string, t, i uint32) []byte {
	dst = appendHeader(dst, TypeTimestamp, key)
	dst = binary.LittleEndian.AppendUint32(dst, i)
	return binary.LittleEndian.AppendUint32(dst, t)
}

// AppendNullElement appends a null element.
func AppendNullElement(dst []byte, key string) []byte {
	return appendHeader(dst, TypeNull, key)
}

// AppendDocumentElement appends an already-built document as an
// element.
func AppendDocumentElement(dst []byte, key string, doc Document) []byte {
	dst = appendHeader(dst, TypeEmbeddedDocument, key)
	return append(dst, doc...)
}

// AppendArrayElement appends an already-built array (encoded as a
// document) as an array element.
func AppendArrayElement(dst []byte, key string, arr Document) []byte {
	dst = appendHeader(dst, TypeArray, key)
	return append(dst, arr...)
}

// ReadDocument reads the next length-prefixed document off data and
// returns it along with the remainder.
func ReadDocument(data []byte) (doc Document, rem []byte, ok bool) {
	if len(data) < 4 {
		return nil, data, false
	}
	length := int32(binary.LittleEndian.Uint32(data))
	if int(length) > len(data) || length < 5 {
		return nil, data, false
	}
	return Document(data[:length]), data[length:], true
}

// Element is one decoded (key, value) pair of a Document.
type Element struct {
	Key   string
	Value Value
}

// Elements decodes every top-level element of doc. It supports the
// fixed set of types this module's command builders and legacy-
// modifiers translation actually emit (see the Type constants above);
// it is not a general-purpose BSON decoder, which is an external
// collaborator per spec.md §1.
func (d Document) Elements() ([]Element, error) {
	if len(d) < 5 {
		return nil, errors.New("bsoncore: document too short")
	}
	data := d[4 : len(d)-1] // strip length prefix and trailing NUL
	var elems []Element
	for len(data) > 0 {
		t := Type(data[0])
		data = data[1:]
		nul := indexByte(data, 0x00)
		if nul < 0 {
			return nil, errors.New("bsoncore: malformed element key")
		}
		key := string(data[:nul])
		data = data[nul+1:]

		v, rest, err := readValue(t, data)
		if err != nil {
			return nil, err
		}
		data = rest
		elems = append(elems, Element{Key: key, Value: v})
	}
	return elems, nil
}

// Lookup returns the value for key within doc's top-level elements.
func (d Document) Lookup(key string) (Value, bool) {
	elems, err := d.Elements()
	if err != nil {
		return Value{}, false
	}
	for _, e := range elems {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func readValue(t Type, data []byte) (Value, []byte, error) {
	switch t {
	case TypeDouble:
		if len(data) < 8 {
			return Value{}, nil, errors.New("bsoncore: short double")
		}
		return Value{Type: t, Data: data[:8]}, data[8:], nil
	case TypeString:
		if len(data) < 4 {
			return Value{}, nil, errors.New("bsoncore: short string length")
		}
		length := int32(binary.LittleEndian.Uint32(data))
		total := 4 + int(length)
		if total > len(data) {
			return Value{}, nil, errors.New("bsoncore: short string")
		}
		return Value{Type: t, Data: data[:total]}, data[total:], nil
	case TypeEmbeddedDocument, TypeArray:
		doc, rest, ok := ReadDocument(data)
		if !ok {
			return Value{}, nil, errors.New("bsoncore: short document")
		}
		return Value{Type: t, Data: doc}, rest, nil
	case TypeBinary:
		if len(data) < 5 {
			return Value{}, nil, errors.New("bsoncore: short binary")
		}
		length := int32(binary.LittleEndian.Uint32(data))
		total := 5 + int(length)
		if total > len(data) {
			return Value{}, nil, errors.New("bsoncore: short binary payload")
		}
		return Value{Type: t, Data: data[:total]}, data[total:], nil
	case TypeBoolean:
		if len(data) < 1 {
			return Value{}, nil, errors.New("bsoncore: short bool")
		}
		return Value{Type: t, Data: data[:1]}, data[1:], nil
	case TypeDateTime, TypeTimestamp, TypeInt64:
		if len(data) < 8 {
			return Value{}, nil, errors.New("bsoncore: short 8-byte value")
		}
		return Value{Type: t, Data: data[:8]}, data[8:], nil
	case TypeNull:
		return Value{Type: t}, data, nil
	case TypeInt32:
		if len(data) < 4 {
			return Value{}, nil, errors.New("bsoncore: short int32")
		}
		return Value{Type: t, Data: data[:4]}, data[4:], nil
	default:
		return Value{}, nil, errors.New("bsoncore: unsupported element type for decoding")
	}
}

// StringValue decodes a string-typed Value's payload.
func (v Value) StringValue() string {
	if v.Type != TypeString || len(v.Data) < 5 {
		return ""
	}
	length := int32(binary.LittleEndian.Uint32(v.Data))
	return string(v.Data[4 : 4+length-1])
}

// Double decodes a double-typed Value's payload.
func (v Value) Double() float64 {
	if v.Type != TypeDouble || len(v.Data) < 8 {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Data))
}

// Int32 decodes an int32-typed Value's payload.
func (v Value) Int32() int32 {
	if v.Type != TypeInt32 || len(v.Data) < 4 {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(v.Data))
}

// Int64 decodes an int64-typed Value's payload.
func (v Value) Int64() int64 {
	if v.Type != TypeInt64 || len(v.Data) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(v.Data))
}

// Timestamp decodes a BSON Timestamp-typed Value's payload into its
// (time, increment) pair.
func (v Value) Timestamp() (t uint32, i uint32) {
	if v.Type != TypeTimestamp || len(v.Data) < 8 {
		return 0, 0
	}
	i = binary.LittleEndian.Uint32(v.Data[0:4])
	t = binary.LittleEndian.Uint32(v.Data[4:8])
	return t, i
}

// Boolean decodes a boolean-typed Value's payload.
func (v Value) Boolean() bool {
	return v.Type == TypeBoolean && len(v.Data) > 0 && v.Data[0] != 0
}

// AsDocument decodes a document- or array-typed Value's payload.
func (v Value) AsDocument() Document {
	if v.Type != TypeEmbeddedDocument && v.Type != TypeArray {
		return nil
	}
	return Document(v.Data)
}
