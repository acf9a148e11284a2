// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package wiremessage contains the opcode constants and request-id
// sequencing used to frame commands, grounded on the teacher's
// x/mongo/driver/wiremessage package. Full wire message parsing is an
// external collaborator (spec.md §1); this package only carries the
// pieces the executor needs to drive a round trip.
package wiremessage

import (
	"encoding/binary"
	"sync/atomic"
)

// OpCode represents a wire protocol opcode.
type OpCode int32

// Wire protocol opcodes currently in use.
const (
	OpCompressed OpCode = 2012
	OpMsg        OpCode = 2013
)

// MsgFlag represents flags on an OP_MSG message.
type MsgFlag uint32

// OP_MSG flags.
const (
	ChecksumPresent MsgFlag = 1 << 0
	MoreToCome      MsgFlag = 1 << 1
	ExhaustAllowed  MsgFlag = 1 << 16
)

// SectionType represents the type of an OP_MSG section.
type SectionType byte

// OP_MSG section types.
const (
	SingleDocument   SectionType = 0
	DocumentSequence SectionType = 1
)

var globalRequestID int32

// NextRequestID returns the next request ID in the sequence shared by
// every wire message this process sends. Grounded on the teacher's
// package-level atomic counter of the same name.
func NextRequestID() int32 {
	return atomic.AddInt32(&globalRequestID, 1)
}

// AppendHeaderStart appends the 16-byte message header (length
// placeholder, requestID, responseTo, opcode) and returns the index of
// the length field for later backfilling.
func AppendHeaderStart(dst []byte, requestID, responseTo int32, opcode OpCode) (int32, []byte) {
	idx := int32(len(dst))
	dst = appendi32(dst, 0) // length placeholder
	dst = appendi32(dst, requestID)
	dst = appendi32(dst, responseTo)
	dst = appendi32(dst, int32(opcode))
	return idx, dst
}

// UpdateLength backfills the length field of a message at idx.
func UpdateLength(dst []byte, idx, length int32) []byte {
	binary.LittleEndian.PutUint32(dst[idx:], uint32(length))
	return dst
}

// AppendMsgFlags appends the OP_MSG flag bits.
func AppendMsgFlags(dst []byte, flags MsgFlag) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(flags))
}

// AppendMsgSectionType appends an OP_MSG section type byte.
func AppendMsgSectionType(dst []byte, t SectionType) []byte {
	return append(dst, byte(t))
}

// ReadHeader reads a wire message header, returning the remainder.
func ReadHeader(wm []byte) (length, requestID, responseTo int32, opcode OpCode, rem []byte, ok bool) {
	if len(wm) < 16 {
		return 0, 0, 0, 0, wm, false
	}
	length = readi32(wm[0:4])
	requestID = readi32(wm[4:8])
	responseTo = readi32(wm[8:12])
	opcode = OpCode(readi32(wm[12:16]))
	return length, requestID, responseTo, opcode, wm[16:], true
}

// IsMsgMoreToCome reports whether the moreToCome flag is set on an
// OP_MSG wire message (flags are the first 4 bytes after the header).
func IsMsgMoreToCome(wm []byte) bool {
	_, _, _, opcode, rem, ok := ReadHeader(wm)
	if !ok || opcode != OpMsg || len(rem) < 4 {
		return false
	}
	flags := MsgFlag(readu32(rem[0:4]))
	return flags&MoreToCome != 0
}

func appendi32(dst []byte, i int32) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(i))
}

func readi32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}

func readu32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
