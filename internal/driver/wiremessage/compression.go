// Copyright (C) MongoDB, Inc. 2018-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"fmt"

	"github.com/golang/snappy"
)

// CompressorID identifies a wire-protocol message compressor, negotiated
// during the handshake's "compression" array (spec.md §4.2 step 1).
type CompressorID uint8

// Compressor IDs, grounded on the teacher's wiremessage.CompressorID
// constants. This module implements only the snappy codec and its
// handshake negotiation; no Channel here calls CompressPayload or
// DecompressPayload, and zlib and zstd are left unimplemented since no
// third-party compressor for them is part of this corpus's dependency
// set.
const (
	CompressorNoOp   CompressorID = 0
	CompressorSnappy CompressorID = 1
)

// CompressorName returns the handshake "compression" array name for id.
func CompressorName(id CompressorID) string {
	switch id {
	case CompressorSnappy:
		return "snappy"
	default:
		return "noop"
	}
}

// CompressionOpts parameterizes one payload's (de)compression.
type CompressionOpts struct {
	Compressor       CompressorID
	UncompressedSize int32
}

// CompressPayload compresses in according to opts, grounded on the
// teacher's wiremessage.CompressPayload snappy branch.
func CompressPayload(in []byte, opts CompressionOpts) ([]byte, error) {
	switch opts.Compressor {
	case CompressorNoOp:
		return in, nil
	case CompressorSnappy:
		return snappy.Encode(nil, in), nil
	default:
		return nil, fmt.Errorf("wiremessage: unknown compressor id %v", opts.Compressor)
	}
}

// DecompressPayload reverses CompressPayload.
func DecompressPayload(in []byte, opts CompressionOpts) ([]byte, error) {
	switch opts.Compressor {
	case CompressorNoOp:
		return in, nil
	case CompressorSnappy:
		uncompressed := make([]byte, opts.UncompressedSize)
		return snappy.Decode(uncompressed, in)
	default:
		return nil, fmt.Errorf("wiremessage: unknown compressor id %v", opts.Compressor)
	}
}

// NegotiateCompressor picks the first entry of preferred that also
// appears in serverSupported, or CompressorNoOp if none match
// (spec.md §4.2: the client's ordered preference list wins the first
// match against what the server advertised back in its hello reply).
func NegotiateCompressor(preferred []string, serverSupported []string) CompressorID {
	supported := make(map[string]bool, len(serverSupported))
	for _, s := range serverSupported {
		supported[s] = true
	}
	for _, p := range preferred {
		if supported[p] && p == "snappy" {
			return CompressorSnappy
		}
	}
	return CompressorNoOp
}
