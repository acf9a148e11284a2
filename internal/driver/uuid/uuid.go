// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package uuid generates the opaque 16-byte session identifiers used
// by spec.md §3 "Session.id", grounded on the teacher's
// x/mongo/driver/uuid package.
package uuid

import (
	"crypto/rand"
)

// UUID is a 16-byte universally unique identifier.
type UUID [16]byte

// New returns a new version-4 UUID generated from a cryptographically
// secure random source.
func New() (UUID, error) {
	var uuid UUID
	_, err := rand.Read(uuid[:])
	if err != nil {
		return UUID{}, err
	}

	// Set version (4) and variant bits per RFC 4122.
	uuid[6] = (uuid[6] & 0x0f) | 0x40
	uuid[8] = (uuid[8] & 0x3f) | 0x80

	return uuid, nil
}
