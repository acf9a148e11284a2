// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/session"
)

// PrepareCommand splices sess's "lsid" and, when sess's clock has
// observed one, a "$clusterTime" element into cmd, grounded on the
// teacher's operation.go updateClusterTimes/addSession call sites that
// run against every outgoing command regardless of command type. A
// nil sess leaves cmd unchanged. It never appends txnNumber: callers
// on the retryable-write path own that element themselves, since it
// must be identical across both attempts of the same operation
// (spec.md §5 ordering guarantee) rather than recomputed here.
func PrepareCommand(cmd bsoncore.Document, sess *session.Client) bsoncore.Document {
	if sess == nil || len(cmd) < 5 {
		return cmd
	}
	body := cmd[:len(cmd)-1]
	body = sess.AppendElement(body, false)
	if sess.Clock != nil {
		body = sess.Clock.AppendElement(body)
	}
	body = append(body, 0x00)
	bsoncore.UpdateLength(body, 0, int32(len(body)))
	return bsoncore.Document(body)
}
