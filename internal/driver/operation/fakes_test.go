// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"

	"github.com/nilkamal/driverlite/internal/bsoncore"
	driver "github.com/nilkamal/driverlite/internal/driver"
	"github.com/nilkamal/driverlite/internal/driver/description"
	"github.com/nilkamal/driverlite/internal/driver/session"
)

// fakeChannel and fakeChannelSource mirror the driver package's own
// executor_test.go doubles, grounded on the same hand-written idiom
// the teacher uses throughout its topology tests in place of a
// mocking library.
type fakeChannel struct {
	desc    description.Server
	replies []bsoncore.Document
	calls   int
	closed  bool
}

func (c *fakeChannel) Description() description.Server { return c.desc }
func (c *fakeChannel) WriteCommand(ctx context.Context, cmd bsoncore.Document) error { return nil }
func (c *fakeChannel) ReadReply(ctx context.Context) (bsoncore.Document, error) {
	idx := c.calls
	c.calls++
	if idx >= len(c.replies) {
		return bsoncore.Document{}, nil
	}
	return c.replies[idx], nil
}
func (c *fakeChannel) Close() error { c.closed = true; return nil }

type fakeChannelSource struct {
	desc       description.Server
	channel    *fakeChannel
	closed     bool
	channelErr error
}

func (s *fakeChannelSource) Channel(ctx context.Context) (driver.Channel, error) {
	if s.channelErr != nil {
		return nil, s.channelErr
	}
	return s.channel, nil
}
func (s *fakeChannelSource) ServerDescription() description.Server { return s.desc }
func (s *fakeChannelSource) Close() error                          { s.closed = true; return nil }

// fakeBinding implements both driver.WriteBinding and driver.ReadBinding
// over a queue of sources consumed one per Get*ChannelSource call.
type fakeBinding struct {
	sess    *session.Client
	sources []*fakeChannelSource
	used    int // sources handed out so far; sources itself stays intact for assertions
	getErr  error
}

func (b *fakeBinding) Session() *session.Client { return b.sess }

func (b *fakeBinding) next() (driver.ChannelSource, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	if b.used >= len(b.sources) {
		return nil, assertionError{"fakeBinding: no more sources queued"}
	}
	cs := b.sources[b.used]
	b.used++
	return cs, nil
}

func (b *fakeBinding) GetWriteChannelSource(ctx context.Context, deprioritized []description.Server) (driver.ChannelSource, error) {
	return b.next()
}

func (b *fakeBinding) GetReadChannelSource(ctx context.Context, deprioritized []description.Server) (driver.ChannelSource, error) {
	return b.next()
}

type assertionError struct{ msg string }

func (e assertionError) Error() string { return e.msg }

func rsPrimaryDesc() description.Server {
	timeout := int64(30)
	return description.Server{Kind: description.RSPrimary, SessionTimeoutMinutes: &timeout}
}

func newTestBinding(t interface{ Helper() }, n int) *fakeBinding {
	t.Helper()
	desc := rsPrimaryDesc()
	sources := make([]*fakeChannelSource, n)
	for i := range sources {
		sources[i] = &fakeChannelSource{desc: desc, channel: &fakeChannel{desc: desc}}
	}
	return &fakeBinding{sources: sources}
}
