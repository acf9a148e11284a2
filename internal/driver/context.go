// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"

	"github.com/nilkamal/driverlite/internal/driver/description"
)

// RetryableWriteContext pairs a WriteBinding with the currently-bound
// ChannelSource and Channel, plus the caller's retry-requested flag
// (spec.md §3 "Context", §4.4). At any time it owns zero or one
// ChannelSource and zero or one Channel; Dispose releases both.
type RetryableWriteContext struct {
	Binding        WriteBinding
	RetryRequested bool

	cs ChannelSource
	ch Channel
}

// NewRetryableWriteContext acquires a write ChannelSource and, from
// it, a Channel. If acquiring the Channel fails after the
// ChannelSource was obtained, the ChannelSource is released before
// the error is returned (spec.md §4.4 "on any partial-failure during
// acquisition, anything already acquired is released before
// re-raising").
func NewRetryableWriteContext(ctx context.Context, binding WriteBinding, retryRequested bool) (*RetryableWriteContext, error) {
	rwCtx := &RetryableWriteContext{Binding: binding, RetryRequested: retryRequested}

	cs, err := binding.GetWriteChannelSource(ctx, nil)
	if err != nil {
		return nil, err
	}
	rwCtx.cs = cs

	ch, err := cs.Channel(ctx)
	if err != nil {
		cs.Close()
		rwCtx.cs = nil
		return nil, err
	}
	rwCtx.ch = ch

	return rwCtx, nil
}

// ChannelSource returns the currently-bound ChannelSource, or nil.
func (c *RetryableWriteContext) ChannelSource() ChannelSource { return c.cs }

// Channel returns the currently-bound Channel, or nil.
func (c *RetryableWriteContext) Channel() Channel { return c.ch }

// ReplaceChannelSource disposes the current ChannelSource (if any)
// and installs newCS.
func (c *RetryableWriteContext) ReplaceChannelSource(newCS ChannelSource) {
	if c.cs != nil {
		c.cs.Close()
	}
	c.cs = newCS
}

// ReplaceChannel disposes the current Channel (if any) and installs
// newCh.
func (c *RetryableWriteContext) ReplaceChannel(newCh Channel) {
	if c.ch != nil {
		c.ch.Close()
	}
	c.ch = newCh
}

// Reselect is the C6 "Reselect" state: it replaces both the channel
// source and channel, deprioritizing the current channel's server
// (spec.md §4.5 step 2, supplemented by the sharded-deprioritization
// feature of SPEC_FULL.md §7.5). A failure here does not restore the
// previous binding: a failed channel-source lookup releases the current
// channel source but leaves the current channel bound, and a failed
// channel lease leaves the new channel source bound with no channel.
// Dispose releases whatever remains; the caller is expected to raise
// the original error per spec.md §4.5 step 2.
func (c *RetryableWriteContext) Reselect(ctx context.Context, deprioritized []description.Server) error {
	newCS, err := c.Binding.GetWriteChannelSource(ctx, deprioritized)
	if err != nil {
		c.ReplaceChannelSource(nil)
		return err
	}
	c.ReplaceChannelSource(newCS)

	newCh, err := newCS.Channel(ctx)
	if err != nil {
		c.ReplaceChannel(nil)
		return err
	}
	c.ReplaceChannel(newCh)

	return nil
}

// Dispose releases the channel then the channel source. Idempotent.
func (c *RetryableWriteContext) Dispose() {
	c.ReplaceChannel(nil)
	c.ReplaceChannelSource(nil)
}

// RetryableReadContext is the read-side counterpart of
// RetryableWriteContext (spec.md §3 "RetryableReadContext").
type RetryableReadContext struct {
	Binding        ReadBinding
	RetryRequested bool

	cs ChannelSource
	ch Channel
}

// NewRetryableReadContext acquires a read ChannelSource and Channel,
// with the same partial-failure release guarantee as
// NewRetryableWriteContext.
func NewRetryableReadContext(ctx context.Context, binding ReadBinding, retryRequested bool) (*RetryableReadContext, error) {
	rCtx := &RetryableReadContext{Binding: binding, RetryRequested: retryRequested}

	cs, err := binding.GetReadChannelSource(ctx, nil)
	if err != nil {
		return nil, err
	}
	rCtx.cs = cs

	ch, err := cs.Channel(ctx)
	if err != nil {
		cs.Close()
		rCtx.cs = nil
		return nil, err
	}
	rCtx.ch = ch

	return rCtx, nil
}

// ChannelSource returns the currently-bound ChannelSource, or nil.
func (c *RetryableReadContext) ChannelSource() ChannelSource { return c.cs }

// Channel returns the currently-bound Channel, or nil.
func (c *RetryableReadContext) Channel() Channel { return c.ch }

// ReplaceChannelSource disposes the current ChannelSource (if any)
// and installs newCS.
func (c *RetryableReadContext) ReplaceChannelSource(newCS ChannelSource) {
	if c.cs != nil {
		c.cs.Close()
	}
	c.cs = newCS
}

// ReplaceChannel disposes the current Channel (if any) and installs
// newCh.
func (c *RetryableReadContext) ReplaceChannel(newCh Channel) {
	if c.ch != nil {
		c.ch.Close()
	}
	c.ch = newCh
}

// Reselect replaces both the channel source and channel for a retried
// read attempt.
func (c *RetryableReadContext) Reselect(ctx context.Context, deprioritized []description.Server) error {
	newCS, err := c.Binding.GetReadChannelSource(ctx, deprioritized)
	if err != nil {
		c.ReplaceChannelSource(nil)
		return err
	}
	c.ReplaceChannelSource(newCS)

	newCh, err := newCS.Channel(ctx)
	if err != nil {
		c.ReplaceChannel(nil)
		return err
	}
	c.ReplaceChannel(newCh)

	return nil
}

// Dispose releases the channel then the channel source. Idempotent.
func (c *RetryableReadContext) Dispose() {
	c.ReplaceChannel(nil)
	c.ReplaceChannelSource(nil)
}
