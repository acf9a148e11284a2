// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package session implements the logical Session of spec.md §3: an
// opaque id, a per-session monotonic transaction-number counter, and
// explicit-transaction state, grounded on the teacher's
// x/mongo/driver/session package (client_session_test.go describes the
// transaction-state machine this mirrors).
package session

import (
	"errors"
	"sync"

	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/uuid"
)

// TransactionState represents the state of an explicit user
// transaction carried by a session.
type TransactionState uint8

// Transaction states.
const (
	None TransactionState = iota
	Starting
	InProgress
	Committed
	Aborted
)

// Errors returned by the explicit-transaction state machine.
var (
	ErrNoTransactStarted  = errors.New("no transaction started")
	ErrTransactInProgress = errors.New("transaction already in progress")
	ErrAbortTwice         = errors.New("cannot call abortTransaction twice")
	ErrCommitAfterAbort   = errors.New("cannot call commitTransaction after calling abortTransaction")
	ErrAbortAfterCommit   = errors.New("cannot call abortTransaction after calling commitTransaction")
	ErrSessionEnded       = errors.New("session has ended")
)

// Timestamp is a MongoDB BSON timestamp (seconds since epoch plus an
// ordinal within that second), used for $clusterTime and operationTime.
type Timestamp struct {
	T, I uint32
}

// After reports whether ts is strictly later than other.
func (ts Timestamp) After(other Timestamp) bool {
	if ts.T != other.T {
		return ts.T > other.T
	}
	return ts.I > other.I
}

// ClusterClock tracks the highest $clusterTime this process has
// observed across any connection, gossiped onto every outgoing
// command (spec.md §3 Binding is a caller-owned abstraction; the
// ClusterClock below it is process/deployment-scoped, grounded on
// teacher's session.ClusterClock). Safe for concurrent use.
type ClusterClock struct {
	mu   sync.Mutex
	time Timestamp
	set  bool
}

// AdvanceClusterTime updates the clock if t is newer than the
// currently recorded time.
func (cc *ClusterClock) AdvanceClusterTime(t Timestamp) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if !cc.set || t.After(cc.time) {
		cc.time = t
		cc.set = true
	}
}

// GetClusterTime returns the current cluster time and whether one has
// ever been observed.
func (cc *ClusterClock) GetClusterTime() (Timestamp, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.time, cc.set
}

// AppendElement appends the current cluster time as a "$clusterTime"
// sub-document element, or returns dst unchanged if no cluster time
// has been observed yet.
func (cc *ClusterClock) AppendElement(dst []byte) []byte {
	t, ok := cc.GetClusterTime()
	if !ok {
		return dst
	}
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendTimestampElement(doc, "clusterTime", t.T, t.I)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return bsoncore.AppendDocumentElement(dst, "$clusterTime", bsoncore.Document(doc))
}

// Client is the logical session of spec.md §3. A nil *Client is a
// valid, session-less operation.
type Client struct {
	SessionID uuid.UUID
	IsImplicit bool
	Terminated bool

	TransactionState TransactionState

	mu        sync.Mutex // serializes AdvanceTransactionNumber per spec.md §5
	txnNumber int64

	// PinnedServerAddr records the deprioritization-free server this
	// session is pinned to while a load-balanced transaction runs.
	// Not exercised outside of transactions; carried for completeness.
	PinnedServerAddr string

	Clock *ClusterClock
}

// NewClient constructs a Client with a freshly generated session id.
func NewClient(isImplicit bool, clock *ClusterClock) (*Client, error) {
	id, err := uuid.New()
	if err != nil {
		return nil, err
	}
	return &Client{SessionID: id, IsImplicit: isImplicit, Clock: clock}, nil
}

// AdvanceTransactionNumber returns the next transaction number in the
// strictly increasing sequence unique to this session (spec.md §3).
// The same number MUST be reused across every retry attempt of the
// operation that called it; callers capture the returned value once
// per operation, not once per attempt.
func (c *Client) AdvanceTransactionNumber() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txnNumber++
	return c.txnNumber
}

// CurrentTransactionNumber returns the most recently advanced
// transaction number without advancing it further.
func (c *Client) CurrentTransactionNumber() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnNumber
}

// InTransaction reports whether the session is inside an explicit,
// still-open user transaction (spec.md §4.5 precondition 5).
func (c *Client) InTransaction() bool {
	return c.TransactionState == Starting || c.TransactionState == InProgress
}

// StartTransaction opens a new explicit transaction.
func (c *Client) StartTransaction() error {
	if c.Terminated {
		return ErrSessionEnded
	}
	if c.InTransaction() {
		return ErrTransactInProgress
	}
	c.TransactionState = Starting
	return nil
}

// ApplyCommand transitions a Starting transaction to InProgress once
// its first command has been sent.
func (c *Client) ApplyCommand() {
	if c.TransactionState == Starting {
		c.TransactionState = InProgress
	}
}

// CommitTransaction closes out a running transaction successfully.
func (c *Client) CommitTransaction() error {
	switch c.TransactionState {
	case None:
		return ErrNoTransactStarted
	case Aborted:
		return ErrCommitAfterAbort
	}
	c.TransactionState = Committed
	return nil
}

// AbortTransaction closes out a running transaction unsuccessfully.
func (c *Client) AbortTransaction() error {
	switch c.TransactionState {
	case None:
		return ErrNoTransactStarted
	case Committed:
		return ErrAbortAfterCommit
	case Aborted:
		return ErrAbortTwice
	}
	c.TransactionState = Aborted
	return nil
}

// EndSession marks the session as no longer usable.
func (c *Client) EndSession() {
	c.Terminated = true
}

// AppendElement appends this session's id as an "lsid" sub-document
// element, and, when retryWrite is true, a "txnNumber" element set to
// the session's current transaction number. A nil Client leaves dst
// unchanged (spec.md §3: null session id means session-less).
func (c *Client) AppendElement(dst []byte, retryWrite bool) []byte {
	if c == nil {
		return dst
	}

	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendValueElement(doc, "id", bsoncore.Value{
		Type: bsoncore.TypeBinary,
		Data: append([]byte{16, 0, 0, 0, 0x04}, c.SessionID[:]...),
	})
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	dst = bsoncore.AppendDocumentElement(dst, "lsid", bsoncore.Document(doc))

	if retryWrite {
		dst = bsoncore.AppendInt64Element(dst, "txnNumber", c.CurrentTransactionNumber())
	}
	return dst
}
