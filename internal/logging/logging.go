// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logging wraps logrus for the structured messages the core
// emits. The only callers are the retryable read and write executors,
// which log their retry decisions at debug level; command events and
// connection lifecycle are not logged. Grounded on the teacher's
// logrus-based examples/logger/logrus usage and mongo/mongolog
// component model (command, connection, topology).
package logging

import (
	"github.com/sirupsen/logrus"
)

// Component names a log line belongs to, mirroring the teacher's
// mongolog component split (command, connection, topology, server
// selection) so callers can filter by subsystem.
type Component string

// Components this core emits logs for.
const (
	ComponentCommand    Component = "command"
	ComponentConnection Component = "connection"
	ComponentTopology   Component = "topology"
)

// Logger adapts a *logrus.Logger (or nil, for "no logging") to the
// small surface the driver core needs.
type Logger struct {
	entry *logrus.Entry
}

// New wraps l. A nil l yields a Logger whose methods are all no-ops,
// matching the teacher's "CommandMonitor not set means no events"
// convention applied to logging.
func New(l *logrus.Logger) *Logger {
	if l == nil {
		return &Logger{}
	}
	return &Logger{entry: logrus.NewEntry(l)}
}

// WithComponent scopes subsequent log lines to component.
func (l *Logger) WithComponent(c Component) *Logger {
	if l == nil || l.entry == nil {
		return l
	}
	return &Logger{entry: l.entry.WithField("component", string(c))}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil || l.entry == nil {
		return
	}
	l.entry.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l == nil || l.entry == nil {
		return
	}
	l.entry.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l == nil || l.entry == nil {
		return
	}
	l.entry.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l == nil || l.entry == nil {
		return
	}
	l.entry.Errorf(format, args...)
}
