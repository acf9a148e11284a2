// Copyright (C) MongoDB, Inc. 2021-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import "github.com/nilkamal/driverlite/internal/bsoncore"

// ServerAPIOptions is a declared stable API version, grounded on
// teacher's x/mongo/driver/serverapioptions.go. A nil *ServerAPIOptions
// means no API version is declared.
type ServerAPIOptions struct {
	ServerAPIVersion  string
	Strict            *bool
	DeprecationErrors *bool
}

// ServerAPI constructs a ServerAPIOptions declaring version.
func ServerAPI(version string) *ServerAPIOptions {
	return &ServerAPIOptions{ServerAPIVersion: version}
}

// SetStrict sets the strict flag.
func (s *ServerAPIOptions) SetStrict(strict bool) *ServerAPIOptions {
	s.Strict = &strict
	return s
}

// SetDeprecationErrors sets the deprecation-errors flag.
func (s *ServerAPIOptions) SetDeprecationErrors(v bool) *ServerAPIOptions {
	s.DeprecationErrors = &v
	return s
}

// AppendElement appends this declared API version as a "serverApi"
// sub-document element (spec.md §6 "Greeting (hello)"). A nil receiver
// leaves dst unchanged.
func (s *ServerAPIOptions) AppendElement(dst []byte) []byte {
	if s == nil {
		return dst
	}
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendStringElement(doc, "version", s.ServerAPIVersion)
	if s.Strict != nil {
		doc = bsoncore.AppendBooleanElement(doc, "strict", *s.Strict)
	}
	if s.DeprecationErrors != nil {
		doc = bsoncore.AppendBooleanElement(doc, "deprecationErrors", *s.DeprecationErrors)
	}
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return bsoncore.AppendDocumentElement(dst, "serverApi", bsoncore.Document(doc))
}
