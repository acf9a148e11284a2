// Copyright (C) MongoDB, Inc. 2018-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package auth implements the Authenticators the connection
// initializer (C3) runs during its handshake (spec.md §4.2 step 3),
// grounded on the teacher's core/auth/scramsha256.go and
// x/mongo/driver/auth/sasl.go SASL conversation loop.
package auth

import (
	"context"
	"fmt"

	"github.com/xdg/scram"
	"github.com/xdg/stringprep"

	driver "github.com/nilkamal/driverlite/internal/driver"
	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/event"
	"github.com/nilkamal/driverlite/internal/driver/topology"
)

// SCRAMSHA256 is the mechanism name for SCRAM-SHA-256.
const SCRAMSHA256 = "SCRAM-SHA-256"

// ScramAuthenticator runs a SCRAM-SHA-256 SASL conversation over a
// Channel, grounded on teacher's ScramSHA256Authenticator using
// github.com/xdg/scram for the stepwise client-side conversation and
// github.com/xdg/stringprep for SASLprep-normalizing the password.
type ScramAuthenticator struct {
	Source   string
	Username string
	Password string
}

var _ topology.Authenticator = (*ScramAuthenticator)(nil)

func (a *ScramAuthenticator) Mechanism() string { return SCRAMSHA256 }

// Authenticate conducts the saslStart/saslContinue round trip against
// conn until the server reports the conversation done and the local
// SCRAM state machine agrees.
func (a *ScramAuthenticator) Authenticate(ctx context.Context, conn driver.Channel, hello topology.HelloResult, monitor *event.CommandMonitor, connAddr string) error {
	passprep, err := stringprep.SASLprep.Prepare(a.Password)
	if err != nil {
		return fmt.Errorf("scram: SASLprep password: %w", err)
	}
	client, err := scram.SHA256.NewClientUnprepped(a.Username, passprep, "")
	if err != nil {
		return fmt.Errorf("scram: init client: %w", err)
	}
	client.WithMinIterations(4096)
	conv := client.NewConversation()

	source := a.Source
	if source == "" {
		source = "admin"
	}

	payload, err := conv.Step("")
	if err != nil {
		return fmt.Errorf("scram: first step: %w", err)
	}

	startCmd := buildSaslStart(SCRAMSHA256, []byte(payload), source)
	reply, err := authRoundTrip(ctx, conn, monitor, source, connAddr, startCmd)
	if err != nil {
		return err
	}

	for {
		resp, err := decodeSaslResponse(reply)
		if err != nil {
			return err
		}
		if resp.done && conv.Done() {
			return nil
		}

		nextPayload, err := conv.Step(string(resp.payload))
		if err != nil {
			return fmt.Errorf("scram: step: %w", err)
		}
		if resp.done && conv.Done() {
			return nil
		}

		continueCmd := buildSaslContinue(resp.conversationID, []byte(nextPayload))
		reply, err = authRoundTrip(ctx, conn, monitor, source, connAddr, continueCmd)
		if err != nil {
			return err
		}
	}
}

func buildSaslStart(mechanism string, payload []byte, source string) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "saslStart", 1)
	dst = bsoncore.AppendStringElement(dst, "mechanism", mechanism)
	dst = bsoncore.AppendValueElement(dst, "payload", bsoncore.Value{Type: bsoncore.TypeBinary, Data: append([]byte{byte(len(payload)), byte(len(payload) >> 8), byte(len(payload) >> 16), byte(len(payload) >> 24), 0x00}, payload...)})
	dst = bsoncore.AppendStringElement(dst, "db", source)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return bsoncore.Document(dst)
}

func buildSaslContinue(conversationID int32, payload []byte) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "saslContinue", 1)
	dst = bsoncore.AppendInt32Element(dst, "conversationId", conversationID)
	dst = bsoncore.AppendValueElement(dst, "payload", bsoncore.Value{Type: bsoncore.TypeBinary, Data: append([]byte{byte(len(payload)), byte(len(payload) >> 8), byte(len(payload) >> 16), byte(len(payload) >> 24), 0x00}, payload...)})
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return bsoncore.Document(dst)
}

type saslResponse struct {
	conversationID int32
	done           bool
	payload        []byte
}

func decodeSaslResponse(reply bsoncore.Document) (saslResponse, error) {
	var resp saslResponse
	if v, ok := reply.Lookup("conversationId"); ok {
		resp.conversationID = v.Int32()
	}
	if v, ok := reply.Lookup("done"); ok {
		resp.done = v.Boolean()
	}
	if v, ok := reply.Lookup("payload"); ok && v.Type == bsoncore.TypeBinary && len(v.Data) > 5 {
		resp.payload = v.Data[5:]
	}
	return resp, nil
}
