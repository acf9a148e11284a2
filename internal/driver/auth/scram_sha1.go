// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	driver "github.com/nilkamal/driverlite/internal/driver"
	"github.com/nilkamal/driverlite/internal/driver/event"
	"github.com/nilkamal/driverlite/internal/driver/topology"
)

// SCRAMSHA1 is the mechanism name for the legacy SCRAM-SHA-1, carried
// for servers that predate SCRAM-SHA-256 support. Grounded entirely on
// teacher's core/auth/scramsha1.go, down to its username-sanitizing
// comma/equals escaping and its PBKDF2 iteration parameters; it uses
// golang.org/x/crypto/pbkdf2 directly rather than xdg/scram, matching
// the teacher's own choice for this mechanism (xdg/scram is only used
// for SCRAM-SHA-256, see scram.go).
const SCRAMSHA1 = "SCRAM-SHA-1"

const scramSHA1NonceLen = 24

var usernameSanitizer = strings.NewReplacer("=", "=3D", ",", "=2D")

// ScramSHA1Authenticator runs a SCRAM-SHA-1 SASL conversation,
// grounded on teacher's ScramSHA1Authenticator/scramSaslClient.
type ScramSHA1Authenticator struct {
	Source   string
	Username string
	Password string
}

var _ topology.Authenticator = (*ScramSHA1Authenticator)(nil)

func (a *ScramSHA1Authenticator) Mechanism() string { return SCRAMSHA1 }

// mongoPasswordDigest is the legacy MONGODB-CR-style digest SCRAM-SHA-1
// salts its PBKDF2 derivation with, grounded on teacher's
// mongoPasswordDigest helper (md5("username:mongo:password")).
func mongoPasswordDigest(username, password string) string {
	h := md5.New()
	_, _ = fmt.Fprintf(h, "%s:mongo:%s", username, password)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *ScramSHA1Authenticator) Authenticate(ctx context.Context, conn driver.Channel, hello topology.HelloResult, monitor *event.CommandMonitor, connAddr string) error {
	source := a.Source
	if source == "" {
		source = "admin"
	}

	nonce := make([]byte, scramSHA1NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("scram-sha-1: generate nonce: %w", err)
	}
	clientNonce := make([]byte, base64.StdEncoding.EncodedLen(len(nonce)))
	base64.StdEncoding.Encode(clientNonce, nonce)

	clientFirstMessageBare := "n=" + usernameSanitizer.Replace(a.Username) + ",r=" + string(clientNonce)
	payload := []byte("n,," + clientFirstMessageBare)

	startCmd := buildSaslStart(SCRAMSHA1, payload, source)
	reply, err := authRoundTrip(ctx, conn, monitor, source, connAddr, startCmd)
	if err != nil {
		return err
	}
	resp, err := decodeSaslResponse(reply)
	if err != nil {
		return err
	}

	clientFinalMessage, serverSignature, err := scramSHA1Step1(a.Username, a.Password, clientNonce, clientFirstMessageBare, resp.payload)
	if err != nil {
		return err
	}

	continueCmd := buildSaslContinue(resp.conversationID, clientFinalMessage)
	reply, err = authRoundTrip(ctx, conn, monitor, source, connAddr, continueCmd)
	if err != nil {
		return err
	}
	resp, err = decodeSaslResponse(reply)
	if err != nil {
		return err
	}
	if err := scramSHA1Step2(serverSignature, resp.payload); err != nil {
		return err
	}

	if resp.done {
		return nil
	}

	// A server that hasn't set done yet expects an empty confirmation
	// round trip, grounded on the same tail step the SCRAM-SHA-256
	// conversation loop performs in scram.go.
	finalCmd := buildSaslContinue(resp.conversationID, nil)
	_, err = authRoundTrip(ctx, conn, monitor, source, connAddr, finalCmd)
	return err
}

func scramSHA1Step1(username, password string, clientNonce []byte, clientFirstMessageBare string, challenge []byte) (clientFinalMessage []byte, serverSignature []byte, err error) {
	fields := bytes.Split(challenge, []byte{','})
	if len(fields) != 3 {
		return nil, nil, fmt.Errorf("scram-sha-1: invalid server response")
	}
	if !bytes.HasPrefix(fields[0], []byte("r=")) {
		return nil, nil, fmt.Errorf("scram-sha-1: invalid nonce")
	}
	r := fields[0][2:]
	if !bytes.HasPrefix(r, clientNonce) {
		return nil, nil, fmt.Errorf("scram-sha-1: server nonce does not extend client nonce")
	}
	if !bytes.HasPrefix(fields[1], []byte("s=")) {
		return nil, nil, fmt.Errorf("scram-sha-1: invalid salt")
	}
	salt := make([]byte, base64.StdEncoding.DecodedLen(len(fields[1][2:])))
	n, err := base64.StdEncoding.Decode(salt, fields[1][2:])
	if err != nil {
		return nil, nil, fmt.Errorf("scram-sha-1: decode salt: %w", err)
	}
	salt = salt[:n]
	if !bytes.HasPrefix(fields[2], []byte("i=")) {
		return nil, nil, fmt.Errorf("scram-sha-1: invalid iteration count")
	}
	iterations, err := strconv.Atoi(string(fields[2][2:]))
	if err != nil {
		return nil, nil, fmt.Errorf("scram-sha-1: parse iteration count: %w", err)
	}

	clientFinalMessageWithoutProof := "c=biws,r=" + string(r)
	authMessage := clientFirstMessageBare + "," + string(challenge) + "," + clientFinalMessageWithoutProof

	saltedPassword := pbkdf2.Key([]byte(mongoPasswordDigest(username, password)), salt, iterations, 20, sha1.New)
	clientKey := hmacSHA1(saltedPassword, "Client Key")
	storedKey := sha1Sum(clientKey)
	clientSignature := hmacSHA1(storedKey, authMessage)
	proof := xorBytes(clientKey, clientSignature)
	serverKey := hmacSHA1(saltedPassword, "Server Key")
	serverSignature = hmacSHA1(serverKey, authMessage)

	proofField := "p=" + base64.StdEncoding.EncodeToString(proof)
	return []byte(clientFinalMessageWithoutProof + "," + proofField), serverSignature, nil
}

func scramSHA1Step2(expectedServerSignature []byte, finalChallenge []byte) error {
	fields := bytes.Split(finalChallenge, []byte{','})
	if len(fields) != 1 || !bytes.HasPrefix(fields[0], []byte("v=")) {
		if len(fields) == 1 && bytes.HasPrefix(fields[0], []byte("e=")) {
			return fmt.Errorf("scram-sha-1: server rejected final message: %s", fields[0][2:])
		}
		return fmt.Errorf("scram-sha-1: invalid server verification message")
	}
	v := make([]byte, base64.StdEncoding.DecodedLen(len(fields[0][2:])))
	n, err := base64.StdEncoding.Decode(v, fields[0][2:])
	if err != nil {
		return fmt.Errorf("scram-sha-1: decode server signature: %w", err)
	}
	if !bytes.Equal(expectedServerSignature, v[:n]) {
		return fmt.Errorf("scram-sha-1: server signature mismatch")
	}
	return nil
}

func hmacSHA1(key []byte, data string) []byte {
	h := hmac.New(sha1.New, key)
	_, _ = h.Write([]byte(data))
	return h.Sum(nil)
}

func sha1Sum(data []byte) []byte {
	h := sha1.New()
	_, _ = h.Write(data)
	return h.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
