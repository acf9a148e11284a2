// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Command driverlite-example resolves connection configuration from
// flags and a .env file and prints the InitializerConfig it would
// hand to topology.Initialize, grounded on the teacher's
// examples/auth/main.go and examples/server_monitoring/main.go (flag
// parsing plus a pretty-printed dump of the negotiated state) -- this
// core has no concrete network transport (spec.md §1: transport
// mechanics are an external collaborator), so this binary stops short
// of dialing and only resolves and displays what it would send.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/tidwall/pretty"

	driver "github.com/nilkamal/driverlite/internal/driver"
	"github.com/nilkamal/driverlite/internal/driver/address"
	"github.com/nilkamal/driverlite/internal/driver/auth"
	"github.com/nilkamal/driverlite/internal/driver/topology"
)

var (
	addr           = flag.String("addr", "localhost:27017", "server address")
	appName        = flag.String("appname", "driverlite-example", "client application name")
	username       = flag.String("username", "", "SCRAM-SHA-256 username (blank disables auth)")
	loadBalanced   = flag.Bool("load-balanced", false, "connect through a load balancer")
	serverAPIVer   = flag.String("server-api-version", "", "declared stable API version (blank omits serverApi)")
)

func main() {
	flag.Parse()

	// A missing .env is not fatal -- flags and the process environment
	// remain authoritative, mirroring godotenv's own documented usage.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("driverlite-example: .env not loaded: %v", err)
	}

	password := os.Getenv("DRIVERLITE_PASSWORD")

	cfg := topology.InitializerConfig{
		Address:      address.Address(*addr),
		AppName:      *appName,
		Compressors:  []string{"snappy"},
		LoadBalanced: *loadBalanced,
		Username:     *username,
		RTT:          topology.NewRTTTracker(20),
	}

	if *serverAPIVer != "" {
		cfg.ServerAPI = driver.ServerAPI(*serverAPIVer)
	}

	if *username != "" {
		cfg.Authenticators = []topology.Authenticator{
			&auth.ScramAuthenticator{Source: "admin", Username: *username, Password: password},
		}
	}

	printConfig(cfg)
}

// printConfig renders cfg as pretty-printed JSON, grounded on the
// teacher's examples/server_monitoring/main.go dump-the-negotiated-
// state idiom, adapted from that example's github.com/kr/pretty
// struct formatter to this module's own github.com/tidwall/pretty
// JSON-byte formatter by marshaling first.
func printConfig(cfg topology.InitializerConfig) {
	summary := struct {
		Address      string   `json:"address"`
		AppName      string   `json:"appName"`
		Compressors  []string `json:"compressors"`
		LoadBalanced bool     `json:"loadBalanced"`
		Authenticated bool    `json:"authenticated"`
		ServerAPI    string   `json:"serverApiVersion,omitempty"`
	}{
		Address:       string(cfg.Address),
		AppName:       cfg.AppName,
		Compressors:   cfg.Compressors,
		LoadBalanced:  cfg.LoadBalanced,
		Authenticated: len(cfg.Authenticators) > 0,
	}
	if cfg.ServerAPI != nil {
		summary.ServerAPI = cfg.ServerAPI.ServerAPIVersion
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		log.Fatalf("driverlite-example: marshal config: %v", err)
	}
	fmt.Println(string(pretty.Pretty(raw)))
}
