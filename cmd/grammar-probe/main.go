// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command grammar-probe issues a single canonical grammar-constrained request against one
// (provider, model, dialect) combination and prints the classified outcome as JSON.
//
// It is the manual, one-off counterpart to cmd/policy-builder, which fans this same probe out over a
// whole matrix and persists the result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ridgeway-oss/cgen/capability"
	"github.com/ridgeway-oss/cgen/grammar/dialect"
	"github.com/ridgeway-oss/cgen/internal"
	"github.com/ridgeway-oss/cgen/internal/probe"
)

// transportWrapper returns the logging transport wrapper probe.Run should thread through the provider
// client when verbose is set, or nil otherwise.
func transportWrapper(verbose bool) func(http.RoundTripper) http.RoundTripper {
	if !verbose {
		return nil
	}
	return internal.LogTransport
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	apiBase := flag.String("api-base", capability.DefaultAPIBase, "aggregator API base, e.g. https://openrouter.ai/api/v1")
	apiKey := flag.String("api-key", os.Getenv("CGEN_API_KEY"), "API key; defaults to $CGEN_API_KEY")
	model := flag.String("model", "", "model id as listed in the /models catalog")
	providerTok := flag.String("provider", "", "provider-routing token to force, e.g. fireworks")
	variant := flag.String("variant", string(probe.ChatCompletions), "wire variant: chatcompletions or responses")
	dialectName := flag.String("dialect", string(dialect.Lark), "grammar dialect to probe: regex, lark, or gbnf")
	verbose := flag.Bool("v", false, "log every HTTP request/response")
	flag.Parse()

	if *model == "" {
		return errors.New("-model is required")
	}
	if *providerTok == "" {
		return errors.New("-provider is required")
	}

	req := probe.Request{
		APIBase:  *apiBase,
		APIKey:   *apiKey,
		Model:    *model,
		Provider: *providerTok,
		Variant:  probe.Variant(*variant),
		Dialect:  dialect.Kind(*dialectName),
	}

	rec := probe.Run(ctx, req, transportWrapper(*verbose))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func main() {
	if err := mainImpl(); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "grammar-probe: %s\n", err)
		}
		os.Exit(1)
	}
}
