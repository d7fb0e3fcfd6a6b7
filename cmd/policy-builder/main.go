// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command policy-builder fans the canonical grammar probe out over a (provider × model × dialect)
// matrix, rolls the results into a provider-grammar policy, and persists it alongside a snapshot of
// the discovered model catalog, so capability.Resolver can start from offline-built knowledge instead
// of an empty cache.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ridgeway-oss/cgen/capability"
	"github.com/ridgeway-oss/cgen/grammar/dialect"
	"github.com/ridgeway-oss/cgen/internal"
	"github.com/ridgeway-oss/cgen/internal/probe"
	"github.com/ridgeway-oss/cgen/policy"
)

// tally accumulates one provider's probe counts across every model and dialect probed for it.
type tally struct {
	obeysByDialect  map[string]int
	rejectByDialect map[string]int
	anyObeys        bool
}

func newTally() *tally {
	return &tally{obeysByDialect: map[string]int{}, rejectByDialect: map[string]int{}}
}

func (t *tally) record(rec probe.Record) {
	switch rec.Outcome {
	case probe.AcceptsObeys:
		t.obeysByDialect[string(rec.Dialect)]++
		t.anyObeys = true
	case probe.Reject:
		t.rejectByDialect[string(rec.Dialect)]++
	}
}

// recommend picks the dialect with the most accepts+obeys, breaking ties by fewest rejects.
func (t *tally) recommend() string {
	best, bestObeys, bestRejects := "", -1, int(^uint(0)>>1)
	for d, obeys := range t.obeysByDialect {
		rejects := t.rejectByDialect[d]
		if obeys > bestObeys || (obeys == bestObeys && rejects < bestRejects) {
			best, bestObeys, bestRejects = d, obeys, rejects
		}
	}
	return best
}

func buildPolicy(records []probe.Record, order []string) policy.ProviderGrammarPolicy {
	tallies := map[string]*tally{}
	for _, rec := range records {
		key := strings.ToLower(strings.TrimSpace(rec.Provider))
		t, ok := tallies[key]
		if !ok {
			t = newTally()
			tallies[key] = t
		}
		t.record(rec)
	}

	priority := map[string]int{}
	for i, p := range order {
		priority[strings.ToLower(strings.TrimSpace(p))] = i
	}

	out := policy.ProviderGrammarPolicy{}
	for key, t := range tallies {
		totalObeys, totalRejects := 0, 0
		for _, n := range t.obeysByDialect {
			totalObeys += n
		}
		for _, n := range t.rejectByDialect {
			totalRejects += n
		}
		out[key] = policy.ProviderEntry{
			SupportsGrammar:   t.anyObeys,
			RecommendedFormat: dialect.Kind(t.recommend()),
			Priority:          priority[key],
			Reason:            fmt.Sprintf("%d accepts+obeys, %d rejects across probed dialects", totalObeys, totalRejects),
		}
	}
	return out
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	apiBase := flag.String("api-base", capability.DefaultAPIBase, "aggregator API base")
	apiKey := flag.String("api-key", os.Getenv("CGEN_API_KEY"), "API key; defaults to $CGEN_API_KEY")
	providersFlag := flag.String("providers", "", "comma-separated provider-routing tokens to probe, e.g. fireworks,together")
	modelsFlag := flag.String("models", "", "comma-separated model ids to probe each provider with")
	variant := flag.String("variant", string(probe.ChatCompletions), "wire variant: chatcompletions or responses")
	concurrency := flag.Int("concurrency", 8, "maximum concurrent probe requests in flight")
	policyOut := flag.String("policy-out", "policy.json", "path to write the provider-grammar policy envelope")
	catalogOut := flag.String("catalog-out", "catalog.json", "path to write the discovered model catalog snapshot")
	verbose := flag.Bool("v", false, "log every HTTP request/response")
	flag.Parse()

	providerList := splitNonEmpty(*providersFlag)
	modelList := splitNonEmpty(*modelsFlag)
	if len(providerList) == 0 {
		return errors.New("-providers is required")
	}
	if len(modelList) == 0 {
		return errors.New("-models is required")
	}

	var wrapper func(http.RoundTripper) http.RoundTripper
	if *verbose {
		wrapper = internal.LogTransport
	}

	var mu sync.Mutex
	var records []probe.Record

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(*concurrency)
	for _, provName := range providerList {
		for _, model := range modelList {
			for _, d := range probe.AllDialects {
				provName, model, d := provName, model, d
				eg.Go(func() error {
					rec := probe.Run(egCtx, probe.Request{
						APIBase:  *apiBase,
						APIKey:   *apiKey,
						Model:    model,
						Provider: provName,
						Variant:  probe.Variant(*variant),
						Dialect:  d,
					}, wrapper)
					mu.Lock()
					records = append(records, rec)
					mu.Unlock()
					return nil
				})
			}
		}
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Provider != records[j].Provider {
			return records[i].Provider < records[j].Provider
		}
		return records[i].Model < records[j].Model
	})

	builtPolicy := buildPolicy(records, providerList)
	if err := writePolicy(*policyOut, builtPolicy); err != nil {
		return err
	}

	resolver := capability.NewResolver(nil)
	catalogs := map[string]capability.Catalog{}
	base := capability.NormalizeAPIBase(*apiBase)
	catalog, err := resolver.FetchModelsCatalog(ctx, *apiBase, *apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy-builder: fetching catalog for %s: %s\n", base, err)
	}
	catalogs[base] = catalog
	return writeCatalogSnapshot(*catalogOut, catalogs)
}

func writePolicy(path string, p policy.ProviderGrammarPolicy) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return policy.Save(f, p)
}

func writeCatalogSnapshot(path string, catalogs map[string]capability.Catalog) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return capability.SaveCatalogSnapshot(f, catalogs)
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	if err := mainImpl(); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "policy-builder: %s\n", err)
		}
		os.Exit(1)
	}
}
