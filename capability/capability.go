// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package capability resolves what an OpenRouter-style model catalog and its per-model endpoints say
// a given model actually supports, behind two TTL-bounded caches so repeated calls for the same model
// within a request burst do not each round-trip to the provider.
package capability

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/maruel/httpjson"
	"github.com/maruel/roundtrippers"
	"github.com/ridgeway-oss/cgen/grammar/dialect"
	"github.com/ridgeway-oss/cgen/internal/httpx"
	"github.com/ridgeway-oss/cgen/policy"
)

// TTLs bounding how long a cache entry is trusted. A failed fetch is cached too, under the shorter
// failure TTL, so a burst of callers hitting a down endpoint collapses into a single retry cadence
// rather than one HTTP call per caller.
const (
	ModelsTTL           = time.Hour
	ModelsFailureTTL    = 60 * time.Second
	EndpointsTTL        = 300 * time.Second
	EndpointsFailureTTL = 60 * time.Second

	// TopLogprobsSafeMax is the largest top_logprobs value ever forwarded to a provider, regardless of
	// what the caller asked for.
	TopLogprobsSafeMax = 20

	DefaultAPIBase = "https://openrouter.ai/api/v1"
)

// providerGrammarFormatHints maps a provider-routing token to the grammar dialect it actually accepts,
// for providers whose catalog entry doesn't otherwise say. Fireworks exposes its grammar support as a
// GBNF response_format rather than the default lark dialect.
var providerGrammarFormatHints = map[string]dialect.Kind{
	"fireworks": dialect.GBNF,
}

// ModelMetadata is one row of the /models catalog response.
type ModelMetadata struct {
	ID                  string   `json:"id"`
	CanonicalSlug       string   `json:"canonical_slug"`
	SupportedParameters []string `json:"supported_parameters"`
	Architecture        struct {
		InputModalities  []string `json:"input_modalities"`
		OutputModalities []string `json:"output_modalities"`
	} `json:"architecture"`
}

// Catalog maps a normalized model id or canonical slug to its metadata.
type Catalog map[string]ModelMetadata

// Endpoint is one entry of a model's /endpoints response: one deployment of that model on one
// upstream provider, with its own supported_parameters.
type Endpoint struct {
	ProviderName        string   `json:"provider_name"`
	Tag                 string   `json:"tag"`
	Name                string   `json:"name"`
	SupportedParameters []string `json:"supported_parameters"`
}

// ProviderRoutingDirective mirrors the subset of an OpenRouter `provider` routing object the resolver
// needs: the ordered list of providers the caller constrained routing to, and whether routing is
// restricted to endpoints that declare the request's parameters (then one declaring candidate is
// enough for ParameterSupported; without it, every candidate must declare the parameter).
type ProviderRoutingDirective struct {
	Order             []string
	RequireParameters bool
	AllowFallbacks    bool
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *errorResponse) String() string { return e.Error.Message }

type modelsResponse struct {
	Data []ModelMetadata `json:"data"`
}

type endpointsResponse struct {
	Data struct {
		Endpoints []Endpoint `json:"endpoints"`
	} `json:"data"`
}

type cacheKey struct{ a, b string }

type modelsCacheEntry struct {
	expires time.Time
	catalog Catalog
}

type endpointsCacheEntry struct {
	expires   time.Time
	endpoints []Endpoint
}

// Resolver answers capability questions about models served through an OpenRouter-shaped /models and
// /models/<author>/<slug>/endpoints API, backed by TTL-bounded success/failure caches.
type Resolver struct {
	policy policy.ProviderGrammarPolicy
	// Transport overrides the base transport used for catalog/endpoint fetches, e.g. to splice in a
	// recorded-cassette transport under test. Defaults to httpx.DefaultTransport.
	Transport http.RoundTripper

	mu             sync.Mutex
	modelsCache    map[cacheKey]modelsCacheEntry
	endpointsCache map[cacheKey]endpointsCacheEntry
}

// NewResolver returns a Resolver. grammarPolicy may be nil, in which case GrammarFormatFor falls back
// to the built-in provider hints and the lark default.
func NewResolver(grammarPolicy policy.ProviderGrammarPolicy) *Resolver {
	return &Resolver{
		policy:         grammarPolicy,
		modelsCache:    map[cacheKey]modelsCacheEntry{},
		endpointsCache: map[cacheKey]endpointsCacheEntry{},
	}
}

// clientFor builds a one-shot httpx.Base authenticated with apiKey, mirroring how every provider
// wire-dialect client bakes its API key into the transport rather than per-request headers.
func (r *Resolver) clientFor(apiKey string) httpx.Base[*errorResponse] {
	t := r.Transport
	if t == nil {
		t = httpx.DefaultTransport
	}
	if apiKey != "" {
		t = &roundtrippers.Header{
			Header:    http.Header{"Authorization": {"Bearer " + apiKey}},
			Transport: t,
		}
	}
	return httpx.Base[*errorResponse]{
		Name:       "openrouter-capability",
		ClientJSON: httpjson.Client{Lenient: true, Client: &http.Client{Transport: t, Timeout: 6 * time.Second}},
	}
}

// NormalizeAPIBase lowercases and trims raw_base, truncating it at and including the first "/api/v1"
// segment so a caller-supplied URL with extra trailing path components still hits the right cache
// bucket. An empty base defaults to OpenRouter's public endpoint.
func NormalizeAPIBase(rawBase string) string {
	base := strings.ToLower(strings.TrimSpace(rawBase))
	if base == "" {
		return DefaultAPIBase
	}
	const marker = "/api/v1"
	if idx := strings.Index(base, marker); idx >= 0 {
		return base[:idx+len(marker)]
	}
	return strings.TrimRight(base, "/")
}

func normalizeModelName(model string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(model), "/"))
}

func modelAliases(model string) []string {
	normalized := normalizeModelName(model)
	if normalized == "" {
		return nil
	}
	aliases := []string{normalized}
	if idx := strings.Index(normalized, ":"); idx >= 0 {
		aliases = append(aliases, normalized[:idx])
	}
	return aliases
}

// FetchModelsCatalog fetches (or returns the cached copy of) apiBase's /models catalog. A fetch
// failure is cached under ModelsFailureTTL and returned as an empty catalog alongside the error.
func (r *Resolver) FetchModelsCatalog(ctx context.Context, apiBase, apiKey string) (Catalog, error) {
	base := NormalizeAPIBase(apiBase)
	key := cacheKey{base, strings.TrimSpace(apiKey)}

	r.mu.Lock()
	if entry, ok := r.modelsCache[key]; ok && entry.expires.After(timeNow()) {
		r.mu.Unlock()
		return entry.catalog, nil
	}
	r.mu.Unlock()

	var resp modelsResponse
	client := r.clientFor(apiKey)
	err := client.DoRequest(ctx, "GET", base+"/models", nil, &resp)

	ttl := ModelsFailureTTL
	catalog := Catalog{}
	if err == nil {
		ttl = ModelsTTL
		for _, row := range resp.Data {
			id := normalizeModelName(row.ID)
			slug := normalizeModelName(row.CanonicalSlug)
			if id != "" {
				catalog[id] = row
			}
			if slug != "" {
				if _, exists := catalog[slug]; !exists {
					catalog[slug] = row
				}
			}
		}
	}

	r.mu.Lock()
	r.modelsCache[key] = modelsCacheEntry{expires: timeNow().Add(ttl), catalog: catalog}
	r.mu.Unlock()
	return catalog, err
}

// ResolveModelMetadata looks model up in apiBase's catalog, trying the model's bare slug (stripped of
// any ":variant" suffix) if the full name isn't found.
func (r *Resolver) ResolveModelMetadata(ctx context.Context, model, apiBase, apiKey string) (*ModelMetadata, error) {
	catalog, err := r.FetchModelsCatalog(ctx, apiBase, apiKey)
	if err != nil {
		return nil, err
	}
	for _, alias := range modelAliases(model) {
		if meta, ok := catalog[alias]; ok {
			return &meta, nil
		}
	}
	return nil, nil
}

func (r *Resolver) modelEndpointsURL(apiBase, model string) string {
	base := NormalizeAPIBase(apiBase)
	modelText := strings.Trim(strings.TrimSpace(model), "/")
	if modelText == "" {
		return ""
	}
	if author, slug, ok := strings.Cut(modelText, "/"); ok {
		return fmt.Sprintf("%s/models/%s/%s/endpoints", base, url.PathEscape(author), url.PathEscape(slug))
	}
	return fmt.Sprintf("%s/models/%s/endpoints", base, url.PathEscape(modelText))
}

// FetchModelEndpoints fetches (or returns the cached copy of) model's per-provider endpoint list. A
// fetch failure is cached under EndpointsFailureTTL and returned as an empty slice alongside the
// error.
func (r *Resolver) FetchModelEndpoints(ctx context.Context, apiBase, apiKey, model string) ([]Endpoint, error) {
	base := NormalizeAPIBase(apiBase)
	reqURL := r.modelEndpointsURL(apiBase, model)
	if reqURL == "" {
		return nil, nil
	}
	key := cacheKey{base, normalizeModelName(model)}

	r.mu.Lock()
	if entry, ok := r.endpointsCache[key]; ok && entry.expires.After(timeNow()) {
		r.mu.Unlock()
		return entry.endpoints, nil
	}
	r.mu.Unlock()

	var resp endpointsResponse
	client := r.clientFor(apiKey)
	err := client.DoRequest(ctx, "GET", reqURL, nil, &resp)

	ttl := EndpointsFailureTTL
	var endpoints []Endpoint
	if err == nil {
		ttl = EndpointsTTL
		endpoints = resp.Data.Endpoints
	}

	r.mu.Lock()
	r.endpointsCache[key] = endpointsCacheEntry{expires: timeNow().Add(ttl), endpoints: endpoints}
	r.mu.Unlock()
	return endpoints, err
}

func candidateEndpoints(endpoints []Endpoint, order []string) []Endpoint {
	if len(order) == 0 {
		return endpoints
	}
	var filtered []Endpoint
	for _, ep := range endpoints {
		providerName := strings.ToLower(strings.TrimSpace(ep.ProviderName))
		tag := strings.ToLower(strings.TrimSpace(ep.Tag))
		name := strings.ToLower(strings.TrimSpace(ep.Name))
		haystack := providerName + " " + tag + " " + name
		for _, token := range order {
			token = strings.ToLower(strings.TrimSpace(token))
			if token == providerName || token == tag || strings.Contains(haystack, token) {
				filtered = append(filtered, ep)
				break
			}
		}
	}
	if filtered == nil {
		return endpoints
	}
	return filtered
}

func parameterSupportedByEndpoints(endpoints []Endpoint, parameter string, requireParameters bool) bool {
	if len(endpoints) == 0 {
		return false
	}
	supportedCount := 0
	for _, ep := range endpoints {
		for _, p := range ep.SupportedParameters {
			if strings.TrimSpace(p) == parameter {
				supportedCount++
				break
			}
		}
	}
	if supportedCount <= 0 {
		return false
	}
	if requireParameters {
		return true
	}
	return supportedCount == len(endpoints)
}

func modelSupportsParameter(meta *ModelMetadata, parameter string) bool {
	if meta == nil {
		return false
	}
	for _, p := range meta.SupportedParameters {
		if strings.ToLower(strings.TrimSpace(p)) == parameter {
			return true
		}
	}
	return false
}

// ParameterSupported reports whether parameter is supported for model, preferring the global catalog
// entry unless routing constrains provider order, in which case the per-endpoint list is consulted
// instead.
func (r *Resolver) ParameterSupported(ctx context.Context, apiBase, apiKey, model, parameter string, routing ProviderRoutingDirective) (bool, error) {
	parameter = strings.ToLower(strings.TrimSpace(parameter))
	if parameter == "" {
		return false, nil
	}

	meta, err := r.ResolveModelMetadata(ctx, model, apiBase, apiKey)
	if err != nil {
		return false, err
	}
	if meta != nil && len(meta.SupportedParameters) > 0 && len(routing.Order) == 0 {
		return modelSupportsParameter(meta, parameter), nil
	}

	endpoints, err := r.FetchModelEndpoints(ctx, apiBase, apiKey, model)
	if err != nil {
		return false, err
	}
	candidates := candidateEndpoints(endpoints, routing.Order)
	if len(candidates) > 0 {
		return parameterSupportedByEndpoints(candidates, parameter, routing.RequireParameters), nil
	}
	return modelSupportsParameter(meta, parameter), nil
}

// LogprobsCapability reports whether model supports emitting logprobs at all, and whether it can also
// report the per-token top_logprobs alternatives.
func (r *Resolver) LogprobsCapability(ctx context.Context, apiBase, apiKey, model string, routing ProviderRoutingDirective) (supportsLogprobs, supportsTopLogprobs bool, err error) {
	supportsLogprobs, err = r.ParameterSupported(ctx, apiBase, apiKey, model, "logprobs", routing)
	if err != nil {
		return false, false, err
	}
	supportsTopLogprobs, err = r.ParameterSupported(ctx, apiBase, apiKey, model, "top_logprobs", routing)
	if err != nil {
		return supportsLogprobs, false, err
	}
	return supportsLogprobs, supportsTopLogprobs, nil
}

// NormalizeTopLogprobs clamps requested to [1, TopLogprobsSafeMax], or returns (0, false) when
// requested is nil or not positive.
func NormalizeTopLogprobs(requested *int) (int, bool) {
	if requested == nil || *requested <= 0 {
		return 0, false
	}
	n := *requested
	if n > TopLogprobsSafeMax {
		n = TopLogprobsSafeMax
	}
	return n, true
}

// SupportsGrammarResponseFormat reports whether model's catalog/endpoint data declares
// response_format support. Declaring structured_outputs alone — JSON-schema mode — does not imply
// free-form grammar support.
func (r *Resolver) SupportsGrammarResponseFormat(ctx context.Context, apiBase, apiKey, model string, routing ProviderRoutingDirective) (bool, error) {
	return r.ParameterSupported(ctx, apiBase, apiKey, model, "response_format", routing)
}

// GrammarFormatFor returns the grammar wire dialect to target given routing's provider order: the
// offline-built policy is consulted first, then the built-in provider hints, defaulting to lark.
func (r *Resolver) GrammarFormatFor(routing ProviderRoutingDirective) dialect.Kind {
	if len(routing.Order) == 0 {
		return dialect.Lark
	}
	first := strings.ToLower(strings.TrimSpace(routing.Order[0]))
	if r.policy != nil {
		if kind, ok := r.policy.FormatFor(first); ok {
			return kind
		}
	}
	for marker, kind := range providerGrammarFormatHints {
		if first == marker || strings.Contains(first, marker) {
			return kind
		}
	}
	return dialect.Lark
}

// Modalities returns model's declared input and output modalities (text, image, audio, ...).
func (r *Resolver) Modalities(ctx context.Context, apiBase, apiKey, model string) (input, output []string, err error) {
	meta, err := r.ResolveModelMetadata(ctx, model, apiBase, apiKey)
	if err != nil {
		return nil, nil, err
	}
	if meta == nil {
		return nil, nil, nil
	}
	return meta.Architecture.InputModalities, meta.Architecture.OutputModalities, nil
}

var timeNow = time.Now
