// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package httpx is the shared HTTP/JSON client plumbing used by every
// provider wire-dialect client and by the capability resolver.
//
// It is not meant to be used by end users.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/maruel/httpjson"
	"github.com/maruel/roundtrippers"
)

// DefaultTransport wraps http.DefaultTransport with retries and request-ID tagging.
//
// Every outbound call the capability resolver and the provider clients make goes through this
// transport, unless the caller supplies its own via Base.ClientJSON.Client.
var DefaultTransport http.RoundTripper = &roundtrippers.Header{
	Transport: &roundtrippers.Retry{
		Transport: http.DefaultTransport,
		Policy: &roundtrippers.ExponentialBackoff{
			MaxTryCount: 5,
			MaxDuration: 30 * time.Second,
			Exp:         1.5,
		},
	},
	Header: http.Header{"User-Agent": []string{"cgen/1"}},
}

// ErrAPIKeyRequired is returned by a client constructor when no API key was found.
type ErrAPIKeyRequired struct {
	EnvVar string
	URL    string
}

func (e *ErrAPIKeyRequired) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("api key is required; set environment variable %s, or get one at %s", e.EnvVar, e.URL)
	}
	return fmt.Sprintf("api key is required; set environment variable %s", e.EnvVar)
}

// Base implements the shared HTTP client functionality used across the provider wire-dialect clients
// and the capability resolver's catalog/endpoint fetchers.
type Base[PErrorResponse fmt.Stringer] struct {
	// ClientJSON is exported for testing replay purposes.
	ClientJSON httpjson.Client
	// APIKeyURL is presented to the user upon an authentication error.
	APIKeyURL string
	// Name identifies the backing service in log lines and errors.
	Name string

	mu            sync.Mutex
	errorResponse reflect.Type
}

// DoRequest performs an HTTP request, decodes a 200 response into out, and turns a non-200 response
// into a structured error via DecodeError.
func (c *Base[PErrorResponse]) DoRequest(ctx context.Context, method, url string, in, out any) error {
	c.lateInit()
	resp, err := c.ClientJSON.Request(ctx, method, url, nil, in)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return c.DecodeError(url, resp)
	}
	b, err := io.ReadAll(resp.Body)
	if err2 := resp.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return err
	}
	r := bytes.NewReader(b)
	var r2 io.ReadSeeker
	d := json.NewDecoder(r)
	if !c.ClientJSON.Lenient {
		d.DisallowUnknownFields()
		r2 = r
	}
	if foundExtraKeys, err2 := decodeJSON(d, out, r2); err2 != nil && foundExtraKeys {
		return err2
	} else if err2 != nil {
		return err2
	}
	return nil
}

// DecodeError turns a non-200 HTTP response into a structured error, annotating 401s with APIKeyURL.
func (c *Base[PErrorResponse]) DecodeError(url string, resp *http.Response) error {
	c.lateInit()
	er := reflect.New(c.errorResponse).Interface().(PErrorResponse)
	b, err := io.ReadAll(resp.Body)
	if err2 := resp.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return err
	}
	r := bytes.NewReader(b)
	d := json.NewDecoder(r)
	var r2 io.ReadSeeker
	if !c.ClientJSON.Lenient {
		d.DisallowUnknownFields()
		r2 = r
	}
	if _, err := decodeJSON(d, er, r2); err == nil {
		if c.APIKeyURL != "" && resp.StatusCode == http.StatusUnauthorized {
			if s := er.String(); !strings.Contains(s, c.APIKeyURL) {
				return fmt.Errorf("http %d: %s. get a new API key at %s", resp.StatusCode, s, c.APIKeyURL)
			}
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, er)
	}
	if c.APIKeyURL != "" && resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("http %d: %s. get a new API key at %s", resp.StatusCode, http.StatusText(resp.StatusCode), c.APIKeyURL)
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

func (c *Base[PErrorResponse]) lateInit() {
	c.mu.Lock()
	if c.errorResponse == nil {
		var in PErrorResponse
		c.errorResponse = reflect.TypeOf(in).Elem()
	}
	c.mu.Unlock()
}

// decodeJSON decodes d into out, and on a shape mismatch re-decodes to report which fields don't match.
func decodeJSON(d *json.Decoder, out any, r io.ReadSeeker) (bool, error) {
	d.UseNumber()
	if err := d.Decode(out); err != nil {
		if r != nil {
			if s := err.Error(); strings.Contains(s, "json: unknown field ") || strings.Contains(s, "json: cannot unmarshal ") {
				for _, t := range []any{map[string]any{}, []any{}} {
					if _, err2 := r.Seek(0, 0); err2 != nil {
						return false, err2
					}
					d = json.NewDecoder(r)
					d.UseNumber()
					if err2 := d.Decode(&t); err2 == nil {
						if err2 = errors.Join(httpjson.FindExtraKeys(reflect.TypeOf(out), t)...); err2 != nil {
							return true, err2
						}
					}
				}
			}
		}
		return false, err
	}
	return false, nil
}
