// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package internaltest provides shared HTTP-recording test plumbing for the provider wire-dialect
// clients and the capability resolver.
package internaltest

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/ridgeway-oss/cgen/internal/myrecorder"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/cassette"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"
)

// Records tracks cassette recordings across a test binary and fails the run if any cassette under
// testdata/ was not touched by the tests that ran.
type Records struct {
	r *myrecorder.Records
}

func NewRecords() *Records {
	rr, err := myrecorder.NewRecords("testdata")
	if err != nil {
		panic(err)
	}
	return &Records{r: rr}
}

// Close reports orphaned cassettes, unless the test run was filtered with -run.
func (r *Records) Close() int {
	filtered := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "test.run" {
			filtered = true
		}
	})
	if filtered {
		return 0
	}
	if err := r.r.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

// Record records and replays HTTP requests for unit testing.
//
// When the environment variable RECORD=1 is set, it forcibly re-records the cassette and saves it
// to testdata/<testname>.yaml.
func (r *Records) Record(t *testing.T, h http.RoundTripper, opts ...recorder.Option) http.RoundTripper {
	rr, err := r.r.Record(t.Name(), h, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := rr.Stop(); err != nil {
			t.Error(err)
		}
	})
	return rr
}

// SaveIgnorePort is a recorder.HookFunc that strips the host port before persisting a cassette.
func SaveIgnorePort(t *testing.T, i *cassette.Interaction) error {
	i.Request.Host = strings.Split(i.Request.Host, ":")[0]
	u, err := url.Parse(i.Request.URL)
	if err != nil {
		t.Fatal(err)
	}
	u.Host = strings.Split(u.Host, ":")[0]
	i.Request.URL = u.String()
	return nil
}

// MatchIgnorePort is a recorder.MatcherFunc that ignores the host port number, useful against a
// locally hosted OpenAI-compatible or llama.cpp server.
func MatchIgnorePort(r *http.Request, i cassette.Request) bool {
	r = r.Clone(r.Context())
	r.URL.Host = strings.Split(r.URL.Host, ":")[0]
	r.Host = strings.Split(r.Host, ":")[0]
	return myrecorder.DefaultMatcher(r, i)
}

// Log returns a slog.Logger that redirects to testing.TB.Log().
func Log(tb testing.TB) *slog.Logger {
	level := &slog.LevelVar{}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "test.v" {
			level.Set(slog.LevelDebug)
		}
	})
	return slog.New(slog.NewTextHandler(&testWriter{t: tb}, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case "level":
				a.Key = "l"
				a.Value = slog.StringValue(a.Value.String()[:3])
			case "time":
				a = slog.Attr{}
			}
			return a
		},
	}))
}

type testWriter struct {
	t testing.TB
}

func (tw *testWriter) Write(p []byte) (n int, err error) {
	tw.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}
