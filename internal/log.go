// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package internal

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/maruel/roundtrippers"
)

// LogTransport wraps t so every request/response pair is logged via log/slog.
//
// The cmd/grammar-probe and cmd/policy-builder tools install it; the capability resolver and the
// provider wire-dialect clients use it only when a caller passes it in as their transport wrapper.
func LogTransport(t http.RoundTripper) http.RoundTripper {
	ch := make(chan roundtrippers.Record, 1)
	go func() {
		for r := range ch {
			var reqb, respb []byte
			if r.Request.GetBody != nil {
				if b, _ := r.Request.GetBody(); b != nil {
					reqb, _ = io.ReadAll(b)
				}
			} else if b, ok := r.Request.Body.(io.ReadSeeker); ok {
				_, _ = b.Seek(0, io.SeekStart)
				reqb, _ = io.ReadAll(b)
			}
			if r.Response.Body != nil {
				respb, _ = io.ReadAll(r.Response.Body)
			}
			slog.InfoContext(r.Request.Context(), "http", "url", r.Request.URL.String(), "post", reqb, "resp", respb)
		}
	}()
	return &roundtrippers.Capture{Transport: t, C: ch}
}
