// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sse provides Server-Sent Events (SSE) processing utilities.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"reflect"
)

// Process reads and processes Server-Sent Events (SSE) from the provided reader.
//
// It parses the SSE format and decodes JSON messages into values of type T. The decoded values are sent
// to the iterator. If decoding into T fails, it tries to decode into er, the error type; if that
// succeeds, the error is returned and the iterator stops.
//
// https://developer.mozilla.org/en-US/docs/Web/API/Server-sent%5Fevents/Using%5Fserver-sent%5Fevents
func Process[T any](body io.Reader, er error, lenient bool) (iter.Seq[T], func() error) {
	var finalErr error
	it := func(yield func(T) bool) {
		r := bufio.NewReader(body)
		for {
			line, err := r.ReadBytes('\n')
			line = bytes.TrimSpace(line)
			if errors.Is(err, io.EOF) {
				if len(line) == 0 {
					return
				}
			} else if err != nil {
				finalErr = fmt.Errorf("sse: failed to read server response: %w", err)
				return
			}
			if len(line) == 0 {
				continue
			}

			switch {
			case bytes.HasPrefix(line, dataPrefix):
				suffix := line[len(dataPrefix):]
				if bytes.Equal(suffix, done) {
					return
				}
				var msg T
				if err := decodeStrict(suffix, &msg, lenient); err == nil {
					if !isZero(&msg) {
						if !yield(msg) {
							return
						}
						continue
					}
				} else if er == nil {
					finalErr = fmt.Errorf("sse: failed to decode server response %q: %w", string(line), err)
					return
				} else if err2 := decodeStrict(suffix, er, lenient); err2 == nil {
					finalErr = er
					return
				} else {
					finalErr = fmt.Errorf("sse: failed to decode server response %q: %w", string(line), err)
					return
				}
			case bytes.Equal(line, keepAlive):
				// Ignore keep-alive messages.
			case bytes.HasPrefix(line, eventPrefix):
				// Ignore event headers.
			default:
				finalErr = fmt.Errorf("sse: unexpected line. expected %q, got %q", dataPrefix, line)
				return
			}
		}
	}
	return it, func() error {
		return finalErr
	}
}

func decodeStrict(b []byte, out any, lenient bool) error {
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	if !lenient {
		d.DisallowUnknownFields()
	}
	return d.Decode(out)
}

func isZero(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Elem().IsZero()
}

var (
	dataPrefix  = []byte("data: ")
	eventPrefix = []byte("event:")
	done        = []byte("[DONE]")
	keepAlive   = []byte(": keep-alive")
)
