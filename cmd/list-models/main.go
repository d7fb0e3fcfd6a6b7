// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command list-models fetches and prints out the model catalog of an OpenRouter-shaped aggregator,
// the same catalog the capability resolver consults at runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sort"
	"strings"
	"syscall"

	"github.com/ridgeway-oss/cgen/capability"
)

func printStructDense(v any, indent string) string {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return indent + "nil"
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return indent + fmt.Sprintf("%v", v)
	}
	t := val.Type()
	var fields []string
	for i := range val.NumField() {
		f := val.Field(i)
		fn := t.Field(i).Name
		switch f.Kind() {
		case reflect.Struct:
			v := printStructDense(f.Interface(), indent+"  ")
			fields = append(fields, fmt.Sprintf("%s%s: {\n%s\n}", indent, fn, v))
		case reflect.Slice, reflect.Array:
			if f.Len() == 0 {
				fields = append(fields, fmt.Sprintf("%s%s: []", indent, fn))
			} else {
				var elements []string
				for j := range f.Len() {
					elements = append(elements, fmt.Sprintf("%v", f.Index(j).Interface()))
				}
				fields = append(fields, fmt.Sprintf("%s%s: [%s]", indent, fn, strings.Join(elements, ",")))
			}
		default:
			fields = append(fields, fmt.Sprintf("%s%s: %v", indent, fn, f.Interface()))
		}
	}
	return strings.Join(fields, "\n")
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	apiBase := flag.String("api-base", capability.DefaultAPIBase, "aggregator API base")
	apiKey := flag.String("api-key", os.Getenv("CGEN_API_KEY"), "API key; defaults to $CGEN_API_KEY")
	all := flag.Bool("all", false, "include all catalog fields per model")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected arguments")
	}

	resolver := capability.NewResolver(nil)
	catalog, err := resolver.FetchModelsCatalog(ctx, *apiBase, *apiKey)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(catalog))
	for id := range catalog {
		names = append(names, id)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
		if *all {
			meta := catalog[name]
			_, _ = os.Stdout.WriteString(printStructDense(&meta, "  ") + "\n")
		}
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "list-models: %s\n", err)
		}
		os.Exit(1)
	}
}
