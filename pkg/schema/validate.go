// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"embed"
	"encoding/json"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*
var schemaFiles embed.FS

func load(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Host + u.Path)
}

var ingestSchema = func() *jsonschema.Schema {
	jsonschema.Loaders["embedfs"] = load
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	return c.MustCompile("embedfs://schemas/ingest-payload.schema.json")
}()

// FieldError is one machine-readable schema violation, pointing at the
// offending field by JSON pointer.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidateIngestPayload decodes a raw ingest body, checks it against the
// batch schema and returns the leaf violations (or the decode error), or
// nil when the payload is valid.
func ValidateIngestPayload(body []byte) []FieldError {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return []FieldError{{Field: "", Error: err.Error()}}
	}

	err := ingestSchema.Validate(v)
	if err == nil {
		return nil
	}

	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []FieldError{{Field: "", Error: err.Error()}}
	}
	return flattenCauses(ve)
}

func flattenCauses(ve *jsonschema.ValidationError) []FieldError {
	if len(ve.Causes) == 0 {
		return []FieldError{{Field: ve.InstanceLocation, Error: ve.Message}}
	}
	errs := []FieldError{}
	for _, cause := range ve.Causes {
		errs = append(errs, flattenCauses(cause)...)
	}
	return errs
}
