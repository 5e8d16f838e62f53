// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package jsonutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation wraps all schema validation failures.
var ErrSchemaViolation = errors.New("schema violation")

// ValidateSchema checks doc against a JSON Schema document. All violations
// are joined into a single error so callers can surface them together.
func ValidateSchema(doc any, schema map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
}

// ParseWithSchema runs Parse and then validates the decoded value against
// schema. Schema failures follow the same strict/default/envelope rules as
// parse failures.
func ParseWithSchema(text string, schema map[string]any, opts Options) (any, error) {
	parsed, err := Parse(text, Options{Strict: true, Fields: opts.Fields})
	if err != nil {
		return failure(text, err, opts)
	}
	if schema != nil {
		if err := ValidateSchema(parsed, schema); err != nil {
			return failure(text, err, opts)
		}
	}
	return parsed, nil
}
