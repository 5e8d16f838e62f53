// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package jsonutil extracts structured JSON from free-form LLM text.
// Model output routinely wraps JSON in reasoning blocks, markdown fences,
// or Python literal syntax; the parse pipeline here strips, extracts,
// normalizes and repairs before giving up.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrParseFailed is returned in strict mode when no parse attempt succeeds.
var ErrParseFailed = errors.New("json parse failed")

// ParseFailedEnvelope is the error key placed in the non-strict failure
// envelope.
const ParseFailedEnvelope = "json_parse_failed"

// Options controls terminal-failure behavior and post-parse validation.
type Options struct {
	// Strict makes Parse return an error instead of an envelope or default.
	Strict bool
	// Default, when non-nil, is returned instead of the failure envelope.
	Default any
	// Fields, when set, drives required/typed/defaulted field validation on
	// object results.
	Fields []FieldSpec
}

// FieldType names the coercion target for a field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldObject FieldType = "object"
	FieldArray  FieldType = "array"
)

// FieldSpec declares one expected field of a parsed object.
type FieldSpec struct {
	Name     string
	Type     FieldType
	Required bool
	Default  any
}

// Parse runs the full extraction pipeline over text and returns the decoded
// value. Non-strict failures return the caller default when set, otherwise a
// {"error": "json_parse_failed", ...} envelope with a nil error.
func Parse(text string, opts Options) (any, error) {
	parsed, err := parseValue(text)
	if err != nil {
		return failure(text, err, opts)
	}

	if len(opts.Fields) > 0 {
		obj, ok := parsed.(map[string]any)
		if !ok {
			return failure(text, fmt.Errorf("expected object, got %T", parsed), opts)
		}
		if err := CoerceFields(obj, opts.Fields, opts.Strict); err != nil {
			return failure(text, err, opts)
		}
		return obj, nil
	}
	return parsed, nil
}

func parseValue(text string) (any, error) {
	candidate, ok := Extract(text)
	if !ok {
		return nil, fmt.Errorf("no JSON candidate in text")
	}

	var out any
	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return out, nil
	}

	normalized := Normalize(candidate)
	if err := json.Unmarshal([]byte(normalized), &out); err == nil {
		return out, nil
	}

	repaired := Repair(normalized)
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, fmt.Errorf("decode after repair: %w", err)
	}
	return out, nil
}

func failure(text string, cause error, opts Options) (any, error) {
	if opts.Strict {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, cause)
	}
	if opts.Default != nil {
		return opts.Default, nil
	}
	raw := text
	if len(raw) > 500 {
		raw = raw[:500]
	}
	return map[string]any{
		"error":  ParseFailedEnvelope,
		"detail": cause.Error(),
		"raw":    raw,
	}, nil
}

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	jsonFence  = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	anyFence   = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
)

// Extract locates the most likely JSON payload in text: reasoning blocks
// are stripped first, then a ```json fence is preferred, then any fence,
// then the first balanced {...} or [...] span.
func Extract(text string) (string, bool) {
	text = thinkBlock.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	if m := jsonFence.FindStringSubmatch(text); m != nil {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			return inner, true
		}
	}
	if m := anyFence.FindStringSubmatch(text); m != nil {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
			return inner, true
		}
	}
	if span, ok := balancedSpan(text); ok {
		return span, true
	}
	return "", false
}

// balancedSpan returns the first balanced top-level {...} or [...] region,
// respecting string literals.
func balancedSpan(text string) (string, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if text[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	var quote byte
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == quote {
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	// Unterminated: return the tail so the repair pass can close it.
	return text[start:], true
}

var (
	pyTrue  = regexp.MustCompile(`\bTrue\b`)
	pyFalse = regexp.MustCompile(`\bFalse\b`)
	pyNone  = regexp.MustCompile(`\bNone\b`)
)

// Normalize converts Python literal syntax into JSON: True/False/None,
// single-quoted strings, and trailing commas.
func Normalize(s string) string {
	s = replaceOutsideStrings(s, func(chunk string) string {
		chunk = pyTrue.ReplaceAllString(chunk, "true")
		chunk = pyFalse.ReplaceAllString(chunk, "false")
		chunk = pyNone.ReplaceAllString(chunk, "null")
		return chunk
	})
	s = convertSingleQuotes(s)
	s = stripTrailingCommas(s)
	return s
}

// Repair closes unterminated strings, objects and arrays left by truncated
// model output.
func Repair(s string) string {
	var stack []byte
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimRight(s, " \t\n\r,"))
	if inString {
		sb.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		sb.WriteByte(stack[i])
	}
	return sb.String()
}

// replaceOutsideStrings applies fn only to regions outside double-quoted
// string literals.
func replaceOutsideStrings(s string, fn func(string) string) string {
	var sb strings.Builder
	chunkStart := 0
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
				sb.WriteString(s[chunkStart : i+1])
				chunkStart = i + 1
			}
			continue
		}
		if c == '"' {
			inString = true
			sb.WriteString(fn(s[chunkStart:i]))
			chunkStart = i
		}
	}
	if chunkStart < len(s) {
		if inString {
			sb.WriteString(s[chunkStart:])
		} else {
			sb.WriteString(fn(s[chunkStart:]))
		}
	}
	return sb.String()
}

// convertSingleQuotes rewrites 'single quoted' strings as JSON double-quoted
// ones, escaping embedded double quotes.
func convertSingleQuotes(s string) string {
	var sb strings.Builder
	inDouble := false
	inSingle := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inDouble:
			sb.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				sb.WriteByte(s[i])
			} else if c == '"' {
				inDouble = false
			}
		case inSingle:
			switch c {
			case '\\':
				if i+1 < len(s) {
					i++
					if s[i] == '\'' {
						sb.WriteByte('\'')
					} else {
						sb.WriteByte('\\')
						sb.WriteByte(s[i])
					}
				}
			case '\'':
				sb.WriteByte('"')
				inSingle = false
			case '"':
				sb.WriteString(`\"`)
			default:
				sb.WriteByte(c)
			}
		case c == '"':
			inDouble = true
			sb.WriteByte(c)
		case c == '\'':
			inSingle = true
			sb.WriteByte('"')
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

func stripTrailingCommas(s string) string {
	return replaceOutsideStrings(s, func(chunk string) string {
		return trailingComma.ReplaceAllString(chunk, "$1")
	})
}

// CoerceFields validates obj in place against the field specs: required
// fields must be present, typed fields are coerced from their string forms,
// missing optional fields receive defaults. Unknown fields are rejected
// only in strict mode.
func CoerceFields(obj map[string]any, fields []FieldSpec, strict bool) error {
	known := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		known[f.Name] = struct{}{}

		val, present := obj[f.Name]
		if !present {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Name)
			}
			if f.Default != nil {
				obj[f.Name] = f.Default
			}
			continue
		}

		coerced, err := coerce(val, f.Type)
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		obj[f.Name] = coerced
	}

	if strict {
		for key := range obj {
			if _, ok := known[key]; !ok {
				return fmt.Errorf("unknown field %q", key)
			}
		}
	}
	return nil
}

func coerce(val any, ft FieldType) (any, error) {
	switch ft {
	case "", FieldString:
		if s, ok := val.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", val), nil
	case FieldNumber:
		switch t := val.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to number", t)
			}
			return f, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to number", val)
	case FieldBool:
		switch t := val.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(t)))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to bool", t)
			}
			return b, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to bool", val)
	case FieldObject:
		if m, ok := val.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to object", val)
	case FieldArray:
		if a, ok := val.([]any); ok {
			return a, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to array", val)
	}
	return nil, fmt.Errorf("unknown field type %q", ft)
}
