// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package template renders node prompts against run state. Rendering is
// best-effort by contract: template errors degrade to partial output or the
// raw template text, they never abort a run.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	texttemplate "text/template"

	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/types"
)

// Renderer substitutes run-state values into prompt templates. Templates
// use {{ ... }} actions with dotted-path variable access
// ({{ input }}, {{ previous_outputs.classify.result }}), function lookups
// ({{ get_input() }}, {{ get_agent_response("classify") }}), filters
// ({{ topic | upper }}, {{ score | default "0" }}), and the standard
// range/if constructs.
type Renderer struct {
	logger *zap.Logger
}

// NewRenderer creates a renderer.
func NewRenderer(logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{logger: logger}
}

// Render substitutes rc's state into tmpl. Extra values (loop score,
// iteration metadata) override context keys of the same name.
func (r *Renderer) Render(tmpl string, rc *types.RunContext, extra map[string]any) string {
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	data := BuildContext(rc)
	for k, v := range extra {
		data[k] = v
	}

	rendered, err := r.render(tmpl, data, rc)
	if err != nil {
		r.logger.Debug("Template render degraded to literal substitution",
			zap.Error(err))
		return literalSubstitute(tmpl, data)
	}
	return rendered
}

func (r *Renderer) render(tmpl string, data map[string]any, rc *types.RunContext) (string, error) {
	normalized := normalize(tmpl)

	t, err := texttemplate.New("prompt").Funcs(funcMap(rc)).Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	// text/template renders missing map keys as "<no value>"; keep the
	// output but strip the marker so prompts stay readable.
	return strings.ReplaceAll(sb.String(), "<no value>", ""), nil
}

// BuildContext exposes the run context under the documented template names.
func BuildContext(rc *types.RunContext) map[string]any {
	data := map[string]any{
		"input":    rc.Input,
		"trace_id": rc.TraceID,
	}
	if rc.LoopNumber > 0 {
		data["loop_number"] = rc.LoopNumber
	}
	if len(rc.PastLoops) > 0 {
		data["past_loops"] = rc.PastLoops
	}
	if rc.FormattedPrompt != "" {
		data["formatted_prompt"] = rc.FormattedPrompt
	}

	prev := make(map[string]any, len(rc.PreviousOutputs))
	for id, out := range rc.PreviousOutputs {
		prev[id] = map[string]any{
			"result": out.Result,
			"status": string(out.Status),
			"error":  out.Error,
		}
	}
	data["previous_outputs"] = prev
	return data
}

func funcMap(rc *types.RunContext) texttemplate.FuncMap {
	return texttemplate.FuncMap{
		"get_input": func() string { return rc.InputString() },
		"get_agent_response": func(id string) string {
			if out, ok := rc.PreviousOutputs[id]; ok {
				return out.ResultString()
			}
			return ""
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
		"default": func(def string, val any) string {
			s := toString(val)
			if s == "" {
				return def
			}
			return s
		},
		"json": func(v any) string {
			data, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(data)
		},
	}
}

var (
	callNoArgs  = regexp.MustCompile(`([a-z_][a-z0-9_]*)\(\s*\)`)
	callStrArg  = regexp.MustCompile(`([a-z_][a-z0-9_]*)\(\s*"([^"]*)"\s*\)`)
	bareVarExpr = regexp.MustCompile(`\{\{-?\s*([a-z_][a-zA-Z0-9_.]*)`)
)

// template keywords and registered functions that must not get a leading dot.
var reservedWords = map[string]struct{}{
	"if": {}, "else": {}, "end": {}, "range": {}, "with": {}, "not": {},
	"and": {}, "or": {}, "eq": {}, "ne": {}, "lt": {}, "gt": {}, "le": {}, "ge": {},
	"len": {}, "index": {}, "printf": {}, "print": {}, "template": {}, "block": {}, "define": {},
	"get_input": {}, "get_agent_response": {}, "upper": {}, "lower": {},
	"trim": {}, "default": {}, "json": {},
}

// normalize rewrites the documented prompt syntax into text/template form:
// function call parentheses are dropped and bare variable names gain the
// leading dot.
func normalize(tmpl string) string {
	out := callNoArgs.ReplaceAllString(tmpl, "$1")
	out = callStrArg.ReplaceAllString(out, `$1 "$2"`)
	out = bareVarExpr.ReplaceAllStringFunc(out, func(match string) string {
		sub := bareVarExpr.FindStringSubmatch(match)
		name := sub[1]
		root := name
		if i := strings.IndexByte(name, '.'); i >= 0 {
			root = name[:i]
		}
		if _, reserved := reservedWords[root]; reserved {
			return match
		}
		return strings.Replace(match, name, "."+name, 1)
	})
	// Second pass for variables appearing after keywords or pipes, e.g.
	// {{ if score }} or {{ range past_loops }}.
	afterKeyword := regexp.MustCompile(`(\{\{-?\s*(?:if|range|with)\s+)([a-z_][a-zA-Z0-9_.]*)`)
	out = afterKeyword.ReplaceAllStringFunc(out, func(match string) string {
		sub := afterKeyword.FindStringSubmatch(match)
		root := sub[2]
		if i := strings.IndexByte(root, '.'); i >= 0 {
			root = root[:i]
		}
		if _, reserved := reservedWords[root]; reserved {
			return match
		}
		return sub[1] + "." + sub[2]
	})
	return out
}

// literalSubstitute is the degraded path: plain {{key}} replacement against
// top-level context values, leaving unknown placeholders in place.
func literalSubstitute(tmpl string, data map[string]any) string {
	out := tmpl
	for key, val := range data {
		placeholder := "{{ " + key + " }}"
		out = strings.ReplaceAll(out, placeholder, toString(val))
		out = strings.ReplaceAll(out, "{{"+key+"}}", toString(val))
	}
	return out
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}
