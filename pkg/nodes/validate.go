// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"regexp"
	"strings"

	"github.com/teradata-labs/orka/pkg/types"
)

var (
	httpErrorPattern = regexp.MustCompile(`\b(?:4\d\d|5\d\d)\b\s*(?:error|bad request|unauthorized|forbidden|not found|too many requests|internal server error|service unavailable)|(?:error|status)\s*(?:code)?[:= ]\s*(?:4\d\d|5\d\d)\b`)
	htmlTagPattern   = regexp.MustCompile(`(?i)<\s*(?:html|head|body|div|span|p|br|title)\b`)
)

// failureMarkers are substrings that mark a string result as a transient or
// upstream failure rather than a usable answer.
var failureMarkers = []string{
	"error",
	"failed",
	"failure",
	"rate limit",
	"rate-limit",
	"timeout",
	"timed out",
	"exception",
}

// IsValidResult reports whether an output envelope counts as a usable
// success for failover purposes: non-empty, not an error status, and not a
// string that merely describes a failure.
func IsValidResult(out *types.Output) bool {
	if out == nil || out.Status == types.StatusError {
		return false
	}
	switch result := out.Result.(type) {
	case nil:
		return false
	case string:
		return isValidString(result)
	case []any:
		return len(result) > 0
	case map[string]any:
		if len(result) == 0 {
			return false
		}
		if _, hasErr := result["error"]; hasErr {
			return false
		}
		return true
	default:
		return true
	}
}

func isValidString(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	if lower == "none" || lower == "null" || lower == "nil" {
		return false
	}
	for _, marker := range failureMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	if httpErrorPattern.MatchString(lower) {
		return false
	}
	if htmlTagPattern.MatchString(trimmed) {
		return false
	}
	return true
}
