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

// defaultExtractPatterns recognizes the common phrasings models use to
// report insights, improvements and mistakes.
var defaultExtractPatterns = map[string][]string{
	"insights": {
		`(?im)^insights?[:\-]\s*(.+)$`,
		`(?i)(?:key insight|learned that|observed that)[:\s]+([^.\n]+)`,
	},
	"improvements": {
		`(?im)^improvements?[:\-]\s*(.+)$`,
		`(?i)(?:should improve|could improve|next time)[:\s]+([^.\n]+)`,
	},
	"mistakes": {
		`(?im)^mistakes?[:\-]\s*(.+)$`,
		`(?i)(?:went wrong|mistake was|failed to)[:\s]+([^.\n]+)`,
	},
}

const defaultMaxLengthPerCategory = 300

// ExtractCognitive pulls insight/improvement/mistake strings out of a loop
// iteration's result text using the configured regex patterns. Each
// category is capped at max_length_per_category characters.
func ExtractCognitive(text string, cfg *types.CognitiveExtractionConfig) map[string]string {
	out := map[string]string{"insights": "", "improvements": "", "mistakes": ""}
	if cfg != nil && !cfg.Enabled {
		return out
	}
	if text == "" {
		return out
	}

	patterns := defaultExtractPatterns
	maxLen := defaultMaxLengthPerCategory
	if cfg != nil {
		if len(cfg.ExtractPatterns) > 0 {
			patterns = cfg.ExtractPatterns
		}
		if cfg.MaxLengthPerCategory > 0 {
			maxLen = cfg.MaxLengthPerCategory
		}
	}

	for category, exprs := range patterns {
		var found []string
		for _, expr := range exprs {
			re, err := regexp.Compile(expr)
			if err != nil {
				continue
			}
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				if len(m) > 1 {
					if s := strings.TrimSpace(m[1]); s != "" {
						found = append(found, s)
					}
				}
			}
		}
		joined := strings.Join(found, "; ")
		if len(joined) > maxLen {
			joined = joined[:maxLen]
		}
		out[category] = joined
	}
	return out
}
