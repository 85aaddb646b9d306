// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"encoding/json"
	"regexp"
	"strings"
)

// LLM output is never trusted to be clean JSON: models wrap payloads
// in code fences, prepend prose, and emit Mongo shell syntax that is
// not valid JSON. These helpers normalize all of that before decode.

var (
	isoDateRe       = regexp.MustCompile(`ISODate\("([^"]+)"\)`)
	objectIDRe      = regexp.MustCompile(`ObjectId\("([^"]+)"\)`)
	numberLongRe    = regexp.MustCompile(`NumberLong\((\d+)\)`)
	numberIntRe     = regexp.MustCompile(`NumberInt\((\d+)\)`)
	numberDecimalRe = regexp.MustCompile(`NumberDecimal\("([^"]+)"\)`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// cleanShellSyntax rewrites Mongo shell constructs into plain JSON.
func cleanShellSyntax(s string) string {
	s = isoDateRe.ReplaceAllString(s, `"$1"`)
	s = objectIDRe.ReplaceAllString(s, `"$1"`)
	s = numberLongRe.ReplaceAllString(s, `$1`)
	s = numberIntRe.ReplaceAllString(s, `$1`)
	s = numberDecimalRe.ReplaceAllString(s, `$1`)
	s = trailingCommaRe.ReplaceAllString(s, `$1`)
	return s
}

// stripCodeFences extracts the payload from ```json ... ``` blocks,
// or returns the trimmed input when no fence is present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	for _, marker := range []string{"```json", "```"} {
		idx := strings.Index(s, marker)
		if idx == -1 {
			continue
		}
		rest := s[idx+len(marker):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	return s
}

// extractJSON decodes an LLM response into v. It tolerates fences,
// leading prose before the first bracket, and shell syntax. Returns
// false when nothing decodable was found.
func extractJSON(response string, v any) bool {
	if response == "" {
		return false
	}
	content := stripCodeFences(response)
	content = cleanShellSyntax(content)

	if json.Unmarshal([]byte(content), v) == nil {
		return true
	}

	// Leading prose: scan forward to the first plausible JSON start.
	if idx := strings.IndexAny(content, "[{"); idx > 0 {
		if json.Unmarshal([]byte(content[idx:]), v) == nil {
			return true
		}
	}
	return false
}
