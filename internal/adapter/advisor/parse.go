package advisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/oracle"
)

// ErrUnparsableVerdict is returned when no verdict can be extracted from the
// reviewer's reply. Callers must treat it as a failure, never as approval.
var ErrUnparsableVerdict = errors.New("unparsable reviewer verdict")

type verdictDoc struct {
	Verdict           string           `json:"verdict"`
	Findings          []review.Finding `json:"findings"`
	Guidance          string           `json:"guidance"`
	Intent            string           `json:"intent"`
	StandardsVerified []string         `json:"standards_verified"`
}

// parseVerdict extracts a verdict document from raw model output. Models
// often wrap JSON in prose or code fences, so it tries increasingly lenient
// extractions in order: the whole reply as JSON, a fenced ```json block, the
// first balanced brace fragment. Total failure is terminal.
func parseVerdict(content string) (*oracle.Result, error) {
	candidates := []string{strings.TrimSpace(content)}
	if fenced := fencedBlock(content); fenced != "" {
		candidates = append(candidates, fenced)
	}
	if fragment := braceFragment(content); fragment != "" {
		candidates = append(candidates, fragment)
	}

	for _, c := range candidates {
		var doc verdictDoc
		if err := json.Unmarshal([]byte(c), &doc); err != nil {
			continue
		}
		if doc.Verdict == "" {
			continue
		}
		v := review.Verdict(doc.Verdict)
		if !v.Valid() {
			return nil, fmt.Errorf("%w: unknown verdict %q", ErrUnparsableVerdict, doc.Verdict)
		}
		return &oracle.Result{
			Verdict:           v,
			Findings:          doc.Findings,
			Guidance:          doc.Guidance,
			Intent:            doc.Intent,
			StandardsVerified: doc.StandardsVerified,
		}, nil
	}

	return nil, fmt.Errorf("%w: no verdict JSON found in reply", ErrUnparsableVerdict)
}

// fencedBlock returns the body of the first ```json (or bare ```) fence.
func fencedBlock(content string) string {
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(content, marker)
		if start < 0 {
			continue
		}
		rest := content[start+len(marker):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(rest[:end])
	}
	return ""
}

// braceFragment returns the first balanced {...} fragment, tracking string
// literals so braces inside values do not skew the depth count.
func braceFragment(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}
