// Package assertion evaluates a scenario's declarative content checks against
// the full captured output and emits deterministic, explainable verdicts.
//
// The assertions value arrives loosely typed: malformed entries (wrong type,
// missing pattern, bad normalization, invalid regex) are reported as failed
// assertions rather than aborting the run.
package assertion

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/Dicklesworthstone/frankenterm-e2e/internal/recorder"
)

// excerptSpan is the approximate length, in runes, of the context excerpt
// included in assertion details.
const excerptSpan = 96

var normForms = map[string]norm.Form{
	"nfc":  norm.NFC,
	"nfd":  norm.NFD,
	"nfkc": norm.NFKC,
	"nfkd": norm.NFKD,
}

// Evaluate runs every assertion against output. Each assertion emits exactly
// one assert event; failures additionally emit an error event. The returned
// slice holds the human-readable failure messages for the caller to fold into
// the run verdict.
func Evaluate(assertions any, output []byte, rec *recorder.Recorder) []string {
	if assertions == nil {
		return nil
	}
	list, ok := assertions.([]any)
	if !ok {
		msg := "scenario assertions must be an array"
		rec.Emit("assert",
			recorder.F("assertion", "scenario_assertions_schema"),
			recorder.F("status", "failed"),
			recorder.F("details", msg))
		rec.Emit("error", recorder.F("message", msg))
		return []string{msg}
	}

	outputText := string(bytes.ToValidUTF8(output, []byte("�")))
	var errs []string
	for idx, raw := range list {
		if msg := evaluateOne(idx, raw, outputText, rec); msg != "" {
			errs = append(errs, msg)
		}
	}
	return errs
}

// evaluateOne returns the failure message for one assertion entry, or "" on
// pass.
func evaluateOne(idx int, raw any, outputText string, rec *recorder.Recorder) string {
	assertionID := fmt.Sprintf("scenario_assert_%03d", idx)

	entry, ok := raw.(map[string]any)
	if !ok {
		msg := fmt.Sprintf("%s: assertion entry must be an object", assertionID)
		emitFailure(rec, assertionID, msg, "")
		return msg
	}

	if id, ok := entry["id"].(string); ok && id != "" {
		assertionID = id
	}
	category, ok := entry["category"].(string)
	if !ok {
		category = "unspecified"
	}
	kind, ok := entry["kind"].(string)
	if !ok {
		kind = "contains"
	}
	kind = strings.ToLower(kind)
	normalization, ok := entry["normalization"].(string)
	if !ok {
		normalization = "none"
	}
	normalization = strings.ToLower(normalization)

	pattern, ok := entry["pattern"].(string)
	if !ok || pattern == "" {
		msg := fmt.Sprintf("%s: pattern must be a non-empty string", assertionID)
		emitFailure(rec, assertionID, msg, category)
		return msg
	}

	haystack, err := normalizeText(outputText, normalization)
	if err != nil {
		msg := fmt.Sprintf("%s: %v", assertionID, err)
		emitFailure(rec, assertionID, msg, category)
		return msg
	}

	minCount := 1
	if n, ok := positiveInt(entry["min_count"]); ok {
		minCount = n
	}

	var passed bool
	var detail string
	switch kind {
	case "contains":
		count := strings.Count(haystack, pattern)
		passed = count >= minCount
		detail = fmt.Sprintf(
			"category=%s kind=contains normalization=%s pattern=%q count=%d min_count=%d excerpt=%q",
			category, normalization, pattern, count, minCount,
			excerptAt(haystack, strings.Index(haystack, pattern)))
	case "not_contains":
		count := strings.Count(haystack, pattern)
		passed = count == 0
		detail = fmt.Sprintf(
			"category=%s kind=not_contains normalization=%s pattern=%q count=%d excerpt=%q",
			category, normalization, pattern, count,
			excerptAt(haystack, strings.Index(haystack, pattern)))
	case "regex":
		expr := "(?m)" + pattern
		if entry["case_insensitive"] == true {
			expr = "(?mi)" + pattern
		}
		re, compileErr := regexp.Compile(expr)
		if compileErr != nil {
			msg := fmt.Sprintf("%s: invalid regex %q: %v", assertionID, pattern, compileErr)
			emitFailure(rec, assertionID, msg, category)
			return msg
		}
		matches := re.FindAllStringIndex(haystack, -1)
		count := len(matches)
		passed = count >= minCount
		first := -1
		if count > 0 {
			first = matches[0][0]
		}
		detail = fmt.Sprintf(
			"category=%s kind=regex normalization=%s pattern=%q count=%d min_count=%d excerpt=%q",
			category, normalization, pattern, count, minCount,
			excerptAt(haystack, first))
	default:
		msg := fmt.Sprintf("%s: unsupported assertion kind: %s", assertionID, kind)
		emitFailure(rec, assertionID, msg, category)
		return msg
	}

	status := "failed"
	if passed {
		status = "passed"
	}
	rec.Emit("assert",
		recorder.F("assertion", assertionID),
		recorder.F("status", status),
		recorder.F("details", detail))
	if passed {
		return ""
	}
	msg := fmt.Sprintf("%s: assertion failed (%s)", assertionID, category)
	rec.Emit("error",
		recorder.F("message", msg),
		recorder.F("details", detail))
	return msg
}

func emitFailure(rec *recorder.Recorder, assertionID, msg, category string) {
	details := msg
	if category != "" {
		details = fmt.Sprintf("category=%s %s", category, msg)
	}
	rec.Emit("assert",
		recorder.F("assertion", assertionID),
		recorder.F("status", "failed"),
		recorder.F("details", details))
	errFields := []recorder.Field{recorder.F("message", msg)}
	if category != "" {
		errFields = append(errFields, recorder.F("details", "category="+category))
	}
	rec.Emit("error", errFields...)
}

func normalizeText(text, normalization string) (string, error) {
	if normalization == "none" {
		return text, nil
	}
	form, ok := normForms[normalization]
	if !ok {
		return "", fmt.Errorf("unsupported normalization mode: %s", normalization)
	}
	return form.String(text), nil
}

// excerptAt returns a short window of haystack around the byte offset of the
// first match, starting a little before it for context. A negative offset
// (no match) anchors the excerpt at the start. Offsets are converted to rune
// positions so multi-byte output never splits mid-character.
func excerptAt(haystack string, byteOffset int) string {
	if haystack == "" {
		return ""
	}
	if byteOffset < 0 {
		byteOffset = 0
	}
	runeOffset := utf8.RuneCountInString(haystack[:byteOffset])
	runes := []rune(haystack)
	start := runeOffset - 20
	if start < 0 {
		start = 0
	}
	end := start + excerptSpan
	if end > len(runes) {
		end = len(runes)
	}
	return string(runes[start:end])
}

// positiveInt accepts only integer-typed values greater than zero, matching
// the strictness of the frame-metadata validators.
func positiveInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		if n > 0 {
			return n, true
		}
	case int64:
		if n > 0 {
			return int(n), true
		}
	}
	return 0, false
}
