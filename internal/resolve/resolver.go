// Package resolve turns loosely structured callback payloads into final
// message content.
//
// Workflow engines report results in whatever shape the last node happened
// to produce: a JSON object, a one-element JSON array, or raw bytes. The
// resolver normalizes these, then applies an ordered-key extraction policy
// so the rest of the system only ever sees plain text.
package resolve

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Kind classifies how the final content was obtained.
type Kind int

const (
	// KindEmpty means the payload carried nothing usable; Content holds
	// the no-response sentinel.
	KindEmpty Kind = iota
	// KindPlain means the content came straight from an extracted field
	// (possibly with intention lines filtered out).
	KindPlain
	// KindStructured means an embedded JSON object with a "response" key
	// supplied the content.
	KindStructured
)

// String implements fmt.Stringer for log output.
func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindStructured:
		return "structured"
	default:
		return "empty"
	}
}

// Result carries the resolved content and any external session id the
// payload reported.
type Result struct {
	Content           string
	Kind              Kind
	ExternalSessionID string
}

// NoResponse is stored when the callback payload is empty.
const NoResponse = "No response from AI"

// contentKeys is the ordered field preference; first non-empty wins.
var contentKeys = []string{"output", "text", "response", "content", "message"}

// embeddedJSON matches the first-brace-to-last-brace span. Greedy on
// purpose: this mirrors the upstream engine's behavior and is a known
// heuristic, not a contract. Payloads with multiple unrelated objects can
// misfire; see the boundary-case tests.
var embeddedJSON = regexp.MustCompile(`(?s)\{.*\}`)

// Resolve normalizes a raw callback body and extracts the final content.
// It never fails: malformed input degrades to best-effort text.
func Resolve(body []byte) Result {
	obj := normalize(body)
	if obj == nil {
		return Result{Content: NoResponse, Kind: KindEmpty}
	}

	res := Result{ExternalSessionID: stringField(obj, "session-id")}

	text, found := extract(obj)
	if !found {
		// Nothing recognizable; fall back to the stringified payload.
		raw, err := json.Marshal(obj)
		if err != nil || len(obj) == 0 {
			res.Content = NoResponse
			res.Kind = KindEmpty
			return res
		}
		res.Content = string(raw)
		res.Kind = KindPlain
		return res
	}

	if structured, ok := embeddedResponse(text); ok {
		res.Content = structured
		res.Kind = KindStructured
		return res
	}

	res.Content = filterIntentions(text)
	res.Kind = KindPlain
	return res
}

// normalize reduces the body to a single object. Arrays contribute their
// first element; unparseable bytes become the content of a synthetic
// "output" field. Returns nil when there is nothing to work with.
func normalize(body []byte) map[string]interface{} {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil
	}

	var value interface{}
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return map[string]interface{}{"output": trimmed}
	}

	switch v := value.(type) {
	case map[string]interface{}:
		return v
	case []interface{}:
		if len(v) == 0 {
			return nil
		}
		if obj, ok := v[0].(map[string]interface{}); ok {
			return obj
		}
		return map[string]interface{}{"output": stringify(v[0])}
	default:
		// JSON scalar; treat its text form as the content.
		return map[string]interface{}{"output": stringify(v)}
	}
}

// extract walks the ordered key preference and returns the first non-empty
// value.
func extract(obj map[string]interface{}) (string, bool) {
	for _, key := range contentKeys {
		if text := stringField(obj, key); text != "" {
			return text, true
		}
	}
	return "", false
}

// embeddedResponse scans text for an embedded JSON object carrying a
// "response" key. Agent nodes sometimes stuff structured output into the
// field the policy extracted; the inner "response" is the real answer.
func embeddedResponse(text string) (string, bool) {
	span := embeddedJSON.FindString(text)
	if span == "" {
		return "", false
	}

	var inner map[string]interface{}
	if err := json.Unmarshal([]byte(span), &inner); err != nil {
		return "", false
	}

	value, ok := inner["response"]
	if !ok {
		return "", false
	}
	return stringify(value), true
}

// filterIntentions drops lines that restate what the agent is about to do
// ("I will ...", "I'll ..."). If filtering leaves nothing, the original
// text wins over an empty answer.
func filterIntentions(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		lead := strings.TrimSpace(line)
		if strings.HasPrefix(lead, "I will") || strings.HasPrefix(lead, "I'll") {
			continue
		}
		kept = append(kept, line)
	}

	filtered := strings.TrimSpace(strings.Join(kept, "\n"))
	if filtered == "" {
		return strings.TrimSpace(text)
	}
	return filtered
}

// stringField returns obj[key] when it is a non-empty string, or a
// stringified form for other non-nil scalar values.
func stringField(obj map[string]interface{}, key string) string {
	value, ok := obj[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return stringify(value)
}

// stringify renders an arbitrary decoded JSON value as text.
func stringify(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(raw)
}
