package gateway

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxLoggedErrorBodyChars = 300
	maxLoggedPayloadChars   = 4096
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// looksBase64 reports whether s is worth a decode attempt. Strings with '@'
// are skipped so e-mail addresses are never mangled.
func looksBase64(s string) bool {
	return len(s)%4 == 0 && !strings.Contains(s, "@") && base64Pattern.MatchString(s)
}

// decodeIfBase64 returns the decoded text when s is base64 for printable UTF-8,
// and s itself otherwise.
func decodeIfBase64(s string) string {
	if !looksBase64(s) {
		return s
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil || !printable(decoded) {
		return s
	}
	return string(decoded)
}

func printable(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// describePayload renders a request or response body for the debug log.
// JSON bodies have every string value run through decodeIfBase64; anything
// else is treated as a single string. It only ever feeds log output.
func describePayload(body []byte) (out string) {
	defer func() {
		if recover() != nil {
			out = truncateChars(string(body), maxLoggedPayloadChars)
		}
	}()

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return truncateChars(decodeIfBase64(string(trimmed)), maxLoggedPayloadChars)
	}
	rendered, err := json.Marshal(decodeStrings(doc))
	if err != nil {
		return truncateChars(string(trimmed), maxLoggedPayloadChars)
	}
	return truncateChars(string(rendered), maxLoggedPayloadChars)
}

func decodeStrings(v any) any {
	switch val := v.(type) {
	case string:
		return decodeIfBase64(val)
	case []any:
		for i := range val {
			val[i] = decodeStrings(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = decodeStrings(val[k])
		}
		return val
	default:
		return v
	}
}

// truncateChars cuts s to at most n characters, not bytes.
func truncateChars(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
