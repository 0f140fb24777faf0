package provider

import (
	"bytes"
	"encoding/json"
	"strings"
)

// jsonStringBody escapes s so it can sit between the quotes of a JSON string
func jsonStringBody(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s) // encoding a string cannot fail
	out := strings.TrimSuffix(buf.String(), "\n")
	return out[1 : len(out)-1]
}

// renderTemplate substitutes the placeholders. Text is JSON-escaped so that
// a placeholder written inside a JSON string literal keeps the document valid.
// Base64 data needs no escaping.
func renderTemplate(tmpl, text, imageB64 string) string {
	// image first: user text may itself contain a placeholder literal
	out := strings.ReplaceAll(tmpl, ImagePlaceholder, imageB64)
	return strings.ReplaceAll(out, TextPlaceholder, jsonStringBody(text))
}

// normalizeBody re-serializes body when it parses as JSON and reports whether
// it did. Bodies that are not JSON are returned verbatim.
func normalizeBody(body string) ([]byte, bool) {
	if !json.Valid([]byte(body)) {
		return []byte(body), false
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return []byte(body), false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return []byte(body), false
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), true
}
