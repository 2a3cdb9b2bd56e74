// Package casing converts object key naming between the UI convention
// (camelCase) and the wire convention (snake_case).
//
// The API contract is bit-exact: every key at every nesting depth, including
// inside arrays, is converted. Scalar values pass through unchanged.
package casing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// ToSnake converts a camelCase identifier to snake_case.
func ToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToCamel converts a snake_case identifier to camelCase.
func ToCamel(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.Grow(len(s))
	first := true
	for _, p := range parts {
		if p == "" {
			continue
		}
		if first {
			b.WriteString(p)
			first = false
			continue
		}
		r := []rune(p)
		b.WriteRune(unicode.ToUpper(r[0]))
		b.WriteString(string(r[1:]))
	}
	return b.String()
}

// KeysToSnake recursively converts all map keys of a decoded JSON value to
// snake_case. Arrays and nested objects are walked; scalars are returned as-is.
func KeysToSnake(v any) any {
	return convertKeys(v, ToSnake)
}

// KeysToCamel recursively converts all map keys of a decoded JSON value to
// camelCase. Arrays and nested objects are walked; scalars are returned as-is.
func KeysToCamel(v any) any {
	return convertKeys(v, ToCamel)
}

func convertKeys(v any, keyFunc func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[keyFunc(k)] = convertKeys(val, keyFunc)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = convertKeys(val, keyFunc)
		}
		return out
	default:
		return v
	}
}

// ExpandToSnake converts the values of an "expand" query parameter. The
// parameter names wire fields, so its values are converted like keys.
func ExpandToSnake(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = ToSnake(v)
	}
	return out
}

// JSONKeysToSnake rewrites a JSON document so that every object key is
// snake_case. Numbers are preserved verbatim via json.Number to avoid
// float64 precision loss on large sizes.
func JSONKeysToSnake(data []byte) ([]byte, error) {
	return rewriteJSON(data, ToSnake)
}

// JSONKeysToCamel rewrites a JSON document so that every object key is
// camelCase.
func JSONKeysToCamel(data []byte) ([]byte, error) {
	return rewriteJSON(data, ToCamel)
}

func rewriteJSON(data []byte, keyFunc func(string) string) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return data, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode JSON body: %w", err)
	}
	out, err := json.Marshal(convertKeys(v, keyFunc))
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode JSON body: %w", err)
	}
	return out, nil
}
