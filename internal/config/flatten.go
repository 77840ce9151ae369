package config

import (
	"sort"
	"strings"
)

// Keys whose last segment ends in one of these hold credentials.
var secretSuffixes = []string{"api_key", "_token", "_secret", "password"}

// IsSecretKey reports whether a dotted key holds a credential.
func IsSecretKey(key string) bool {
	leaf := key
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		leaf = key[i+1:]
	}
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(leaf, suffix) {
			return true
		}
	}
	return false
}

// Flatten turns nested JSON objects into dotted keys:
// {"llm": {"model": "gpt-4o"}} becomes {"llm.model": "gpt-4o"}.
// Empty objects produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. Keys are applied in sorted order, so
// "reader.scale" replaces a scalar stored under "reader".
func Unflatten(flat map[string]any) map[string]any {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any)
	for _, key := range keys {
		v := flat[key]
		node := out
		for {
			head, rest, nested := strings.Cut(key, ".")
			if !nested {
				node[head] = v
				break
			}
			child, ok := node[head].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[head] = child
			}
			node, key = child, rest
		}
	}
	return out
}

// MaskSecrets copies flat with non-empty credential values reduced to
// "***" and their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		s, ok := v.(string)
		if !ok || s == "" || !IsSecretKey(k) {
			continue
		}
		if len(s) > 4 {
			s = s[len(s)-4:]
		}
		out[k] = "***" + s
	}
	return out
}
