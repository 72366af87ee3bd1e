package config

import (
	"strings"
)

var secretKeys = map[string]bool{
	"llm.api_key":       true,
	"firecrawl.api_key": true,
	"brave.api_key":     true,
	"telegram.token":    true,
}

// IsSecretKey reports whether a dot-separated key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns {"llm": {"model": "x"}} into {"llm.model": "x"}.
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

// Unflatten is the inverse of Flatten. A scalar in the way of a deeper key
// is replaced by a map.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets returns a copy of flat with non-empty secrets reduced to
// "***" plus their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		s, ok := v.(string)
		if !secretKeys[k] || !ok || s == "" {
			continue
		}
		if len(s) > 4 {
			s = s[len(s)-4:]
		}
		out[k] = "***" + s
	}
	return out
}
