// Package fingerprint hashes canonical entity content so unchanged merges can be detected
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// volatileFields change on every run without changing what an entity says
var volatileFields = map[string]bool{
	"last_resolved_at":     true,
	"created_at":           true,
	"updated_at":           true,
	"version":              true,
	"signals.evaluated_at": true,
	"retrieved_at":         true,
}

// Generate creates a deterministic fingerprint for any JSON-encodable value.
// The fingerprint is a SHA256 hash of the canonicalized JSON with volatile fields removed.
func Generate(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", err
	}

	hash := sha256.Sum256([]byte(canonicalize(data, "")))
	return hex.EncodeToString(hash[:]), nil
}

// HasChanged compares two fingerprints to detect changes
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}

// canonicalize creates a deterministic string by sorting object keys.
// currentPath tracks the dot-notation path used for exclusions.
func canonicalize(data any, currentPath string) string {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteString("{")
		first := true
		for _, k := range keys {
			fieldPath := k
			if currentPath != "" {
				fieldPath = currentPath + "." + k
			}
			if volatileFields[fieldPath] || volatileFields[k] {
				continue
			}
			if !first {
				b.WriteString(",")
			}
			first = false
			keyJSON, _ := json.Marshal(k)
			b.Write(keyJSON)
			b.WriteString(":")
			b.WriteString(canonicalize(v[k], fieldPath))
		}
		b.WriteString("}")
		return b.String()
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = canonicalize(item, currentPath)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		out, _ := json.Marshal(v)
		return string(out)
	}
}
