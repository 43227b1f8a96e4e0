package syncx

import (
	"strings"
)

// Entity paths follow JSON Pointer (RFC 6901): "/<collection>/<id>" where each
// reference token escapes "~" as "~0" and "/" as "~1".

// EscapeToken escapes a single pointer reference token.
// Order matters: "~" must be escaped before "/" so "~1" in the input survives.
func EscapeToken(s string) string {
	if !strings.ContainsAny(s, "~/") {
		return s
	}
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

// UnescapeToken reverses EscapeToken ("~1" first, then "~0")
func UnescapeToken(s string) string {
	if !strings.Contains(s, "~") {
		return s
	}
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

// EntityPath builds "/<collection>/<id>" with both tokens escaped
func EntityPath(collection, id string) string {
	return "/" + EscapeToken(collection) + "/" + EscapeToken(id)
}

// ParseEntityPath extracts the entity id from a path inside the given collection.
// Returns false when the path targets another collection, the collection root,
// or a nested field ("/tasks/<id>/title").
func ParseEntityPath(path, collection string) (string, bool) {
	prefix := "/" + EscapeToken(collection) + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return UnescapeToken(rest), true
}
