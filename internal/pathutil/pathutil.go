// Package pathutil provides string-level path helpers shared by the queue,
// metrics, and engine packages. Queued paths are opaque identifiers that may
// have been produced on another machine with a different separator style, so
// nothing here consults the local filesystem or filepath's OS-specific rules.
package pathutil

import "strings"

// LastSegment returns the trailing path segment, tolerating both separator
// styles.
func LastSegment(path string) string {
	idx := strings.LastIndexAny(path, "/\\")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// TrimTrailingSeparators removes trailing separators of either style.
func TrimTrailingSeparators(path string) string {
	return strings.TrimRight(path, "/\\")
}

// HasExtension reports whether the trailing segment carries a file
// extension.
func HasExtension(path string) bool {
	seg := LastSegment(TrimTrailingSeparators(path))
	dot := strings.LastIndexByte(seg, '.')
	return dot > 0 && dot < len(seg)-1
}

// SanitizeComponent keeps identifiers readable in logs: anything outside a
// small safe set collapses to '_' and long tails are truncated.
func SanitizeComponent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}
