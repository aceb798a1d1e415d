package store

import "strings"

// Comma-serialized string sets, as used by the participant and relation
// columns. Membership is always whole-token: "u10" is not a member of
// "u100,u2".

// SplitSet splits a comma-separated column into its tokens, trimming
// whitespace and dropping empties.
func SplitSet(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinSet serializes tokens back into the single-comma column form.
func JoinSet(tokens []string) string { return strings.Join(tokens, ",") }

// MergeSets returns the deduplicated union of both token lists,
// preserving first-seen order.
func MergeSets(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range a {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// DedupSet removes duplicate tokens, preserving first-seen order.
func DedupSet(tokens []string) []string { return MergeSets(tokens, nil) }

// ContainsToken reports whether token is a member of the comma-separated
// set s.
func ContainsToken(s, token string) bool {
	if s == "" || token == "" {
		return false
	}
	for _, t := range SplitSet(s) {
		if t == token {
			return true
		}
	}
	return false
}
