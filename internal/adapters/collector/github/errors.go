package github

import (
	"errors"
	"sort"
)

// Sentinel kinds for collector errors.
var (
	ErrBadProject = errors.New("project must be owner/repo")
)

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
