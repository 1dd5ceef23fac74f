// Package policy loads the operator-maintained policy text that steers the
// decision model and keeps it in a short-lived cache.
package policy

import (
	"regexp"
	"sort"
	"strings"
)

// RoleMarker is the block every policy is expected to carry.
const RoleMarker = "#ROLE_AND_STYLE#"

// DefaultRoleText is served when no policy block was ever loaded.
const DefaultRoleText = "Ты - вежливый ассистент."

var markerPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+#`)

// Library maps a #MARKER# to its text block.
type Library map[string]string

// ParseMarkers splits text into #MARKER# blocks. Text before the first marker
// and empty blocks are dropped; a repeated marker keeps its last block.
func ParseMarkers(text string) Library {
	lib := Library{}
	locs := markerPattern.FindAllStringIndex(text, -1)
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		block := strings.TrimSpace(text[loc[1]:end])
		if block == "" {
			continue
		}
		lib[text[loc[0]:loc[1]]] = block
	}
	return lib
}

// Merge copies other into l; other wins on conflicts.
func (l Library) Merge(other Library) {
	for k, v := range other {
		l[k] = v
	}
}

// Render formats the library as prompt text, role block first and the rest by marker.
func (l Library) Render() string {
	keys := make([]string, 0, len(l))
	for k := range l {
		if k != RoleMarker {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := l[RoleMarker]; ok {
		keys = append([]string{RoleMarker}, keys...)
	}

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(k)
		b.WriteString("\n")
		b.WriteString(l[k])
	}
	return b.String()
}

// Default returns the library used when nothing was ever loaded.
func Default() Library {
	return Library{RoleMarker: DefaultRoleText}
}
