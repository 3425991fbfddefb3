// Package textfmt formats catalog and checkout text for display.
package textfmt

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// MaxDescChars is the card summary limit in grapheme clusters
const MaxDescChars = 120

// minWordCut is the cluster index a word-boundary cut must exceed
const minWordCut = 40

const ellipsis = "…"

// Truncate shortens s to at most max grapheme clusters so multi-codepoint
// emoji are never split. When s is longer it cuts at the last space past
// cluster 40 (or at max if there is none), strips trailing punctuation and
// whitespace and appends a single ellipsis. s is returned unchanged when it
// already fits.
func Truncate(s string, max int) string {
	if s == "" || max <= 0 {
		return ""
	}
	if uniseg.GraphemeClusterCount(s) <= max {
		return s
	}

	// Keep max-1 clusters so the ellipsis itself stays within max
	keep := max - 1
	var b strings.Builder
	lastSpace := -1 // byte offset in b of the last space cluster
	spaceAt := -1   // cluster index of that space
	g := uniseg.NewGraphemes(s)
	for i := 0; i < keep && g.Next(); i++ {
		cluster := g.Str()
		if cluster == " " {
			lastSpace = b.Len()
			spaceAt = i
		}
		b.WriteString(cluster)
	}

	cut := b.String()
	if spaceAt > minWordCut {
		cut = cut[:lastSpace]
	}
	cut = strings.TrimRightFunc(cut, isTrailingJunk)
	return cut + ellipsis
}

// Len returns the length of s in grapheme clusters
func Len(s string) int {
	return uniseg.GraphemeClusterCount(s)
}

func isTrailingJunk(r rune) bool {
	switch r {
	case '.', ',', ';', ':', '!':
		return true
	}
	return unicode.IsSpace(r)
}
