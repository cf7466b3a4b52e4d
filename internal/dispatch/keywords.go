package dispatch

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

const (
	// maxFallbackKeywords caps how many prompt words feed the fallback URL
	maxFallbackKeywords = 2

	// defaultFallbackKeyword is used when no prompt word qualifies
	defaultFallbackKeyword = "business"

	// FallbackEngine is the engine id recorded for keyless fallback assets
	FallbackEngine = "free-image"
)

// FallbackKeywords projects a prompt onto the keywords that drive the
// keyless free-image source: the first words longer than 3 characters,
// at most two, lowercased and stripped of punctuation. A prompt with no
// qualifying words maps to a fixed generic keyword so the fallback
// always resolves.
func FallbackKeywords(prompt string) []string {
	var keywords []string

	for _, word := range strings.Fields(prompt) {
		word = strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}))

		if len(word) > 3 {
			keywords = append(keywords, word)
			if len(keywords) == maxFallbackKeywords {
				break
			}
		}
	}

	if len(keywords) == 0 {
		return []string{defaultFallbackKeyword}
	}

	return keywords
}

// FallbackImageURL builds the deterministic keyless image URL for a prompt
func FallbackImageURL(baseURL, prompt string) string {
	keywords := FallbackKeywords(prompt)

	escaped := make([]string, len(keywords))
	for i, kw := range keywords {
		escaped[i] = url.PathEscape(kw)
	}

	return fmt.Sprintf("%s/%s", strings.TrimRight(baseURL, "/"), strings.Join(escaped, ","))
}
