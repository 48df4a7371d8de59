// Package classifier suggests titles for notes submitted without one.
package classifier

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"
)

// Titler proposes a short title for a note body. An empty result means no
// suggestion.
type Titler interface {
	SuggestTitle(ctx context.Context, text string) string
}

const maxTitleRunes = 60

// Extract common categories based on keywords
var categories = map[string][]string{
	"work":      {"project", "meeting", "deadline", "task", "report"},
	"personal":  {"family", "friend", "home", "birthday", "holiday"},
	"shopping":  {"buy", "purchase", "store", "shop", "price"},
	"education": {"study", "learn", "course", "book", "homework"},
	"travel":    {"trip", "flight", "hotel", "vacation", "booking"},
}

type SimpleClassifier struct {
	maxWords int
	maxTags  int
}

func NewSimpleClassifier(maxWords, maxTags int) *SimpleClassifier {
	if maxWords <= 0 {
		maxWords = 6
	}
	return &SimpleClassifier{
		maxWords: maxWords,
		maxTags:  maxTags,
	}
}

// ClassifyContent extracts hashtags and keyword categories, sorted.
func (c *SimpleClassifier) ClassifyContent(content string) []string {
	words := strings.Fields(content)
	tags := make(map[string]struct{})

	// Extract hashtags
	for _, word := range words {
		if strings.HasPrefix(word, "#") {
			tag := strings.ToLower(strings.Trim(strings.TrimPrefix(word, "#"), ".,!?;:"))
			if tag != "" {
				tags[tag] = struct{}{}
			}
		}
	}

	lower := strings.ToLower(content)
	for category, keywords := range categories {
		for _, keyword := range keywords {
			if strings.Contains(lower, keyword) {
				tags[category] = struct{}{}
				break
			}
		}
	}

	result := make([]string, 0, len(tags))
	for tag := range tags {
		result = append(result, tag)
	}
	sort.Strings(result)

	if c.maxTags > 0 && len(result) > c.maxTags {
		result = result[:c.maxTags]
	}
	return result
}

// SuggestTitle uses the first words of the first non-empty line, prefixed
// with the first detected category.
func (c *SimpleClassifier) SuggestTitle(ctx context.Context, text string) string {
	var line string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	words := strings.Fields(line)
	if len(words) == 0 {
		return ""
	}
	if len(words) > c.maxWords {
		words = words[:c.maxWords]
	}
	title := strings.Join(words, " ")

	for _, tag := range c.ClassifyContent(text) {
		if _, ok := categories[tag]; ok {
			title = strings.ToUpper(tag[:1]) + tag[1:] + ": " + title
			break
		}
	}
	return truncate(title, maxTitleRunes)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
