// Package analyzer finds known phrases in rendered page text. Flows use it to
// recognise panel sections whose markup changes more often than their wording.
package analyzer

import (
	"strings"
	"unicode"
)

// maxSentences caps the context kept per phrase.
const maxSentences = 3

// Match is one phrase found in a page.
type Match struct {
	Phrase    string   `json:"phrase"`
	Count     int      `json:"count"`
	Sentences []string `json:"sentences"`
}

// FindPhrases returns, in phrase order, every phrase that occurs in content
// (case-insensitive) with up to three distinct sentences containing it.
func FindPhrases(content string, phrases []string) []Match {
	if len(content) == 0 || len(phrases) == 0 {
		return nil
	}

	lowerContent := strings.ToLower(content)
	var sentences []sentence

	results := make([]Match, 0, len(phrases))
	for _, phrase := range phrases {
		lowerPhrase := strings.ToLower(strings.TrimSpace(phrase))
		if lowerPhrase == "" {
			continue
		}
		count := strings.Count(lowerContent, lowerPhrase)
		if count == 0 {
			continue
		}
		if sentences == nil {
			sentences = splitSentences(content)
		}

		m := Match{Phrase: phrase, Count: count}
		for _, s := range sentences {
			if len(m.Sentences) == maxSentences {
				break
			}
			if strings.Contains(s.lower, lowerPhrase) && !contains(m.Sentences, s.original) {
				m.Sentences = append(m.Sentences, s.original)
			}
		}
		results = append(results, m)
	}
	return results
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type sentence struct {
	original string
	lower    string
}

func isBoundary(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n' || r == '·'
}

// splitSentences splits text on sentence punctuation, line breaks and the
// middle dot Google uses between panel facts. Whitespace inside a sentence is
// collapsed and empty pieces are dropped.
func splitSentences(text string) []sentence {
	estimated := max(len(text)/50, 1)
	out := make([]sentence, 0, estimated)

	flush := func(s string) {
		s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
		if s == "" {
			return
		}
		out = append(out, sentence{original: s, lower: strings.ToLower(s)})
	}

	start := 0
	for i, r := range text {
		if !isBoundary(r) {
			continue
		}
		end := i
		if r != '\n' && r != '·' {
			end = i + 1
		}
		flush(text[start:end])
		start = i + len(string(r))
	}
	if start < len(text) {
		flush(text[start:])
	}
	return out
}
