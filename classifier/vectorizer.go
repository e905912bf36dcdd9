package classifier

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// CountVectorizer mirrors the fitted state of sklearn's CountVectorizer.
type CountVectorizer struct {
	Vocabulary map[string]int `json:"vocabulary" yaml:"vocabulary"`
	// Lowercase defaults to true when absent.
	Lowercase  *bool `json:"lowercase,omitempty" yaml:"lowercase,omitempty"`
	Binary     bool  `json:"binary,omitempty" yaml:"binary,omitempty"`
	NgramRange []int `json:"ngram_range,omitempty" yaml:"ngram_range,omitempty"`
	// TokenPattern overrides the default word tokenizer. It must be RE2
	// syntax; sklearn's default "(?u)\b\w\w+\b" is recognised and handled
	// natively.
	TokenPattern string `json:"token_pattern,omitempty" yaml:"token_pattern,omitempty"`

	minN, maxN  int
	numFeatures int
	tokenRe     *regexp.Regexp
}

// Feature is one non-zero column of a document vector.
type Feature struct {
	Index int
	Value float64
}

const sklearnTokenPattern = `(?u)\b\w\w+\b`

func (v *CountVectorizer) prepare() error {
	if len(v.Vocabulary) == 0 {
		return fmt.Errorf("empty vocabulary")
	}

	seen := make(map[int]string, len(v.Vocabulary))
	maxIndex := -1
	for term, idx := range v.Vocabulary {
		if idx < 0 {
			return fmt.Errorf("term %q has negative index %d", term, idx)
		}
		if other, dup := seen[idx]; dup {
			return fmt.Errorf("terms %q and %q share index %d", other, term, idx)
		}
		seen[idx] = term
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	v.numFeatures = maxIndex + 1

	v.minN, v.maxN = 1, 1
	switch len(v.NgramRange) {
	case 0:
	case 2:
		v.minN, v.maxN = v.NgramRange[0], v.NgramRange[1]
	default:
		return fmt.Errorf("ngram_range must have two elements, got %d", len(v.NgramRange))
	}
	if v.minN < 1 || v.maxN < v.minN {
		return fmt.Errorf("invalid ngram_range %v", v.NgramRange)
	}

	if p := v.TokenPattern; p != "" && p != sklearnTokenPattern {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("token_pattern: %w", err)
		}
		v.tokenRe = re
	}
	return nil
}

// NumFeatures is the width of the document vectors.
func (v *CountVectorizer) NumFeatures() int {
	return v.numFeatures
}

// Transform returns the non-zero term counts of text sorted by column index.
// Terms outside the vocabulary are ignored.
func (v *CountVectorizer) Transform(text string) []Feature {
	if v.Lowercase == nil || *v.Lowercase {
		text = strings.ToLower(text)
	}

	tokens := v.tokenize(text)
	counts := make(map[int]float64)
	for n := v.minN; n <= v.maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			term := tokens[i]
			if n > 1 {
				term = strings.Join(tokens[i:i+n], " ")
			}
			idx, ok := v.Vocabulary[term]
			if !ok {
				continue
			}
			if v.Binary {
				counts[idx] = 1
			} else {
				counts[idx]++
			}
		}
	}

	features := make([]Feature, 0, len(counts))
	for idx, value := range counts {
		features = append(features, Feature{Index: idx, Value: value})
	}
	sort.Slice(features, func(i, j int) bool {
		return features[i].Index < features[j].Index
	})
	return features
}

func (v *CountVectorizer) tokenize(text string) []string {
	if v.tokenRe != nil {
		return v.tokenRe.FindAllString(text, -1)
	}
	return wordTokens(text)
}

// wordTokens matches \b\w\w+\b under Unicode rules: maximal runs of word
// runes at least two runes long.
func wordTokens(text string) []string {
	var tokens []string
	start, runes := -1, 0
	flush := func(end int) {
		if start >= 0 && runes >= 2 {
			tokens = append(tokens, text[start:end])
		}
		start, runes = -1, 0
	}
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			runes++
			continue
		}
		flush(i)
	}
	flush(len(text))
	return tokens
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}
