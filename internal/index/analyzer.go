package index

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// TextAnalyzerName is the bleve analyzer used for analyzed fields.
const TextAnalyzerName = "docindex_text"

// Analyzer tokenizes analyzed string fields and match terms. Tokens are
// unicode word segments, lowercased.
type Analyzer struct {
	analyze func([]byte) analysis.TokenStream
}

// NewAnalyzer builds the text analyzer from a bleve index mapping.
func NewAnalyzer() (*Analyzer, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(TextAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	an := indexMapping.AnalyzerNamed(TextAnalyzerName)
	if an == nil {
		return nil, fmt.Errorf("analyzer %q not available", TextAnalyzerName)
	}
	return &Analyzer{analyze: an.Analyze}, nil
}

// Tokens returns the distinct tokens of s in order of first appearance.
func (a *Analyzer) Tokens(s string) []string {
	if s == "" {
		return nil
	}
	stream := a.analyze([]byte(s))
	seen := make(map[string]struct{}, len(stream))
	out := make([]string, 0, len(stream))
	for _, tok := range stream {
		term := string(tok.Term)
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

// Term is one analyzed match term. Prefix terms match any token that
// starts with Text.
type Term struct {
	Text   string
	Prefix bool
}

// Terms analyzes a match expression. A word ending in '*' yields prefix
// terms.
func (a *Analyzer) Terms(expr string) []Term {
	var out []Term
	for _, word := range strings.Fields(expr) {
		prefix := strings.HasSuffix(word, "*")
		word = strings.TrimRight(word, "*")
		toks := a.Tokens(word)
		for i, t := range toks {
			out = append(out, Term{Text: t, Prefix: prefix && i == len(toks)-1})
		}
	}
	return out
}

// MatchTokens reports whether every term is found in tokens.
func MatchTokens(tokens []string, terms []Term) bool {
	if len(terms) == 0 {
		return false
	}
	for _, term := range terms {
		found := false
		for _, tok := range tokens {
			if tok == term.Text || (term.Prefix && strings.HasPrefix(tok, term.Text)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
