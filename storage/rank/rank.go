// Package rank scores documents against free-text queries with Okapi BM25.
//
// It backs the semantic query of the embeddings partition. Every backend
// ranks the same way, so query results do not depend on the store in use.
package rank

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// BM25 parameters.
const (
	k1      = 1.2
	b       = 0.75
	epsilon = 0.25
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Document is one candidate for ranking.
type Document struct {
	ID   string
	Text string
}

// Hit is a ranked match. Higher scores are more relevant.
type Hit struct {
	ID    string
	Score float64
}

// Tokenize lowercases s and splits it into alphanumeric runs.
func Tokenize(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

// Distance converts a score into a distance in (0, 1]; lower is closer.
func Distance(score float64) float64 {
	if score <= 0 {
		return 1
	}
	return 1 / (1 + score)
}

// Rank returns up to limit documents that share at least one token with
// query, best first. Ties keep input order. A non-positive limit returns
// every match.
func Rank(query string, docs []Document, limit int) []Hit {
	terms := Tokenize(query)
	if len(terms) == 0 || len(docs) == 0 {
		return nil
	}

	freqs := make([]map[string]int, len(docs))
	lengths := make([]int, len(docs))
	docFreq := make(map[string]int)
	total := 0
	for i, d := range docs {
		tokens := Tokenize(d.Text)
		lengths[i] = len(tokens)
		total += len(tokens)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			if tf[tok] == 0 {
				docFreq[tok]++
			}
			tf[tok]++
		}
		freqs[i] = tf
	}
	avgLen := float64(total) / float64(len(docs))
	n := float64(len(docs))

	var hits []Hit
	for i, d := range docs {
		var score float64
		for _, term := range terms {
			tf := float64(freqs[i][term])
			if tf == 0 {
				continue
			}
			df := float64(docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			if idf < 0 {
				idf = epsilon
			}
			norm := 1.0
			if avgLen > 0 {
				norm = 1 - b + b*float64(lengths[i])/avgLen
			}
			score += idf * tf * (k1 + 1) / (tf + k1*norm)
		}
		if score > 0 {
			hits = append(hits, Hit{ID: d.ID, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
