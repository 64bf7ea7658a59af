// Package classify implements the Analyzer's developer-focus classifier and
// relevance scorer. Neither the TF-IDF cosine similarity nor the ROUGE-L
// longest-common-subsequence F-measure has an available ecosystem library in
// the retrieved reference corpus (verified by searching every go.mod in the
// example pack for nlp/tfidf/rouge-shaped dependencies), so both are
// hand-rolled on the standard library here, grounded on the distilled-from
// services/analyzer/filter.py (sklearn TfidfVectorizer + cosine similarity)
// and the ROUGE-L requirement from the specification's analyzer section.
package classify

import (
	"math"
	"strings"
)

// DeveloperFocus reports whether text is developer-relevant: a direct
// substring match against any keyword short-circuits to true; otherwise the
// maximum TF-IDF cosine similarity between text and any single keyword must
// exceed threshold.
func DeveloperFocus(title, summary string, keywords []string, threshold float64) bool {
	text := strings.ToLower(title + " " + summary)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	if len(keywords) == 0 {
		return false
	}
	return maxCosineSimilarity(text, keywords) > threshold
}

// maxCosineSimilarity fits a TF-IDF vectorizer on the keyword list (the
// "documents") plus text, then returns the highest cosine similarity between
// text's vector and any single keyword's vector.
func maxCosineSimilarity(text string, keywords []string) float64 {
	corpus := make([]string, 0, len(keywords)+1)
	corpus = append(corpus, text)
	for _, kw := range keywords {
		corpus = append(corpus, strings.ToLower(kw))
	}

	vectors := tfidfVectors(corpus)
	textVec := vectors[0]

	best := 0.0
	for _, kwVec := range vectors[1:] {
		if sim := cosineSimilarity(textVec, kwVec); sim > best {
			best = sim
		}
	}
	return best
}

// tfidfVectors computes TF-IDF vectors for every document in corpus over the
// corpus-wide vocabulary.
func tfidfVectors(corpus []string) []map[string]float64 {
	docsTokens := make([][]string, len(corpus))
	df := make(map[string]int)
	for i, doc := range corpus {
		tokens := tokenize(doc)
		docsTokens[i] = tokens
		seen := make(map[string]bool)
		for _, t := range tokens {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	n := float64(len(corpus))
	vectors := make([]map[string]float64, len(corpus))
	for i, tokens := range docsTokens {
		tf := make(map[string]int)
		for _, t := range tokens {
			tf[t]++
		}
		vec := make(map[string]float64, len(tf))
		for term, count := range tf {
			idf := math.Log(n/float64(df[term])) + 1
			vec[term] = float64(count) * idf
		}
		vectors[i] = vec
	}
	return vectors
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, va := range a {
		normA += va * va
		if vb, ok := b[term]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// RelevanceScore computes the ROUGE-L F-measure between source and summary:
// the longest common subsequence of their tokens, combined via precision and
// recall into an F1-style score. Replaces the naive length-ratio relevance
// score the distilled-from implementation used, per the specification's
// explicit instruction to use ROUGE-L instead.
func RelevanceScore(source, summary string) float64 {
	srcTokens := tokenize(source)
	sumTokens := tokenize(summary)
	if len(srcTokens) == 0 || len(sumTokens) == 0 {
		return 0
	}

	lcs := longestCommonSubsequence(srcTokens, sumTokens)
	if lcs == 0 {
		return 0
	}

	recall := float64(lcs) / float64(len(srcTokens))
	precision := float64(lcs) / float64(len(sumTokens))
	if recall+precision == 0 {
		return 0
	}
	return 2 * recall * precision / (recall + precision)
}

func longestCommonSubsequence(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
