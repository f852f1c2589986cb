package usecase

import (
	"strings"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

// Phrase lists are checked before word-count thresholds, so a short query
// like "compare A and B" still counts as complex and a long lookup like
// "what is the exact wording of clause 4.2 in the contract" stays simple.
var complexityPhrases = []string{
	"compare",
	"analyze",
	"explain why",
	"relationship between",
	"difference between",
	"pros and cons",
	"multiple",
	"various",
}

var simplicityPhrases = []string{
	"what is",
	"who is",
	"define",
	"true or false",
	"when was",
	"where is",
}

// classifyComplexity is a pure function from query text to a complexity
// class. The selector uses it to decide how many contexts are enough.
func classifyComplexity(query string) domain.QueryComplexity {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, phrase := range complexityPhrases {
		if strings.Contains(q, phrase) {
			return domain.ComplexityComplex
		}
	}
	for _, phrase := range simplicityPhrases {
		if strings.Contains(q, phrase) {
			return domain.ComplexitySimple
		}
	}

	words := len(strings.Fields(q))
	switch {
	case words > 10:
		return domain.ComplexityComplex
	case words < 5:
		return domain.ComplexitySimple
	default:
		return domain.ComplexityModerate
	}
}

// optimalContextCount maps complexity to the number of contexts worth
// spending prompt budget on, capped by the caller's requested maximum.
func optimalContextCount(complexity domain.QueryComplexity, requestedMax int) int {
	optimal := requestedMax
	switch complexity {
	case domain.ComplexitySimple:
		optimal = 2
	case domain.ComplexityComplex:
		optimal = 5
	}
	if optimal > requestedMax {
		optimal = requestedMax
	}
	return optimal
}
