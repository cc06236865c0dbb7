package eval

// Overlap thresholds. A claim is supported when it shares at least
// supportThreshold Jaccard overlap with some chunk; a chunk counts as
// used by the answer at utilizationThreshold.
const (
	supportThreshold     = 0.3
	utilizationThreshold = 0.1

	// DefaultRelevanceThreshold is the retrieval-score cutoff for
	// context precision.
	DefaultRelevanceThreshold = 0.5
)

// Hallucination severity buckets derived from faithfulness.
const (
	SeverityNone     = "none"
	SeverityMinor    = "minor"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
)

// AnswerReport scores a generated answer against its query and the
// chunks it was grounded on. All scores are in [0,1].
type AnswerReport struct {
	// Faithfulness is the fraction of answer claims (sentences)
	// supported by at least one chunk.
	Faithfulness float64 `json:"faithfulness"`

	// HasHallucination is true when any claim lacks support.
	HasHallucination bool `json:"has_hallucination"`

	// HallucinationSeverity buckets faithfulness: 1.0 is none,
	// >=0.7 minor, >=0.4 moderate, below that severe.
	HallucinationSeverity string `json:"hallucination_severity"`

	// AnswerRelevancy is the token overlap between answer and query.
	AnswerRelevancy float64 `json:"answer_relevancy"`

	// AnswerCompleteness is the fraction of query content words present
	// in the answer.
	AnswerCompleteness float64 `json:"answer_completeness"`

	// CitationGrounding is the fraction of parsed citations whose
	// ordinal falls within the supplied source range.
	CitationGrounding float64 `json:"citation_grounding"`

	// UnsupportedClaims lists claims no chunk supports.
	UnsupportedClaims []string `json:"unsupported_claims,omitempty"`
}

// EvaluateAnswer computes the answer-quality report. citations are the
// ordinals parsed from the answer (possibly out of range); numSources is
// how many sources were supplied to the generator.
func EvaluateAnswer(query, answer string, chunkTexts []string, citations []int, numSources int) AnswerReport {
	queryTokens := TokenSet(query)
	answerTokens := TokenSet(answer)

	chunkSets := make([]map[string]bool, len(chunkTexts))
	for i, c := range chunkTexts {
		chunkSets[i] = TokenSet(c)
	}

	claims := Sentences(answer)
	supported := 0
	var unsupported []string
	for _, claim := range claims {
		ct := TokenSet(claim)
		ok := false
		for _, cs := range chunkSets {
			if Jaccard(ct, cs) >= supportThreshold {
				ok = true
				break
			}
		}
		if ok {
			supported++
		} else {
			unsupported = append(unsupported, claim)
		}
	}

	report := AnswerReport{
		AnswerRelevancy:    Jaccard(answerTokens, queryTokens),
		AnswerCompleteness: Coverage(queryTokens, answerTokens),
		UnsupportedClaims:  unsupported,
	}
	if len(claims) > 0 {
		report.Faithfulness = float64(supported) / float64(len(claims))
	}
	report.HasHallucination = report.Faithfulness < 1.0
	report.HallucinationSeverity = severityOf(report.Faithfulness)

	if len(citations) > 0 {
		inRange := 0
		for _, ord := range citations {
			if ord >= 1 && ord <= numSources {
				inRange++
			}
		}
		report.CitationGrounding = float64(inRange) / float64(len(citations))
	}
	return report
}

func severityOf(faithfulness float64) string {
	switch {
	case faithfulness >= 1.0:
		return SeverityNone
	case faithfulness >= 0.7:
		return SeverityMinor
	case faithfulness >= 0.4:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

// ContextReport scores the retrieved chunks themselves. Recall needs a
// ground-truth judgment set and is nil without one.
type ContextReport struct {
	// Precision is the fraction of chunks whose retrieval relevance
	// score meets the threshold.
	Precision float64 `json:"context_precision"`

	// Recall is the fraction of ground-truth relevant documents that
	// were retrieved; nil when no ground truth was supplied.
	Recall *float64 `json:"context_recall,omitempty"`

	// Relevancy is the mean retrieval relevance score.
	Relevancy float64 `json:"context_relevancy"`

	// Utilization is the fraction of chunks the answer drew on.
	Utilization float64 `json:"context_utilization"`
}

// EvaluateContext computes the retrieval-quality report.
// relevanceScores holds one retrieval score per chunk, aligned with
// chunkTexts; relThreshold <= 0 uses the default.
func EvaluateContext(answer string, chunkTexts []string, relevanceScores []float64, relThreshold float64) ContextReport {
	if len(chunkTexts) == 0 {
		return ContextReport{}
	}
	if relThreshold <= 0 {
		relThreshold = DefaultRelevanceThreshold
	}

	answerTokens := TokenSet(answer)

	relevant := 0
	used := 0
	sumScores := 0.0
	for i, c := range chunkTexts {
		score := 0.0
		if i < len(relevanceScores) {
			score = relevanceScores[i]
		}
		sumScores += score
		if score >= relThreshold {
			relevant++
		}
		if Jaccard(TokenSet(c), answerTokens) >= utilizationThreshold {
			used++
		}
	}

	n := float64(len(chunkTexts))
	return ContextReport{
		Precision:   float64(relevant) / n,
		Relevancy:   sumScores / n,
		Utilization: float64(used) / n,
	}
}

// ContextRecall computes recall against a ground-truth relevant set of
// document IDs, given the retrieved document IDs.
func ContextRecall(retrievedDocIDs []string, relevant map[string]bool) *float64 {
	if len(relevant) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(retrievedDocIDs))
	hits := 0
	for _, id := range retrievedDocIDs {
		if relevant[id] && !seen[id] {
			hits++
			seen[id] = true
		}
	}
	r := float64(hits) / float64(len(relevant))
	return &r
}
