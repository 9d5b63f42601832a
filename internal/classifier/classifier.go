// Package classifier maps free-text patient replies to a confirmation
// outcome using ordered keyword rules. It is deliberately not LLM-backed:
// followup confirmations and emergency detection must work with the
// messaging channel alone.
package classifier

import (
	"strings"
	"unicode"
)

// ResultType is the classified meaning of a patient reply.
type ResultType string

const (
	// ResultConfirmed means the patient completed the reminded action.
	ResultConfirmed ResultType = "confirmed"
	// ResultMissed means the patient did not or forgot to do it.
	ResultMissed ResultType = "missed"
	// ResultLater means the patient deferred the action.
	ResultLater ResultType = "later"
	// ResultUnknown means no lexicon matched; needs human review.
	ResultUnknown ResultType = "unknown"
)

// Result is a classification outcome with its confidence score.
type Result struct {
	Type       ResultType `json:"type"`
	Confidence float64    `json:"confidence"`
}

// rule is one ordered classification step. Rules are evaluated in slice
// order and the first lexicon match wins; a reply containing both "sudah"
// and "belum" therefore classifies as confirmed.
type rule struct {
	outcome    ResultType
	confidence float64
	lexicon    []string
}

var rules = []rule{
	{ResultConfirmed, 0.9, []string{"sudah", "udah", "sdh", "ya", "iya", "oke", "ok", "selesai", "done", "yes"}},
	{ResultMissed, 0.8, []string{"belum", "blm", "tidak", "gak", "ga", "nggak", "lupa", "skip"}},
	{ResultLater, 0.7, []string{"nanti", "ntar", "sebentar", "bentar", "tunggu"}},
}

// emergencyKeywords short-circuit any classification outcome. Matching is by
// substring so inflected forms ("kesakitan") still trigger.
var emergencyKeywords = []string{"sakit", "darurat", "tolong", "gawat", "sesak", "nyeri", "pingsan"}

// Classify maps a free-text reply to a Result. Matching is word-based on the
// lowercased, trimmed text so that e.g. "ya" does not match inside "saya".
func Classify(text string) Result {
	words := tokenize(text)
	for _, r := range rules {
		for _, keyword := range r.lexicon {
			if _, ok := words[keyword]; ok {
				return Result{Type: r.outcome, Confidence: r.confidence}
			}
		}
	}
	return Result{Type: ResultUnknown, Confidence: 0.3}
}

// DetectEmergency reports whether the reply contains an emergency keyword.
// Always keyword-based, never LLM-dependent.
func DetectEmergency(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, keyword := range emergencyKeywords {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}

// tokenize splits the lowercased text on any non-letter, non-digit rune.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return words
}
