// Package keywords pulls clinical keywords and time expressions out of a transcript.
package keywords

import (
	"regexp"
	"sort"
	"strings"
)

var symptomTerms = []string{
	"fever", "cough", "headache", "nausea", "pain", "chills", "fatigue", "vomiting", "rash", "sore throat",
	"shortness of breath", "dizziness", "runny nose", "diarrhea", "constipation", "itching", "sneezing",
	"muscle pain", "joint pain", "abdominal pain", "back pain", "weakness", "loss of appetite", "sweating",
	"bleeding", "congestion", "chest pain", "cold", "burning sensation", "swelling", "palpitations",
}

var diseaseTerms = []string{"diabetes", "asthma", "covid", "flu", "malaria", "tuberculosis", "hypertension"}

var timePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}\s?(?:am|pm)\b`),
	regexp.MustCompile(`\b\d{1,2}:\d{2}\b`),
	regexp.MustCompile(`\b(?:yesterday|today|tonight|tomorrow|last night|last week|next week|this morning|since)\b`),
	regexp.MustCompile(`\b\d+\s(?:days?|weeks?|months?)\s(?:ago|later)\b`),
}

var (
	symptomPattern = termPattern(symptomTerms)
	diseasePattern = termPattern(diseaseTerms)
)

// Result groups extracted terms. Each list is sorted and deduplicated.
type Result struct {
	Symptoms        []string `json:"symptoms"`
	Diseases        []string `json:"diseases"`
	TimeExpressions []string `json:"time_expressions"`
}

// Empty reports whether nothing was found.
func (r Result) Empty() bool {
	return len(r.Symptoms) == 0 && len(r.Diseases) == 0 && len(r.TimeExpressions) == 0
}

// Extract scans text case-insensitively. Multi-word terms match as phrases.
func Extract(text string) Result {
	lower := strings.ToLower(text)

	var times []string
	for _, re := range timePatterns {
		times = append(times, re.FindAllString(lower, -1)...)
	}

	return Result{
		Symptoms:        unique(symptomPattern.FindAllString(lower, -1)),
		Diseases:        unique(diseasePattern.FindAllString(lower, -1)),
		TimeExpressions: unique(times),
	}
}

// termPattern matches any term on word boundaries, preferring longer terms so
// "chest pain" wins over "pain" at the same position.
func termPattern(terms []string) *regexp.Regexp {
	sorted := append([]string(nil), terms...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	quoted := make([]string, len(sorted))
	for i, term := range sorted {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(term), " ", `\s+`)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

func unique(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.Join(strings.Fields(item), " ")
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
