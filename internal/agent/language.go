package agent

import "strings"

// Language scoring is a reply policy, not a classifier: the runtime only
// ever chooses between the agent's primary and secondary language, and
// short or ambiguous inputs fall back to the primary.

const minTokensForDetection = 4

var languageMarkers = map[string][]string{
	"english":    {"the", "and", "you", "for", "what", "how", "can", "is", "are", "please", "with", "have", "this", "that", "would", "could"},
	"spanish":    {"el", "la", "los", "las", "que", "como", "para", "por", "una", "gracias", "hola", "puede", "quiero", "tengo", "donde", "cuando"},
	"french":     {"le", "la", "les", "que", "pour", "vous", "est", "une", "bonjour", "merci", "avec", "comment", "je", "nous", "avez"},
	"german":     {"der", "die", "das", "und", "ich", "sie", "ist", "nicht", "mit", "danke", "hallo", "haben", "kann", "wie", "bitte"},
	"portuguese": {"o", "a", "os", "as", "que", "como", "para", "por", "uma", "obrigado", "ola", "pode", "quero", "tenho", "onde"},
	"italian":    {"il", "la", "che", "per", "una", "grazie", "ciao", "sono", "come", "con", "non", "questo", "vorrei", "posso"},
	"dutch":      {"de", "het", "een", "ik", "je", "niet", "met", "dank", "hallo", "kan", "hoe", "wat", "voor", "graag"},
	"vietnamese": {"toi", "ban", "khong", "duoc", "cho", "lam", "gi", "nhu", "the", "nao", "xin", "chao", "cam", "on"},
}

// detectLanguage picks between the agent's primary and secondary language
// by counting marker-word hits. Ties and short inputs return the primary.
func detectLanguage(text, primary, secondary string) string {
	primary = strings.ToLower(strings.TrimSpace(primary))
	secondary = strings.ToLower(strings.TrimSpace(secondary))
	if primary == "" {
		primary = "english"
	}
	if secondary == "" || secondary == primary {
		return primary
	}

	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) < minTokensForDetection {
		return primary
	}

	primaryScore := markerHits(tokens, languageMarkers[primary])
	secondaryScore := markerHits(tokens, languageMarkers[secondary])
	if secondaryScore > primaryScore {
		return secondary
	}
	return primary
}

func markerHits(tokens, markers []string) int {
	if len(markers) == 0 {
		return 0
	}
	set := make(map[string]bool, len(markers))
	for _, m := range markers {
		set[m] = true
	}
	hits := 0
	for _, t := range tokens {
		if set[strings.Trim(t, ".,!?;:\"'")] {
			hits++
		}
	}
	return hits
}
