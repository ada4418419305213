package timeline

import (
	"regexp"
	"strings"
)

// Patterns stripped from merchant names: store numbers, legal suffixes,
// terminal codes and trailing dates as payment processors append them.
var merchantStripPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*#\d+$`),
	regexp.MustCompile(`(?i)\s*\*\d+$`),
	regexp.MustCompile(`(?i)\s+\d{4,}$`),
	regexp.MustCompile(`(?i)\s+s\.?r\.?l\.?$`),
	regexp.MustCompile(`(?i)\s+s\.?a\.?s\.?$`),
	regexp.MustCompile(`(?i)\s+s\.?a\.?$`),
	regexp.MustCompile(`(?i)\s+gmbh$`),
	regexp.MustCompile(`(?i)\s+ltd\.?$`),
	regexp.MustCompile(`(?i)\s+inc\.?$`),
	regexp.MustCompile(`(?i)\s+co\.?$`),
	regexp.MustCompile(`\s+[A-Z]{2,3}\d{3,}$`),
	regexp.MustCompile(`\s+\d{2,4}[A-Z]{2,}$`),
	regexp.MustCompile(`\s+\d{2}/\d{2}$`),
	regexp.MustCompile(`\s+\d{2}\.\d{2}$`),
}

// Particles kept lowercase by the title-casing pass (unless leading).
var lowercaseParticles = map[string]bool{
	"de": true, "du": true, "des": true, "le": true, "la": true,
	"les": true, "et": true, "the": true, "a": true, "an": true,
	"of": true, "in": true, "on": true, "at": true,
}

// CleanMerchant tidies a raw merchant name for display and grouping:
// strips processor noise, collapses whitespace and title-cases shouty or
// all-lowercase names. Empty input becomes "Unknown".
func CleanMerchant(name string) string {
	cleaned := strings.TrimSpace(name)
	if cleaned == "" {
		return "Unknown"
	}

	for _, re := range merchantStripPatterns {
		cleaned = strings.TrimSpace(re.ReplaceAllString(cleaned, ""))
	}
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return "Unknown"
	}

	if cleaned == strings.ToLower(cleaned) || cleaned == strings.ToUpper(cleaned) {
		cleaned = smartTitleCase(cleaned)
	}
	return cleaned
}

func smartTitleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if i > 0 && lowercaseParticles[w] {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
