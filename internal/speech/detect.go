package speech

import "strings"

// Turkish-specific letters; any of these settles the detection immediately.
const turkishDiacritics = "çğıöşüÇĞİÖŞÜ"

// Closed set of common Turkish function words and greetings. The heuristic
// deliberately stays lexical: the utterances this service speaks are short
// chat turns, not documents, so a statistical detector buys nothing.
var turkishFunctionWords = map[string]struct{}{
	"ve":       {},
	"bir":      {},
	"bu":       {},
	"için":     {},
	"ile":      {},
	"ama":      {},
	"gibi":     {},
	"daha":     {},
	"çok":      {},
	"ne":       {},
	"nasıl":    {},
	"evet":     {},
	"hayır":    {},
	"merhaba":  {},
	"teşekkür": {},
	"lütfen":   {},
	"doktor":   {},
	"randevu":  {},
}

// DetectLanguage returns "tr" when the text carries Turkish diacritics or
// Turkish function words, otherwise defaultLanguage.
func DetectLanguage(text, defaultLanguage string) string {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	if strings.ContainsAny(text, turkishDiacritics) {
		return "tr"
	}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if _, ok := turkishFunctionWords[word]; ok {
			return "tr"
		}
	}
	return defaultLanguage
}
