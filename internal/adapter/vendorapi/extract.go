package vendorapi

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	minCodeLen = 10
	maxCodeLen = 20
)

// Matcher looks for a pin code in free text.
type Matcher func(text string) (string, bool)

func prefixMatcher(prefix string) Matcher {
	re := regexp.MustCompile(`(?i)\b` + prefix + `[:\s]*([A-Z0-9]{10,20})\b`)
	return func(text string) (string, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		return m[1], true
	}
}

var bareToken = regexp.MustCompile(`(?i)\b[A-Z0-9]{12,16}\b`)

// bareMatcher accepts a standalone token only if it carries a digit, so
// plain words such as "temporalmente" are not mistaken for codes.
func bareMatcher(text string) (string, bool) {
	for _, tok := range bareToken.FindAllString(text, -1) {
		if strings.IndexFunc(tok, unicode.IsDigit) >= 0 {
			return tok, true
		}
	}
	return "", false
}

// Order matters: labelled codes win over bare tokens.
var defaultMatchers = []Matcher{
	prefixMatcher(`PIN`),
	prefixMatcher(`C[OÓ]DIGO`),
	prefixMatcher(`CODE`),
	bareMatcher,
}

// ExtractCode returns the first code found by the matchers, in order.
func ExtractCode(text string) (string, bool) {
	return extractWith(defaultMatchers, text)
}

func extractWith(matchers []Matcher, text string) (string, bool) {
	for _, match := range matchers {
		code, ok := match(text)
		if !ok {
			continue
		}
		code = strings.TrimSpace(code)
		if len(code) >= minCodeLen && len(code) <= maxCodeLen {
			return code, true
		}
	}
	return "", false
}

var noStockKeywords = []string{
	"sin stock",
	"no stock",
	"agotado",
	"no disponible",
	"out of stock",
	"unavailable",
	"insufficient",
	"no hay",
	"error",
	"no se pudo",
	"fallido",
	"failed",
}

// signalsNoStock reports whether the response text contains any
// stock-absence keyword.
func signalsNoStock(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range noStockKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
