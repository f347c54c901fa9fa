// Package sanitize applies allow-list filters to untrusted text before it is stored or queried.
// Filters strip characters outside the field's class and cap its length; they do not escape.
// Use HTML for text that is echoed into markup.
package sanitize

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Length caps, in runes.
const (
	MaxName        = 100
	MaxAddressLine = 200
	MaxPostcode    = 10
	MaxPhone       = 20
	MaxEmail       = 254
	MaxSearch      = 100
	MaxFreeText    = 1000
)

// filter keeps runes accepted by keep, collapses runs of spaces, trims and truncates.
func filter(s string, limit int, keep func(r rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if !keep(r) {
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return truncate(b.String(), limit)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return s
}

func in(r rune, set string) bool { return strings.ContainsRune(set, r) }

// Name keeps letters, combining marks, spaces and '-. so names such as "Àdìsá O'Neil-Smith" survive.
func Name(s string) string {
	return filter(s, MaxName, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.Is(unicode.Mn, r) || in(r, "'-.")
	})
}

// AddressLine keeps letters, digits, spaces and ,.-/#'.
func AddressLine(s string) string {
	return filter(s, MaxAddressLine, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.Is(unicode.Mn, r) || unicode.IsDigit(r) || in(r, ",.-/#'")
	})
}

// Postcode keeps ASCII letters, digits and spaces, uppercased.
func Postcode(s string) string {
	return strings.ToUpper(filter(s, MaxPostcode, func(r rune) bool {
		return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
	}))
}

// Phone keeps digits, spaces and a single leading +.
func Phone(s string) string {
	s = strings.TrimSpace(s)
	plus := strings.HasPrefix(s, "+")
	out := filter(s, MaxPhone, func(r rune) bool { return r >= '0' && r <= '9' })
	if plus {
		out = truncate("+"+out, MaxPhone)
	}
	return out
}

// Email trims and lowercases; structural validation is the boundary validator's job.
func Email(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return truncate(s, MaxEmail)
}

// Search keeps letters, digits, spaces and hyphens. LIKE wildcards are dropped with everything else.
func Search(s string) string {
	return filter(s, MaxSearch, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.Is(unicode.Mn, r) || unicode.IsDigit(r) || r == '-'
	})
}

// FreeText strips control characters and collapses whitespace.
func FreeText(s string) string {
	return filter(s, MaxFreeText, func(r rune) bool { return !unicode.IsControl(r) })
}

// HTML escapes text for safe echo into markup.
func HTML(s string) string { return html.EscapeString(s) }
