// internal/segment/recognizer.go
package segment

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Recognizer decides whether one line body is a chapter heading. The body
// has already lost its leading whitespace and markdown hash prefix.
type Recognizer interface {
	Name() string
	Match(body string) bool
}

// NumeralStyle is a bit set of accepted numeral spellings.
type NumeralStyle uint8

const (
	Digits NumeralStyle = 1 << iota
	Roman
	EnglishWords
	IndonesianWords

	AnyNumeral = Digits | Roman | EnglishWords | IndonesianWords
)

var (
	// Only the first word of a compound is checked, so "Twenty-One" and
	// "Dua Puluh" are covered by their leading word.
	englishNumerals = []string{
		"one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten",
		"eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
		"twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety", "hundred",
		"first", "second", "third", "fourth", "fifth", "sixth", "seventh", "eighth", "ninth", "tenth",
		"eleventh", "twelfth", "thirteenth", "fourteenth", "fifteenth", "sixteenth", "seventeenth", "eighteenth", "nineteenth",
		"twentieth", "thirtieth", "fortieth", "fiftieth", "sixtieth", "seventieth", "eightieth", "ninetieth",
	}
	indonesianNumerals = []string{
		"satu", "dua", "tiga", "empat", "lima", "enam", "tujuh", "delapan", "sembilan", "sepuluh",
		"sebelas", "seratus",
	}

	romanPattern = regexp.MustCompile(`(?i)^M{0,3}(CM|CD|D?C{0,3})(XC|XL|L?X{0,3})(IX|IV|V?I{0,3})$`)
)

// IsNumeral reports whether word is a numeral in one of the given styles.
func IsNumeral(word string, styles NumeralStyle) bool {
	if word == "" {
		return false
	}
	if styles&Digits != 0 && isDigits(word) {
		return true
	}
	if styles&Roman != 0 && romanPattern.MatchString(word) {
		return true
	}
	if styles&EnglishWords != 0 && containsFold(englishNumerals, word) {
		return true
	}
	if styles&IndonesianWords != 0 && containsFold(indonesianNumerals, word) {
		return true
	}
	return false
}

// KeywordRecognizer matches a keyword such as "Chapter" or "Bab" followed by
// a numeral. With NumeralOptional the keyword alone is enough.
type KeywordRecognizer struct {
	Family          string
	Keywords        []string
	Numerals        NumeralStyle
	NumeralOptional bool
}

func (r KeywordRecognizer) Name() string { return r.Family }

func (r KeywordRecognizer) Match(body string) bool {
	for _, kw := range r.Keywords {
		rest, ok := cutWordFold(body, kw)
		if !ok {
			continue
		}
		word := leadingWord(strings.TrimLeftFunc(rest, unicode.IsSpace))
		if IsNumeral(word, r.Numerals) {
			return true
		}
		if r.NumeralOptional {
			return true
		}
	}
	return false
}

// NumeralRecognizer matches a line that opens with a bare numeral, e.g.
// "12", "3. Home" or "Satu".
type NumeralRecognizer struct {
	Family   string
	Numerals NumeralStyle
}

func (r NumeralRecognizer) Name() string { return r.Family }

func (r NumeralRecognizer) Match(body string) bool {
	return IsNumeral(leadingWord(body), r.Numerals)
}

// DefaultRecognizers returns the recognizer table used by Segment. Order
// matters: the first recognizer that accepts a line wins.
func DefaultRecognizers() []Recognizer {
	return []Recognizer{
		KeywordRecognizer{
			Family:   "numbered-en",
			Keywords: []string{"Chapter", "Part", "Book", "Volume", "Vol.", "Vol", "Episode"},
			Numerals: AnyNumeral,
		},
		KeywordRecognizer{
			Family:   "numbered-id",
			Keywords: []string{"Bab", "Bagian"},
			Numerals: AnyNumeral,
		},
		KeywordRecognizer{
			Family:          "framing",
			Keywords:        []string{"Prologue", "Epilogue", "Prolog", "Epilog", "Permulaan", "Akhiran"},
			Numerals:        AnyNumeral,
			NumeralOptional: true,
		},
		NumeralRecognizer{
			Family:   "bare-numeral",
			Numerals: Digits | IndonesianWords,
		},
	}
}

// cutWordFold strips kw from the start of s when it is there as a whole
// word, ignoring case.
func cutWordFold(s, kw string) (string, bool) {
	if len(s) < len(kw) || !strings.EqualFold(s[:len(kw)], kw) {
		return "", false
	}
	rest := s[len(kw):]
	if r, _ := utf8.DecodeRuneInString(rest); rest != "" && isWordRune(r) {
		return "", false
	}
	return rest, true
}

// leadingWord returns the run of letters and digits at the start of s.
func leadingWord(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool { return !isWordRune(r) })
	if end < 0 {
		return s
	}
	return s[:end]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func containsFold(words []string, w string) bool {
	for _, candidate := range words {
		if strings.EqualFold(candidate, w) {
			return true
		}
	}
	return false
}
