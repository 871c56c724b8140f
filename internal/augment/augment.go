// Package augment splits post text into plain runs, in-thread cross
// references (">>12") and bare hyperlinks.
package augment

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Kind string

const (
	KindPlain    Kind = "plain"
	KindCrossRef Kind = "crossref"
	KindLink     Kind = "link"
)

// Span is one token of augmented text. Ref is set for cross references and
// URL for links; Text always carries the literal source text.
type Span struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
	Ref  int    `json:"ref,omitempty"`
	URL  string `json:"url,omitempty"`
}

const crossRefMarker = ">>"

var linkSchemes = []string{"https://", "http://"}

// Tokenize scans text left to right. Adjacent plain runs are coalesced and an
// empty input yields an empty slice.
func Tokenize(text string) []Span {
	spans := make([]Span, 0)
	var plain strings.Builder

	flush := func() {
		if plain.Len() == 0 {
			return
		}
		spans = append(spans, Span{Kind: KindPlain, Text: plain.String()})
		plain.Reset()
	}

	for i := 0; i < len(text); {
		if n := linkAt(text[i:]); n > 0 {
			flush()
			url := text[i : i+n]
			spans = append(spans, Span{Kind: KindLink, Text: url, URL: url})
			i += n
			continue
		}
		if ref, n, ok := crossRefAt(text[i:]); ok {
			flush()
			spans = append(spans, Span{Kind: KindCrossRef, Text: text[i : i+n], Ref: ref})
			i += n
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		plain.WriteString(text[i : i+size])
		i += size
	}
	flush()
	return spans
}

// linkAt returns the byte length of a hyperlink at the start of s, or 0.
func linkAt(s string) int {
	for _, scheme := range linkSchemes {
		if !strings.HasPrefix(s, scheme) {
			continue
		}
		end := len(scheme)
		for end < len(s) {
			r, size := utf8.DecodeRuneInString(s[end:])
			if unicode.IsSpace(r) {
				break
			}
			end += size
		}
		if end == len(scheme) {
			return 0
		}
		return end
	}
	return 0
}

func crossRefAt(s string) (int, int, bool) {
	if !strings.HasPrefix(s, crossRefMarker) {
		return 0, 0, false
	}
	end := len(crossRefMarker)
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == len(crossRefMarker) {
		return 0, 0, false
	}
	ref, err := strconv.Atoi(s[len(crossRefMarker):end])
	if err != nil {
		return 0, 0, false
	}
	return ref, end, true
}

// Anchor is the same-page jump target for a cross reference.
func Anchor(ref int) string {
	return "#post-" + strconv.Itoa(ref)
}
