package augment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeMixedText(t *testing.T) {
	spans := Tokenize("see >>12 and >>5 also http://x.test/y")

	expected := []Span{
		{Kind: KindPlain, Text: "see "},
		{Kind: KindCrossRef, Text: ">>12", Ref: 12},
		{Kind: KindPlain, Text: " and "},
		{Kind: KindCrossRef, Text: ">>5", Ref: 5},
		{Kind: KindPlain, Text: " also "},
		{Kind: KindLink, Text: "http://x.test/y", URL: "http://x.test/y"},
	}
	assert.Equal(t, expected, spans)
}

func TestTokenizeEmpty(t *testing.T) {
	spans := Tokenize("")
	require.NotNil(t, spans)
	assert.Empty(t, spans)
}

func TestTokenizeEdgeCases(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Span
	}{
		{
			name:     "marker without digits stays plain",
			input:    "quote >> this",
			expected: []Span{{Kind: KindPlain, Text: "quote >> this"}},
		},
		{
			name:  "marker digits stop at first non digit",
			input: ">>7a",
			expected: []Span{
				{Kind: KindCrossRef, Text: ">>7", Ref: 7},
				{Kind: KindPlain, Text: "a"},
			},
		},
		{
			name:  "triple marker keeps one angle bracket plain",
			input: ">>>3",
			expected: []Span{
				{Kind: KindPlain, Text: ">"},
				{Kind: KindCrossRef, Text: ">>3", Ref: 3},
			},
		},
		{
			name:     "scheme alone is plain",
			input:    "http:// nothing",
			expected: []Span{{Kind: KindPlain, Text: "http:// nothing"}},
		},
		{
			name:     "upper case scheme is not a link",
			input:    "go HTTPS://x.test/y now",
			expected: []Span{{Kind: KindPlain, Text: "go HTTPS://x.test/y now"}},
		},
		{
			name:  "link runs until whitespace",
			input: "go https://a.test/p?q=>>1\tnow",
			expected: []Span{
				{Kind: KindPlain, Text: "go "},
				{Kind: KindLink, Text: "https://a.test/p?q=>>1", URL: "https://a.test/p?q=>>1"},
				{Kind: KindPlain, Text: "\tnow"},
			},
		},
		{
			name:     "overflowing reference stays plain",
			input:    ">>99999999999999999999999",
			expected: []Span{{Kind: KindPlain, Text: ">>99999999999999999999999"}},
		},
		{
			name:  "multibyte text is preserved",
			input: "こんにちは>>1",
			expected: []Span{
				{Kind: KindPlain, Text: "こんにちは"},
				{Kind: KindCrossRef, Text: ">>1", Ref: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.input))
		})
	}
}

func TestTokenizeNeverAdjacentPlain(t *testing.T) {
	inputs := []string{"a>>b>>c", ">>", "x http:// y >>", "http://"}
	for _, input := range inputs {
		spans := Tokenize(input)
		for i := 1; i < len(spans); i++ {
			if spans[i].Kind == KindPlain && spans[i-1].Kind == KindPlain {
				t.Fatalf("adjacent plain spans for %q: %+v", input, spans)
			}
		}
	}
}

func TestAnchor(t *testing.T) {
	assert.Equal(t, "#post-12", Anchor(12))
}
