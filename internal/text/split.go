package text

import (
	"unicode"
	"unicode/utf8"
)

// Segment is a contiguous span of the original narration text.
// Text is always input[Start:End]; only whitespace lies between consecutive
// segments.
type Segment struct {
	Index int
	Text  string
	Start int
	End   int
}

// UnitLen returns the length of s in narration units (runes).
func UnitLen(s string) int {
	return utf8.RuneCountInString(s)
}

// SplitNarration splits input into ordered segments of at most maxUnits runes.
// Sentences are packed greedily; a sentence longer than maxUnits is packed
// word by word instead. Words are never broken, so a single word longer than
// maxUnits becomes a segment of its own. A non-positive maxUnits yields one
// segment covering the trimmed input.
func SplitNarration(input string, maxUnits int) []Segment {
	sentences := sentenceSpans(input)
	if len(sentences) == 0 {
		return nil
	}

	if maxUnits <= 0 {
		whole := span{start: sentences[0].start, end: sentences[len(sentences)-1].end}
		return []Segment{whole.segment(input, 0)}
	}

	p := packer{input: input, max: maxUnits}
	for _, s := range sentences {
		if p.units(s) > maxUnits {
			p.flush()
			for _, w := range wordSpans(input, s) {
				p.add(w)
			}
			p.flush()
			continue
		}
		p.add(s)
	}
	p.flush()

	return p.out
}

type span struct {
	start int
	end   int
}

func (s span) segment(input string, idx int) Segment {
	return Segment{Index: idx, Text: input[s.start:s.end], Start: s.start, End: s.end}
}

type packer struct {
	input string
	max   int
	cur   span
	open  bool
	out   []Segment
}

func (p *packer) units(s span) int {
	return utf8.RuneCountInString(p.input[s.start:s.end])
}

func (p *packer) add(s span) {
	if !p.open {
		p.cur, p.open = s, true
		return
	}
	merged := span{start: p.cur.start, end: s.end}
	if p.units(merged) <= p.max {
		p.cur = merged
		return
	}
	p.flush()
	p.cur, p.open = s, true
}

func (p *packer) flush() {
	if !p.open {
		return
	}
	p.out = append(p.out, p.cur.segment(p.input, len(p.out)))
	p.open = false
}

// sentenceSpans returns the trimmed sentence spans of s. A sentence ends after
// a run of '.', '!' or '?' (plus any closing quotes or brackets) that is
// followed by whitespace or the end of input. Trailing text without a
// terminator forms a final sentence.
func sentenceSpans(s string) []span {
	var spans []span

	i := skipSpace(s, 0)
	start := i
	lastNonSpace := -1

	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isTerminator(r) {
			if !unicode.IsSpace(r) {
				lastNonSpace = i + size
			}
			i += size
			continue
		}

		j := i
		for j < len(s) {
			r2, sz := utf8.DecodeRuneInString(s[j:])
			if !isTerminator(r2) && !isCloser(r2) {
				break
			}
			j += sz
		}
		lastNonSpace = j

		if j == len(s) || startsWithSpace(s[j:]) {
			spans = append(spans, span{start: start, end: j})
			i = skipSpace(s, j)
			start = i
			lastNonSpace = -1
			continue
		}
		i = j
	}

	if lastNonSpace > start {
		spans = append(spans, span{start: start, end: lastNonSpace})
	}

	return spans
}

// wordSpans returns the whitespace-delimited words inside within.
func wordSpans(s string, within span) []span {
	var words []span

	i := within.start
	for i < within.end {
		i = skipSpace(s[:within.end], i)
		if i >= within.end {
			break
		}
		j := i
		for j < within.end {
			r, size := utf8.DecodeRuneInString(s[j:])
			if unicode.IsSpace(r) {
				break
			}
			j += size
		}
		words = append(words, span{start: i, end: j})
		i = j
	}

	return words
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsSpace(r)
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}
