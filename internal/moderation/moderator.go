package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator masks configured words in chat messages. Matching runs on a
// normalized view of the text (lowercased, leet speak folded, punctuation
// and spacing stripped) so trivial obfuscation does not slip through,
// while replacement happens on the original runes.
type Moderator struct {
	machine *goahocorasick.Machine
	mask    rune
}

// NewModerator builds the Aho-Corasick automaton over the normalized
// word list. Words that normalize to nothing are skipped.
func NewModerator(words []string, mask rune) (*Moderator, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		normalized := normalize([]rune(word))
		if len(normalized) == 0 {
			continue
		}
		patterns = append(patterns, normalized)
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{machine: machine, mask: mask}, nil
}

// Censor returns the text with every match replaced by the mask rune,
// plus the list of matched (normalized) words. Spacing and punctuation
// inside a match survive; only the letters are masked.
func (m *Moderator) Censor(text string) (string, []string) {
	origRunes := []rune(text)
	norm, origIdx := normalizeMapped(origRunes)
	if len(norm) == 0 {
		return text, nil
	}

	spans := m.machine.MultiPatternSearch(norm, false)
	if len(spans) == 0 {
		return text, nil
	}

	matched := make([]string, 0, len(spans))
	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		matched = append(matched, string(span.Word))

		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			if !isNoise(origRunes[i]) {
				origRunes[i] = m.mask
			}
		}
	}

	return string(origRunes), matched
}

// normalizeMapped produces the searchable rune stream and, for each
// normalized rune, the index of the original rune it came from.
func normalizeMapped(orig []rune) ([]rune, []int) {
	norm := make([]rune, 0, len(orig))
	idx := make([]int, 0, len(orig))
	for i, r := range orig {
		folded := foldLeet(r)
		if isNoise(folded) {
			continue
		}
		norm = append(norm, unicode.ToLower(folded))
		idx = append(idx, i)
	}
	return norm, idx
}

func normalize(input []rune) []rune {
	out, _ := normalizeMapped(input)
	return out
}

// foldLeet maps common substitution characters back to the letters they
// stand in for.
func foldLeet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
