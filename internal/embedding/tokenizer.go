package embedding

import (
	"strings"
	"unicode"
)

// CLIP text tower special tokens and context length.
const (
	clipStartToken = 49406
	clipEndToken   = 49407

	// DefaultContextLength is the CLIP text context length.
	DefaultContextLength = 77
)

// Tokenizer produces token ids and an attention mask for a CLIP-style text tower.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask []int64)
}

// SimpleTokenizer is a word-split tokenizer with hash-based token ids. It keeps the
// start/end framing and padding of the CLIP tokenizer but not its BPE vocabulary.
type SimpleTokenizer struct{}

// Tokenize lowercases text, splits it into words and produces ids padded to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask []int64) {
	if maxTokens < 2 {
		maxTokens = DefaultContextLength
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)

	inputIDs[0] = clipStartToken
	attentionMask[0] = 1

	pos := 1
	for _, word := range SplitWords(strings.ToLower(text)) {
		if pos >= maxTokens-1 {
			break
		}
		// ids 1..clipStartToken-1 never collide with the special tokens or padding
		inputIDs[pos] = int64(HashString(word)%(clipStartToken-1)) + 1
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = clipEndToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask
}

// SplitWords splits text on anything that is not a letter or digit.
func SplitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// HashString returns a deterministic non-negative hash for use as a simple token id.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		h = 0
	}
	return h
}
