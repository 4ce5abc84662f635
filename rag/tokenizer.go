package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer splits text into tokens and joins them back. Join(Split(s)) must
// reproduce s up to the tokenizer's own normalization, and Split must be
// deterministic.
type Tokenizer interface {
	Split(text string) []string
	Join(tokens []string) string
}

// WordTokenizer treats whitespace-separated words as tokens. Joining
// normalizes whitespace to single spaces.
type WordTokenizer struct{}

func (WordTokenizer) Split(text string) []string {
	return strings.Fields(text)
}

func (WordTokenizer) Join(tokens []string) string {
	return strings.Join(tokens, " ")
}

// TiktokenTokenizer uses a BPE encoding, the same one the embedding model
// counts with. BPE ids are byte pieces that may end inside a multibyte
// character; such ids are merged with their successors until the piece is
// valid UTF-8. Joining the pieces reproduces the input byte for byte.
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Split(text string) []string {
	text = strings.ToValidUTF8(text, "\uFFFD")
	ids := t.enc.Encode(text, nil, nil)

	pieces := make([]string, 0, len(ids))
	var pending []byte
	for _, id := range ids {
		pending = append(pending, t.enc.Decode([]int{id})...)
		if utf8.Valid(pending) {
			pieces = append(pieces, string(pending))
			pending = pending[:0]
		}
	}
	if len(pending) > 0 {
		pieces = append(pieces, string(pending))
	}
	return pieces
}

func (t *TiktokenTokenizer) Join(tokens []string) string {
	return strings.Join(tokens, "")
}

// NewTokenizer picks a tokenizer by name: "tiktoken" or "word".
func NewTokenizer(name string) (Tokenizer, error) {
	switch name {
	case "", "tiktoken":
		return NewTiktokenTokenizer("cl100k_base")
	case "word":
		return WordTokenizer{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}

// CountTokens is a convenience for prompt budgeting.
func CountTokens(tok Tokenizer, text string) int {
	return len(tok.Split(text))
}
