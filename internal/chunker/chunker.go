// Package chunker splits raw document text into segments sized for
// embedding and retrieval. Splitting is deterministic: the same input and
// target size always produce the same chunks in the same order, so
// re-ingestion is idempotent at the chunk-boundary level.
package chunker

import (
	"regexp"
	"strings"
)

// DefaultTargetSize is the chunk size target in characters when the caller
// passes a non-positive value.
const DefaultTargetSize = 1000

var (
	paragraphSplitter = regexp.MustCompile(`\n\s*\n`)
	sentenceSplitter  = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?]+\s*)`)
)

// Split breaks text into chunks of roughly targetSize characters, preferring
// paragraph boundaries, then sentence boundaries, then word boundaries. A
// chunk may exceed the target when a single word does; the target is a goal,
// not a hard cap. Empty or whitespace-only text yields zero chunks; text
// shorter than the target yields exactly one chunk.
func Split(text string, targetSize int) []string {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= targetSize {
		return []string{trimmed}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range paragraphSplitter.Split(trimmed, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		for _, piece := range splitOversized(para, targetSize) {
			if current.Len() > 0 && current.Len()+len(piece)+1 > targetSize {
				flush()
			}
			if current.Len() > 0 {
				current.WriteByte('\n')
			}
			current.WriteString(piece)
		}
	}
	flush()

	return chunks
}

// splitOversized returns the paragraph as-is when it fits the target,
// otherwise breaks it on sentence boundaries, falling back to word
// boundaries for sentences that are themselves oversized.
func splitOversized(para string, targetSize int) []string {
	if len(para) <= targetSize {
		return []string{para}
	}

	sentences := sentenceSplitter.FindAllString(para, -1)
	if len(sentences) == 0 {
		sentences = []string{para}
	}

	var pieces []string
	var current strings.Builder
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if len(sentence) > targetSize {
			if current.Len() > 0 {
				pieces = append(pieces, current.String())
				current.Reset()
			}
			pieces = append(pieces, splitWords(sentence, targetSize)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(sentence)+1 > targetSize {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

// splitWords accumulates whitespace-separated words up to the target size.
// A single word longer than the target becomes its own piece untouched.
func splitWords(s string, targetSize int) []string {
	var pieces []string
	var current strings.Builder
	for _, word := range strings.Fields(s) {
		if current.Len() > 0 && current.Len()+len(word)+1 > targetSize {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}
