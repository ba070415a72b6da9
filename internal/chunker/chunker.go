// Package chunker splits normalized file content into passages bounded by
// an approximate token budget, preserving line-range provenance. Splitting
// is deterministic: identical content always yields identical pieces.
package chunker

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Piece is a passage of text with its line span in the source file.
type Piece struct {
	Text      string
	StartLine int
	EndLine   int
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// countTokens returns the approximate token count of text. Uses the
// cl100k_base encoding when available, otherwise a bytes/4 heuristic so
// chunking keeps working without the BPE tables.
func countTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, using heuristic", "error", err)
			return
		}
		enc = e
	})
	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// Split breaks text into pieces of at most roughly tokenBudget tokens,
// preferring paragraph boundaries. Empty and whitespace-only input yields
// no pieces.
func Split(text string, tokenBudget int) []Piece {
	if tokenBudget <= 0 {
		tokenBudget = 250
	}

	lines := strings.Split(text, "\n")
	var pieces []Piece
	var current strings.Builder
	startLine := 1
	curTokens := 0

	flush := func(endLine int) {
		content := strings.TrimSpace(current.String())
		if content != "" {
			pieces = append(pieces, Piece{
				Text:      content,
				StartLine: startLine,
				EndLine:   endLine,
			})
		}
		current.Reset()
		curTokens = 0
		startLine = endLine + 1
	}

	for i, line := range lines {
		lineNum := i + 1

		// Paragraph boundary: flush at an empty line once the piece is at
		// least half full, so pieces track prose structure where possible.
		if strings.TrimSpace(line) == "" && current.Len() > 0 {
			if curTokens >= tokenBudget/2 {
				flush(lineNum - 1)
				continue
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
		curTokens += countTokens(line)

		if curTokens >= tokenBudget {
			flush(lineNum)
		}
	}

	if current.Len() > 0 {
		flush(len(lines))
	}

	return pieces
}
