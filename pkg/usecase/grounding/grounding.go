// Package grounding assembles retrieved passages and recent turns into a
// context text bounded by a character budget.
package grounding

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/maplebond/maplebond/pkg/model"
)

const blockSeparator = "\n\n"

type Assembler struct{}

func New() *Assembler {
	return &Assembler{}
}

// Assemble builds the grounding context. Passages come first in descending
// similarity, then as many of the most recent turns as still fit, oldest
// first. Sizes are counted in runes and the text never exceeds budget. When
// even the best passage does not fit, it is truncated instead of dropped.
func (a *Assembler) Assemble(result *model.RetrievalResult, history []model.Turn, budget int) *model.GroundingContext {
	gc := &model.GroundingContext{}
	if budget <= 0 {
		return gc
	}

	var blocks []string
	size := 0
	fits := func(block string) bool {
		cost := utf8.RuneCountInString(block)
		if len(blocks) > 0 {
			cost += utf8.RuneCountInString(blockSeparator)
		}
		return size+cost <= budget
	}
	add := func(block string) {
		if len(blocks) > 0 {
			size += utf8.RuneCountInString(blockSeparator)
		}
		size += utf8.RuneCountInString(block)
		blocks = append(blocks, block)
	}

	if result != nil {
		for i, sp := range result.Passages {
			block := passageBlock(i+1, sp.Passage)
			if !fits(block) {
				if i == 0 {
					add(truncatedPassageBlock(1, sp.Passage, budget))
					gc.Passages = append(gc.Passages, sp)
				}
				break
			}
			add(block)
			gc.Passages = append(gc.Passages, sp)
		}
	}

	var kept []model.Turn
	for i := len(history) - 1; i >= 0; i-- {
		block := turnBlock(history[i])
		if !fits(block) {
			break
		}
		add(block)
		kept = append(kept, history[i])
	}

	// history blocks were added newest first; emit them oldest first
	turnBlocks := blocks[len(gc.Passages):]
	for i, j := 0, len(turnBlocks)-1; i < j; i, j = i+1, j-1 {
		turnBlocks[i], turnBlocks[j] = turnBlocks[j], turnBlocks[i]
	}
	for i := len(kept) - 1; i >= 0; i-- {
		gc.Turns = append(gc.Turns, kept[i])
	}

	gc.Text = strings.Join(blocks, blockSeparator)
	return gc
}

func passageMarker(n int) string {
	return "[" + strconv.Itoa(n) + "] "
}

func passageHeader(n int, p *model.Passage) string {
	header := passageMarker(n)
	if p.Title != "" {
		header += p.Title + "\n"
	}
	return header
}

func passageBlock(n int, p *model.Passage) string {
	return passageHeader(n, p) + p.Text
}

// truncatedPassageBlock fits a passage block into limit runes by shortening
// its text. The title goes first and then the marker, so the budget is never
// spent on the header alone.
func truncatedPassageBlock(n int, p *model.Passage, limit int) string {
	for _, header := range []string{passageHeader(n, p), passageMarker(n)} {
		if room := limit - utf8.RuneCountInString(header); room > 0 {
			return header + truncate(p.Text, room)
		}
	}
	return truncate(p.Text, limit)
}

func turnBlock(t model.Turn) string {
	return "User: " + t.Query + "\nAssistant: " + t.Answer
}

// truncate cuts s to at most limit runes, at the last whitespace that fits
// when there is one
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	for i := limit; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			if cut := strings.TrimRightFunc(string(runes[:i]), unicode.IsSpace); cut != "" {
				return cut
			}
		}
	}
	return string(runes[:limit])
}
