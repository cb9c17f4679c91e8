// Package importer reads and writes cards in the pipe-separated line format
//
//	question | answer | wrong1 | wrong2 | wrong3 | #subtag
//
// and in the JSON deck export format {"cards": [...]}. Inside a field, "\|"
// stands for a literal pipe and "\\" for a backslash; any other backslash is
// kept as is.
package importer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/and161185/quizdeck/internal/model"
)

// Skip describes a rejected input line.
type Skip struct {
	Line   int // 1-based
	Reason string
}

// Stats summarizes a parse.
type Stats struct {
	Added   int
	Skipped []Skip
}

// ParseLines reads one card per non-blank line. Lines with fewer than three
// fields or without a distractor are skipped. A trailing "#name" field sets
// the sub-tag; otherwise defaultSub applies.
func ParseLines(r io.Reader, defaultSub string) ([]model.Card, Stats, error) {
	var (
		cards []model.Card
		st    Stats
		n     int
	)
	defaultSub = strings.TrimSpace(defaultSub)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c, reason := parseLine(line, defaultSub)
		if reason != "" {
			st.Skipped = append(st.Skipped, Skip{Line: n, Reason: reason})
			continue
		}
		cards = append(cards, c)
	}
	if err := sc.Err(); err != nil {
		return nil, st, fmt.Errorf("read lines: %w", err)
	}
	st.Added = len(cards)
	return cards, st, nil
}

// splitFields splits line on unescaped pipes and unescapes each field.
func splitFields(line string) []string {
	var (
		parts []string
		cur   strings.Builder
	)
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && i+1 < len(line) && (line[i+1] == '|' || line[i+1] == '\\'):
			i++
			cur.WriteByte(line[i])
		case c == '|':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(parts, cur.String())
}

var fieldEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

func parseLine(line, defaultSub string) (model.Card, string) {
	parts := splitFields(line)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 3 {
		return model.Card{}, "need at least question | answer | wrong"
	}
	if parts[0] == "" || parts[1] == "" {
		return model.Card{}, "empty question or answer"
	}

	var wrong []string
	for _, w := range parts[2:min(5, len(parts))] {
		if w != "" {
			wrong = append(wrong, w)
		}
	}
	if len(wrong) == 0 {
		return model.Card{}, "no wrong answer"
	}

	sub := defaultSub
	if len(parts) > 5 {
		tail := strings.TrimSpace(strings.Join(parts[5:], "|"))
		if rest, ok := strings.CutPrefix(tail, "#"); ok {
			sub = strings.TrimSpace(rest)
		}
	}
	return model.Card{Question: parts[0], CorrectAnswer: parts[1], Distractors: wrong, SubTag: sub}, ""
}

// jsonDeck is the JSON export shape.
type jsonDeck struct {
	ClassName string       `json:"className,omitempty"`
	DeckName  string       `json:"deckName,omitempty"`
	Cards     []model.Card `json:"cards"`
}

// ParseJSON reads {"cards": [...]}. Card ids are dropped so the store
// assigns fresh ones.
func ParseJSON(r io.Reader) ([]model.Card, Stats, error) {
	var d jsonDeck
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, Stats{}, fmt.Errorf("decode deck json: %w", err)
	}
	var st Stats
	out := make([]model.Card, 0, len(d.Cards))
	for i, c := range d.Cards {
		if strings.TrimSpace(c.Question) == "" || strings.TrimSpace(c.CorrectAnswer) == "" || len(c.Distractors) == 0 {
			st.Skipped = append(st.Skipped, Skip{Line: i + 1, Reason: "incomplete card"})
			continue
		}
		if len(c.Distractors) > model.MaxDistractors {
			c.Distractors = c.Distractors[:model.MaxDistractors]
		}
		c.ID = ""
		out = append(out, c)
	}
	st.Added = len(out)
	return out, st, nil
}

// WriteLines writes cards in the line format, escaping pipes and
// backslashes so that ParseLines reads the same fields back.
func WriteLines(w io.Writer, cards []model.Card) error {
	bw := bufio.NewWriter(w)
	for _, c := range cards {
		fields := []string{fieldEscaper.Replace(c.Question), fieldEscaper.Replace(c.CorrectAnswer)}
		for _, d := range c.Distractors {
			fields = append(fields, fieldEscaper.Replace(d))
		}
		if c.SubTag != "" {
			for len(fields) < 5 {
				fields = append(fields, "")
			}
			fields = append(fields, "#"+fieldEscaper.Replace(c.SubTag))
		}
		if _, err := bw.WriteString(strings.Join(fields, " | ") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteJSON writes a deck in the JSON export shape.
func WriteJSON(w io.Writer, d model.Deck) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonDeck{ClassName: d.ClassName, DeckName: d.DeckName, Cards: d.Cards})
}
