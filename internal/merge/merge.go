// Package merge reconciles deck records that share an identity key
// (class, deck name) into a single surviving deck.
package merge

import (
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/selection"
)

// Report summarizes what a merge pass changed.
type Report struct {
	// Remap maps merged-away deck IDs to their survivor.
	Remap map[string]string
	// MovedCards counts cards appended onto survivors.
	MovedCards int
	// TestsRewritten counts tests whose selections referenced a merged deck.
	TestsRewritten int
}

// Changed reports whether the pass merged anything.
func (r Report) Changed() bool { return len(r.Remap) > 0 }

// DuplicateDecks merges decks with equal identity keys. The first deck seen
// for a key survives; later ones donate their cards and tags. Test selections
// are rewritten to survivors and re-normalized. Inputs are not modified.
func DuplicateDecks(decks []model.Deck, tests []model.Test) ([]model.Deck, []model.Test, Report) {
	rep := Report{Remap: map[string]string{}}

	survivors := make([]model.Deck, 0, len(decks))
	byKey := make(map[string]int, len(decks))
	for _, d := range decks {
		key := d.Key()
		if i, ok := byKey[key]; ok {
			s := &survivors[i]
			if s.ID == d.ID {
				continue // same record listed twice
			}
			s.Cards = append(s.Cards, d.Cards...)
			s.Tags = model.UnionTags(s.Tags, d.Tags, cardTags(d.Cards))
			rep.Remap[d.ID] = s.ID
			rep.MovedCards += len(d.Cards)
			continue
		}
		byKey[key] = len(survivors)
		cp := d
		cp.Cards = append([]model.Card(nil), d.Cards...)
		cp.Tags = model.UnionTags(d.Tags, cardTags(d.Cards))
		survivors = append(survivors, cp)
	}

	outTests := make([]model.Test, 0, len(tests))
	for _, t := range tests {
		cp := t
		raw := make([]model.RawSelection, 0, len(t.Selections))
		touched := false
		for _, s := range t.Selections {
			r := s.Raw()
			if to, ok := rep.Remap[r.DeckID]; ok {
				r.DeckID = to
				touched = true
			}
			raw = append(raw, r)
		}
		cp.Selections = selection.Normalize(raw)
		if touched {
			rep.TestsRewritten++
		}
		outTests = append(outTests, cp)
	}
	return survivors, outTests, rep
}

func cardTags(cards []model.Card) []string {
	var out []string
	for _, c := range cards {
		if c.SubTag != "" {
			out = append(out, c.SubTag)
		}
	}
	return out
}
