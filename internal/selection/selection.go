// Package selection implements the selection algebra: normalizing raw deck
// choices, resolving them into a card pool and sampling quiz questions.
// All functions are pure and never reject input.
package selection

import (
	"math/rand/v2"
	"sort"

	"github.com/and161185/quizdeck/internal/model"
)

// Normalize collapses raw entries into at most one selection per deck.
// Whole wins over any sub-tags; decks with neither are dropped.
// Output is sorted by deck ID.
func Normalize(raw []model.RawSelection) []model.Selection {
	type acc struct {
		whole bool
		subs  []string
	}
	groups := make(map[string]*acc, len(raw))
	for _, r := range raw {
		if r.DeckID == "" {
			continue
		}
		g, ok := groups[r.DeckID]
		if !ok {
			g = &acc{}
			groups[r.DeckID] = g
		}
		g.whole = g.whole || r.Whole
		g.subs = append(g.subs, r.Subs...)
	}

	out := make([]model.Selection, 0, len(groups))
	for id, g := range groups {
		var s model.Selection
		if g.whole {
			s = model.WholeDeck(id)
		} else {
			s = model.SubDecks(id, g.subs...)
		}
		if s.Empty() {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeckID < out[j].DeckID })
	return out
}

// Renormalize runs Normalize over already-built selections.
func Renormalize(sels []model.Selection) []model.Selection {
	return Normalize(ToRaw(sels))
}

// ToRaw converts selections to their wire form.
func ToRaw(sels []model.Selection) []model.RawSelection {
	out := make([]model.RawSelection, 0, len(sels))
	for _, s := range sels {
		out = append(out, s.Raw())
	}
	return out
}

// ResolvePool expands selections into the eligible cards. Selections that
// reference missing decks contribute nothing.
func ResolvePool(sels []model.Selection, decks map[string]model.Deck) []model.Card {
	var pool []model.Card
	for _, s := range sels {
		d, ok := decks[s.DeckID]
		if !ok {
			continue
		}
		if s.IsWhole() {
			pool = append(pool, d.Cards...)
			continue
		}
		for _, c := range d.Cards {
			if s.Covers(c.SubTag) {
				pool = append(pool, c)
			}
		}
	}
	return pool
}

// Sample draws min(n, len(pool)) cards uniformly at random without
// replacement. The pool is not modified.
func Sample(pool []model.Card, n int, rng *rand.Rand) []model.Card {
	if n <= 0 || len(pool) == 0 {
		return []model.Card{}
	}
	if n > len(pool) {
		n = len(pool)
	}
	cp := append([]model.Card(nil), pool...)
	// partial Fisher-Yates: the first n slots end up uniformly sampled
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(cp)-i)
		cp[i], cp[j] = cp[j], cp[i]
	}
	return cp[:n]
}

// Intersect narrows base by an ad-hoc pick (practice mode). Whole on both
// sides stays whole; otherwise a whole side stands for the deck's declared
// tags and the common sub-tags are kept when non-empty.
func Intersect(base, pick []model.Selection, decks map[string]model.Deck) []model.Selection {
	picked := make(map[string]model.Selection, len(pick))
	for _, s := range Renormalize(pick) {
		picked[s.DeckID] = s
	}

	var raw []model.RawSelection
	for _, a := range Renormalize(base) {
		b, ok := picked[a.DeckID]
		if !ok {
			continue
		}
		if a.IsWhole() && b.IsWhole() {
			raw = append(raw, model.RawSelection{DeckID: a.DeckID, Whole: true})
			continue
		}
		deck := decks[a.DeckID]
		sa, sb := subsOrTags(a, deck), subsOrTags(b, deck)
		var common []string
		for t := range sa {
			if _, ok := sb[t]; ok {
				common = append(common, t)
			}
		}
		if len(common) > 0 {
			raw = append(raw, model.RawSelection{DeckID: a.DeckID, Subs: common})
		}
	}
	return Normalize(raw)
}

func subsOrTags(s model.Selection, d model.Deck) map[string]struct{} {
	names := s.Subs()
	if s.IsWhole() {
		names = d.Tags
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// DeckIndex maps decks by ID.
func DeckIndex(decks []model.Deck) map[string]model.Deck {
	out := make(map[string]model.Deck, len(decks))
	for _, d := range decks {
		out[d.ID] = d
	}
	return out
}
