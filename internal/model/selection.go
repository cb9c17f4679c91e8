package model

import (
	"encoding/json"
	"sort"
	"strings"
)

// RawSelection is an unnormalized selection toggle as produced by a UI or a
// remote row. Several entries may reference the same deck.
type RawSelection struct {
	DeckID string   `json:"deckId"`
	Whole  bool     `json:"whole"`
	Subs   []string `json:"subs"`
}

// Selection is the per-deck eligibility record inside a Test: either the whole
// deck or a non-empty subset of its sub-tags. Build it with WholeDeck or
// SubDecks; the zero value selects nothing.
type Selection struct {
	DeckID string
	whole  bool
	subs   []string // sorted, unique, empty when whole
}

// WholeDeck selects every card of a deck.
func WholeDeck(deckID string) Selection { return Selection{DeckID: deckID, whole: true} }

// SubDecks selects cards of a deck whose sub-tag is one of subs.
// Blank names are ignored and duplicates collapsed.
func SubDecks(deckID string, subs ...string) Selection {
	return Selection{DeckID: deckID, subs: tagSet(subs)}
}

// IsWhole reports whether the whole deck is selected.
func (s Selection) IsWhole() bool { return s.whole }

// Subs returns a copy of the selected sub-tags (nil for whole-deck selections).
func (s Selection) Subs() []string {
	if s.whole || len(s.subs) == 0 {
		return nil
	}
	return append([]string(nil), s.subs...)
}

// Empty reports whether the selection contributes nothing.
func (s Selection) Empty() bool { return !s.whole && len(s.subs) == 0 }

// Covers reports whether a card with the given sub-tag is selected.
func (s Selection) Covers(subTag string) bool {
	if s.whole {
		return true
	}
	i := sort.SearchStrings(s.subs, subTag)
	return i < len(s.subs) && s.subs[i] == subTag
}

// Raw converts the selection back to its wire form.
func (s Selection) Raw() RawSelection {
	subs := s.Subs()
	if subs == nil {
		subs = []string{}
	}
	return RawSelection{DeckID: s.DeckID, Whole: s.whole, Subs: subs}
}

// MarshalJSON encodes the selection as {deckId, whole, subs}.
func (s Selection) MarshalJSON() ([]byte, error) { return json.Marshal(s.Raw()) }

// UnmarshalJSON decodes {deckId, whole, subs}; whole drops any subs.
func (s *Selection) UnmarshalJSON(b []byte) error {
	var raw RawSelection
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Whole {
		*s = WholeDeck(raw.DeckID)
		return nil
	}
	*s = SubDecks(raw.DeckID, raw.Subs...)
	return nil
}

// tagSet trims, drops blanks, dedups and sorts names.
func tagSet(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// UnionTags merges tag lists into a sorted unique set.
func UnionTags(lists ...[]string) []string {
	var all []string
	for _, l := range lists {
		all = append(all, l...)
	}
	out := tagSet(all)
	if out == nil {
		return []string{}
	}
	return out
}
