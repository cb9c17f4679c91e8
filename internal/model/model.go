// Package model defines domain entities shared by the client core, the sync
// engine and the reference backend.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// MaxDistractors bounds the wrong answers a card carries.
const MaxDistractors = 3

// Card is a single multiple-choice question owned by a Deck.
type Card struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	CorrectAnswer string    `json:"correctAnswer"`
	Distractors   []string  `json:"distractors"` // 1..3 wrong answers, ordered
	SubTag        string    `json:"subTag,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Deck is a named collection of cards under a class label.
// Identity is (class, deck name), not ID; see IdentityKey.
type Deck struct {
	ID        string   `json:"id"`
	ClassName string   `json:"className"`
	DeckName  string   `json:"deckName"`
	Tags      []string `json:"tags"` // declared sub-deck names, sorted, unique
	Cards     []Card   `json:"cards"`
}

// IdentityKey returns the case- and whitespace-insensitive identity of a deck.
func IdentityKey(className, deckName string) string {
	return strings.ToLower(strings.TrimSpace(className)) + "||" + strings.ToLower(strings.TrimSpace(deckName))
}

// Key returns the deck's identity key.
func (d Deck) Key() string { return IdentityKey(d.ClassName, d.DeckName) }

// HasTag reports whether tag is declared on the deck.
func (d Deck) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Test is a saved, named specification of which decks/sub-decks are in scope.
type Test struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"` // unique, case-insensitive; used in shareable links
	Title         string      `json:"title"`
	QuestionCount int         `json:"questionCount"`
	Selections    []Selection `json:"selections"`
}

// DefaultQuestionCount is used when a test is saved without a positive count.
const DefaultQuestionCount = 30

// Answer records one graded question of a quiz attempt.
type Answer struct {
	Question      string `json:"question"`
	CorrectAnswer string `json:"correctAnswer"`
	ChosenAnswer  string `json:"chosenAnswer"`
}

// Correct reports whether the chosen answer matches the correct one.
func (a Answer) Correct() bool { return a.ChosenAnswer == a.CorrectAnswer }

// ResultStatus is the lifecycle state of a stored result.
type ResultStatus string

const (
	ResultActive   ResultStatus = "active"
	ResultArchived ResultStatus = "archived"
)

// Valid reports whether s is a known status.
func (s ResultStatus) Valid() bool { return s == ResultActive || s == ResultArchived }

// Result is created once at quiz submission and is immutable afterwards,
// except for Status which is managed by the backend.
type Result struct {
	ID               string       `json:"id" validate:"required"`
	IdempotencyKey   string       `json:"idempotencyKey" validate:"required"`
	ClientID         string       `json:"clientId" validate:"required"`
	LearnerName      string       `json:"learnerName" validate:"required"`
	Location         string       `json:"location" validate:"required"`
	Date             string       `json:"date" validate:"required,datetime=2006-01-02"`
	SubmittedAtEpoch int64        `json:"submittedAtEpoch"` // unix millis
	TestID           string       `json:"testId"`
	TestName         string       `json:"testName" validate:"required"`
	Score            int          `json:"score"` // percent, 0..100
	CorrectCount     int          `json:"correctCount" validate:"gte=0"`
	TotalCount       int          `json:"totalCount" validate:"gte=0,gtefield=CorrectCount"`
	Answers          []Answer     `json:"answers"`
	Status           ResultStatus `json:"status,omitempty"`
}

// OutboxID identifies the result inside the outbox.
func (r Result) OutboxID() string { return r.ID }

// Action names a remote write carried by an outbox item.
type Action string

const (
	ActionSubmitResult  Action = "submitresult"
	ActionBulkUpsert    Action = "bulkupsert"
	ActionArchiveMove   Action = "archivemove"
	ActionDeleteForever Action = "deleteforever"
)

// OutboxItem is a queued, not yet acknowledged remote write.
type OutboxItem struct {
	ID                 string          `json:"id"` // = payload id (Result.ID)
	Action             Action          `json:"action"`
	Payload            json.RawMessage `json:"payload"`
	AttemptCount       int             `json:"attemptCount"`
	NextAttemptAtEpoch int64           `json:"nextAttemptAtEpoch"` // unix millis
	LastError          string          `json:"lastError,omitempty"`
	CreatedAtEpoch     int64           `json:"createdAtEpoch"`
}

// Due reports whether the item may be attempted at now.
func (o OutboxItem) Due(now time.Time) bool { return o.NextAttemptAtEpoch <= now.UnixMilli() }

// PushMode selects how the backend applies a catalog snapshot.
type PushMode string

const (
	PushMerge   PushMode = "merge"
	PushReplace PushMode = "replace"
)

// Valid reports whether m is a known push mode.
func (m PushMode) Valid() bool { return m == PushMerge || m == PushReplace }

// Catalog is the full set of decks and tests.
type Catalog struct {
	Decks []Deck `json:"decks"`
	Tests []Test `json:"tests"`
}

// Snapshot is what a bulk push sends: the catalog plus local results.
type Snapshot struct {
	Catalog
	Results []Result `json:"results"`
}
