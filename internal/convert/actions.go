package convert

import (
	"encoding/json"

	"github.com/and161185/quizdeck/internal/model"
)

// Read-only actions; write actions are model.Action values.
const (
	ActionList    = "list"
	ActionResults = "results"
)

// Envelope wraps every backend response.
type Envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// SubmitAck is the data of a submitresult response.
type SubmitAck struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// BulkPayload is the body of a bulkupsert request.
type BulkPayload struct {
	Decks   []DeckRow      `json:"decks"`
	Cards   []CardRow      `json:"cards"`
	Tests   []TestRow      `json:"tests"`
	Results []model.Result `json:"results"`
	Mode    model.PushMode `json:"mode"`
}

// NewBulkPayload flattens a snapshot.
func NewBulkPayload(s model.Snapshot, mode model.PushMode) BulkPayload {
	rows := ToRows(s.Catalog)
	results := s.Results
	if results == nil {
		results = []model.Result{}
	}
	return BulkPayload{Decks: rows.Decks, Cards: rows.Cards, Tests: rows.Tests, Results: results, Mode: mode}
}

// Rows returns the catalog part of the payload.
func (p BulkPayload) Rows() Rows {
	return Rows{Decks: p.Decks, Cards: p.Cards, Tests: p.Tests}
}

// BulkAck is the data of a bulkupsert response.
type BulkAck struct {
	Decks   int `json:"decks"`
	Cards   int `json:"cards"`
	Tests   int `json:"tests"`
	Results int `json:"results"`
}

// ArchiveMove is the body of an archivemove request.
type ArchiveMove struct {
	ID string             `json:"id"`
	To model.ResultStatus `json:"to"`
}

// DeleteForever is the body of a deleteforever request.
type DeleteForever struct {
	ID   string             `json:"id"`
	From model.ResultStatus `json:"from"`
}
