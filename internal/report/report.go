// Package report filters, sorts and aggregates quiz results.
package report

import (
	"sort"
	"strings"

	"github.com/and161185/quizdeck/internal/model"
)

// Order selects the sort of Filter's output.
type Order string

const (
	DateDesc  Order = "dateDesc"
	DateAsc   Order = "dateAsc"
	ScoreDesc Order = "scoreDesc"
	ScoreAsc  Order = "scoreAsc"
)

// Valid reports whether o is a known order.
func (o Order) Valid() bool {
	switch o {
	case DateDesc, DateAsc, ScoreDesc, ScoreAsc:
		return true
	}
	return false
}

// Query narrows a result list. Empty fields match everything.
type Query struct {
	Test     string // test name
	Location string
	Learner  string // case-insensitive
	Status   model.ResultStatus
	Order    Order
	Limit    int
}

// Filter returns the matching results in the requested order. The input is
// not modified.
func Filter(results []model.Result, q Query) []model.Result {
	out := make([]model.Result, 0, len(results))
	for _, r := range results {
		if q.Test != "" && r.TestName != q.Test {
			continue
		}
		if q.Location != "" && r.Location != q.Location {
			continue
		}
		if q.Learner != "" && !strings.EqualFold(r.LearnerName, q.Learner) {
			continue
		}
		if q.Status != "" && status(r) != q.Status {
			continue
		}
		out = append(out, r)
	}

	order := q.Order
	if !order.Valid() {
		order = DateDesc
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch order {
		case DateAsc:
			return a.Date < b.Date
		case ScoreDesc:
			return ratio(a) > ratio(b)
		case ScoreAsc:
			return ratio(a) < ratio(b)
		default:
			return a.Date > b.Date
		}
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func status(r model.Result) model.ResultStatus {
	if r.Status == "" {
		return model.ResultActive
	}
	return r.Status
}

func ratio(r model.Result) float64 {
	if r.TotalCount == 0 {
		return 0
	}
	return float64(r.CorrectCount) / float64(r.TotalCount)
}

// Locations lists the distinct non-empty locations, sorted.
func Locations(results []model.Result) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range results {
		if r.Location == "" {
			continue
		}
		if _, ok := seen[r.Location]; ok {
			continue
		}
		seen[r.Location] = struct{}{}
		out = append(out, r.Location)
	}
	sort.Strings(out)
	return out
}

// Mine returns the results of one learner, or the last 50 results when name
// is blank.
func Mine(results []model.Result, name string) []model.Result {
	name = strings.TrimSpace(name)
	if name == "" {
		if len(results) > 50 {
			results = results[len(results)-50:]
		}
		return append([]model.Result(nil), results...)
	}
	var out []model.Result
	for _, r := range results {
		if strings.EqualFold(r.LearnerName, name) {
			out = append(out, r)
		}
	}
	return out
}

// MissedTop is how many questions Missed returns.
const MissedTop = 20

// Missed is the miss statistics of one question.
type Missed struct {
	Question string
	Wrong    int
	Total    int
}

// Rate is Wrong/Total.
func (m Missed) Rate() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Wrong) / float64(m.Total)
}

// MostMissed aggregates answers by question text across results of the
// given test (all tests when testName is empty) and returns the MissedTop
// questions with the highest miss rate. Ties keep first-seen order.
func MostMissed(results []model.Result, testName string) []Missed {
	idx := map[string]int{}
	var stats []Missed
	for _, r := range results {
		if testName != "" && r.TestName != testName {
			continue
		}
		for _, a := range r.Answers {
			i, ok := idx[a.Question]
			if !ok {
				i = len(stats)
				idx[a.Question] = i
				stats = append(stats, Missed{Question: a.Question})
			}
			stats[i].Total++
			if !a.Correct() {
				stats[i].Wrong++
			}
		}
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Rate() > stats[j].Rate() })
	if len(stats) > MissedTop {
		stats = stats[:MissedTop]
	}
	return stats
}
