// Package quiz runs one graded attempt over a test's card pool.
package quiz

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/selection"
)

// Blank is recorded for questions left unanswered.
const Blank = "(blank)"

// ErrEmptyPool is returned when a test resolves to no cards.
var ErrEmptyPool = errors.New("test has no cards")

// Question is one sampled card with its shuffled options.
type Question struct {
	Card    model.Card
	Options []string
}

// Options returns the correct answer and up to model.MaxDistractors
// randomly chosen distractors, shuffled. The correct answer is always among
// them.
func Options(c model.Card, rng *rand.Rand) []string {
	wrong := append([]string(nil), c.Distractors...)
	rng.Shuffle(len(wrong), func(i, j int) { wrong[i], wrong[j] = wrong[j], wrong[i] })
	opts := append(wrong[:min(len(wrong), model.MaxDistractors)], c.CorrectAnswer)
	rng.Shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
	return opts
}

// Attempt is an in-progress quiz. It is not safe for concurrent use.
type Attempt struct {
	test      model.Test
	questions []Question
	chosen    []string
}

// Start samples up to test.QuestionCount questions from pool.
func Start(test model.Test, pool []model.Card, rng *rand.Rand) (*Attempt, error) {
	if len(pool) == 0 {
		return nil, fmt.Errorf("%s: %w", test.Name, ErrEmptyPool)
	}
	n := test.QuestionCount
	if n <= 0 {
		n = model.DefaultQuestionCount
	}
	cards := selection.Sample(pool, n, rng)
	a := &Attempt{test: test, questions: make([]Question, len(cards)), chosen: make([]string, len(cards))}
	for i, c := range cards {
		a.questions[i] = Question{Card: c, Options: Options(c, rng)}
	}
	return a, nil
}

// Test returns the test being taken.
func (a *Attempt) Test() model.Test { return a.test }

// Len returns the number of questions.
func (a *Attempt) Len() int { return len(a.questions) }

// Question returns question i.
func (a *Attempt) Question(i int) Question { return a.questions[i] }

// Answer records choice for question i. Answering again overwrites.
// It reports whether the choice is correct.
func (a *Attempt) Answer(i int, choice string) (bool, error) {
	if i < 0 || i >= len(a.questions) {
		return false, errs.Invalid("question", fmt.Sprintf("0..%d", len(a.questions)-1))
	}
	q := a.questions[i]
	valid := false
	for _, o := range q.Options {
		if o == choice {
			valid = true
			break
		}
	}
	if !valid {
		return false, errs.Invalid("choice", "oneof="+strings.Join(q.Options, " "))
	}
	a.chosen[i] = choice
	return choice == q.Card.CorrectAnswer, nil
}

// Chosen returns the recorded choice for question i, or "".
func (a *Attempt) Chosen(i int) string { return a.chosen[i] }

// Answered counts questions with a recorded choice.
func (a *Attempt) Answered() int {
	n := 0
	for _, c := range a.chosen {
		if c != "" {
			n++
		}
	}
	return n
}

// Reshuffle reorders the questions, keeping each question's choice.
func (a *Attempt) Reshuffle(rng *rand.Rand) {
	rng.Shuffle(len(a.questions), func(i, j int) {
		a.questions[i], a.questions[j] = a.questions[j], a.questions[i]
		a.chosen[i], a.chosen[j] = a.chosen[j], a.chosen[i]
	})
}

// Learner identifies who took the attempt.
type Learner struct {
	Name     string
	Location string
	Date     string // YYYY-MM-DD
}

// Finish grades the attempt. Unanswered questions count as Blank. Identity
// fields (id, client, idempotency key) are left for the submitter to fill.
func (a *Attempt) Finish(l Learner) model.Result {
	answers := make([]model.Answer, len(a.questions))
	correct := 0
	for i, q := range a.questions {
		choice := a.chosen[i]
		if choice == "" {
			choice = Blank
		}
		answers[i] = model.Answer{Question: q.Card.Question, CorrectAnswer: q.Card.CorrectAnswer, ChosenAnswer: choice}
		if answers[i].Correct() {
			correct++
		}
	}
	return model.Result{
		LearnerName:  strings.TrimSpace(l.Name),
		Location:     strings.TrimSpace(l.Location),
		Date:         strings.TrimSpace(l.Date),
		TestID:       a.test.ID,
		TestName:     a.test.Name,
		Score:        Percent(correct, len(answers)),
		CorrectCount: correct,
		TotalCount:   len(answers),
		Answers:      answers,
		Status:       model.ResultActive,
	}
}

// Percent rounds correct/total to a whole percentage; zero total gives 0.
func Percent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}
