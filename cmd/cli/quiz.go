package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/quiz"
	"github.com/and161185/quizdeck/internal/selection"
)

func newQuizCmd(a *app) *cobra.Command {
	var (
		l       quiz.Learner
		noFlush bool
	)
	cmd := &cobra.Command{
		Use:   "quiz TEST",
		Short: "Take a test and submit the result",
		Long: "Answer with the option number, press Enter to leave a question blank,\n" +
			"type q to stop early. The result is stored locally and queued for the backend.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(l.Name) == "" || strings.TrimSpace(l.Location) == "" {
				return errs.Invalid("name,location", "required")
			}
			if l.Date == "" {
				l.Date = a.store.Now().Format(time.DateOnly)
			}
			test, pool, err := a.store.Pool(args[0])
			if err != nil {
				return err
			}
			att, err := quiz.Start(test, pool, a.rng)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := ask(att, cmd.InOrStdin(), out); err != nil {
				return err
			}

			res, err := a.engine.SubmitResult(cmd.Context(), att.Finish(l))
			if err != nil {
				return err
			}
			printScore(out, res)

			if a.remote == nil || noFlush {
				fmt.Fprintln(out, "saved locally, queued for delivery")
				return nil
			}
			if _, err := a.engine.Flush(cmd.Context(), false); err != nil {
				a.log.Warn("flush after submit", zap.Error(err))
			}
			if queued(a.store.Outbox(), res.ID) {
				fmt.Fprintln(out, "saved locally, backend not reached; queued for delivery")
			} else {
				fmt.Fprintln(out, "delivered")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&l.Name, "name", "", "learner name")
	f.StringVar(&l.Location, "location", "", "learner location")
	f.StringVar(&l.Date, "date", "", "attempt date YYYY-MM-DD (default today)")
	f.BoolVar(&noFlush, "no-flush", false, "only queue the result")
	return cmd
}

// ask walks the attempt's questions, reading one choice per line.
func ask(att *quiz.Attempt, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	fmt.Fprintf(out, "%s: %d questions\n", att.Test().Title, att.Len())
questions:
	for i := 0; i < att.Len(); i++ {
		q := att.Question(i)
		fmt.Fprintf(out, "\n%d/%d. %s\n", i+1, att.Len(), q.Card.Question)
		for j, o := range q.Options {
			fmt.Fprintf(out, "  %d) %s\n", j+1, o)
		}
		for {
			fmt.Fprint(out, "> ")
			if !sc.Scan() {
				break questions
			}
			line := strings.TrimSpace(sc.Text())
			switch {
			case line == "":
				continue questions
			case strings.EqualFold(line, "q"):
				break questions
			}
			n, err := strconv.Atoi(line)
			if err != nil || n < 1 || n > len(q.Options) {
				fmt.Fprintf(out, "pick 1 to %d\n", len(q.Options))
				continue
			}
			if _, err := att.Answer(i, q.Options[n-1]); err != nil {
				return err
			}
			continue questions
		}
	}
	return sc.Err()
}

func printScore(w io.Writer, r model.Result) {
	fmt.Fprintf(w, "\n%s, %s: %d/%d (%d%%)\n", r.LearnerName, r.TestName, r.CorrectCount, r.TotalCount, r.Score)
	for _, an := range r.Answers {
		if an.Correct() {
			continue
		}
		fmt.Fprintf(w, "  %s\n    chosen: %s\n    answer: %s\n", an.Question, an.ChosenAnswer, an.CorrectAnswer)
	}
}

func queued(items []model.OutboxItem, id string) bool {
	for _, it := range items {
		if it.ID == id {
			return true
		}
	}
	return false
}

func newPracticeCmd(a *app) *cobra.Command {
	var (
		sels  []string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "practice TEST",
		Short: "Flip through a shuffled pool without scoring",
		Long: "Shows each question, waits for Enter, then shows the answer.\n" +
			"--select narrows the test's pool to the given decks or sub-decks.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			test, err := a.store.Test(args[0])
			if err != nil {
				return err
			}
			decks := a.store.DeckIndex()
			scope := test.Selections
			if len(sels) > 0 {
				raw, err := a.parseSelections(sels)
				if err != nil {
					return err
				}
				scope = selection.Intersect(test.Selections, selection.Normalize(raw), decks)
			}
			pool := selection.ResolvePool(scope, decks)
			if len(pool) == 0 {
				return fmt.Errorf("%s: %w", test.Name, quiz.ErrEmptyPool)
			}
			n := len(pool)
			if limit > 0 {
				n = min(n, limit)
			}
			flip(selection.Sample(pool, n, a.rng), cmd.InOrStdin(), cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&sels, "select", "s", nil, "DECK or DECK=sub1,sub2 to narrow to (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "max cards (default all)")
	return cmd
}

// flip prints each card, waiting for a line before revealing the answer.
// Once the input ends the remaining cards are printed without pausing.
func flip(cards []model.Card, in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	interactive := true
	for i, c := range cards {
		fmt.Fprintf(out, "%d/%d. %s\n", i+1, len(cards), c.Question)
		if interactive {
			if !sc.Scan() {
				interactive = false
			} else if strings.EqualFold(strings.TrimSpace(sc.Text()), "q") {
				return
			}
		}
		fmt.Fprintf(out, "   = %s\n", c.CorrectAnswer)
	}
}
