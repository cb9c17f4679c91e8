package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/importer"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/store"
)

// deck resolves a deck by id or by "Class/Deck".
func (a *app) deck(ref string) (model.Deck, error) {
	d, err := a.store.Deck(ref)
	if err == nil || !errors.Is(err, errs.ErrNotFound) {
		return d, err
	}
	if class, name, ok := strings.Cut(ref, "/"); ok {
		return a.store.FindDeck(class, name)
	}
	return model.Deck{}, err
}

// ---- deck ----

func newDeckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "deck", Short: "Manage decks"}

	var tags []string
	add := &cobra.Command{
		Use:   "add CLASS DECK",
		Short: "Create a deck (or reuse the one with the same class and name)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.store.EnsureDeck(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if len(tags) > 0 {
				if err := a.store.DeclareTags(cmd.Context(), d.ID, tags...); err != nil {
					return err
				}
			}
			if d, err = a.store.Deck(d.ID); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), deckSummary(d))
		},
	}
	add.Flags().StringSliceVar(&tags, "tag", nil, "sub-deck names to declare")

	list := &cobra.Command{
		Use:   "list",
		Short: "List decks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCLASS\tDECK\tCARDS\tTAGS")
			for _, d := range a.store.Decks() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.ClassName, d.DeckName, len(d.Cards), strings.Join(d.Tags, ","))
			}
			return tw.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete DECK",
		Short: "Delete a deck and its cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.deck(args[0])
			if err != nil {
				return err
			}
			if err := a.store.DeleteDeck(cmd.Context(), d.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", d.ID)
			return nil
		},
	}

	var format string
	export := &cobra.Command{
		Use:   "export DECK",
		Short: "Write a deck's cards as lines or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.deck(args[0])
			if err != nil {
				return err
			}
			switch format {
			case "lines":
				return importer.WriteLines(cmd.OutOrStdout(), d.Cards)
			case "json":
				return importer.WriteJSON(cmd.OutOrStdout(), d)
			}
			return errs.Invalid("format", "oneof=lines json")
		},
	}
	export.Flags().StringVar(&format, "format", "lines", "lines|json")

	cmd.AddCommand(add, list, del, export)
	return cmd
}

type deckView struct {
	ID        string   `json:"id"`
	ClassName string   `json:"className"`
	DeckName  string   `json:"deckName"`
	Tags      []string `json:"tags"`
	Cards     int      `json:"cards"`
}

func deckSummary(d model.Deck) deckView {
	return deckView{ID: d.ID, ClassName: d.ClassName, DeckName: d.DeckName, Tags: d.Tags, Cards: len(d.Cards)}
}

// ---- card ----

func newCardCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "card", Short: "Manage cards"}

	var c model.Card
	add := &cobra.Command{
		Use:   "add DECK",
		Short: "Add one card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.deck(args[0])
			if err != nil {
				return err
			}
			added, err := a.store.AddCards(cmd.Context(), d.ID, c)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), added[0])
		},
	}
	af := add.Flags()
	af.StringVarP(&c.Question, "question", "q", "", "question text")
	af.StringVarP(&c.CorrectAnswer, "answer", "a", "", "correct answer")
	af.StringArrayVarP(&c.Distractors, "wrong", "w", nil, "wrong answer (1 to 3)")
	af.StringVar(&c.SubTag, "sub", "", "sub-deck name")

	var (
		format     string
		defaultSub string
	)
	imp := &cobra.Command{
		Use:   "import DECK FILE",
		Short: "Import cards from a file ('-' reads stdin)",
		Long: "Line format: question | answer | wrong1 | wrong2 | wrong3 | #sub\n" +
			"Lines with fewer than three fields or no wrong answer are skipped.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.deck(args[0])
			if err != nil {
				return err
			}
			raw, err := readAll(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			var (
				cards []model.Card
				st    importer.Stats
			)
			switch format {
			case "lines":
				cards, st, err = importer.ParseLines(bytes.NewReader(raw), defaultSub)
			case "json":
				cards, st, err = importer.ParseJSON(bytes.NewReader(raw))
			default:
				return errs.Invalid("format", "oneof=lines json")
			}
			if err != nil {
				return err
			}
			if len(cards) > 0 {
				if _, err := a.store.AddCards(cmd.Context(), d.ID, cards...); err != nil {
					return err
				}
			}
			if defaultSub != "" {
				if err := a.store.DeclareTags(cmd.Context(), d.ID, defaultSub); err != nil {
					return err
				}
			}
			printImport(cmd.OutOrStdout(), st)
			return nil
		},
	}
	imp.Flags().StringVar(&format, "format", "lines", "lines|json")
	imp.Flags().StringVar(&defaultSub, "sub", "", "sub-deck for lines without #tag")

	del := &cobra.Command{
		Use:   "delete DECK CARD",
		Short: "Delete one card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.deck(args[0])
			if err != nil {
				return err
			}
			if err := a.store.DeleteCard(cmd.Context(), d.ID, args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[1])
			return nil
		},
	}

	cmd.AddCommand(add, imp, del)
	return cmd
}

func printImport(w io.Writer, st importer.Stats) {
	fmt.Fprintf(w, "added %d, skipped %d\n", st.Added, len(st.Skipped))
	for _, s := range st.Skipped {
		fmt.Fprintf(w, "  line %d: %s\n", s.Line, s.Reason)
	}
}

// ---- test ----

// parseSelections reads "DECK" (whole deck) and "DECK=sub1,sub2" values.
// DECK may be an id or "Class/Deck".
func (a *app) parseSelections(vals []string) ([]model.RawSelection, error) {
	out := make([]model.RawSelection, 0, len(vals))
	for _, v := range vals {
		ref, subs, hasSubs := strings.Cut(v, "=")
		d, err := a.deck(strings.TrimSpace(ref))
		if err != nil {
			return nil, err
		}
		if !hasSubs {
			out = append(out, model.RawSelection{DeckID: d.ID, Whole: true})
			continue
		}
		var names []string
		for _, s := range strings.Split(subs, ",") {
			if s = strings.TrimSpace(s); s != "" {
				names = append(names, s)
			}
		}
		out = append(out, model.RawSelection{DeckID: d.ID, Subs: names})
	}
	return out, nil
}

type testView struct {
	model.Test
	PoolSize int `json:"poolSize"`
}

func newTestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "test", Short: "Manage saved tests"}

	var (
		draft store.TestDraft
		sels  []string
	)
	save := &cobra.Command{
		Use:   "save NAME",
		Short: "Create or update a test",
		Example: "  qd test save morning --select Spanish/Basics --select Coffee/Espresso=brew,milk --count 20\n" +
			"  qd test save evening --id <test id>   # rename keeps the id",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.parseSelections(sels)
			if err != nil {
				return err
			}
			draft.Name = args[0]
			draft.Selections = raw
			t, err := a.store.SaveTest(cmd.Context(), draft)
			if err != nil {
				return err
			}
			return a.printTest(cmd.OutOrStdout(), t.ID)
		},
	}
	sf := save.Flags()
	sf.StringVar(&draft.ID, "id", "", "id of the test to update")
	sf.StringVar(&draft.Title, "title", "", "display title (default NAME)")
	sf.IntVar(&draft.QuestionCount, "count", model.DefaultQuestionCount, "questions per attempt")
	sf.StringArrayVarP(&sels, "select", "s", nil, "DECK or DECK=sub1,sub2 (repeatable)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTITLE\tQUESTIONS\tPOOL")
			for _, t := range a.store.Tests() {
				_, pool, err := a.store.Pool(t.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", t.ID, t.Name, t.Title, t.QuestionCount, len(pool))
			}
			return tw.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show TEST",
		Short: "Show a test and its pool size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printTest(cmd.OutOrStdout(), args[0])
		},
	}

	pool := &cobra.Command{
		Use:   "pool TEST",
		Short: "List the cards a test draws from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cards, err := a.store.Pool(args[0])
			if err != nil {
				return err
			}
			return importer.WriteLines(cmd.OutOrStdout(), cards)
		},
	}

	del := &cobra.Command{
		Use:   "delete TEST",
		Short: "Delete a test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.store.Test(args[0])
			if err != nil {
				return err
			}
			if err := a.store.DeleteTest(cmd.Context(), t.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", t.ID)
			return nil
		},
	}

	cmd.AddCommand(save, list, show, pool, del)
	return cmd
}

func (a *app) printTest(w io.Writer, ref string) error {
	t, cards, err := a.store.Pool(ref)
	if err != nil {
		return err
	}
	return printJSON(w, testView{Test: t, PoolSize: len(cards)})
}
