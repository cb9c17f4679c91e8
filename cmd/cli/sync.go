package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/outbox"
)

// ---- outbox ----

func newOutboxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Show queued writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.engine.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st, time.Now())
			return nil
		},
	}

	flush := &cobra.Command{
		Use:   "flush",
		Short: "Send every due item now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.remote == nil {
				return errNoBackend
			}
			rep, err := a.engine.Flush(cmd.Context(), true)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}

	discard := &cobra.Command{
		Use:   "discard ID",
		Short: "Drop a queued item without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.engine.Discard(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "discarded", args[0])
			return nil
		},
	}

	cmd.AddCommand(flush, discard)
	return cmd
}

func printStatus(w io.Writer, st outbox.Status, now time.Time) {
	fmt.Fprintf(w, "pending %d, due %d\n", st.Pending, st.Due)
	if len(st.Items) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACTION\tATTEMPTS\tNEXT\tLAST ERROR")
	for _, it := range st.Items {
		next := "now"
		if !it.Due(now) {
			next = time.UnixMilli(it.NextAttemptAtEpoch).Sub(now).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", it.ID, it.Action, it.AttemptCount, next, it.LastError)
	}
	_ = tw.Flush()
}

func printReport(w io.Writer, rep outbox.Report) {
	if rep.Skipped {
		fmt.Fprintln(w, "another qd process is flushing")
		return
	}
	fmt.Fprintf(w, "attempted %d, sent %d, failed %d, remaining %d\n", rep.Attempted, rep.Sent, rep.Failed, rep.Remaining)
}

// ---- catalog sync ----

func newPullCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Replace the local catalog with the backend's",
		Long:  "Without --force the pull only runs while the local catalog is empty.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := a.backend()
			if err != nil {
				return err
			}
			rep, err := rec.Pull(cmd.Context(), force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rep.Skipped {
				fmt.Fprintln(out, "local catalog not empty, use --force to replace it")
				return nil
			}
			fmt.Fprintf(out, "pulled %d decks, %d cards, %d tests\n", rep.Decks, rep.Cards, rep.Tests)
			if rep.Orphans > 0 {
				fmt.Fprintf(out, "dropped %d cards of unknown decks\n", rep.Orphans)
			}
			if n := len(rep.Merge.Remap); n > 0 {
				fmt.Fprintf(out, "merged %d duplicate decks\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace a non-empty local catalog")
	return cmd
}

func newPushCmd(a *app) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Send the local catalog and results to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := a.backend()
			if err != nil {
				return err
			}
			ack, err := rec.Push(cmd.Context(), model.PushMode(mode))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ack)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(model.PushMerge), "merge|replace")
	return cmd
}

func newSyncCmd(a *app) *cobra.Command {
	var pull bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Keep flushing the outbox until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := a.backend()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if pull {
				if _, err := rec.Pull(ctx, false); err != nil {
					a.log.Warn("initial pull", zap.Error(err))
				}
			}
			a.log.Info("sync started", zap.Duration("interval", a.cfg.FlushInterval))
			return a.engine.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&pull, "pull", true, "pull the catalog first when empty")
	return cmd
}

// ---- remote results ----

func newResultsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Fetch results from the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := a.backend()
			if err != nil {
				return err
			}
			out, err := rec.Results(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "max results")
	return cmd
}

func newArchiveCmd(a *app) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "archive ID",
		Short: "Move a result to the archived (or back to the active) set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.backend()
			if err != nil {
				return err
			}
			if err := rec.ArchiveMove(cmd.Context(), args[0], model.ResultStatus(to)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], to)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", string(model.ResultArchived), "archived|active")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a result forever",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.backend()
			if err != nil {
				return err
			}
			if err := rec.DeleteForever(cmd.Context(), args[0], model.ResultStatus(from)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", string(model.ResultActive), "active|archived")
	return cmd
}

func printResults(w io.Writer, results []model.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tLEARNER\tLOCATION\tTEST\tSCORE\tSTATUS")
	for _, r := range results {
		status := r.Status
		if status == "" {
			status = model.ResultActive
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d%% (%d/%d)\t%s\n",
			r.ID, r.Date, r.LearnerName, r.Location, r.TestName, r.Score, r.CorrectCount, r.TotalCount, status)
	}
	_ = tw.Flush()
}
