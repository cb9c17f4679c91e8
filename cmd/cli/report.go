package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/report"
)

// results returns the local results, refreshed from the backend first when
// remote is set.
func (a *app) results(cmd *cobra.Command, remote bool) ([]model.Result, error) {
	if !remote {
		return a.store.Results(), nil
	}
	rec, err := a.backend()
	if err != nil {
		return nil, err
	}
	return rec.Results(cmd.Context(), 0)
}

func newReportCmd(a *app) *cobra.Command {
	var (
		q      report.Query
		order  string
		status string
		remote bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Filter and sort results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q.Order = report.Order(order)
			if !q.Order.Valid() {
				return errs.Invalid("order", "oneof=dateDesc dateAsc scoreDesc scoreAsc")
			}
			q.Status = model.ResultStatus(status)
			if status != "" && !q.Status.Valid() {
				return errs.Invalid("status", "oneof=active archived")
			}
			all, err := a.results(cmd, remote)
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), report.Filter(all, q))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.Test, "test", "", "test name")
	f.StringVar(&q.Location, "location", "", "location")
	f.StringVar(&q.Learner, "learner", "", "learner name")
	f.StringVar(&status, "status", "", "active|archived")
	f.StringVar(&order, "order", string(report.DateDesc), "dateDesc|dateAsc|scoreDesc|scoreAsc")
	f.IntVarP(&q.Limit, "limit", "n", 0, "max rows")
	f.BoolVar(&remote, "remote", false, "fetch results from the backend")
	return cmd
}

func newMissedCmd(a *app) *cobra.Command {
	var (
		test   string
		remote bool
	)
	cmd := &cobra.Command{
		Use:   "missed",
		Short: "Most missed questions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, err := a.results(cmd, remote)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MISSED\tASKED\tRATE\tQUESTION")
			for _, m := range report.MostMissed(all, test) {
				fmt.Fprintf(tw, "%d\t%d\t%.0f%%\t%s\n", m.Wrong, m.Total, m.Rate()*100, m.Question)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&test, "test", "", "test name (default all tests)")
	cmd.Flags().BoolVar(&remote, "remote", false, "fetch results from the backend")
	return cmd
}

func newMineCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mine [NAME]",
		Short: "Results taken on this device, by learner or the latest 50",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			printResults(cmd.OutOrStdout(), report.Mine(a.store.Results(), name))
			return nil
		},
	}
}

func newLocationsCmd(a *app) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "locations",
		Short: "Distinct result locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, err := a.results(cmd, remote)
			if err != nil {
				return err
			}
			for _, l := range report.Locations(all) {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "fetch results from the backend")
	return cmd
}
