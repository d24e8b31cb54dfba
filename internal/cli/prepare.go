package cli

import (
	"errors"
	"fmt"
	"time"

	"offline-contest/internal/domain"
	"offline-contest/internal/storage"

	"github.com/spf13/cobra"
)

func newPrepareCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare <contest-id>",
		Short: "Download runtimes and problems so the contest can run offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newContestRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			unsubscribe := rt.pipeline.Subscribe(func(p domain.PreparationProgress) {
				line := fmt.Sprintf("[%3d%%] %-11s %s", p.Progress, p.Stage, p.Message)
				if p.Details != "" {
					line += ": " + p.Details
				}
				fmt.Fprintln(out, line)
			})
			defer unsubscribe()

			if !rt.pipeline.PrepareContest(cmd.Context(), args[0]) {
				return errors.New("preparation failed")
			}
			fmt.Fprintln(out, "contest ready for offline use, disconnect from the network before starting")
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <contest-id>",
		Short: "Show connectivity, preparation and session state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			contestID := args[0]
			rt, err := newContestRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			status := rt.monitor.PerformCheck(ctx)
			fmt.Fprintf(out, "connectivity: online=%t quality=%s\n", status.IsOnline, status.Quality)

			if userID, err := rt.identity.CurrentUserID(); err == nil {
				fmt.Fprintf(out, "user: %s\n", userID)
			} else {
				fmt.Fprintln(out, "user: not signed in")
			}

			if at, ok := rt.pipeline.PreparedAt(ctx, contestID); ok && rt.pipeline.IsContestPrepared(ctx, contestID) {
				fmt.Fprintf(out, "prepared: yes (%s)\n", at.Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "prepared: no")
			}
			if contest, err := rt.resolver.Cached(ctx, contestID); err == nil {
				fmt.Fprintf(out, "contest: %s, %d problems, %s\n", contest.Title, len(contest.Problems), contest.Duration(0))
			}

			var state domain.ContestSessionState
			if found, _ := storage.GetJSON(ctx, rt.store, storage.SessionKey(contestID), &state); found {
				fmt.Fprintf(out, "session: running, problem %d, time left %s, violations %d, penalty %d\n",
					state.CurrentProblemIndex+1,
					domain.FormatClock(time.Duration(state.TimeLeftSeconds)*time.Second),
					state.ViolationCount, state.PenaltyPoints)
			}
			var final domain.FinalResult
			if found, _ := storage.GetJSON(ctx, rt.store, storage.FinalResultKey(contestID), &final); found {
				fmt.Fprintf(out, "final result: score %.1f, penalty %d, time %s, submitted %t\n",
					final.TotalScore, final.PenaltyPoints, final.TotalTimeFormatted, final.Submitted)
			}
			for _, v := range rt.monitor.Violations(ctx, contestID) {
				fmt.Fprintf(out, "violation: %s %s\n", v.Timestamp.Format(time.RFC3339), v.Reason)
			}
			return nil
		},
	}
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	var session bool
	cmd := &cobra.Command{
		Use:   "reset <contest-id>",
		Short: "Forget offline preparation for a contest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			contestID := args[0]
			rt, err := newContestRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.pipeline.ResetPreparation(ctx, contestID); err != nil {
				return err
			}
			if session {
				if err := rt.store.Remove(ctx,
					storage.SessionKey(contestID),
					storage.ResultsKey(contestID),
					storage.FinalResultKey(contestID)); err != nil {
					return err
				}
				if err := rt.monitor.ClearViolations(ctx, contestID); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "contest %s reset\n", contestID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&session, "session", false, "also delete session progress, results and violations")
	return cmd
}
