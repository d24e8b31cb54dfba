package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <contest-id>",
		Short: "Submit a completed contest's final result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newContestRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			session, _, err := rt.newSession(ctx, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			if err := session.SubmitFinalResults(ctx); err != nil {
				return err
			}
			final, _ := session.FinalResult()
			fmt.Fprintf(cmd.OutOrStdout(), "final result submitted: score %.1f, penalty %d, time %s\n",
				final.TotalScore, final.PenaltyPoints, final.TotalTimeFormatted)
			return nil
		},
	}
}
