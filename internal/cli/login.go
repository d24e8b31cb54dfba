package cli

import (
	"fmt"

	"offline-contest/internal/identity"

	"github.com/spf13/cobra"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Store the access token used to fetch contests and submit results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newContestRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.identity.SaveToken(args[0]); err != nil {
				return err
			}
			userID, _ := identity.UserIDFromToken(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", userID)
			return nil
		},
	}
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	var forget bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newContestRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.identity.ClearToken(); err != nil {
				return err
			}
			if forget {
				if err := rt.identity.ClearUserState(cmd.Context()); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
	cmd.Flags().BoolVar(&forget, "forget-device", false, "also forget which user last used this device")
	return cmd
}
