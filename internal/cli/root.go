package cli

import (
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	port       string
	token      string
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}
	opts := &rootOptions{token: os.Getenv("CONTEST_TOKEN")}

	cmd := &cobra.Command{
		Use:           "contest",
		Short:         "Offline proctored coding contest runtime",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", envConfig, "path to YAML or TOML config")
	cmd.AddCommand(
		newPrepareCmd(opts),
		newStatusCmd(opts),
		newResetCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newContestCmd(opts),
		newSubmitCmd(opts),
		newServeCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}
