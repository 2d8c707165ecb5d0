package login

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/business"
	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/cmdutils"
	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/config"
)

func Cmd(buildInfo string) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the dashboard backend",
		Long:  "Exchanges credentials for a token pair, persists it and broadcasts the change to other agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cmdutils.LoadConfig(buildInfo)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if password == "" {
				password = os.Getenv("FWH_PASSWORD")
			}
			if password == "" {
				return fmt.Errorf("no password given (use --password or FWH_PASSWORD)")
			}

			return cmdutils.RunAsJob(cmd.Context(), func(ctx context.Context, cfg *config.Config) error {
				return business.LoginMain(ctx, cfg, username, password)
			}, cfg)
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "dashboard username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "dashboard password (falls back to FWH_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}
