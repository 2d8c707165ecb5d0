package status

import (
	"github.com/spf13/cobra"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/business"
	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"status",
		"Show the current session",
		"Shows the restored session snapshot and, when authenticated, the server-side user info",
		buildInfo,
		cmdutils.RunAsJob,
		business.StatusMain,
	)
}
