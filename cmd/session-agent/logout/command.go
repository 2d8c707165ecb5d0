package logout

import (
	"github.com/spf13/cobra"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/business"
	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"logout",
		"Log out of the dashboard backend",
		"Notifies the backend best effort, clears the persisted session and broadcasts the logout to other agents",
		buildInfo,
		cmdutils.RunAsJob,
		business.LogoutMain,
	)
}
