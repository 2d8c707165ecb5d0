package agent

import (
	"github.com/spf13/cobra"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/business"
	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"agent",
		"Session keep-alive agent",
		"Runs the session agent: keeps the access token fresh and reconciles session changes from other agents",
		buildInfo,
		cmdutils.RunAsService,
		business.AgentMain,
	)
}
