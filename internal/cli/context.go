package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/cortex-brain/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Show the public manifest a kernel would plan against",
		Long:  "Show the readable, unsuppressed keys and active selectors on a branch. With --agent, only what that attachment may read.",
		Run:   runManifest,
	}

	cmd.Flags().String("branch", "", "Branch (default: active branch)")
	cmd.Flags().String("agent", "", "Narrow to this agent's attachment")
	cmd.Flags().String("model", "", "Model id of the attachment")

	brainCmd.AddCommand(cmd)
}

func runManifest(cmd *cobra.Command, args []string) {
	branch, _ := cmd.Flags().GetString("branch")
	agent, _ := cmd.Flags().GetString("agent")
	modelID, _ := cmd.Flags().GetString("model")

	h := openHandle(cmd, true)
	defer h.Close()

	var att *model.Attachment
	if agent != "" {
		var err error
		if att, err = h.Attachment(agent, modelID); err != nil {
			exitErr("manifest", err)
		}
	}
	pm, err := h.PublicManifest(branch, att)
	if err != nil {
		exitErr("manifest", err)
	}
	printJSON(cmd, pm)
}
