package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/cortex-brain/internal/model"
	"github.com/rcliao/cortex-brain/internal/store"
)

func init() {
	attachCmd := &cobra.Command{
		Use:   "attach",
		Short: "Grant an agent/model scoped access to the brain",
		Run:   runAttach,
	}
	attachCmd.Flags().String("agent", "", "Agent id (required)")
	attachCmd.Flags().String("model", "", "Model id (required)")
	attachCmd.Flags().String("read", "", "Comma-separated readable classes")
	attachCmd.Flags().String("write", "", "Comma-separated writable classes")
	attachCmd.Flags().String("sinks", "", "Comma-separated allowed sinks")
	attachCmd.Flags().String("ttl", "", "Expiry like 30m, 24h, 7d (default: none)")
	attachCmd.MarkFlagRequired("agent")
	attachCmd.MarkFlagRequired("model")

	detachCmd := &cobra.Command{
		Use:   "detach",
		Short: "End an agent's grants",
		Run:   runDetach,
	}
	detachCmd.Flags().String("agent", "", "Agent id (required)")
	detachCmd.Flags().String("model", "", "Model id (default: all models of the agent)")
	detachCmd.MarkFlagRequired("agent")

	attachmentsCmd := &cobra.Command{
		Use:   "attachments",
		Short: "List grants",
		Run:   runAttachments,
	}
	attachmentsCmd.Flags().Bool("active", false, "Only active grants")

	brainCmd.AddCommand(attachCmd, detachCmd, attachmentsCmd)
}

func runAttach(cmd *cobra.Command, args []string) {
	agent, _ := cmd.Flags().GetString("agent")
	modelID, _ := cmd.Flags().GetString("model")
	read, _ := cmd.Flags().GetString("read")
	write, _ := cmd.Flags().GetString("write")
	sinks, _ := cmd.Flags().GetString("sinks")
	ttlStr, _ := cmd.Flags().GetString("ttl")

	ttl, err := store.ParseTTL(ttlStr)
	if err != nil {
		exitErr("attach", err)
	}

	h := openHandle(cmd, false)
	defer h.Close()

	a, err := h.Attach(store.AttachParams{
		AgentID:      agent,
		ModelID:      modelID,
		ReadClasses:  splitList(read),
		WriteClasses: splitList(write),
		Sinks:        splitList(sinks),
		TTL:          ttl,
	})
	if err != nil {
		exitErr("attach", err)
	}
	printJSON(cmd, a)
}

func runDetach(cmd *cobra.Command, args []string) {
	agent, _ := cmd.Flags().GetString("agent")
	modelID, _ := cmd.Flags().GetString("model")

	h := openHandle(cmd, false)
	defer h.Close()

	n, err := h.Detach(agent, modelID)
	if err != nil {
		exitErr("detach", err)
	}
	if n == 0 {
		exitErr("detach", fmt.Errorf("%w: no active attachment for %s", model.ErrNotFound, agent))
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"agent_id":%q,"detached":%d}`+"\n", agent, n)
}

func runAttachments(cmd *cobra.Command, args []string) {
	active, _ := cmd.Flags().GetBool("active")

	h := openHandle(cmd, true)
	defer h.Close()

	as, err := h.Attachments(active)
	if err != nil {
		exitErr("attachments", err)
	}
	printJSON(cmd, as)
}
