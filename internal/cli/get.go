package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/cortex-brain/internal/store"
)

func init() {
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Read the authoritative value of a memory",
		Run:   runGet,
	}
	getCmd.Flags().StringP("subject", "s", "", "Subject (required)")
	getCmd.Flags().StringP("predicate", "p", "", "Predicate (required)")
	getCmd.Flags().String("branch", "", "Branch (default: active branch)")
	getCmd.MarkFlagRequired("subject")
	getCmd.MarkFlagRequired("predicate")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show every version of a memory visible on a branch (newest first)",
		Run:   runHistory,
	}
	historyCmd.Flags().StringP("subject", "s", "", "Subject (required)")
	historyCmd.Flags().StringP("predicate", "p", "", "Predicate (required)")
	historyCmd.Flags().String("branch", "", "Branch (default: active branch)")
	historyCmd.MarkFlagRequired("subject")
	historyCmd.MarkFlagRequired("predicate")

	brainCmd.AddCommand(getCmd, historyCmd)
}

func readParams(cmd *cobra.Command) store.ReadParams {
	subject, _ := cmd.Flags().GetString("subject")
	predicate, _ := cmd.Flags().GetString("predicate")
	branch, _ := cmd.Flags().GetString("branch")
	return store.ReadParams{Branch: branch, Subject: subject, Predicate: predicate}
}

func runGet(cmd *cobra.Command, args []string) {
	h := openHandle(cmd, true)
	defer h.Close()

	obj, err := h.Read(readParams(cmd))
	if err != nil {
		exitErr("get", err)
	}
	printJSON(cmd, obj)
}

func runHistory(cmd *cobra.Command, args []string) {
	h := openHandle(cmd, true)
	defer h.Close()

	versions, err := h.History(readParams(cmd))
	if err != nil {
		exitErr("history", err)
	}
	printJSON(cmd, versions)
}
