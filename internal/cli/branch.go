package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/cortex-brain/internal/model"
	"github.com/rcliao/cortex-brain/internal/store"
)

func init() {
	branchCmd := &cobra.Command{
		Use:   "branch [name]",
		Short: "Fork a branch at the current head of --from",
		Args:  cobra.ExactArgs(1),
		Run:   runBranch,
	}
	branchCmd.Flags().String("from", "", "Source branch (default: active branch)")

	branchesCmd := &cobra.Command{
		Use:   "branches",
		Short: "List branches",
		Run:   runBranches,
	}

	checkoutCmd := &cobra.Command{
		Use:   "checkout [branch]",
		Short: "Make a branch the default for commands that omit --branch",
		Args:  cobra.ExactArgs(1),
		Run:   runCheckout,
	}

	mergeCmd := &cobra.Command{
		Use:   "merge [source]",
		Short: "Merge a branch into --into",
		Long:  "Merge source into target. Strategies: ours keeps the target value, theirs takes the source value, manual records an open conflict for later resolution.",
		Args:  cobra.ExactArgs(1),
		Run:   runMerge,
	}
	mergeCmd.Flags().String("into", "", "Target branch (default: active branch)")
	mergeCmd.Flags().String("strategy", "manual", "Conflict strategy: ours, theirs, manual")
	mergeCmd.Flags().Uint64("expect-source-head", 0, "Fail unless the source head equals this version")
	mergeCmd.Flags().Uint64("expect-target-head", 0, "Fail unless the target head equals this version")

	brainCmd.AddCommand(branchCmd, branchesCmd, checkoutCmd, mergeCmd)
}

func runBranch(cmd *cobra.Command, args []string) {
	from, _ := cmd.Flags().GetString("from")

	h := openHandle(cmd, false)
	defer h.Close()

	b, err := h.Branch(from, args[0])
	if err != nil {
		exitErr("branch", err)
	}
	printJSON(cmd, b)
}

func runBranches(cmd *cobra.Command, args []string) {
	h := openHandle(cmd, true)
	defer h.Close()

	bs, err := h.Branches()
	if err != nil {
		exitErr("branches", err)
	}
	printJSON(cmd, map[string]any{
		"active":   h.Manifest().ActiveBranch,
		"branches": bs,
	})
}

func runCheckout(cmd *cobra.Command, args []string) {
	h := openHandle(cmd, false)
	defer h.Close()

	if err := h.Checkout(args[0]); err != nil {
		exitErr("checkout", err)
	}
	printJSON(cmd, h.Manifest().Summary())
}

func runMerge(cmd *cobra.Command, args []string) {
	into, _ := cmd.Flags().GetString("into")
	strategyStr, _ := cmd.Flags().GetString("strategy")

	strategy, err := model.ParseStrategy(strategyStr)
	if err != nil {
		exitErr("merge", err)
	}
	p := store.MergeParams{
		Source:   args[0],
		Target:   into,
		Strategy: strategy,
	}
	if cmd.Flags().Changed("expect-source-head") {
		v, _ := cmd.Flags().GetUint64("expect-source-head")
		p.ExpectedSourceHead = &v
	}
	if cmd.Flags().Changed("expect-target-head") {
		v, _ := cmd.Flags().GetUint64("expect-target-head")
		p.ExpectedTargetHead = &v
	}

	h := openHandle(cmd, false)
	defer h.Close()

	report, err := h.Merge(p)
	if err != nil {
		exitErr("merge", err)
	}
	printJSON(cmd, report)
}
