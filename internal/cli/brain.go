package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/cortex-brain/internal/brain"
)

func init() {
	createCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new brain",
		Long:  "Create a new brain. The passphrase is read from the environment variable named by --secret-env (default from config).",
		Args:  cobra.ExactArgs(1),
		Run:   runBrainCreate,
	}
	createCmd.Flags().String("tenant", "", "Tenant id (default from config)")
	createCmd.Flags().String("secret-env", "", "Env var holding the passphrase (default from config)")
	createCmd.Flags().String("exposed-classes", "", "Comma-separated classes attachments may use (default: *)")
	createCmd.Flags().Bool("use", false, "Make the new brain active")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List brains",
		Run:   runBrainList,
	}

	useCmd := &cobra.Command{
		Use:   "use [brain]",
		Short: "Select the active brain",
		Args:  cobra.ExactArgs(1),
		Run:   runBrainUse,
	}

	currentCmd := &cobra.Command{
		Use:   "current",
		Short: "Show the selected brain",
		Run:   runBrainCurrent,
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a stored brain's signature and checksum without decrypting",
		Run:   runBrainVerify,
	}

	brainCmd.AddCommand(createCmd, listCmd, useCmd, currentCmd, verifyCmd)
}

func runBrainCreate(cmd *cobra.Command, args []string) {
	tenant, _ := cmd.Flags().GetString("tenant")
	secretEnv, _ := cmd.Flags().GetString("secret-env")
	exposed, _ := cmd.Flags().GetString("exposed-classes")
	use, _ := cmd.Flags().GetBool("use")

	if tenant == "" {
		tenant = cfg.Brain.DefaultTenant
	}
	if secretEnv == "" {
		secretEnv = cfg.Brain.SecretEnv
	}

	s := openBrainStore()
	sum, err := s.Create(cmd.Context(), brain.CreateParams{
		Name:           args[0],
		TenantID:       tenant,
		Passphrase:     passphrase(secretEnv),
		Actor:          cfg.Brain.Actor,
		SecretEnv:      secretEnv,
		ExposedClasses: splitList(exposed),
	})
	if err != nil {
		exitErr("create", err)
	}

	if use {
		r := openRegistry()
		defer r.Close()
		if err := r.SetActiveBrain(cmd.Context(), sum.BrainID); err != nil {
			exitErr("use", err)
		}
	}
	printJSON(cmd, sum)
}

func runBrainList(cmd *cobra.Command, args []string) {
	all, err := openBrainStore().List()
	if err != nil {
		exitErr("list", err)
	}
	printJSON(cmd, all)
}

func runBrainUse(cmd *cobra.Command, args []string) {
	sum, err := openBrainStore().Verify(args[0])
	if err != nil {
		exitErr("use", err)
	}
	r := openRegistry()
	defer r.Close()
	if err := r.SetActiveBrain(cmd.Context(), sum.BrainID); err != nil {
		exitErr("use", err)
	}
	printJSON(cmd, sum)
}

func runBrainCurrent(cmd *cobra.Command, args []string) {
	sum, err := openBrainStore().Verify(brainRef(cmd))
	if err != nil {
		exitErr("current", err)
	}
	printJSON(cmd, sum)
}

func runBrainVerify(cmd *cobra.Command, args []string) {
	sum, err := openBrainStore().Verify(brainRef(cmd))
	if err != nil {
		exitErr("verify", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "brain": sum})
}
