package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "API key mapping",
	}

	mapCmd := &cobra.Command{
		Use:   "map-key",
		Short: "Map an API key to a tenant, brain and subject",
		Long:  "Map an API key to a tenant, brain and subject. Only the sha256 of the key is stored. The key is read from the env var named by --key-env.",
		Run:   runMapKey,
	}
	mapCmd.Flags().String("key-env", "CORTEX_API_KEY", "Env var holding the API key")
	mapCmd.Flags().String("tenant", "", "Tenant id (default: the brain's tenant)")
	mapCmd.Flags().StringP("subject", "s", "user:local", "Subject the key acts as")

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve an API key to its mapping",
		Run:   runResolveKey,
	}
	resolveCmd.Flags().String("key-env", "CORTEX_API_KEY", "Env var holding the API key")

	authCmd.AddCommand(mapCmd, resolveCmd)
	RootCmd.AddCommand(authCmd)
}

func apiKey(cmd *cobra.Command) string {
	env, _ := cmd.Flags().GetString("key-env")
	key := os.Getenv(env)
	if key == "" {
		exitErr("auth", fmt.Errorf("environment variable %s is not set", env))
	}
	return key
}

func runMapKey(cmd *cobra.Command, args []string) {
	tenant, _ := cmd.Flags().GetString("tenant")
	subject, _ := cmd.Flags().GetString("subject")
	key := apiKey(cmd)

	sum, err := openBrainStore().Verify(brainRef(cmd))
	if err != nil {
		exitErr("map-key", err)
	}
	if tenant == "" {
		tenant = sum.TenantID
	}

	r := openRegistry()
	defer r.Close()
	m, err := r.MapKey(cmd.Context(), key, tenant, sum.BrainID, subject)
	if err != nil {
		exitErr("map-key", err)
	}
	printJSON(cmd, m)
}

func runResolveKey(cmd *cobra.Command, args []string) {
	key := apiKey(cmd)

	r := openRegistry()
	defer r.Close()
	m, err := r.ResolveKey(cmd.Context(), key)
	if err != nil {
		exitErr("resolve", err)
	}
	printJSON(cmd, m)
}
