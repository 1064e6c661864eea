// Package cli implements the cortex-brain CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rcliao/cortex-brain/internal/brain"
	"github.com/rcliao/cortex-brain/internal/config"
	"github.com/rcliao/cortex-brain/internal/crypto"
	"github.com/rcliao/cortex-brain/internal/logging"
	"github.com/rcliao/cortex-brain/internal/registry"
)

var (
	homeFlag     string
	configFlag   string
	brainFlag    string
	logLevelFlag string

	cfg    *config.Config
	logger = zerolog.Nop()

	// tracked holds handles exitErr closes, since os.Exit skips defers.
	tracked []io.Closer
	osExit  = os.Exit
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "cortex-brain",
	Short: "Portable encrypted memory for AI assistants",
	Long:  "Create, branch, merge, forget and move encrypted, signed memory brains. Output is JSON.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setup()
	},
}

// brainCmd groups the operations on one brain.
var brainCmd = &cobra.Command{
	Use:   "brain",
	Short: "Brain management and memory operations",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "Cortex home (default: $CORTEX_HOME or ~/.cortex)")
	RootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ~/.cortex/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&brainFlag, "brain", "b", "", "Brain id or name (default: $CORTEX_BRAIN or the active brain)")
	RootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")

	RootCmd.AddCommand(brainCmd)
}

func setup() {
	var err error
	if configFlag != "" {
		cfg, err = config.LoadFromPath(configFlag)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		exitErr("load config", err)
	}
	if homeFlag != "" {
		cfg.Home = homeFlag
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		exitErr("config", err)
	}
	logger = logging.New(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
	})
}

func openBrainStore() *brain.Store {
	policy, err := brain.ParseLockPolicy(cfg.Lock.Policy)
	if err != nil {
		exitErr("config", err)
	}
	timeout, err := cfg.LockTimeout()
	if err != nil {
		exitErr("config", err)
	}
	return brain.New(cfg.Home, brain.Options{
		KDF: crypto.KDFParams{
			Time:      cfg.KDF.Time,
			MemoryKiB: cfg.KDF.MemoryKiB,
			Threads:   cfg.KDF.Threads,
		},
		LockPolicy:  policy,
		LockTimeout: timeout,
		Logger:      logger,
	})
}

func openRegistry() *registry.SQLiteRegistry {
	r, err := registry.NewSQLiteRegistry(filepath.Join(cfg.Home, "registry.db"))
	if err != nil {
		exitErr("open registry", err)
	}
	return r
}

// brainRef picks the brain a command targets: --brain, then $CORTEX_BRAIN,
// then the active brain recorded by "brain use".
func brainRef(cmd *cobra.Command) string {
	if brainFlag != "" {
		return brainFlag
	}
	if env := os.Getenv("CORTEX_BRAIN"); env != "" {
		return env
	}
	r := openRegistry()
	defer r.Close()
	id, err := r.ActiveBrain(cmd.Context())
	if err != nil {
		exitErr("resolve brain", fmt.Errorf("no brain selected: pass --brain or run 'cortex-brain brain use'"))
	}
	return id
}

// passphrase reads the secret from the env var the brain names.
func passphrase(envName string) []byte {
	if envName == "" {
		envName = cfg.Brain.SecretEnv
	}
	v := os.Getenv(envName)
	if v == "" {
		exitErr("passphrase", fmt.Errorf("environment variable %s is not set", envName))
	}
	return []byte(v)
}

// openHandle opens the selected brain with the passphrase from its secret env.
func openHandle(cmd *cobra.Command, readOnly bool) *brain.Handle {
	s := openBrainStore()
	ref := brainRef(cmd)
	m, err := s.Manifest(ref)
	if err != nil {
		exitErr("open brain", err)
	}
	h, err := s.Open(cmd.Context(), m.BrainID, brain.OpenParams{
		Passphrase: passphrase(m.SecretEnv),
		ReadOnly:   readOnly,
		Actor:      cfg.Brain.Actor,
	})
	if err != nil {
		exitErr("open brain", err)
	}
	track(h)
	return h
}

func track(c io.Closer) {
	tracked = append(tracked, c)
}

// closeAll closes tracked handles newest first. Closing twice is a no-op for
// a brain handle, so commands keep their own deferred Close.
func closeAll() {
	for i := len(tracked) - 1; i >= 0; i-- {
		tracked[i].Close()
	}
	tracked = nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(cmd *cobra.Command, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

func exitErr(msg string, err error) {
	closeAll()
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	osExit(1)
}
