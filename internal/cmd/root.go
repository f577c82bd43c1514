// Package cmd implements the taskgraph command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/taskgraph/internal/config"
	"github.com/Iron-Ham/taskgraph/internal/errors"
)

// NewRootCmd builds the full command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "taskgraph",
		Short: "Persistent task graph shared by many processes",
		Long: `taskgraph keeps a dependency graph of tasks in a single JSON document that
any number of processes can read and mutate safely. Tasks move through a
validated state machine, dependents are unblocked as their dependencies
complete, and every transition is recorded in an audit trail.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initConfig()
			return a.open(cmd)
		},
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/taskgraph/config.yaml)")
	flags.StringP("store", "s", "", "task store document (default is .taskgraph/tasks.json)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("store.path", flags.Lookup("store"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(
		newTaskCmd(a),
		newGroupCmd(a),
		newGraphCmd(a),
		newAuditCmd(a),
		newStatsCmd(a),
		newSweepCmd(a),
		newLockCmd(a),
		newWatchCmd(a),
		newMetricsCmd(a),
	)
	return rootCmd
}

// Execute runs the root command and reports any error on stderr.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		printError(os.Stderr, err)
	}
	return err
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TASKGRAPH")
	// Replace dots with underscores for nested keys in env vars
	// e.g., TASKGRAPH_STORE_LOCK_TIMEOUT for store.lock_timeout
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// printError writes err for a human. Errors from flag parsing and argument
// checks are not TaskgraphErrors and print as they are.
func printError(w io.Writer, err error) {
	var tgErr errors.TaskgraphError
	switch {
	case !errors.As(err, &tgErr):
		fmt.Fprintf(w, "Error: %v\n", err)
	case errors.IsContention(err):
		fmt.Fprintf(w, "Error: %v\nAnother process is holding the store lock; try again.\n", err)
	case errors.GetSeverity(err) >= errors.SeverityCritical:
		fmt.Fprintf(w, "Error: %v\nThe store was left untouched; repair or restore it by hand.\n", err)
	case errors.IsUserFacing(err):
		fmt.Fprintf(w, "Error: %v\n", err)
	default:
		fmt.Fprintf(w, "Error: %v (see the log for details)\n", err)
	}
}
