// Package commands provides the CLI commands for the agent runtime.
// The interactive terminal UX lives elsewhere; what lives
// here is the minimal wiring surface a caller or supervisor process
// uses to submit one task and to operate on the runtime's durable
// state (verifying the audit chain, managing vault secrets).
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentrt/agentrt/internal/logging"
)

// Process-level exit codes.
const (
	ExitSuccess            = 0
	ExitConfigAbsent       = 1
	ExitAuthorizationDenied = 2
	ExitProviderUnavailable = 3
	ExitAuditChainInvalid   = 4
)

var (
	workDir    string
	logLevel   string
	logPretty  bool
	logToFile  bool
)

var rootCmd = &cobra.Command{
	Use:   "agentrt",
	Short: "Long-running autonomous agent runtime",
	Long: `agentrt runs an autonomous agent job to completion against a
configured provider, under a capability policy and a hash-chained
audit log.

Run 'agentrt run' to submit a task, or 'agentrt audit verify' /
'agentrt secrets' to operate on the runtime's durable state.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Config{
			Level:     logging.ParseLevel(logLevel),
			Output:    os.Stderr,
			Pretty:    logPretty,
			LogToFile: logToFile,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&workDir, "dir", "", "Working directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "Console-format log output")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-file", false, "Also write logs to a timestamped file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(secretsCmd)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := err.(exitError); ok {
			if code.msg != "" {
				fmt.Fprintln(os.Stderr, code.msg)
			}
			return code.code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return ExitSuccess
}

// exitError carries a specific process exit code through cobra's
// error-returning RunE convention.
type exitError struct {
	code int
	msg  string
}

func (e exitError) Error() string { return e.msg }

func exitf(code int, format string, args ...any) error {
	return exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

func resolveWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}
