// Package commands implements the CLI commands for the sanlockc client.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "sanlockc",
	Short: "sanlockc - client for a running sanlockd daemon",
	Long: `sanlockc talks to a running sanlockd daemon over its local Unix
socket, acquiring and releasing leases on behalf of the calling
process's PID.

Use "sanlockc [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", config.DefaultSocketPath, "path to the daemon's local socket")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(acquireCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(setOwnerCmd)
	rootCmd.AddCommand(setHostIDCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logDumpCmd)
	rootCmd.AddCommand(shutdownCmd)
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
