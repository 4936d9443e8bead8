package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/socket"
)

var shutdownForce bool

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask the daemon to release every lease and exit",
	RunE:  runShutdown,
}

func init() {
	shutdownCmd.Flags().BoolVarP(&shutdownForce, "force", "f", false, "skip the confirmation prompt")
}

func runShutdown(cmd *cobra.Command, args []string) error {
	if !shutdownForce {
		fmt.Print("This releases every lease the daemon holds and stops it. Continue? [y/N] ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("aborted")
			return nil
		}
	}

	frame, err := call(socketPath, socket.CmdShutdown, socket.Request{})
	if err != nil {
		return err
	}
	if err := replyError(frame); err != nil {
		return err
	}
	fmt.Println("shutdown requested")
	return nil
}
