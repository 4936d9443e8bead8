package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/socket"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the calling process with the daemon",
	Long: `Register opens a connection the daemon can identify by PID via
SO_PEERCRED, so subsequent ACQUIRE calls from the same process are
attributed correctly. A process that calls acquire without first
registering is registered implicitly.`,
	RunE: runRegister,
}

func runRegister(cmd *cobra.Command, args []string) error {
	frame, err := call(socketPath, socket.CmdRegister, socket.Request{})
	if err != nil {
		return err
	}
	if err := replyError(frame); err != nil {
		return err
	}
	fmt.Println("registered")
	return nil
}
