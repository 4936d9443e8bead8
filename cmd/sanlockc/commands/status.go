package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/socket"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List resources currently open on the daemon",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	frame, err := call(socketPath, socket.CmdStatus, socket.Request{})
	if err != nil {
		return err
	}
	if err := replyError(frame); err != nil {
		return err
	}
	if len(frame.Payload) == 0 {
		fmt.Println("no resources open")
		return nil
	}
	fmt.Println(string(frame.Payload))
	return nil
}
