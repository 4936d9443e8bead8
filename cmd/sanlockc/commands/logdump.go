package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/socket"
)

var logDumpCmd = &cobra.Command{
	Use:   "log-dump",
	Short: "Print the daemon's recent command history",
	RunE:  runLogDump,
}

func runLogDump(cmd *cobra.Command, args []string) error {
	frame, err := call(socketPath, socket.CmdLogDump, socket.Request{})
	if err != nil {
		return err
	}
	if err := replyError(frame); err != nil {
		return err
	}
	if len(frame.Payload) == 0 {
		fmt.Println("no recent events")
		return nil
	}
	fmt.Println(string(frame.Payload))
	return nil
}
