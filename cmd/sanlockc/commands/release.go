package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/socket"
)

var (
	releaseResource string
	releaseRemember bool
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release a resource lease held through the daemon",
	RunE:  runRelease,
}

func init() {
	releaseCmd.Flags().StringVar(&releaseResource, "resource", "", "resource name (required)")
	releaseCmd.Flags().BoolVar(&releaseRemember, "remember", false, "keep the token recorded for a later reacquire by a new PID")
	_ = releaseCmd.MarkFlagRequired("resource")
}

func runRelease(cmd *cobra.Command, args []string) error {
	frame, err := call(socketPath, socket.CmdRelease, socket.Request{
		Resource: releaseResource,
		Remember: releaseRemember,
	})
	if err != nil {
		return err
	}
	if err := replyError(frame); err != nil {
		return err
	}
	fmt.Printf("released %s\n", releaseResource)
	return nil
}
