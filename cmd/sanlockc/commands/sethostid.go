package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/socket"
)

var setHostIDLockspace string

var setHostIDCmd = &cobra.Command{
	Use:   "set-host-id",
	Short: "Confirm the daemon has acquired host_id in a lockspace",
	Long: `Set-host-id confirms the daemon already holds a live host_id in
--lockspace. The daemon acquires its host_id for a lockspace at
startup (via "sanlockd start --lockspace ... --host-id ..."); this
command does not change it, it only reports whether that acquisition
succeeded.`,
	RunE: runSetHostID,
}

func init() {
	setHostIDCmd.Flags().StringVar(&setHostIDLockspace, "lockspace", "", "lockspace name (required)")
	_ = setHostIDCmd.MarkFlagRequired("lockspace")
}

func runSetHostID(cmd *cobra.Command, args []string) error {
	frame, err := call(socketPath, socket.CmdSetHostID, socket.Request{
		Lockspace: setHostIDLockspace,
	})
	if err != nil {
		return err
	}
	if err := replyError(frame); err != nil {
		return err
	}
	fmt.Printf("host_id confirmed for lockspace %s\n", setHostIDLockspace)
	return nil
}
