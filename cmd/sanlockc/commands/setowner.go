package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/socket"
)

var (
	setOwnerResource      string
	setOwnerGeneration    uint64
	setOwnerExpectOwnerID uint64
)

var setOwnerCmd = &cobra.Command{
	Use:   "setowner",
	Short: "Force a resource's ownership without waiting for the owner to die",
	Long: `SetOwner runs a ballot naming the caller as owner, failing if the
recorded owner no longer matches --expect-owner-id. Unlike acquire it
skips the wait for the current owner's delta lease to expire; it is for
recovery after a migration handoff, not ordinary lease handoff.`,
	RunE: runSetOwner,
}

func init() {
	setOwnerCmd.Flags().StringVar(&setOwnerResource, "resource", "", "resource name (required)")
	setOwnerCmd.Flags().Uint64Var(&setOwnerGeneration, "generation", 1, "lockspace generation to stamp into the lease")
	setOwnerCmd.Flags().Uint64Var(&setOwnerExpectOwnerID, "expect-owner-id", 0, "host_id the leader must currently name as owner (required)")
	_ = setOwnerCmd.MarkFlagRequired("resource")
	_ = setOwnerCmd.MarkFlagRequired("expect-owner-id")
}

func runSetOwner(cmd *cobra.Command, args []string) error {
	frame, err := call(socketPath, socket.CmdSetOwner, socket.Request{
		Resource:      setOwnerResource,
		Generation:    setOwnerGeneration,
		ExpectOwnerID: setOwnerExpectOwnerID,
	})
	if err != nil {
		return err
	}
	if err := replyError(frame); err != nil {
		return err
	}
	fmt.Printf("owner set for %s\n", setOwnerResource)
	return nil
}
