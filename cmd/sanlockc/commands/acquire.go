package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/socket"
)

var (
	acquireLockspace  string
	acquireResources  []string
	acquireGeneration uint64
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire one or more resource leases through the daemon",
	Long: `Acquire claims every --resource given against the daemon in one
atomic call: either every resource is retained or none are. Pass
--resource more than once to acquire several resources as a unit, the
way a single client process acquiring its whole working set at start-up
would.`,
	RunE: runAcquire,
}

func init() {
	acquireCmd.Flags().StringVar(&acquireLockspace, "lockspace", "", "owning lockspace name (required)")
	acquireCmd.Flags().StringArrayVar(&acquireResources, "resource", nil, "resource name; repeat to acquire several atomically (required, at least one)")
	acquireCmd.Flags().Uint64Var(&acquireGeneration, "generation", 1, "lockspace generation to stamp into every lease in this call")
	_ = acquireCmd.MarkFlagRequired("lockspace")
	_ = acquireCmd.MarkFlagRequired("resource")
}

func runAcquire(cmd *cobra.Command, args []string) error {
	frame, err := call(socketPath, socket.CmdAcquire, socket.Request{
		Lockspace:  acquireLockspace,
		Resources:  acquireResources,
		Generation: acquireGeneration,
	})
	if err != nil {
		return err
	}
	if err := replyError(frame); err != nil {
		return err
	}
	fmt.Printf("acquired %s\n", strings.Join(acquireResources, ", "))
	return nil
}
