package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/socket"
)

var (
	migrateResource  string
	migrateForceMode bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Request that the current owner of a resource release it",
	Long: `Migrate writes a request record nudging the resource's current
owner to release voluntarily, for live migration of the workload
holding the lease to another host. --force asks the owner to drop the
lease immediately rather than waiting for a clean handoff point.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateResource, "resource", "", "resource name (required)")
	migrateCmd.Flags().BoolVar(&migrateForceMode, "force", false, "request immediate release rather than a clean handoff")
	_ = migrateCmd.MarkFlagRequired("resource")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	frame, err := call(socketPath, socket.CmdMigrate, socket.Request{
		Resource:  migrateResource,
		ForceMode: migrateForceMode,
	})
	if err != nil {
		return err
	}
	if err := replyError(frame); err != nil {
		return err
	}
	fmt.Printf("migrate requested for %s\n", migrateResource)
	return nil
}
