package cli

import (
	"github.com/spf13/cobra"

	"github.com/inab/docker-tes-proxy/internal/ftpd"
)

// newVolumeServerCmd is the hidden worker entry point. The run subcommand
// re-execs the binary with this command after binding the listener; the
// worker inherits the listener and its serving manifest as open file
// descriptors.
func (a *App) newVolumeServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    ftpd.WorkerCommand,
		Short:  "Serve published volumes over an inherited listener",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, manifest, err := ftpd.InheritedWorker()
			if err != nil {
				return err
			}
			return ftpd.Serve(cmd.Context(), manifest, ln)
		},
	}
}
