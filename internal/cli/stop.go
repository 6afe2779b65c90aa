package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/inab/docker-tes-proxy/internal/tes"
)

type stopOptions struct {
	signal string
	wait   float64
}

func (a *App) newStopCmd() *cobra.Command {
	o := &stopOptions{}

	cmd := &cobra.Command{
		Use:   "stop [OPTIONS] CONTAINER [CONTAINER...]",
		Short: "Stop one or more running tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.exitCode = a.stopTasks(cmd.Context(), o, args)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&o.signal, "signal", "s", "", "Signal to send to the container")
	fs.Float64VarP(&o.wait, "time", "t", 0, "Seconds to wait before killing the container")

	return cmd
}

// stopTasks cancels every named task that is still active. Cancellation is
// the only stop primitive the task service offers, so the signal choice
// cannot be honoured.
func (a *App) stopTasks(ctx context.Context, o *stopOptions, ids []string) int {
	log := clog.FromContext(ctx)

	if o.signal != "" {
		log.Debug("--signal cannot be honoured, tasks are cancelled, not signalled", "signal", o.signal)
	}

	client, err := a.tesClient()
	if err != nil {
		log.Error("could not reach the task service", "error", err)
		return 1
	}

	retval := 0
	for _, id := range ids {
		task, err := client.GetTask(ctx, id, tes.ViewMinimal)
		if err != nil {
			log.Debug("could not find task", "id", id, "error", err)
			fmt.Fprintln(os.Stderr, "Error response from daemon: No such container: "+id)
			retval = 1
			continue
		}

		if !task.State.Active() {
			fmt.Println(id)
			continue
		}

		if o.wait > 0 {
			time.Sleep(time.Duration(o.wait * float64(time.Second)))
		}
		if err := client.CancelTask(ctx, id); err != nil {
			log.Error("error while cancelling task", "id", id, "error", err)
			retval = 1
			continue
		}
		fmt.Println(id)
	}

	return retval
}
