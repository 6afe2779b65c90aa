package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/inab/docker-tes-proxy/internal/tes"
)

type rmOptions struct {
	force       bool
	removeLink  bool
	withVolumes bool
}

func (a *App) newRmCmd() *cobra.Command {
	o := &rmOptions{}

	cmd := &cobra.Command{
		Use:   "rm [OPTIONS] CONTAINER [CONTAINER...]",
		Short: "Remove one or more tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.exitCode = a.removeTasks(cmd.Context(), o, args)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.BoolVarP(&o.force, "force", "f", false, "Force the removal of a running container")
	fs.BoolVarP(&o.removeLink, "link", "l", false, "Remove the specified link")
	fs.BoolVarP(&o.withVolumes, "volumes", "v", false, "Remove anonymous volumes associated with the container")

	return cmd
}

// removeTasks emulates docker rm as far as the task service allows: tasks
// cannot be deleted, so active ones (or any, under --force) are cancelled
// instead. Names fall back to a scan of the task list.
func (a *App) removeTasks(ctx context.Context, o *rmOptions, ids []string) int {
	log := clog.FromContext(ctx)

	if o.removeLink {
		log.Debug("--link cannot be honoured, tasks have no links")
	}
	if o.withVolumes {
		log.Debug("--volumes cannot be honoured, tasks have no anonymous volumes")
	}
	if o.force {
		log.Debug("--force is only partially emulated, terminal tasks cannot be removed")
	}

	client, err := a.tesClient()
	if err != nil {
		log.Error("could not reach the task service", "error", err)
		return 1
	}

	retval := 0
	for _, id := range ids {
		task, realID := a.lookupTask(ctx, client, id)
		if task == nil {
			fmt.Fprintln(os.Stderr, "Error response from daemon: No such container: "+id)
			retval = 1
			continue
		}

		if o.force || task.State.Active() {
			if err := client.CancelTask(ctx, realID); err != nil {
				log.Error("error while cancelling task", "id", realID, "error", err)
				retval = 1
				continue
			}
			fmt.Println(id)
		}
	}

	return retval
}

// lookupTask resolves id first as a task ID, then as a task name by
// scanning the list.
func (a *App) lookupTask(ctx context.Context, client *tes.Client, id string) (*tes.Task, string) {
	log := clog.FromContext(ctx)

	task, err := client.GetTask(ctx, id, tes.ViewMinimal)
	if err == nil {
		return task, id
	}
	log.Debug("could not find task by id, scanning by name", "id", id, "error", err)

	pageToken := ""
	for {
		page, err := client.ListTasks(ctx, tes.ViewBasic, pageToken)
		if err != nil {
			log.Debug("could not list tasks", "error", err)
			return nil, ""
		}
		for i := range page.Tasks {
			if page.Tasks[i].Name == id {
				return &page.Tasks[i], page.Tasks[i].ID
			}
		}
		pageToken = page.NextPageToken
		if pageToken == "" {
			return nil, ""
		}
	}
}
