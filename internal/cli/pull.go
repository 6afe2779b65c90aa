package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/inab/docker-tes-proxy/internal/registry"
	"github.com/inab/docker-tes-proxy/internal/tes"
)

type pullOptions struct {
	allTags             bool
	disableContentTrust bool
	platform            string
	quiet               bool
}

func (a *App) newPullCmd() *cobra.Command {
	o := &pullOptions{}

	cmd := &cobra.Command{
		Use:   "pull [OPTIONS] NAME[:TAG|@DIGEST]",
		Short: "Download an image from a registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.exitCode = a.pullImage(cmd.Context(), o, args[0])
			return nil
		},
	}

	fs := cmd.Flags()
	fs.BoolVarP(&o.allTags, "all-tags", "a", false, "Download all tagged images in the repository")
	fs.BoolVar(&o.disableContentTrust, "disable-content-trust", false, "Skip image verification (default true)")
	fs.StringVar(&o.platform, "platform", "", "Set platform if server is multi-platform capable")
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "Suppress verbose output")

	return cmd
}

// pullImage verifies the image is usable by the backend: a throwaway probe
// task runs a trivial command with it, and the registry is asked for the
// manifest digest so the output resembles a real pull.
func (a *App) pullImage(ctx context.Context, o *pullOptions, tag string) int {
	log := clog.FromContext(ctx)

	if o.allTags {
		log.Debug("--all-tags cannot be honoured, only the named tag is probed")
	}
	if o.disableContentTrust {
		log.Debug("--disable-content-trust cannot be honoured, there is no local verification")
	}
	if o.platform != "" {
		log.Debug("--platform cannot be honoured, the backend picks the platform", "platform", o.platform)
	}

	client, err := a.tesClient()
	if err != nil {
		log.Error("could not reach the task service", "error", err)
		return 1
	}

	probe := &tes.Task{
		Executors: []tes.Executor{{
			Image:   tag,
			Command: []string{"ls"},
		}},
	}
	id, err := client.CreateTask(ctx, probe)
	if err != nil {
		log.Error("could not create probe task", "error", err)
		return 1
	}

	state, err := client.WaitTask(ctx, id, 0)
	if err != nil {
		log.Error("interrupted while waiting for the probe task", "id", id, "error", err)
		return 1
	}
	if state != tes.StateComplete {
		fmt.Fprintf(os.Stderr,
			"Error response from daemon: pull access denied for %s, repository does not exist or may require 'docker login': denied: requested access to the resource is denied\n",
			tag)
		return 1
	}

	if !o.quiet {
		if digest, err := registry.Digest(ctx, tag); err != nil {
			log.Debug("could not resolve the image digest", "tag", tag, "error", err)
		} else {
			fmt.Println("Digest: " + digest)
		}
		fmt.Println("Status: Downloaded newer image for " + tag)
	}
	return 0
}
