package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/inab/docker-tes-proxy/internal/registry"
)

type inspectOptions struct {
	format     string
	size       bool
	objectType string
}

func (a *App) newInspectCmd() *cobra.Command {
	o := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect [OPTIONS] NAME|ID [NAME|ID...]",
		Short: "Return low-level information on images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.exitCode = a.inspectImages(cmd.Context(), o, args)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&o.format, "format", "f", "table", "Format output using a custom template")
	fs.BoolVarP(&o.size, "size", "s", false, "Display total file sizes if the type is container")
	fs.StringVar(&o.objectType, "type", "", "Return JSON for specified type")

	return cmd
}

// inspectImages prints a docker-inspect shaped JSON array built from
// registry metadata. There are no local objects, so only images resolve.
func (a *App) inspectImages(ctx context.Context, o *inspectOptions, tags []string) int {
	log := clog.FromContext(ctx)

	if o.format != "table" {
		log.Debug("--format cannot be honoured, output is always JSON", "format", o.format)
	}
	if o.size {
		log.Debug("--size cannot be honoured, images are not stored locally")
	}
	if o.objectType != "" {
		log.Debug("--type cannot be honoured, only images can be inspected", "type", o.objectType)
	}

	retval := 0
	summaries := make([]*registry.ImageSummary, 0, len(tags))
	for _, tag := range tags {
		summary, err := registry.Inspect(ctx, tag)
		if err != nil {
			log.Debug("error inspecting image", "tag", tag, "error", err)
			fmt.Fprintln(os.Stderr, "Error: No such object: "+tag)
			retval = 1
			continue
		}
		summaries = append(summaries, summary)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(summaries); err != nil {
		log.Error("could not render inspect output", "error", err)
		return 1
	}

	return retval
}
