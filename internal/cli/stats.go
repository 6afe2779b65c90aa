package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/inab/docker-tes-proxy/internal/tes"
)

var statsHeaderNames = map[string]string{
	"Container": "CONTAINER",
	"Name":      "NAME",
	"ID":        "CONTAINER ID",
	"CPUPerc":   "CPU %",
	"MemUsage":  "MEM USAGE / LIMIT",
	"MemPerc":   "MEM %",
	"NetIO":     "NET I/O",
	"BlockIO":   "BLOCK I/O",
	"PIDs":      "PIDS",
}

var statsDefaultColumns = []string{"ID", "Name", "CPUPerc", "MemUsage", "NetIO", "BlockIO", "PIDs"}

var statsJSONColumns = []string{
	"BlockIO", "CPUPerc", "Container", "ID", "MemPerc", "MemUsage", "Name", "NetIO", "PIDs",
}

type statsOptions struct {
	all      bool
	format   string
	noStream bool
	noTrunc  bool
}

func (a *App) newStatsCmd() *cobra.Command {
	o := &statsOptions{}

	cmd := &cobra.Command{
		Use:   "stats [OPTIONS] [CONTAINER...]",
		Short: "Display a live stream of task resource usage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.exitCode = a.streamStats(cmd.Context(), o, args)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.BoolVarP(&o.all, "all", "a", false, "Show all tasks (default shows just running)")
	fs.StringVar(&o.format, "format", "table", "Format output using a custom template")
	fs.BoolVar(&o.noStream, "no-stream", false, "Disable streaming stats and only pull the first result")
	fs.BoolVar(&o.noTrunc, "no-trunc", false, "Don't truncate output")

	return cmd
}

// streamStats renders docker-stats shaped rows synthesized from the task
// list: the service exposes no live counters, so the numbers are fixed and
// only the running/stopped distinction is real. Without --no-stream the
// list is re-polled every second until it comes back empty or the context
// is cancelled.
func (a *App) streamStats(ctx context.Context, o *statsOptions, ids []string) int {
	log := clog.FromContext(ctx)

	client, err := a.tesClient()
	if err != nil {
		log.Error("could not reach the task service", "error", err)
		return 1
	}

	listAll := o.all
	var only map[string]bool
	if len(ids) > 0 {
		listAll = true
		only = make(map[string]bool, len(ids))
		for _, id := range ids {
			only[id] = true
		}
	}

	columns, joinWithTab, withHeader := resolveColumns(o.format, statsDefaultColumns)

	out := os.Stdout
	var w *tabwriter.Writer
	if o.format != "json" && joinWithTab {
		w = tabwriter.NewWriter(out, 2, 8, 3, ' ', 0)
	}

	if withHeader {
		writeRow(w, out, headerRow(columns, statsHeaderNames), joinWithTab)
	}

	for {
		page, err := client.ListTasks(ctx, tes.ViewBasic, "")
		if err != nil {
			log.Error("could not list tasks", "error", err)
			return 1
		}
		if len(page.Tasks) == 0 {
			break
		}

		for _, task := range page.Tasks {
			if len(task.Executors) == 0 {
				continue
			}
			if task.State != tes.StateRunning && (!listAll || (only != nil && !only[task.ID])) {
				continue
			}

			vars := statsRow(task)
			for range task.Executors {
				if o.format == "json" {
					row := make(map[string]any, len(statsJSONColumns))
					for _, c := range statsJSONColumns {
						row[c] = vars[c]
					}
					data, _ := json.Marshal(row)
					fmt.Fprintln(out, string(data))
				} else {
					cells := make([]string, len(columns))
					for j, c := range columns {
						if v, ok := vars[c]; ok {
							cells[j] = fmt.Sprint(v)
						} else {
							cells[j] = c
						}
					}
					writeRow(w, out, cells, joinWithTab)
				}
			}
		}
		if w != nil {
			w.Flush()
		}

		if o.noStream {
			break
		}
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(time.Second):
		}
	}

	if w != nil {
		w.Flush()
	}
	return 0
}

// statsRow synthesizes the docker-stats template variables for one task.
func statsRow(task tes.Task) map[string]any {
	cpu := "0.00%"
	pids := 0
	if task.State == tes.StateRunning {
		cpu = "100%"
		pids = 1
	}
	return map[string]any{
		"Container": task.ID,
		"Name":      task.Name,
		"ID":        task.ID,
		"CPUPerc":   cpu,
		"MemUsage":  "0B /0B",
		"MemPerc":   "0.00%",
		"NetIO":     "0B / 0B",
		"BlockIO":   "0B / 0B",
		"PIDs":      pids,
	}
}
