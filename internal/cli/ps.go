package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/inab/docker-tes-proxy/internal/tes"
)

// taskStateNames maps TES task states onto the docker container states the
// ps output vocabulary uses. Unlisted states pass through verbatim.
var taskStateNames = map[tes.State]string{
	tes.StateComplete:      "exited",
	tes.StateExecutorError: "exited",
	tes.StateSystemError:   "exited",
	tes.StateQueued:        "created",
	tes.StateInitializing:  "up",
	tes.StateRunning:       "up",
	tes.StatePaused:        "paused",
}

var headerNames = map[string]string{
	"Command":      "COMMAND",
	"CreatedAt":    "CREATED AT",
	"ID":           "CONTAINER ID",
	"Image":        "IMAGE",
	"Labels":       "LABELS",
	"LocalVolumes": "LOCAL VOLUMES",
	"Mounts":       "MOUNTS",
	"Names":        "NAMES",
	"Networks":     "NETWORKS",
	"Ports":        "PORTS",
	"RunningFor":   "CREATED",
	"Size":         "SIZE",
	"State":        "STATE",
	"Status":       "STATUS",
}

var defaultColumns = []string{"ID", "Image", "Command", "RunningFor", "Status", "Ports", "Names"}

var jsonColumns = []string{
	"Command", "CreatedAt", "ID", "Image", "Labels", "LocalVolumes",
	"Mounts", "Names", "Networks", "Ports", "RunningFor", "Size", "State", "Status",
}

var templateVarRe = regexp.MustCompile(`^\{\{\.([^}]+)\}\}`)

type psOptions struct {
	all     bool
	filter  string
	format  string
	last    int
	latest  bool
	noTrunc bool
	quiet   bool
	size    bool
}

func (a *App) newPsCmd() *cobra.Command {
	o := &psOptions{}

	cmd := &cobra.Command{
		Use:   "ps [OPTIONS]",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.exitCode = a.listTasks(cmd.Context(), o)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.BoolVarP(&o.all, "all", "a", false, "Show all tasks (default shows just running)")
	fs.StringVarP(&o.filter, "filter", "f", "", "Filter output based on conditions provided")
	fs.StringVar(&o.format, "format", "table", "Format output using a custom template")
	fs.IntVarP(&o.last, "last", "n", -1, "Show n last created tasks (includes all states)")
	fs.BoolVarP(&o.latest, "latest", "l", false, "Show the latest created task (includes all states)")
	fs.BoolVar(&o.noTrunc, "no-trunc", false, "Don't truncate output")
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "Only display task IDs")
	fs.BoolVarP(&o.size, "size", "s", false, "Display total file sizes")

	return cmd
}

func (a *App) listTasks(ctx context.Context, o *psOptions) int {
	log := clog.FromContext(ctx)

	if o.filter != "" {
		log.Debug("--filter cannot be honoured, the task service has no filtering", "filter", o.filter)
	}
	if o.size {
		log.Debug("--size cannot be honoured, tasks have no local size")
	}

	client, err := a.tesClient()
	if err != nil {
		log.Error("could not reach the task service", "error", err)
		return 1
	}

	listAll := o.all || o.latest || o.last != -1
	remaining := int(^uint(0) >> 1)
	if o.latest {
		remaining = 1
	} else if o.last != -1 {
		remaining = o.last
	}

	columns, joinWithTab, withHeader := resolveColumns(o.format, defaultColumns)

	out := os.Stdout
	var w *tabwriter.Writer
	if !o.quiet && o.format != "json" && joinWithTab {
		w = tabwriter.NewWriter(out, 2, 8, 3, ' ', 0)
		defer w.Flush()
	}

	if withHeader && !o.quiet {
		writeRow(w, out, headerRow(columns, headerNames), joinWithTab)
	}

	now := time.Now()
	pageToken := ""
	for remaining > 0 {
		page, err := client.ListTasks(ctx, tes.ViewBasic, pageToken)
		if err != nil {
			log.Error("could not list tasks", "error", err)
			return 1
		}

		for _, task := range page.Tasks {
			if !listAll && task.State != tes.StateRunning {
				continue
			}
			if o.quiet {
				fmt.Fprintln(out, task.ID)
				remaining--
			} else {
				for i := range task.Executors {
					vars := taskRow(task, i, now, o)
					if o.format == "json" {
						row := make(map[string]any, len(jsonColumns))
						for _, c := range jsonColumns {
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
					remaining--
					if remaining <= 0 {
						break
					}
				}
			}
			if remaining <= 0 {
				break
			}
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return 0
}

// resolveColumns interprets a --format value: "table" (the given default
// columns), "table TEMPLATE", "json", or a raw template joined by spaces
// without a header.
func resolveColumns(format string, defaults []string) (columns []string, joinWithTab, withHeader bool) {
	joinWithTab = true
	withHeader = strings.HasPrefix(format, "table")

	if format != "json" && !strings.HasPrefix(format, "table") {
		format = "table " + format
		joinWithTab = false
	}

	columns = defaults
	if strings.HasPrefix(format, "table") {
		remainder := strings.TrimSpace(format[len("table"):])
		if remainder != "" {
			columns = nil
			for _, token := range strings.Fields(remainder) {
				if m := templateVarRe.FindStringSubmatch(token); m != nil {
					columns = append(columns, m[1])
				} else {
					columns = append(columns, token)
				}
			}
		}
	}
	return columns, joinWithTab, withHeader
}

// headerRow maps template variable names onto their column headings.
func headerRow(columns []string, names map[string]string) []string {
	headers := make([]string, len(columns))
	for i, c := range columns {
		if h, ok := names[c]; ok {
			headers[i] = h
		} else {
			headers[i] = c
		}
	}
	return headers
}

func writeRow(w *tabwriter.Writer, out *os.File, cells []string, joinWithTab bool) {
	if joinWithTab && w != nil {
		fmt.Fprintln(w, strings.Join(cells, "\t"))
		return
	}
	sep := " "
	if joinWithTab {
		sep = "\t"
	}
	fmt.Fprintln(out, strings.Join(cells, sep))
}

// taskRow renders the template variables for one executor of one task.
func taskRow(task tes.Task, execIdx int, now time.Time, o *psOptions) map[string]any {
	executor := task.Executors[execIdx]

	createdAt := ""
	runningFor := "Created"
	status := "Created"

	var execLog *tes.ExecutorLog
	if len(task.Logs) > 0 && len(task.Logs[len(task.Logs)-1].Logs) > execIdx {
		execLog = &task.Logs[len(task.Logs)-1].Logs[execIdx]
	}

	if execLog != nil && execLog.StartTime != nil {
		createdAt = execLog.StartTime.Local().Format(time.RFC3339)
		runningFor = humanize.RelTime(*execLog.StartTime, now, "ago", "from now")

		name := string(task.State)
		if mapped, ok := taskStateNames[task.State]; ok {
			name = mapped
		}
		status = capitalize(name)
		if execLog.ExitCode != nil {
			status += fmt.Sprintf(" (%d)", *execLog.ExitCode)
		}
		if execLog.EndTime != nil {
			status += " " + humanize.RelTime(*execLog.EndTime, now, "ago", "from now")
		}
	} else if task.CreationTime != nil {
		createdAt = task.CreationTime.Local().Format(time.RFC3339)
	}

	command := strings.Join(executor.Command, " ")
	if o.format != "json" && !o.noTrunc {
		// Truncate on rune boundaries so multi-byte commands stay valid.
		if runes := []rune(command); len(runes) > 20 {
			command = string(runes[:20]) + "…"
		}
	}
	command = `"` + command + `"`

	var labels []string
	for k, v := range task.Tags {
		labels = append(labels, k+"="+v)
	}

	stateName := "unknown"
	if task.State != "" {
		stateName = string(task.State)
		if mapped, ok := taskStateNames[task.State]; ok {
			stateName = mapped
		}
	}

	return map[string]any{
		"Command":      command,
		"CreatedAt":    createdAt,
		"ID":           task.ID,
		"Image":        executor.Image,
		"Labels":       strings.Join(labels, ","),
		"LocalVolumes": len(task.Volumes),
		"Mounts":       "",
		"Names":        task.Name,
		"Networks":     "",
		"Ports":        "",
		"RunningFor":   runningFor,
		"Size":         "0B",
		"State":        stateName,
		"Status":       status,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
