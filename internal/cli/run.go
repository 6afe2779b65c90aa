package cli

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/docker/go-units"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/inab/docker-tes-proxy/internal/ftpd"
	"github.com/inab/docker-tes-proxy/internal/tes"
	"github.com/inab/docker-tes-proxy/internal/volumes"
)

type runOptions struct {
	name        string
	annotations []string
	attach      []string
	cidfile     string
	cpus        float64
	cpuCount    int
	detach      bool
	env         []string
	envFiles    []string
	interactive bool
	memory      string
	memorySwap  string
	mounts      []string
	remove      bool
	tty         bool
	volumes     []string
	workdir     string
}

func (a *App) newRunCmd() *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [OPTIONS] IMAGE [COMMAND] [ARG...]",
		Short: "Create and run a new task from an image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.exitCode = a.runTask(cmd.Context(), o, args[0], args[1:])
			return nil
		},
	}

	fs := cmd.Flags()
	// Everything after the image belongs to the executed command.
	fs.SetInterspersed(false)

	fs.StringVar(&o.name, "name", "", "Assign a name to the container")
	fs.StringArrayVar(&o.annotations, "annotation", nil, "Add an annotation to the container")
	fs.StringArrayVarP(&o.attach, "attach", "a", nil, "Attach to STDIN, STDOUT or STDERR")
	fs.StringVar(&o.cidfile, "cidfile", "", "Write the container ID to the file")
	fs.Float64Var(&o.cpus, "cpus", 0, "Number of CPUs")
	fs.IntVar(&o.cpuCount, "cpu-count", 0, "CPU count")
	fs.BoolVarP(&o.detach, "detach", "d", false, "Run container in background and print container ID")
	fs.StringArrayVarP(&o.env, "env", "e", nil, "Set environment variables")
	fs.StringArrayVar(&o.envFiles, "env-file", nil, "Read in a file of environment variables")
	fs.BoolVarP(&o.interactive, "interactive", "i", false, "Keep STDIN open even if not attached")
	fs.StringVarP(&o.memory, "memory", "m", "", "Memory limit")
	fs.StringVar(&o.memorySwap, "memory-swap", "", "Swap limit equal to memory plus swap")
	fs.StringArrayVar(&o.mounts, "mount", nil, "Attach a filesystem mount to the container")
	fs.BoolVar(&o.remove, "rm", false, "Automatically remove the container when it exits")
	fs.BoolVarP(&o.tty, "tty", "t", false, "Allocate a pseudo-TTY")
	fs.StringArrayVarP(&o.volumes, "volume", "v", nil, "Bind mount a volume")
	fs.StringVarP(&o.workdir, "workdir", "w", "", "Working directory inside the container")

	return cmd
}

// volumeSpec is one bind-mount request: a host path exposed at a path
// inside the task.
type volumeSpec struct {
	hostPath string
	taskPath string
	readOnly bool
}

func (a *App) runTask(ctx context.Context, o *runOptions, image string, command []string) int {
	log := clog.FromContext(ctx)

	// A remote task needs an explicit command vector; there is no local
	// image to take an entrypoint from.
	if len(command) == 0 {
		log.Error("docker: no command supplied, an explicit command is required")
		return ExitUsage
	}

	env, err := mergeEnv(o.envFiles, o.env, os.LookupEnv)
	if err != nil {
		log.Error("docker: could not assemble the environment", "error", err)
		return ExitUsage
	}

	var cidFile *os.File
	if o.cidfile != "" {
		cidFile, err = os.Create(o.cidfile)
		if err != nil {
			log.Error("docker: failed to create the container ID file", "path", o.cidfile, "error", err)
			return ExitBackend
		}
		defer cidFile.Close()
	}

	store, err := volumes.NewStore(a.cfg.FTP.PublicHost, a.cfg.FTP.PublicPort)
	if err != nil {
		log.Error("could not prepare volume roots", "error", err)
		return ExitBackend
	}
	defer store.Close()

	var inputs []tes.Input
	var outputs []tes.Output

	// A captured stdin rides along as one more read-only input.
	stdinPath := ""
	if o.tty || attachRequested(o.attach, "stdin") {
		captured, err := captureStdin(ctx)
		if err != nil {
			log.Error("could not capture stdin", "error", err)
			return ExitBackend
		}
		if captured != "" {
			defer os.Remove(captured)
			u, err := store.Publish(ctx, volumes.ReadOnly, captured)
			if err != nil {
				log.Error("could not publish captured stdin", "error", err)
				return ExitBackend
			}
			stdinPath = "/" + filepath.Base(captured)
			inputs = append(inputs, tes.Input{URL: u, Path: stdinPath, Type: tes.TypeFile})
		}
	}

	specs, err := collectVolumeSpecs(ctx, o)
	if err != nil {
		log.Error("docker: could not parse volume declarations", "error", err)
		return ExitUsage
	}

	for _, spec := range specs {
		_, statErr := os.Stat(spec.hostPath)
		exists := statErr == nil

		switch {
		case exists && spec.readOnly:
			u, err := store.Publish(ctx, volumes.ReadOnly, spec.hostPath)
			if err != nil {
				log.Error("could not publish read-only volume", "path", spec.hostPath, "error", err)
				return ExitBackend
			}
			inputs = append(inputs, tes.Input{URL: u, Path: spec.taskPath, Type: pathType(spec.hostPath)})

		case exists:
			u, err := store.Publish(ctx, volumes.ReadWrite, spec.hostPath)
			if err != nil {
				log.Error("could not publish read-write volume", "path", spec.hostPath, "error", err)
				return ExitBackend
			}
			outputs = append(outputs, tes.Output{URL: u, Path: spec.taskPath, Type: pathType(spec.hostPath)})

		case spec.readOnly:
			log.Error("docker: failed to map inexistent path as a read only volume", "path", spec.hostPath)
			return ExitBackend

		default:
			// The backend will create it; the content is moved to the host
			// path after the task finishes.
			u, err := store.Publish(ctx, volumes.WriteOnly, spec.hostPath)
			if err != nil {
				log.Error("could not publish write-only volume", "path", spec.hostPath, "error", err)
				return ExitBackend
			}
			outputs = append(outputs, tes.Output{URL: u, Path: spec.taskPath, Type: tes.TypeFile})
		}
	}

	// The volume daemon only runs when something was published.
	if len(inputs) > 0 || len(outputs) > 0 {
		logPath := os.DevNull
		if a.debug {
			logPath = filepath.Join(os.TempDir(), "docker-tes-proxy-ftp.log")
		}
		daemon := ftpd.NewDaemon(a.cfg.FTP.ListenAddr(), a.volumeManifest(store))
		if err := daemon.Start(ctx, logPath); err != nil {
			log.Error("could not start the volume daemon", "error", err)
			return ExitBackend
		}
		store.MarkLive()
		defer daemon.Stop(context.WithoutCancel(ctx))
	}

	resources, err := taskResources(o)
	if err != nil {
		log.Error("docker: invalid resource declaration", "error", err)
		return ExitBackend
	}

	var tags map[string]string
	for _, decl := range o.annotations {
		if tags == nil {
			tags = make(map[string]string)
		}
		key, value, _ := strings.Cut(decl, "=")
		tags[key] = value
	}

	task := &tes.Task{
		Name: o.name,
		Executors: []tes.Executor{{
			Image:   image,
			Command: command,
			Env:     env,
			Stdin:   stdinPath,
			Workdir: o.workdir,
		}},
		Inputs:    inputs,
		Outputs:   outputs,
		Resources: resources,
		Tags:      tags,
	}

	if o.interactive {
		log.Debug("--interactive cannot be honoured, there is no stdin streaming to a remote task")
	}
	if o.remove {
		log.Debug("--rm cannot be honoured, completed tasks cannot be removed from the backend")
	}

	client, err := a.tesClient()
	if err != nil {
		log.Error("could not reach the task service", "error", err)
		return ExitBackend
	}

	id, err := client.CreateTask(ctx, task)
	if err != nil {
		log.Error("could not create task", "error", err)
		return ExitBackend
	}

	if cidFile != nil {
		if _, err := cidFile.WriteString(id); err != nil {
			log.Error("docker: failed to write the container ID file", "path", o.cidfile, "error", err)
			if o.detach {
				return ExitBackend
			}
		}
	}

	if o.detach {
		fmt.Println(id)
		return 0
	}

	if _, err := client.WaitTask(ctx, id, 0); err != nil {
		log.Error("interrupted while waiting for the task", "id", id, "error", err)
		return ExitBackend
	}

	// Captured stdout/stderr bodies only travel under the FULL view.
	view := tes.ViewBasic
	if o.tty || len(o.attach) > 0 {
		view = tes.ViewFull
	}
	final, err := client.GetTask(ctx, id, view)
	if err != nil {
		log.Error("could not fetch the finished task", "id", id, "error", err)
		return ExitBackend
	}

	retval := ExitBackend
	if execLog, err := tes.FinalExecutorLog(final); err != nil {
		log.Debug("task finished without a usable log", "id", id, "error", err)
	} else {
		if execLog.ExitCode != nil {
			retval = *execLog.ExitCode
		}
		if o.tty || attachRequested(o.attach, "stdout") {
			io.WriteString(os.Stdout, execLog.Stdout)
		}
		if o.tty || attachRequested(o.attach, "stderr") {
			io.WriteString(os.Stderr, execLog.Stderr)
		}
	}

	store.Synchronize(ctx)

	return retval
}

// volumeManifest builds the serving manifest for all three access kinds.
func (a *App) volumeManifest(store *volumes.Store) ftpd.Manifest {
	m := ftpd.Manifest{PublicHost: a.cfg.FTP.PublicHost}
	for _, kind := range []volumes.Kind{volumes.ReadOnly, volumes.ReadWrite, volumes.WriteOnly} {
		cred := store.Credential(kind)
		m.Accounts = append(m.Accounts, ftpd.Account{
			User:     cred.User,
			Secret:   cred.Secret,
			Root:     store.Root(kind),
			ReadOnly: kind == volumes.ReadOnly,
		})
	}
	return m
}

// collectVolumeSpecs digests -v declarations and the bind subset of
// --mount into a single list.
func collectVolumeSpecs(ctx context.Context, o *runOptions) ([]volumeSpec, error) {
	log := clog.FromContext(ctx)

	var specs []volumeSpec
	for _, decl := range o.volumes {
		parts := strings.SplitN(decl, ":", 3)
		spec := volumeSpec{hostPath: parts[0]}
		if len(parts) == 1 {
			abs, err := filepath.Abs(parts[0])
			if err != nil {
				return nil, fmt.Errorf("resolving volume %q: %w", decl, err)
			}
			spec.taskPath = abs
		} else {
			spec.taskPath = parts[1]
			if len(parts) == 3 {
				spec.readOnly = strings.HasPrefix(parts[2], "ro")
			}
		}
		specs = append(specs, spec)
	}

	for _, decl := range o.mounts {
		attrs := make(map[string]string)
		for _, part := range strings.Split(decl, ",") {
			key, value, _ := strings.Cut(part, "=")
			attrs[key] = value
		}
		if attrs["type"] != "bind" {
			log.Debug("--mount cannot be honoured, only type=bind can be emulated", "mount", decl)
			continue
		}

		spec := volumeSpec{}
		for _, key := range []string{"src", "source"} {
			if v, ok := attrs[key]; ok {
				spec.hostPath = v
			}
		}
		for _, key := range []string{"dst", "destination", "target"} {
			if v, ok := attrs[key]; ok {
				spec.taskPath = v
			}
		}
		if _, ok := attrs["ro"]; ok {
			spec.readOnly = true
		}
		if _, ok := attrs["readonly"]; ok {
			spec.readOnly = true
		}

		if spec.hostPath == "" || spec.taskPath == "" {
			return nil, fmt.Errorf("mount %q needs both a source and a destination", decl)
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// taskResources maps the CPU and memory flags to TES resources, taking the
// strongest demand when flags overlap. Memory is expressed in GB.
func taskResources(o *runOptions) (*tes.Resources, error) {
	cpuCount := o.cpuCount
	if rounded := int(math.Round(o.cpus)); rounded > cpuCount {
		cpuCount = rounded
	}

	var ramGB float64
	for _, decl := range []string{o.memory, o.memorySwap} {
		if decl == "" {
			continue
		}
		bytes, err := units.RAMInBytes(decl)
		if err != nil {
			return nil, fmt.Errorf("parsing memory %q: %w", decl, err)
		}
		if gb := float64(bytes) / (1 << 30); gb > ramGB {
			ramGB = gb
		}
	}

	if cpuCount <= 0 && ramGB <= 0 {
		return nil, nil
	}
	return &tes.Resources{CPUCores: cpuCount, RAMGB: ramGB}, nil
}

func attachRequested(attach []string, stream string) bool {
	for _, a := range attach {
		if a == stream {
			return true
		}
	}
	return false
}

// pathType reports whether a host path maps to a file or directory input.
func pathType(hostPath string) tes.FileType {
	if info, err := os.Stat(hostPath); err == nil && info.IsDir() {
		return tes.TypeDirectory
	}
	return tes.TypeFile
}

// captureStdin copies piped stdin to a temporary file so it can be staged
// as a task input. Interactive terminals and device-backed stdins are not
// captured; the empty string means nothing to stage.
func captureStdin(ctx context.Context) (string, error) {
	log := clog.FromContext(ctx)

	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return "", nil
	}
	info, err := os.Stdin.Stat()
	if err != nil {
		return "", fmt.Errorf("inspecting stdin: %w", err)
	}
	if info.Mode()&os.ModeDevice != 0 {
		return "", nil
	}

	log.Debug("capturing stdin")
	tmp, err := os.CreateTemp("", "docker-tes-stdin-*")
	if err != nil {
		return "", fmt.Errorf("creating stdin capture: %w", err)
	}
	if _, err := io.Copy(tmp, os.Stdin); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("capturing stdin: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing stdin capture: %w", err)
	}
	return tmp.Name(), nil
}
