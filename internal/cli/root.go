// Package cli implements the docker-compatible command line of the proxy.
// A small set of subcommands is translated to GA4GH TES calls; everything
// else is delegated to a real local docker binary.
package cli

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/chainguard-dev/clog"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/inab/docker-tes-proxy/internal/config"
	"github.com/inab/docker-tes-proxy/internal/docker"
	"github.com/inab/docker-tes-proxy/internal/ftpd"
	"github.com/inab/docker-tes-proxy/internal/tes"
)

// Exit codes the proxy produces itself, mirroring the docker CLI: 125 for
// client-side usage errors, 126 when the backend interaction fails or the
// result cannot be interpreted.
const (
	ExitUsage   = 125
	ExitBackend = 126
)

// App carries the global flag state of one invocation.
type App struct {
	configPath string
	debug      bool
	logLevel   string
	hosts      []string
	context    string
	version    bool

	useTLS    bool
	tlsVerify bool
	tlsCACert string
	tlsCert   string
	tlsKey    string

	cfg *config.Config

	// Subcommands deposit their exit code here; cobra errors only signal
	// usage problems.
	exitCode int
}

// translated lists the subcommands the proxy handles itself. Anything else
// goes to the local docker binary untouched.
var translated = map[string]bool{
	"run":              true,
	"ps":               true,
	"pull":             true,
	"inspect":          true,
	"stats":            true,
	"stop":             true,
	"rm":               true,
	ftpd.WorkerCommand: true,
}

// Execute parses args (the process arguments without the program name),
// routes to a translated subcommand or the local docker binary, and returns
// the process exit code.
func Execute(ctx context.Context, args []string) int {
	a := &App{logLevel: "info"}

	rest, err := a.parseGlobals(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "docker: %v\n", err)
		return ExitUsage
	}

	ctx = a.setupLogging(ctx)
	log := clog.FromContext(ctx)

	cfg, err := config.Load(a.configPath)
	if err != nil {
		log.Error("could not load configuration", "error", err)
		return ExitUsage
	}
	a.cfg = cfg
	if len(a.hosts) > 0 {
		// Last -H wins, as in the docker CLI.
		a.cfg.Endpoint = a.hosts[len(a.hosts)-1]
	}
	if a.context != "" {
		log.Debug("--context cannot be honoured, there is no daemon context to select")
	}

	local := docker.New(a.cfg.Docker)
	if a.version {
		return local.Run(ctx, "-v")
	}
	if len(rest) == 0 {
		return local.Run(ctx)
	}
	if !translated[rest[0]] {
		return local.Run(ctx, rest...)
	}

	root := a.newRootCmd()
	root.SetArgs(rest)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "docker: %v\n", err)
		return ExitUsage
	}
	return a.exitCode
}

func (a *App) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "docker",
		Short:         "Docker GA4GH TES shim",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		a.newRunCmd(),
		a.newPsCmd(),
		a.newPullCmd(),
		a.newInspectCmd(),
		a.newStatsCmd(),
		a.newStopCmd(),
		a.newRmCmd(),
		a.newVolumeServerCmd(),
	)
	return root
}

// parseGlobals consumes the docker global flags that precede the
// subcommand and returns the remaining arguments.
func (a *App) parseGlobals(args []string) ([]string, error) {
	i := 0
	for i < len(args) {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			break
		}

		name, value := arg, ""
		hasValue := false
		if eq := strings.Index(arg, "="); eq != -1 {
			name, value = arg[:eq], arg[eq+1:]
			hasValue = true
		}

		// takeValue consumes the flag argument, inline or following.
		takeValue := func() (string, error) {
			if hasValue {
				return value, nil
			}
			if i+1 >= len(args) {
				return "", fmt.Errorf("flag needs an argument: %s", name)
			}
			i++
			return args[i], nil
		}

		switch name {
		case "--config":
			v, err := takeValue()
			if err != nil {
				return nil, err
			}
			a.configPath = v
		case "-c", "--context":
			v, err := takeValue()
			if err != nil {
				return nil, err
			}
			a.context = v
		case "-D", "--debug":
			a.debug = true
		case "-H", "--host":
			v, err := takeValue()
			if err != nil {
				return nil, err
			}
			a.hosts = append(a.hosts, v)
		case "-l", "--log-level":
			v, err := takeValue()
			if err != nil {
				return nil, err
			}
			a.logLevel = v
		case "--tls":
			a.useTLS = true
		case "--tlsverify":
			a.useTLS = true
			a.tlsVerify = true
		case "--tlscacert":
			v, err := takeValue()
			if err != nil {
				return nil, err
			}
			a.tlsCACert = v
		case "--tlscert":
			v, err := takeValue()
			if err != nil {
				return nil, err
			}
			a.tlsCert = v
		case "--tlskey":
			v, err := takeValue()
			if err != nil {
				return nil, err
			}
			a.tlsKey = v
		case "-v", "--version":
			a.version = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", name)
		}
		i++
	}
	return args[i:], nil
}

func (a *App) setupLogging(ctx context.Context) context.Context {
	level, err := charmlog.ParseLevel(a.logLevel)
	if err != nil {
		level = charmlog.InfoLevel
	}
	if a.debug {
		level = charmlog.DebugLevel
	}
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
	})
	ctx = clog.WithLogger(ctx, clog.New(l))
	slog.SetDefault(slog.New(l))
	return ctx
}

// tesClient builds the TES client for the configured endpoint, honouring
// the --tls* flags.
func (a *App) tesClient() (*tes.Client, error) {
	var opts []tes.Option
	if a.useTLS {
		tlsCfg, err := a.buildTLSConfig()
		if err != nil {
			return nil, err
		}
		opts = append(opts, tes.WithTLSConfig(tlsCfg))
	}
	return tes.NewClient(a.cfg.Endpoint, opts...)
}

func (a *App) buildTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: !a.tlsVerify}

	if a.tlsCACert != "" {
		pem, err := os.ReadFile(a.tlsCACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", a.tlsCACert)
		}
		cfg.RootCAs = pool
	}
	if a.tlsCert != "" && a.tlsKey != "" {
		cert, err := tls.LoadX509KeyPair(a.tlsCert, a.tlsKey)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
