package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mitre-mcp/mini-mcp-client/internal/buildinfo"
	"github.com/mitre-mcp/mini-mcp-client/internal/config"
	"github.com/mitre-mcp/mini-mcp-client/internal/mcp"
	"github.com/mitre-mcp/mini-mcp-client/internal/output"
)

const examples = `  # Get all tactics
  mini-mcp-client tactics

  # Get techniques for the initial-access tactic
  mini-mcp-client techniques --tactic initial-access

  # Get details for a specific technique
  mini-mcp-client technique --id T1059.001

  # Get techniques used by APT29
  mini-mcp-client group --name APT29

  # Get malware only
  mini-mcp-client software --malware

  # Get techniques mitigated by a specific mitigation
  mini-mcp-client mitigations --name "Multi-factor Authentication"

Make sure the mitre-mcp server is running:
  mitre-mcp --http --port 8000`

// errNoCommand signals that help was printed instead of running anything.
var errNoCommand = errors.New("no command given")

// app carries state shared by every subcommand of one invocation.
type app struct {
	stdout  io.Writer
	stderr  io.Writer
	v       *viper.Viper
	cfgFile string

	cfg    *config.Config
	logger *slog.Logger
	client *mcp.Client
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		v:      config.New(),
		logger: slog.New(slog.DiscardHandler),
	}
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errNoCommand) {
			return 1
		}
		// carries run=<id>, tying the failure to the debug lines above it
		a.logger.Debug("command failed", "kind", output.Kind(err), "error", err)
		output.NewReporter(stderr).Failure(err, a.hint())
		return 1
	}
	return 0
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mini-mcp-client",
		Short:         "Mini MCP Client - query a mitre-mcp server for MITRE ATT&CK data",
		Example:       examples,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return errNoCommand
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.Root())
		},
	}

	pf := root.PersistentFlags()
	pf.String("host", config.DefaultHost, "mitre-mcp server host")
	pf.Int("port", config.DefaultPort, "mitre-mcp server port")
	pf.String("mount", config.DefaultMount, "path the MCP endpoint is mounted at")
	pf.Bool("no-pretty", false, "disable pretty printing")
	pf.Bool("debug", false, "log payloads, headers and response bodies to stderr")
	pf.String("log-level", config.DefaultLogLevel, "log level (trace, debug, info, warn, error)")
	pf.Duration("request-timeout", config.DefaultRequestTimeout, "timeout for each request")
	pf.Duration("probe-timeout", config.DefaultProbeTimeout, "timeout for the probe command")
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml, toml or json)")

	root.AddCommand(
		a.techniquesCmd(),
		a.techniqueCmd(),
		a.tacticsCmd(),
		a.groupsCmd(),
		a.groupCmd(),
		a.softwareCmd(),
		a.mitigationsCmd(),
		a.callCmd(),
		a.toolsCmd(),
		a.probeCmd(),
	)
	return root
}

// load resolves configuration and builds the client. No request is sent.
func (a *app) load(root *cobra.Command) error {
	if err := config.BindFlags(a.v, root.PersistentFlags()); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger(a.stderr)

	a.client, err = mcp.NewClient(mcp.Config{
		Endpoint:       cfg.URL(),
		RequestTimeout: cfg.RequestTimeout,
		ProbeTimeout:   cfg.ProbeTimeout,
		Logger:         a.logger,
	})
	return err
}

func (a *app) hint() string {
	if a.cfg == nil {
		return ""
	}
	return a.cfg.ServerHint()
}

func (a *app) close() {
	if a.client != nil {
		_ = a.client.Close()
	}
}
