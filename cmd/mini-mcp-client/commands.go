package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mitre-mcp/mini-mcp-client/internal/attack"
	"github.com/mitre-mcp/mini-mcp-client/internal/jsonrpc"
	"github.com/mitre-mcp/mini-mcp-client/internal/output"
)

// commonFlags are accepted by every ATT&CK query command.
type commonFlags struct {
	domain    string
	noRevoked bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.domain, "domain", string(attack.DefaultDomain),
		fmt.Sprintf("ATT&CK domain (%s)", strings.Join(attack.DomainNames(), ", ")))
	cmd.Flags().BoolVar(&f.noRevoked, "no-revoked", false, "exclude revoked/deprecated items")
}

func (f *commonFlags) common() (attack.Common, error) {
	d, err := attack.ParseDomain(f.domain)
	if err != nil {
		return attack.Common{}, err
	}
	return attack.Common{Domain: d, NoRevoked: f.noRevoked}, nil
}

// callTool sends one tools/call and prints the response envelope.
func (a *app) callTool(ctx context.Context, call attack.ToolCall) error {
	a.logger.Debug("calling tool", "tool", call.Name, "arguments", call.Arguments)
	resp, err := a.client.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		return err
	}
	return a.print(resp)
}

func (a *app) print(resp *jsonrpc.Response) error {
	return output.WriteResponse(a.stdout, resp, a.cfg.Pretty)
}

func (a *app) techniquesCmd() *cobra.Command {
	var (
		flags commonFlags
		q     attack.TechniquesQuery
	)
	cmd := &cobra.Command{
		Use:   "techniques",
		Short: "Get techniques (all or by tactic)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.common()
			if err != nil {
				return err
			}
			q.Common = c
			call, err := attack.Techniques(q)
			if err != nil {
				return err
			}
			return a.callTool(cmd.Context(), call)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&q.Tactic, "tactic", "", "filter by tactic shortname (e.g. initial-access, persistence)")
	cmd.Flags().BoolVar(&q.Subtechniques, "subtechniques", false, "include sub-techniques")
	cmd.Flags().BoolVar(&q.Descriptions, "descriptions", false, "include descriptions")
	cmd.Flags().IntVar(&q.Limit, "limit", attack.DefaultLimit, "limit results")
	cmd.Flags().IntVar(&q.Offset, "offset", attack.DefaultOffset, "offset for pagination")
	return cmd
}

func (a *app) techniqueCmd() *cobra.Command {
	var (
		flags commonFlags
		id    string
	)
	cmd := &cobra.Command{
		Use:   "technique",
		Short: "Get details for a specific technique",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.common()
			if err != nil {
				return err
			}
			call, err := attack.Technique(c, id)
			if err != nil {
				return err
			}
			return a.callTool(cmd.Context(), call)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "technique ID (e.g. T1059.001)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func (a *app) tacticsCmd() *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "tactics",
		Short: "Get all tactics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.common()
			if err != nil {
				return err
			}
			return a.callTool(cmd.Context(), attack.Tactics(c))
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) groupsCmd() *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Get all threat groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.common()
			if err != nil {
				return err
			}
			return a.callTool(cmd.Context(), attack.Groups(c))
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) groupCmd() *cobra.Command {
	var (
		flags commonFlags
		name  string
	)
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Get techniques used by a threat group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.common()
			if err != nil {
				return err
			}
			call, err := attack.Group(c, name)
			if err != nil {
				return err
			}
			return a.callTool(cmd.Context(), call)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "group name (e.g. APT29, Lazarus Group)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) softwareCmd() *cobra.Command {
	var (
		flags          commonFlags
		malware, tools bool
	)
	cmd := &cobra.Command{
		Use:   "software",
		Short: "Get software (malware/tools)",
		Long:  "Get software. Without --malware or --tools both kinds are listed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.common()
			if err != nil {
				return err
			}
			return a.callTool(cmd.Context(), attack.Software(c, malware, tools))
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&malware, "malware", false, "include malware")
	cmd.Flags().BoolVar(&tools, "tools", false, "include tools")
	return cmd
}

func (a *app) mitigationsCmd() *cobra.Command {
	var (
		flags commonFlags
		name  string
	)
	cmd := &cobra.Command{
		Use:   "mitigations",
		Short: "Get mitigations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.common()
			if err != nil {
				return err
			}
			return a.callTool(cmd.Context(), attack.Mitigations(c, name))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "get techniques mitigated by this mitigation (e.g. 'Multi-factor Authentication')")
	return cmd
}

func (a *app) callCmd() *cobra.Command {
	var pairs []string
	cmd := &cobra.Command{
		Use:   "call TOOL",
		Short: "Call any tool with raw key=value arguments",
		Example: `  mini-mcp-client call get_tactics --arg domain=ics-attack
  mini-mcp-client call get_techniques --arg limit=5 --arg include_descriptions=true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := attack.ParseArguments(pairs)
			if err != nil {
				return err
			}
			return a.callTool(cmd.Context(), attack.ToolCall{Name: args[0], Arguments: arguments})
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "arg", nil, "tool argument as key=value; JSON values keep their type (repeatable)")
	return cmd
}

func (a *app) toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the server offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := a.client.ListTools(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(resp)
		},
	}
}

func (a *app) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check that the server answers HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Probe(cmd.Context()); err != nil {
				return err
			}
			output.NewReporter(a.stdout).Success("mitre-mcp server reachable at " + a.cfg.BaseURL())
			return nil
		},
	}
}
