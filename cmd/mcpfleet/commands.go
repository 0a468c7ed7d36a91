package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	mcpgateway "github.com/vikashloomba/mcp-fleet-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpclient"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpmgr"
)

type serverRow struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Source    string `json:"source"`
}

func newServersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List discovered MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := a.discoverer()
			if _, err := d.DiscoverAll(cmd.Context(), a.baseURLs); err != nil {
				return err
			}
			rows := []serverRow{}
			for _, desc := range d.Servers() {
				found, _ := d.Server(desc.Name)
				rows = append(rows, serverRow{Name: desc.Name, Transport: string(desc.Kind()), Source: found.Source})
			}
			out := cmd.OutOrStdout()
			if a.json {
				return writeJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No MCP servers found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTRANSPORT\tSOURCE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Transport, r.Source)
			}
			return w.Flush()
		},
	}
}

func newToolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools [server...]",
		Short: "List tools across servers",
		Long: `List the tools of every named server, or of every discovered server when
none is named. Unreachable servers are reported and do not fail the command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFleet(cmd.Context(), func(m *mcpmgr.Manager) error {
				res, err := m.ListToolsAcross(cmd.Context(), args, &mcpmgr.FanoutOptions{Concurrency: a.concurrency})
				if err != nil {
					return err
				}
				return report(a, cmd.OutOrStdout(), res, func(w io.Writer, tools []*mcp.Tool) {
					for _, t := range tools {
						fmt.Fprintf(w, "  %s\t%s\n", t.Name, firstLine(t.Description))
					}
				})
			})
		},
	}
}

func newCallCmd(a *app) *cobra.Command {
	var rawArgs string
	cmd := &cobra.Command{
		Use:   "call <tool> [server...]",
		Short: "Call a tool on several servers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs any
			if rawArgs != "" {
				if !json.Valid([]byte(rawArgs)) {
					return fmt.Errorf("--args is not valid JSON: %q", rawArgs)
				}
				toolArgs = json.RawMessage(rawArgs)
			}
			return a.withFleet(cmd.Context(), func(m *mcpmgr.Manager) error {
				res, err := m.CallToolAcross(cmd.Context(), args[1:], args[0], toolArgs, &mcpmgr.FanoutOptions{Concurrency: a.concurrency})
				if err != nil {
					return err
				}
				return report(a, cmd.OutOrStdout(), res, func(w io.Writer, r *mcp.CallToolResult) {
					for _, c := range r.Content {
						if text, ok := c.(*mcp.TextContent); ok {
							fmt.Fprintf(w, "  %s\n", text.Text)
						}
					}
					if r.IsError {
						fmt.Fprintln(w, "  (tool reported an error)")
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", "Tool arguments as a JSON object")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health [server...]",
		Short: "Connect to servers and report their handshake",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFleet(cmd.Context(), func(m *mcpmgr.Manager) error {
				res := m.HealthCheck(cmd.Context(), args, a.concurrency)
				return report(a, cmd.OutOrStdout(), res, func(w io.Writer, info mcpclient.Info) {
					if info.ServerInfo != nil {
						fmt.Fprintf(w, "  %s %s\t%s\n", info.ServerInfo.Name, info.ServerInfo.Version, info.Transport)
					}
				})
			})
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var addr, path string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the fleet as one Streamable MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withFleet(cmd.Context(), func(m *mcpmgr.Manager) error {
				gw, err := mcpgateway.NewGateway(m, &mcpgateway.Options{
					Addr:        addr,
					Path:        path,
					Concurrency: a.concurrency,
					Logger:      a.log(),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Serving %d servers on %s%s\n", len(m.ServerNames()), addr, path)
				if err := gw.ListenAndServe(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8700", "Listen address")
	cmd.Flags().StringVar(&path, "path", "/mcp", "HTTP path of the MCP endpoint")
	return cmd
}

// report prints fan-out results per server, then the summary.
func report[T any](a *app, w io.Writer, res mcpmgr.Results[T], detail func(io.Writer, T)) error {
	if a.json {
		return writeJSON(w, struct {
			Results mcpmgr.Results[T] `json:"results"`
			Summary mcpmgr.Summary    `json:"summary"`
		}{res, res.Summary()})
	}
	names := make([]string, 0, len(res))
	for name := range res {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range names {
		r := res[name]
		if !r.OK {
			fmt.Fprintf(tw, "%s: FAILED %s\n", name, r.Error)
			continue
		}
		fmt.Fprintf(tw, "%s: ok\n", name)
		detail(tw, r.Data)
	}
	s := res.Summary()
	fmt.Fprintf(tw, "\n%d servers, %d succeeded, %d failed\n", s.Total, s.Successful, s.Failed)
	return tw.Flush()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
