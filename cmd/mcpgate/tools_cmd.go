package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/mcpgate/internal/cli/output"
	"github.com/smart-mcp-proxy/mcpgate/internal/upstream"
)

const descriptionWidth = 60

func newStatusCommand(root *rootOptions) *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "status [server]",
		Short: "Show configured servers and their connection state",
		Long: `Show every configured server, or one server, with its transport, connection
state, cached tool count and OAuth status.

A fresh process holds no connections. Use --connect to connect every enabled
server and list its tools first.`,
		Example: `  mcpgate status
  mcpgate status github --connect
  mcpgate status -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			ctx := commandContext(cmd)
			if len(args) == 1 {
				if connect {
					// A failed connect is reported through the status itself.
					_, _ = a.manager.ListTools(ctx, args[0])
				}
				st, err := a.manager.ServerStatus(args[0])
				if err != nil {
					return err
				}
				return root.print(cmd, statusTable([]upstream.ServerStatus{st}))
			}
			if connect {
				a.manager.ListAllTools(ctx)
			}
			return root.print(cmd, statusTable(a.manager.Status()))
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "Connect to the servers and list their tools first")
	return cmd
}

func newSearchCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search tools across every enabled server",
		Long: `Connect to every enabled server, list its tools and rank them against the
query. Names matching whole or in part score highest, then description words.`,
		Example: `  mcpgate search "create issue"
  mcpgate search read_file --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return usagef("query must not be empty")
			}
			a, err := newApp(cmd, root, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			a.manager.ListAllTools(commandContext(cmd))
			return root.print(cmd, searchTable(a.manager.SearchTools(query)))
		},
	}
}

func newListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list <server>",
		Short:   "List the tools of one server",
		Example: `  mcpgate list github`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			tools, err := a.manager.ListTools(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return root.print(cmd, toolsTable(tools))
		},
	}
}

func newDescribeCommand(root *rootOptions) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "describe <tool>",
		Short: "Show a tool's description and input schema",
		Example: `  mcpgate describe read_file
  mcpgate describe create_issue --server github`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			info, err := findTool(commandContext(cmd), a.manager, server, args[0])
			if err != nil {
				return err
			}
			return root.print(cmd, info)
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "Only look at this server")
	return cmd
}

func newCallCommand(root *rootOptions) *cobra.Command {
	var (
		server  string
		rawArgs string
		timeout time.Duration
		callID  string
	)
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool and print its result",
		Long: `Call a tool by name. Without --server the first enabled server that has a
tool with that name is used. Arguments are a JSON object.`,
		Example: `  mcpgate call read_file --args '{"path":"README.md"}'
  mcpgate call create_issue -s github --args '{"title":"Bug"}' -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(rawArgs)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, root, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			ctx := commandContext(cmd)
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			if callID == "" {
				callID = uuid.NewString()
			}
			ctx = upstream.WithCallID(ctx, callID)

			info, err := findTool(ctx, a.manager, server, args[0])
			if err != nil {
				return err
			}
			res, err := a.manager.CallTool(ctx, info.Server, info.Name, toolArgs)
			if err != nil {
				return err
			}
			var data any = res
			if strings.EqualFold(root.format(), "table") {
				data = callOutput{res}
			}
			if err := root.print(cmd, data); err != nil {
				return err
			}
			if res.IsError {
				return output.NewStructuredError(output.ErrCodeOperationFailed,
					fmt.Sprintf("tool %q on server %q reported an error", info.Name, info.Server))
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&server, "server", "s", "", "Server that owns the tool")
	flags.StringVarP(&rawArgs, "args", "a", "", "Tool arguments as a JSON object")
	flags.DurationVar(&timeout, "timeout", 0, "Overall deadline, including connecting (default: none)")
	flags.StringVar(&callID, "call-id", "", "Correlation ID recorded in the activity log (default: random)")
	return cmd
}

// findTool resolves a tool by name, refreshing catalogs when it is not cached.
func findTool(ctx context.Context, m *upstream.Manager, server, tool string) (upstream.ToolInfo, error) {
	if server != "" {
		if _, err := m.ListTools(ctx, server); err != nil {
			return upstream.ToolInfo{}, err
		}
	} else {
		m.ListAllTools(ctx)
	}
	info, ok := m.FindCachedTool(server, tool)
	if !ok {
		return upstream.ToolInfo{}, &upstream.NotFoundError{Server: server, Tool: tool}
	}
	return info, nil
}

func parseToolArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, usagef("--args must be a JSON object: %v", err)
	}
	return args, nil
}

func statusTable(statuses []upstream.ServerStatus) output.Table {
	t := output.Table{Columns: []string{"NAME", "TRANSPORT", "ENABLED", "STATUS", "TOOLS", "AUTH", "ERROR"}}
	for _, st := range statuses {
		t.Data = append(t.Data, []string{
			st.Name,
			string(st.Transport),
			strconv.FormatBool(st.Enabled),
			st.Status.String(),
			strconv.Itoa(st.ToolCount),
			string(st.AuthStatus),
			st.Error,
		})
	}
	return t
}

func searchTable(results []upstream.SearchResult) output.Table {
	t := output.Table{Columns: []string{"NAME", "SERVER", "SCORE", "DESCRIPTION"}}
	for _, r := range results {
		t.Data = append(t.Data, []string{
			r.Tool.Name,
			r.Tool.Server,
			strconv.Itoa(r.Score),
			truncate(r.Tool.Description, descriptionWidth),
		})
	}
	return t
}

func toolsTable(tools []upstream.ToolInfo) output.Table {
	t := output.Table{Columns: []string{"NAME", "DESCRIPTION"}}
	for _, tool := range tools {
		t.Data = append(t.Data, []string{tool.Name, truncate(tool.Description, descriptionWidth)})
	}
	return t
}

// callOutput renders a result as one row per content part.
type callOutput struct {
	*upstream.CallResult
}

func (c callOutput) Headers() []string { return []string{"TYPE", "CONTENT"} }

func (c callOutput) Rows() [][]string {
	rows := make([][]string, 0, len(c.Content))
	for _, part := range c.Content {
		switch part.Type {
		case upstream.ContentImage:
			rows = append(rows, []string{part.Type, fmt.Sprintf("%s, %d base64 bytes", part.MimeType, len(part.Data))})
		default:
			rows = append(rows, []string{part.Type, part.Text})
		}
	}
	return rows
}

// truncate shortens s to at most n runes on one line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
