package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/mcpgate/internal/cli/output"
	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
)

const activityTimeFormat = "2006-01-02 15:04:05"

type activityOptions struct {
	server string
	tool   string
	status string
	kind   string
	since  time.Duration
	limit  int
	offset int
}

func newActivityCommand(root *rootOptions) *cobra.Command {
	var opts activityOptions
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recorded tool calls and OAuth flows",
		Long: `List activity records newest first. Tool calls made through the meta-tool
and through the CLI are both recorded, along with OAuth logins and logouts.

The activity database is held open by a running "mcpgate serve"; stop it to
read the log from another process.`,
		Example: `  mcpgate activity
  mcpgate activity --server github --status error --since 1h
  mcpgate activity --type auth -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := opts.filter(time.Now())
			if err != nil {
				return err
			}
			a, err := newApp(cmd, root, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			if a.activity == nil {
				return storage.ErrStoreBusy
			}
			records, total, err := a.activity.ListActivities(filter)
			if err != nil {
				return fmt.Errorf("failed to list activity: %w", err)
			}
			if err := root.print(cmd, activityTable(records)); err != nil {
				return err
			}
			if shown := filter.Offset + len(records); shown < total {
				fmt.Fprintf(cmd.ErrOrStderr(), "Showing %d of %d records, use --offset %d for more\n",
					len(records), total, shown)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.server, "server", "s", "", "Only records for this server")
	flags.StringVar(&opts.tool, "tool", "", "Only records for this tool")
	flags.StringVar(&opts.status, "status", "", "Only records with this status: success, error")
	flags.StringVar(&opts.kind, "type", "", "Only records of this type: tool_call, auth")
	flags.DurationVar(&opts.since, "since", 0, "Only records newer than this (e.g. 30m, 24h)")
	flags.IntVarP(&opts.limit, "limit", "n", 50, "Maximum records to show (max 100)")
	flags.IntVar(&opts.offset, "offset", 0, "Records to skip")
	return cmd
}

func (o activityOptions) filter(now time.Time) (storage.ActivityFilter, error) {
	f := storage.DefaultActivityFilter()
	f.Server = o.server
	f.Tool = o.tool
	f.Limit = o.limit
	f.Offset = o.offset

	switch o.status {
	case "", storage.StatusSuccess, storage.StatusError:
		f.Status = o.status
	default:
		return f, usagef("invalid --status %q (valid: %s, %s)", o.status, storage.StatusSuccess, storage.StatusError)
	}
	switch storage.ActivityType(o.kind) {
	case "", storage.ActivityTypeToolCall, storage.ActivityTypeAuth:
		f.Type = o.kind
	default:
		return f, usagef("invalid --type %q (valid: %s, %s)", o.kind, storage.ActivityTypeToolCall, storage.ActivityTypeAuth)
	}
	if o.since < 0 {
		return f, usagef("--since must be positive")
	}
	if o.since > 0 {
		f.StartTime = now.Add(-o.since)
	}
	f.Validate()
	return f, nil
}

func activityTable(records []*storage.ActivityRecord) output.Table {
	t := output.Table{Columns: []string{"TIME", "TYPE", "SOURCE", "SERVER", "TOOL", "STATUS", "DURATION", "ERROR"}}
	for _, r := range records {
		tool := r.ToolName
		if r.Type == storage.ActivityTypeAuth {
			if action, ok := r.Arguments["action"].(string); ok {
				tool = action
			}
		}
		t.Data = append(t.Data, []string{
			r.Timestamp.Local().Format(activityTimeFormat),
			string(r.Type),
			string(r.Source),
			r.ServerName,
			tool,
			r.Status,
			(time.Duration(r.DurationMs) * time.Millisecond).String(),
			truncate(strings.TrimSpace(r.ErrorMessage), descriptionWidth),
		})
	}
	return t
}
