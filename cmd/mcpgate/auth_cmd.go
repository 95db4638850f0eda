package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
	"github.com/smart-mcp-proxy/mcpgate/internal/upstream"
)

func newAuthCommand(root *rootOptions) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication management commands",
		Long:  "Commands for managing OAuth authorization with HTTP tool servers",
	}
	authCmd.AddCommand(
		newAuthLoginCommand(root),
		newAuthLogoutCommand(root),
		newAuthStatusCommand(root),
	)
	return authCmd
}

func newAuthLoginCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <server>",
		Short: "Authorize with an OAuth-protected server",
		Long: `Run the OAuth authorization code flow for an HTTP server. The default
browser is opened on the authorization page and the redirect is received on a
loopback listener. The tokens are stored under <data-dir>/oauth and refreshed
automatically afterwards.`,
		Example: `  mcpgate auth login github
  mcpgate auth login sentry --callback-port 8765 --timeout 5m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			name := args[0]
			fmt.Fprintf(cmd.ErrOrStderr(), "Authorizing %s, complete the flow in your browser (timeout %v)\n",
				name, a.settings.CallbackTimeout)
			if err := a.manager.Authenticate(commandContext(cmd), name); err != nil {
				return err
			}
			st, err := a.manager.ServerStatus(name)
			if err != nil {
				return err
			}
			return root.print(cmd, statusTable([]upstream.ServerStatus{st}))
		},
	}
	flags := cmd.Flags()
	flags.Int("callback-port", config.DefaultCallbackPort, "Loopback port for the OAuth redirect (0 picks a free port)")
	flags.Duration("timeout", config.DefaultCallbackTimeout, "How long to wait for the browser redirect")
	bindLocalFlags(root, cmd, map[string]string{
		"callback-port": "oauth-callback-port",
		"timeout":       "oauth-callback-timeout",
	})
	return cmd
}

func newAuthLogoutCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "logout <server>",
		Short:   "Forget stored OAuth tokens for a server",
		Example: `  mcpgate auth logout github`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.manager.SignOut(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Signed out of %s\n", args[0])
			return nil
		},
	}
}

func newAuthStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored OAuth state for HTTP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, root, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			var httpServers []upstream.ServerStatus
			for _, st := range a.manager.Status() {
				if st.Transport == config.TransportHTTP {
					httpServers = append(httpServers, st)
				}
			}
			return root.print(cmd, statusTable(httpServers))
		},
	}
}
