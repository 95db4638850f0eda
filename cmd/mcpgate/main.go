package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/smart-mcp-proxy/mcpgate/internal/cli/output"
	"github.com/smart-mcp-proxy/mcpgate/internal/config"
)

var version = "v0.1.0" // This will be injected by -ldflags during build

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	v *viper.Viper

	outputFormat string
	jsonOutput   bool
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	opts := &rootOptions{v: viper.New()}
	rootCmd := newRootCommand(opts)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	if err == nil {
		return ExitCodeSuccess
	}

	serr := structuredError(err)
	formatter, ferr := opts.formatter()
	if ferr != nil {
		formatter = &output.TableFormatter{}
	}
	msg, ferr := formatter.FormatError(serr)
	if ferr != nil {
		msg = fmt.Sprintf("Error: %v\n", err)
	}
	fmt.Fprint(stderr, msg)
	return exitCode(err)
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcpgate",
		Short: "Lazy connection manager and meta-tool for MCP tool servers",
		Long: `mcpgate connects to configured MCP tool servers on demand and exposes them
to an agent through a single meta-tool, mcp_tools.

Run "mcpgate serve" from an MCP client configuration to start the stdio server.
The other commands operate on the same servers file directly.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Servers file path (default: <data-dir>/servers.json)")
	flags.StringP("data-dir", "d", "", "Data directory path (default: ~/.mcpgate)")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.Bool("log-to-file", false, "Enable logging to file in standard OS location")
	flags.String("log-dir", "", "Custom log directory path (overrides standard OS location)")
	flags.StringVarP(&opts.outputFormat, "output", "o", "", "Output format: table, json, yaml (env: "+output.EnvOutputFormat+")")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Shorthand for --output=json")

	config.SetupViper(opts.v)
	bindFlag(opts.v, "config", flags.Lookup("config"))
	bindFlag(opts.v, "data-dir", flags.Lookup("data-dir"))
	bindFlag(opts.v, "logging.level", flags.Lookup("log-level"))
	bindFlag(opts.v, "logging.enable-file", flags.Lookup("log-to-file"))
	bindFlag(opts.v, "logging.log-dir", flags.Lookup("log-dir"))

	rootCmd.AddCommand(
		newServeCommand(opts),
		newStatusCommand(opts),
		newSearchCommand(opts),
		newListCommand(opts),
		newDescribeCommand(opts),
		newCallCommand(opts),
		newAuthCommand(opts),
		newActivityCommand(opts),
	)
	return rootCmd
}

func (o *rootOptions) format() string {
	return output.ResolveFormat(o.outputFormat, o.jsonOutput)
}

func (o *rootOptions) formatter() (output.Formatter, error) {
	return output.NewFormatter(o.format())
}

// print renders data with the selected formatter on the command's stdout.
func (o *rootOptions) print(cmd *cobra.Command, data any) error {
	formatter, err := o.formatter()
	if err != nil {
		return usageError{err}
	}
	out, err := formatter.Format(data)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", key, err))
	}
}

// bindLocalFlags binds command flags to settings keys when the command runs,
// so different commands can bind their own flag to the same key.
func bindLocalFlags(root *rootOptions, cmd *cobra.Command, keys map[string]string) {
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		for name, key := range keys {
			if err := root.v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return err
			}
		}
		return nil
	}
}
