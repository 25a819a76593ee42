package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatmux/internal/appversion"
	"chatmux/pkg/config"
)

// rootOptions are the persistent flags shared by all subcommands.
type rootOptions struct {
	configPath string
	logLevel   string
}

// paths resolves state paths, letting --config win over the environment.
func (o *rootOptions) paths() (*Paths, error) {
	p, err := ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	if o.configPath != "" {
		p.ConfigPath = o.configPath
	}
	return p, nil
}

// load resolves paths and loads the config file.
func (o *rootOptions) load() (*Paths, *config.Config, error) {
	p, err := o.paths()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return p, nil, err
	}
	return p, cfg, nil
}

// newRootCmd creates the root chatmux command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "chatmux",
		Short:         "Route chat threads to agent sessions in tmux",
		Long:          "chatmux bridges chat channels and threads to coding-agent sessions running\nin tmux windows and panes, and keeps those sessions in step across restarts.",
		Version:       fmt.Sprintf("chatmux %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $CHATMUX_CONFIG or $CHATMUX_HOME/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (default $CHATMUX_LOG_LEVEL or info)")

	cmd.AddCommand(
		newStartCmd(opts),
		newStopCmd(opts),
		newStatusCmd(opts),
		newSetupCmd(opts),
		newSessionsCmd(opts),
		newLogsCmd(opts),
		newDashCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

// newVersionCmd creates the "chatmux version" subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the chatmux version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "chatmux %s\n", appversion.String())
			return nil
		},
	}
}
