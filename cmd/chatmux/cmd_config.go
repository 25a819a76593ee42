package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"chatmux/pkg/config"
)

// newConfigCmd creates the "chatmux config" command group.
func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or migrate the config file",
	}
	cmd.AddCommand(newConfigValidateCmd(opts), newConfigMigrateCmd(opts))
	return cmd
}

func newConfigValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := opts.paths()
			if err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), paths.ConfigPath)
		},
	}
}

// runValidate prints warnings and a summary, and fails on any error.
func runValidate(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	for _, warning := range cfg.DuplicateChannels() {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(w, "error: %v\n", e)
		}
		return fmt.Errorf("%s: %d problem(s) found", path, len(errs))
	}

	projects := 0
	for _, s := range cfg.Servers {
		projects += len(s.Projects)
	}
	fmt.Fprintf(w, "%s is valid: %d server(s), %d project(s)\n", path, len(cfg.Servers), projects)
	return nil
}

func newConfigMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Convert a schemaVersion 1 config to schemaVersion 2",
		Long:  "Rewrites a single-server (schemaVersion 1) config as a multi-server\n(schemaVersion 2) config. The original is kept next to it with a .bak suffix.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := opts.paths()
			if err != nil {
				return err
			}
			return runMigrate(cmd.OutOrStdout(), paths.ConfigPath)
		},
	}
}

// runMigrate backs up and rewrites a v1 config. A v2 config is left as is.
func runMigrate(w io.Writer, path string) error {
	if _, err := config.Load(path); err == nil {
		fmt.Fprintf(w, "%s is already schemaVersion %d\n", path, config.SchemaVersion)
		return nil
	} else if !errors.Is(err, config.ErrLegacySchema) {
		return err
	}

	cfg, err := config.Migrate(path)
	if err != nil {
		return err
	}
	backup := path + ".bak"
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		return fmt.Errorf("write backup %s: %w", backup, err)
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(w, "migrated %s to schemaVersion %d (backup: %s)\n", path, config.SchemaVersion, backup)
	return nil
}
