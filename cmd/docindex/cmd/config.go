package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/docindex/configs"
	"github.com/Aman-CERP/docindex/internal/config"
	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the user and project configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/docindex/config.yaml)
  3. Project config (.docindex.yaml)
  4. Environment variables (DOCINDEX_*)`,
		Example: `  # Create the user config from the template
  docindex config init

  # Create .docindex.yaml with example indexes
  docindex config init --project

  # Show the effective configuration
  docindex config show`,
	}

	cmd.AddCommand(newConfigInitCmd(g))
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var force, project bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from a template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if project {
				return runProjectConfigInit(cmd, g.dir, force)
			}
			return runUserConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	cmd.Flags().BoolVar(&project, "project", false, "Create "+config.ProjectConfigName+" in the project directory")

	return cmd
}

func runUserConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	path, backup, err := config.WriteUserConfig([]byte(configs.UserConfigTemplate), force)
	if err != nil {
		if ierrors.GetCode(err) == ierrors.ErrCodeConfigInvalid {
			out.Warning("User configuration already exists")
			out.Statusf("📁", "Location: %s", config.GetUserConfigPath())
			out.Status("💡", "Use --force to replace it (a backup is kept)")
			return nil
		}
		return err
	}

	out.Success("Created user configuration")
	out.Statusf("📁", "Location: %s", path)
	if backup != "" {
		out.Statusf("💾", "Backup: %s", backup)
	}
	return nil
}

func runProjectConfigInit(cmd *cobra.Command, dir string, force bool) error {
	out := output.New(cmd.OutOrStdout())
	path := filepath.Join(dir, config.ProjectConfigName)

	if _, err := os.Stat(path); err == nil && !force {
		out.Warning("Project configuration already exists")
		out.Statusf("📁", "Location: %s", path)
		out.Status("💡", "Use --force to overwrite it")
		return nil
	}
	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write project config: %w", err)
	}

	out.Success("Created project configuration")
	out.Statusf("📁", "Location: %s", path)
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Declare your indexes under 'indexes:'")
	out.Status("", "  2. Run 'docindex load --generate 1000' to try them")
	return nil
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging all sources, or one source alone
with --source user|project|defaults.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, g.dir, source, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")

	return cmd
}

func runConfigShow(cmd *cobra.Command, dir, source string, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	var cfg *config.Config
	var desc string
	switch source {
	case "merged":
		loaded, err := config.Load(dir)
		if err != nil {
			return err
		}
		cfg, desc = loaded, "merged (defaults + user + project + env)"

	case "user":
		path := config.GetUserConfigPath()
		loaded, err := config.LoadUserConfig()
		if err != nil {
			return err
		}
		if loaded == nil {
			out.Warning("No user configuration file found")
			out.Statusf("📁", "Expected at: %s", path)
			out.Status("💡", "Run 'docindex config init' to create one")
			return nil
		}
		cfg, desc = loaded, "user ("+path+")"

	case "project":
		path := filepath.Join(dir, config.ProjectConfigName)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			out.Warning("No project configuration file found")
			out.Statusf("📁", "Expected at: %s", path)
			out.Status("💡", "Run 'docindex config init --project' to create one")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read project config: %w", err)
		}
		cfg = &config.Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return ierrors.ConfigError("failed to parse project config", err).WithDetail("path", path)
		}
		desc = "project (" + path + ")"

	case "defaults":
		cfg, desc = config.NewConfig(), "defaults (hardcoded)"

	default:
		return ierrors.ValidationError(fmt.Sprintf("unknown source %q", source), nil).
			WithSuggestion("Use one of: merged, user, project, defaults")
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	out.Statusf("📋", "Configuration source: %s", desc)
	out.Code(string(data))
	return nil
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
