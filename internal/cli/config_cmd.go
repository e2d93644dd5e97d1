package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/customermindiq/affchat/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit ~/.affchat/config.yaml",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print a value, e.g. affiliate.id or desk.auth",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var val any
				err := withRawConfig(args[0], false, func(raw map[string]any, key []string) error {
					v, ok := config.GetValueAtPath(raw, key)
					if !ok {
						return fmt.Errorf("key %q not found", args[0])
					}
					val = v
					return nil
				})
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), val)
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Store a value; true/false and numbers are typed",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				value := parseValue(args[1])
				err := withRawConfig(args[0], true, func(raw map[string]any, key []string) error {
					config.SetValueAtPath(raw, key, value)
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", args[0], value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "unset <key>",
			Short: "Remove a value so the default applies again",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				err := withRawConfig(args[0], true, func(raw map[string]any, key []string) error {
					if !config.UnsetValueAtPath(raw, key) {
						return fmt.Errorf("key %q not found", args[0])
					}
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s removed\n", args[0])
				return nil
			},
		},
		newConfigValidateCmd(),
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
			},
		},
	)
	return cmd
}

// withRawConfig loads the config file as an untyped document, runs fn on the
// parsed key, and writes the document back when save is set and fn succeeds.
func withRawConfig(key string, save bool, fn func(raw map[string]any, key []string) error) error {
	segs, err := config.ParseConfigPath(key)
	if err != nil {
		return err
	}
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return err
	}
	if err := fn(raw, segs); err != nil {
		return err
	}
	if !save {
		return nil
	}
	return config.SaveRaw(paths.Config, raw)
}

func newConfigValidateCmd() *cobra.Command {
	var client bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Report problems in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireConfig()
			if err != nil {
				return err
			}
			issues := config.Validate(&c)
			if client {
				issues = append(issues, config.ValidateClient(&c)...)
			}

			out := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintln(out, "config OK")
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
			return fmt.Errorf("%d config issue(s)", len(issues))
		},
	}
	cmd.Flags().BoolVar(&client, "client", false, "also require the settings `affchat chat` needs")
	return cmd
}

// printValue writes scalars on one line and sections as YAML.
func printValue(out io.Writer, v any) error {
	if _, section := v.(map[string]any); !section {
		if _, list := v.([]any); !list {
			_, err := fmt.Fprintln(out, v)
			return err
		}
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// parseValue types a command-line value the way YAML would read it back.
func parseValue(s string) any {
	if lower := strings.ToLower(s); lower == "true" || lower == "false" {
		return lower == "true"
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
