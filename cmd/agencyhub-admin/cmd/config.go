package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	configAPIVersion = "admin.agencyhub.io/v1"
	configKind       = "Config"
)

// Config is the CLI configuration file, a list of named API contexts.
type Config struct {
	APIVersion     string         `yaml:"apiVersion"`
	Kind           string         `yaml:"kind"`
	CurrentContext string         `yaml:"current-context"`
	Contexts       []NamedContext `yaml:"contexts"`
}

type NamedContext struct {
	Name    string        `yaml:"name"`
	Context ContextDetail `yaml:"context"`
}

type ContextDetail struct {
	APIURL    string `yaml:"api-url"`
	Token     string `yaml:"token,omitempty"`
	TokenFile string `yaml:"token-file,omitempty"`
}

// configPathOverride is set by tests.
var configPathOverride string

func configPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}
	if p := os.Getenv("AGENCYHUB_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agencyhub", "config.yaml")
}

func expandPath(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, rest)
	}
	return p
}

func loadConfig() (*Config, error) {
	data, err := os.ReadFile(configPath())
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath(), err)
	}
	return &cfg, nil
}

// loadOrEmptyConfig treats a missing file as an empty configuration.
func loadOrEmptyConfig() (*Config, error) {
	cfg, err := loadConfig()
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{}, nil
	}
	return cfg, err
}

func saveConfig(cfg *Config) error {
	if cfg.APIVersion == "" {
		cfg.APIVersion = configAPIVersion
	}
	if cfg.Kind == "" {
		cfg.Kind = configKind
	}

	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) GetContext(name string) *NamedContext {
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			return &c.Contexts[i]
		}
	}
	return nil
}

func (c *Config) SetContext(name string, ctx ContextDetail) {
	if existing := c.GetContext(name); existing != nil {
		existing.Context = ctx
		return
	}
	c.Contexts = append(c.Contexts, NamedContext{Name: name, Context: ctx})
}

// DeleteContext removes a context and reports whether it existed.
func (c *Config) DeleteContext(name string) bool {
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			c.Contexts = append(c.Contexts[:i], c.Contexts[i+1:]...)
			if c.CurrentContext == name {
				c.CurrentContext = ""
			}
			return true
		}
	}
	return false
}

// redacted returns a copy safe to print.
func (c *Config) redacted() *Config {
	out := *c
	out.Contexts = make([]NamedContext, len(c.Contexts))
	for i, nc := range c.Contexts {
		if nc.Context.Token != "" {
			nc.Context.Token = "REDACTED"
		}
		out.Contexts[i] = nc
	}
	return &out
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
}

func init() {
	setCtxCmd := &cobra.Command{
		Use:   "set-context NAME",
		Short: "Create or update a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			apiURL, _ := cmd.Flags().GetString("api-url")
			token, _ := cmd.Flags().GetString("token")
			tokenFile, _ := cmd.Flags().GetString("token-file")

			if apiURL == "" {
				return fmt.Errorf("--api-url is required")
			}
			if token != "" && tokenFile != "" {
				return fmt.Errorf("--token and --token-file are mutually exclusive")
			}

			cfg, err := loadOrEmptyConfig()
			if err != nil {
				return err
			}
			cfg.SetContext(name, ContextDetail{APIURL: apiURL, Token: token, TokenFile: tokenFile})
			if cfg.CurrentContext == "" {
				cfg.CurrentContext = name
			}
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Context %q set.\n", name)
			if cfg.CurrentContext == name {
				fmt.Fprintf(out, "Current context is %q.\n", name)
			}
			return nil
		},
	}
	// Local flags shadow the persistent ones of the same name.
	setCtxCmd.Flags().String("api-url", "", "API URL")
	setCtxCmd.Flags().String("token", "", "Bearer token")
	setCtxCmd.Flags().String("token-file", "", "File containing the bearer token")

	useCtxCmd := &cobra.Command{
		Use:   "use-context NAME",
		Short: "Switch the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.GetContext(args[0]) == nil {
				return fmt.Errorf("context %q not found", args[0])
			}
			cfg.CurrentContext = args[0]
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q.\n", args[0])
			return nil
		},
	}

	deleteCtxCmd := &cobra.Command{
		Use:   "delete-context NAME",
		Short: "Remove a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.DeleteContext(args[0]) {
				return fmt.Errorf("context %q not found", args[0])
			}
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted context %q.\n", args[0])
			return nil
		},
	}

	getCtxsCmd := &cobra.Command{
		Use:   "get-contexts",
		Short: "List contexts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrEmptyConfig()
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "CURRENT", "NAME", "API URL")
			for _, c := range cfg.Contexts {
				marker := ""
				if c.Name == cfg.CurrentContext {
					marker = "*"
				}
				t.AddRow(marker, c.Name, c.Context.APIURL)
			}
			return t.Flush()
		},
	}

	currentCtxCmd := &cobra.Command{
		Use:   "current-context",
		Short: "Show the current context",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil || cfg.CurrentContext == "" {
				return fmt.Errorf("no current context set")
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.CurrentContext)
			return nil
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view",
		Short: "Print the configuration with tokens redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrEmptyConfig()
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), cfg.redacted())
		},
	}

	configCmd.AddCommand(setCtxCmd, useCtxCmd, deleteCtxCmd, getCtxsCmd, currentCtxCmd, viewCmd)
}
