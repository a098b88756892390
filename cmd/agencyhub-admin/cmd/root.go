package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version string

	// Global flags
	flagAPIURL  string
	flagToken   string
	flagContext string
	flagOutput  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "agencyhub-admin",
	Short: "agencyhub platform administration CLI",
	Long: `agencyhub-admin manages agencies, analysis jobs and queues of an
agencyhub deployment.

Use "agencyhub-admin config set-context" to configure your connection and
"agencyhub-admin token mint" to issue a platform token from the signing secret.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Interrupts cancel in-flight requests.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "Override API URL (env: AGENCYHUB_API_URL)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Override bearer token (env: AGENCYHUB_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&flagContext, "context", "c", "", "Use specific context (env: AGENCYHUB_CONTEXT)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd, pingCmd, configCmd, getCmd, createCmd, recoverCmd, tokenCmd, migrateCmd)
}

func initConfig() {
	if flagAPIURL == "" {
		flagAPIURL = os.Getenv("AGENCYHUB_API_URL")
	}
	if flagToken == "" {
		flagToken = os.Getenv("AGENCYHUB_TOKEN")
	}

	if flagAPIURL == "" || flagToken == "" {
		u, t := resolveFromConfigFile()
		if flagAPIURL == "" {
			flagAPIURL = u
		}
		if flagToken == "" {
			flagToken = t
		}
	}
}

func resolveFromConfigFile() (string, string) {
	ctxName := flagContext
	if ctxName == "" {
		ctxName = os.Getenv("AGENCYHUB_CONTEXT")
	}

	cfg, err := loadConfig()
	if err != nil {
		return "", ""
	}
	if ctxName == "" {
		ctxName = cfg.CurrentContext
	}

	ctx := cfg.GetContext(ctxName)
	if ctx == nil {
		return "", ""
	}

	token := ctx.Context.Token
	if token == "" && ctx.Context.TokenFile != "" {
		data, err := os.ReadFile(expandPath(ctx.Context.TokenFile))
		if err == nil {
			token = strings.TrimSpace(string(data))
		}
	}
	return ctx.Context.APIURL, token
}

func newClientFromFlags() (*Client, error) {
	if flagAPIURL == "" {
		return nil, fmt.Errorf("API URL not configured: use --api-url, AGENCYHUB_API_URL or 'agencyhub-admin config set-context'")
	}
	if flagToken == "" {
		return nil, fmt.Errorf("token not configured: use --token, AGENCYHUB_TOKEN or 'agencyhub-admin config set-context'")
	}
	return NewClient(flagAPIURL, flagToken, flagVerbose), nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "agencyhub-admin version %s\n", version)
		fmt.Fprintf(out, "  Go:       %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the API and its dependencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagAPIURL == "" {
			return fmt.Errorf("API URL not configured")
		}
		client := NewClient(flagAPIURL, flagToken, flagVerbose)

		var resp ReadyResponse
		if err := client.GetJSON(cmd.Context(), "/ready", &resp); err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}
		if flagOutput != outputTable {
			return printAs(cmd.OutOrStdout(), flagOutput, resp)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "agencyhub API\n")
		fmt.Fprintf(out, "  API URL:  %s\n", flagAPIURL)
		fmt.Fprintf(out, "  Status:   %s\n", resp.Status)
		t := newTable(out, "DEPENDENCY", "STATUS", "DURATION")
		for name, c := range resp.Checks {
			t.AddRow(name, c.Status, c.Duration)
		}
		return t.Flush()
	},
}
