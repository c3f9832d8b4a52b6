package main

import (
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/pulserank/pulserank/internal/config"
)

const (
	appName = "pulserank"
	version = "v1.3.0"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

func main() {
	// .env is a development convenience; deployments set the environment.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Engagement-driven reward vector engine",
		Version: version,
		Long: `pulserank turns social engagement into periodic reward vectors.

Discovery ranks each pool's social graph, briefs route budgets to the
content that earns them, and every cycle ends in one normalized vector
over the ledger roster. A cycle that cannot complete still publishes
the fallback vector, so downstream consumers always see a payout.`,
		SilenceUsage: true,
	}

	addConfigFlags(rootCmd.PersistentFlags())

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine",
		Long:  "Runs the cycle scheduler and the read-only HTTP surface until interrupted",
		RunE:  runServe,
	}

	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one reward cycle and exit",
		Long:  "Executes a single full cycle: brief feed in, reward vector out",
		RunE:  runCycle,
	}
	cycleCmd.Flags().Bool("json", false, "Print the full result as JSON instead of a summary")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Run social-graph discovery",
		Long:  "Regenerates the social map for one pool or all pools, regardless of map age",
		RunE:  runDiscover,
	}
	discoverCmd.Flags().String("pool", "", "Limit discovery to one pool")

	briefsCmd := &cobra.Command{
		Use:   "briefs",
		Short: "Inspect the brief feed",
		Long:  "Fetches the brief feed and prints each brief with its lifecycle state today",
		RunE:  runBriefs,
	}

	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage account-to-identity mappings",
	}

	identityListCmd := &cobra.Command{
		Use:   "list",
		Short: "List a pool's mappings",
		RunE:  runIdentityList,
	}
	identityListCmd.Flags().String("pool", "", "Pool name (required)")

	identitySetCmd := &cobra.Command{
		Use:   "set",
		Short: "Insert or update one mapping",
		RunE:  runIdentitySet,
	}
	identitySetCmd.Flags().String("pool", "", "Pool name (required)")
	identitySetCmd.Flags().String("account", "", "Social account handle (required)")
	identitySetCmd.Flags().Int("identity", -1, "Ledger identity index (required)")
	identitySetCmd.Flags().String("tag", "", "Free-form note")

	identityCmd.AddCommand(identityListCmd)
	identityCmd.AddCommand(identitySetCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(briefsCmd)
	rootCmd.AddCommand(identityCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// addConfigFlags registers the config-file flags every command shares.
func addConfigFlags(fs *pflag.FlagSet) {
	fs.String("config", "config/pulserank.yaml", "Path to the main config file")
	fs.String("pools", "config/pools.yaml", "Path to the pool definitions file")
}

// loadAll reads both config files and applies the configured log level.
func loadAll(cmd *cobra.Command) (*config.Config, map[string]config.Pool, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	poolsPath, _ := cmd.Flags().GetString("pools")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	applyLogLevel(cfg.Log.Level)

	pools, err := config.LoadPools(poolsPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pools, nil
}

func applyLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
