package commands

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cerina/foundry/internal/config"
	"github.com/cerina/foundry/internal/engine"
	"github.com/cerina/foundry/internal/oracle"
	"github.com/cerina/foundry/pkg/blackboard"
)

var (
	version string
	commit  string
	date    string
)

var (
	rootConfigPath string
	rootRedisURL   string
	rootInstance   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "foundry",
	Short: "Foundry - supervised CBT protocol drafting engine",
	Long: `Foundry drives a fixed pipeline of drafting and reviewer agents over a
shared blackboard, producing CBT protocol drafts that are scored for safety
and empathy and always pass through a human approval gate before
finalization.

State is checkpointed to Redis after every step, so halted runs survive
restarts and can be resumed from any process.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	// Formatted colored errors are printed by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Path to foundry.yml (optional)")
	rootCmd.PersistentFlags().StringVar(&rootRedisURL, "redis-url", "", "Redis URL (overrides config and REDIS_URL)")
	rootCmd.PersistentFlags().StringVar(&rootInstance, "instance", "", "Instance name used to namespace Redis keys")
}

// loadConfig resolves the effective configuration: foundry.yml when given,
// defaults otherwise, with flag and env overrides applied on top.
func loadConfig() (*config.FoundryConfig, error) {
	var cfg *config.FoundryConfig
	var err error

	if rootConfigPath != "" {
		cfg, err = config.Load(rootConfigPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if env := os.Getenv("REDIS_URL"); env != "" && rootRedisURL == "" {
		cfg.RedisURL = env
	}
	if rootRedisURL != "" {
		cfg.RedisURL = rootRedisURL
	}
	if rootInstance != "" {
		cfg.Instance = rootInstance
	}

	return cfg, nil
}

// connectBlackboard opens a validated Redis connection for the configured
// instance.
func connectBlackboard(cfg *config.FoundryConfig) (*blackboard.Client, error) {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client, err := blackboard.NewClient(redisOpts, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create blackboard client: %w", err)
	}
	return client, nil
}

// buildOracle selects the configured oracle, falling back to the stub when
// the anthropic provider has no API key available.
func buildOracle(cfg *config.FoundryConfig) (oracle.Oracle, error) {
	if cfg.Oracle.Provider == "anthropic" {
		apiKey := cfg.Oracle.APIKey()
		if apiKey == "" {
			return oracle.NewStub(), nil
		}

		opts := []oracle.AnthropicOption{}
		if cfg.Oracle.Model != "" {
			opts = append(opts, oracle.WithModel(cfg.Oracle.Model))
		}
		if cfg.Oracle.MaxTokens > 0 {
			opts = append(opts, oracle.WithMaxTokens(cfg.Oracle.MaxTokens))
		}
		if cfg.Oracle.Temperature > 0 {
			opts = append(opts, oracle.WithTemperature(cfg.Oracle.Temperature))
		}
		return oracle.NewAnthropic(apiKey, opts...)
	}

	return oracle.NewStub(), nil
}

// buildEngine wires the full engine stack from configuration.
func buildEngine(cfg *config.FoundryConfig, client *blackboard.Client) (*engine.Engine, error) {
	o, err := buildOracle(cfg)
	if err != nil {
		return nil, err
	}

	policy := engine.Policy{
		SafetyThreshold:  *cfg.Policy.SafetyThreshold,
		EmpathyThreshold: *cfg.Policy.EmpathyThreshold,
	}
	return engine.New(client, o, policy), nil
}
