// Package cli builds the dlqmanager command tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/dlqmanager/pkg/backend"
	"github.com/nimburion/dlqmanager/pkg/backend/factory"
	"github.com/nimburion/dlqmanager/pkg/config"
	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/version"
)

// BackendFactory creates the queue backend from configuration.
type BackendFactory func(cfg config.BackendConfig, log logger.Logger) (backend.Backend, error)

// Options configures the root command.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: overrides backend construction (tests, custom adapters).
	NewBackend BackendFactory
}

type rootFlags struct {
	cfgPath        string
	secretFilePath string
	logLevel       string
}

// NewRootCommand creates the CLI with serve, list, redrive, purge, console,
// healthcheck, config and version subcommands.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = version.ServiceName
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	if opts.NewBackend == nil {
		opts.NewBackend = factory.NewBackend
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := &rootFlags{}
	rootCmd.PersistentFlags().StringVarP(&flags.cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&flags.secretFilePath, "secret-file", "", "path to secrets file (sets "+resolveEnvPrefix(opts.EnvPrefix)+"_SECRETS_FILE)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	app := &app{opts: opts, flags: flags}

	rootCmd.AddCommand(
		newVersionCommand(opts.Name),
		app.serveCommand(),
		app.listCommand(),
		app.actionCommand("redrive", "Move dead-lettered messages back to their source queues"),
		app.actionCommand("purge", "Discard every message of the given dead-letter queues"),
		app.consoleCommand(),
		app.healthcheckCommand(),
		app.configCommand(),
	)
	return rootCmd
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
		},
	}
}

// LoadConfigAndLogger loads configuration with the standard precedence and
// builds the zap logger it describes.
func LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath string, flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
	cfg, _, err := loadConfig(cfgPath, envPrefix, secretFilePath)
	if err != nil {
		return nil, nil, err
	}
	applyFlagOverrides(cfg, flags)

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
		File:   cfg.Observability.LogFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	logConfigIfDebug(log, cfg)
	return cfg, log, nil
}

func loadConfig(cfgPath, envPrefix, secretFilePath string) (*config.Config, *config.ViperLoader, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	loader := config.NewViperLoader(cfgPath, resolveEnvPrefix(envPrefix))
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, loader, nil
}

func applyFlagOverrides(cfg *config.Config, flags *pflag.FlagSet) {
	if flags == nil {
		return
	}
	if f := flags.Lookup("log-level"); f != nil && f.Changed {
		cfg.Observability.LogLevel = strings.ToLower(f.Value.String())
	}
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func logConfigIfDebug(log logger.Logger, cfg *config.Config) {
	if log == nil || cfg == nil {
		return
	}
	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}
	log.Debug("effective configuration", "backend", cfg.Backend.Type, "port", cfg.HTTP.Port, "audit", cfg.Audit.Enabled)
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return config.DefaultEnvPrefix
	}
	return strings.ToUpper(trimmed)
}

func (a *app) configCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadConfig(a.flags.cfgPath, a.opts.EnvPrefix, a.flags.secretFilePath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, loader, err := loadConfig(a.flags.cfgPath, a.opts.EnvPrefix, a.flags.secretFilePath)
			if err != nil {
				return err
			}
			settings := loader.AllSettings()
			if !showSecrets {
				settings = redactSettingsMap(settings, loader.Secrets())
			}
			formatted, err := formatSettings(settings)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), formatted)
			return err
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)
	return configCmd
}

func formatSettings(settings map[string]interface{}) (string, error) {
	if settings == nil {
		return "{}\n", nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// redactSettingsMap masks every leaf of settings that the secrets file set.
func redactSettingsMap(settings, secrets map[string]interface{}) map[string]interface{} {
	if len(settings) == 0 || len(secrets) == 0 {
		return settings
	}
	out := make(map[string]interface{}, len(settings))
	for key, value := range settings {
		mask, ok := secrets[key]
		if !ok {
			out[key] = value
			continue
		}
		out[key] = redactSettingValue(value, mask)
	}
	return out
}

func redactSettingValue(value, mask interface{}) interface{} {
	if maskMap, ok := mask.(map[string]interface{}); ok {
		valueMap, ok := value.(map[string]interface{})
		if !ok {
			if len(maskMap) > 0 {
				return "***"
			}
			return value
		}
		return redactSettingsMap(valueMap, maskMap)
	}
	if mask == nil || reflect.ValueOf(mask).IsZero() {
		return value
	}
	return "***"
}
