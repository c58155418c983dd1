package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/kurral/internal/logging"
	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/store"
)

// Version is the CLI version, overridable with -ldflags
var Version = "v0.1.0"

var (
	cfgFile   string
	verbose   bool
	logFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kurral",
	Short: "Kurral - value and trust pipeline for social content",
	Long: `Kurral runs every post and comment through a staged pipeline:
pre-check, claim extraction, fact-checking, policy, discussion quality,
value scoring and author reputation (KurralScore).

Each stage is checkpointed on the item so interrupted runs resume where
they stopped, and failed stages surface as needs_review, never as clean.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kurral %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.kurral/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json (default from config)")

	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("output.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in the config file, .env and KURRAL_* environment variables
func initConfig() {
	// A missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if dir, err := configDir(); err == nil {
		viper.AddConfigPath(dir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	configureEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// configDir returns $HOME/.kurral
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".kurral"), nil
}

// configureEnv maps KURRAL_SECTION_KEY variables onto section.key
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("KURRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys omitted from the rendered defaults are unknown to AutomaticEnv
	_ = v.BindEnv("llm.api_key")
	_ = v.BindEnv("search.api_key")
}

// loadConfig layers defaults, the config file, env vars and flags into a model.Config
func loadConfig(v *viper.Viper) (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := setDefaults(v, cfg); err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every field of cfg as a viper default so env overrides apply to it
func setDefaults(v *viper.Viper, cfg model.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}
	setTree(v, "", tree)
	return nil
}

func setTree(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok && len(sub) > 0 {
			setTree(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// newLogger builds the CLI logger from the output section
func newLogger(cfg model.Config) zerolog.Logger {
	return logging.New("kurral", logging.Options{
		Verbose: cfg.Output.Verbose,
		Format:  cfg.Output.Format,
	})
}

// setup loads configuration, the logger and the store shared by every command
func setup() (model.Config, zerolog.Logger, *store.SQLite, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return cfg, zerolog.Nop(), nil, err
	}
	log := newLogger(cfg)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return cfg, log, nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	log.Debug().Str("path", cfg.Store.Path).Msg("store opened")
	return cfg, log, st, nil
}
