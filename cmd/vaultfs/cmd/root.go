package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     *config
	app     *session
)

// config holds the settings read from flags, VAULTFS_ environment variables
// and the config file.
type config struct {
	Vault              string `mapstructure:"vault"`
	Catalogue          string `mapstructure:"catalogue"`
	StagingDir         string `mapstructure:"staging-dir"`
	LogLevel           string `mapstructure:"log-level"`
	LogFormat          string `mapstructure:"log-format"`
	ScryptCost         int    `mapstructure:"scrypt-cost"`
	DirCacheSize       int    `mapstructure:"dir-cache-size"`
	MigrateLegacyNames bool   `mapstructure:"migrate-legacy-names"`
	NoColor            bool   `mapstructure:"no-color"`
}

var rootCmd = &cobra.Command{
	Use:   "vaultfs",
	Short: "Work with Cryptomator vaults from the command line",
	Long: `vaultfs creates, unlocks and browses Cryptomator compatible vaults
stored in local directories. Known vaults are kept in a catalogue so they
can be referred to by name.

Passphrases are read from VAULTFS_PASSPHRASE or prompted for.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(); err != nil {
			return err
		}
		app, err = newSession(cfg, stdout, stderr)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if app == nil {
			return nil
		}
		err := app.Close()
		app = nil
		return err
	},
}

// Execute runs the root command and exits with status 1 on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if app != nil {
			app.Close()
		}
		printError("%v", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.config/vaultfs/config.yaml)")
	flags.StringP("vault", "V", "", "name or id of the vault to use")
	flags.String("catalogue", "", "path of the vault catalogue database")
	flags.String("staging-dir", "", "directory for temporary files")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.Int("scrypt-cost", 0, "scrypt cost for new masterkey files")
	flags.Int("dir-cache-size", 0, "number of directory ids cached per vault")
	flags.Bool("migrate-legacy-names", false, "shorten legacy long names while listing")
	flags.Bool("no-color", false, "disable colored output")

	for _, name := range []string{"vault", "catalogue", "staging-dir", "log-level", "log-format", "scrypt-cost", "dir-cache-size", "migrate-legacy-names", "no-color"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// configDir returns the directory holding the config file and catalogue.
func configDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, "vaultfs"), nil
}

func loadConfig() (*config, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	viper.SetEnvPrefix("VAULTFS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("catalogue", filepath.Join(dir, "vaults.db"))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	c := &config{}
	if err := viper.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// newLogger returns a logger writing to w in the configured format.
func newLogger(c *config, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.LogFormat {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", c.LogFormat)
	}
}
