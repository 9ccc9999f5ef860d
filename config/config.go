package config

import (
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ConfigDebug           = "debug"
	ConfigLogLevel        = "log-level"
	ConfigThreads         = "threads"
	ConfigSearchMode      = "search-mode"
	ConfigMinDepth        = "min-depth"
	ConfigMaxTime         = "max-time"
	ConfigInitialDepth    = "initial-depth"
	ConfigNearMateScore   = "near-mate-score"
	ConfigContinueScore   = "continue-score"
	ConfigFoldScore       = "fold-score"
	ConfigSearchOptions   = "search-options"
	ConfigTTFractionOfMem = "tt-fraction-of-mem"
	ConfigCompareDelay    = "compare-delay"
	ConfigKeyRepeat       = "key-repeat"
	ConfigShowPly         = "show-ply"
	ConfigNatsURL         = "nats-url"
	ConfigNatsSubject     = "nats-subject"
	ConfigNatsWorkers     = "nats-workers"
	ConfigNatsTimeout     = "nats-timeout"
	ConfigFeedAddr        = "feed-addr"
	ConfigEventBuffer     = "event-buffer"
	ConfigSearchLog       = "search-log"
)

// Config wraps a viper instance. Values come from, in increasing priority:
// defaults, an optional config.yaml, VOTECHESS_* environment variables and
// command-line flags.
type Config struct {
	viper.Viper
}

func defaultThreads() int {
	return max(1, runtime.NumCPU()-1)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(ConfigDebug, false)
	v.SetDefault(ConfigLogLevel, "info")
	v.SetDefault(ConfigThreads, defaultThreads())
	v.SetDefault(ConfigSearchMode, 1)
	v.SetDefault(ConfigMinDepth, 4)
	v.SetDefault(ConfigMaxTime, 2*time.Second)
	v.SetDefault(ConfigInitialDepth, 4)
	v.SetDefault(ConfigNearMateScore, 200)
	v.SetDefault(ConfigContinueScore, 300)
	v.SetDefault(ConfigFoldScore, -1)
	v.SetDefault(ConfigSearchOptions, "")
	v.SetDefault(ConfigTTFractionOfMem, 0.05)
	v.SetDefault(ConfigCompareDelay, 100*time.Millisecond)
	v.SetDefault(ConfigKeyRepeat, 70*time.Millisecond)
	v.SetDefault(ConfigShowPly, "diverge")
	v.SetDefault(ConfigNatsURL, "")
	v.SetDefault(ConfigNatsSubject, "votechess.search")
	v.SetDefault(ConfigNatsWorkers, 0)
	v.SetDefault(ConfigNatsTimeout, 30*time.Second)
	v.SetDefault(ConfigFeedAddr, ":8088")
	v.SetDefault(ConfigEventBuffer, 256)
	v.SetDefault(ConfigSearchLog, "")
}

// DefaultConfig returns a config holding only the built-in defaults.
func DefaultConfig() *Config {
	c := &Config{Viper: *viper.New()}
	setDefaults(&c.Viper)
	return c
}

func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("votechess", pflag.ContinueOnError)
	fs.Bool(ConfigDebug, false, "debug logging on")
	fs.String(ConfigLogLevel, "info", "log level (trace, debug, info, warn, error)")
	fs.Int(ConfigThreads, defaultThreads(), "number of local search workers")
	fs.Int(ConfigSearchMode, 1, "0 plays a random legal move, anything else searches")
	fs.Int(ConfigMinDepth, 4, "minimum search depth")
	fs.Duration(ConfigMaxTime, 2*time.Second, "advisory time budget per search, 0 disables iterative deepening")
	fs.Int(ConfigInitialDepth, 4, "depth of the first iteration")
	fs.Int(ConfigNearMateScore, 200, "stop iterating once |best score| reaches this")
	fs.Int(ConfigContinueScore, 300, "stop iterating once the best score reaches this")
	fs.Int(ConfigFoldScore, -1, "score given to moves that lead to a drawn position")
	fs.String(ConfigSearchOptions, "", "options string forwarded to workers")
	fs.Float64(ConfigTTFractionOfMem, 0.05, "fraction of system memory for transposition tables")
	fs.Duration(ConfigCompareDelay, 100*time.Millisecond, "dual board debounce delay")
	fs.Duration(ConfigKeyRepeat, 70*time.Millisecond, "keyboard repeat interval used by the dual board debounce")
	fs.String(ConfigShowPly, "diverge", "dual board display policy: first, diverge or last")
	fs.String(ConfigNatsURL, "", "NATS url; when set, searches are sent to remote workers")
	fs.String(ConfigNatsSubject, "votechess.search", "NATS subject for search tasks")
	fs.Int(ConfigNatsWorkers, 0, "number of remote worker slots")
	fs.Duration(ConfigNatsTimeout, 30*time.Second, "NATS request timeout per search task")
	fs.String(ConfigFeedAddr, ":8088", "listen address of the websocket event feed")
	fs.Int(ConfigEventBuffer, 256, "event bus buffer size")
	fs.String(ConfigSearchLog, "", "file receiving one YAML document per search iteration")
	return fs
}

// Load reads configuration from args, the environment and an optional
// config file. Unknown flags are an error.
func (c *Config) Load(args []string) error {
	c.Viper = *viper.New()
	setDefaults(&c.Viper)

	fs := flagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.BindPFlags(fs); err != nil {
		return err
	}

	c.SetEnvPrefix("votechess")
	c.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.AutomaticEnv()

	c.SetConfigName("config")
	c.SetConfigType("yaml")
	c.AddConfigPath(".")
	c.AddConfigPath("$HOME/.votechess")
	if err := c.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}

// SanitizedSettings returns all settings, safe to log.
func (c *Config) SanitizedSettings() map[string]any {
	return c.AllSettings()
}
