package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	verbose     bool
	metricsAddr string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mimic",
	Short: "An HTTP client that impersonates real browsers",
	Long: `mimic sends HTTP requests with the TLS fingerprint, HTTP/2 settings and
default headers of a real browser.

Examples:
  # Fetch a page as Chrome on Windows
  mimic request GET https://example.com --impersonate chrome --os windows

  # Post a form through a SOCKS proxy
  mimic request POST https://httpbin.org/post -d user=alice -d pass=secret \
    --proxy socks5://127.0.0.1:1080

  # Send headers in exactly the given order
  mimic request GET https://tls.peet.ws/api/all --ordered \
    -H 'accept: */*' -H 'user-agent: mimic/1.0'

  # List impersonation targets
  mimic targets`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.mimic/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests and responses")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
}

// loadConfig layers flags over MIMIC_* environment variables over the
// config file over defaults.
func loadConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("impersonate", "chrome")
	v.SetDefault("os", "macos")
	v.SetDefault("timeout", "30s")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.mimic")
		}
	}

	v.SetEnvPrefix("MIMIC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// newLogger writes human-readable lines to stderr so stdout carries only
// the response.
func newLogger(v *viper.Viper) zerolog.Logger {
	level := zerolog.WarnLevel
	if v.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
