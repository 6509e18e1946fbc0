package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	corsOrigins    []string
	gameDuration   time.Duration
	maxDelay       time.Duration
	minDelay       time.Duration
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.gameDuration < time.Second {
		return fmt.Errorf("invalid game duration (must be at least 1s): %s", c.gameDuration)
	}
	if c.minDelay < time.Second || c.maxDelay < time.Second {
		return fmt.Errorf("invalid confirmation delay (must be at least 1s): %s-%s", c.minDelay, c.maxDelay)
	}
	for name, d := range map[string]time.Duration{
		"--game-duration": c.gameDuration,
		"--min-delay":     c.minDelay,
		"--max-delay":     c.maxDelay,
	} {
		if d%time.Second != 0 {
			return fmt.Errorf("invalid %s (must be a whole number of seconds): %s", name, d)
		}
	}
	if c.minDelay > c.maxDelay {
		return fmt.Errorf("--min-delay (%s) must not exceed --max-delay (%s)", c.minDelay, c.maxDelay)
	}
	if c.sessionTimeout < 0 {
		return fmt.Errorf("invalid session timeout (must not be negative): %s", c.sessionTimeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ONETOTEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "onetoten",
		Short:         "A cooperative race to press one through ten, in order, together.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			setupLogging(cfg)
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: ONETOTEN_BIND)")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origin", []string{"*"}, "origin allowed to make cross-origin requests, repeatable (env: ONETOTEN_CORS_ORIGIN)")
	fs.DurationVar(&cfg.gameDuration, "game-duration", 120*time.Second, "time on the clock for each game (env: ONETOTEN_GAME_DURATION)")
	fs.DurationVar(&cfg.maxDelay, "max-delay", 15*time.Second, "longest confirmation delay for a pressed number (env: ONETOTEN_MAX_DELAY)")
	fs.DurationVar(&cfg.minDelay, "min-delay", 1*time.Second, "shortest confirmation delay for a pressed number (env: ONETOTEN_MIN_DELAY)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: ONETOTEN_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: ONETOTEN_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: ONETOTEN_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle rooms are closed, 0 to disable (env: ONETOTEN_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: ONETOTEN_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: ONETOTEN_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: ONETOTEN_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: ONETOTEN_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("onetoten v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
