// Command lura is the fleet configuration-application engine's CLI
// entry point, grounded on cmd/devcmd/main.go's cobra command tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lura/internal/deploy"
	"lura/internal/host"
	"lura/internal/procrun"
	"lura/internal/recipe"
	"lura/internal/secret"
	"lura/internal/sudohelper"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "lura",
		Short:         "lura applies declared fleet configuration over ssh",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).
				With().Timestamp().Logger()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newAskpassCmd(), newRunCmd(), newVersionCmd())
	return root
}

// newAskpassCmd wires the sudo helper's self-invocation protocol (spec
// §4.3, §6): hidden since operators never type it directly, only
// SudoHelper re-execs the binary with these arguments.
func newAskpassCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "askpass <fifo> <timeout-seconds>",
		Hidden: true,
		Args:   cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := sudohelper.RunAskpass(args, os.Stdout)
			if code != 0 {
				return fmt.Errorf("askpass exited %d", code)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the lura version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

// hostSpec is one entry of a deployment file's `hosts` list.
type hostSpec struct {
	Name             string        `mapstructure:"name"`
	Local            bool          `mapstructure:"local"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	PasswordEnv      string        `mapstructure:"password_env"`
	KeyFile          string        `mapstructure:"key_file"`
	KeyPassphraseEnv string        `mapstructure:"key_passphrase_env"`
	SudoPasswordEnv  string        `mapstructure:"sudo_password_env"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
}

// deploymentSpec is the shape of a `lura run` deployment file: which
// recipe to apply, the fleet to apply it to, and the Deployer's
// concurrency/synchronization policy (spec §3, "Deployment").
type deploymentSpec struct {
	Recipe       string         `mapstructure:"recipe"`
	Operation    string         `mapstructure:"operation"`
	Workers      int            `mapstructure:"workers"`
	Synchronize  bool           `mapstructure:"synchronize"`
	FailEarly    bool           `mapstructure:"fail_early"`
	PollInterval time.Duration  `mapstructure:"poll_interval"`
	BindTimeout  time.Duration  `mapstructure:"bind_timeout"`
	Args         map[string]any `mapstructure:"args"`
	Hosts        []hostSpec     `mapstructure:"hosts"`
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <deployment.yaml>",
		Short: "apply a recipe's declared configuration across a fleet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeployment(cmd.Context(), args[0])
		},
	}
}

func runDeployment(ctx context.Context, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("lura: read deployment file: %w", err)
	}

	var spec deploymentSpec
	if err := v.Unmarshal(&spec); err != nil {
		return fmt.Errorf("lura: parse deployment file: %w", err)
	}

	prototype, err := recipe.Lookup(spec.Recipe)
	if err != nil {
		return err
	}

	hosts := make([]host.Target, 0, len(spec.Hosts))
	for _, hs := range spec.Hosts {
		t, err := buildHost(hs)
		if err != nil {
			return err
		}
		hosts = append(hosts, t)
	}
	defer func() {
		for _, t := range hosts {
			t.Close()
		}
	}()

	dep := &deploy.Deployment{
		Prototype:    prototype,
		Hosts:        hosts,
		Workers:      spec.Workers,
		Synchronize:  spec.Synchronize,
		FailEarly:    spec.FailEarly,
		Args:         spec.Args,
		PollInterval: spec.PollInterval,
		BindTimeout:  spec.BindTimeout,
	}

	op := deploy.Op(spec.Operation)
	if op == "" {
		op = deploy.OpApply
	}

	ok, errs := dep.Run(ctx, op)
	for _, r := range ok {
		log.Info().Str("host", r.Host.Name()).Interface("result", r.Value).Msg("host succeeded")
	}
	for _, e := range errs {
		evt := log.Error().Str("host", e.Host.Name()).Err(e.Err)
		// ProcessEnforce surfaces the full RunResult dump (spec §7).
		var perr *procrun.Error
		if errors.As(e.Err, &perr) {
			if dump, dumpErr := perr.Dump(); dumpErr == nil {
				evt = evt.Str("dump", string(dump))
			}
		}
		evt.Msg("host failed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("lura: %d of %d hosts failed", len(errs), len(hosts))
	}
	return nil
}

func buildHost(hs hostSpec) (host.Target, error) {
	name := hs.Name
	if hs.Local {
		return host.NewLocalHost(name), nil
	}
	cfg := host.SSHConfig{
		Host:           hs.Host,
		Port:           hs.Port,
		User:           hs.User,
		KeyFile:        hs.KeyFile,
		ConnectTimeout: hs.ConnectTimeout,
	}
	if hs.PasswordEnv != "" {
		cfg.Password = secret.New(os.Getenv(hs.PasswordEnv))
	}
	if hs.KeyPassphraseEnv != "" {
		cfg.KeyPassphrase = secret.New(os.Getenv(hs.KeyPassphraseEnv))
	}
	if hs.SudoPasswordEnv != "" {
		cfg.SudoPassword = secret.New(os.Getenv(hs.SudoPasswordEnv))
	}
	return host.NewSshHost(name, cfg)
}
