package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kebairia/borgreport/internal/config"
	"github.com/kebairia/borgreport/internal/delivery"
	"github.com/kebairia/borgreport/internal/format"
	"github.com/kebairia/borgreport/internal/logger"
	"github.com/kebairia/borgreport/internal/pipeline"
	"github.com/kebairia/borgreport/internal/progress"
	"github.com/kebairia/borgreport/internal/vault"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// envPrefix prefixes the environment variables of run-level flags.
const envPrefix = "BORGREPORT"

// stdoutPath selects stdout as a destination.
const stdoutPath = "-"

// Settings are the run-level options, from flags or BORGREPORT_<FLAG>.
type Settings struct {
	EnvDirs     []string `mapstructure:"env-dir"`
	EnvInherit  string   `mapstructure:"env-inherit"`
	TextTo      string   `mapstructure:"text-to"`
	HTMLTo      string   `mapstructure:"html-to"`
	MetricsTo   string   `mapstructure:"metrics-to"`
	JSONTo      string   `mapstructure:"json-to"`
	MailTo      []string `mapstructure:"mail-to"`
	MailFrom    string   `mapstructure:"mail-from"`
	Sendmail    string   `mapstructure:"sendmail"`
	NoProgress  bool     `mapstructure:"no-progress"`
	Workers     int      `mapstructure:"workers"`
	LogLevel    string   `mapstructure:"log-level"`
	VaultAddr   string   `mapstructure:"vault-addr"`
	VaultToken  string   `mapstructure:"vault-token"`
	VaultRoleID string   `mapstructure:"vault-role-id"`
	VaultRole   string   `mapstructure:"vault-role"`
}

// repoFlags maps the repository override flags to option keys. They are
// command line only: BORGREPORT_<OPTION> in the environment is already the
// ambient layer of every repository.
var repoFlags = map[string]string{
	"glob-archives":   config.KeyGlobArchives,
	"check":           config.KeyCheck,
	"check-options":   config.KeyCheckOptions,
	"compact":         config.KeyCompact,
	"compact-options": config.KeyCompactOptions,
	"borg-binary":     config.KeyBorgBinary,
	"max-age-hours":   config.KeyMaxAgeHours,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	logger.Cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// NewRootCmd builds the borgreport command.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:   "borgreport",
		Short: "Summarize the state of borg backup repositories",
		Long: `borgreport queries borg repositories configured by *.env files (or by the
BORG_* variables of its environment) and renders one report as text, HTML,
OpenMetrics or JSON, optionally sent by mail.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var s Settings
			if err := v.Unmarshal(&s); err != nil {
				return fmt.Errorf("read settings: %w", err)
			}
			overrides, err := repoOverrides(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), s, overrides, cmd.OutOrStdout())
		},
	}

	runFlags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	runFlags.StringSlice("env-dir", nil, "directory of repository *.env files (repeatable)")
	runFlags.String("env-inherit", "", "name of the repository inherited from BORG_* variables")
	runFlags.String("text-to", "", `write the text report to a file ("-" for stdout)`)
	runFlags.String("html-to", "", `write the HTML report to a file ("-" for stdout)`)
	runFlags.String("metrics-to", "", `write OpenMetrics to a file ("-" for stdout)`)
	runFlags.String("json-to", "", `write the JSON report to a file ("-" for stdout)`)
	runFlags.StringSlice("mail-to", nil, "mail the report to these addresses")
	runFlags.String("mail-from", "", "sender address (default user@host)")
	runFlags.String("sendmail", "", "sendmail binary (default /usr/sbin/sendmail)")
	runFlags.Bool("no-progress", false, "do not print progress on stderr")
	runFlags.Int("workers", 1, "number of repositories processed concurrently")
	runFlags.String("log-level", "warn", "log level: debug, info, warn or error")
	runFlags.String("vault-addr", "", "Vault address for BORGREPORT_PASSPHRASE_VAULT (default $VAULT_ADDR)")
	runFlags.String("vault-token", "", "Vault token (default $VAULT_TOKEN)")
	runFlags.String("vault-role-id", "", "Vault AppRole role ID")
	runFlags.String("vault-role", "", "Vault AppRole role name")

	repoFlagSet := pflag.NewFlagSet("repository", pflag.ContinueOnError)
	repoFlagSet.StringSlice("glob-archives", nil, "archive globs, one report row each")
	repoFlagSet.Bool("check", false, "run borg check")
	repoFlagSet.String("check-options", "", "extra borg check options")
	repoFlagSet.Bool("compact", false, "run borg compact on healthy repositories")
	repoFlagSet.String("compact-options", "", "extra borg compact options")
	repoFlagSet.String("borg-binary", "", "path of the borg binary")
	repoFlagSet.Float64("max-age-hours", 24, "warn when the last archive is older")

	rootCmd.Flags().AddFlagSet(runFlags)
	rootCmd.Flags().AddFlagSet(repoFlagSet)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// Only run-level flags are bound, see repoFlags.
	_ = v.BindPFlags(runFlags)

	return rootCmd
}

// repoOverrides returns the repository options set on the command line.
func repoOverrides(flags *pflag.FlagSet) (map[string]string, error) {
	out := make(map[string]string)
	for name, key := range repoFlags {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		switch f.Value.Type() {
		case "stringSlice":
			values, err := flags.GetStringSlice(name)
			if err != nil {
				return nil, err
			}
			out[key] = strings.Join(values, " ")
		case "bool":
			b, err := flags.GetBool(name)
			if err != nil {
				return nil, err
			}
			out[key] = strconv.FormatBool(b)
		default:
			out[key] = f.Value.String()
		}
	}
	return out, nil
}

func run(ctx context.Context, s Settings, overrides map[string]string, stdout io.Writer) error {
	log, err := logger.Init(s.LogLevel)
	if err != nil {
		return err
	}

	ambient := config.ParseEnviron(os.Environ())
	p := pipeline.New(pipeline.Options{
		Workers:     s.Workers,
		Resolver:    config.Resolver{Ambient: ambient, Overrides: overrides},
		BaseEnviron: ambient.Slice(),
		Secrets:     secrets(s, ambient),
		Logger:      log,
		Progress: func(total int) *progress.Reporter {
			return progress.New(os.Stderr, total, s.NoProgress)
		},
	})

	r, err := p.Run(ctx, s.EnvDirs, s.EnvInherit)
	if err != nil {
		return fmt.Errorf("report cancelled: %w", err)
	}
	return delivery.DeliverAll(ctx, log, r, Deliveries(s, stdout)...)
}

// secrets returns a Vault source when an address is configured.
func secrets(s Settings, ambient config.Environ) pipeline.SecretSource {
	if s.VaultAddr == "" && ambient["VAULT_ADDR"] == "" {
		return nil
	}
	opts := []vault.Option{vault.WithAddress(s.VaultAddr), vault.WithToken(s.VaultToken)}
	if s.VaultRoleID != "" && s.VaultRole != "" {
		opts = append(opts, vault.WithAppRole(s.VaultRoleID, s.VaultRole))
	}
	return vault.NewLazy(opts...)
}

// Deliveries routes each rendering to its destinations. The text report goes
// to stdout unless it is written to a file or mailed.
func Deliveries(s Settings, stdout io.Writer) []delivery.Delivery {
	text := format.Text{Version: Version}
	html := format.HTML{Version: Version}

	var out []delivery.Delivery
	switch {
	case s.TextTo != "":
		out = append(out, destination(s.TextTo, "text", text, stdout))
	case len(s.MailTo) == 0:
		out = append(out, destination(stdoutPath, "text", text, stdout))
	}
	if s.HTMLTo != "" {
		out = append(out, destination(s.HTMLTo, "HTML", html, stdout))
	}
	if s.MetricsTo != "" {
		out = append(out, destination(s.MetricsTo, "metrics", format.Metrics{Version: Version}, stdout))
	}
	if s.JSONTo != "" {
		out = append(out, destination(s.JSONTo, "JSON", format.JSON{}, stdout))
	}
	if len(s.MailTo) > 0 {
		from := s.MailFrom
		if from == "" {
			from = delivery.DefaultSender()
		}
		out = append(out, delivery.Mail{
			To:     s.MailTo,
			From:   from,
			Text:   text,
			HTML:   html,
			Mailer: delivery.Sendmail{Path: s.Sendmail},
		})
	}
	return out
}

func destination(path, kind string, f format.Formatter, stdout io.Writer) delivery.Delivery {
	if path == stdoutPath {
		return delivery.Stream{Label: kind + " to stdout", W: stdout, Formatter: f}
	}
	return delivery.File{Path: path, Formatter: f}
}
