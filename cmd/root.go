// Package cmd implements the lockbox command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/illarion/lockbox/internal/config"
	"github.com/illarion/lockbox/internal/core"
	"github.com/illarion/lockbox/internal/logging"
)

// app is the state shared by all commands of one invocation.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger logging.Logger

	in     *os.File
	out    io.Writer
	errOut io.Writer

	prompter *core.Prompter
	user     string
	verbose  bool
}

// NewRootCommand builds the command tree. Input is read from in; normal
// output goes to out and diagnostics to errOut.
func NewRootCommand(in *os.File, out, errOut io.Writer) *cobra.Command {
	a := &app{
		v:        config.NewViper(),
		in:       in,
		out:      out,
		errOut:   errOut,
		prompter: core.NewPrompter(in, errOut),
	}

	root := &cobra.Command{
		Use:   "lockbox",
		Short: "Local credential vault and file encryption",
		Long: `lockbox authenticates a single local user against an encrypted
credential record and encrypts or decrypts files in place.

The master key is a 32-byte file in the lockbox directory. Create one with
'lockbox keygen' or place your own there. The first successful login stores
the credentials; later logins are checked against them.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.String("dir", "", "lockbox directory (default: <user-config-dir>/lockbox)")
	flags.String("config", "", "config file (default: <dir>/config.yaml)")
	flags.StringVarP(&a.user, "user", "u", "", "username (prompted when empty)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose logging")
	flags.String("log-format", "", "log format: text or json")

	for key, flag := range map[string]string{
		"dir":                "dir",
		config.KeyConfigFile: "config",
		"log.format":         "log-format",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		a.loginCommand(),
		a.encryptCommand(),
		a.decryptCommand(),
		a.infoCommand(),
		a.statusCommand(),
		a.keygenCommand(),
		a.keyringCommand(),
		a.compactCommand(),
	)
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(a.errOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.logger.Debug(cmd.Context(), "configuration loaded", "config", cfg.String())
	return nil
}

// open opens the lockbox with the interactive passphrase prompt attached.
func (a *app) open(ctx context.Context) (*core.Lockbox, error) {
	return core.Open(ctx, a.cfg, a.logger, core.WithPassphrasePrompt(a.promptPassphrase))
}

func (a *app) promptPassphrase(context.Context) ([]byte, error) {
	return a.prompter.ReadPassword("File passphrase: ")
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		var handled *exitError
		if !errors.As(err, &handled) {
			fmt.Fprintf(os.Stderr, "%s %s\n", errorMark(), err)
		}
		return 1
	}
	return 0
}
