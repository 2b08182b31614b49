package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand())
	if err := root.Execute(); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and every subcommand.
func buildRoot(c *command) *cobra.Command {
	root := createRootCommand(c)
	root.AddCommand(
		createStatusCommand(c),
		createCommitsCommand(c),
		createDetailsCommand(c),
		createUpdateCommand(c),
		createInstallCommand(c),
		createRunCommand(c),
		createWatchCommand(c),
		createServeCommand(c),
		createHistoryCommand(c),
		createConfigCommand(c),
	)
	return root
}

func createRootCommand(c *command) *cobra.Command {
	root := &cobra.Command{
		Use:   "updatr",
		Short: "Keep a git-managed dotfiles checkout up to date",
		Long: `updatr checks a local git checkout against its upstream, pulls new commits
(stashing local edits around the pull) and runs the repository's ./setup
installer in a live console you can type into.

Examples:
  updatr status
  updatr update                         # pull and run ./setup install-files
  updatr run -- ./setup install         # any command in the console
  updatr serve                          # HTTP API with periodic refresh
  updatr status --api-url=http://127.0.0.1:8089`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.setupLogging()
		},
	}
	g := c.global
	root.PersistentFlags().StringVar(&g.ConfigPath, "config", "", "settings file (default $XDG_CONFIG_HOME/updatr/settings.json)")
	root.PersistentFlags().StringVar(&g.Repo, "repo", "", "repository path (overrides repo_path)")
	root.PersistentFlags().StringVar(&g.LogLevel, "log-level", "", "debug, info, warn or error (default from settings)")
	root.PersistentFlags().BoolVarP(&g.Verbose, "verbose", "v", false, "show skipped steps and extra detail")
	return root
}

func addRemoteFlags(cmd *cobra.Command, f *RemoteFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "drive a running 'updatr serve' at this URL instead of the local repository")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 0, "HTTP timeout for --api-url requests")
	cmd.Flags().StringVar(&f.APICACert, "api-cacert", "", "CA certificate for an HTTPS --api-url")
	cmd.Flags().BoolVar(&f.APIInsecure, "api-insecure", false, "skip certificate verification for --api-url")
}

func createStatusCommand(c *command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch and show how far the checkout is behind its upstream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	addRemoteFlags(cmd, &f.RemoteFlags)
	return cmd
}

func createCommitsCommand(c *command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "commits",
		Short: "List commits waiting to be pulled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Commits(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	addRemoteFlags(cmd, &f.RemoteFlags)
	return cmd
}

func createDetailsCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "details",
		Short: "Show working tree, remotes and the pending diff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Details(cmd.Context())
		},
	}
}

func createUpdateCommand(c *command) *cobra.Command {
	f := &OperationFlags{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Stash, pull, restore and run the installer",
		Long: `Run the full update sequence in a live console. Lines typed on stdin are
sent to the running command; Ctrl+C interrupts it, a second Ctrl+C aborts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Update(cmd.Context(), *f)
		},
	}
	addRemoteFlags(cmd, &f.RemoteFlags)
	return cmd
}

func createInstallCommand(c *command) *cobra.Command {
	f := &OperationFlags{}
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Run only the installer and post-install script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Install(cmd.Context(), *f)
		},
	}
	addRemoteFlags(cmd, &f.RemoteFlags)
	return cmd
}

func createRunCommand(c *command) *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Run any command in the live console",
		Long: `Run a command with the console engine: pty when available, color-forcing
environment, interpreter fallback for scripts without a shebang. The exit
code of the command becomes the exit code of updatr.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), *f, args)
		},
	}
	cmd.Flags().StringVar(&f.Dir, "dir", "", "working directory (default current)")
	return cmd
}

func createWatchCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Refresh periodically and print status changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Watch(cmd.Context())
		},
	}
}

func createServeCommand(c *command) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and refresh periodically",
		Long: `Start the HTTP API (status, update, install, console input, events,
metrics) and the periodic refresh loop.

Examples:
  updatr serve
  updatr serve --listen 127.0.0.1:9000 --base /updatr
  updatr serve --tls-dir ~/.config/updatr/tls --tls-auto
  updatr serve --daemonize --pidfile /tmp/updatr.pid --logfile /tmp/updatr.log`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (default from settings)")
	cmd.Flags().StringVar(&f.BasePath, "base", "", "URL prefix for every endpoint")
	cmd.Flags().BoolVar(&f.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&f.PidFile, "pidfile", "", "write the daemon pid here")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "redirect daemon output to this file")
	cmd.Flags().StringVar(&f.TLS.CertFile, "tls-cert", "", "serve HTTPS with this certificate")
	cmd.Flags().StringVar(&f.TLS.KeyFile, "tls-key", "", "private key for --tls-cert")
	cmd.Flags().StringVar(&f.TLS.Dir, "tls-dir", "", "directory holding tls.crt and tls.key")
	cmd.Flags().BoolVar(&f.TLS.Auto, "tls-auto", false, "generate a self-signed pair in --tls-dir when missing")
	cmd.Flags().StringVar(&f.TLS.MinVersion, "tls-min-version", "", "minimum TLS version: 1.2 or 1.3")
	return cmd
}

func createHistoryCommand(c *command) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show exported activity (or this session's without history_dsn)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.History(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum entries")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

func createConfigCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ConfigInit(force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print effective settings as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.ConfigShow()
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the settings file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.ConfigPath()
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one setting and save",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.ConfigSet(args[0], args[1])
			},
		},
		initCmd,
	)
	return cmd
}
