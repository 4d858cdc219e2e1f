package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/remoteclauding/rcboot/internal/agent"
	"github.com/remoteclauding/rcboot/internal/config"
	"github.com/remoteclauding/rcboot/internal/logging"
	"github.com/remoteclauding/rcboot/internal/progress"
)

type app struct {
	configFile string
	jsonOut    bool
	logLevel   string

	settings config.Settings
	agent    *agent.Agent
	out      io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "rcboot",
		Short:        "Install, start and supervise the Remote Clauding agent",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.agent != nil {
				return a.agent.Close()
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "settings file (default <config dir>/rcboot.toml)")
	pf.BoolVar(&a.jsonOut, "json", false, "print results and progress as JSON")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(
		a.detectCmd(),
		a.checkNodeCmd(),
		a.provisionCmd(),
		a.installCmd(),
		a.setupCmd(),
		a.markInstalledCmd(),
		a.bootstrapCmd(),
		a.startCmd(),
		a.stopCmd(),
		a.healthCmd(),
		a.statusCmd(),
		a.logoutCmd(),
		a.extractCmd(),
		a.serveCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	s, file, err := config.Load(config.Options{File: a.configFile})
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		s.LogLevel = a.logLevel
	}
	logging.Setup(s.LogLevel, s.LogJSON, cmd.ErrOrStderr())
	a.settings = s

	var rep progress.Reporter = progress.Log
	if a.jsonOut {
		rep = progress.NewJSONLines(a.out)
	}
	a.agent = agent.New(agent.Options{Settings: s, Reporter: rep})
	if file != "" {
		log.Debug().Str("file", file).Msg("settings loaded")
	}
	return nil
}

// print writes v as JSON with --json, otherwise the human form.
func (a *app) print(v any, human string) {
	if a.jsonOut {
		enc := json.NewEncoder(a.out)
		_ = enc.Encode(v)
		return
	}
	fmt.Fprintln(a.out, human)
}
