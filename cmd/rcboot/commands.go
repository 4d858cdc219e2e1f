package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remoteclauding/rcboot/internal/archive"
	"github.com/remoteclauding/rcboot/internal/version"
)

func (a *app) detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Report whether the agent CLI is installed (app) or not (installer)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := a.agent.DetectInstallState(cmd.Context())
			a.print(map[string]any{"state": st}, string(st))
			return nil
		},
	}
}

func (a *app) checkNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-node",
		Short: "Look for a Node.js runtime on the search path or in the portable runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nc := a.agent.CheckNode(cmd.Context())
			human := "node not found"
			if nc.Found {
				human = fmt.Sprintf("%s %s (portable=%t, supported=%t)", nc.Path, nc.Version, nc.Portable, nc.Satisfies)
			}
			a.print(nc, human)
			return nil
		},
	}
}

func (a *app) provisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Download and unpack the portable Node.js runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bin, err := a.agent.DownloadPortableNode(cmd.Context())
			if err != nil {
				return err
			}
			a.print(map[string]any{"node_binary": bin}, bin)
			return nil
		},
	}
}

func (a *app) installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the agent package globally with npm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := a.agent.InstallPackage(cmd.Context())
			if err != nil {
				return err
			}
			a.print(map[string]any{"stdout": out}, strings.TrimRight(out, "\n"))
			return nil
		},
	}
}

func (a *app) setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Run the agent's editor integration setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := a.agent.RunSetup(cmd.Context())
			if err != nil {
				return err
			}
			a.print(map[string]any{"stdout": out}, strings.TrimRight(out, "\n"))
			return nil
		},
	}
}

func (a *app) markInstalledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-installed",
		Short: "Record that installation completed",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := a.agent.MarkInstalled(); err != nil {
				return err
			}
			a.print(map[string]any{"marker": a.agent.Layout.Marker()}, a.agent.Layout.Marker())
			return nil
		},
	}
}

func (a *app) bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Run the full first-run install: runtime, package, setup, marker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.agent.Bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			human := string(res.State)
			if res.Provisioned {
				human += " (portable runtime " + res.NodeBinary + ")"
			}
			a.print(res, human)
			return nil
		},
	}
}

func (a *app) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the agent in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pid, err := a.agent.StartAgent(cmd.Context())
			if err != nil {
				return err
			}
			a.print(map[string]any{"pid": pid}, fmt.Sprintf("started pid %d", pid))
			return nil
		},
	}
}

func (a *app) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the recorded agent process",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			rep := a.agent.StopAgent()
			human := "no agent recorded"
			if rep.PID > 0 {
				human = fmt.Sprintf("pid %d signalled=%t", rep.PID, rep.Signalled)
			}
			a.print(rep, human)
			return nil
		},
	}
}

func (a *app) healthCmd() *cobra.Command {
	var relay bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the agent's health endpoint; exits non-zero when unhealthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, ok := "agent", false
			if relay {
				target, ok = "relay", a.agent.CheckRelayHealth(cmd.Context())
			} else {
				ok = a.agent.CheckHealth(cmd.Context())
			}
			word := "healthy"
			if !ok {
				word = "unhealthy"
			}
			a.print(map[string]any{"target": target, "healthy": ok}, target+" "+word)
			if !ok {
				return errors.New(target + " is not healthy")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&relay, "relay", false, "probe the relay server instead of the local agent")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show agent process, health and account status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := a.agent.Status(cmd.Context())
			var b strings.Builder
			fmt.Fprintf(&b, "state:   %s\n", st.State)
			if st.PID > 0 {
				fmt.Fprintf(&b, "pid:     %d (alive=%t)\n", st.PID, st.ProcessAlive)
			}
			fmt.Fprintf(&b, "health:  agent=%t relay=%t\n", st.Healthy, st.RelayHealthy)
			if st.LoggedIn {
				fmt.Fprintf(&b, "account: %s", st.Email)
			} else {
				b.WriteString("account: not logged in")
			}
			a.print(st, b.String())
			return nil
		},
	}
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Stop the agent and remove the saved account",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			rep := a.agent.Logout()
			a.print(rep, "logged out")
			return nil
		},
	}
}

func (a *app) extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <archive> <dest>",
		Short: "Unpack a .zip or .tar.gz, stripping its top-level directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := archive.Extract(args[0], args[1]); err != nil {
				return err
			}
			a.print(map[string]any{"dest": args[1]}, args[1])
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.settings.ListenAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.agent.Serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address (default from settings)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		// no settings or agent needed
		PersistentPreRun:  func(*cobra.Command, []string) {},
		PersistentPostRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rcboot %s\n", version.String())
		},
	}
}
