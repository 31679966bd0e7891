// ABOUTME: Entry point for the Sendspin caster
// ABOUTME: Parses CLI flags, loads configuration and runs the capture pipeline
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sendspin/sendspin-caster/internal/app"
	"github.com/Sendspin/sendspin-caster/internal/config"
	"github.com/Sendspin/sendspin-caster/internal/version"
)

type flags struct {
	configPath  string
	verbosity   int
	duration    int
	logFile     string
	noTUI       bool
	profileMode string
	version     bool
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "sendspin-caster",
		Short: "Live audio capture and streaming to Icecast and Shoutcast servers",
		Long: `sendspin-caster captures live audio, encodes it with one or more codecs
and streams every encoding to its own Icecast2, Icecast 1.x or Shoutcast
server, file or local monitor. A failing output never stops the others.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.version {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Product, version.Version)
				return nil
			}
			if !cmd.Flags().Changed("duration") {
				f.duration = -1
			}
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Config file (default: search ., $XDG_CONFIG_HOME/sendspin-caster, /etc/sendspin-caster)")
	cmd.Flags().IntVarP(&f.verbosity, "verbosity", "v", 1, "Verbosity 0-10: 0 warnings only, 5 and up debug")
	cmd.Flags().IntVar(&f.duration, "duration", 0, "Seconds to stream, 0 until stopped (overrides general.duration)")
	cmd.Flags().StringVar(&f.logFile, "log-file", "sendspin-caster.log", "Log file path, empty to disable")
	cmd.Flags().BoolVar(&f.noTUI, "no-tui", false, "Disable TUI, use streaming logs instead")
	cmd.Flags().StringVar(&f.profileMode, "profile", "", "Write a cpu or mem profile")
	cmd.Flags().BoolVar(&f.version, "version", false, "Print version information and exit")

	return cmd
}

// levelFor maps the verbosity scale to a log level
func levelFor(verbosity int) log.Level {
	switch {
	case verbosity <= 0:
		return log.WarnLevel
	case verbosity < 5:
		return log.InfoLevel
	default:
		return log.DebugLevel
	}
}

// setupLogging routes logs to the file, and to stderr unless the TUI owns
// the terminal. The returned closer releases the log file.
func setupLogging(verbosity int, logFile string, useTUI bool) (io.Closer, error) {
	log.SetLevel(levelFor(verbosity))
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if logFile == "" {
		if useTUI {
			log.SetOutput(io.Discard)
		} else {
			log.SetOutput(os.Stderr)
		}
		return nopCloser{}, nil
	}

	file, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "open log file")
	}

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(file)
	} else {
		log.SetOutput(io.MultiWriter(os.Stderr, file))
	}
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func startProfile(mode string) (interface{ Stop() }, error) {
	switch mode {
	case "":
		return nil, nil
	case "cpu":
		return profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet), nil
	case "mem":
		return profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet), nil
	}
	return nil, errors.Errorf("unknown profile mode %q, want cpu or mem", mode)
}

func run(ctx context.Context, f *flags) error {
	useTUI := !f.noTUI

	closer, err := setupLogging(f.verbosity, f.logFile, useTUI)
	if err != nil {
		return err
	}
	defer closer.Close()

	prof, err := startProfile(f.profileMode)
	if err != nil {
		return err
	}
	if prof != nil {
		defer prof.Stop()
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.duration >= 0 {
		cfg.General.Duration = f.duration
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Printf("Starting %s", version.UserAgent())

	caster, err := app.New(cfg, app.Options{UseTUI: useTUI})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, runErr := caster.Run(ctx)
	printSummary(os.Stdout, report, caster.Snapshot().Uptime)

	if runErr != nil {
		return runErr
	}
	log.Printf("Caster stopped")
	return nil
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
