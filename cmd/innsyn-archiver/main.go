package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

const version = "1.0.0"

const defaultConfigFile = "config.yaml"

// Exit codes. Only configuration and usage problems make the process fail; unit failures are
// recorded in the state store and the run summary instead.
const (
	exitOK     = 0
	exitError  = 1
	exitUsage  = 2
	exitSignal = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// app carries the global flags and the writers shared by all subcommands.
type app struct {
	configFile string
	logLevel   string
	pprofAddr  string

	stdout io.Writer
	stderr io.Writer

	// Set by prepare so a usage error can list the configured portals.
	appCfg *config.AppConfig
}

// usageError marks an error caused by bad arguments rather than by the run itself.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func isUsageError(err error) bool {
	var ue usageError
	return errors.As(err, &ue) ||
		errors.Is(err, utils.ErrUnknownPortal) ||
		errors.Is(err, utils.ErrInvalidDate) ||
		strings.HasPrefix(err.Error(), "unknown command")
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteC()
	if err == nil {
		return exitOK
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	if isUsageError(err) {
		fmt.Fprintln(stderr)
		fmt.Fprint(stderr, cmd.UsageString())
		fmt.Fprintf(stderr, "\nSupported portals: %s\n", strings.Join(a.portalKeys(), ", "))
		return exitUsage
	}
	return exitError
}

func (a *app) portalKeys() []string {
	if a.appCfg != nil {
		return a.appCfg.PortalKeys()
	}
	return config.Default().PortalKeys()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "innsyn-archiver",
		Short: "Archive Norwegian municipal public records (innsyn) and upload them to a document index",
		Long: `innsyn-archiver walks the daily journal listings of municipal innsyn portals, stores every
case with its metadata and attachments under <output_dir>/YYYY/MM/DD, and can re-upload the
archive to a tellusr document index.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
	root.PersistentFlags().StringVar(&a.configFile, "config", defaultConfigFile, "Path to YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	root.PersistentFlags().StringVar(&a.pprofAddr, "pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	root.AddCommand(
		a.crawlCommand(),
		a.retryCommand(),
		a.failedCommand(),
		a.followCommand(),
		a.uploadCommand(),
		a.portalsCommand(),
		a.validateCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(a.stdout, "innsyn-archiver %s\n", version)
			},
		},
	)
	return root
}

// exactArgs is cobra.ExactArgs reported as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// loadConfig loads and parses the config file. A missing default config file means the
// built-in portals with default settings.
func loadConfig(path string, explicit bool) (*config.AppConfig, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string, w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}
	return log
}

// prepare loads and validates the config and builds the logger for a subcommand.
func (a *app) prepare(cmd *cobra.Command) (*config.AppConfig, *logrus.Logger, error) {
	log := setupLogger(a.logLevel, a.stderr)

	explicit := cmd.Flags().Changed("config")
	appCfg, err := loadConfig(a.configFile, explicit)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", utils.ErrConfigValidation, err)
	}
	warnings, err := appCfg.Validate()
	if err != nil {
		return nil, nil, err
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	a.appCfg = appCfg
	startPprof(a.pprofAddr, log)
	return appCfg, log, nil
}

// validatePortals validates each selected portal and logs its warnings.
func validatePortals(portals []config.PortalConfig, log *logrus.Logger) error {
	for i := range portals {
		warnings, err := portals[i].Validate()
		if err != nil {
			return err
		}
		for _, w := range warnings {
			log.Warnf("[%s] %s", portals[i].Key, w)
		}
	}
	return nil
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr == "" {
		return
	}
	go func() {
		log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Errorf("pprof server error: %v", err)
		}
	}()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. A second signal, or a stuck
// shutdown, forces the process to exit.
func signalContext(parent context.Context, log *logrus.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-done:
			return
		}
		log.Warnf("Received signal: %v. Finishing the current case, press Ctrl+C again to force exit...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(exitSignal)
		case <-time.After(2 * time.Minute):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(exitSignal)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(done)
		cancel()
	}
}
