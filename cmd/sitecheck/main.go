package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/audit"
	"github.com/HerbHall/sitecheck/internal/config"
	"github.com/HerbHall/sitecheck/internal/driver"
	"github.com/HerbHall/sitecheck/internal/event"
	"github.com/HerbHall/sitecheck/internal/metrics"
	"github.com/HerbHall/sitecheck/internal/monitor"
	"github.com/HerbHall/sitecheck/internal/report"
	"github.com/HerbHall/sitecheck/internal/site"
	"github.com/HerbHall/sitecheck/internal/store"
	"github.com/HerbHall/sitecheck/internal/topology"
	"github.com/HerbHall/sitecheck/internal/transport"
	"github.com/HerbHall/sitecheck/internal/version"
)

const usage = `usage: sitecheck <command> [flags]

commands:
  audit     probe every device in the topology once (default)
  monitor   audit continuously and serve metrics
  history   list recent runs
  version   print version information
`

func main() {
	cmd, args := "audit", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "audit":
		err = runAudit(args)
	case "monitor":
		err = runMonitor(args)
	case "history":
		err = runHistory(args)
	case "version":
		fmt.Println(version.Info())
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if errors.Is(err, errDevicesFailed) {
		os.Exit(3)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitecheck %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// errDevicesFailed makes a completed audit with failures exit non-zero.
var errDevicesFailed = errors.New("devices failed")

type commonFlags struct {
	config   string
	topology string
	workers  int
}

func parseFlags(name string, args []string, extra func(fs *flag.FlagSet)) (commonFlags, error) {
	var f commonFlags
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&f.config, "config", "", "path to configuration file")
	fs.StringVar(&f.topology, "topology", "", "path to topology YAML (overrides topology.path)")
	fs.IntVar(&f.workers, "workers", 0, "concurrent probes (overrides audit.workers)")
	if extra != nil {
		extra(fs)
	}
	return f, fs.Parse(args)
}

// app is everything a command needs once configuration is loaded.
type app struct {
	settings config.Settings
	logger   *zap.Logger
	bus      *event.Bus
	deps     driver.Deps
	site     *site.Summarizer
	metrics  *metrics.Recorder
}

func setup(f commonFlags) (*app, error) {
	v, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	if f.topology != "" {
		v.Set("topology.path", f.topology)
	}
	if f.workers > 0 {
		v.Set("audit.workers", f.workers)
	}
	settings, err := config.Decode(v)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	if file := v.ConfigFileUsed(); file != "" {
		logger.Debug("configuration loaded", zap.String("component", "config"), zap.String("source", file))
	}

	tc := settings.Transport
	httpClient := transport.NewHTTPClient(tc.HTTPTimeout, logger.Named("transport.http"))
	pinger := transport.NewICMPPinger(tc.Ping, logger.Named("transport.ping"))
	if err := pinger.Check(context.Background()); err != nil {
		return nil, fmt.Errorf("initialize ping transport: %w", err)
	}
	arp := transport.NewARPReader(logger.Named("transport.arp"))

	deps := driver.Deps{
		SSH:     transport.NewSSHDialer(tc.SSH, logger.Named("transport.ssh")),
		HTTP:    httpClient,
		Pinger:  pinger,
		ARP:     arp,
		SNMP:    transport.NewSNMPClient(tc.SNMP, logger.Named("transport.snmp")),
		Backups: driver.NewBackupWriter(settings.Backup.Dir, logger.Named("backup")),
		Config:  settings.Drivers,
		Logger:  logger,
	}
	sensors := driver.NewPDU(httpClient, arp, nil, settings.Drivers, logger.Named("driver.pdu"))

	a := &app{
		settings: settings,
		logger:   logger,
		bus:      event.NewBus(logger.Named("event")),
		deps:     deps,
		site:     site.New(settings.Site, httpClient, pinger, sensors, logger.Named("site")),
		metrics:  metrics.NewRecorder(logger.Named("metrics")),
	}
	a.metrics.Attach(a.bus)
	return a, nil
}

func (a *app) loadTopology() (*topology.Topology, error) {
	loader, err := topology.NewLoader(a.settings.Topology.EnvFile, a.logger.Named("topology"))
	if err != nil {
		return nil, err
	}
	return loader.Load(a.settings.Topology.Path)
}

func (a *app) openStore(ctx context.Context) (*store.History, error) {
	return store.Open(ctx, a.settings.Database.Path, version.Short())
}

// attachOutputs subscribes the console printer and the critical failure log
// to run events. The returned func closes the log.
func (a *app) attachOutputs(out io.Writer) (closeLog func()) {
	failures := audit.NewFailureLog(a.settings.Logging.FailureDir, a.logger.Named("failures"))
	failures.Attach(a.bus)
	audit.NewPrinter(out).Attach(a.bus)
	return func() { _ = failures.Close() }
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runAudit(args []string) error {
	var noReport bool
	f, err := parseFlags("audit", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&noReport, "no-report", false, "skip writing the JSON report")
	})
	if err != nil {
		return err
	}
	a, err := setup(f)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	topo, err := a.loadTopology()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	defer a.attachOutputs(os.Stdout)()

	orch := audit.NewOrchestrator(a.settings.Audit, driver.NewDefaultRegistry(a.deps), a.site, a.bus, a.logger.Named("audit"))
	payload, runErr := orch.Run(ctx, topo.Project, topo.Devices)
	if payload == nil {
		return runErr
	}

	if !noReport {
		if _, err := report.NewWriter(a.settings.Report.Dir, a.logger.Named("report")).Write(payload); err != nil {
			a.logger.Error("writing report failed", zap.Error(err))
		}
	}

	db, err := a.openStore(context.WithoutCancel(ctx))
	if err != nil {
		a.logger.Warn("run history unavailable", zap.Error(err))
	} else {
		defer db.Close()
		if err := db.SaveRun(context.WithoutCancel(ctx), payload); err != nil {
			a.logger.Warn("saving run failed", zap.Error(err))
		}
	}

	if errors.Is(runErr, audit.ErrAborted) {
		return runErr
	}
	if payload.Stats.Fail > 0 {
		return errDevicesFailed
	}
	return nil
}

func runMonitor(args []string) error {
	f, err := parseFlags("monitor", args, nil)
	if err != nil {
		return err
	}
	a, err := setup(f)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	topo, err := a.loadTopology()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	db, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	defer a.attachOutputs(os.Stdout)()

	full := audit.NewOrchestrator(a.settings.Audit, driver.NewDefaultRegistry(a.deps), a.site, a.bus, a.logger.Named("audit"))
	// Later passes only check reachability; identity comes from history.
	ping := driver.NewPing(a.deps.Pinger, a.logger.Named("driver.ping"))
	quick := audit.NewOrchestrator(a.settings.Audit, driver.NewRegistry(ping, a.logger), nil, a.bus, a.logger.Named("audit.quick"))

	a.logger.Info("sitecheck monitor starting",
		zap.String("version", version.Short()),
		zap.Int("devices", len(topo.Devices)),
		zap.Duration("interval", a.settings.Monitor.Interval),
	)
	m := monitor.New(a.settings.Monitor, full, quick, db, a.metrics.Handler(), a.logger.Named("monitor"))
	return m.Run(ctx, topo.Project, topo.Devices)
}

func runHistory(args []string) error {
	var limit int
	f, err := parseFlags("history", args, func(fs *flag.FlagSet) {
		fs.IntVar(&limit, "n", 10, "number of runs to list")
	})
	if err != nil {
		return err
	}
	v, err := config.Load(f.config)
	if err != nil {
		return err
	}
	settings, err := config.Decode(v)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := store.Open(ctx, settings.Database.Path, version.Short())
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	printHistory(os.Stdout, runs)
	return nil
}

func printHistory(w io.Writer, runs []store.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tPROJECT\tREF\tTOTAL\tPASS\tFAIL\tSKIPPED\tPUBLIC IP\tRUN")
	for _, r := range runs {
		status := r.ID
		if r.Aborted {
			status += " (aborted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Project, r.Reference,
			r.Stats.Total, r.Stats.Pass, r.Stats.Fail, r.Skipped, r.PublicIP, status)
	}
	_ = tw.Flush()
}
