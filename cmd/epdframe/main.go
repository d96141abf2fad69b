// Command epdframe is the scheduled update daemon: it wakes on the
// configured slot table, pulls the rendered calendar bitplanes from the
// image server and streams them to the e-paper panel, then sleeps until the
// next slot.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"epdframe/internal/battery"
	"epdframe/internal/bus"
	"epdframe/internal/config"
	appLog "epdframe/internal/log"
	"epdframe/internal/panel"
	"epdframe/internal/schedule"
	"epdframe/internal/serverapi"
	"epdframe/internal/update"
)

type flagConfig struct {
	configPath string
	serverURL  string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("epdframe starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.serverURL != "" {
		conf.ServerURL = flags.serverURL
	}

	appLog.Info("effective config",
		"server_url", conf.ServerURL,
		"timezone", conf.Timezone,
		"slots", len(conf.Slots),
		"window_minutes", conf.WindowMinutes,
		"refresh_cron", conf.RefreshCron,
		"once", flags.once,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	clock := clockwork.NewRealClock()

	transport, err := bus.Open(conf.Pins)
	if err != nil {
		appLog.Error("failed to open panel bus", err)
		os.Exit(1)
	}
	display := panel.New(transport, clock)
	client := serverapi.NewClient(conf.ServerURL)
	orch := update.New(display, client, clock)

	loc := schedule.ResolveLocation(conf.Timezone)
	sched, err := schedule.New(conf.Slots, conf.WindowMinutes, conf.EmergencyRetryMinutes, loc)
	if err != nil {
		appLog.Error("invalid slot table", err)
		os.Exit(1)
	}

	batt := battery.DefaultReader()

	if flags.once {
		logBattery(ctx, batt)
		runUpdate(ctx, orch, display, client)
		return
	}

	// The forced-refresh cron only nudges the wake loop; updates never
	// overlap because the loop below is the only runner.
	forced := make(chan struct{}, 1)
	if conf.RefreshCron != "" {
		c := cron.New()
		if _, err := c.AddFunc(conf.RefreshCron, func() {
			select {
			case forced <- struct{}{}:
			default:
			}
		}); err != nil {
			appLog.Error("invalid refresh_cron, ignoring", err, "refresh_cron", conf.RefreshCron)
		} else {
			c.Start()
			defer c.Stop()
		}
	}

	wakeLoop(ctx, clock, sched, client, orch, display, batt, forced)
	appLog.Info("epdframe exiting")
}

// wakeLoop is the device's wake/sleep cycle: snapshot the server clock,
// update when inside a slot window, sleep until the next slot. An
// unreachable server clock triggers the emergency policy: update now, retry
// on a short fixed interval.
func wakeLoop(
	ctx context.Context,
	clock clockwork.Clock,
	sched *schedule.Scheduler,
	client *serverapi.Client,
	orch *update.Orchestrator,
	display *panel.Driver,
	batt battery.Reader,
	forced <-chan struct{},
) {
	for {
		logBattery(ctx, batt)

		var sleepFor time.Duration
		snap := fetchSnapshot(ctx, client, clock)
		if !snap.Valid() {
			appLog.Info("server time unknown, emergency update now")
			runUpdate(ctx, orch, display, client)
			sleepFor = sched.EmergencyRetry()
		} else {
			now := snap.Now(clock)
			if sched.InUpdateWindow(now) {
				runUpdate(ctx, orch, display, client)
			} else {
				appLog.Debug("wake outside update window", "now", now.Format(time.RFC3339))
			}
			sleepFor = sched.NextWake(snap.Now(clock))
		}

		appLog.Info("sleeping until next wake", "sleep", sleepFor.String())
		select {
		case <-ctx.Done():
			return
		case <-forced:
			appLog.Info("forced refresh triggered")
			runUpdate(ctx, orch, display, client)
		case <-clock.After(sleepFor):
		}
	}
}

func fetchSnapshot(ctx context.Context, client *serverapi.Client, clock clockwork.Clock) schedule.TimeSnapshot {
	serverTime, err := client.FetchServerTime(ctx)
	if err != nil {
		appLog.Error("status fetch failed", err)
		return schedule.TimeSnapshot{}
	}
	return schedule.NewSnapshot(serverTime, clock)
}

func runUpdate(
	ctx context.Context,
	orch *update.Orchestrator,
	display *panel.Driver,
	client *serverapi.Client,
) {
	res, err := orch.Run(ctx)
	if err != nil {
		// Fatal for this attempt only; the next wake retries from scratch.
		appLog.Error("update aborted", err)
		return
	}
	display.Sleep()
	appLog.Info("panel updated",
		"bw_received", res.BlackWhite.Received,
		"red_received", res.Red.Received,
		"red_fallback", res.RedFellBack,
		"preview", client.PreviewURL(),
	)
}

func logBattery(ctx context.Context, batt battery.Reader) {
	status, err := batt.Read(ctx)
	if err != nil {
		appLog.Debug("battery status unavailable", "reason", err.Error())
		return
	}
	appLog.Info("battery status", "percent", status.Percent, "voltage_mv", status.VoltageMv)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epdframe/config.yaml", "Path to config file")
	flag.StringVar(&cfg.serverURL, "server", "", "Image server base URL (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one update and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
