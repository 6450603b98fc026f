// NMR Lab Core - experiment orchestration for a pulsed NMR spectrometer
// inside a PPMS cryostat.
//
// nmrlab loads a queue file describing a sample and its commands, opens the
// digitizer and the environment controller, and runs the queue once:
//
//	nmrlab -config configs/config.yaml -queue runs/queue.yaml
//
// The process exits 0 when every command completed and 1 otherwise.
// SIGINT/SIGTERM abort the run at the next repeat or poll boundary.
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
	"time"

	"github.com/nerrad567/nmr-lab-core/internal/bridges/adq"
	"github.com/nerrad567/nmr-lab-core/internal/command"
	"github.com/nerrad567/nmr-lab-core/internal/environment"
	"github.com/nerrad567/nmr-lab-core/internal/infrastructure/config"
	"github.com/nerrad567/nmr-lab-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/nmr-lab-core/internal/infrastructure/logging"
	"github.com/nerrad567/nmr-lab-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/nmr-lab-core/internal/process"
	"github.com/nerrad567/nmr-lab-core/internal/scheduler"
	"github.com/nerrad567/nmr-lab-core/internal/spectrometer"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// errRunIncomplete is returned when the run ends with any code other than
// scheduler.CodeCompleted.
var errRunIncomplete = errors.New("run did not complete")

// options are the parsed command-line flags.
type options struct {
	configPath string
	queuePath  string
	validate   bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. Unset paths fall back to
// NMRLAB_CONFIG / NMRLAB_QUEUE.
func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("nmrlab", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.configPath, "config", getConfigPath(), "path to the YAML configuration file")
	fs.StringVar(&opts.queuePath, "queue", os.Getenv("NMRLAB_QUEUE"), "path to the queue file to run")
	fs.BoolVar(&opts.validate, "validate", false, "load config and queue, report problems, and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.queuePath == "" {
		return options{}, errors.New("no queue file: pass -queue or set NMRLAB_QUEUE")
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on shutdown signals; cancellation aborts the run
//   - args: Command-line arguments without the program name
//   - stdout: Destination for the -validate report
//
// Returns:
//   - error: nil when every command completed
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	baseLog, closeLog, err := logging.Open(cfg.Logging, version)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	log := baseLog.ForLab(cfg.Lab.ID)
	log.Info("starting NMR Lab Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	queue, sample, err := command.LoadQueueFile(opts.queuePath)
	if err != nil {
		return fmt.Errorf("loading queue: %w", err)
	}
	log.Info("queue loaded", "path", opts.queuePath, "commands", queue.Len())

	if opts.validate {
		return report(stdout, cfg, queue, sample)
	}

	if daemon, err := startGatewayDaemon(ctx, cfg.Spectrometer, log); err != nil {
		return err
	} else if daemon != nil {
		defer func() {
			if stopErr := daemon.Stop(); stopErr != nil {
				log.Error("error stopping gateway daemon", "error", stopErr)
			}
		}()
	}

	// Engines own their devices from here; Shutdown closes them.
	dev, err := openSpectrometer(ctx, cfg.Spectrometer, log)
	if err != nil {
		return err
	}
	specEngine := spectrometer.NewEngine(dev, spectrometer.Config{
		RecordLength: cfg.Spectrometer.RecordLength,
		MinWindow:    cfg.Spectrometer.Window,
		Settle:       cfg.Spectrometer.Settle,
		MaxAttempts:  cfg.Spectrometer.MaxAttempts,
	})
	specEngine.SetLogger(log.Component("spectrometer"))
	defer func() {
		log.Info("stopping spectrometer engine")
		specEngine.Shutdown()
		logSpectrometerStats(log, specEngine.Stats())
		if gw, ok := dev.(*adq.Client); ok {
			logGatewayStats(log, gw.Stats())
		}
	}()

	inst, err := openEnvironment(cfg.Environment, log)
	if err != nil {
		return err
	}
	envEngine := environment.NewEngine(inst, environment.Config{
		PollInterval:    cfg.Environment.PollInterval,
		SetpointTimeout: cfg.Environment.SetpointTimeout,
	})
	envEngine.SetLogger(log.Component("environment"))
	defer func() {
		log.Info("stopping environment engine")
		envEngine.Shutdown()
		logEnvironmentStats(log, envEngine.Stats())
	}()

	// Engines run on their own context; the scheduler sees ctx and the
	// deferred Shutdowns stop the engines.
	if err := specEngine.Start(context.Background()); err != nil {
		return fmt.Errorf("starting spectrometer engine: %w", err)
	}
	if err := envEngine.Start(context.Background()); err != nil {
		return fmt.Errorf("starting environment engine: %w", err)
	}

	sched := scheduler.New(queue, specEngine, envEngine, scheduler.Config{
		BaseDir: cfg.Output.BaseDir,
		Sample:  sample,
	})
	sched.SetLogger(log.Component("scheduler"))

	var (
		mqttClient   *mqtt.Client
		influxClient *influxdb.Client
	)
	if cfg.MQTT.Enabled {
		client, err := connectMQTT(cfg, sched, log)
		if err != nil {
			return err
		}
		mqttClient = client
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetLabID(cfg.Lab.ID)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		envEngine.SetTelemetry(influxClient)
		sched.SetTelemetry(influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting run: %w", err)
	}
	setRunState(mqttClient, mqtt.RunStateRunning, log)

	// ctx cancellation aborts the run; Wait still collects its completion.
	completion, err := sched.Wait(context.Background())
	if err != nil {
		return fmt.Errorf("waiting for run: %w", err)
	}
	setRunState(mqttClient, mqtt.RunStateIdle, log)

	log.Info("NMR Lab Core finished",
		"code", completion.Code.String(),
		"last_index", completion.LastIndex,
		"dir", completion.Dir,
	)
	if completion.Code != scheduler.CodeCompleted {
		if completion.Err != nil {
			return fmt.Errorf("%w: %s at command %d: %w", errRunIncomplete, completion.Code, completion.LastIndex, completion.Err)
		}
		return fmt.Errorf("%w: %s at command %d", errRunIncomplete, completion.Code, completion.LastIndex)
	}
	return nil
}

// logSpectrometerStats records the spectrometer engine's counters for the
// run in the lab logbook.
func logSpectrometerStats(log *logging.Logger, st spectrometer.Stats) {
	log.Info("spectrometer engine stats",
		"commands_run", st.CommandsRun,
		"repeats_acquired", st.RepeatsAcquired,
		"repeats_failed", st.RepeatsFailed,
		"register_writes", st.RegisterWrites,
		"read_back_errors", st.ReadBackErrors,
	)
}

// logEnvironmentStats records the environment engine's counters.
func logEnvironmentStats(log *logging.Logger, st environment.Stats) {
	log.Info("environment engine stats",
		"setpoints_run", st.SetpointsRun,
		"polls_served", st.PollsServed,
		"query_errors", st.QueryErrors,
	)
}

// logGatewayStats records the digitizer gateway connection's counters.
// A run whose gateway dropped mid-run shows connected=false.
func logGatewayStats(log *logging.Logger, st adq.Stats) {
	log.Info("gateway connection stats",
		"requests", st.RequestsTotal,
		"errors", st.ErrorsTotal,
		"last_activity", st.LastActivity,
		"connected", st.Connected,
	)
}

// getConfigPath returns the configuration file path.
// Uses NMRLAB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NMRLAB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// setRunState updates the retained MQTT status when MQTT is enabled.
func setRunState(client *mqtt.Client, state string, log *logging.Logger) {
	if client == nil {
		return
	}
	if err := client.SetRunState(state); err != nil {
		log.Warn("failed to publish run state", "state", state, "error", err)
	}
}

// healthCheck verifies the optional telemetry connections before any
// command is dispatched. nil clients are skipped.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// startGatewayDaemon launches the digitizer gateway when it is managed by
// nmrlab and waits until its socket accepts connections.
//
// Returns:
//   - *process.Supervisor: The running daemon, or nil when not managed or
//     when it failed and fallback to the simulated device is enabled
//   - error: If the daemon cannot be started and fallback is disabled
func startGatewayDaemon(ctx context.Context, cfg config.SpectrometerConfig, log *logging.Logger) (*process.Supervisor, error) {
	d := cfg.Daemon
	if cfg.Driver != config.DriverADQ || !d.Managed {
		return nil, nil
	}

	sup, err := process.New(process.Config{
		Name:             "adqd",
		Binary:           d.Binary,
		Args:             d.Args,
		RestartOnFailure: d.RestartOnFailure,
		RestartDelay:     d.RestartDelay,
		MaxRestarts:      d.MaxRestarts,
		ReadyTimeout:     d.ReadyTimeout,
		Ready: func(ctx context.Context) error {
			return adq.Probe(ctx, cfg.Gateway)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("configuring gateway daemon: %w", err)
	}
	sup.SetLogger(log.Component("adqd"))

	if err := sup.Start(ctx); err != nil {
		if !cfg.FallbackToSimulated {
			return nil, fmt.Errorf("starting gateway daemon: %w", err)
		}
		log.Warn("gateway daemon failed to start", "binary", d.Binary, "error", err)
		return nil, nil
	}
	return sup, nil
}

// openSpectrometer builds the digitizer for the configured driver.
//
// Returns:
//   - spectrometer.Device: The gateway client, or the simulated device when
//     the driver is "simulated" or the gateway is unreachable and fallback
//     is enabled
//   - error: If the gateway cannot be reached and fallback is disabled
func openSpectrometer(ctx context.Context, cfg config.SpectrometerConfig, log *logging.Logger) (spectrometer.Device, error) {
	if cfg.Driver == config.DriverADQ {
		client, err := adq.Connect(ctx, adq.Config{
			Connection:     cfg.Gateway,
			ConnectTimeout: cfg.ConnectTimeout,
		})
		if err == nil {
			client.SetLogger(log.Component("adq"))
			log.Info("digitizer gateway connected", "gateway", cfg.Gateway)
			return client, nil
		}
		if !cfg.FallbackToSimulated {
			return nil, fmt.Errorf("connecting to digitizer gateway: %w", err)
		}
		log.Warn("digitizer gateway unavailable, using simulated spectrometer",
			"gateway", cfg.Gateway,
			"error", err,
		)
	}

	log.Info("using simulated spectrometer", "sample_rate_hz", cfg.SampleRateHz)
	return spectrometer.NewSimulatedDevice(cfg.SampleRateHz, uint64(time.Now().UnixNano())), nil
}

// openEnvironment builds the PPMS controller transport for the configured
// driver, falling back to the simulated instrument when allowed.
func openEnvironment(cfg config.EnvironmentConfig, log *logging.Logger) (environment.Instrument, error) {
	var (
		inst environment.Instrument
		err  error
	)
	switch cfg.Driver {
	case config.DriverGPIB:
		var g *environment.GPIBInstrument
		if g, err = environment.OpenGPIB(cfg.Port, cfg.GPIBAddress); err == nil {
			inst = g
		}
	case config.DriverSerial:
		var l *environment.LineInstrument
		if l, err = environment.OpenSerial(environment.SerialConfig{
			Port:        cfg.Port,
			Baud:        cfg.Baud,
			ReadTimeout: cfg.ReadTimeout,
		}); err == nil {
			inst = l
		}
	default:
		log.Info("using simulated PPMS", "speedup", cfg.SimulatedSpeedup)
		return environment.NewSimulatedPPMS(cfg.SimulatedSpeedup), nil
	}

	if err == nil {
		log.Info("PPMS controller opened", "driver", cfg.Driver, "port", cfg.Port)
		return inst, nil
	}
	if !cfg.FallbackToSimulated {
		return nil, fmt.Errorf("opening PPMS controller: %w", err)
	}
	log.Warn("PPMS controller unavailable, using simulated PPMS",
		"driver", cfg.Driver,
		"port", cfg.Port,
		"error", err,
	)
	return environment.NewSimulatedPPMS(cfg.SimulatedSpeedup), nil
}

// connectMQTT connects to the broker, publishes run events through a
// scheduler listener and aborts the run on nmrlab/run/abort.
func connectMQTT(cfg *config.Config, sched *scheduler.Scheduler, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	qos := byte(cfg.MQTT.QoS)
	sched.AddListener(scheduler.NewMQTTListener(client, qos, log.Component("events")))

	abortTopic := mqtt.Topics{}.RunAbort()
	err = client.Subscribe(abortTopic, qos, func(_ string, payload []byte) error {
		log.Warn("abort requested over MQTT", "payload_bytes", len(payload))
		sched.Abort()
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", abortTopic, err)
	}
	return client, nil
}

// report prints what a run would do without opening any instrument.
func report(w io.Writer, cfg *config.Config, queue *command.Queue, sample *command.Sample) error {
	fmt.Fprintf(w, "lab:          %s\n", cfg.Lab.ID)
	fmt.Fprintf(w, "output:       %s\n", cfg.Output.BaseDir)
	fmt.Fprintf(w, "spectrometer: %s\n", cfg.Spectrometer.Driver)
	fmt.Fprintf(w, "environment:  %s\n", cfg.Environment.Driver)

	if sample == nil || !sample.ValidName() {
		fmt.Fprintln(w, "sample:       (missing name)")
	} else {
		fmt.Fprintf(w, "sample:       %s\n", sample.Name)
	}
	for i, cmd := range queue.Commands() {
		fmt.Fprintf(w, "%3d  %-10s %q\n", i, cmd.Kind(), cmd.Label())
	}

	switch {
	case queue.Len() == 0:
		return fmt.Errorf("%w: queue is empty", scheduler.ErrNoCommands)
	case sample == nil || !sample.ValidName():
		return fmt.Errorf("%w: sample name missing or invalid", scheduler.ErrNoOutputDirectory)
	}
	return nil
}
