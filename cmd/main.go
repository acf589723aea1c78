package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"github.com/tarungka/lifelog/checkpoint"
	"github.com/tarungka/lifelog/internal/logger"
	"github.com/tarungka/lifelog/internal/metrics"
	"github.com/tarungka/lifelog/internal/utils"
	"github.com/tarungka/lifelog/pipeline"
	"github.com/tarungka/lifelog/server"
	"github.com/tarungka/lifelog/state"
)

const (
	defaultInterval = 15 * time.Minute
	defaultStateDir = "~/.local/state/lifelog"
)

var buildString = "unknown"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	cancel()
	os.Exit(code)
}

// run returns the process exit status: 0 on success, 1 when a run failed
// in --once mode or the setup failed, 2 on bad flags
func run(ctx context.Context, args []string, stdout io.Writer) int {
	ko := koanf.New(".")
	f := newFlagSet(stdout)
	if err := loadConfig(ko, f, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if v, _ := f.GetBool("version"); v {
		fmt.Fprintln(stdout, buildString)
		return 0
	}

	closeLog, err := setupLogging(ko)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer closeLog()

	log.Info().Str("build", buildString).Msg("Starting lifelog")
	if err := runPipelines(ctx, ko); err != nil {
		log.Error().Err(err).Msg("lifelog failed")
		return 1
	}
	return 0
}

func setupLogging(ko *koanf.Koanf) (func(), error) {
	if err := logger.SetLevel(ko.String("log.level")); err != nil {
		return nil, err
	}
	logger.SetDevelopment(ko.Bool("log.pretty"))

	closeLog := func() {}
	if path := ko.String("log.file"); path != "" {
		file, err := os.OpenFile(utils.ExpandHome(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger.SetLogFile(file)
		closeLog = func() { file.Close() }
	}

	log.Logger = logger.GetLogger("lifelog")
	return closeLog, nil
}

func runPipelines(ctx context.Context, ko *koanf.Koanf) error {
	var stateConfig state.Config
	if err := ko.Unmarshal("checkpoint", &stateConfig); err != nil {
		return fmt.Errorf("checkpoint config: %w", err)
	}
	if stateConfig.Path == "" {
		stateConfig.Path = state.DefaultPath(stateConfig.Backend, defaultStateDir)
	}
	stateConfig.Path = utils.ExpandHome(stateConfig.Path)

	backend, err := state.New(stateConfig, logger.GetLogger("state"))
	if err != nil {
		return err
	}
	checkpoints := checkpoint.NewManager(backend, logger.GetLogger("checkpoint"))
	defer checkpoints.Close()

	settings, err := pipeline.ParseSettings(ko)
	if err != nil {
		return err
	}
	srcConfigs, snkConfigs, err := pipeline.ParseConfig(ko)
	if err != nil {
		return err
	}
	set, err := pipeline.Build(srcConfigs, snkConfigs, logger.GetLogger("pipeline"))
	if err != nil {
		return err
	}
	selected, err := set.Select(ko.Strings("source"))
	if err != nil {
		return err
	}

	if err := set.Open(ctx); err != nil {
		return err
	}
	defer set.Close()

	m := metrics.New()
	history := pipeline.NewHistory(0)
	driver := pipeline.NewDriver(checkpoints, logger.GetLogger("driver"),
		pipeline.WithMetrics(m),
		pipeline.WithHistory(history),
		pipeline.WithParallelism(settings.Parallelism),
		pipeline.WithDryRun(ko.Bool("dry-run")),
	)

	if addr := ko.String("server.listen"); addr != "" {
		srv := server.New(addr, history, checkpoints, m, logger.GetLogger("server"))
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	once := ko.Bool("once")
	runOnce := func() error {
		start := time.Now()
		reports, err := driver.RunAll(ctx, selected)
		emitted := 0
		for _, r := range reports {
			emitted += r.Emitted
		}
		log.Info().Int("sources", len(selected)).Int("emitted", emitted).
			Dur("took", time.Since(start).Truncate(time.Millisecond)).Msg("cycle finished")
		return err
	}

	log.Info().Int("sources", len(selected)).Bool("once", once).Dur("interval", settings.Interval).Msg("lifelog started")
	err = runOnce()
	if once {
		return err
	}
	if err != nil {
		// the failed sources are retried on the next tick
		log.Warn().Err(err).Msg("cycle had failures")
	}

	ticker := time.NewTicker(settings.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("stopping: %v", ctx.Err())
			return nil
		case <-ticker.C:
			if err := runOnce(); err != nil {
				log.Warn().Err(err).Msg("cycle had failures")
			}
		}
	}
}

