package sweep

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	TaskType = "presence:sweep"
	Queue    = "presence"
)

// AsynqRunner schedules the sweep as a periodic asynq task. Each process runs
// a scheduler and a single-worker server; asynq.Unique collapses the
// duplicate enqueues of concurrent schedulers.
type AsynqRunner struct {
	runner    *Runner
	scheduler *asynq.Scheduler
	server    *asynq.Server
	mux       *asynq.ServeMux
}

func NewAsynqRunner(redisURL string, runner *Runner) (*AsynqRunner, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	logger := asynqLogger{log.With().Str("module", "sweep.asynq").Logger()}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskType, HandleTask(runner))

	return &AsynqRunner{
		runner: runner,
		scheduler: asynq.NewScheduler(opt, &asynq.SchedulerOpts{
			Logger:   logger,
			LogLevel: asynq.WarnLevel,
		}),
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{Queue: 1},
			Logger:      logger,
			LogLevel:    asynq.WarnLevel,
		}),
		mux: mux,
	}, nil
}

// Run registers the periodic task and processes it until ctx is done.
func (a *AsynqRunner) Run(ctx context.Context) error {
	interval := a.runner.Interval()
	_, err := a.scheduler.Register(
		fmt.Sprintf("@every %s", interval),
		asynq.NewTask(TaskType, nil),
		asynq.Queue(Queue),
		asynq.Unique(interval),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return fmt.Errorf("register sweep task: %w", err)
	}
	if err := a.server.Start(a.mux); err != nil {
		return fmt.Errorf("start sweep worker: %w", err)
	}
	if err := a.scheduler.Start(); err != nil {
		a.server.Shutdown()
		return fmt.Errorf("start sweep scheduler: %w", err)
	}

	<-ctx.Done()
	a.scheduler.Shutdown()
	a.server.Shutdown()
	return nil
}

// HandleTask runs one single-flight tick per delivered task.
func HandleTask(runner *Runner) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, _ *asynq.Task) error {
		runner.Tick(ctx)
		return nil
	}
}

type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
