package scheduler

import (
	"log/slog"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// NewLoggingWrapper logs the start and end of every run with a per-run
// execution id.
func NewLoggingWrapper(logger *slog.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			jobLogger := logger.With(
				slog.String("job_name", jobName(j)),
				slog.String("execution_id", uuid.NewString()),
			)

			start := time.Now()
			jobLogger.Info("job started")

			j.Run()

			jobLogger.Info("job finished", slog.Duration("duration", time.Since(start)))
		})
	}
}

// NewPanicRecoveryWrapper keeps a panicking job from taking the process down.
func NewPanicRecoveryWrapper(logger *slog.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("job panicked",
						slog.String("job_name", jobName(j)),
						slog.Any("panic", r),
						slog.String("stack_trace", string(debug.Stack())),
					)
				}
			}()

			j.Run()
		})
	}
}

func jobName(j cron.Job) string {
	if named, ok := j.(interface{ Name() string }); ok {
		return named.Name()
	}

	t := reflect.TypeOf(j)
	if t.Kind() == reflect.Pointer {
		return t.Elem().String()
	}
	return t.String()
}
