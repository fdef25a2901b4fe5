package jobs

import (
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Handlers groups the task handlers the worker runs.
type Handlers struct {
	Submit    *SubmitJob
	Scheduled *ScheduledSubmissionsJob
	Recurring *RecurringProcessJob
	Cleanup   *CleanupArchiveJob
}

// Server runs the asynq consumer and its cron scheduler.
type Server struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
}

// NewServer wires the worker. Submission uploads get their own queue so a
// slow authority never starves the crons.
func NewServer(redisAddr string, h Handlers, logger *slog.Logger) *Server {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				QueueSubmissions: 6,
				QueueDefault:     4,
			},
		},
	)

	mux := asynq.NewServeMux()
	if h.Submit != nil {
		mux.HandleFunc(TaskSubmitDocument, h.Submit.Handle)
	}
	if h.Scheduled != nil {
		mux.HandleFunc(TaskScheduledSubmissions, h.Scheduled.Handle)
	}
	if h.Recurring != nil {
		mux.HandleFunc(TaskRecurringProcess, h.Recurring.Handle)
	}
	if h.Cleanup != nil {
		mux.HandleFunc(TaskCleanupArchive, h.Cleanup.Handle)
	}

	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: redisAddr}, &asynq.SchedulerOpts{
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logger.Error("cron enqueue failed", slog.Any("error", err))
			}
		},
	})

	return &Server{server: server, mux: mux, scheduler: scheduler}
}

// cron entries. Scheduled submissions poll often; the per-invoice timestamps
// already encode the nightly upload window.
var cronEntries = []struct {
	spec string
	task func() *asynq.Task
}{
	{"*/15 * * * *", NewScheduledSubmissionsTask},
	{"5 * * * *", NewRecurringProcessTask},
	{"30 2 * * *", NewCleanupArchiveTask},
}

// Run registers the crons and consumes tasks until Shutdown.
func (s *Server) Run() error {
	for _, e := range cronEntries {
		if _, err := s.scheduler.Register(e.spec, e.task()); err != nil {
			return fmt.Errorf("jobs: register cron %q: %w", e.spec, err)
		}
	}
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("jobs: start scheduler: %w", err)
	}
	if err := s.server.Run(s.mux); err != nil {
		return fmt.Errorf("jobs: run server: %w", err)
	}
	return nil
}

// Shutdown stops the scheduler and drains the consumer.
func (s *Server) Shutdown() {
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
