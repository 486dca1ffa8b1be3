package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// таймаут одного запуска задачи
const jobTimeout = 55 * time.Second

type Job interface {
	Run(ctx context.Context)
}

type Scheduler struct {
	c      *cron.Cron
	ctx    context.Context
	logger *zap.SugaredLogger
}

func NewScheduler(ctx context.Context, logger *zap.SugaredLogger) *Scheduler {
	cl := zapCron{l: logger}
	// Формат с секундами плюс дескрипторы (@every, @hourly ...).
	// SkipIfStillRunning: следующий запуск reclaim не стартует, пока не закончился предыдущий.
	c := cron.New(
		cron.WithParser(cron.NewParser(
			cron.Second|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
		)),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{c: c, ctx: ctx, logger: logger}
}

// Add оборачивает задачу таймаутом; ctx приложения отменяет и уже запущенную задачу
func (s *Scheduler) Add(name, spec string, job Job) (cron.EntryID, error) {
	return s.c.AddFunc(spec, func() {
		if s.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()

		start := time.Now()
		job.Run(ctx)
		s.logger.Debugf("cron %s finished in %s", name, time.Since(start))
	})
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop ждет завершения выполняющихся задач
func (s *Scheduler) Stop() {
	ctx := s.c.Stop()
	<-ctx.Done()
}

// zapCron - cron.Logger поверх zap
type zapCron struct{ l *zap.SugaredLogger }

func (z zapCron) Info(msg string, keysAndValues ...interface{}) {
	z.l.Debugw("cron: "+msg, keysAndValues...)
}

func (z zapCron) Error(err error, msg string, keysAndValues ...interface{}) {
	z.l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
