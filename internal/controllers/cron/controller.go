package cron

import (
	"context"
	"fmt"

	use_cases "integrations/internal/application/use-cases"
	"integrations/pkg/config"

	"go.uber.org/zap"
)

const (
	defaultReclaimSpec = "@every 30s"
	defaultBacklogSpec = "@every 15s"
)

type Controller struct {
	scheduler *Scheduler
	logger    *zap.SugaredLogger
}

func NewController(ctx context.Context, logger *zap.SugaredLogger) *Controller {
	return &Controller{
		scheduler: NewScheduler(ctx, logger),
		logger:    logger,
	}
}

// RegisterReclaimJob - возврат в очередь событий с истекшим lease.
// Поддерживает два режима:
// 1. По расписанию (cron format с секундами): например, "0 */1 * * * *"
// 2. По интервалу: например, "@every 30s"
func (c *Controller) RegisterReclaimJob(usecase use_cases.UseCaser, conf config.Cron) error {
	// Приоритет: если указан Schedule, используем его, иначе Interval
	spec := conf.ReclaimSchedule
	if spec == "" {
		spec = conf.ReclaimInterval
	}
	return c.register("reclaim", spec, defaultReclaimSpec, NewReclaimJob(usecase, c.logger))
}

// RegisterBacklogJob - обновление gauge событий по статусам
func (c *Controller) RegisterBacklogJob(usecase use_cases.UseCaser, conf config.Cron) error {
	return c.register("backlog", conf.BacklogInterval, defaultBacklogSpec, NewBacklogJob(usecase, c.logger))
}

func (c *Controller) register(name, spec, fallback string, job Job) error {
	if spec == "" {
		spec = fallback
		c.logger.Warnf("Расписание задачи %s не указано, используется интервал по умолчанию: %s", name, spec)
	}

	entryID, err := c.scheduler.Add(name, spec, job)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать задачу %s (%q): %w", name, spec, err)
	}

	c.logger.Infof("Задача %s зарегистрирована с ID: %d, расписание: %s", name, entryID, spec)
	return nil
}

// Start запускает планировщик задач
func (c *Controller) Start() {
	c.logger.Info("Запуск планировщика cron задач")
	c.scheduler.Start()
}

// Stop останавливает планировщик задач
func (c *Controller) Stop() {
	c.logger.Info("Остановка планировщика cron задач")
	c.scheduler.Stop()
	c.logger.Info("Планировщик cron задач остановлен")
}
