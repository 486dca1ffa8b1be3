package cron

import (
	"context"

	use_cases "integrations/internal/application/use-cases"

	"go.uber.org/zap"
)

// ReclaimJob - события, зависшие в processing дольше lease, засчитываются как
// неудачная попытка и снова становятся доступны релею
type ReclaimJob struct {
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
}

func NewReclaimJob(usecase use_cases.UseCaser, logger *zap.SugaredLogger) *ReclaimJob {
	return &ReclaimJob{
		usecase: usecase,
		logger:  logger,
	}
}

func (j *ReclaimJob) Run(ctx context.Context) {
	j.logger.Debug("Запуск задачи возврата зависших событий")

	defer func() {
		if r := recover(); r != nil {
			j.logger.Errorf("Паника при выполнении задачи возврата событий: %v", r)
		}
	}()

	j.usecase.ReclaimStaleEvents(ctx)
}

// BacklogJob - метрика очереди по статусам
type BacklogJob struct {
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
}

func NewBacklogJob(usecase use_cases.UseCaser, logger *zap.SugaredLogger) *BacklogJob {
	return &BacklogJob{
		usecase: usecase,
		logger:  logger,
	}
}

func (j *BacklogJob) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Errorf("Паника при обновлении метрик очереди: %v", r)
		}
	}()

	j.usecase.RefreshBacklog(ctx)
}
