// sweeper.go — фоновая очистка истёкших заданий печати.
//
// Sweeper периодически снимает с expiry-индекса список истёкших
// заданий и переводит их в deleted, уничтожая документы. Задания,
// удерживаемые активными запросами, пропускаются до следующего прохода.
// Ошибки отдельных заданий логируются и не прерывают проход.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/printlink/internal/api/middleware"
	"github.com/bigkaa/printlink/internal/storage/blobstore"
	"github.com/bigkaa/printlink/internal/storage/expiry"
)

// Метрики sweeper-а
var (
	sweeperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pl_sweeper_runs_total",
			Help: "Общее количество проходов очистки истёкших заданий",
		},
		[]string{"result"},
	)

	sweeperJobsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pl_sweeper_jobs_expired_total",
			Help: "Общее количество заданий, удалённых по истечении срока",
		},
	)

	sweeperDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pl_sweeper_duration_seconds",
			Help:    "Длительность прохода очистки в секундах",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Sweeper — фоновый процесс очистки истёкших заданий.
type Sweeper struct {
	lifecycle *Lifecycle
	index     *expiry.Index
	blobs     *blobstore.BlobStore
	store     Store
	interval  time.Duration
	logger    *slog.Logger

	// mu защищает от конкурентных проходов
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	// now подменяется в тестах
	now func() time.Time
}

// NewSweeper создаёт sweeper с заданным периодом.
func NewSweeper(lifecycle *Lifecycle, index *expiry.Index, blobs *blobstore.BlobStore, store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		lifecycle: lifecycle,
		index:     index,
		blobs:     blobs,
		store:     store,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start запускает фоновый цикл очистки.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
	s.logger.Info("Sweeper запущен", slog.Duration("interval", s.interval))
}

// Stop останавливает фоновый цикл и дожидается завершения текущего прохода.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
	s.logger.Info("Sweeper остановлен")
}

// run — основной цикл: тикер с периодом interval.
func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce выполняет один проход очистки. Конкурентные вызовы
// сериализуются мьютексом. Возвращает количество удалённых заданий.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.now().UTC()

	expired := s.index.SnapshotExpired(now)
	removed := 0
	failed := 0

	for _, jobID := range expired {
		applied, err := s.lifecycle.Expire(ctx, jobID)
		if err != nil {
			// Ошибка одного задания не прерывает проход
			failed++
			s.logger.Error("Ошибка очистки истёкшего задания",
				slog.String("job_id", jobID), slog.String("error", err.Error()))
			continue
		}
		if applied {
			removed++
			sweeperJobsExpired.Inc()
		}
	}

	s.updateJobsGauge(ctx)

	result := "success"
	if failed > 0 {
		result = "partial"
	}
	sweeperRuns.WithLabelValues(result).Inc()
	sweeperDuration.Observe(time.Since(start).Seconds())

	if removed > 0 || failed > 0 {
		s.logger.Info("Проход очистки завершён",
			slog.Int("removed", removed),
			slog.Int("failed", failed),
			slog.Int("candidates", len(expired)),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return removed
}

// StartupCleanup — восстановление консистентности при старте процесса.
//
// Expiry-индекс не персистентный: живые задания прежнего процесса
// после рестарта недостижимы и переводятся в deleted с уничтожением
// документов. Оставшиеся на диске blob-ы без заданий (следы прерванных
// загрузок) удаляются.
func (s *Sweeper) StartupCleanup(ctx context.Context) error {
	// 1. Живые задания прежнего процесса → deleted
	live, err := s.store.ListLiveJobs(ctx)
	if err != nil {
		return err
	}
	expired := 0
	for _, job := range live {
		applied, err := s.lifecycle.Expire(ctx, job.ID)
		if err != nil {
			s.logger.Error("Ошибка стартовой очистки задания",
				slog.String("job_id", job.ID), slog.String("error", err.Error()))
			continue
		}
		if applied {
			expired++
		}
	}

	// 2. Осиротевшие blob-ы без записей в индексе
	paths, err := s.blobs.List()
	if err != nil {
		return err
	}
	orphans := 0
	for _, path := range paths {
		jobID := blobstore.JobIDFromPath(path)
		if jobID != "" && s.index.Get(jobID) != nil {
			continue
		}
		if err := s.blobs.Remove(path); err != nil {
			s.logger.Error("Ошибка удаления осиротевшего blob",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		orphans++
	}

	s.updateJobsGauge(ctx)

	s.logger.Info("Стартовая очистка завершена",
		slog.Int("jobs_expired", expired),
		slog.Int("orphan_blobs_removed", orphans),
	)
	return nil
}

// updateJobsGauge обновляет gauge pl_jobs_total по данным БД.
func (s *Sweeper) updateJobsGauge(ctx context.Context) {
	counts, err := s.store.CountJobsByStatus(ctx)
	if err != nil {
		s.logger.Error("Ошибка обновления метрики заданий", slog.String("error", err.Error()))
		return
	}
	middleware.JobsTotal.Reset()
	for status, count := range counts {
		middleware.JobsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
