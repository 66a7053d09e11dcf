package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/mq"
	"github.com/shaiso/automata-ecs/internal/repo"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
	defaultPrefetch     = 10
)

// RunLauncher — операции запуска и остановки. Реализация: launcher.Launcher.
type RunLauncher interface {
	Launch(ctx context.Context, runID string, pipeline *domain.ExternalPipeline) (*domain.Task, error)
	Terminate(ctx context.Context, runID string) (bool, error)
}

// RunStore — хранилище runs. Реализация: repo.RunRepo.
type RunStore interface {
	GetByID(ctx context.Context, id string) (*domain.Run, error)
	UpdateIf(ctx context.Context, run *domain.Run, pre repo.Precondition) error
	ListByStatus(ctx context.Context, statuses []domain.RunStatus, limit int) ([]domain.Run, error)
}

// PipelineStore — хранилище pipelines. Реализация: repo.PipelineRepo.
type PipelineStore interface {
	GetByName(ctx context.Context, name string) (*domain.ExternalPipeline, error)
}

// Coordinator выполняет запросы на запуск и остановку runs.
//
// Запросы приходят из очередей runs.launch и runs.terminate.
// Runs в статусе QUEUED, запрос для которых потерялся, подбираются
// периодическим polling.
type Coordinator struct {
	launcher  RunLauncher
	runs      RunStore
	pipelines PipelineStore
	conn      *mq.Connection

	// inflight — runs, которые сейчас запускаются этим процессом
	inflight map[string]struct{}
	mu       sync.Mutex

	launchConsumer    *mq.Consumer
	terminateConsumer *mq.Consumer

	pollInterval time.Duration
	batchSize    int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Coordinator.
type Config struct {
	Launcher  RunLauncher
	Runs      RunStore
	Pipelines PipelineStore
	Conn      *mq.Connection

	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // runs за один poll (default: 100)

	Logger *slog.Logger
}

// New создаёт новый Coordinator.
func New(cfg Config) *Coordinator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		launcher:     cfg.Launcher,
		runs:         cfg.Runs,
		pipelines:    cfg.Pipelines,
		conn:         cfg.Conn,
		inflight:     make(map[string]struct{}),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger.With("component", "coordinator"),
	}
}

// Start запускает consumers и polling. Без соединения с RabbitMQ
// работает только polling.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.logger.Info("starting coordinator",
		"poll_interval", c.pollInterval,
		"batch_size", c.batchSize,
	)

	if c.conn != nil {
		c.launchConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
			Queue:    mq.QueueRunsLaunch,
			Handler:  c.handleLaunch,
			Prefetch: defaultPrefetch,
		})
		c.terminateConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
			Queue:    mq.QueueRunsTerminate,
			Handler:  c.handleTerminate,
			Prefetch: defaultPrefetch,
		})

		for _, consumer := range []*mq.Consumer{c.launchConsumer, c.terminateConsumer} {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					c.logger.Error("consumer error", "error", err)
				}
			}()
		}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pollLoop(ctx)
	}()
}

// Stop останавливает Coordinator и ждёт завершения обработчиков.
func (c *Coordinator) Stop() {
	c.logger.Info("stopping coordinator...")

	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	if c.launchConsumer != nil {
		c.launchConsumer.Stop()
	}
	if c.terminateConsumer != nil {
		c.terminateConsumer.Stop()
	}

	c.wg.Wait()
	c.logger.Info("coordinator stopped")
}

// pollLoop — fallback на случай потерянных сообщений.
func (c *Coordinator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	// первый poll сразу: подхватываем runs, поставленные в очередь, пока сервис был выключен
	c.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// poll запускает runs в статусе QUEUED.
func (c *Coordinator) poll(ctx context.Context) {
	runs, err := c.runs.ListByStatus(ctx, []domain.RunStatus{domain.RunStatusQueued}, c.batchSize)
	if err != nil {
		c.logger.Error("failed to list queued runs", "error", err)
		return
	}
	if len(runs) == 0 {
		return
	}

	c.logger.Debug("poll found queued runs", "count", len(runs))

	for i := range runs {
		if ctx.Err() != nil {
			return
		}
		if err := c.processLaunch(ctx, runs[i].ID); err != nil {
			c.logger.Error("failed to launch run from poll", "run_id", runs[i].ID, "error", err)
		}
	}
}

// tryBegin отмечает run как обрабатываемый. false — уже в обработке.
func (c *Coordinator) tryBegin(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inflight[runID]; ok {
		return false
	}
	c.inflight[runID] = struct{}{}
	return true
}

func (c *Coordinator) finish(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, runID)
}

// InFlight возвращает количество runs, которые сейчас запускаются.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
