// Package scheduler is the core engine of the publishing pipeline: it pulls
// accepted jobs off the hand-off queue, drives each one through
// download, upload and the scheduled visibility flip, and reconciles
// persisted state on startup.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vod-publisher/internal/domain"
	"vod-publisher/internal/history"
	"vod-publisher/shared/rabbitmq"
)

// JobStore is the durable job record the scheduler owns and mutates.
type JobStore interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	Transition(ctx context.Context, jobID, from, to string, mut domain.JobMutation) (*domain.Job, error)
	ListPending(ctx context.Context) ([]domain.Job, error)
}

// AssetFetcher retrieves a source file into local scratch storage.
type AssetFetcher interface {
	Fetch(ctx context.Context, channelID, ref, dest string) error
}

// Publisher is the video-hosting platform client.
type Publisher interface {
	CreateRestricted(ctx context.Context, channelID string, video domain.Video, filePath, thumbnailPath string) (string, error)
	SetVisibility(ctx context.Context, channelID, videoID, visibility string) error
	GetStatus(ctx context.Context, channelID, videoID string) (*domain.VideoStatus, error)
}

// RetryConfig bounds the backoff loop around external calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Config holds scheduler configuration.
type Config struct {
	Logger       *slog.Logger
	Store        JobStore
	Fetcher      AssetFetcher
	Publisher    Publisher
	History      history.Cache
	RabbitClient *rabbitmq.Client

	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
	ScratchDir    string
	Retry         RetryConfig
}

type taskKind int

const (
	taskPipeline taskKind = iota
	taskPublish
)

// task is one unit of work handed to the worker pool: either driving a
// pending job through download/upload, or firing its publish transition.
type task struct {
	kind        taskKind
	jobID       string
	late        bool
	deliveryTag uint64
	hasDelivery bool
}

// Scheduler drives the job state machine. Timers decide when a publish is
// due; the worker pool does all network work, so a slow API call never
// blocks another job's timer.
type Scheduler struct {
	logger       *slog.Logger
	store        JobStore
	fetcher      AssetFetcher
	publisher    Publisher
	history      history.Cache
	rabbitClient *rabbitmq.Client

	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	scratchDir    string
	retry         RetryConfig

	locks    *keyMutex
	tasks    chan task
	stopChan chan struct{}
	wg       sync.WaitGroup

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// New creates a Scheduler. The RabbitMQ client may be nil, in which case the
// scheduler only processes reconciled and timer-fired work.
func New(cfg *Config) *Scheduler {
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 5
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 500 * time.Millisecond
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 30 * time.Second
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Scheduler{
		logger:        cfg.Logger,
		store:         cfg.Store,
		fetcher:       cfg.Fetcher,
		publisher:     cfg.Publisher,
		history:       cfg.History,
		rabbitClient:  cfg.RabbitClient,
		workerID:      "scheduler-" + uuid.New().String()[:8],
		concurrency:   concurrency,
		prefetchCount: cfg.PrefetchCount,
		jobTimeout:    cfg.JobTimeout,
		scratchDir:    cfg.ScratchDir,
		retry:         retry,
		locks:         newKeyMutex(),
		tasks:         make(chan task, 256),
		stopChan:      make(chan struct{}),
		timers:        make(map[string]*time.Timer),
	}
}

// Start spawns the worker pool, reconciles persisted jobs, attaches the
// queue consumer and then blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler",
		slog.String("worker_id", s.workerID),
		slog.Int("concurrency", s.concurrency),
		slog.Duration("job_timeout", s.jobTimeout),
	)

	s.spawnWorkerPool(ctx)

	if err := s.Reconcile(ctx); err != nil {
		return err
	}

	if s.rabbitClient != nil {
		deliveries, err := s.setupConsumer()
		if err != nil {
			return err
		}
		s.wg.Add(1)
		go s.dispatchDeliveries(ctx, deliveries)
	}

	<-ctx.Done()
	s.logger.Info("Scheduler context cancelled, stopping")
	return nil
}

// Stop disarms all timers and waits for in-flight work to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	close(s.stopChan)
	s.disarmAllTimers()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// spawnWorkerPool starts the concurrent processing goroutines.
func (s *Scheduler) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < s.concurrency; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx, i)
	}

	s.logger.Info("Worker pool spawned",
		slog.Int("worker_count", s.concurrency),
	)
}

func (s *Scheduler) workerLoop(ctx context.Context, workerNum int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case t := <-s.tasks:
			s.handleTask(ctx, t, workerNum)
		}
	}
}

func (s *Scheduler) handleTask(ctx context.Context, t task, workerNum int) {
	var err error
	switch t.kind {
	case taskPipeline:
		err = s.runPipeline(ctx, t.jobID)
	case taskPublish:
		err = s.publishJob(ctx, t.jobID, t.late)
	}

	if t.hasDelivery {
		s.settleDelivery(t, err)
	} else if err != nil {
		s.logger.Error("Task failed",
			slog.Int("worker_num", workerNum),
			slog.String("job_id", t.jobID),
			slog.String("error", err.Error()),
		)
	}
}

// enqueue hands a task to the worker pool, giving up on shutdown.
func (s *Scheduler) enqueue(t task) {
	select {
	case s.tasks <- t:
	case <-s.stopChan:
	}
}
