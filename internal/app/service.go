// Package service provides the core reward service that implements the
// dependencies required by the HTTP API and runs the scoring pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	jobqueue "github.com/okian/merit/internal/adapters/mq/queue"
	workerpool "github.com/okian/merit/internal/adapters/mq/worker"
	repository "github.com/okian/merit/internal/adapters/repository"
	"github.com/okian/merit/internal/domain/budget"
	"github.com/okian/merit/internal/domain/dedupe"
	"github.com/okian/merit/internal/domain/model"
	"github.com/okian/merit/internal/domain/scoring"
	"github.com/okian/merit/internal/domain/signing"
	"github.com/okian/merit/internal/domain/tier"
	"github.com/okian/merit/internal/domain/validation"
	"github.com/okian/merit/pkg/logger"
	"github.com/okian/merit/pkg/metrics"
)

// Project binds one tracked project to its collection sources.
type Project struct {
	Name         string
	GitHubRepo   string
	ChainAccount string
}

// GitHubSource collects developer activity for one repository.
type GitHubSource interface {
	Collect(ctx context.Context, repo string, since, until time.Time) (*model.GitHubMetrics, error)
}

// ChainSource collects on-chain usage for one account.
type ChainSource interface {
	Collect(ctx context.Context, account string, since, until time.Time) (*model.ChainMetrics, error)
}

// Service wires collectors, validation, scoring, allocation, signing and
// persistence into one reward pipeline, fed by the job queue.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	githubSrc  GitHubSource
	chainSrc   ChainSource
	deduper    dedupe.Deduper
	jobQueue   jobqueue.Queue
	workerPool *workerpool.Pool
	validator  *validation.CrossValidator
	engine     *scoring.Engine
	resolver   *tier.Resolver
	allocator  *budget.Allocator
	signer     *signing.Signer
	scheduler  *cron.Cron

	// Configuration
	workerCount      int
	queueSize        int
	dedupeSize       int
	scoringConfig    scoring.Config
	tierTable        []model.RewardTier
	budgetOptions    []budget.Option
	signingSecret    []byte
	collectionWindow time.Duration
	collectSchedule  string
	rollover         bool
	projects         []Project
	projectIndex     map[string]Project

	// State
	started bool
	stopCh  chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the reward store. Defaults to the in-memory store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithGitHubSource sets the developer-activity collector.
func WithGitHubSource(src GitHubSource) Option {
	return func(s *Service) {
		if src != nil {
			s.githubSrc = src
		}
	}
}

// WithChainSource sets the on-chain usage collector.
func WithChainSource(src ChainSource) Option {
	return func(s *Service) {
		if src != nil {
			s.chainSrc = src
		}
	}
}

// WithWorkerCount sets the number of pipeline workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithScoringConfig sets category thresholds, point caps and the token
// price.
func WithScoringConfig(cfg scoring.Config) Option {
	return func(s *Service) {
		s.scoringConfig = cfg
	}
}

// WithTierTable replaces the default reward-tier table.
func WithTierTable(table []model.RewardTier) Option {
	return func(s *Service) {
		if len(table) > 0 {
			s.tierTable = table
		}
	}
}

// WithBudgetOptions forwards allocation options to the budget allocator.
func WithBudgetOptions(opts ...budget.Option) Option {
	return func(s *Service) {
		s.budgetOptions = append(s.budgetOptions, opts...)
	}
}

// WithSigningSecret keys the HMAC over reward calculations. Required.
func WithSigningSecret(secret []byte) Option {
	return func(s *Service) {
		s.signingSecret = secret
	}
}

// WithCollectionWindow sets how far back collectors look per cycle.
func WithCollectionWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.collectionWindow = d
		}
	}
}

// WithCollectSchedule sets the cron spec for periodic collection.
func WithCollectSchedule(spec string) Option {
	return func(s *Service) {
		if spec != "" {
			s.collectSchedule = spec
		}
	}
}

// WithRollover carries unused pool budget into the next period.
func WithRollover(enabled bool) Option {
	return func(s *Service) {
		s.rollover = enabled
	}
}

// WithProjects lists the tracked projects collected on the schedule.
func WithProjects(projects []Project) Option {
	return func(s *Service) {
		s.projects = projects
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      runtime.NumCPU() * 2,
		queueSize:        10_000,
		dedupeSize:       10_000,
		scoringConfig:    scoring.DefaultConfig(),
		tierTable:        tier.DefaultTable(),
		collectionWindow: 30 * 24 * time.Hour,
		collectSchedule:  "0 3 * * *",
		stopCh:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.projectIndex = make(map[string]Project, len(s.projects))
	for _, p := range s.projects {
		s.projectIndex[p.Name] = p
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.githubSrc == nil {
		return ErrNoGitHubSource
	}

	s.logger.Info(ctx, "starting reward service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using in-memory store")
	}
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
	)
	s.jobQueue = jobqueue.NewInMemoryQueue(
		jobqueue.WithCapacity(s.queueSize),
		jobqueue.WithBufferSize(s.queueSize),
	)
	s.validator = validation.New()

	engine, err := scoring.NewEngine(s.scoringConfig)
	if err != nil {
		return fmt.Errorf("building scoring engine: %w", err)
	}
	s.engine = engine

	resolver, err := tier.NewResolver(s.tierTable)
	if err != nil {
		return fmt.Errorf("building tier resolver: %w", err)
	}
	s.resolver = resolver

	budgetOpts := append([]budget.Option{budget.WithRollover(s.rollover)}, s.budgetOptions...)
	allocator, err := budget.NewAllocator(s.store, budgetOpts...)
	if err != nil {
		return fmt.Errorf("building allocator: %w", err)
	}
	s.allocator = allocator

	signer, err := signing.NewSigner(s.signingSecret)
	if err != nil {
		return fmt.Errorf("building signer: %w", err)
	}
	s.signer = signer

	s.workerPool = workerpool.NewPool(s.workerCount, s.jobQueue, s)
	s.workerPool.Start(ctx)

	if err := s.startScheduler(ctx); err != nil {
		return err
	}

	s.started = true
	s.logger.Info(ctx, "reward service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("projects", len(s.projects)),
	)

	return nil
}

// startScheduler wires the periodic collection cycle and, at period
// boundaries, the pool rollover.
func (s *Service) startScheduler(ctx context.Context) error {
	s.scheduler = cron.New()

	if len(s.projects) > 0 {
		if _, err := s.scheduler.AddFunc(s.collectSchedule, func() {
			s.EnqueueAll(ctx)
		}); err != nil {
			return fmt.Errorf("scheduling collection: %w", err)
		}
	}

	// First of the month, before the daily collection runs.
	if _, err := s.scheduler.AddFunc("0 0 1 * *", func() {
		if _, err := s.allocator.RollOver(ctx, time.Now()); err != nil {
			s.logger.Error(ctx, "pool rollover failed", logger.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("scheduling rollover: %w", err)
	}

	s.scheduler.Start()
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping reward service...")

	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.workerPool != nil {
		s.workerPool.Stop()
	}
	if q, ok := s.jobQueue.(*jobqueue.InMemoryQueue); ok {
		_ = q.Close()
	}

	select {
	case <-s.stopCh:
		// Channel already closed
	default:
		close(s.stopCh)
	}

	s.started = false
	s.logger.Info(ctx, "reward service stopped")
}

// Enqueue submits a scoring cycle for one project. Returns the job id
// and whether the job was accepted. A cycle already queued or running
// for the project is reported as accepted with an empty job id.
func (s *Service) Enqueue(ctx context.Context, project string) (string, bool) {
	if project == "" {
		return "", false
	}

	if s.deduper.SeenAndRecord(ctx, project) {
		s.logger.Debug(ctx, "cycle already pending, skipping",
			logger.String("project", project),
		)
		return "", true
	}

	job := model.CycleJob{
		JobID:       uuid.NewString(),
		Project:     project,
		RequestedAt: time.Now().UTC(),
	}

	if !s.jobQueue.Enqueue(ctx, job) {
		s.deduper.Unrecord(ctx, project)
		return "", false
	}
	return job.JobID, true
}

// EnqueueAll submits a scoring cycle for every tracked project.
func (s *Service) EnqueueAll(ctx context.Context) {
	for _, p := range s.projects {
		if _, ok := s.Enqueue(ctx, p.Name); !ok {
			s.logger.Warn(ctx, "could not enqueue collection cycle",
				logger.String("project", p.Name),
			)
		}
	}
}

// RunCycle executes the full pipeline for one job: collect, validate,
// score, resolve, allocate, sign, persist. It is called by the workers.
func (s *Service) RunCycle(ctx context.Context, job model.CycleJob) (*model.RewardCalculation, error) {
	defer s.deduper.Unrecord(ctx, job.Project)

	start := time.Now()

	calc, err := s.runCycle(ctx, job)
	if err != nil {
		metrics.RecordCycle("failed")
		return nil, err
	}

	metrics.RecordCycle("success")
	metrics.RecordAllocationLatency(float64(time.Since(start).Milliseconds()))
	return calc, nil
}

func (s *Service) runCycle(ctx context.Context, job model.CycleJob) (*model.RewardCalculation, error) {
	now := time.Now().UTC()
	until := job.RequestedAt
	if until.IsZero() {
		until = now
	}
	since := until.Add(-s.collectionWindow)

	project := s.projectIndex[job.Project]
	if project.Name == "" {
		// Ad-hoc cycle for a project outside the configured set.
		project = Project{Name: job.Project, GitHubRepo: job.Project}
	}
	if project.GitHubRepo == "" {
		project.GitHubRepo = project.Name
	}

	github, err := s.githubSrc.Collect(ctx, project.GitHubRepo, since, until)
	if err != nil {
		return nil, fmt.Errorf("collecting github metrics: %w", err)
	}
	github.Project = project.Name

	var chain *model.ChainMetrics
	if project.ChainAccount != "" && s.chainSrc != nil {
		chain, err = s.chainSrc.Collect(ctx, project.ChainAccount, since, until)
		if err != nil {
			// Scoring renormalizes on the remaining source; a dark
			// indexer must not zero out a project's month.
			s.logger.Warn(ctx, "chain collection failed, scoring off-chain only",
				logger.String("project", project.Name),
				logger.Error(err),
			)
			chain = nil
		} else {
			chain.Project = project.Name
		}
	}

	// Cross-validation needs both snapshots; a github-only cycle is
	// scored with renormalized weights instead. Warnings ride along on
	// the calculation so callers can audit a cycle after the fact.
	var warnings []model.ValidationWarning
	if chain != nil {
		result := s.validator.Validate(github, chain, now)
		for _, w := range result.Warnings {
			metrics.RecordValidationWarning(w.Code)
			s.logger.Warn(ctx, "validation warning",
				logger.String("project", project.Name),
				logger.String("code", w.Code),
				logger.String("detail", w.Message),
			)
		}
		if !result.IsValid {
			for _, e := range result.Errors {
				metrics.RecordValidationError(e.Code)
			}
			return nil, fmt.Errorf("%w: %s", ErrValidationFailed, result.Errors[0].Message)
		}
		warnings = result.Warnings
	}

	score, err := s.engine.Score(github, chain)
	if err != nil {
		return nil, fmt.Errorf("scoring %s: %w", project.Name, err)
	}
	metrics.ObserveScore(score.Total)

	resolved := s.resolver.Resolve(score.Total)

	grant, err := s.allocator.Allocate(ctx, now, budget.Request{
		Project: project.Name,
		Score:   score.Total,
		TierUSD: resolved.RewardUSD,
	})
	if err != nil {
		if errors.Is(err, budget.ErrLockTimeout) {
			metrics.RecordAllocationTimeout()
		}
		return nil, fmt.Errorf("allocating reward for %s: %w", project.Name, err)
	}
	metrics.RecordAllocation()
	metrics.AddGrantedUSD(grant.GrantedUSD)
	metrics.UpdatePoolRemaining(grant.Pool.PeriodKey, grant.Pool.RemainingUSD())

	calc := &model.RewardCalculation{
		ID:            uuid.NewString(),
		Project:       project.Name,
		PeriodKey:     grant.Pool.PeriodKey,
		OffchainScore: score.Offchain,
		OnchainScore:  score.Onchain,
		TotalScore:    score.Total,
		Tier:          resolved,
		Breakdown:     score.Breakdown,
		NominalUSD:    grant.NominalUSD,
		GrantedUSD:    grant.GrantedUSD,
		TokenAmount:   s.tokenAmount(grant.GrantedUSD, chain),
		Warnings:      warnings,
		CalculatedAt:  now,
	}

	signature, err := s.signer.Sign(calc)
	if err != nil {
		return nil, fmt.Errorf("signing calculation for %s: %w", project.Name, err)
	}
	calc.Signature = signature

	if err := s.store.SaveCalculation(ctx, calc); err != nil {
		return nil, fmt.Errorf("saving calculation for %s: %w", project.Name, err)
	}

	return calc, nil
}

// tokenAmount converts a USD grant into native tokens at the snapshot
// price, falling back to the configured price.
func (s *Service) tokenAmount(grantedUSD float64, chain *model.ChainMetrics) float64 {
	price := s.scoringConfig.TokenPriceUSD
	if chain != nil && chain.TokenPriceUSD > 0 {
		price = chain.TokenPriceUSD
	}
	if price <= 0 {
		return 0
	}
	return math.Round(grantedUSD/price*1e6) / 1e6
}

// Latest returns the most recent calculation for a project.
func (s *Service) Latest(ctx context.Context, project string) (model.RewardCalculation, error) {
	return s.store.LatestCalculation(ctx, project)
}

// History returns up to limit calculations for a project, newest first.
func (s *Service) History(ctx context.Context, project string, limit int) ([]model.RewardCalculation, error) {
	return s.store.History(ctx, project, limit)
}

// PoolState returns the current period's pool, opening it if needed.
func (s *Service) PoolState(ctx context.Context) (model.MonthlyPoolState, error) {
	return s.allocator.Pool(ctx, time.Now())
}

// VerifyLatest checks a presented signature against the stored
// calculation for the project.
func (s *Service) VerifyLatest(ctx context.Context, project, signature string) error {
	calc, err := s.store.LatestCalculation(ctx, project)
	if err != nil {
		return err
	}
	if err := s.signer.Verify(&calc, signature, signing.VerifyArchive, time.Now()); err != nil {
		metrics.RecordSignatureFailure()
		return err
	}
	return nil
}

// Stats is an operational snapshot of the service. Queue, dedupe and
// store figures are populated only while the service is running.
type Stats struct {
	Started       bool  `json:"started"`
	WorkerCount   int   `json:"worker_count"`
	QueueSize     int   `json:"queue_size"`
	Projects      int   `json:"projects"`
	QueueLength   int   `json:"queue_length"`
	PendingCycles int   `json:"pending_cycles"`
	Calculations  int64 `json:"calculations"`
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:     s.started,
		WorkerCount: s.workerCount,
		QueueSize:   s.queueSize,
		Projects:    len(s.projects),
	}

	if s.started {
		ctx := context.Background()
		stats.QueueLength = s.jobQueue.Len(ctx)
		stats.PendingCycles = int(s.deduper.Size())
		if count, err := s.store.Count(ctx); err == nil {
			stats.Calculations = count
		}
	}

	return stats
}
