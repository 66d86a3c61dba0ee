package download

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/diskmanager"
	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/httpclient"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/progress"
	"github.com/noahgolmant/label-tiles/internal/securefs"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

const (
	// DefaultWorkers is the pool size when none is configured.
	DefaultWorkers = 8

	tileFilePerm = 0o644
)

// Recorder receives fetch and job outcomes, typically prometheus collectors.
type Recorder interface {
	RecordTileFetch(server, result string, elapsed time.Duration)
	JobStarted(mode string)
	JobFinished(mode, status string)
}

// Fetcher is the subset of httpclient.Client the scheduler needs
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

var _ Fetcher = (*httpclient.Client)(nil)

// Config configures a Scheduler.
type Config struct {
	Workers  int           // concurrent fetches per job (default: 8)
	Timeout  time.Duration // per-request timeout (default: httpclient.DefaultTimeout)
	MaxTiles int           // reject jobs with more addresses, 0 for unlimited
	MinFree  uint64        // reject jobs when the data directory has less free space, 0 disables
	Recorder Recorder      // optional

	// DiskStat reports free space (default: diskmanager.GetSpace)
	DiskStat diskmanager.StatFunc
}

// ConfigFromSettings maps the download settings onto a scheduler Config.
// Settings are validated on load, so an unparsable free-space floor is
// treated as disabled.
func ConfigFromSettings(s *conf.DownloadSettings) Config {
	minFree, _ := diskmanager.ParseSize(s.MinFreeSpace)
	return Config{Workers: s.Workers, Timeout: s.Timeout, MaxTiles: s.MaxTiles, MinFree: minFree}
}

// Scheduler starts download jobs. Safe for concurrent use.
type Scheduler struct {
	fetcher  Fetcher
	fs       *securefs.SecureFS
	workers  int
	timeout  time.Duration
	maxTiles int
	minFree  uint64
	diskStat diskmanager.StatFunc
	recorder Recorder
	log      logger.Logger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewScheduler creates a Scheduler writing tiles below fs.
func NewScheduler(fetcher Fetcher, fs *securefs.SecureFS, cfg Config) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}
	return &Scheduler{
		fetcher:  fetcher,
		fs:       fs,
		workers:  workers,
		timeout:  timeout,
		maxTiles: cfg.MaxTiles,
		minFree:  cfg.MinFree,
		diskStat: cfg.DiskStat,
		recorder: cfg.Recorder,
		log:      GetLogger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Request describes one download job
type Request struct {
	Server       conf.TileServer
	Addresses    []tiles.TileAddress
	Mode         Mode
	SkipExisting bool
}

// limiter returns the shared rate limiter for a server, nil when unlimited.
// Jobs against the same server draw from one limiter.
func (s *Scheduler) limiter(server *conf.TileServer) *rate.Limiter {
	if server.RateLimit <= 0 {
		return nil
	}
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[server.ID]
	if !ok || l.Limit() != rate.Limit(server.RateLimit) {
		l = rate.NewLimiter(rate.Limit(server.RateLimit), 1)
		s.limiters[server.ID] = l
	}
	return l
}

func (s *Scheduler) validate(req *Request) error {
	if !req.Mode.Valid() {
		return invalidJobError("unknown mode %q", req.Mode)
	}
	if err := req.Server.Validate(); err != nil {
		return err
	}
	if err := ValidateTemplate(req.Server.URLTemplate); err != nil {
		return err
	}
	if s.maxTiles > 0 && len(req.Addresses) > s.maxTiles {
		return errors.Newf("%d tiles exceed the limit of %d", len(req.Addresses), s.maxTiles).
			Component("download").
			Category(errors.CategoryValidation).
			Build()
	}
	for _, a := range req.Addresses {
		if err := tiles.ValidateAddress(a); err != nil {
			return err
		}
		if !req.Server.SupportsZoom(a.Z) {
			return invalidJobError("server %s does not serve zoom %d", req.Server.ID, a.Z)
		}
	}
	if err := diskmanager.CheckFree(s.diskStat, s.fs.BaseDir(), s.minFree); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(TileDir+"/"+req.Server.ID, 0o750); err != nil {
		return errors.New(err).
			Component("download").
			Category(errors.CategoryFileIO).
			Context("server", req.Server.ID).
			Build()
	}
	return nil
}

// Start validates req and launches the job on its own goroutines. The job is
// bound to ctx: cancelling ctx cancels the job just like Job.Cancel.
//
// When the request cannot start, Start returns the error together with a
// job whose reporter already holds a terminal error snapshot, so observers
// see the same lifecycle either way.
func (s *Scheduler) Start(ctx context.Context, req Request) (*Job, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		ID:        uuid.NewString(),
		ServerID:  req.Server.ID,
		Mode:      req.Mode,
		CreatedAt: time.Now().UTC(),
		reporter:  progress.NewReporter(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	job.log = s.log.With(logger.String("job_id", job.ID), logger.String("server", job.ServerID))

	if err := s.validate(&req); err != nil {
		cancel()
		job.finish(progress.Snapshot{Status: progress.StatusError, Error: err.Error()}, err)
		s.recordJob(job.Mode, progress.StatusError)
		job.log.Warn("download job rejected", logger.Error(err))
		return job, err
	}

	job.Total = len(req.Addresses)
	if _, err := job.reporter.Publish(progress.Snapshot{Total: job.Total}); err != nil {
		cancel()
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.JobStarted(string(job.Mode))
	}
	job.log.Info("download job started",
		logger.String("mode", string(req.Mode)),
		logger.Int("total", job.Total),
		logger.Int("workers", s.workers),
		logger.Bool("skip_existing", req.SkipExisting))

	go s.run(jobCtx, job, req)
	return job, nil
}

func (s *Scheduler) recordJob(mode Mode, status progress.Status) {
	if s.recorder != nil {
		s.recorder.JobFinished(string(mode), string(status))
	}
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeAborted
)

func (o outcome) String() string {
	switch o {
	case outcomeCompleted:
		return "completed"
	case outcomeSkipped:
		return "skipped"
	case outcomeFailed:
		return "failed"
	default:
		return "aborted"
	}
}

type result struct {
	addr    tiles.TileAddress
	outcome outcome
	err     error
}

// run executes the pool and acts as the single accumulator for the job.
func (s *Scheduler) run(ctx context.Context, job *Job, req Request) {
	defer job.cancel()

	queue := make(chan tiles.TileAddress, s.workers)
	results := make(chan result, s.workers)
	limiter := s.limiter(&req.Server)

	var g errgroup.Group
	g.Go(func() error {
		defer close(queue)
		for _, addr := range req.Addresses {
			select {
			case queue <- addr:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	for range s.workers {
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				var addr tiles.TileAddress
				var ok bool
				select {
				case addr, ok = <-queue:
				case <-ctx.Done():
					return nil
				}
				if !ok {
					return nil
				}
				results <- s.fetchOne(ctx, &req, limiter, addr)
			}
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	snap := progress.Snapshot{Total: job.Total}
	for r := range results {
		switch r.outcome {
		case outcomeCompleted:
			snap.Completed++
		case outcomeSkipped:
			snap.Skipped++
		case outcomeFailed:
			snap.Failed++
			snap.Error = r.err.Error()
			job.log.Warn("tile fetch failed", logger.String("tile", r.addr.String()), logger.Error(r.err))
		case outcomeAborted:
			continue
		}
		addr := r.addr
		snap.CurrentTile = &addr
		if _, err := job.reporter.Publish(snap); err != nil {
			job.log.Error("progress publish failed", logger.Error(err))
		}
	}

	final := snap
	var jobErr error
	if final.Resolved() == final.Total {
		final.Status = progress.StatusDone
	} else {
		final.Status = progress.StatusCancelled
		jobErr = cancelledError(job.ID)
	}
	job.finish(final, jobErr)
	s.recordJob(job.Mode, final.Status)
	job.log.Info("download job finished",
		logger.String("status", string(final.Status)),
		logger.Int("completed", final.Completed),
		logger.Int("failed", final.Failed),
		logger.Int("skipped", final.Skipped))
}

// fetchOne resolves a single address. Work cut short by cancellation is
// reported as aborted and never counted.
func (s *Scheduler) fetchOne(ctx context.Context, req *Request, limiter *rate.Limiter, addr tiles.TileAddress) result {
	if err := ctx.Err(); err != nil {
		return result{addr: addr, outcome: outcomeAborted, err: err}
	}
	cachePath := CachePath(req.Server.ID, addr)
	if req.SkipExisting {
		exists, err := s.fs.Exists(cachePath)
		if err == nil && exists {
			s.recordFetch(req.Server.ID, outcomeSkipped, 0)
			return result{addr: addr, outcome: outcomeSkipped}
		}
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return result{addr: addr, outcome: outcomeAborted, err: err}
		}
	}

	url := ExpandURL(&req.Server, addr)
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	body, err := s.fetcher.Fetch(reqCtx, url)
	cancel()
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return result{addr: addr, outcome: outcomeAborted, err: err}
		}
		s.recordFetch(req.Server.ID, outcomeFailed, elapsed)
		return result{addr: addr, outcome: outcomeFailed, err: fetchError(addr, err)}
	}

	if err := s.fs.WriteFileAtomic(ctx, cachePath, body, tileFilePerm); err != nil {
		if ctx.Err() != nil {
			return result{addr: addr, outcome: outcomeAborted, err: err}
		}
		s.recordFetch(req.Server.ID, outcomeFailed, elapsed)
		return result{addr: addr, outcome: outcomeFailed, err: fetchError(addr, err)}
	}
	s.recordFetch(req.Server.ID, outcomeCompleted, elapsed)
	return result{addr: addr, outcome: outcomeCompleted}
}

func (s *Scheduler) recordFetch(server string, o outcome, elapsed time.Duration) {
	if s.recorder != nil {
		s.recorder.RecordTileFetch(server, o.String(), elapsed)
	}
}
