package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ScanResult is the outcome of scanning one URL.
type ScanResult struct {
	URL        string        `json:"url"`
	WorkerID   string        `json:"worker"`
	StatusCode int           `json:"status,omitempty"`
	Kind       ChallengeKind `json:"kind"`
	Category   Category      `json:"category,omitempty"`
	Message    string        `json:"message,omitempty"`
	Title      string        `json:"title,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Error      string        `json:"error,omitempty"`
	Fatal      bool          `json:"fatal,omitempty"`
}

type Worker struct {
	id      string
	fetcher *Fetcher
	logger  Logger
}

// ScannerOptions configures a Scanner.
type ScannerOptions struct {
	Workers      int
	ProxyManager *ProxyManager
	Signatures   *Signatures
	Profile      *BrowserProfile
	Limiter      *rate.Limiter
	StaggerDelay time.Duration
}

// Scanner classifies URLs concurrently with a fixed pool of workers.
type Scanner struct {
	workers      []*Worker
	workChan     chan string
	resultsChan  chan ScanResult
	wg           sync.WaitGroup
	proxyManager *ProxyManager
	logger       Logger
	staggerDelay time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	fatalOnce    sync.Once
	fatalErr     error
	stopped      atomic.Bool
}

func NewScanner(opts ScannerOptions, logger Logger) (*Scanner, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ProxyManager == nil {
		opts.ProxyManager = &ProxyManager{}
	}
	if logger == nil {
		logger = nopLogger{}
	}

	s := &Scanner{
		workers:      make([]*Worker, opts.Workers),
		workChan:     make(chan string, opts.Workers*2),
		resultsChan:  make(chan ScanResult, opts.Workers*2),
		proxyManager: opts.ProxyManager,
		logger:       logger,
		staggerDelay: opts.StaggerDelay,
	}

	for i := range opts.Workers {
		worker, err := s.createWorker(opts)
		if err != nil {
			return nil, NewFatalError(err)
		}
		s.workers[i] = worker
	}

	return s, nil
}

func generateWorkerID() string {
	return uuid.New().String()[:8]
}

func (s *Scanner) createWorker(opts ScannerOptions) (*Worker, error) {
	id := generateWorkerID()
	proxyURL, proxyIdx := s.proxyManager.Random()

	logger := &workerLogger{id: id, base: s.logger}
	logger.Log("Using proxy: %s", s.proxyManager.DisplayAt(proxyIdx))

	profile := opts.Profile
	if profile == nil {
		profile = DefaultProfile
	}

	client, err := NewClientWithProfile(nil, proxyURL, profile.TLSProfile)
	if err != nil {
		return nil, err
	}

	return &Worker{
		id: id,
		fetcher: NewFetcher(client, logger, proxyURL, FetcherOptions{
			Profile:      profile,
			Signatures:   opts.Signatures,
			ProxyManager: s.proxyManager,
			Limiter:      opts.Limiter,
		}),
		logger: logger,
	}, nil
}

func (s *Scanner) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.ctx = ctx

	for i, worker := range s.workers {
		s.wg.Add(1)
		go s.runWorker(ctx, worker)

		if s.staggerDelay > 0 && i < len(s.workers)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.staggerDelay):
			}
		}
	}
}

func (s *Scanner) handleFatalError(err error) {
	s.fatalOnce.Do(func() {
		s.stopped.Store(true)
		s.fatalErr = err
		s.logger.Error("FATAL ERROR: %v - stopping all workers", err)

		if s.cancel != nil {
			s.cancel()
		}

		select {
		case s.resultsChan <- ScanResult{Fatal: true, Error: err.Error()}:
		default:
		}
	})
}

func (s *Scanner) runWorker(ctx context.Context, worker *Worker) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case pageURL, ok := <-s.workChan:
			if !ok {
				return
			}
			if s.stopped.Load() {
				return
			}

			worker.logger.Log("Checking: %s", pageURL)
			result, err := s.check(ctx, worker, pageURL)
			if IsFatalError(err) {
				s.handleFatalError(err)
				return
			}

			select {
			case s.resultsChan <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Scanner) check(ctx context.Context, worker *Worker, pageURL string) (ScanResult, error) {
	res, err := worker.fetcher.Check(ctx, pageURL)

	out := ScanResult{URL: pageURL, WorkerID: worker.id}
	if res != nil {
		out.StatusCode = res.StatusCode
		out.Kind = res.Kind
		out.Category = res.Kind.Category()
		out.Message = res.Message
		out.Title = res.Title
		out.Attempts = res.Attempts
	}
	if err != nil {
		out.Error = err.Error()
		worker.logger.Log("Failed: %v", err)
	}
	return out, err
}

// Submit adds a URL to the work queue. It returns false once the scanner
// has stopped or was never started.
func (s *Scanner) Submit(pageURL string) bool {
	if s.ctx == nil {
		return false
	}
	select {
	case s.workChan <- pageURL:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Results returns the results channel for reading scan outcomes.
func (s *Scanner) Results() <-chan ScanResult {
	return s.resultsChan
}

// Close stops accepting work, waits for workers to drain the queue and closes
// the results channel. Call it from the goroutine that submits.
func (s *Scanner) Close() {
	close(s.workChan)
	s.wg.Wait()
	close(s.resultsChan)
	if s.cancel != nil {
		s.cancel()
	}
}

// Err returns the fatal error that stopped the scanner, if any.
func (s *Scanner) Err() error {
	s.wg.Wait()
	return s.fatalErr
}

// WorkerCount returns the number of workers.
func (s *Scanner) WorkerCount() int {
	return len(s.workers)
}
