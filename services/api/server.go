// Package api serves ladder backtests over HTTP. Jobs run asynchronously on
// a fixed pool of workers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ladder-backtest/services/engine"
	"ladder-backtest/services/marketdata"
	"ladder-backtest/services/monitoring"
	"ladder-backtest/services/report"
	"ladder-backtest/services/runner"
)

// ErrQueueFull is returned when MaxJobs jobs are already waiting.
var ErrQueueFull = errors.New("job queue is full")

type Options struct {
	Workers int
	MaxJobs int
	// DataDir is the only directory csv_path may point into. Empty
	// disables csv_path.
	DataDir string
	Version string
}

type Server struct {
	opts    Options
	base    engine.Config
	runner  *runner.Runner
	loader  *marketdata.CSVLoader
	metrics *monitoring.Metrics
	logger  *zap.Logger

	jobs  *jobStore
	queue chan string
	wg    sync.WaitGroup
	once  sync.Once
}

// NewServer wires a job server. metrics may be nil.
func NewServer(opts Options, base engine.Config, run *runner.Runner, metrics *monitoring.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = 64
	}
	return &Server{
		opts:    opts,
		base:    base,
		runner:  run,
		loader:  marketdata.NewCSVLoader(base.Location, logger),
		metrics: metrics,
		logger:  logger,
		jobs:    newJobStore(),
		queue:   make(chan string, opts.MaxJobs),
	}
}

// Start launches the workers. They stop when ctx is done or Close is called.
func (s *Server) Start(ctx context.Context) {
	s.logger.Info("Starting backtest workers", zap.Int("workers", s.opts.Workers), zap.Int("max_jobs", s.opts.MaxJobs))
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
}

// Close stops accepting jobs and waits for running ones.
func (s *Server) Close() {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
}

func (s *Server) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-s.queue:
			if !ok {
				return
			}
			s.gaugeAdd(-1, 1)
			s.logger.Debug("Worker picked job", zap.Int("worker_id", workerID), zap.String("job_id", id))
			s.process(ctx, id)
			s.gaugeAdd(0, -1)
		}
	}
}

func (s *Server) gaugeAdd(queued, active float64) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueuedJobs.Add(queued)
	s.metrics.ActiveJobs.Add(active)
}

func (s *Server) process(ctx context.Context, id string) {
	req, bars, ok := s.jobs.request(id)
	if !ok {
		return
	}
	s.jobs.update(id, func(j *job) {
		j.status = StatusRunning
		j.startedAt = time.Now()
	})

	var out *runner.Output
	var err error
	if bars != nil {
		out, err = s.runner.Execute(ctx, req, bars)
	} else {
		out, err = s.runner.Run(ctx, req)
	}

	s.jobs.update(id, func(j *job) {
		j.finishedAt = time.Now()
		j.output = out
		j.bars = nil
		if err != nil {
			j.status = StatusFailed
			j.err = err.Error()
			return
		}
		j.status = StatusCompleted
	})
	if err != nil {
		s.logger.Error("Backtest job failed", zap.String("job_id", id), zap.Error(err))
	}
}

// Router returns the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	{
		v1.POST("/backtests", s.handleSubmit)
		v1.GET("/backtests", s.handleList)
		v1.GET("/backtests/:id", s.handleGet)
		v1.GET("/backtests/:id/trades", s.handleTrades)
	}
	r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	return r
}

// BarInput is one bar of an inline series.
type BarInput struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// EngineOverrides replaces fields of the server's base engine config.
type EngineOverrides struct {
	Ladder         []engine.RungSpec `json:"ladder"`
	InitialCapital *decimal.Decimal  `json:"initial_capital"`
	FeeRate        *decimal.Decimal  `json:"fee_rate"`
	MaxAccounts    *int              `json:"max_accounts"`
	HorizonDays    *int              `json:"horizon_days"`
	AnchorTime     *string           `json:"anchor_time"`
	Timezone       *string           `json:"timezone"`
}

// BacktestRequest selects bars by inline list, csv_path or symbol window,
// in that order of precedence.
type BacktestRequest struct {
	Symbol   string           `json:"symbol"`
	Interval string           `json:"interval"`
	From     time.Time        `json:"from"`
	To       time.Time        `json:"to"`
	CSVPath  string           `json:"csv_path"`
	Bars     []BarInput       `json:"bars"`
	Engine   *EngineOverrides `json:"engine"`
}

func applyOverrides(base engine.Config, o *EngineOverrides) (engine.Config, error) {
	cfg := base
	if o == nil {
		return cfg, cfg.Validate()
	}
	if o.Ladder != nil {
		cfg.Ladder = o.Ladder
	}
	if o.InitialCapital != nil {
		cfg.InitialCapital = *o.InitialCapital
	}
	if o.FeeRate != nil {
		cfg.FeeRate = *o.FeeRate
	}
	if o.MaxAccounts != nil {
		cfg.MaxAccounts = *o.MaxAccounts
	}
	if o.HorizonDays != nil {
		cfg.HorizonDays = *o.HorizonDays
	}
	if o.AnchorTime != nil {
		anchor, err := engine.ParseAnchor(*o.AnchorTime)
		if err != nil {
			return cfg, fmt.Errorf("%w: %v", engine.ErrConfigInvalid, err)
		}
		cfg.AnchorOffset = anchor
	}
	if o.Timezone != nil {
		loc, err := time.LoadLocation(*o.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("%w: %v", engine.ErrConfigInvalid, err)
		}
		cfg.Location = loc
	}
	return cfg, cfg.Validate()
}

func (s *Server) resolveCSV(path string) (string, error) {
	if s.opts.DataDir == "" {
		return "", errors.New("csv_path is disabled on this server")
	}
	root, err := filepath.Abs(s.opts.DataDir)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.Clean("/"+path))
	rel, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("csv_path %q escapes the data directory", path)
	}
	return full, nil
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := applyOverrides(s.base, req.Engine)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	j := &job{
		id:        uuid.New().String(),
		status:    StatusQueued,
		symbol:    req.Symbol,
		createdAt: time.Now(),
	}
	j.request = runner.Request{
		JobID:    j.id,
		Symbol:   req.Symbol,
		Interval: req.Interval,
		From:     req.From,
		To:       req.To,
		Engine:   cfg,
	}

	switch {
	case len(req.Bars) > 0:
		j.bars = make([]engine.Bar, len(req.Bars))
		for i, b := range req.Bars {
			j.bars[i] = engine.Bar{Timestamp: b.Time.In(cfg.Location), Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
		}
	case req.CSVPath != "":
		path, err := s.resolveCSV(req.CSVPath)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		bars, _, err := s.loader.Load(path)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		j.bars = bars
	case s.runner.HasProvider():
		if req.Symbol == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "request needs bars or csv_path"})
		return
	}

	if err := s.enqueue(j); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("Backtest job queued", zap.String("job_id", j.id), zap.String("symbol", j.symbol))
	c.JSON(http.StatusAccepted, gin.H{"job_id": j.id, "status": j.status})
}

func (s *Server) enqueue(j *job) error {
	s.jobs.add(j)
	select {
	case s.queue <- j.id:
		s.gaugeAdd(1, 0)
		return nil
	default:
		s.jobs.remove(j.id)
		return ErrQueueFull
	}
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.jobs.list()})
}

func (s *Server) handleGet(c *gin.Context) {
	view, _, ok := s.jobs.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleTrades serves JSON by default and the CSV report for ?format=csv.
func (s *Server) handleTrades(c *gin.Context) {
	view, out, ok := s.jobs.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if out == nil {
		c.JSON(http.StatusConflict, gin.H{"job_id": view.ID, "status": view.Status, "error": "job has no result yet"})
		return
	}
	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", view.ID+".csv"))
		c.Status(http.StatusOK)
		if err := report.WriteCSV(c.Writer, out.Result, out.Summary); err != nil {
			s.logger.Warn("Writing CSV response failed", zap.Error(err))
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": view.ID, "trades": out.Result.Trades})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   s.opts.Version,
	})
}
