// Package jobs owns the job registry and runs batches of automation units
// one at a time on a single background worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bill-scraper/automation"
	"github.com/bill-scraper/config"
)

// Executor runs one unit and always returns a result
type Executor interface {
	Execute(ctx context.Context, profile *config.VendorProfile, accountIndex int) automation.RunResult
}

// Notifier delivers the consolidated message for a finished batch
type Notifier interface {
	SendBatch(ctx context.Context, files []string, results []automation.RunResult, override string) error
}

// Archiver stores finished jobs
type Archiver interface {
	Archive(ctx context.Context, job Snapshot) error
}

// Options configures an Orchestrator
type Options struct {
	// PauseBetween is the wait between consecutive units of a batch
	PauseBetween time.Duration
	Notifier     Notifier
	Archiver     Archiver
	Logger       *slog.Logger
}

// Orchestrator is the only writer of job state. Request handlers call
// CreateJob and GetStatus; the worker started by Run executes the units.
type Orchestrator struct {
	profiles []config.VendorProfile
	byName   map[string]*config.VendorProfile
	exec     Executor
	opts     Options
	logger   *slog.Logger

	mu       sync.RWMutex
	jobs     map[string]*job
	activeID string
	stopped  bool
	subs     map[string]map[chan Snapshot]struct{}

	queue chan string
	now   func() time.Time
	newID func() string
}

// New creates an orchestrator over the vendor profiles, in declared order
func New(profiles []config.VendorProfile, exec Executor, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	o := &Orchestrator{
		profiles: profiles,
		byName:   make(map[string]*config.VendorProfile, len(profiles)),
		exec:     exec,
		opts:     opts,
		logger:   opts.Logger,
		jobs:     make(map[string]*job),
		subs:     make(map[string]map[chan Snapshot]struct{}),
		queue:    make(chan string, 1),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for i := range o.profiles {
		o.byName[o.profiles[i].Name] = &o.profiles[i]
	}
	return o
}

// Profiles returns the vendor profiles in declared order
func (o *Orchestrator) Profiles() []config.VendorProfile {
	return o.profiles
}

// Plan expands a request into its ordered units without creating a job
func (o *Orchestrator) Plan(req Request) ([]Unit, error) {
	switch req.Mode {
	case ModeAll, "":
		var units []Unit
		for _, p := range o.profiles {
			for i := 0; i < p.MaxAccounts(); i++ {
				units = append(units, Unit{Vendor: p.Name, AccountIndex: i})
			}
		}
		if len(units) == 0 {
			return nil, invalidTarget("no vendor accounts are configured")
		}
		return units, nil

	case ModeSingle:
		if req.Vendor == "" {
			return nil, invalidTarget(`vendor is required when mode is "single"`)
		}
		p, ok := o.byName[req.Vendor]
		if !ok {
			return nil, invalidTarget("unknown vendor: %s", req.Vendor)
		}
		if req.Account < 0 || req.Account >= p.MaxAccounts() {
			return nil, invalidTarget("invalid account index %d for %s, must be 0-%d",
				req.Account, req.Vendor, p.MaxAccounts()-1)
		}
		return []Unit{{Vendor: p.Name, AccountIndex: req.Account}}, nil

	default:
		return nil, invalidTarget(`invalid mode: %s, must be "all" or "single"`, req.Mode)
	}
}

// CreateJob registers a pending job and queues it for the worker. It fails
// with *ConflictError while another job is active and with
// *InvalidTargetError for a bad target; neither creates a job.
func (o *Orchestrator) CreateJob(ctx context.Context, req Request) (string, error) {
	units, err := o.Plan(req)
	if err != nil {
		return "", err
	}

	meta := Metadata{
		Mode:           req.Mode,
		NotifyOverride: req.NotifyOverride,
		RequestedBy:    req.RequestedBy,
	}
	if meta.Mode == "" {
		meta.Mode = ModeAll
	}
	if meta.Mode == ModeSingle {
		account := req.Account
		meta.Vendor = req.Vendor
		meta.Account = &account
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return "", ErrStopped
	}
	if o.activeID != "" {
		active := o.activeID
		o.mu.Unlock()
		return "", &ConflictError{ActiveID: active}
	}
	j := &job{
		id:        o.newID(),
		status:    StatusPending,
		createdAt: o.now(),
		units:     units,
		metadata:  meta,
		done:      make(chan struct{}),
	}
	// queued under the lock so a stopping worker drains it
	select {
	case o.queue <- j.id:
	default:
		o.mu.Unlock()
		return "", errors.New("job queue is full")
	}
	o.jobs[j.id] = j
	o.activeID = j.id
	o.mu.Unlock()

	o.logger.Info("job created", "job_id", j.id, "mode", meta.Mode, "units", len(units), "requested_by", meta.RequestedBy)
	return j.id, nil
}

// GetStatus returns a snapshot of the job or ErrJobNotFound
func (o *Orchestrator) GetStatus(id string) (Snapshot, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	j, ok := o.jobs[id]
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return j.snapshot(), nil
}

// Active returns the id of the pending or running job, if any
func (o *Orchestrator) Active() (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeID, o.activeID != ""
}

// Wait blocks until the job has finished, including its notification
func (o *Orchestrator) Wait(ctx context.Context, id string) (Snapshot, error) {
	o.mu.RLock()
	j, ok := o.jobs[id]
	o.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}

	select {
	case <-j.done:
		return o.GetStatus(id)
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Subscribe streams snapshots of the job after every change. The channel
// is closed once the job is finished or cancel is called.
func (o *Orchestrator) Subscribe(id string) (<-chan Snapshot, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return nil, nil, ErrJobNotFound
	}

	ch := make(chan Snapshot, 16)
	ch <- j.snapshot()
	if j.status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	if o.subs[id] == nil {
		o.subs[id] = make(map[chan Snapshot]struct{})
	}
	o.subs[id][ch] = struct{}{}

	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.subs[id][ch]; ok {
			delete(o.subs[id], ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// Run consumes queued jobs until ctx is cancelled. Units run strictly one
// after another.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("job worker started")
	for {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			o.stopped = true
			o.mu.Unlock()
			o.drain(ctx.Err())
			o.logger.Info("job worker stopped")
			return nil
		case id := <-o.queue:
			o.process(ctx, id)
		}
	}
}

// drain fails a job that was queued but never started
func (o *Orchestrator) drain(cause error) {
	select {
	case id := <-o.queue:
		o.finish(id, StatusFailed, "shutdown before start: "+cause.Error())
		o.closeDone(id)
	default:
	}
}

func (o *Orchestrator) process(ctx context.Context, id string) {
	logger := o.logger.With("job_id", id)
	defer o.closeDone(id)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panic recovered", "panic", r)
			o.finish(id, StatusFailed, fmt.Sprintf("panic: %v", r))
			o.archive(ctx, id, logger)
		}
	}()

	units, err := o.start(id)
	if err != nil {
		logger.Error("failed to start job", "error", err)
		return
	}
	logger.Info("job started", "units", len(units))

	if err := o.runUnits(ctx, id, units, logger); err != nil {
		logger.Error("job failed", "error", err)
		o.finish(id, StatusFailed, err.Error())
		o.archive(ctx, id, logger)
		return
	}

	o.finish(id, StatusCompleted, "")
	snap, _ := o.GetStatus(id)
	logger.Info("job completed", "succeeded", len(snap.Succeeded()), "failed", snap.Failures())

	o.notify(ctx, snap, logger)
	o.archive(ctx, id, logger)
}

func (o *Orchestrator) runUnits(ctx context.Context, id string, units []Unit, logger *slog.Logger) error {
	for i, u := range units {
		if i > 0 && o.opts.PauseBetween > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.opts.PauseBetween):
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled after %d of %d units: %w", i, len(units), err)
		}

		profile, ok := o.byName[u.Vendor]
		if !ok {
			return fmt.Errorf("vendor %s missing from registry", u.Vendor)
		}

		if err := o.setCurrent(id, u); err != nil {
			return err
		}
		logger.Info("unit dispatched", "unit", fmt.Sprintf("%d/%d", i+1, len(units)),
			"label", automation.UnitLabel(u.Vendor, u.AccountIndex))

		result := o.exec.Execute(ctx, profile, u.AccountIndex)
		if err := o.addResult(id, result); err != nil {
			return err
		}
	}
	return nil
}

// start moves a pending job to running and returns its units
func (o *Orchestrator) start(id string) ([]Unit, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.status != StatusPending {
		return nil, fmt.Errorf("job %s is %s, not pending", id, j.status)
	}
	j.status = StatusRunning
	j.startedAt = o.now()
	j.totalUnits = len(j.units)
	o.publishLocked(j)
	return j.units, nil
}

func (o *Orchestrator) setCurrent(id string, u Unit) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok || j.status != StatusRunning {
		return errors.New("job registry lost the running job")
	}
	j.current = &u
	o.publishLocked(j)
	return nil
}

func (o *Orchestrator) addResult(id string, r automation.RunResult) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok || j.status != StatusRunning {
		return errors.New("job registry lost the running job")
	}
	if len(j.results) >= j.totalUnits {
		return fmt.Errorf("job %s already has %d of %d results", id, len(j.results), j.totalUnits)
	}
	j.results = append(j.results, r)
	o.publishLocked(j)
	return nil
}

// finish moves the job to a terminal state and frees the active slot
func (o *Orchestrator) finish(id string, status Status, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok || j.status.Terminal() {
		return
	}
	j.status = status
	j.completedAt = o.now()
	j.errorMessage = message
	if o.activeID == id {
		o.activeID = ""
	}
	o.publishLocked(j)
	for ch := range o.subs[id] {
		close(ch)
	}
	delete(o.subs, id)
}

func (o *Orchestrator) closeDone(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j, ok := o.jobs[id]; ok {
		select {
		case <-j.done:
		default:
			close(j.done)
		}
	}
}

// publishLocked fans a snapshot out to subscribers; slow readers miss updates
func (o *Orchestrator) publishLocked(j *job) {
	if len(o.subs[j.id]) == 0 {
		return
	}
	snap := j.snapshot()
	for ch := range o.subs[j.id] {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, snap Snapshot, logger *slog.Logger) {
	if o.opts.Notifier == nil || len(snap.Results) == 0 {
		return
	}
	files := snap.Succeeded()
	if err := o.opts.Notifier.SendBatch(ctx, files, snap.Results, snap.Metadata.NotifyOverride); err != nil {
		logger.Warn("failed to send batch notification", "error", err)
		return
	}
	logger.Info("batch notification sent", "attachments", len(files))
}

func (o *Orchestrator) archive(ctx context.Context, id string, logger *slog.Logger) {
	if o.opts.Archiver == nil {
		return
	}
	snap, err := o.GetStatus(id)
	if err != nil {
		return
	}
	if err := o.opts.Archiver.Archive(context.WithoutCancel(ctx), snap); err != nil {
		logger.Warn("failed to archive job", "error", err)
	}
}
