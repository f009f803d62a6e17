// Package audit runs requested controls against one provider and assembles
// the ordered response.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/auditron/internal/observability"
	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/controls"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CredentialResolver produces the bundle for one request
type CredentialResolver interface {
	Resolve(ctx context.Context, provider models.Provider, userID string) (models.Credentials, error)
}

// Catalog looks up registered controls
type Catalog interface {
	Lookup(id string) (controls.Control, bool)
}

// Config holds dispatcher limits
type Config struct {
	// ControlTimeout bounds a single checker call. Zero disables the bound.
	ControlTimeout time.Duration
	// MaxConcurrency is the number of controls checked at once within a request
	MaxConcurrency int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		ControlTimeout: 60 * time.Second,
		MaxConcurrency: 4,
	}
}

// Dispatcher validates, executes and normalizes the controls of one audit
// request. It holds no per-request state and may be shared.
type Dispatcher struct {
	catalog  Catalog
	resolver CredentialResolver
	cfg      Config
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(catalog Catalog, resolver CredentialResolver, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	return &Dispatcher{
		catalog:  catalog,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

type pending struct {
	index   int
	control controls.Control
}

// Run audits controlIDs against provider. The response always holds exactly
// one result per requested identifier, in request order.
func (d *Dispatcher) Run(ctx context.Context, provider models.Provider, controlIDs []string, userID string) *models.AuditResponse {
	runID := uuid.NewString()
	logger := d.logger.With(
		zap.String("run_id", runID),
		zap.String("provider", string(provider)))
	logger.Info("audit started", zap.Int("controls", len(controlIDs)))
	d.metrics.IncAuditRequest(string(provider))

	results := make([]models.AuditResult, len(controlIDs))
	var runnable []pending
	var rejected []int

	for i, id := range controlIDs {
		if !provider.Owns(id) {
			results[i] = mismatchResult(id, provider)
			rejected = append(rejected, i)
			continue
		}
		control, ok := d.catalog.Lookup(id)
		if !ok {
			results[i] = unsupportedResult(id)
			rejected = append(rejected, i)
			continue
		}
		runnable = append(runnable, pending{index: i, control: control})
	}

	if len(runnable) > 0 {
		creds, err := d.resolver.Resolve(ctx, provider, userID)
		if err != nil {
			logger.Error("credential resolution failed", zap.Error(err))
			for i, id := range controlIDs {
				results[i] = credentialFailureResult(id, err)
				d.metrics.ObserveControl(string(provider), string(models.StatusError), 0)
			}
			return &models.AuditResponse{Provider: provider, Results: results}
		}

		var g errgroup.Group
		g.SetLimit(d.cfg.MaxConcurrency)
		for _, p := range runnable {
			g.Go(func() error {
				start := time.Now()
				res := d.execute(ctx, logger, p.control, creds)
				d.metrics.ObserveControl(string(provider), string(res.Status), time.Since(start))
				results[p.index] = res
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, i := range rejected {
		d.metrics.ObserveControl(string(provider), string(results[i].Status), 0)
	}
	for _, r := range results {
		if r.Status == models.StatusError {
			logger.Warn("control errored",
				zap.String("control_id", r.ControlID),
				zap.String("summary", r.Summary))
		}
	}

	logger.Info("audit finished", zap.Int("results", len(results)))
	return &models.AuditResponse{Provider: provider, Results: results}
}

type outcome struct {
	result models.CheckResult
	err    error
}

// execute runs one checker with its own deadline. Panics, errors and
// timeouts all become ERROR results; nothing escapes to siblings.
func (d *Dispatcher) execute(ctx context.Context, logger *zap.Logger, control controls.Control, creds models.Credentials) models.AuditResult {
	cctx, cancel := d.controlContext(ctx)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("checker panicked",
					zap.String("control_id", control.ID),
					zap.Any("panic", r))
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := control.Checker.Check(cctx, creds)
		done <- outcome{result: res, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-cctx.Done():
		o = outcome{err: cctx.Err()}
	}

	logger.Debug("control finished",
		zap.String("control_id", control.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("failed", o.err != nil))

	if o.err != nil {
		return d.errorResult(ctx, cctx, control, o.err)
	}

	norm := Normalize(o.result)
	return models.AuditResult{
		ControlID: control.ID,
		Status:    norm.Status,
		Summary:   norm.Summary,
		Evidence:  norm.Evidence,
	}
}

func (d *Dispatcher) controlContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.ControlTimeout > 0 {
		return context.WithTimeout(ctx, d.cfg.ControlTimeout)
	}
	return context.WithCancel(ctx)
}

// errorResult classifies a failed check. Cancellation and timeout apply only
// when the checker failed with a context error; any other cause is reported
// as is.
func (d *Dispatcher) errorResult(parent, cctx context.Context, control controls.Control, err error) models.AuditResult {
	interrupted := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	switch {
	case interrupted && parent.Err() != nil:
		return models.AuditResult{
			ControlID: control.ID,
			Status:    models.StatusError,
			Summary:   fmt.Sprintf("Audit cancelled: %v", parent.Err()),
			Evidence:  map[string]any{"error": "cancelled", "details": err.Error()},
		}
	case interrupted && errors.Is(cctx.Err(), context.DeadlineExceeded):
		return models.AuditResult{
			ControlID: control.ID,
			Status:    models.StatusError,
			Summary:   fmt.Sprintf("Control timed out after %s.", d.cfg.ControlTimeout),
			Evidence:  map[string]any{"error": "timeout"},
		}
	case errors.Is(err, controls.ErrNoCredentials):
		return models.AuditResult{
			ControlID: control.ID,
			Status:    models.StatusError,
			Summary:   fmt.Sprintf("No %s credentials configured for this provider.", control.Provider().Label()),
			Evidence:  map[string]any{"error": "no_credentials"},
		}
	}
	return models.AuditResult{
		ControlID: control.ID,
		Status:    models.StatusError,
		Summary:   fmt.Sprintf("Error executing control: %v", err),
		Evidence:  map[string]any{"error": "execution_failed", "details": err.Error()},
	}
}

func mismatchResult(id string, provider models.Provider) models.AuditResult {
	return models.AuditResult{
		ControlID: id,
		Status:    models.StatusError,
		Summary:   fmt.Sprintf("Invalid control ID for provider '%s'.", provider),
		Evidence: map[string]any{
			"note": fmt.Sprintf("Control ID '%s' does not belong to the '%s' provider.", id, provider),
		},
	}
}

func unsupportedResult(id string) models.AuditResult {
	return models.AuditResult{
		ControlID: id,
		Status:    models.StatusError,
		Summary:   fmt.Sprintf("Control ID '%s' is not supported.", id),
		Evidence:  map[string]any{"error": "unsupported_control"},
	}
}

func credentialFailureResult(id string, err error) models.AuditResult {
	cause := err
	if inner := errors.Unwrap(err); inner != nil {
		cause = inner
	}
	return models.AuditResult{
		ControlID: id,
		Status:    models.StatusError,
		Summary:   fmt.Sprintf("Failed to retrieve user credentials: %v", cause),
		Evidence:  map[string]any{"error": "credential_fetch_failed", "details": cause.Error()},
	}
}
