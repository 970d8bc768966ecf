package action

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/audit"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/blockdetect"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/circuit"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/metrics"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/pages"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/security"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/stats"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

const historySize = 1024

// HistoryEntry records one executed action for the per-page history.
type HistoryEntry struct {
	PageID    string           `json:"pageId"`
	Kind      types.ActionKind `json:"kind"`
	Success   bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
	Duration  time.Duration    `json:"duration"`
	Timestamp time.Time        `json:"timestamp"`
}

// Executor runs the full action pipeline: validate, resolve the page
// with ownership checks, clamp the timeout, gate through the
// per-operation circuit breaker, dispatch with retries, and record the
// outcome.
type Executor struct {
	cfg        *config.Config
	validator  *Validator
	dispatcher *Dispatcher
	pages      *pages.Manager
	breakers   *circuit.Registry
	sink       audit.Sink
	history    *lru.Cache[int64, HistoryEntry]
	historySeq atomic.Int64
	domains    *stats.Tracker
}

// NewExecutor wires the pipeline.
func NewExecutor(cfg *config.Config, validator *Validator, dispatcher *Dispatcher, pm *pages.Manager, sink audit.Sink) *Executor {
	if sink == nil {
		sink = audit.NopSink{}
	}
	hist, _ := lru.New[int64, HistoryEntry](historySize)
	return &Executor{
		cfg:        cfg,
		validator:  validator,
		dispatcher: dispatcher,
		pages:      pm,
		breakers: circuit.NewRegistry(circuit.Options{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Window:           cfg.BreakerRollingWindow,
			OpenDuration:     cfg.BreakerOpenDuration,
		}),
		sink:    sink,
		history: hist,
		domains: stats.NewTracker(),
	}
}

// Execute runs one action for the principal and never panics the
// caller; failures come back as a failed ActionResult.
func (e *Executor) Execute(ctx context.Context, principal types.Principal, a types.Action) types.ActionResult {
	started := time.Now()

	vres := e.validator.Validate(a)
	if !vres.Valid {
		e.sink.Emit(audit.Event{
			Type:      audit.ValidationFailure,
			Timestamp: time.Now().UTC(),
			UserID:    principal.UserID,
			SessionID: principal.SessionID,
			Resource:  "page:" + a.PageID,
			Action:    string(a.Kind),
			Outcome:   vres.Errors[0].Code,
		})
		if code := suspiciousCode(vres.Errors); code != "" {
			e.sink.Emit(audit.Event{
				Type:      audit.SuspiciousActivity,
				Timestamp: time.Now().UTC(),
				UserID:    principal.UserID,
				SessionID: principal.SessionID,
				Resource:  "page:" + a.PageID,
				Action:    string(a.Kind),
				Outcome:   code,
			})
		}
		metrics.ActionsTotal.WithLabelValues(string(a.Kind), "invalid").Inc()
		return types.Failure(a.Kind, vres.Err(), started)
	}

	page, err := e.pages.Page(principal, a.PageID)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(string(a.Kind), "rejected").Inc()
		return types.Failure(a.Kind, err, started)
	}

	timeout := a.TimeoutDuration()
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if e.cfg.MaxTimeoutCap > 0 && timeout > e.cfg.MaxTimeoutCap {
		log.Warn().
			Dur("requested", timeout).
			Dur("cap", e.cfg.MaxTimeoutCap).
			Str("kind", string(a.Kind)).
			Msg("Action timeout capped")
		timeout = e.cfg.MaxTimeoutCap
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	breaker := e.breakers.Get(string(a.Kind) + "|" + a.PageID)
	if !breaker.Allow() {
		metrics.ActionsTotal.WithLabelValues(string(a.Kind), "circuit_open").Inc()
		return types.Failure(a.Kind, types.Errorf(types.ErrCircuitOpen, "%s on page %s suspended after repeated failures", a.Kind, a.PageID), started)
	}

	startEv := e.commandEvent(principal, a, "start", "", 0)
	if len(vres.Warnings) > 0 {
		if startEv.Metadata == nil {
			startEv.Metadata = map[string]any{}
		}
		startEv.Metadata["warnings"] = vres.Warnings
	}
	e.sink.Emit(startEv)
	log.Debug().
		Str("kind", string(a.Kind)).
		Str("page_id", a.PageID).
		Dur("timeout", timeout).
		Msg("Executing action")

	var data any
	err = retryPolicyFor(a.Kind).Do(execCtx, func() error {
		var dispatchErr error
		data, dispatchErr = e.dispatcher.Dispatch(execCtx, page, a)
		return dispatchErr
	})
	breaker.Record(err == nil)

	duration := time.Since(started)
	metrics.ActionDuration.WithLabelValues(string(a.Kind)).Observe(duration.Seconds())

	e.pages.RecordActivity(a.PageID, page.URL(), err != nil)
	e.recordHistory(a, err, duration)

	if a.Kind == types.ActionNavigate {
		if p, derr := types.DecodeParams[types.NavigateParams](a); derr == nil {
			e.domains.Record(stats.Domain(p.URL), duration, err == nil)
		}
	}

	if err != nil {
		metrics.ActionsTotal.WithLabelValues(string(a.Kind), "error").Inc()
		e.sink.Emit(e.commandEvent(principal, a, "complete", "error", duration))
		log.Warn().
			Err(err).
			Str("kind", string(a.Kind)).
			Str("page_id", a.PageID).
			Dur("duration", duration).
			Msg("Action failed")
		return types.Failure(a.Kind, err, started)
	}

	metrics.ActionsTotal.WithLabelValues(string(a.Kind), "success").Inc()
	e.sink.Emit(e.commandEvent(principal, a, "complete", "success", duration))

	result := types.SuccessResult(a.Kind, data, started)
	if len(vres.Warnings) > 0 {
		result.Metadata["validationWarnings"] = vres.Warnings
	}
	if a.Kind == types.ActionContent {
		if payload, ok := data.(map[string]any); ok {
			if body, ok := payload["content"].(string); ok {
				if sig := blockdetect.Scan(body); sig.Detected {
					result.Metadata["blockSignal"] = sig
					e.domains.RecordBlock(stats.Domain(page.URL()), sig.Code)
					log.Warn().
						Str("page_id", a.PageID).
						Str("code", sig.Code).
						Str("category", string(sig.Category)).
						Msg("Block signal detected in page content")
				}
			}
		}
	}
	return result
}

// suspiciousCode reports the first validation error that looks like a
// deliberate bypass attempt rather than a malformed request.
func suspiciousCode(errs []FieldError) string {
	for _, fe := range errs {
		switch fe.Code {
		case CodeDangerousSelector, CodeBlockedURL, CodeInvalidFile:
			return fe.Code
		}
	}
	return ""
}

func (e *Executor) commandEvent(principal types.Principal, a types.Action, phase, outcome string, d time.Duration) audit.Event {
	ev := audit.Event{
		Type:      audit.CommandExecuted,
		Timestamp: time.Now().UTC(),
		UserID:    principal.UserID,
		SessionID: principal.SessionID,
		Resource:  "page:" + a.PageID,
		Action:    string(a.Kind),
		Phase:     phase,
		Outcome:   outcome,
		Duration:  d,
	}
	// Params can carry credentials (type actions into login forms), so
	// only a redacted summary is audited.
	if a.Kind == types.ActionNavigate {
		if p, err := types.DecodeParams[types.NavigateParams](a); err == nil {
			ev.Metadata = map[string]any{"url": security.RedactURL(p.URL)}
		}
	}
	return ev
}

func (e *Executor) recordHistory(a types.Action, err error, d time.Duration) {
	entry := HistoryEntry{
		PageID:    a.PageID,
		Kind:      a.Kind,
		Success:   err == nil,
		Duration:  d,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		entry.Error = security.TruncateForLog(err.Error(), 256)
	}
	e.history.Add(e.historySeq.Add(1), entry)
}

// History returns the retained entries for one page, oldest first.
func (e *Executor) History(pageID string) []HistoryEntry {
	var out []HistoryEntry
	for _, key := range e.history.Keys() {
		if entry, ok := e.history.Peek(key); ok && entry.PageID == pageID {
			out = append(out, entry)
		}
	}
	return out
}

// DomainStats exposes the per-domain navigation tracker.
func (e *Executor) DomainStats() *stats.Tracker {
	return e.domains
}

// IsSupported reports whether the executor can run the kind.
func (e *Executor) IsSupported(kind types.ActionKind) bool {
	return e.dispatcher.IsSupported(kind)
}

// ReleasePage drops the per-page breakers and history retention cost
// when a page closes.
func (e *Executor) ReleasePage(pageID string) {
	for _, kind := range e.dispatcher.Kinds() {
		e.breakers.Remove(string(kind) + "|" + pageID)
	}
}
