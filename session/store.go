package session

import (
	"context"
	"sync"
	"time"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/logging"
)

// DefaultTTL is how long a context may sit idle before it is discarded.
const DefaultTTL = 24 * time.Hour

// reservedKeys are bookkeeping fields only the store itself may write.
var reservedKeys = []string{core.KeyCurrentAgent, core.KeyAgentHistory, core.KeyHandoffs, core.KeyLastHandoff}

// Options configures a Store.
type Options struct {
	// TTL is the idle lifetime of a context. Defaults to DefaultTTL.
	TTL time.Duration

	// Backend optionally persists contexts. Nil keeps everything in memory.
	Backend core.ContextBackend

	// BackendTimeout bounds each backend call.
	BackendTimeout time.Duration

	// TouchInterval is how stale the persisted last access may get before a
	// read is written through. Defaults to a tenth of TTL.
	TouchInterval time.Duration

	// Logger defaults to NoOp.
	Logger logging.Logger

	// Now is the clock used for timestamps and expiry.
	Now func() time.Time
}

type entry struct {
	data        core.Context
	lastAccess  time.Time
	persistedAt time.Time
}

// Store is the ContextStore implementation. It keeps contexts in a process
// local map guarded by a RWMutex and optionally writes them through to a
// ContextBackend. Every returned context is a clone.
//
// Expired contexts are swept on every Get and Lookup. A context loaded from
// the backend whose last access is older than the TTL is deleted there instead
// of being restored.
type Store struct {
	mu       sync.RWMutex
	contexts map[string]*entry
	opts     Options
}

// NewStore constructs an empty store.
func NewStore(optFns ...func(o *Options)) *Store {
	opts := Options{
		TTL:            DefaultTTL,
		BackendTimeout: 5 * time.Second,
		Logger:         logging.NoOpLogger{},
		Now:            time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	if opts.TouchInterval <= 0 || opts.TouchInterval > opts.TTL {
		opts.TouchInterval = opts.TTL / 10
	}

	return &Store{contexts: make(map[string]*entry), opts: opts}
}

// Get returns the user's context, creating a default one when missing or expired.
func (s *Store) Get(userID string) core.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	s.sweepLocked(now)

	e := s.getOrCreateLocked(userID, now)
	s.touchLocked(e, now)
	s.persistTouchLocked(userID, e, now)

	return e.data.Clone()
}

// Lookup returns the user's context without creating one.
func (s *Store) Lookup(userID string) (core.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	s.sweepLocked(now)

	e := s.loadLocked(userID, now)
	if e == nil {
		return nil, false
	}

	s.touchLocked(e, now)
	s.persistTouchLocked(userID, e, now)

	return e.data.Clone(), true
}

// Update shallow-merges partial into the user's context. Bookkeeping keys
// owned by the handoff path are ignored.
func (s *Store) Update(userID string, partial map[string]any) core.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	e := s.getOrCreateLocked(userID, now)

	for k, v := range partial {
		if isReserved(k) {
			s.opts.Logger.Debug("ignoring reserved context key", "user_id", userID, "key", k)
			continue
		}

		e.data[k] = core.CloneValue(v)
	}

	s.touchLocked(e, now)
	s.persistLocked(userID, e)

	return e.data.Clone()
}

// SetValue writes a single key.
func (s *Store) SetValue(userID, key string, value any) {
	s.Update(userID, map[string]any{key: value})
}

// Value reads a single key.
func (s *Store) Value(userID, key string) (any, bool) {
	c := s.Get(userID)
	v, ok := c[key]

	return v, ok
}

// PrepareHandoff appends a handoff record, makes target the current agent and
// appends source to the agent history.
func (s *Store) PrepareHandoff(userID, source, target string, payload map[string]any) core.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	e := s.getOrCreateLocked(userID, now)

	rec := core.HandoffRecord{SourceAgent: source, TargetAgent: target, Timestamp: now, Payload: core.CloneMap(payload)}

	handoffs := append([]core.HandoffRecord(nil), e.data.Handoffs()...)
	e.data[core.KeyHandoffs] = append(handoffs, rec)
	e.data[core.KeyLastHandoff] = rec
	e.data[core.KeyCurrentAgent] = target

	history := append([]string(nil), e.data.AgentHistory()...)
	if source != "" {
		history = append(history, source)
	}

	e.data[core.KeyAgentHistory] = history

	s.touchLocked(e, now)
	s.persistLocked(userID, e)
	s.opts.Logger.Info("prepared handoff", "user_id", userID, "source_agent", source, "target_agent", target)

	return e.data.Clone()
}

// WorkflowContext returns a copy of one workflow sub-context.
func (s *Store) WorkflowContext(userID, executionID string) (map[string]any, bool) {
	c, ok := s.Lookup(userID)
	if !ok {
		return nil, false
	}

	return c.Workflow(executionID)
}

// UpdateWorkflowContext merges data into workflows[executionID].
func (s *Store) UpdateWorkflowContext(userID, executionID string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	e := s.getOrCreateLocked(userID, now)

	workflows := core.CloneMap(e.data.Workflows())
	if workflows == nil {
		workflows = map[string]any{}
	}

	wf, ok := workflows[executionID].(map[string]any)
	if !ok {
		wf = map[string]any{"created_at": now, "status": "active"}
	}

	for k, v := range data {
		wf[k] = core.CloneValue(v)
	}

	wf["updated_at"] = now
	workflows[executionID] = wf
	e.data[core.KeyWorkflows] = workflows

	s.touchLocked(e, now)
	s.persistLocked(userID, e)
	s.opts.Logger.Debug("updated workflow context", "user_id", userID, "execution_id", executionID)
}

// CompleteWorkflow marks the workflow completed and stores result.
func (s *Store) CompleteWorkflow(userID, executionID string, result map[string]any) {
	if result == nil {
		result = map[string]any{}
	}

	s.UpdateWorkflowContext(userID, executionID, map[string]any{
		"status":       "completed",
		"completed_at": s.opts.Now(),
		"result":       result,
	})
	s.opts.Logger.Info("completed workflow", "user_id", userID, "execution_id", executionID)
}

// Preferences returns a copy of the user's preferences.
func (s *Store) Preferences(userID string) map[string]any {
	prefs := s.Get(userID).Preferences()
	if prefs == nil {
		return map[string]any{}
	}

	return prefs
}

// UpdatePreferences merges prefs into the user's preferences.
func (s *Store) UpdatePreferences(userID string, prefs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	e := s.getOrCreateLocked(userID, now)

	merged := core.CloneMap(e.data.Preferences())
	if merged == nil {
		merged = map[string]any{}
	}

	for k, v := range prefs {
		merged[k] = core.CloneValue(v)
	}

	e.data[core.KeyPreferences] = merged

	s.touchLocked(e, now)
	s.persistLocked(userID, e)
}

// Clear drops the user's context from memory and from the backend.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.contexts, userID)
	s.deleteBackendLocked(userID)
	s.opts.Logger.Info("cleared context", "user_id", userID)
}

// CleanupExpired removes expired contexts and returns how many were dropped.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweepLocked(s.opts.Now())
}

// StartJanitor sweeps expired contexts every interval until ctx is done.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.CleanupExpired(); n > 0 {
					s.opts.Logger.Debug("janitor removed expired contexts", "count", n)
				}
			}
		}
	}()
}

// Stats summarizes the store contents.
type Stats struct {
	ActiveContexts int    `json:"active_contexts"`
	TotalWorkflows int    `json:"total_workflows"`
	TTL            string `json:"ttl"`
	Persistent     bool   `json:"persistent"`
}

// Statistics returns a snapshot of store usage.
func (s *Store) Statistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, e := range s.contexts {
		total += len(e.data.Workflows())
	}

	return Stats{
		ActiveContexts: len(s.contexts),
		TotalWorkflows: total,
		TTL:            s.opts.TTL.String(),
		Persistent:     s.opts.Backend != nil,
	}
}

// getOrCreateLocked returns the live entry for userID, loading it from the
// backend or creating a default one. Caller must hold the write lock.
func (s *Store) getOrCreateLocked(userID string, now time.Time) *entry {
	if e := s.loadLocked(userID, now); e != nil {
		return e
	}

	e := &entry{data: core.NewContext(now), lastAccess: now}
	s.contexts[userID] = e
	s.persistLocked(userID, e)
	s.opts.Logger.Debug("created context", "user_id", userID)

	return e
}

func (s *Store) loadLocked(userID string, now time.Time) *entry {
	if e, ok := s.contexts[userID]; ok {
		if s.expired(e.lastAccess, now) {
			delete(s.contexts, userID)
			s.deleteBackendLocked(userID)

			return nil
		}

		return e
	}

	if s.opts.Backend == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.BackendTimeout)
	defer cancel()

	data, ok, err := s.opts.Backend.LoadContext(ctx, userID)
	if err != nil {
		s.opts.Logger.Error("failed to load context", "user_id", userID, "error", err)
		return nil
	}

	if !ok || data == nil {
		return nil
	}

	last, ok := data.Time(core.KeyLastAccessedAt)
	if !ok {
		last = now
	}

	if s.expired(last, now) {
		s.deleteBackendLocked(userID)
		return nil
	}

	e := &entry{data: data, lastAccess: last, persistedAt: last}
	s.contexts[userID] = e

	return e
}

func (s *Store) touchLocked(e *entry, now time.Time) {
	e.lastAccess = now
	e.data[core.KeyLastAccessedAt] = now
}

// persistTouchLocked writes a read-only access through once the persisted
// last access is TouchInterval old.
func (s *Store) persistTouchLocked(userID string, e *entry, now time.Time) {
	if s.opts.Backend == nil || now.Sub(e.persistedAt) < s.opts.TouchInterval {
		return
	}

	s.persistLocked(userID, e)
}

func (s *Store) persistLocked(userID string, e *entry) {
	if s.opts.Backend == nil {
		return
	}

	e.persistedAt = e.lastAccess

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.BackendTimeout)
	defer cancel()

	if err := s.opts.Backend.SaveContext(ctx, userID, e.data.Clone()); err != nil {
		s.opts.Logger.Error("failed to persist context", "user_id", userID, "error", err)
	}
}

func (s *Store) deleteBackendLocked(userID string) {
	if s.opts.Backend == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.BackendTimeout)
	defer cancel()

	if err := s.opts.Backend.DeleteContext(ctx, userID); err != nil {
		s.opts.Logger.Error("failed to delete persisted context", "user_id", userID, "error", err)
	}
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0

	for userID, e := range s.contexts {
		if s.expired(e.lastAccess, now) {
			delete(s.contexts, userID)
			s.deleteBackendLocked(userID)
			removed++
		}
	}

	if removed > 0 {
		s.opts.Logger.Info("cleaned up expired contexts", "count", removed)
	}

	return removed
}

func (s *Store) expired(last, now time.Time) bool {
	return now.Sub(last) > s.opts.TTL
}

func isReserved(key string) bool {
	for _, k := range reservedKeys {
		if k == key {
			return true
		}
	}

	return false
}
