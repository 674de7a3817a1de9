// Package memory implements the memory store: the orchestration layer
// between the embedding provider, the vector index and the metadata
// store, with the access policy applied on every read and write path.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memvault/mcp-memvault/internal/access"
	"github.com/memvault/mcp-memvault/pkg/provider"
	"github.com/memvault/mcp-memvault/pkg/types"
)

// Options tune store behavior. Zero values fall back to defaults.
type Options struct {
	// DefaultLimit is used when a search request carries no limit.
	DefaultLimit int
	// MaxLimit caps any requested limit.
	MaxLimit int
	// Overfetch multiplies the index k to leave room for hits dropped
	// by the access recheck.
	Overfetch int
	// MaxTextLen rejects memories longer than this many runes.
	MaxTextLen int
	// EmbedTimeout bounds a single embedding call.
	EmbedTimeout time.Duration
	// IndexTimeout bounds a single vector index call.
	IndexTimeout time.Duration
}

func (o *Options) fill() {
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = 10
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = 100
	}
	if o.Overfetch <= 0 {
		o.Overfetch = 3
	}
	if o.MaxTextLen <= 0 {
		o.MaxTextLen = 8192
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = 30 * time.Second
	}
	if o.IndexTimeout <= 0 {
		o.IndexTimeout = 10 * time.Second
	}
}

// Store coordinates all memory operations.
type Store struct {
	meta     provider.MetadataStore
	index    provider.VectorIndex
	embedder provider.EmbeddingProvider
	policy   access.Policy
	opts     Options
	locks    *userLocks
	now      func() time.Time
	newID    func() string
}

// NewStore creates a memory store.
func NewStore(meta provider.MetadataStore, index provider.VectorIndex, embedder provider.EmbeddingProvider, policy access.Policy, opts Options) *Store {
	opts.fill()
	return &Store{
		meta:     meta,
		index:    index,
		embedder: embedder,
		policy:   policy,
		opts:     opts,
		locks:    newUserLocks(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Bootstrap makes sure the default tenant's app row exists so a fresh
// install can add memories without prior registration.
func (s *Store) Bootstrap(ctx context.Context, userID, appID string) error {
	if !access.ValidIdentity(userID, appID) {
		return nil
	}
	_, err := s.meta.GetOrCreateApp(ctx, userID, appID)
	if err != nil {
		return types.StorageError("failed to bootstrap default app", err)
	}
	return nil
}

// Add embeds text and persists it as a new memory. The memory row, its
// audit entry and its vector become visible together or not at all.
func (s *Store) Add(ctx context.Context, text, userID, appID string) (string, error) {
	if !access.ValidIdentity(userID, appID) {
		return "", types.AccessDenied("user and app identifiers are required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", types.ValidationError("memory text must not be empty")
	}
	if len([]rune(text)) > s.opts.MaxTextLen {
		return "", types.ValidationError("memory text exceeds %d characters", s.opts.MaxTextLen)
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	app, err := s.meta.GetOrCreateApp(ctx, userID, appID)
	if err != nil {
		return "", types.StorageError("failed to resolve app", err)
	}
	if !app.Active {
		return "", types.AccessDenied("app %s is paused and cannot write", appID)
	}

	vector, err := s.embed(ctx, text)
	if err != nil {
		return "", err
	}

	now := s.now()
	mem := &types.Memory{
		ID:        s.newID(),
		UserID:    userID,
		AppID:     appID,
		Text:      text,
		State:     types.StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	audit := &types.AuditEntry{
		ID:       s.newID(),
		Op:       types.OpAdd,
		MemoryID: mem.ID,
		UserID:   userID,
		AppID:    appID,
		At:       now,
	}

	// The vector upsert runs inside the metadata transaction window:
	// if the upsert fails the row is rolled back, and if the commit
	// fails the vector is removed again. An orphan vector during the
	// window is invisible because reads resolve hits against metadata.
	err = s.meta.WithTx(ctx, func(tx provider.MetadataTx) error {
		if err := tx.InsertMemory(mem); err != nil {
			return types.StorageError("failed to insert memory", err)
		}
		if err := tx.AppendAudit(audit); err != nil {
			return types.StorageError("failed to append audit entry", err)
		}
		return s.upsertVector(ctx, mem.ID, vector, types.VectorMeta{UserID: userID, AppID: appID})
	})
	if err != nil {
		s.compensateVector(mem.ID)
		return "", err
	}

	slog.Debug("memory added", "id", mem.ID, "user", userID, "app", appID)
	return mem.ID, nil
}

// Search embeds the query and returns the caller's most similar active
// memories ordered by score descending, newest first on ties. A limit
// of 0 means "use the configured default"; negative limits are
// rejected. Callers exposing limit directly must reject non-positive
// values themselves, as the tool surface does.
func (s *Store) Search(ctx context.Context, query, userID, appID string, limit int) ([]*types.SearchResult, error) {
	if !access.ValidIdentity(userID, appID) {
		return nil, types.AccessDenied("user and app identifiers are required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, types.ValidationError("search query must not be empty")
	}
	if limit < 0 {
		return nil, types.ValidationError("limit must be positive, got %d", limit)
	}
	if limit == 0 {
		limit = s.opts.DefaultLimit
	}
	if limit > s.opts.MaxLimit {
		limit = s.opts.MaxLimit
	}

	vector, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	// The index filter narrows down to the user; the app dimension is
	// left open when sharing is enabled and rechecked below either way.
	filter := types.VectorMeta{UserID: userID}
	if !s.policy.ShareAcrossApps {
		filter.AppID = appID
	}

	ictx, cancel := context.WithTimeout(ctx, s.opts.IndexTimeout)
	defer cancel()
	hits, err := s.index.Query(ictx, vector, limit*s.opts.Overfetch, filter)
	if err != nil {
		return nil, types.IndexError("vector query failed", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	scores := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scores[h.ID] = h.Score
	}

	memories, err := s.meta.GetMemories(ctx, ids)
	if err != nil {
		return nil, types.StorageError("failed to resolve search hits", err)
	}

	var results []*types.SearchResult
	for _, m := range memories {
		// The policy is the authority; the index filter is only an
		// optimization.
		if !s.policy.CanAccess(m, userID, appID) {
			continue
		}
		results = append(results, &types.SearchResult{Memory: m, Score: scores[m.ID]})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Memory.CreatedAt.Equal(results[j].Memory.CreatedAt) {
			return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	s.logAccess(ctx, types.AccessSearch, userID, appID, resultIDs(results))
	return results, nil
}

// List returns the caller's visible active memories, oldest first.
func (s *Store) List(ctx context.Context, userID, appID string) ([]*types.Memory, error) {
	if !access.ValidIdentity(userID, appID) {
		return nil, types.AccessDenied("user and app identifiers are required")
	}

	f := types.Filter{UserID: userID}
	if !s.policy.ShareAcrossApps {
		f.AppID = appID
	}

	memories, err := s.meta.ListMemories(ctx, f)
	if err != nil {
		return nil, types.StorageError("failed to list memories", err)
	}

	var visible []*types.Memory
	var ids []string
	for _, m := range memories {
		if !s.policy.CanAccess(m, userID, appID) {
			continue
		}
		visible = append(visible, m)
		ids = append(ids, m.ID)
	}

	s.logAccess(ctx, types.AccessList, userID, appID, ids)
	return visible, nil
}

// Get returns a single memory if the caller may see it.
func (s *Store) Get(ctx context.Context, id, userID, appID string) (*types.Memory, error) {
	if !access.ValidIdentity(userID, appID) {
		return nil, types.AccessDenied("user and app identifiers are required")
	}

	m, err := s.meta.GetMemory(ctx, id)
	if err == types.ErrNotFound {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, types.StorageError("failed to load memory", err)
	}
	if !s.policy.CanAccess(m, userID, appID) {
		// Indistinguishable from absence so existence never leaks.
		return nil, types.ErrNotFound
	}
	return m, nil
}

// DeleteAll soft-deletes every active memory owned by the exact
// (user, app) pair and returns how many were deleted. Calling it again
// finds nothing to delete and returns zero: idempotent by construction.
func (s *Store) DeleteAll(ctx context.Context, userID, appID string) (int, error) {
	if !access.ValidIdentity(userID, appID) {
		return 0, types.AccessDenied("user and app identifiers are required")
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	ids, err := s.meta.ListActiveIDs(ctx, userID, appID)
	if err != nil {
		return 0, types.StorageError("failed to enumerate memories", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	now := s.now()
	deleted := 0
	err = s.meta.WithTx(ctx, func(tx provider.MetadataTx) error {
		for _, id := range ids {
			changed, err := tx.MarkDeleted(id, now)
			if err != nil {
				return types.StorageError("failed to delete memory", err)
			}
			if !changed {
				continue
			}
			deleted++
			audit := &types.AuditEntry{
				ID:       s.newID(),
				Op:       types.OpDeleteAll,
				MemoryID: id,
				UserID:   userID,
				AppID:    appID,
				At:       now,
			}
			if err := tx.AppendAudit(audit); err != nil {
				return types.StorageError("failed to append audit entry", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Vectors of soft-deleted memories are dropped from the index.
	// Removal after commit is safe: a stale hit is filtered out by the
	// deleted-state recheck.
	ictx, cancel := context.WithTimeout(ctx, s.opts.IndexTimeout)
	defer cancel()
	if err := s.index.Delete(ictx, ids...); err != nil {
		slog.Warn("failed to drop vectors of deleted memories", "user", userID, "error", err)
	}

	slog.Info("memories deleted", "user", userID, "app", appID, "count", deleted)
	return deleted, nil
}

// UpdateTags replaces the tags of an active memory. Tags are the only
// mutation allowed besides deletion and text updates.
func (s *Store) UpdateTags(ctx context.Context, id string, tags []string, userID, appID string) error {
	if !access.ValidIdentity(userID, appID) {
		return types.AccessDenied("user and app identifiers are required")
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	m, err := s.writableMemory(ctx, id, userID, appID)
	if err != nil {
		return err
	}

	now := s.now()
	m.Tags = tags
	m.UpdatedAt = now

	return s.meta.WithTx(ctx, func(tx provider.MetadataTx) error {
		if err := tx.UpdateMemory(m); err != nil {
			return types.StorageError("failed to update tags", err)
		}
		return tx.AppendAudit(&types.AuditEntry{
			ID:       s.newID(),
			Op:       types.OpUpdateTags,
			MemoryID: id,
			UserID:   userID,
			AppID:    appID,
			At:       now,
		})
	})
}

// UpdateText replaces the text of an active memory and re-embeds it in
// the same commit window, keeping the vector derivable from the text.
func (s *Store) UpdateText(ctx context.Context, id, text, userID, appID string) error {
	if !access.ValidIdentity(userID, appID) {
		return types.AccessDenied("user and app identifiers are required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.ValidationError("memory text must not be empty")
	}
	if len([]rune(text)) > s.opts.MaxTextLen {
		return types.ValidationError("memory text exceeds %d characters", s.opts.MaxTextLen)
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	m, err := s.writableMemory(ctx, id, userID, appID)
	if err != nil {
		return err
	}

	vector, err := s.embed(ctx, text)
	if err != nil {
		return err
	}

	now := s.now()
	m.Text = text
	m.UpdatedAt = now

	return s.meta.WithTx(ctx, func(tx provider.MetadataTx) error {
		if err := tx.UpdateMemory(m); err != nil {
			return types.StorageError("failed to update text", err)
		}
		if err := tx.AppendAudit(&types.AuditEntry{
			ID:       s.newID(),
			Op:       types.OpUpdateText,
			MemoryID: id,
			UserID:   userID,
			AppID:    appID,
			At:       now,
		}); err != nil {
			return types.StorageError("failed to append audit entry", err)
		}
		return s.upsertVector(ctx, id, vector, types.VectorMeta{UserID: userID, AppID: appID})
	})
}

// Purge physically removes the caller's soft-deleted memories.
func (s *Store) Purge(ctx context.Context, userID, appID string) (int, error) {
	if !access.ValidIdentity(userID, appID) {
		return 0, types.AccessDenied("user and app identifiers are required")
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	n, err := s.meta.PurgeDeleted(ctx, userID, appID)
	if err != nil {
		return 0, types.StorageError("failed to purge memories", err)
	}
	return n, nil
}

// Audit returns the caller's audit trail, newest first.
func (s *Store) Audit(ctx context.Context, userID, appID string, limit int) ([]*types.AuditEntry, error) {
	if !access.ValidIdentity(userID, appID) {
		return nil, types.AccessDenied("user and app identifiers are required")
	}
	entries, err := s.meta.ListAudit(ctx, types.Filter{UserID: userID, AppID: appID}, limit)
	if err != nil {
		return nil, types.StorageError("failed to list audit entries", err)
	}
	return entries, nil
}

// AccessLog returns the caller's access log, newest first.
func (s *Store) AccessLog(ctx context.Context, userID, appID string, limit int) ([]*types.AccessLogEntry, error) {
	if !access.ValidIdentity(userID, appID) {
		return nil, types.AccessDenied("user and app identifiers are required")
	}
	entries, err := s.meta.ListAccessLog(ctx, types.Filter{UserID: userID, AppID: appID}, limit)
	if err != nil {
		return nil, types.StorageError("failed to list access log", err)
	}
	return entries, nil
}

// Stats returns counters for the caller's slice of the store.
func (s *Store) Stats(ctx context.Context, userID string) (*types.StoreStats, error) {
	stats, err := s.meta.Stats(ctx, types.Filter{UserID: userID})
	if err != nil {
		return nil, types.StorageError("failed to collect stats", err)
	}
	if n, err := s.index.Count(ctx); err == nil {
		stats.VectorCount = n
	}
	stats.IndexProvider = s.index.Name()
	return stats, nil
}

// Apps returns the user's registered apps.
func (s *Store) Apps(ctx context.Context, userID string) ([]*types.App, error) {
	apps, err := s.meta.ListApps(ctx, userID)
	if err != nil {
		return nil, types.StorageError("failed to list apps", err)
	}
	return apps, nil
}

// SetAppActive pauses or resumes one of the user's apps.
func (s *Store) SetAppActive(ctx context.Context, userID, appID string, active bool) error {
	err := s.meta.SetAppActive(ctx, userID, appID, active)
	if err == types.ErrNotFound {
		return types.ErrNotFound
	}
	if err != nil {
		return types.StorageError("failed to update app", err)
	}
	return nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	ectx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	defer cancel()

	vectors, err := s.embedder.Embed(ectx, []string{text})
	if err != nil {
		return nil, types.EmbeddingError("embedding failed", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, types.EmbeddingError("embedding provider returned no vector", nil)
	}
	return vectors[0], nil
}

func (s *Store) upsertVector(ctx context.Context, id string, vector []float32, meta types.VectorMeta) error {
	ictx, cancel := context.WithTimeout(ctx, s.opts.IndexTimeout)
	defer cancel()

	if err := s.index.Upsert(ictx, id, vector, meta); err != nil {
		return types.IndexError("vector upsert failed", err)
	}
	return nil
}

// compensateVector removes a vector whose metadata commit did not go
// through. Best effort with a fresh deadline: the hit would be filtered
// on read anyway.
func (s *Store) compensateVector(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.IndexTimeout)
	defer cancel()
	if err := s.index.Delete(ctx, id); err != nil {
		slog.Warn("failed to remove orphan vector", "id", id, "error", err)
	}
}

func (s *Store) logAccess(ctx context.Context, op types.AccessOp, userID, appID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	now := s.now()
	entries := make([]*types.AccessLogEntry, len(ids))
	for i, id := range ids {
		entries[i] = &types.AccessLogEntry{
			ID:       s.newID(),
			Op:       op,
			MemoryID: id,
			UserID:   userID,
			AppID:    appID,
			At:       now,
		}
	}
	if err := s.meta.AppendAccessLogs(ctx, entries); err != nil {
		slog.Warn("failed to append access log", "op", op, "error", err)
	}
}

// writableMemory loads a memory and verifies the caller may mutate it.
func (s *Store) writableMemory(ctx context.Context, id, userID, appID string) (*types.Memory, error) {
	m, err := s.meta.GetMemory(ctx, id)
	if err == types.ErrNotFound {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, types.StorageError("failed to load memory", err)
	}
	if !s.policy.CanWrite(m, userID, appID) {
		return nil, types.ErrNotFound
	}
	if m.Deleted() {
		return nil, types.ValidationError("memory %s is deleted and cannot change", id)
	}
	return m, nil
}

func resultIDs(results []*types.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	return ids
}
