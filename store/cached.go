package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hatsunemiku3939/eventgateway/model"
)

const cacheRefreshTimeout = 10 * time.Second

// CachedStorage serves reads from an in-memory snapshot of a backing store.
// The snapshot is refreshed on a timer and immediately after every write
// that goes through this wrapper. When a background refresh fails the cache
// keeps serving the last good snapshot and reports itself degraded until a
// refresh succeeds again.
type CachedStorage struct {
	backing Storage
	logger  *zap.Logger

	mu          sync.RWMutex
	rules       []model.TopicRoutingRule
	validations map[string][]model.TopicValidationConfig
	degraded    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCachedStorage loads the initial snapshot and starts the background
// refresher. Call Close to stop it.
func NewCachedStorage(ctx context.Context, backing Storage, refreshInterval time.Duration, logger *zap.Logger) (*CachedStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CachedStorage{
		backing:     backing,
		logger:      logger,
		validations: make(map[string][]model.TopicValidationConfig),
		done:        make(chan struct{}),
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.refreshLoop(refreshCtx, refreshInterval)
	return s, nil
}

// Close stops the background refresher and waits for it to exit.
func (s *CachedStorage) Close() {
	s.cancel()
	<-s.done
}

// Degraded reports whether the last snapshot refresh failed.
func (s *CachedStorage) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *CachedStorage) refreshLoop(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, cacheRefreshTimeout)
			err := s.refresh(refreshCtx)
			cancel()
			if err != nil {
				s.logger.Warn("cache refresh failed, serving stale snapshot", zap.Error(err))
			}
		}
	}
}

// refresh rebuilds the snapshot from the backing store. On failure the old
// snapshot stays in place and the cache is marked degraded.
func (s *CachedStorage) refresh(ctx context.Context) error {
	rules, err := s.backing.GetAllRules(ctx)
	if err != nil {
		s.markDegraded()
		return err
	}
	validations, err := s.backing.GetAllTopicValidations(ctx)
	if err != nil {
		s.markDegraded()
		return err
	}

	s.mu.Lock()
	s.rules = rules
	s.validations = validations
	s.degraded = false
	s.mu.Unlock()
	return nil
}

func (s *CachedStorage) markDegraded() {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()
}

// refreshAfterWrite keeps the snapshot coherent with this process's own
// writes; a failed refresh only degrades the cache, the write itself stood.
// The refresh must outlive the request that triggered it.
func (s *CachedStorage) refreshAfterWrite(ctx context.Context) {
	if err := s.refresh(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("cache refresh after write failed", zap.Error(err))
	}
}

func (s *CachedStorage) AddRule(ctx context.Context, rule model.TopicRoutingRule) error {
	if err := s.backing.AddRule(ctx, rule); err != nil {
		return err
	}
	s.refreshAfterWrite(ctx)
	return nil
}

// GetRule bypasses the cache; single-rule reads back the admin API where
// staleness would be surprising.
func (s *CachedStorage) GetRule(ctx context.Context, id uuid.UUID) (model.TopicRoutingRule, error) {
	return s.backing.GetRule(ctx, id)
}

func (s *CachedStorage) GetAllRules(_ context.Context) ([]model.TopicRoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.TopicRoutingRule(nil), s.rules...), nil
}

func (s *CachedStorage) UpdateRule(ctx context.Context, id uuid.UUID, rule model.TopicRoutingRule) error {
	if err := s.backing.UpdateRule(ctx, id, rule); err != nil {
		return err
	}
	s.refreshAfterWrite(ctx)
	return nil
}

func (s *CachedStorage) DeleteRule(ctx context.Context, id uuid.UUID) error {
	if err := s.backing.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.refreshAfterWrite(ctx)
	return nil
}

func (s *CachedStorage) AddTopicValidation(ctx context.Context, v model.TopicValidationConfig) error {
	if err := s.backing.AddTopicValidation(ctx, v); err != nil {
		return err
	}
	s.refreshAfterWrite(ctx)
	return nil
}

func (s *CachedStorage) GetAllTopicValidations(_ context.Context) (map[string][]model.TopicValidationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.TopicValidationConfig, len(s.validations))
	for topic, configs := range s.validations {
		out[topic] = append([]model.TopicValidationConfig(nil), configs...)
	}
	return out, nil
}

func (s *CachedStorage) GetValidationsForTopic(_ context.Context, topic string) ([]model.DataSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schemasForTopic(s.validations, topic), nil
}

func (s *CachedStorage) DeleteTopicValidation(ctx context.Context, id uuid.UUID) error {
	if err := s.backing.DeleteTopicValidation(ctx, id); err != nil {
		return err
	}
	s.refreshAfterWrite(ctx)
	return nil
}

// The event archive is write-heavy and never consulted on the hot path, so
// it goes straight through.
func (s *CachedStorage) StoreEvent(ctx context.Context, rec EventRecord) error {
	return s.backing.StoreEvent(ctx, rec)
}

func (s *CachedStorage) GetSampleEvents(ctx context.Context, limit, offset int64) ([]model.Event, int64, error) {
	return s.backing.GetSampleEvents(ctx, limit, offset)
}
