// Package registry is the canonical store of agent records (spec
// component B): register/unregister/update, list/filter by
// type/status/capabilities, heartbeat updates, with a local
// read-through cache. It is the single source of truth for agent
// state; every other component mutates an agent only through this
// API.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/bus"
	"github.com/aosanya/fleetctl/internal/store"
)

const (
	keyPrefixAgent  = "fleet:agent:"
	keyAllIndex     = "fleet:index:all"
	keyPrefixType   = "fleet:index:type:"
	keyPrefixStatus = "fleet:index:status:"

	defaultAgentTTL = time.Hour
)

// Publisher is the subset of Bus used to emit registry lifecycle
// events; kept as an interface so tests can inject a recording stub.
type Publisher interface {
	Publish(ctx context.Context, channel string, eventType bus.EventType, data map[string]interface{}) error
}

// Stats summarizes the registry's population.
type Stats struct {
	CountByType         map[agent.Type]int
	CountByStatus       map[agent.Status]int
	Total               int
	MeanSuccessRate     float64
	MeanAverageTaskTime float64
}

// Repository is the Agent Registry.
type Repository struct {
	client    store.Client
	publisher Publisher
	cache     *readThroughCache
	logger    *log.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Repository backed by client, publishing lifecycle
// events through publisher (may be nil to disable event emission,
// e.g. in isolated unit tests).
func New(client store.Client, publisher Publisher, logger *log.Logger) *Repository {
	if logger == nil {
		logger = log.New()
	}
	return &Repository{
		client:    client,
		publisher: publisher,
		cache:     newReadThroughCache(30 * time.Second),
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (r *Repository) lockFor(id string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func agentKey(id string) string   { return keyPrefixAgent + id }
func typeIndexKey(t agent.Type) string   { return keyPrefixType + string(t) }
func statusIndexKey(s agent.Status) string { return keyPrefixStatus + string(s) }

func (r *Repository) publish(ctx context.Context, eventType bus.EventType, data map[string]interface{}) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, bus.ChannelRegistry, eventType, data); err != nil {
		r.logger.WithError(err).Warn("Failed to publish registry event")
	}
}

// Register assigns an id if cfg.ID is empty, inserts the new agent
// into the canonical record, the type index, and the global index.
func (r *Repository) Register(ctx context.Context, cfg agent.Config) (string, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	a := agent.New(cfg)

	if err := r.persist(ctx, a); err != nil {
		return "", fmt.Errorf("register agent %s: %w", a.ID, err)
	}

	if err := r.client.SetAdd(ctx, keyAllIndex, a.ID); err != nil {
		return "", fmt.Errorf("register agent %s: index all: %w", a.ID, err)
	}
	if err := r.client.SetAdd(ctx, typeIndexKey(a.Type), a.ID); err != nil {
		return "", fmt.Errorf("register agent %s: index type: %w", a.ID, err)
	}
	if err := r.client.SetAdd(ctx, statusIndexKey(a.Status), a.ID); err != nil {
		return "", fmt.Errorf("register agent %s: index status: %w", a.ID, err)
	}

	r.cache.put(*a)

	r.logger.WithFields(log.Fields{"agent_id": a.ID, "type": a.Type}).Info("Agent registered")
	r.publish(ctx, bus.EventAgentRegistered, map[string]interface{}{"agentId": a.ID, "type": string(a.Type)})

	return a.ID, nil
}

func (r *Repository) persist(ctx context.Context, a *agent.Agent) error {
	encoded, err := store.Encode(a)
	if err != nil {
		return err
	}
	return r.client.SetWithTTL(ctx, agentKey(a.ID), encoded, defaultAgentTTL)
}

func (r *Repository) loadFresh(ctx context.Context, id string) (*agent.Agent, error) {
	raw, ok, err := r.client.Get(ctx, agentKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var a agent.Agent
	if err := store.Decode(raw, &a); err != nil {
		return nil, err
	}
	a.Capabilities = make(map[string]struct{}, len(a.CapabilityList))
	for _, c := range a.CapabilityList {
		a.Capabilities[c] = struct{}{}
	}
	return &a, nil
}

// Get consults the local read-through cache before the store. Returns
// (nil, false, nil) for an unknown id.
func (r *Repository) Get(ctx context.Context, id string) (*agent.Agent, bool, error) {
	if cached, ok := r.cache.get(id); ok {
		a := cached
		return &a, true, nil
	}

	a, err := r.loadFresh(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("get agent %s: %w", id, err)
	}
	if a == nil {
		return nil, false, nil
	}
	r.cache.put(*a)
	return a, true, nil
}

// Unregister removes an agent from all indexes and the store. Fails
// if the agent has an active allocation (status busy); callers are
// expected to drain it first.
func (r *Repository) Unregister(ctx context.Context, id string) error {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := r.loadFresh(ctx, id)
	if err != nil {
		return fmt.Errorf("unregister agent %s: %w", id, err)
	}
	if a == nil {
		return ErrAgentNotFound
	}
	if a.Status == agent.StatusBusy {
		return ErrAgentHasActiveAllocation
	}

	if err := r.client.SetRemove(ctx, keyAllIndex, id); err != nil {
		return fmt.Errorf("unregister agent %s: %w", id, err)
	}
	if err := r.client.SetRemove(ctx, typeIndexKey(a.Type), id); err != nil {
		return fmt.Errorf("unregister agent %s: %w", id, err)
	}
	if err := r.client.SetRemove(ctx, statusIndexKey(a.Status), id); err != nil {
		return fmt.Errorf("unregister agent %s: %w", id, err)
	}
	if err := r.client.Delete(ctx, agentKey(id)); err != nil {
		return fmt.Errorf("unregister agent %s: %w", id, err)
	}

	r.cache.invalidate(id)
	r.logger.WithField("agent_id", id).Info("Agent unregistered")
	return nil
}

// Patch describes a partial update to an agent record. Nil fields are
// left unchanged.
type Patch struct {
	Type        *agent.Type
	Status      *agent.Status
	Priority    *int
	Capabilities []string // replaces the whole set when non-nil
	Resources   *agent.Resources
	Performance *agent.Performance
	Metadata    map[string]string // merged key-by-key when non-nil
}

// Update performs a read-modify-write, incrementing Version. If Type
// or Status changes, the type/status indexes are rewritten after the
// record write, under the same per-agent lock but not in one store
// transaction; index write errors are ignored. Concurrent updaters for
// the same agent are serialized.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (*agent.Agent, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := r.loadFresh(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update agent %s: %w", id, err)
	}
	if a == nil {
		return nil, ErrAgentNotFound
	}

	oldType, oldStatus := a.Type, a.Status

	if patch.Type != nil && *patch.Type != a.Type {
		if a.Status == agent.StatusBusy {
			return nil, ErrInvalidTypeChange
		}
		a.Type = *patch.Type
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.Priority != nil {
		a.Priority = *patch.Priority
	}
	if patch.Capabilities != nil {
		caps := make(map[string]struct{}, len(patch.Capabilities))
		for _, c := range patch.Capabilities {
			caps[c] = struct{}{}
		}
		a.Capabilities = caps
		a.CapabilityList = append([]string(nil), patch.Capabilities...)
	}
	if patch.Resources != nil {
		a.Resources = *patch.Resources
	}
	if patch.Performance != nil {
		a.Performance = *patch.Performance
	}
	if patch.Metadata != nil {
		if a.Metadata == nil {
			a.Metadata = make(map[string]string, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			a.Metadata[k] = v
		}
	}

	a.Version++
	a.UpdatedAt = time.Now().UTC()

	if err := r.persist(ctx, a); err != nil {
		return nil, fmt.Errorf("update agent %s: %w", id, err)
	}

	if oldType != a.Type {
		_ = r.client.SetRemove(ctx, typeIndexKey(oldType), id)
		_ = r.client.SetAdd(ctx, typeIndexKey(a.Type), id)
	}
	if oldStatus != a.Status {
		_ = r.client.SetRemove(ctx, statusIndexKey(oldStatus), id)
		_ = r.client.SetAdd(ctx, statusIndexKey(a.Status), id)
	}

	r.cache.put(*a)
	return a, nil
}

// UpdateHealth applies mutate to the agent's Health sub-structure and
// persists the result. Unlike UpdateHeartbeat, this bumps Version: it
// is used for state-machine transitions (health status, circuit
// breaker), not the routine heartbeat tick. The health monitor is the
// only caller that should invoke this.
func (r *Repository) UpdateHealth(ctx context.Context, id string, mutate func(*agent.Health)) (*agent.Agent, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := r.loadFresh(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update health %s: %w", id, err)
	}
	if a == nil {
		return nil, ErrAgentNotFound
	}

	mutate(&a.Health)
	a.Version++
	a.UpdatedAt = time.Now().UTC()

	if err := r.persist(ctx, a); err != nil {
		return nil, fmt.Errorf("update health %s: %w", id, err)
	}
	r.cache.put(*a)
	return a, nil
}

// UpdateHeartbeat is the cheap path that only touches
// health.lastHeartbeat, without bumping Version.
func (r *Repository) UpdateHeartbeat(ctx context.Context, id string, ts time.Time) error {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := r.loadFresh(ctx, id)
	if err != nil {
		return fmt.Errorf("update heartbeat %s: %w", id, err)
	}
	if a == nil {
		return ErrAgentNotFound
	}

	a.Health.LastHeartbeat = ts
	if err := r.persist(ctx, a); err != nil {
		return fmt.Errorf("update heartbeat %s: %w", id, err)
	}
	r.cache.put(*a)
	return nil
}

// ListAll returns every registered agent. Always reads through the
// index + cache, never serves a stale bulk snapshot.
func (r *Repository) ListAll(ctx context.Context) ([]*agent.Agent, error) {
	ids, err := r.client.SetMembers(ctx, keyAllIndex)
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	return r.hydrate(ctx, ids)
}

// ListByType returns every agent of the given type.
func (r *Repository) ListByType(ctx context.Context, t agent.Type) ([]*agent.Agent, error) {
	ids, err := r.client.SetMembers(ctx, typeIndexKey(t))
	if err != nil {
		return nil, fmt.Errorf("list by type %s: %w", t, err)
	}
	return r.hydrate(ctx, ids)
}

// ListByStatus returns every agent with the given status.
func (r *Repository) ListByStatus(ctx context.Context, s agent.Status) ([]*agent.Agent, error) {
	ids, err := r.client.SetMembers(ctx, statusIndexKey(s))
	if err != nil {
		return nil, fmt.Errorf("list by status %s: %w", s, err)
	}
	return r.hydrate(ctx, ids)
}

func (r *Repository) hydrate(ctx context.Context, ids []string) ([]*agent.Agent, error) {
	out := make([]*agent.Agent, 0, len(ids))
	for _, id := range ids {
		a, ok, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// FindByCapabilities returns every agent whose capability set is a
// superset of required.
func (r *Repository) FindByCapabilities(ctx context.Context, required []string) ([]*agent.Agent, error) {
	all, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*agent.Agent, 0, len(all))
	for _, a := range all {
		if a.HasCapabilities(required) {
			out = append(out, a)
		}
	}
	return out, nil
}

// IdleAgents returns up to limit idle agents of type t, ordered by
// ascending success rate. This is intentional, not a bug: it
// preserves fairness/rotation by handing low performers more work
// instead of piling every task onto the top scorer. The allocator's
// own selection strategies deliberately do not reuse this ordering.
func (r *Repository) IdleAgents(ctx context.Context, t agent.Type, limit int) ([]*agent.Agent, error) {
	byType, err := r.ListByType(ctx, t)
	if err != nil {
		return nil, err
	}

	idle := make([]*agent.Agent, 0, len(byType))
	for _, a := range byType {
		if a.Status == agent.StatusIdle {
			idle = append(idle, a)
		}
	}

	sort.Slice(idle, func(i, j int) bool {
		return idle[i].Performance.SuccessRate < idle[j].Performance.SuccessRate
	})

	if limit > 0 && len(idle) > limit {
		idle = idle[:limit]
	}
	return idle, nil
}

// Stats returns counts by type and status plus aggregate performance
// means.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	all, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	s := &Stats{
		CountByType:   make(map[agent.Type]int),
		CountByStatus: make(map[agent.Status]int),
	}

	var successSum, durationSum float64
	for _, a := range all {
		s.CountByType[a.Type]++
		s.CountByStatus[a.Status]++
		successSum += a.Performance.SuccessRate
		durationSum += a.Performance.AverageTaskTime
	}
	s.Total = len(all)
	if s.Total > 0 {
		s.MeanSuccessRate = successSum / float64(s.Total)
		s.MeanAverageTaskTime = durationSum / float64(s.Total)
	}
	return s, nil
}

// Cleanup purges records whose UpdatedAt is older than maxAge, and
// reconciles indexes against records that have already expired out of
// the store via TTL.
func (r *Repository) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := r.client.SetMembers(ctx, keyAllIndex)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}

	purged := 0
	for _, id := range ids {
		a, err := r.loadFresh(ctx, id)
		if err != nil {
			return purged, fmt.Errorf("cleanup: %w", err)
		}
		if a == nil {
			// already expired from the store; reconcile indexes
			_ = r.client.SetRemove(ctx, keyAllIndex, id)
			r.cache.invalidate(id)
			purged++
			continue
		}
		if time.Since(a.UpdatedAt) > maxAge {
			_ = r.client.SetRemove(ctx, keyAllIndex, id)
			_ = r.client.SetRemove(ctx, typeIndexKey(a.Type), id)
			_ = r.client.SetRemove(ctx, statusIndexKey(a.Status), id)
			_ = r.client.Delete(ctx, agentKey(id))
			r.cache.invalidate(id)
			purged++
		}
	}
	return purged, nil
}
