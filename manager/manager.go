// Package manager owns the registry of data sources and their
// schedulers: CRUD against the persisted descriptors, and the event
// hooks (new node, generation start, operator refresh requests) that
// fan out to every scheduler opted into that event.
package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nodefleet/dsengine/apperr"
	"github.com/nodefleet/dsengine/datasource"
	"github.com/nodefleet/dsengine/fanout"
	"github.com/nodefleet/dsengine/logging"
	"github.com/nodefleet/dsengine/scheduler"
)

type entry struct {
	ds    datasource.DataSource
	sched *scheduler.Scheduler
}

// Manager is the UpdateManager: the single entry point an embedder
// calls into for both data-source administration and node/generation
// lifecycle events.
type Manager struct {
	repo     datasource.Repository
	executor *fanout.Executor
	work     scheduler.WorkProvider
	cfg      datasource.EngineConfig
	logger   logging.Logger

	mu       sync.Mutex
	registry map[string]*entry
}

// New builds a Manager. executor and work are shared across every data
// source's scheduler: the executor is stateless with respect to which
// data source it runs, and work resolves each fan-out's node set from
// whatever inventory the embedder maintains.
func New(repo datasource.Repository, executor *fanout.Executor, work scheduler.WorkProvider, cfg datasource.EngineConfig, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Manager{
		repo:     repo,
		executor: executor,
		work:     work,
		cfg:      cfg,
		logger:   logger,
		registry: make(map[string]*entry),
	}
}

// Initialize loads every persisted data source and builds an Idle
// scheduler for each enabled one, without arming any timer or running
// any fan-out. Call StartAll afterwards to bring the engine live.
func (m *Manager) Initialize(ctx context.Context) error {
	dss, err := m.repo.GetAll(ctx)
	if err != nil {
		return apperr.New("manager.Initialize", apperr.KindStorage, "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ds := range dss {
		if !ds.Enabled {
			continue
		}
		m.registry[ds.ID] = &entry{ds: ds, sched: scheduler.New(ds, m.runFunc, m.work, m.logger)}
	}
	return nil
}

// StartAll arms every registered scheduler, ordering periodic sources
// by ascending period and staggering their arm time by
// EngineConfig.StartAllStagger so a boot-time restart doesn't throw
// every periodic source's first tick at its upstream endpoint at once.
// Non-periodic sources are armed immediately.
func (m *Manager) StartAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.registry))
	for _, e := range m.registry {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ds.RunParam.Schedule.Period < entries[j].ds.RunParam.Schedule.Period
	})

	i := 0
	for _, e := range entries {
		e := e
		if !e.ds.RunParam.Schedule.Scheduled {
			e.sched.Arm()
			continue
		}
		delay := time.Duration(i) * m.cfg.StartAllStagger
		i++
		if delay <= 0 {
			e.sched.Arm()
			continue
		}
		time.AfterFunc(delay, e.sched.Arm)
	}
}

// GetAllIDs lists every persisted data source id.
func (m *Manager) GetAllIDs(ctx context.Context) ([]string, error) {
	return m.repo.GetAllIDs(ctx)
}

// GetAll lists every persisted data source.
func (m *Manager) GetAll(ctx context.Context) ([]datasource.DataSource, error) {
	return m.repo.GetAll(ctx)
}

// Get retrieves one persisted data source.
func (m *Manager) Get(ctx context.Context, id string) (datasource.DataSource, error) {
	return m.repo.Get(ctx, id)
}

// Save persists ds and brings its scheduler in line: a reserved id is
// rejected before ever reaching the repository, and a previously
// armed scheduler is cancelled and replaced so the new descriptor
// takes effect on the very next trigger.
func (m *Manager) Save(ctx context.Context, ds datasource.DataSource) error {
	if datasource.IsReserved(ds.ID) {
		return &datasource.ReservedIDError{ID: ds.ID}
	}

	if err := m.repo.Save(ctx, ds); err != nil {
		return apperr.New("manager.Save", apperr.KindStorage, ds.ID, err)
	}

	m.mu.Lock()
	if old, ok := m.registry[ds.ID]; ok {
		old.sched.Cancel()
	}
	var sched *scheduler.Scheduler
	if ds.Enabled {
		sched = scheduler.New(ds, m.runFunc, m.work, m.logger)
	}
	if sched != nil {
		m.registry[ds.ID] = &entry{ds: ds, sched: sched}
	} else {
		delete(m.registry, ds.ID)
	}
	m.mu.Unlock()

	if sched != nil {
		sched.Arm()
	}
	return nil
}

// Delete removes a data source and cancels its scheduler. After
// Delete returns, no further HTTP calls are made on the source's
// behalf; writes already in flight before the call are not rolled
// back.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.repo.Delete(ctx, id); err != nil {
		return apperr.New("manager.Delete", apperr.KindStorage, id, err)
	}

	m.mu.Lock()
	if e, ok := m.registry[id]; ok {
		e.sched.Cancel()
		delete(m.registry, id)
	}
	m.mu.Unlock()
	return nil
}

// OnNewNode notifies every registered source that a node arrived; each
// source decides for itself (via RunParam.OnNewNode) whether to react.
func (m *Manager) OnNewNode(ctx context.Context, nodeID string) {
	for _, e := range m.snapshot() {
		e := e
		go e.sched.OnNewNode(ctx, nodeID)
	}
}

// OnGenerationStarted notifies every registered source that policy
// generation started.
func (m *Manager) OnGenerationStarted(ctx context.Context) {
	for _, e := range m.snapshot() {
		e := e
		go e.sched.OnGenerationStarted(ctx)
	}
}

// OnUserAskUpdateAllNodes refreshes every registered source for every
// node it governs.
func (m *Manager) OnUserAskUpdateAllNodes(ctx context.Context) {
	for _, e := range m.snapshot() {
		e := e
		go e.sched.RefreshAll(ctx)
	}
}

// OnUserAskUpdateAllNodesFor refreshes a single source for every node
// it governs.
func (m *Manager) OnUserAskUpdateAllNodesFor(ctx context.Context, sourceID string) error {
	e, ok := m.lookup(sourceID)
	if !ok {
		return apperr.New("manager.OnUserAskUpdateAllNodesFor", apperr.KindConfig, sourceID, apperr.ErrNotFound)
	}
	e.sched.RefreshAll(ctx)
	return nil
}

// OnUserAskUpdateNode refreshes every registered source for one node.
func (m *Manager) OnUserAskUpdateNode(ctx context.Context, nodeID string) {
	for _, e := range m.snapshot() {
		e := e
		go e.sched.RefreshNode(ctx, nodeID)
	}
}

// OnUserAskUpdateNodeFor refreshes a single source for one node.
func (m *Manager) OnUserAskUpdateNodeFor(ctx context.Context, sourceID, nodeID string) error {
	e, ok := m.lookup(sourceID)
	if !ok {
		return apperr.New("manager.OnUserAskUpdateNodeFor", apperr.KindConfig, sourceID, apperr.ErrNotFound)
	}
	e.sched.RefreshNode(ctx, nodeID)
	return nil
}

func (m *Manager) snapshot() []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entry, 0, len(m.registry))
	for _, e := range m.registry {
		out = append(out, e)
	}
	return out
}

func (m *Manager) lookup(sourceID string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.registry[sourceID]
	return e, ok
}

func (m *Manager) runFunc(ctx context.Context, ds datasource.DataSource, work datasource.PartialNodeUpdate) (map[string]bool, error) {
	return m.executor.Run(ctx, ds, work)
}
