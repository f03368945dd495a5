package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stone-age-io/svcmon/internal/services"
	"github.com/stone-age-io/svcmon/internal/state"
	"github.com/stone-age-io/svcmon/internal/store"
	"go.uber.org/zap"
)

// fakeInventory returns a fixed snapshot.
type fakeInventory struct {
	mu       sync.Mutex
	snapshot []state.ObservedService
	err      error
	calls    int
}

func (f *fakeInventory) Enumerate(ctx context.Context) ([]state.ObservedService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]state.ObservedService, len(f.snapshot))
	copy(out, f.snapshot)
	return out, nil
}

// fakeController records start and stop requests.
type fakeController struct {
	mu      sync.Mutex
	started []string
	stopped []string
	err     error
}

func (f *fakeController) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	return f.err
}

func (f *fakeController) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	return f.err
}

func (f *fakeController) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started) + len(f.stopped)
}

// fakeMetadata serves metadata from a map.
type fakeMetadata struct {
	meta  map[string]state.Metadata
	err   error
	panic string
}

func (f *fakeMetadata) Lookup(ctx context.Context, name string) (state.Metadata, error) {
	if name == f.panic {
		panic("registry exploded")
	}
	return f.meta[name], f.err
}

// memStore is an in-memory store.Store.
type memStore struct {
	mu        sync.Mutex
	records   map[string]state.ServiceRecord
	events    []state.LogEvent
	insertErr error
	updateErr error
	loadErr   error
	inserts   int
	updates   int
	loadAlls  int
}

func newMemStore(records ...*state.ServiceRecord) *memStore {
	s := &memStore{records: make(map[string]state.ServiceRecord)}
	for _, r := range records {
		s.records[r.ShortName] = *r
	}
	return s
}

func (s *memStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *memStore) LoadAll(ctx context.Context) ([]*state.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadAlls++
	if s.loadErr != nil {
		return nil, store.Wrap("load", s.loadErr)
	}
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*state.ServiceRecord, 0, len(names))
	for _, name := range names {
		r := s.records[name]
		out = append(out, &r)
	}
	return out, nil
}

func (s *memStore) Get(ctx context.Context, shortName string) (*state.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[shortName]
	if !ok {
		return nil, store.Wrap("get", store.ErrNotFound)
	}
	return &r, nil
}

func (s *memStore) Insert(ctx context.Context, rec *state.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.insertErr != nil {
		return store.Wrap("insert", s.insertErr)
	}
	if _, ok := s.records[rec.ShortName]; ok {
		return store.Wrap("insert", fmt.Errorf("UNIQUE constraint failed: service.short_name"))
	}
	s.records[rec.ShortName] = *rec
	return nil
}

func (s *memStore) UpdateObservedState(ctx context.Context, shortName string, observed state.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		return store.Wrap("update observed state", s.updateErr)
	}
	r, ok := s.records[shortName]
	if !ok {
		return store.Wrap("update observed state", store.ErrNotFound)
	}
	r.LastObservedState = observed
	s.records[shortName] = r
	return nil
}

func (s *memStore) AppendEvent(ctx context.Context, ev state.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) record(name string) (state.ServiceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[name]
	return r, ok
}

// edit applies an operator change directly to the stored row.
func (s *memStore) edit(name string, fn func(*state.ServiceRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[name]
	fn(&r)
	s.records[name] = r
}

var _ store.Store = (*memStore)(nil)

// recordingJournal captures journal entries.
type recordingJournal struct {
	mu      sync.Mutex
	entries []journalEntry
}

type journalEntry struct {
	service string
	message string
}

func (j *recordingJournal) Append(ctx context.Context, service, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, journalEntry{service: service, message: message})
}

func (j *recordingJournal) Appendf(ctx context.Context, service, format string, args ...interface{}) {
	j.Append(ctx, service, fmt.Sprintf(format, args...))
}

func (j *recordingJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func (j *recordingJournal) count(prefix string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, e := range j.entries {
		if strings.HasPrefix(e.message, prefix) {
			n++
		}
	}
	return n
}

func (j *recordingJournal) messages() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	for i, e := range j.entries {
		out[i] = e.message
	}
	return out
}

// fakeRecorder counts metric hooks.
type fakeRecorder struct {
	mu         sync.Mutex
	cycles     int
	discovered int
	drift      map[string]int
	actuations map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{drift: make(map[string]int), actuations: make(map[string]int)}
}

func (r *fakeRecorder) CycleCompleted(d time.Duration, observed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
}

func (r *fakeRecorder) ServiceDiscovered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovered++
}

func (r *fakeRecorder) DriftDetected(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drift[service]++
}

func (r *fakeRecorder) ActuationResult(action services.Action, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.actuations[string(action)+"/"+result]++
}

// harness wires an engine to fakes.
type harness struct {
	engine     *Engine
	inventory  *fakeInventory
	controller *fakeController
	store      *memStore
	journal    *recordingJournal
	recorder   *fakeRecorder
	clock      *clockwork.FakeClock
}

type harnessOption func(*Config, *ActuatorConfig)

func withMetadata(m services.MetadataProvider) harnessOption {
	return func(c *Config, _ *ActuatorConfig) { c.Metadata = m }
}

func withReloadState() harnessOption {
	return func(c *Config, _ *ActuatorConfig) { c.ReloadState = true }
}

func withEnforcementDisabled() harnessOption {
	return func(_ *Config, a *ActuatorConfig) { a.Enabled = false }
}

func newHarness(t *testing.T, st *memStore, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		inventory:  &fakeInventory{},
		controller: &fakeController{},
		store:      st,
		journal:    &recordingJournal{},
		recorder:   newFakeRecorder(),
		clock:      clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	}

	acfg := ActuatorConfig{
		Controller: h.controller,
		Journal:    h.journal,
		Enabled:    true,
		Recorder:   h.recorder,
	}
	cfg := Config{
		Inventory:       h.inventory,
		Store:           h.store,
		Journal:         h.journal,
		Recorder:        h.recorder,
		Clock:           h.clock,
		StoreName:       "test.db",
		ExpandImagePath: func(p string) string { return p },
	}
	for _, opt := range opts {
		opt(&cfg, &acfg)
	}
	cfg.Actuator = NewActuator(acfg, zap.NewNop())

	engine, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := engine.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	h.journal.entries = nil
	h.engine = engine
	return h
}

// reconcile runs one pass with snapshot against the engine's own table.
func (h *harness) reconcile(snapshot ...state.ObservedService) CycleStats {
	h.inventory.snapshot = snapshot
	stats, _ := h.engine.RunCycle(context.Background())
	return stats
}

// knownRecord returns a monitored record as an operator would configure it.
func knownRecord(name string, expected state.State, force, ignore state.Marker) *state.ServiceRecord {
	return &state.ServiceRecord{
		ShortName:          name,
		Description:        name + " description",
		LastObservedState:  expected,
		ExpectedState:      expected,
		ForceExpectedState: force,
		ServiceType:        state.TypeWin32OwnProcess,
		Ignore:             ignore,
	}
}

func observed(name string, s state.State) state.ObservedService {
	return state.ObservedService{
		ShortName:   name,
		Description: name + " description",
		State:       s,
		Type:        state.TypeWin32OwnProcess,
	}
}
