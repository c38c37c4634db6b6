package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/port"
)

var errInjected = errors.New("injected failure")

// Mock Store: every transaction works on a copy of the state that replaces the
// committed state only when fn succeeds.
type fakeStore struct {
	mu                 sync.Mutex
	state              *fakeState
	failOn             map[string]error
	optimisticFailures int
	txCount            int
	hooks              map[int]func()
}

type fakeState struct {
	slots    map[domain.CabinetRef][]domain.Slot
	orders   map[string]domain.ServiceOrder
	cabinets map[string]domain.ServiceOrderCabinet
	visits   map[string]domain.ServiceVisit
	audit    []domain.SyncAuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		state: &fakeState{
			slots:    make(map[domain.CabinetRef][]domain.Slot),
			orders:   make(map[string]domain.ServiceOrder),
			cabinets: make(map[string]domain.ServiceOrderCabinet),
			visits:   make(map[string]domain.ServiceVisit),
		},
		failOn: make(map[string]error),
		hooks:  make(map[int]func()),
	}
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		slots:    make(map[domain.CabinetRef][]domain.Slot, len(s.slots)),
		orders:   make(map[string]domain.ServiceOrder, len(s.orders)),
		cabinets: make(map[string]domain.ServiceOrderCabinet, len(s.cabinets)),
		visits:   make(map[string]domain.ServiceVisit, len(s.visits)),
		audit:    append([]domain.SyncAuditEntry(nil), s.audit...),
	}
	for k, v := range s.slots {
		c.slots[k] = append([]domain.Slot(nil), v...)
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.cabinets {
		c.cabinets[k] = v
	}
	for k, v := range s.visits {
		c.visits[k] = v
	}
	return c
}

// beforeTx runs hook, outside the store lock, just before transaction n starts.
// Transactions are counted from 1 across the store's lifetime.
func (s *fakeStore) beforeTx(n int, hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[n] = hook
}

func (s *fakeStore) takeHook() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	hook := s.hooks[s.txCount+1]
	delete(s.hooks, s.txCount+1)
	return hook
}

func (s *fakeStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	if hook := s.takeHook(); hook != nil {
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	tx := &fakeTx{store: s, st: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

func (s *fakeStore) setSlots(ref domain.CabinetRef, slots ...domain.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.slots[ref] = slots
}

func (s *fakeStore) slotsOf(ref domain.CabinetRef) []domain.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Slot(nil), s.state.slots[ref]...)
}

func (s *fakeStore) quantities(ref domain.CabinetRef) map[int]int {
	out := make(map[int]int)
	for _, sl := range s.slotsOf(ref) {
		out[sl.Index] = sl.Quantity
	}
	return out
}

func (s *fakeStore) order(id string) *domain.ServiceOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&fakeTx{store: s, st: s.state}).assemble(id)
}

func (s *fakeStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (s *fakeStore) auditEntries() []domain.SyncAuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SyncAuditEntry(nil), s.state.audit...)
}

func (s *fakeStore) fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[method] = err
}

type fakeTx struct {
	store *fakeStore
	st    *fakeState
}

func (t *fakeTx) injected(method string) error {
	return t.store.failOn[method]
}

func (t *fakeTx) Planogram(ctx context.Context, ref domain.CabinetRef, forUpdate bool) (*domain.Planogram, error) {
	if err := t.injected("Planogram"); err != nil {
		return nil, err
	}
	slots, ok := t.st.slots[ref]
	if !ok {
		return nil, nil
	}
	return &domain.Planogram{Cabinet: ref, Slots: append([]domain.Slot(nil), slots...)}, nil
}

func (t *fakeTx) SetSlotQuantity(ctx context.Context, ref domain.CabinetRef, slot domain.Slot, quantity int) error {
	if t.store.optimisticFailures > 0 {
		t.store.optimisticFailures--
		return port.ErrOptimisticLock
	}
	if err := t.injected("SetSlotQuantity"); err != nil {
		return err
	}
	slots := t.st.slots[ref]
	for i := range slots {
		if slots[i].Index != slot.Index {
			continue
		}
		if slots[i].Version != slot.Version {
			return port.ErrOptimisticLock
		}
		if quantity < 0 || quantity > slots[i].Capacity {
			return fmt.Errorf("check constraint: quantity %d outside [0,%d]", quantity, slots[i].Capacity)
		}
		slots[i].Quantity = quantity
		slots[i].Version++
		return nil
	}
	return fmt.Errorf("slot %d not found", slot.Index)
}

func (t *fakeTx) InsertOrder(ctx context.Context, order domain.ServiceOrder) error {
	if err := t.injected("InsertOrder"); err != nil {
		return err
	}
	for _, co := range order.Cabinets {
		co.Items = append([]domain.ServiceOrderItem(nil), co.Items...)
		t.st.cabinets[co.ID] = co
	}
	order.Cabinets = nil
	t.st.orders[order.ID] = order
	return nil
}

func (t *fakeTx) assemble(id string) *domain.ServiceOrder {
	o, ok := t.st.orders[id]
	if !ok {
		return nil
	}
	o.Cabinets = nil
	for cid := range t.st.cabinets {
		if t.st.cabinets[cid].OrderID == id {
			o.Cabinets = append(o.Cabinets, *t.cabinet(cid))
		}
	}
	sort.Slice(o.Cabinets, func(i, j int) bool { return o.Cabinets[i].Position < o.Cabinets[j].Position })
	return &o
}

func (t *fakeTx) cabinet(id string) *domain.ServiceOrderCabinet {
	co, ok := t.st.cabinets[id]
	if !ok {
		return nil
	}
	co.Visit = nil
	if co.VisitID != "" {
		if v, ok := t.st.visits[co.VisitID]; ok {
			co.Visit = &v
		}
	}
	return &co
}

func (t *fakeTx) GetOrder(ctx context.Context, orderID string) (*domain.ServiceOrder, error) {
	if err := t.injected("GetOrder"); err != nil {
		return nil, err
	}
	return t.assemble(orderID), nil
}

func (t *fakeTx) ListOrders(ctx context.Context, statuses []domain.OrderStatus) ([]domain.ServiceOrder, error) {
	want := make(map[domain.OrderStatus]bool)
	for _, s := range statuses {
		want[s] = true
	}
	var out []domain.ServiceOrder
	for id, o := range t.st.orders {
		if len(want) == 0 || want[o.Status] {
			out = append(out, *t.assemble(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *fakeTx) GetCabinetOrder(ctx context.Context, cabinetOrderID string, forUpdate bool) (*domain.ServiceOrderCabinet, error) {
	if err := t.injected("GetCabinetOrder"); err != nil {
		return nil, err
	}
	return t.cabinet(cabinetOrderID), nil
}

func (t *fakeTx) UpdateOrder(ctx context.Context, order domain.ServiceOrder) error {
	if err := t.injected("UpdateOrder"); err != nil {
		return err
	}
	stored, ok := t.st.orders[order.ID]
	if !ok || stored.Version != order.Version {
		return port.ErrOptimisticLock
	}
	stored.Status = order.Status
	stored.LastModified = order.LastModified
	stored.ModifiedBy = order.ModifiedBy
	stored.Version++
	t.st.orders[order.ID] = stored
	return nil
}

func (t *fakeTx) ClaimCabinetOrder(ctx context.Context, cabinetOrderID, visitID, actorID string, at time.Time) error {
	co, ok := t.st.cabinets[cabinetOrderID]
	if !ok {
		return domain.NotFound("cabinet order", cabinetOrderID)
	}
	if co.Executed {
		return domain.AlreadyExecuted(cabinetOrderID)
	}
	co.Executed = true
	co.VisitID = visitID
	co.LastModified = at
	co.ModifiedBy = actorID
	co.Version++
	t.st.cabinets[cabinetOrderID] = co
	return nil
}

func (t *fakeTx) ReleaseCabinetOrder(ctx context.Context, cabinetOrderID, actorID string, at time.Time) error {
	co, ok := t.st.cabinets[cabinetOrderID]
	if !ok {
		return domain.NotFound("cabinet order", cabinetOrderID)
	}
	if !co.Executed {
		return domain.NotExecuted(cabinetOrderID)
	}
	co.Executed = false
	co.VisitID = ""
	co.LastModified = at
	co.ModifiedBy = actorID
	co.Version++
	t.st.cabinets[cabinetOrderID] = co
	return nil
}

func (t *fakeTx) InsertVisit(ctx context.Context, visit domain.ServiceVisit) error {
	if err := t.injected("InsertVisit"); err != nil {
		return err
	}
	t.st.visits[visit.ID] = visit
	return nil
}

func (t *fakeTx) DeleteVisit(ctx context.Context, visitID string) error {
	delete(t.st.visits, visitID)
	return nil
}

func (t *fakeTx) RecordSyncOutcome(ctx context.Context, entry domain.SyncAuditEntry) error {
	if err := t.injected("RecordSyncOutcome"); err != nil {
		return err
	}
	t.st.audit = append(t.st.audit, entry)
	return nil
}

type fakeRoutes map[string]string

func (r fakeRoutes) AssignedDriver(ctx context.Context, routeID string) (string, bool, error) {
	driver, ok := r[routeID]
	return driver, ok, nil
}

type fakeDevices map[string]domain.Device

func (d fakeDevices) Devices(ctx context.Context, ids []string) (map[string]domain.Device, error) {
	out := make(map[string]domain.Device)
	for _, id := range ids {
		if dev, ok := d[id]; ok {
			out[id] = dev
		}
	}
	return out, nil
}

type fakeCache struct {
	mu    sync.Mutex
	items map[string]domain.PickList
	gets  int
	sets  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[string]domain.PickList)}
}

func (c *fakeCache) GetPickList(ctx context.Context, orderID string) (*domain.PickList, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	pl, ok := c.items[orderID]
	if !ok {
		return nil, false, nil
	}
	return &pl, true, nil
}

func (c *fakeCache) SetPickList(ctx context.Context, orderID string, pl domain.PickList) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.items[orderID] = pl
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, events ...domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingEmitter) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Test fixture: route R1 driven by driver-1, device D1 with two cabinets and D2 with one.
var (
	cabA = domain.CabinetRef{DeviceID: "D1", CabinetIndex: 0}
	cabB = domain.CabinetRef{DeviceID: "D1", CabinetIndex: 1}
	cabC = domain.CabinetRef{DeviceID: "D2", CabinetIndex: 0}

	productX = domain.Product{ID: "X", Name: "Cola", Category: "Drinks"}
	productY = domain.Product{ID: "Y", Name: "Water", Category: "Drinks"}
	productZ = domain.Product{ID: "Z", Name: "Chips", Category: "Snacks"}
	sentinel = domain.Product{ID: DefaultSentinelProductID, Name: "Empty", Category: ""}
)

type fixture struct {
	store   *fakeStore
	cache   *fakeCache
	events  *recordingEmitter
	clock   *fakeClock
	engine  *Engine
	routes  fakeRoutes
	routeID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return buildFixture(zaptest.NewLogger(t))
}

func buildFixture(logger *zap.Logger) *fixture {
	f := &fixture{
		store:   newFakeStore(),
		cache:   newFakeCache(),
		events:  &recordingEmitter{},
		clock:   newFakeClock(),
		routeID: "R1",
		routes:  fakeRoutes{"R1": "driver-1", "R-nodriver": ""},
	}
	// A needs 5 X, 0 Y; B needs 3 X, 2 Z; C needs 4 Z.
	f.store.setSlots(cabA,
		domain.Slot{Index: 0, Product: productX, Quantity: 5, Capacity: 12, ParLevel: 10},
		domain.Slot{Index: 1, Product: productY, Quantity: 10, Capacity: 10, ParLevel: 10},
		domain.Slot{Index: 2, Product: sentinel, Quantity: 0, Capacity: 5, ParLevel: 5},
	)
	f.store.setSlots(cabB,
		domain.Slot{Index: 0, Product: productX, Quantity: 2, Capacity: 8, ParLevel: 5},
		domain.Slot{Index: 1, Product: productZ, Quantity: 0, Capacity: 4, ParLevel: 2},
	)
	f.store.setSlots(cabC,
		domain.Slot{Index: 0, Product: productZ, Quantity: 1, Capacity: 10, ParLevel: 5},
	)

	f.engine = NewEngine(Config{
		SentinelProductID: DefaultSentinelProductID,
		MinutesPerCabinet: 10,
		MaxTxRetries:      3,
		RetryBackoff:      time.Millisecond,
	}, Deps{
		Store:   f.store,
		Routes:  f.routes,
		Devices: fakeDevices{"D1": {ID: "D1", Name: "Lobby", Location: "Building 1"}, "D2": {ID: "D2", Name: "Gym", Location: "Building 2"}},
		Cache:   f.cache,
		Events:  f.events,
		Logger:  logger,
		Clock:   f.clock.Now,
	})
	return f
}

func (f *fixture) createOrder(t *testing.T, selections ...domain.CabinetRef) *domain.ServiceOrder {
	t.Helper()
	res, err := f.engine.CreateOrder(context.Background(), CreateOrderRequest{
		RouteID:    f.routeID,
		Selections: selections,
		CreatedBy:  "planner-1",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return &res.Order
}

// assertStatusMatchesCabinets checks status == completed iff every cabinet is executed,
// and that executed cabinets carry exactly one visit.
func (f *fixture) assertStatusMatchesCabinets(t *testing.T, orderID string) {
	t.Helper()
	o := f.store.order(orderID)
	if o == nil {
		t.Fatalf("order %s not found", orderID)
	}
	if (o.Status == domain.OrderStatusCompleted) != o.AllExecuted() {
		t.Errorf("status out of step with cabinets: status=%s executed=%d/%d", o.Status, o.ExecutedCount(), len(o.Cabinets))
	}
	for _, co := range o.Cabinets {
		if co.Executed && co.Visit == nil {
			t.Errorf("cabinet order %s executed without visit", co.ID)
		}
		if !co.Executed && co.VisitID != "" {
			t.Errorf("cabinet order %s not executed but references visit %s", co.ID, co.VisitID)
		}
	}
}
