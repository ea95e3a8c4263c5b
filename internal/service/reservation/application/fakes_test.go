package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"bazaar/internal/service/reservation/domain"
	"bazaar/internal/service/reservation/domain/port"
)

// 本文件是应用层测试共用的内存假件。
// 行为刻意对齐真实仓储：跨租户查询等同不存在、
// 离开 RESERVED 的更新带状态条件、重复键报冲突。

type fakeItemRepo struct {
	mu       sync.Mutex
	items    map[string]*domain.SellableItem // key: storeID|itemID
	rowLocks map[string]*sync.Mutex
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{
		items:    make(map[string]*domain.SellableItem),
		rowLocks: make(map[string]*sync.Mutex),
	}
}

func (r *fakeItemRepo) put(item *domain.SellableItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *item
	r.items[item.StoreID+"|"+item.ID] = &copied
}

func (r *fakeItemRepo) FindByID(_ context.Context, storeID, itemID string) (*domain.SellableItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[storeID+"|"+itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

// FindByIDForUpdate 模仿 SELECT ... FOR UPDATE：行锁持有到事务结束。
// 不在事务里调用时退化成普通读取。
func (r *fakeItemRepo) FindByIDForUpdate(ctx context.Context, storeID, itemID string) (*domain.SellableItem, error) {
	lock := r.rowLock(storeID + "|" + itemID)
	lock.Lock()
	if locks, ok := ctx.Value(txLocksKey{}).(*txLocks); ok {
		locks.add(lock.Unlock)
	} else {
		lock.Unlock()
	}
	return r.FindByID(ctx, storeID, itemID)
}

func (r *fakeItemRepo) rowLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.rowLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.rowLocks[key] = lock
	}
	return lock
}

type fakeHoldRepo struct {
	mu          sync.Mutex
	holds       map[string]*domain.CartReservation
	failUpsert  error
	updateCalls int

	// holdTotalDelay 模拟聚合查询的数据库往返耗时，
	// 并发测试用它放大检查与写入之间的窗口。
	holdTotalDelay time.Duration
}

func newFakeHoldRepo() *fakeHoldRepo {
	return &fakeHoldRepo{holds: make(map[string]*domain.CartReservation)}
}

func (r *fakeHoldRepo) UpsertActive(_ context.Context, reservation *domain.CartReservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpsert != nil {
		return r.failUpsert
	}
	// 顶替同 (store, cart, item) 的既有活跃占用
	for id, existing := range r.holds {
		if existing.Status == domain.CartReservationReserved &&
			existing.StoreID == reservation.StoreID &&
			existing.CartID == reservation.CartID &&
			existing.SellableItemID == reservation.SellableItemID {
			delete(r.holds, id)
		}
	}
	copied := *reservation
	r.holds[reservation.ID] = &copied
	return nil
}

func (r *fakeHoldRepo) FindByID(_ context.Context, id string) (*domain.CartReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reservation, ok := r.holds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *reservation
	return &copied, nil
}

func (r *fakeHoldRepo) Update(_ context.Context, reservation *domain.CartReservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	stored, ok := r.holds[reservation.ID]
	if !ok {
		return domain.ErrReservationConflict
	}
	if reservation.Status != domain.CartReservationReserved && stored.Status != domain.CartReservationReserved {
		return domain.ErrReservationConflict
	}
	copied := *reservation
	r.holds[reservation.ID] = &copied
	return nil
}

func (r *fakeHoldRepo) FindActiveByCart(_ context.Context, cartID string) ([]*domain.CartReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CartReservation
	for _, reservation := range r.holds {
		if reservation.CartID == cartID && reservation.Status == domain.CartReservationReserved {
			copied := *reservation
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeHoldRepo) FindExpired(_ context.Context, now time.Time, limit int) ([]*domain.CartReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CartReservation
	for _, reservation := range r.holds {
		if reservation.Status == domain.CartReservationReserved && !now.Before(reservation.ExpiresAt) {
			copied := *reservation
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeHoldRepo) ActiveHoldTotal(_ context.Context, storeID, itemID string, now time.Time) (int, error) {
	if r.holdTotalDelay > 0 {
		time.Sleep(r.holdTotalDelay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, reservation := range r.holds {
		if reservation.StoreID == storeID && reservation.SellableItemID == itemID &&
			reservation.Status == domain.CartReservationReserved && now.Before(reservation.ExpiresAt) {
			total += reservation.Quantity
		}
	}
	return total, nil
}

type fakeOrderRepo struct {
	mu         sync.Mutex
	orders     map[string]*domain.Order
	failCreate error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[string]*domain.Order)}
}

func (r *fakeOrderRepo) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return r.failCreate
	}
	copied := *o
	r.orders[o.ID] = &copied
	return nil
}

func (r *fakeOrderRepo) FindByID(_ context.Context, orderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *o
	return &copied, nil
}

func (r *fakeOrderRepo) Update(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; !ok {
		return domain.ErrNotFound
	}
	copied := *o
	r.orders[o.ID] = &copied
	return nil
}

func (r *fakeOrderRepo) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, orderID)
	return nil
}

func (r *fakeOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakeIntentRepo struct {
	mu      sync.Mutex
	intents map[string]*domain.PaymentIntentRecord // key: orderID
}

func newFakeIntentRepo() *fakeIntentRepo {
	return &fakeIntentRepo{intents: make(map[string]*domain.PaymentIntentRecord)}
}

func (r *fakeIntentRepo) Create(_ context.Context, p *domain.PaymentIntentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *p
	r.intents[p.OrderID] = &copied
	return nil
}

func (r *fakeIntentRepo) FindByOrderID(_ context.Context, orderID string) (*domain.PaymentIntentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.intents[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *fakeIntentRepo) Update(_ context.Context, p *domain.PaymentIntentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.intents[p.OrderID]; !ok {
		return domain.ErrNotFound
	}
	copied := *p
	r.intents[p.OrderID] = &copied
	return nil
}

func (r *fakeIntentRepo) DeleteByOrderID(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.intents, orderID)
	return nil
}

func (r *fakeIntentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intents)
}

type fakeOrderHoldRepo struct {
	mu           sync.Mutex
	reservations map[string]*domain.OrderInventoryReservation // key: orderID
	failCreate   error
}

func newFakeOrderHoldRepo() *fakeOrderHoldRepo {
	return &fakeOrderHoldRepo{reservations: make(map[string]*domain.OrderInventoryReservation)}
}

func (r *fakeOrderHoldRepo) Create(_ context.Context, reservation *domain.OrderInventoryReservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return r.failCreate
	}
	if _, ok := r.reservations[reservation.OrderID]; ok {
		return domain.ErrReservationConflict
	}
	copied := *reservation
	r.reservations[reservation.OrderID] = &copied
	return nil
}

func (r *fakeOrderHoldRepo) FindByOrderID(_ context.Context, orderID, storeID string) (*domain.OrderInventoryReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reservation, ok := r.reservations[orderID]
	if !ok || reservation.StoreID != storeID {
		return nil, domain.ErrNotFound
	}
	copied := *reservation
	return &copied, nil
}

func (r *fakeOrderHoldRepo) Update(_ context.Context, reservation *domain.OrderInventoryReservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.reservations[reservation.OrderID]
	if !ok {
		return domain.ErrReservationConflict
	}
	if reservation.Status != domain.OrderReservationReserved && stored.Status != domain.OrderReservationReserved {
		return domain.ErrReservationConflict
	}
	copied := *reservation
	r.reservations[reservation.OrderID] = &copied
	return nil
}

type fakeStockRepo struct {
	mu         sync.Mutex
	stock      map[string]int
	decrements map[string]int
}

func newFakeStockRepo() *fakeStockRepo {
	return &fakeStockRepo{stock: make(map[string]int), decrements: make(map[string]int)}
}

func (r *fakeStockRepo) DecrementVariantStock(_ context.Context, variantID string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.stock[variantID]
	if !ok {
		return domain.ErrNotFound
	}
	if current < qty {
		return domain.ErrInsufficientStock
	}
	r.stock[variantID] = current - qty
	r.decrements[variantID] += qty
	return nil
}

type fakeProcessedRepo struct {
	mu      sync.Mutex
	events  map[string]*domain.ProcessedEvent
	retries map[string]*domain.EventRetry
}

func newFakeProcessedRepo() *fakeProcessedRepo {
	return &fakeProcessedRepo{
		events:  make(map[string]*domain.ProcessedEvent),
		retries: make(map[string]*domain.EventRetry),
	}
}

func (r *fakeProcessedRepo) Find(_ context.Context, id string) (*domain.ProcessedEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (r *fakeProcessedRepo) Record(_ context.Context, e *domain.ProcessedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.ExternalEventID]; ok {
		return nil
	}
	copied := *e
	r.events[e.ExternalEventID] = &copied
	return nil
}

func (r *fakeProcessedRepo) MarkProcessed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.MarkProcessed()
	return nil
}

func (r *fakeProcessedRepo) RecordFailure(_ context.Context, id string, procErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.events[id]; ok && !e.Processed {
		e.Error = procErr
	}
	return nil
}

func (r *fakeProcessedRepo) UpsertRetry(_ context.Context, retry *domain.EventRetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *retry
	r.retries[retry.ExternalEventID] = &copied
	return nil
}

func (r *fakeProcessedRepo) FindRetry(_ context.Context, id string) (*domain.EventRetry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	retry, ok := r.retries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *retry
	return &copied, nil
}

func (r *fakeProcessedRepo) DeleteRetry(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.retries, id)
	return nil
}

func (r *fakeProcessedRepo) DueRetries(_ context.Context, now time.Time, limit int) ([]*domain.EventRetry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.EventRetry
	for _, retry := range r.retries {
		if !now.Before(retry.NextRetryAt) && retry.RetryCount < retry.MaxRetries {
			copied := *retry
			out = append(out, &copied)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeTxManager 直通执行但保留行锁语义：事务内通过
// FindByIDForUpdate 拿到的锁登记在 context 里，事务结束统一释放。
// 假件里没有回滚，测试通过"失败发生在第一笔写之前"来保持状态一致。
type fakeTxManager struct{}

type txLocksKey struct{}

type txLocks struct {
	mu      sync.Mutex
	unlocks []func()
}

func (l *txLocks) add(unlock func()) {
	l.mu.Lock()
	l.unlocks = append(l.unlocks, unlock)
	l.mu.Unlock()
}

func (l *txLocks) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.unlocks) - 1; i >= 0; i-- {
		l.unlocks[i]()
	}
	l.unlocks = nil
}

func (fakeTxManager) WithinTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	locks := &txLocks{}
	defer locks.release()
	return fn(context.WithValue(ctx, txLocksKey{}, locks))
}

type fakeEventPublisher struct {
	mu      sync.Mutex
	emitted []string
	fail    error
}

func (p *fakeEventPublisher) Emit(_ context.Context, name string, _ interface{}, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.emitted = append(p.emitted, name)
	return nil
}

func (p *fakeEventPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.emitted...)
}

type fakePayout struct {
	mu     sync.Mutex
	orders []string
	fail   error
}

func (p *fakePayout) CreateRecords(_ context.Context, order *domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.orders = append(p.orders, order.ID)
	return nil
}

type fakePricing struct {
	prices map[string]*port.PricedLine
	fail   error
}

func (p *fakePricing) ResolvePrice(_ context.Context, _, itemID string, _ int, _ string) (*port.PricedLine, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	line, ok := p.prices[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *line
	return &copied, nil
}

type fakeMarkup struct {
	fail error
}

func (m *fakeMarkup) Validate(_ context.Context, _ string, _, _ int64) error {
	return m.fail
}

type fakeStockCache struct {
	mu           sync.Mutex
	values       map[string]int
	invalidated  []string
}

func newFakeStockCache() *fakeStockCache {
	return &fakeStockCache{values: make(map[string]int)}
}

func (c *fakeStockCache) Get(_ context.Context, storeID, itemID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[storeID+"|"+itemID]
	return v, ok
}

func (c *fakeStockCache) Set(_ context.Context, storeID, itemID string, available int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[storeID+"|"+itemID] = available
}

func (c *fakeStockCache) Invalidate(_ context.Context, storeID, itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, storeID+"|"+itemID)
	c.invalidated = append(c.invalidated, storeID+"|"+itemID)
}

type fakeElector struct {
	leader   bool
	released bool
}

func (e *fakeElector) TryAcquire() (bool, error) { return e.leader, nil }
func (e *fakeElector) Release() error            { e.released = true; return nil }
