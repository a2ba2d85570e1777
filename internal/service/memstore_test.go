package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/repository"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/models"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

// memData хранит содержимое in-memory хранилища. Копируется целиком для отката.
type memData struct {
	bookings   map[uuid.UUID]entity.Booking
	ledger     []entity.LedgerEntry
	disputes   map[uuid.UUID]entity.Dispute
	messages   map[uuid.UUID][]entity.DisputeMessage
	campaigns  map[uuid.UUID]entity.Campaign
	deliveries map[uuid.UUID]entity.DeliveryRecord
	delivOrder []uuid.UUID
}

func (d memData) clone() memData {
	c := memData{
		bookings:   make(map[uuid.UUID]entity.Booking, len(d.bookings)),
		ledger:     append([]entity.LedgerEntry(nil), d.ledger...),
		disputes:   make(map[uuid.UUID]entity.Dispute, len(d.disputes)),
		messages:   make(map[uuid.UUID][]entity.DisputeMessage, len(d.messages)),
		campaigns:  make(map[uuid.UUID]entity.Campaign, len(d.campaigns)),
		deliveries: make(map[uuid.UUID]entity.DeliveryRecord, len(d.deliveries)),
		delivOrder: append([]uuid.UUID(nil), d.delivOrder...),
	}
	for k, v := range d.bookings {
		c.bookings[k] = v
	}
	for k, v := range d.disputes {
		c.disputes[k] = v
	}
	for k, v := range d.messages {
		c.messages[k] = append([]entity.DisputeMessage(nil), v...)
	}
	for k, v := range d.campaigns {
		c.campaigns[k] = v
	}
	for k, v := range d.deliveries {
		c.deliveries[k] = v
	}
	return c
}

// memStore реализует UnitOfWork, Reader, DeliveryStore, CatalogReader и
// DirectoryReader. Транзакции сериализуются одним мьютексом, что соответствует
// блокировке строки бронирования в Postgres; при ошибке данные откатываются.
type memStore struct {
	mu       sync.Mutex
	data     memData
	services map[uuid.UUID]entity.ServiceSnapshot
	users    []entity.DirectoryUser

	// failAppend имитирует сбой записи в журнал внутри транзакции.
	failAppend error
}

func newMemStore() *memStore {
	return &memStore{
		data: memData{
			bookings:   map[uuid.UUID]entity.Booking{},
			disputes:   map[uuid.UUID]entity.Dispute{},
			messages:   map[uuid.UUID][]entity.DisputeMessage{},
			campaigns:  map[uuid.UUID]entity.Campaign{},
			deliveries: map[uuid.UUID]entity.DeliveryRecord{},
		},
		services: map[uuid.UUID]entity.ServiceSnapshot{},
	}
}

var (
	_ repository.UnitOfWork      = (*memStore)(nil)
	_ repository.Reader          = (*memStore)(nil)
	_ repository.DeliveryStore   = (*memStore)(nil)
	_ repository.CatalogReader   = (*memStore)(nil)
	_ repository.DirectoryReader = (*memStore)(nil)
	_ repository.Tx              = (*memTx)(nil)
)

func (s *memStore) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return apperror.FromContext(err)
	}

	snapshot := s.data.clone()
	err := fn(ctx, &memTx{s: s})
	if err == nil && ctx.Err() != nil {
		err = apperror.FromContext(ctx.Err())
	}
	if err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// ---- фикстуры ----

func (s *memStore) addService(providerID uuid.UUID, price valueobject.Money) entity.ServiceSnapshot {
	svc := entity.ServiceSnapshot{ID: uuid.New(), ProviderID: providerID, Title: "Уборка", Price: price, IsActive: true}
	s.mu.Lock()
	s.services[svc.ID] = svc
	s.mu.Unlock()
	return svc
}

func (s *memStore) putBooking(b entity.Booking) {
	s.mu.Lock()
	s.data.bookings[b.ID] = b
	s.mu.Unlock()
}

func (s *memStore) booking(id uuid.UUID) entity.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.bookings[id]
}

func (s *memStore) entries(bookingID uuid.UUID) []entity.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesLocked(bookingID)
}

func (s *memStore) entriesLocked(bookingID uuid.UUID) []entity.LedgerEntry {
	var out []entity.LedgerEntry
	for _, e := range s.data.ledger {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) campaign(id uuid.UUID) entity.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.campaigns[id]
}

func (s *memStore) deliveryRecords(campaignID uuid.UUID) []entity.DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.DeliveryRecord
	for _, id := range s.data.delivOrder {
		if r := s.data.deliveries[id]; r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	return out
}

// ---- CatalogReader / DirectoryReader ----

func (s *memStore) GetService(_ context.Context, id uuid.UUID) (*entity.ServiceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return nil, apperror.ErrServiceNotFound
	}
	return &svc, nil
}

func (s *memStore) ListDirectoryUsers(context.Context) ([]entity.DirectoryUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.DirectoryUser(nil), s.users...), nil
}

// ---- Reader ----

func (s *memStore) GetBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).GetBooking(ctx, id)
}

func (s *memStore) ListBookings(_ context.Context, f repository.BookingFilter) ([]entity.Booking, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Booking
	for _, b := range s.data.bookings {
		if f.PartyID != nil && !b.IsParty(*f.PartyID) {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (s *memStore) ListLedgerEntries(_ context.Context, bookingID uuid.UUID) ([]entity.LedgerEntry, error) {
	return s.entries(bookingID), nil
}

func (s *memStore) GetDispute(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).GetDispute(ctx, id)
}

func (s *memStore) ListDisputes(_ context.Context, f repository.DisputeFilter) ([]entity.Dispute, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Dispute
	for _, d := range s.data.disputes {
		if f.PartyID != nil && !d.IsParty(*f.PartyID) {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, d)
	}
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (s *memStore) GetCampaign(ctx context.Context, id uuid.UUID) (*entity.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).GetCampaign(ctx, id)
}

func (s *memStore) ListCampaigns(_ context.Context, f repository.CampaignFilter) ([]entity.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Campaign
	for _, c := range s.data.campaigns {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}
	return page(out, f.Limit, f.Offset), len(out), nil
}

// ---- DeliveryStore ----

func (s *memStore) ListDeliveryRecords(_ context.Context, campaignID uuid.UUID, limit, offset int) ([]entity.DeliveryRecord, int, error) {
	all := s.deliveryRecords(campaignID)
	return page(all, limit, offset), len(all), nil
}

func (s *memStore) ListPendingDeliveries(_ context.Context, campaignID uuid.UUID) ([]entity.DeliveryRecord, error) {
	var out []entity.DeliveryRecord
	for _, r := range s.deliveryRecords(campaignID) {
		if r.Status == valueobject.DeliveryStatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) ListStaleDeliveries(_ context.Context, before time.Time, limit int) ([]entity.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.DeliveryRecord
	for _, id := range s.data.delivOrder {
		r := s.data.deliveries[id]
		last := r.CreatedAt
		if r.LastAttemptAt != nil {
			last = *r.LastAttemptAt
		}
		if r.Status == valueobject.DeliveryStatusPending && last.Before(before) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) ListDueCampaigns(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, c := range s.data.campaigns {
		if c.IsDue(now) {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (s *memStore) CompleteDelivery(_ context.Context, recordID uuid.UUID, status valueobject.DeliveryStatus, notificationID *uuid.UUID, reason *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.deliveries[recordID]
	if !ok || r.Status != valueobject.DeliveryStatusPending {
		return false, nil
	}
	r.Status = status
	if notificationID != nil {
		r.NotificationID = notificationID
	}
	r.FailureReason = reason
	s.data.deliveries[recordID] = r

	c := s.data.campaigns[r.CampaignID]
	if status == valueobject.DeliveryStatusFailed {
		c.Failed++
	} else {
		c.Delivered++
	}
	s.data.campaigns[r.CampaignID] = c
	return true, nil
}

func (s *memStore) MarkDeliveryOpened(_ context.Context, recordID, recipientID uuid.UUID) (*entity.DeliveryRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.deliveries[recordID]
	if !ok || r.RecipientID != recipientID {
		return nil, false, apperror.ErrDeliveryNotFound
	}
	switch r.Status {
	case valueobject.DeliveryStatusOpened:
		return &r, false, nil
	case valueobject.DeliveryStatusDelivered, valueobject.DeliveryStatusSent:
	default:
		return nil, false, apperror.New(apperror.ErrCodePrecondition, "уведомление ещё не доставлено")
	}
	r.Status = valueobject.DeliveryStatusOpened
	s.data.deliveries[recordID] = r
	c := s.data.campaigns[r.CampaignID]
	c.Opened++
	s.data.campaigns[r.CampaignID] = c
	return &r, true, nil
}

func (s *memStore) ClaimDelivery(_ context.Context, recordID uuid.UUID, at, staleBefore time.Time) (bool, *uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.deliveries[recordID]
	if !ok || r.Status != valueobject.DeliveryStatusPending {
		return false, nil, nil
	}
	if r.LastAttemptAt != nil && !r.LastAttemptAt.Before(staleBefore) {
		return false, nil, nil
	}
	r.Attempts++
	r.LastAttemptAt = &at
	s.data.deliveries[recordID] = r
	return true, r.NotificationID, nil
}

func (s *memStore) AttachNotification(_ context.Context, recordID, notificationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.deliveries[recordID]
	if !ok || r.NotificationID != nil {
		return nil
	}
	r.NotificationID = &notificationID
	s.data.deliveries[recordID] = r
	return nil
}

// memTx работает внутри транзакции, мьютекс уже взят в Do.
type memTx struct {
	s *memStore
}

func (t *memTx) CreateBooking(_ context.Context, b *entity.Booking) error {
	t.s.data.bookings[b.ID] = *b
	return nil
}

func (t *memTx) GetBooking(_ context.Context, id uuid.UUID) (*entity.Booking, error) {
	b, ok := t.s.data.bookings[id]
	if !ok {
		return nil, apperror.ErrBookingNotFound
	}
	return &b, nil
}

func (t *memTx) LockBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	return t.GetBooking(ctx, id)
}

func (t *memTx) UpdateBooking(_ context.Context, b *entity.Booking) error {
	if _, ok := t.s.data.bookings[b.ID]; !ok {
		return apperror.ErrBookingNotFound
	}
	t.s.data.bookings[b.ID] = *b
	return nil
}

// AppendLedgerEntry повторяет частичные уникальные индексы журнала:
// одно удержание и одна выплата или возврат на бронирование.
func (t *memTx) AppendLedgerEntry(_ context.Context, e *entity.LedgerEntry) error {
	if t.s.failAppend != nil {
		return t.s.failAppend
	}
	for _, existing := range t.s.entriesLocked(e.BookingID) {
		if existing.Kind == e.Kind && e.Kind == valueobject.LedgerKindCapture {
			return apperror.ErrAlreadyCaptured
		}
		if existing.Kind != valueobject.LedgerKindCapture && e.Kind != valueobject.LedgerKindCapture {
			return apperror.New(apperror.ErrCodeAlreadyProcessed, "выплата по бронированию уже проведена")
		}
	}
	t.s.data.ledger = append(t.s.data.ledger, *e)
	return nil
}

func (t *memTx) ListLedgerEntries(_ context.Context, bookingID uuid.UUID) ([]entity.LedgerEntry, error) {
	return t.s.entriesLocked(bookingID), nil
}

func (t *memTx) CreateDispute(ctx context.Context, d *entity.Dispute) error {
	if active, _ := t.FindActiveDispute(ctx, d.BookingID); active != nil {
		return apperror.ErrActiveDispute
	}
	stored := *d
	stored.Messages = nil
	t.s.data.disputes[d.ID] = stored
	for i := range d.Messages {
		if err := t.AppendDisputeMessage(ctx, &d.Messages[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) GetDispute(_ context.Context, id uuid.UUID) (*entity.Dispute, error) {
	d, ok := t.s.data.disputes[id]
	if !ok {
		return nil, apperror.ErrDisputeNotFound
	}
	d.Messages = append([]entity.DisputeMessage(nil), t.s.data.messages[id]...)
	return &d, nil
}

func (t *memTx) LockDispute(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	return t.GetDispute(ctx, id)
}

func (t *memTx) UpdateDispute(_ context.Context, d *entity.Dispute) error {
	if _, ok := t.s.data.disputes[d.ID]; !ok {
		return apperror.ErrDisputeNotFound
	}
	stored := *d
	stored.Messages = nil
	t.s.data.disputes[d.ID] = stored
	return nil
}

func (t *memTx) AppendDisputeMessage(_ context.Context, m *entity.DisputeMessage) error {
	t.s.data.messages[m.DisputeID] = append(t.s.data.messages[m.DisputeID], *m)
	return nil
}

func (t *memTx) FindActiveDispute(_ context.Context, bookingID uuid.UUID) (*entity.Dispute, error) {
	for _, d := range t.s.data.disputes {
		if d.BookingID == bookingID && !d.Status.IsTerminal() {
			return &d, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateCampaign(_ context.Context, c *entity.Campaign) error {
	t.s.data.campaigns[c.ID] = *c
	return nil
}

func (t *memTx) GetCampaign(_ context.Context, id uuid.UUID) (*entity.Campaign, error) {
	c, ok := t.s.data.campaigns[id]
	if !ok {
		return nil, apperror.ErrCampaignNotFound
	}
	return &c, nil
}

func (t *memTx) LockCampaign(ctx context.Context, id uuid.UUID) (*entity.Campaign, error) {
	return t.GetCampaign(ctx, id)
}

// UpdateCampaign не трогает счётчики доставки, как и SQL-версия.
func (t *memTx) UpdateCampaign(_ context.Context, c *entity.Campaign) error {
	stored, ok := t.s.data.campaigns[c.ID]
	if !ok {
		return apperror.ErrCampaignNotFound
	}
	updated := *c
	updated.Delivered = stored.Delivered
	updated.Failed = stored.Failed
	updated.Opened = stored.Opened
	t.s.data.campaigns[c.ID] = updated
	return nil
}

func (t *memTx) CreateDeliveryRecords(_ context.Context, records []entity.DeliveryRecord) error {
	for _, r := range records {
		t.s.data.deliveries[r.ID] = r
		t.s.data.delivOrder = append(t.s.data.delivOrder, r.ID)
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// ---- побочные эффекты ----

type sentNotice struct {
	UserID uuid.UUID
	Event  string
}

// recordingNotifier запоминает уведомления; для failFor возвращает ошибку.
type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentNotice
	failFor map[uuid.UUID]error
}

func (n *recordingNotifier) Notify(_ context.Context, userID uuid.UUID, event string, _ interface{}) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.failFor[userID]; ok {
		return nil, err
	}
	n.sent = append(n.sent, sentNotice{UserID: userID, Event: event})
	return &models.Notification{ID: uuid.New(), UserID: userID, CreatedAt: time.Now()}, nil
}

func (n *recordingNotifier) events(userID uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.UserID == userID {
			out = append(out, s.Event)
		}
	}
	return out
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type stubMailer struct {
	mu      sync.Mutex
	sent    []uuid.UUID
	failFor map[uuid.UUID]error
}

func (m *stubMailer) Send(_ context.Context, userID uuid.UUID, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[userID]; ok {
		return err
	}
	m.sent = append(m.sent, userID)
	return nil
}

// fixture собирает сервисы поверх одного memStore.
type fixture struct {
	store     *memStore
	notifier  *recordingNotifier
	publisher *recordingPublisher
	logs      *test.Hook
	now       time.Time

	customer entity.Actor
	provider entity.Actor
	admin    entity.Actor

	bookings  *BookingService
	disputes  *DisputeService
	campaigns *CampaignService
	mailer    *stubMailer
}

func newFixture() *fixture {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	f := &fixture{
		store:     newMemStore(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		logs:      hook,
		now:       time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		customer:  entity.Actor{ID: uuid.New(), Role: valueobject.RoleCustomer},
		provider:  entity.Actor{ID: uuid.New(), Role: valueobject.RoleProvider},
		admin:     entity.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin},
		mailer:    &stubMailer{},
	}

	deps := Deps{
		UoW:      f.store,
		Reader:   f.store,
		Notifier: f.notifier,
		Events:   f.publisher,
		Log:      log,
		Clock:    func() time.Time { return f.now },
	}
	f.bookings = NewBookingService(deps, f.store)
	f.disputes = NewDisputeService(deps)
	f.campaigns = NewCampaignService(deps, f.store, f.store, f.mailer, nil, CampaignConfig{})
	inline := func(fn func()) { fn() }
	f.bookings.dispatch = inline
	f.disputes.dispatch = inline
	f.campaigns.dispatch = inline
	return f
}

// seedBooking кладёт бронирование в нужном состоянии напрямую в хранилище.
func (f *fixture) seedBooking(status valueobject.BookingStatus, amount valueobject.Money) entity.Booking {
	b := entity.Booking{
		ID:            uuid.New(),
		CustomerID:    f.customer.ID,
		ProviderID:    f.provider.ID,
		ServiceID:     uuid.New(),
		ScheduledDate: f.now.AddDate(0, 0, 7),
		Status:        status,
		TotalAmount:   amount,
		PaymentStatus: valueobject.PaymentStatusPending,
		CreatedAt:     f.now,
		UpdatedAt:     f.now,
	}
	f.store.putBooking(b)
	return b
}
