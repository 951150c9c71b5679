package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stall-service/internal/models"

	"github.com/pkg/errors"
)

// keyedLocks is a set of per-id exclusive locks whose waits honour a context
// and a timeout, like a row lock under lock_timeout.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[int64]chan struct{}
}

func (k *keyedLocks) slot(id int64) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.slots == nil {
		k.slots = make(map[int64]chan struct{})
	}
	ch, ok := k.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[id] = ch
	}
	return ch
}

func (k *keyedLocks) acquire(ctx context.Context, id int64, timeout time.Duration) (func(), error) {
	slot := k.slot(id)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-expired:
		return nil, errors.Wrapf(models.ErrLockNotAcquired, "lock wait timeout on %d", id)
	}
}

// MemoryStore is a process local Repository. Units of work lock vendors,
// stalls and reservations exactly like the PostgreSQL store and undo their
// writes on rollback. Reads outside a unit of work may observe uncommitted
// writes; the locked paths never rely on such reads.
type MemoryStore struct {
	mu          sync.RWMutex
	lockTimeout time.Duration
	nextID      int64

	floors       map[int64]models.Floor
	stalls       map[int64]*models.Stall
	vendors      map[int64]*models.Vendor
	reservations map[int64]*models.Reservation
	tokens       map[string]int64
	links        map[int64]*models.StallLink
	payments     map[int64]*models.Payment

	vendorLocks      keyedLocks
	stallLocks       keyedLocks
	reservationLocks keyedLocks
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		lockTimeout:  lockTimeout,
		floors:       make(map[int64]models.Floor),
		stalls:       make(map[int64]*models.Stall),
		vendors:      make(map[int64]*models.Vendor),
		reservations: make(map[int64]*models.Reservation),
		tokens:       make(map[string]int64),
		links:        make(map[int64]*models.StallLink),
		payments:     make(map[int64]*models.Payment),
	}
}

func (s *MemoryStore) newID() int64 {
	s.nextID++
	return s.nextID
}

// AddFloor registers a floor
func (s *MemoryStore) AddFloor(name string) models.Floor {
	s.mu.Lock()
	defer s.mu.Unlock()
	floor := models.Floor{ID: s.newID(), Name: name}
	s.floors[floor.ID] = floor
	return floor
}

// AddStall registers a stall on an existing floor
func (s *MemoryStore) AddStall(stall models.Stall) models.Stall {
	s.mu.Lock()
	defer s.mu.Unlock()
	stall.ID = s.newID()
	stall.FloorName = s.floors[stall.FloorID].Name
	s.stalls[stall.ID] = &stall
	return stall
}

// AddVendor registers a vendor
func (s *MemoryStore) AddVendor(vendor models.Vendor) models.Vendor {
	s.mu.Lock()
	defer s.mu.Unlock()
	vendor.ID = s.newID()
	if vendor.CreatedAt.IsZero() {
		vendor.CreatedAt = time.Now()
	}
	s.vendors[vendor.ID] = &vendor
	return vendor
}

// SeedDemo loads the same demo inventory as the seed migration
func (s *MemoryStore) SeedDemo() {
	prices := map[string]int64{"SMALL": 1500000, "MEDIUM": 2500000, "LARGE": 4000000}
	hallA := s.AddFloor("Hall A")
	hallB := s.AddFloor("Hall B")
	for _, st := range []struct {
		floor models.Floor
		code  string
		size  string
	}{
		{hallA, "A1", "SMALL"}, {hallA, "A2", "SMALL"}, {hallA, "A3", "MEDIUM"},
		{hallA, "A4", "MEDIUM"}, {hallA, "A5", "LARGE"},
		{hallB, "B1", "SMALL"}, {hallB, "B2", "MEDIUM"}, {hallB, "B3", "LARGE"},
	} {
		s.AddStall(models.Stall{Code: st.code, FloorID: st.floor.ID, Size: st.size, Price: prices[st.size]})
	}
	s.AddVendor(models.Vendor{
		Name:          "Test Vendor",
		Email:         "vendor@test.com",
		ContactNumber: "1234567890",
		BusinessName:  "Test Vendor Business",
	})
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// WithTx runs fn as one unit of work
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{s: s, held: make(map[string]struct{})}
	defer tx.release()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func (s *MemoryStore) countActiveStalls(vendorID int64) int {
	count := 0
	for _, link := range s.links {
		r := s.reservations[link.ReservationID]
		if r != nil && r.VendorID == vendorID && r.IsActive() {
			count++
		}
	}
	return count
}

// CountActiveStalls counts stalls held by the vendor's active reservations
func (s *MemoryStore) CountActiveStalls(ctx context.Context, vendorID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActiveStalls(vendorID), nil
}

// GetVendor retrieves a vendor by ID
func (s *MemoryStore) GetVendor(ctx context.Context, vendorID int64) (*models.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vendors[vendorID]
	if !ok {
		return nil, models.NotFound("Vendor not found")
	}
	vendor := *v
	return &vendor, nil
}

// GetStall retrieves a stall by ID
func (s *MemoryStore) GetStall(ctx context.Context, stallID int64) (*models.Stall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stalls[stallID]
	if !ok {
		return nil, models.NotFound("Stall not found with id: %d", stallID)
	}
	stall := *st
	return &stall, nil
}

// ListStalls retrieves all stalls ordered by id, optionally of one floor
func (s *MemoryStore) ListStalls(ctx context.Context, floorID *int64) ([]models.Stall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stalls := make([]models.Stall, 0, len(s.stalls))
	for _, st := range s.stalls {
		if floorID != nil && st.FloorID != *floorID {
			continue
		}
		stalls = append(stalls, *st)
	}
	sort.Slice(stalls, func(i, j int) bool { return stalls[i].ID < stalls[j].ID })
	return stalls, nil
}

// ListFloors retrieves all floors ordered by id
func (s *MemoryStore) ListFloors(ctx context.Context) ([]models.Floor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	floors := make([]models.Floor, 0, len(s.floors))
	for _, f := range s.floors {
		floors = append(floors, f)
	}
	sort.Slice(floors, func(i, j int) bool { return floors[i].ID < floors[j].ID })
	return floors, nil
}

// FindActiveReservationByStall returns the active reservation holding the stall, or nil
func (s *MemoryStore) FindActiveReservationByStall(ctx context.Context, stallID int64) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, link := range s.links {
		r := s.reservations[link.ReservationID]
		if link.StallID == stallID && r != nil && r.IsActive() {
			reservation := *r
			return &reservation, nil
		}
	}
	return nil, nil
}

// ListVendorBookings retrieves every stall link of a vendor, cancelled forks included
func (s *MemoryStore) ListVendorBookings(ctx context.Context, vendorID int64) ([]models.VendorBooking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type row struct {
		linkID  int64
		booking models.VendorBooking
	}
	var rows []row
	for _, link := range s.links {
		r := s.reservations[link.ReservationID]
		st := s.stalls[link.StallID]
		if r == nil || st == nil || r.VendorID != vendorID {
			continue
		}
		rows = append(rows, row{linkID: link.ID, booking: models.VendorBooking{
			StallID:           st.ID,
			StallCode:         st.Code,
			Size:              st.Size,
			Price:             st.Price,
			FloorName:         st.FloorName,
			ReservationID:     r.ID,
			ReservationToken:  r.Token,
			ReservationStatus: r.Status,
			ReservedAt:        r.CreatedAt,
		}})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].booking.ReservedAt.Equal(rows[j].booking.ReservedAt) {
			return rows[i].booking.ReservedAt.After(rows[j].booking.ReservedAt)
		}
		return rows[i].linkID < rows[j].linkID
	})
	bookings := make([]models.VendorBooking, 0, len(rows))
	for _, r := range rows {
		bookings = append(bookings, r.booking)
	}
	return bookings, nil
}

// ListReservations retrieves all reservations with their vendor, newest first
func (s *MemoryStore) ListReservations(ctx context.Context) ([]models.ReservationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make([]models.ReservationSummary, 0, len(s.reservations))
	for _, r := range s.reservations {
		summary := models.ReservationSummary{Reservation: *r}
		if v, ok := s.vendors[r.VendorID]; ok {
			summary.VendorName = v.Name
			summary.VendorEmail = v.Email
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].ID > summaries[j].ID
	})
	return summaries, nil
}

// GetReservationByToken retrieves a reservation by its token
func (s *MemoryStore) GetReservationByToken(ctx context.Context, token string) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[token]
	if !ok {
		return nil, models.NotFound("Reservation not found")
	}
	reservation := *s.reservations[id]
	return &reservation, nil
}

// ListReservationStalls retrieves the stalls linked to a reservation
func (s *MemoryStore) ListReservationStalls(ctx context.Context, reservationID int64) ([]models.Stall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stalls []models.Stall
	for _, link := range s.links {
		if link.ReservationID == reservationID {
			if st, ok := s.stalls[link.StallID]; ok {
				stalls = append(stalls, *st)
			}
		}
	}
	sort.Slice(stalls, func(i, j int) bool { return stalls[i].ID < stalls[j].ID })
	return stalls, nil
}

// GetPaymentByReservation retrieves the payment of a reservation, or nil
func (s *MemoryStore) GetPaymentByReservation(ctx context.Context, reservationID int64) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[reservationID]
	if !ok {
		return nil, nil
	}
	payment := *p
	return &payment, nil
}

// memTx is one unit of work on a MemoryStore
type memTx struct {
	s        *MemoryStore
	held     map[string]struct{}
	releases []func()
	undo     []func()
}

func (t *memTx) lock(ctx context.Context, locks *keyedLocks, kind string, id int64) error {
	key := fmt.Sprintf("%s:%d", kind, id)
	if _, ok := t.held[key]; ok {
		return nil
	}
	release, err := locks.acquire(ctx, id, t.s.lockTimeout)
	if err != nil {
		return err
	}
	t.held[key] = struct{}{}
	t.releases = append(t.releases, release)
	return nil
}

// apply runs do under the store mutex and records the inverse it returns
func (t *memTx) apply(do func() (func(), error)) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	undo, err := do()
	if err != nil {
		return err
	}
	t.undo = append(t.undo, undo)
	return nil
}

func (t *memTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) release() {
	for i := len(t.releases) - 1; i >= 0; i-- {
		t.releases[i]()
	}
	t.releases = nil
}

func (t *memTx) CountActiveStalls(ctx context.Context, vendorID int64) (int, error) {
	return t.s.CountActiveStalls(ctx, vendorID)
}

func (t *memTx) LockVendor(ctx context.Context, vendorID int64) (*models.Vendor, error) {
	if _, err := t.s.GetVendor(ctx, vendorID); err != nil {
		return nil, err
	}
	if err := t.lock(ctx, &t.s.vendorLocks, "vendor", vendorID); err != nil {
		return nil, errors.Wrap(err, "failed to lock vendor")
	}
	return t.s.GetVendor(ctx, vendorID)
}

func (t *memTx) LockStalls(ctx context.Context, stallIDs []int64) ([]models.Stall, error) {
	ids := make([]int64, len(stallIDs))
	copy(ids, stallIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	stalls := make([]models.Stall, 0, len(ids))
	for _, id := range ids {
		if _, err := t.s.GetStall(ctx, id); err != nil {
			return nil, err
		}
		if err := t.lock(ctx, &t.s.stallLocks, "stall", id); err != nil {
			return nil, errors.Wrapf(err, "failed to lock stall %d", id)
		}
		stall, err := t.s.GetStall(ctx, id)
		if err != nil {
			return nil, err
		}
		stalls = append(stalls, *stall)
	}
	return stalls, nil
}

func (t *memTx) LockReservation(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	if err := t.lock(ctx, &t.s.reservationLocks, "reservation", reservationID); err != nil {
		return nil, errors.Wrap(err, "failed to lock reservation")
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.reservations[reservationID]
	if !ok {
		return nil, models.NotFound("Reservation not found")
	}
	reservation := *r
	return &reservation, nil
}

func (t *memTx) SetStallReserved(ctx context.Context, stallID int64, reserved bool) error {
	return t.apply(func() (func(), error) {
		st, ok := t.s.stalls[stallID]
		if !ok {
			return nil, models.NotFound("Stall not found with id: %d", stallID)
		}
		prev := st.Reserved
		st.Reserved = reserved
		return func() { st.Reserved = prev }, nil
	})
}

func (t *memTx) SetStallDisabled(ctx context.Context, stallID int64, disabled bool) error {
	return t.apply(func() (func(), error) {
		st, ok := t.s.stalls[stallID]
		if !ok {
			return nil, models.NotFound("Stall not found with id: %d", stallID)
		}
		prev := st.Disabled
		st.Disabled = disabled
		return func() { st.Disabled = prev }, nil
	})
}

func (t *memTx) CreateReservation(ctx context.Context, reservation *models.Reservation) error {
	return t.apply(func() (func(), error) {
		if _, exists := t.s.tokens[reservation.Token]; exists {
			return nil, errors.Wrapf(models.ErrDuplicateToken, "token %s", reservation.Token)
		}
		reservation.ID = t.s.newID()
		stored := *reservation
		t.s.reservations[stored.ID] = &stored
		t.s.tokens[stored.Token] = stored.ID
		return func() {
			delete(t.s.tokens, stored.Token)
			delete(t.s.reservations, stored.ID)
		}, nil
	})
}

func (t *memTx) CreateStallLink(ctx context.Context, link *models.StallLink) error {
	return t.apply(func() (func(), error) {
		for _, l := range t.s.links {
			if l.ReservationID == link.ReservationID && l.StallID == link.StallID {
				return nil, errors.Errorf("stall link (%d, %d) already exists", link.ReservationID, link.StallID)
			}
		}
		link.ID = t.s.newID()
		stored := *link
		t.s.links[stored.ID] = &stored
		return func() { delete(t.s.links, stored.ID) }, nil
	})
}

func (t *memTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return t.apply(func() (func(), error) {
		if _, exists := t.s.payments[payment.ReservationID]; exists {
			return nil, errors.Errorf("payment for reservation %d already exists", payment.ReservationID)
		}
		payment.ID = t.s.newID()
		stored := *payment
		t.s.payments[stored.ReservationID] = &stored
		return func() { delete(t.s.payments, stored.ReservationID) }, nil
	})
}

func (t *memTx) FindActiveLink(ctx context.Context, vendorID, stallID int64) (*models.StallLink, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, l := range t.s.links {
		r := t.s.reservations[l.ReservationID]
		if l.StallID == stallID && r != nil && r.VendorID == vendorID && r.IsActive() {
			link := *l
			return &link, nil
		}
	}
	return nil, models.NotFound("Reservation not found for this stall")
}

func (t *memTx) CountActiveLinks(ctx context.Context, reservationID, excludeLinkID int64) (int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.reservations[reservationID]
	if !ok || !r.IsActive() {
		return 0, nil
	}
	count := 0
	for _, l := range t.s.links {
		if l.ReservationID == reservationID && l.ID != excludeLinkID {
			count++
		}
	}
	return count, nil
}

func (t *memTx) UpdateReservationStatus(ctx context.Context, reservationID int64, status string) error {
	return t.apply(func() (func(), error) {
		r, ok := t.s.reservations[reservationID]
		if !ok {
			return nil, models.NotFound("Reservation not found")
		}
		prev := r.Status
		r.Status = status
		return func() { r.Status = prev }, nil
	})
}

func (t *memTx) RepointLink(ctx context.Context, linkID, reservationID int64) error {
	return t.apply(func() (func(), error) {
		l, ok := t.s.links[linkID]
		if !ok {
			return nil, errors.Errorf("stall link %d not found", linkID)
		}
		prev := l.ReservationID
		l.ReservationID = reservationID
		return func() { l.ReservationID = prev }, nil
	})
}
