package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"stall-service/internal/models"
	"stall-service/internal/store"
	"stall-service/internal/util"

	"go.uber.org/zap"
)

// fixture is a small fair: one floor, five stalls priced 1000..5000 and two vendors
type fixture struct {
	repo    *store.MemoryStore
	stalls  []models.Stall
	vendor  models.Vendor
	vendor2 models.Vendor
	events  *recordingPublisher
	booking *BookingService
	cancel  *CancellationService
	stallsv *StallService
	queries *ReservationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithTimeout(t, 2*time.Second)
}

func newFixtureWithTimeout(t *testing.T, lockTimeout time.Duration) *fixture {
	t.Helper()
	util.SetLogger(zap.NewNop())

	repo := store.NewMemoryStore(lockTimeout)
	floor := repo.AddFloor("Hall A")

	f := &fixture{repo: repo, events: &recordingPublisher{}}
	for i, code := range []string{"A1", "A2", "A3", "A4", "A5"} {
		f.stalls = append(f.stalls, repo.AddStall(models.Stall{
			Code:    code,
			FloorID: floor.ID,
			Size:    "SMALL",
			Price:   int64(i+1) * 1000,
		}))
	}
	f.vendor = repo.AddVendor(models.Vendor{Name: "Sarasavi", Email: "sarasavi@test.com"})
	f.vendor2 = repo.AddVendor(models.Vendor{Name: "Godage", Email: "godage@test.com"})

	guard := NewCapacityGuard(DefaultMaxStallsPerVendor)
	f.booking = NewBookingService(repo, guard, staticQR{png: []byte("png")}, f.events, nil, BookingConfig{})
	f.cancel = NewCancellationService(repo, f.events)
	f.stallsv = NewStallService(repo, f.events)
	f.queries = NewReservationService(repo, guard)
	return f
}

func (f *fixture) stallID(i int) int64 {
	return f.stalls[i].ID
}

func (f *fixture) book(t *testing.T, vendorID int64, stallIDs ...int64) *BookResponse {
	t.Helper()
	resp, err := f.booking.Book(context.Background(), &BookRequest{
		VendorID:      vendorID,
		StallIDs:      stallIDs,
		PaymentMethod: "CARD",
	})
	if err != nil {
		t.Fatalf("booking %v for vendor %d failed: %v", stallIDs, vendorID, err)
	}
	return resp
}

func (f *fixture) stall(t *testing.T, id int64) *models.Stall {
	t.Helper()
	st, err := f.repo.GetStall(context.Background(), id)
	if err != nil {
		t.Fatalf("get stall %d: %v", id, err)
	}
	return st
}

func (f *fixture) reservation(t *testing.T, token string) *models.Reservation {
	t.Helper()
	r, err := f.repo.GetReservationByToken(context.Background(), token)
	if err != nil {
		t.Fatalf("get reservation %s: %v", token, err)
	}
	return r
}

type staticQR struct {
	png []byte
	err error
}

func (q staticQR) Render(token string) ([]byte, error) {
	return q.png, q.err
}

type recordingPublisher struct {
	mu        sync.Mutex
	confirmed []*models.ReservationConfirmedEvent
	cancelled []*models.StallCancelledEvent
	toggled   []*models.StallToggledEvent
	err       error
}

func (p *recordingPublisher) PublishReservationConfirmed(ctx context.Context, e *models.ReservationConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, e)
	return p.err
}

func (p *recordingPublisher) PublishStallCancelled(ctx context.Context, e *models.StallCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return p.err
}

func (p *recordingPublisher) PublishStallToggled(ctx context.Context, e *models.StallToggledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toggled = append(p.toggled, e)
	return p.err
}

// memoryIdempotency mimics the redis claim protocol
type memoryIdempotency struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{entries: make(map[string]string)}
}

func (m *memoryIdempotency) Claim(ctx context.Context, key, marker string, ttl time.Duration) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.entries[key]
	if !ok {
		m.entries[key] = "pending:" + marker
		return true, "", nil
	}
	if len(value) >= 8 && value[:8] == "pending:" {
		return false, "", nil
	}
	return false, value, nil
}

func (m *memoryIdempotency) Complete(ctx context.Context, key, marker, result string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[key] == "pending:"+marker {
		m.entries[key] = result
	}
	return nil
}

func (m *memoryIdempotency) Release(ctx context.Context, key, marker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[key] == "pending:"+marker {
		delete(m.entries, key)
	}
	return nil
}
