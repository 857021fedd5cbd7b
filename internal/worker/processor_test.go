package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/remind-api/internal/model"
	"github.com/jwalitptl/remind-api/internal/push"
	"github.com/jwalitptl/remind-api/internal/service/dispatch"
	"github.com/jwalitptl/remind-api/internal/urlbuilder"
	apperrors "github.com/jwalitptl/remind-api/pkg/errors"
	"github.com/jwalitptl/remind-api/pkg/logger"
)

// memRepo implements repository.RemindRepository with the same
// compare-and-set semantics the postgres implementation provides.
type memRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*model.Remind
}

func newMemRepo(reminds ...*model.Remind) *memRepo {
	repo := &memRepo{records: make(map[uuid.UUID]*model.Remind)}
	for _, r := range reminds {
		cp := *r
		repo.records[r.ID] = &cp
	}
	return repo
}

func (m *memRepo) Create(_ context.Context, r *model.Remind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*model.Remind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, apperrors.NewNotFound("reminder", nil)
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) FindDue(_ context.Context, now time.Time, maxRetries int) ([]*model.Remind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*model.Remind
	for _, r := range m.records {
		deliverable := r.Status == model.DeliveryStatusNotSent || r.Status == model.DeliveryStatusFailed
		if deliverable && !r.NotifyTime.After(now) && r.RetryCount < maxRetries {
			cp := *r
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (m *memRepo) UpdateFields(_ context.Context, id uuid.UUID, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return apperrors.NewNotFound("reminder", nil)
	}
	if p, ok := fields["participants"]; ok {
		r.Participants = p.(pq.StringArray)
	}
	return nil
}

func (m *memRepo) CompareAndSetStatus(_ context.Context, id uuid.UUID, from []model.DeliveryStatus, to model.DeliveryStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, s := range from {
		if r.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	r.Status = to
	if to == model.DeliveryStatusSending {
		now := time.Now()
		r.SendingSince = &now
	} else {
		r.SendingSince = nil
	}
	if to == model.DeliveryStatusFailed {
		r.RetryCount++
	}
	return true, nil
}

func (m *memRepo) ReclaimStale(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.Status == model.DeliveryStatusSending && r.SendingSince != nil && r.SendingSince.Before(olderThan) {
			r.Status = model.DeliveryStatusNotSent
			r.SendingSince = nil
			n++
		}
	}
	return n, nil
}

func (m *memRepo) ListByOwner(context.Context, string) ([]*model.Remind, error) {
	return nil, nil
}

func (m *memRepo) status(id uuid.UUID) model.DeliveryStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Status
}

type fakeUserRepo struct {
	users map[string]*model.User
}

func (f *fakeUserRepo) Get(_ context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperrors.NewLookup("user "+id+" not found", nil)
	}
	return u, nil
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	failAll bool
	onSend  func()
}

func (f *fakeSender) SendTemplate(_ context.Context, recipientID, _, _ string, _ push.TemplatePayload) (string, error) {
	if f.onSend != nil {
		f.onSend()
	}
	if f.failAll {
		return "", errors.New("gateway unreachable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recipientID)
	return "delivery-" + recipientID, nil
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Output: io.Discard})
}

func newTestProcessor(repo *memRepo, users map[string]*model.User, sender *fakeSender) *Processor {
	d := dispatch.NewDispatcher(
		&fakeUserRepo{users: users},
		sender,
		urlbuilder.New("http://www.weixin.at"),
		dispatch.Config{DeliveryTimeout: time.Second},
		testLogger(),
		nil,
	)
	return NewProcessor(repo, d, ProcessorConfig{MaxRetries: 3}, testLogger(), nil)
}

// The end-to-end scenario: a reminder at 10:00 with a 30 minute lead
// becomes due at exactly 09:30; the owner and one participant get the
// notification, the opted-out participant is skipped, and the record
// lands on sent.
func TestRunCycleEndToEnd(t *testing.T) {
	remind := model.NewRemind("U1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), -30)
	remind.Participants = pq.StringArray{"U2", "U3"}
	require.Equal(t, time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), remind.NotifyTime)

	repo := newMemRepo(remind)
	sender := &fakeSender{}
	users := map[string]*model.User{
		"U1": {ID: "U1", Subscribe: true},
		"U2": {ID: "U2", Subscribe: true},
		"U3": {ID: "U3", Subscribe: false},
	}
	p := newTestProcessor(repo, users, sender)

	report, err := p.RunCycle(context.Background(), remind.NotifyTime)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.ElementsMatch(t, []string{"U1", "U2"}, sender.sent)
	assert.Equal(t, model.DeliveryStatusSent, repo.status(remind.ID))
}

func TestRunCycleNothingDueBeforeNotifyTime(t *testing.T) {
	remind := model.NewRemind("U1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), -30)
	repo := newMemRepo(remind)
	p := newTestProcessor(repo, map[string]*model.User{"U1": {ID: "U1", Subscribe: true}}, &fakeSender{})

	report, err := p.RunCycle(context.Background(), remind.NotifyTime.Add(-time.Second))
	require.NoError(t, err)

	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, model.DeliveryStatusNotSent, repo.status(remind.ID))
}

// All recipients failing leaves the record failed and selectable by
// the next scan, until the retry cap stops it.
func TestRunCycleAllFailedRetriesUntilCap(t *testing.T) {
	remind := model.NewRemind("U1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 0)
	repo := newMemRepo(remind)
	sender := &fakeSender{failAll: true}
	p := newTestProcessor(repo, map[string]*model.User{"U1": {ID: "U1", Subscribe: true}}, sender)

	now := remind.NotifyTime
	for i := 0; i < 3; i++ {
		report, err := p.RunCycle(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Scanned, "attempt %d", i+1)
		assert.Equal(t, 1, report.Failed, "attempt %d", i+1)
		assert.Equal(t, model.DeliveryStatusFailed, repo.status(remind.ID))
	}

	// Retry cap reached; the record drops out of the scan.
	report, err := p.RunCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
}

func TestRunCycleRecoversAfterTransientFailure(t *testing.T) {
	remind := model.NewRemind("U1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 0)
	repo := newMemRepo(remind)
	sender := &fakeSender{failAll: true}
	p := newTestProcessor(repo, map[string]*model.User{"U1": {ID: "U1", Subscribe: true}}, sender)

	_, err := p.RunCycle(context.Background(), remind.NotifyTime)
	require.NoError(t, err)
	require.Equal(t, model.DeliveryStatusFailed, repo.status(remind.ID))

	sender.failAll = false
	report, err := p.RunCycle(context.Background(), remind.NotifyTime)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, model.DeliveryStatusSent, repo.status(remind.ID))
}

// Concurrent cycles over the same records must elect exactly one
// winner per record; everyone else loses the compare-and-set and
// walks away silently.
func TestConcurrentCyclesSingleWinner(t *testing.T) {
	remind := model.NewRemind("U1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 0)
	remind.Participants = pq.StringArray{"U2"}
	repo := newMemRepo(remind)
	sender := &fakeSender{}
	users := map[string]*model.User{
		"U1": {ID: "U1", Subscribe: true},
		"U2": {ID: "U2", Subscribe: true},
	}
	p := newTestProcessor(repo, users, sender)

	const cycles = 8
	var wg sync.WaitGroup
	reports := make([]*model.CycleReport, cycles)
	for i := 0; i < cycles; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := p.RunCycle(context.Background(), remind.NotifyTime)
			assert.NoError(t, err)
			reports[i] = report
		}()
	}
	wg.Wait()

	totalSent := 0
	for _, report := range reports {
		totalSent += report.Sent
	}
	assert.Equal(t, 1, totalSent, "exactly one cycle performs the send transition")
	assert.Len(t, sender.sent, 2, "each recipient notified exactly once")
	assert.Equal(t, model.DeliveryStatusSent, repo.status(remind.ID))
}

// A lease reclaimed mid-dispatch means the finalize compare-and-set
// loses; the cycle must not count the record sent, and the record
// stays retryable.
func TestLostLeaseLeavesRecordRetryable(t *testing.T) {
	remind := model.NewRemind("U1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 0)
	repo := newMemRepo(remind)
	sender := &fakeSender{}
	sender.onSend = func() {
		repo.mu.Lock()
		repo.records[remind.ID].Status = model.DeliveryStatusNotSent
		repo.records[remind.ID].SendingSince = nil
		repo.mu.Unlock()
	}
	p := newTestProcessor(repo, map[string]*model.User{"U1": {ID: "U1", Subscribe: true}}, sender)

	report, err := p.RunCycle(context.Background(), remind.NotifyTime)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, model.DeliveryStatusNotSent, repo.status(remind.ID))
}

func TestReclaimStaleLease(t *testing.T) {
	remind := model.NewRemind("U1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 0)
	repo := newMemRepo(remind)

	// Simulate a cycle that died mid-dispatch.
	claimed, err := repo.CompareAndSetStatus(context.Background(), remind.ID,
		[]model.DeliveryStatus{model.DeliveryStatusNotSent}, model.DeliveryStatusSending)
	require.NoError(t, err)
	require.True(t, claimed)

	p := newTestProcessor(repo, map[string]*model.User{"U1": {ID: "U1", Subscribe: true}}, &fakeSender{})

	// Mid-lease the record stays claimed.
	p.reclaimStale(context.Background())
	assert.Equal(t, model.DeliveryStatusSending, repo.status(remind.ID))

	// Expire the lease and reclaim.
	repo.mu.Lock()
	expired := time.Now().Add(-time.Hour)
	repo.records[remind.ID].SendingSince = &expired
	repo.mu.Unlock()

	p.reclaimStale(context.Background())
	assert.Equal(t, model.DeliveryStatusNotSent, repo.status(remind.ID))

	report, err := p.RunCycle(context.Background(), remind.NotifyTime)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
}
