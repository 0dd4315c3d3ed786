package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/logger"
	"herald/internal/subscription"
	pkgerrors "herald/pkg/errors"
)

type serviceFixture struct {
	repo    *MemoryRepository
	groups  *subscription.MemoryRepository
	service Service
	group   *subscription.Group
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	groups := subscription.NewMemoryRepository()
	g, err := groups.Register(context.Background(), subscription.Registration{
		Topic: "orders", GroupName: "billing", RequiresAcknowledgment: true,
		AcknowledgmentTimeoutMinutes: 5, MaxRetries: 3,
	})
	require.NoError(t, err)

	repo := NewMemoryRepository()
	return &serviceFixture{
		repo:    repo,
		groups:  groups,
		service: NewService(repo, groups, logger.NopLogger()),
		group:   g,
	}
}

func subscriptionRegistration(topic, group string) subscription.Registration {
	return subscription.Registration{Topic: topic, GroupName: group, AcknowledgmentTimeoutMinutes: 5, MaxRetries: 3}
}

func (f *serviceFixture) insert(t *testing.T, status Status) *Message {
	t.Helper()
	msg := NewMessage("orders", `{"id":1}`, "billing", "k1", testProducer, time.Now())
	msg.Status = status
	require.NoError(t, f.repo.Insert(context.Background(), msg))
	return msg
}

func TestAcknowledgeSuccessMovesSentToAcknowledged(t *testing.T) {
	f := newServiceFixture(t)
	msg := f.insert(t, StatusSent)

	resp, err := f.service.Acknowledge(context.Background(), AcknowledgeRequest{
		MessageID: msg.ID, ConsumerGroup: "billing", Success: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, resp.Status)

	got, _ := f.repo.Get(context.Background(), msg.ID)
	assert.Equal(t, StatusAcknowledged, got.Status)

	acks := f.repo.Acknowledgments(msg.ID)
	require.Len(t, acks, 1)
	assert.Equal(t, f.group.ID, acks[0].RegistrationID)
	assert.True(t, acks[0].Success)
}

func TestAcknowledgeFailureRecordsReason(t *testing.T) {
	f := newServiceFixture(t)
	msg := f.insert(t, StatusSent)

	resp, err := f.service.Acknowledge(context.Background(), AcknowledgeRequest{
		MessageID: msg.ID, ConsumerGroup: "billing", Success: false, ErrorMessage: "handler exploded",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, resp.Status)

	got, _ := f.repo.Get(context.Background(), msg.ID)
	assert.Equal(t, "handler exploded", got.ErrorMessage)
}

func TestAcknowledgeOvertakesPendingRow(t *testing.T) {
	f := newServiceFixture(t)
	msg := f.insert(t, StatusPending)

	resp, err := f.service.Acknowledge(context.Background(), AcknowledgeRequest{
		MessageID: msg.ID, ConsumerGroup: "billing", Success: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, resp.Status)

	// The pipeline's late Pending -> Sent write must now lose.
	won, err := f.repo.UpdateStatus(context.Background(), msg.ID, StatusPending, StatusSent, "")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestAcknowledgeSettledRowIsNoOp(t *testing.T) {
	for _, status := range []Status{StatusAcknowledged, StatusExpired, StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			f := newServiceFixture(t)
			msg := f.insert(t, status)

			resp, err := f.service.Acknowledge(context.Background(), AcknowledgeRequest{
				MessageID: msg.ID, ConsumerGroup: "billing", Success: true,
			})
			require.NoError(t, err)
			assert.Equal(t, status, resp.Status)
			assert.Empty(t, f.repo.Acknowledgments(msg.ID))
		})
	}
}

func TestAcknowledgeUnknownOrMismatched(t *testing.T) {
	f := newServiceFixture(t)
	msg := f.insert(t, StatusSent)

	_, err := f.service.Acknowledge(context.Background(), AcknowledgeRequest{
		MessageID: "ghost", ConsumerGroup: "billing", Success: true,
	})
	assert.True(t, pkgerrors.IsNotFound(err))

	_, err = f.service.Acknowledge(context.Background(), AcknowledgeRequest{
		MessageID: msg.ID, ConsumerGroup: "audit", Success: true,
	})
	assert.True(t, pkgerrors.IsNotFound(err))

	_, err = f.service.Acknowledge(context.Background(), AcknowledgeRequest{
		MessageID: msg.ID, ConsumerGroup: " ",
	})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestAcknowledgeWithoutRegistrationStillUpdatesStatus(t *testing.T) {
	f := newServiceFixture(t)
	msg := NewMessage("payments", "{}", "billing", "k9", testProducer, time.Now())
	msg.Status = StatusSent
	require.NoError(t, f.repo.Insert(context.Background(), msg))

	resp, err := f.service.Acknowledge(context.Background(), AcknowledgeRequest{
		MessageID: msg.ID, ConsumerGroup: "billing", Success: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, resp.Status)
	assert.Empty(t, f.repo.Acknowledgments(msg.ID))
}

func TestListByStatusAndStats(t *testing.T) {
	f := newServiceFixture(t)
	f.insert(t, StatusPending)
	f.insert(t, StatusPending)
	f.insert(t, StatusExpired)

	rows, err := f.service.ListByStatus(context.Background(), StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = f.service.ListByStatus(context.Background(), Status("Bogus"), 10)
	assert.True(t, pkgerrors.IsValidation(err))

	stats, err := f.service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Counts[StatusExpired])
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 100, clampLimit(0))
	assert.Equal(t, 25, clampLimit(25))
	assert.Equal(t, 1000, clampLimit(5000))
}

func TestCleanerRemovesOnlySettledOldRows(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	old := time.Now().Add(-48 * time.Hour)
	stamp := time.Now()

	acked := NewMessage("orders", "{}", "billing", "k1", testProducer, old)
	acked.Status = StatusAcknowledged
	superseded := NewMessage("orders", "{}", "audit", "k1", testProducer, old)
	superseded.Status = StatusFailed
	superseded.LastRetryAt = &stamp
	open := NewMessage("orders", "{}", "search", "k1", testProducer, old)
	open.Status = StatusFailed
	fresh := NewMessage("orders", "{}", "billing", "k2", testProducer, time.Now())
	fresh.Status = StatusExpired

	_, err := repo.InsertBatch(ctx, []*Message{acked, superseded, open, fresh})
	require.NoError(t, err)

	require.NoError(t, NewCleaner(repo, 24*time.Hour, logger.NopLogger()).Run(ctx))

	var remaining []string
	for _, m := range repo.All() {
		remaining = append(remaining, m.ID)
	}
	assert.ElementsMatch(t, []string{open.ID, fresh.ID}, remaining)
}
