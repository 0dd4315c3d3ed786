package subscription

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "herald/pkg/errors"
)

var groupColumns = []string{
	"id", "topic_id", "name", "group_name", "requires_acknowledgment",
	"acknowledgment_timeout_minutes", "max_retries", "is_active", "created_at", "updated_at",
}

func TestPostgresActiveGroupsForTopic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.name = $1 AND g.is_active")).
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows(groupColumns).
			AddRow("g1", "t1", "orders", "audit", false, 5, -1, true, now, now).
			AddRow("g2", "t1", "orders", "billing", true, 2, 3, true, now, now))

	repo := NewRepository(db)
	groups, err := repo.ActiveGroupsForTopic(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "audit", groups[0].GroupName)
	assert.Equal(t, UnlimitedRetries, groups[0].MaxRetries)
	assert.Equal(t, 2*time.Minute, groups[1].AckTimeout())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindGroupNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.name = $1 AND g.group_name = $2")).
		WithArgs("orders", "ghost").
		WillReturnRows(sqlmock.NewRows(groupColumns))

	_, err = NewRepository(db).FindGroup(context.Background(), "orders", "ghost")
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.True(t, IsNotFound(err))
}

func TestPostgresRegisterUpsertsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO topics")).
		WithArgs(sqlmock.AnyArg(), "orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("t1"))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO consumer_group_registrations")).
		WithArgs(sqlmock.AnyArg(), "t1", "billing", true, 5, -1, true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("g1", now, now))
	mock.ExpectCommit()

	g, err := NewRepository(db).Register(context.Background(), Registration{
		Topic: "orders", GroupName: "billing", RequiresAcknowledgment: true,
		AcknowledgmentTimeoutMinutes: 5, MaxRetries: UnlimitedRetries,
	})
	require.NoError(t, err)
	assert.Equal(t, "g1", g.ID)
	assert.Equal(t, "t1", g.TopicID)
	assert.True(t, g.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationValidate(t *testing.T) {
	tests := []struct {
		name string
		reg  Registration
		ok   bool
	}{
		{name: "valid unlimited", reg: Registration{Topic: "t", GroupName: "g", AcknowledgmentTimeoutMinutes: 1, MaxRetries: -1}, ok: true},
		{name: "below sentinel", reg: Registration{Topic: "t", GroupName: "g", AcknowledgmentTimeoutMinutes: 1, MaxRetries: -2}},
		{name: "missing topic", reg: Registration{GroupName: "g", AcknowledgmentTimeoutMinutes: 1}},
		{name: "zero timeout", reg: Registration{Topic: "t", GroupName: "g"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRetriesExhausted(t *testing.T) {
	assert.False(t, Group{MaxRetries: UnlimitedRetries}.RetriesExhausted(1000))
	assert.True(t, Group{MaxRetries: 0}.RetriesExhausted(0))
	assert.False(t, Group{MaxRetries: 2}.RetriesExhausted(1))
	assert.True(t, Group{MaxRetries: 2}.RetriesExhausted(2))
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.Register(ctx, Registration{Topic: "orders", GroupName: "billing", AcknowledgmentTimeoutMinutes: 1})
	require.NoError(t, err)
	_, err = repo.Register(ctx, Registration{Topic: "orders", GroupName: "audit", AcknowledgmentTimeoutMinutes: 1, Inactive: true})
	require.NoError(t, err)
	_, err = repo.Register(ctx, Registration{Topic: "users", GroupName: "crm", AcknowledgmentTimeoutMinutes: 1})
	require.NoError(t, err)

	groups, err := repo.ActiveGroupsForTopic(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "billing", groups[0].GroupName)

	all, err := repo.ActiveGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	found, err := repo.FindGroup(ctx, "orders", "audit")
	require.NoError(t, err)
	assert.False(t, found.IsActive)

	_, err = repo.FindGroup(ctx, "users", "billing")
	assert.True(t, IsNotFound(err))
}
