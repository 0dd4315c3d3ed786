package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "herald/pkg/errors"
	"herald/pkg/metrics"
)

// Repository reads consumer-group registrations. Register exists for
// bootstrapping; administration otherwise happens outside this service.
type Repository interface {
	ActiveGroupsForTopic(ctx context.Context, topic string) ([]Group, error)
	ActiveGroups(ctx context.Context) ([]Group, error)
	FindGroup(ctx context.Context, topic, groupName string) (*Group, error)
	Register(ctx context.Context, reg Registration) (*Group, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectGroups = `
	SELECT g.id, g.topic_id, t.name, g.group_name, g.requires_acknowledgment,
	       g.acknowledgment_timeout_minutes, g.max_retries, g.is_active, g.created_at, g.updated_at
	FROM consumer_group_registrations g
	JOIN topics t ON t.id = g.topic_id
`

func (r *PostgresRepository) ActiveGroupsForTopic(ctx context.Context, topic string) ([]Group, error) {
	return r.query(ctx, "active_groups_for_topic", selectGroups+`WHERE t.name = $1 AND g.is_active ORDER BY g.group_name`, topic)
}

func (r *PostgresRepository) ActiveGroups(ctx context.Context) ([]Group, error) {
	return r.query(ctx, "active_groups", selectGroups+`WHERE g.is_active ORDER BY t.name, g.group_name`)
}

func (r *PostgresRepository) FindGroup(ctx context.Context, topic, groupName string) (*Group, error) {
	groups, err := r.query(ctx, "find_group", selectGroups+`WHERE t.name = $1 AND g.group_name = $2`, topic, groupName)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, pkgerrors.ErrNotFound.WithMessage(fmt.Sprintf("consumer group %q is not registered on topic %q", groupName, topic))
	}
	return &groups[0], nil
}

func (r *PostgresRepository) query(ctx context.Context, op, query string, args ...interface{}) (groups []Group, err error) {
	defer func(start time.Time) {
		metrics.ObserveQuery("subscription", op, start, err)
	}(time.Now())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumer groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g Group
		if err := rows.Scan(
			&g.ID, &g.TopicID, &g.Topic, &g.GroupName, &g.RequiresAcknowledgment,
			&g.AcknowledgmentTimeoutMinutes, &g.MaxRetries, &g.IsActive, &g.CreatedAt, &g.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan consumer group: %w", err)
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// Register upserts the topic and the group in one transaction.
func (r *PostgresRepository) Register(ctx context.Context, reg Registration) (*Group, error) {
	if err := reg.Validate(); err != nil {
		return nil, pkgerrors.ErrValidation.WithMessage(err.Error())
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	g := Group{
		Topic:                        reg.Topic,
		GroupName:                    reg.GroupName,
		RequiresAcknowledgment:       reg.RequiresAcknowledgment,
		AcknowledgmentTimeoutMinutes: reg.AcknowledgmentTimeoutMinutes,
		MaxRetries:                   reg.MaxRetries,
		IsActive:                     !reg.Inactive,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO topics (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, uuid.NewString(), reg.Topic).Scan(&g.TopicID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert topic: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO consumer_group_registrations
			(id, topic_id, group_name, requires_acknowledgment, acknowledgment_timeout_minutes, max_retries, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (topic_id, group_name) DO UPDATE SET
			requires_acknowledgment = EXCLUDED.requires_acknowledgment,
			acknowledgment_timeout_minutes = EXCLUDED.acknowledgment_timeout_minutes,
			max_retries = EXCLUDED.max_retries,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, uuid.NewString(), g.TopicID, g.GroupName, g.RequiresAcknowledgment,
		g.AcknowledgmentTimeoutMinutes, g.MaxRetries, g.IsActive,
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert consumer group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}
	return &g, nil
}

// IsNotFound reports whether err means the registration does not exist.
func IsNotFound(err error) bool {
	return pkgerrors.IsNotFound(err) || errors.Is(err, sql.ErrNoRows)
}
