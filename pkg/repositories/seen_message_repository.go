package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/contexta-ai/contexta-engine/pkg/apperrors"
	"github.com/contexta-ai/contexta-engine/pkg/database"
)

// SeenMessageRepository tracks email message identifiers already processed
// for a tenant, backing the cheap email novelty check.
type SeenMessageRepository interface {
	IsSeen(ctx context.Context, tenantID uuid.UUID, messageID string) (bool, error)
	MarkSeen(ctx context.Context, tenantID uuid.UUID, messageID string) error
}

type seenMessageRepository struct{}

// NewSeenMessageRepository creates a new SeenMessageRepository.
func NewSeenMessageRepository() SeenMessageRepository {
	return &seenMessageRepository{}
}

var _ SeenMessageRepository = (*seenMessageRepository)(nil)

func (r *seenMessageRepository) IsSeen(ctx context.Context, tenantID uuid.UUID, messageID string) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, apperrors.ErrNoTenantScope
	}

	var exists bool
	err := scope.Conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM seen_messages WHERE tenant_id = $1 AND message_id = $2)`,
		tenantID, messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check seen message: %w", err)
	}
	return exists, nil
}

func (r *seenMessageRepository) MarkSeen(ctx context.Context, tenantID uuid.UUID, messageID string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	_, err := scope.Conn.Exec(ctx,
		`INSERT INTO seen_messages (tenant_id, message_id, seen_at) VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, message_id) DO NOTHING`,
		tenantID, messageID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark message seen: %w", err)
	}
	return nil
}
