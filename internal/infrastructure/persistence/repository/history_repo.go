package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	"go.uber.org/zap"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new history record
func (r *HistoryRepository) Create(ctx context.Context, history *entity.TransitionHistory) error {
	query := `
		INSERT INTO request_transitions (
			request_id, actor_id, previous_state, new_state,
			action, decision, comment, via, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		history.RequestID,
		history.ActorID,
		history.PreviousState,
		history.NewState,
		history.Action,
		history.Decision,
		history.Comment,
		history.Via,
		history.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	history.ID = id
	return nil
}

// GetByRequestID retrieves all history records for a request in commit order
func (r *HistoryRepository) GetByRequestID(ctx context.Context, requestID int64) ([]*entity.TransitionHistory, error) {
	query := `
		SELECT id, request_id, actor_id, previous_state, new_state,
			action, decision, comment, via, timestamp
		FROM request_transitions
		WHERE request_id = ?
		ORDER BY id ASC
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to get history by request ID", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.TransitionHistory
	for rows.Next() {
		var record entity.TransitionHistory
		err := rows.Scan(
			&record.ID,
			&record.RequestID,
			&record.ActorID,
			&record.PreviousState,
			&record.NewState,
			&record.Action,
			&record.Decision,
			&record.Comment,
			&record.Via,
			&record.Timestamp,
		)
		if err != nil {
			r.logger.Error("Failed to scan history record", zap.Error(err))
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
