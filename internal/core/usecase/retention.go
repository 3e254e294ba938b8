package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/core/ports"
)

// RetentionUseCase serves reads, deletion requests and the expiry purge.
type RetentionUseCase struct {
	store    ports.RecordStore
	evidence ports.EvidenceStorage
}

func NewRetentionUseCase(store ports.RecordStore, evidence ports.EvidenceStorage) *RetentionUseCase {
	return &RetentionUseCase{store: store, evidence: evidence}
}

func (uc *RetentionUseCase) GetByID(ctx context.Context, id string) (*domain.MissionRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get record", errors.New("id is required"))
	}
	record, err := uc.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

func (uc *RetentionUseCase) QueryByServer(ctx context.Context, serverID string, window domain.TimeRange) ([]domain.MissionRecord, error) {
	if strings.TrimSpace(serverID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "query records", errors.New("server id is required"))
	}
	if !window.From.Before(window.To) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "query records", errors.New("empty time window"))
	}
	records, err := uc.store.QueryByServerAndWindow(ctx, serverID, window)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return records, nil
}

func (uc *RetentionUseCase) DeleteRecord(ctx context.Context, id string) (int, error) {
	return uc.erase(ctx, "delete record", id, uc.store.DeleteByID)
}

func (uc *RetentionUseCase) DeleteByUser(ctx context.Context, userID string) (int, error) {
	return uc.erase(ctx, "delete user records", userID, uc.store.DeleteByUser)
}

func (uc *RetentionUseCase) DeleteByServer(ctx context.Context, serverID string) (int, error) {
	return uc.erase(ctx, "delete server records", serverID, uc.store.DeleteByServer)
}

// PurgeExpired removes every record whose expiry is at or before now.
func (uc *RetentionUseCase) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := uc.store.PurgeExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired records: %w", err)
	}
	uc.dropEvidence(ctx, ids)
	slog.Info("retention_purge_completed", "removed", len(ids), "now", now.UTC())
	return len(ids), nil
}

func (uc *RetentionUseCase) erase(
	ctx context.Context,
	op, key string,
	del func(context.Context, string) ([]string, error),
) (int, error) {
	if strings.TrimSpace(key) == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, op, errors.New("key is required"))
	}
	ids, err := del(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	uc.dropEvidence(ctx, ids)
	slog.Info("records_deleted", "operation", op, "key", key, "removed", len(ids))
	return len(ids), nil
}

func (uc *RetentionUseCase) dropEvidence(ctx context.Context, ids []string) {
	if uc.evidence == nil {
		return
	}
	for _, id := range ids {
		if err := uc.evidence.Delete(ctx, EvidenceKey(id)); err != nil {
			slog.Warn("evidence_delete_failed", "record_id", id, "error", err)
		}
	}
}
