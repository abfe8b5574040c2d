package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rle/grps/internal/domain"
	"github.com/rle/grps/internal/infra"
	"github.com/rle/grps/internal/provider"
)

// Sync page size limits.
const (
	DefaultSyncLimit = 100
	MaxSyncLimit     = 500
)

// Per-entry sync outcomes, also used as metric labels.
const (
	syncCreated      = "created"
	syncUpdated      = "updated"
	syncBadKey       = "bad_key"
	syncReadFailed   = "read_failed"
	syncNotObject    = "not_object"
	syncInvalid      = "invalid"
	syncIngestFailed = "ingest_failed"
)

// SyncResult summarizes one page of datastore reconciliation.
type SyncResult struct {
	Updated    int     `json:"updated"`
	Created    int     `json:"created"`
	Skipped    int     `json:"skipped"`
	NextCursor *string `json:"nextCursor"`
}

// SyncService pulls player entries from the datastore and ingests them.
type SyncService struct {
	datastore Datastore
	cfg       DatastoreConfig
	ingestion *IngestionService
	metrics   *infra.Metrics
	logger    *slog.Logger
}

// NewSyncService creates a SyncService.
func NewSyncService(datastore Datastore, cfg DatastoreConfig, ingestion *IngestionService, metrics *infra.Metrics, logger *slog.Logger) *SyncService {
	return &SyncService{
		datastore: datastore,
		cfg:       cfg,
		ingestion: ingestion,
		metrics:   metrics,
		logger:    logger,
	}
}

// SyncLeaderboard reconciles one page of datastore entries. Entries that cannot
// be read, parsed or validated are counted as skipped and do not fail the page.
func (s *SyncService) SyncLeaderboard(ctx context.Context, limit int, cursor string) (res *SyncResult, err error) {
	limit, err = domain.ValidateLimit(limit, DefaultSyncLimit, MaxSyncLimit)
	if err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if s.cfg.UniverseID == 0 {
		return nil, domain.ErrConfiguration("ROBLOX_UNIVERSE_ID is not configured")
	}

	ctx, span := tracer.Start(ctx, "SyncService.SyncLeaderboard",
		trace.WithAttributes(attribute.Int("limit", limit)))
	defer func() { endSpan(span, err) }()

	listing, err := s.datastore.ListDatastoreEntries(ctx, provider.ListEntriesParams{
		UniverseID:    s.cfg.UniverseID,
		DatastoreName: s.cfg.Name,
		Scope:         s.cfg.Scope,
		Prefix:        s.cfg.Prefix,
		Limit:         limit,
		Cursor:        cursor,
	})
	if err != nil {
		return nil, domain.ErrExternal("failed to list datastore entries", err)
	}

	result := &SyncResult{}
	for _, ref := range listing.Entries {
		if err := ctx.Err(); err != nil {
			return nil, domain.ErrInternal("sync interrupted", err)
		}
		outcome := s.syncEntry(ctx, ref.Name())
		s.metrics.IncSyncEntry(outcome)
		switch outcome {
		case syncCreated:
			result.Created++
		case syncUpdated:
			result.Updated++
		default:
			result.Skipped++
		}
	}
	if next := listing.Cursor(); next != "" {
		result.NextCursor = &next
	}

	s.logger.Info("datastore sync page complete",
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"has_more", result.NextCursor != nil,
	)
	return result, nil
}

func (s *SyncService) syncEntry(ctx context.Context, key string) string {
	userID, ok := UserIDFromKey(key, s.cfg.Prefix)
	if !ok {
		s.logger.Warn("skipping datastore entry with unexpected key", "key", key)
		return syncBadKey
	}

	raw, err := s.datastore.ReadDatastoreEntry(ctx, s.cfg.Entry(key))
	if err != nil {
		s.logger.Warn("failed to read datastore entry", "key", key, "error", err)
		return syncReadFailed
	}
	fields, ok := decodeEntry(raw)
	if !ok {
		s.logger.Warn("datastore entry is not an object", "key", key)
		return syncNotObject
	}

	payload, err := BuildSnapshotPayload(fields, userID)
	if err != nil {
		s.logger.Warn("datastore entry rejected", "key", key, "error", err)
		return syncInvalid
	}
	snap, err := payload.Validate()
	if err != nil {
		s.logger.Warn("datastore entry rejected", "key", key, "error", err)
		return syncInvalid
	}

	experienceKey, _ := firstString(fields, "experienceKey")
	res, err := s.ingestion.Ingest(ctx, snap, IngestOptions{
		ExperienceKey: experienceKey,
		Source:        SourceDatastoreSync,
	})
	if err != nil {
		s.logger.Error("failed to ingest datastore entry", "key", key, "user_id", userID, "error", err)
		return syncIngestFailed
	}
	if res.Created {
		return syncCreated
	}
	return syncUpdated
}
