package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zkvault/backend/internal/storage"
)

// DefaultMaxChunkBytes bounds a single chunk payload. Slightly above the
// 8 MiB client chunk size to leave room for encryption overhead.
const DefaultMaxChunkBytes = 10 << 20

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingStore      = errors.New("chunk store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "upload.service.new"
	opInit       = "upload.init"
	opWriteChunk = "upload.write_chunk"
	opComplete   = "upload.complete"
	opStatus     = "upload.status"
	opReadChunk  = "upload.read_chunk"
)

// IDProvider issues identifiers for new sessions and chunk receipts.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// ServiceConfig describes the collaborators of the upload session service.
type ServiceConfig struct {
	Database      *gorm.DB
	Store         storage.ChunkStore
	MaxChunkBytes int64
	Clock         func() time.Time
	IDProvider    IDProvider
	Logger        *zap.Logger
}

// Service drives upload sessions from initiation to completion. The chunk
// store and database handle are shared, stateless collaborators; all
// per-upload state lives in the metadata store.
type Service struct {
	db            *gorm.DB
	store         storage.ChunkStore
	maxChunkBytes int64
	clock         func() time.Time
	idProvider    IDProvider
	logger        *zap.Logger
}

// NewService validates the configuration and returns the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	maxChunkBytes := cfg.MaxChunkBytes
	if maxChunkBytes <= 0 {
		maxChunkBytes = DefaultMaxChunkBytes
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:            cfg.Database,
		store:         cfg.Store,
		maxChunkBytes: maxChunkBytes,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		logger:        logger,
	}, nil
}

// MaxChunkBytes exposes the configured payload bound for transport-layer limits.
func (s *Service) MaxChunkBytes() int64 {
	return s.maxChunkBytes
}

// InitRequest declares a new upload. FileHash is the client-computed digest
// of the plaintext; the server records it without verification.
type InitRequest struct {
	UserID        string
	DeviceID      string
	FileHash      string
	EncryptedSize int64
	ChunkCount    int
}

// InitResult identifies the session to upload against. AlreadyExists is
// set when a completed session with the same (user, hash) was reused.
type InitResult struct {
	UploadID      string
	AlreadyExists bool
}

// Init consults the deduplication index and either returns the completed
// session for this (user, file hash) or creates a fresh uploading session.
//
// Two simultaneous Init calls for the same new hash can both miss the
// lookup and create two sessions. That is accepted: dedup only matches
// complete rows, so the cost is duplicate storage, never corruption.
func (s *Service) Init(ctx context.Context, req InitRequest) (InitResult, error) {
	if req.UserID == "" {
		return InitResult{}, fmt.Errorf("%w: missing user id", ErrValidation)
	}
	if _, err := uuid.Parse(req.DeviceID); err != nil {
		return InitResult{}, fmt.Errorf("%w: malformed device id", ErrValidation)
	}
	if req.FileHash == "" {
		return InitResult{}, fmt.Errorf("%w: missing file hash", ErrValidation)
	}
	if req.ChunkCount <= 0 {
		return InitResult{}, fmt.Errorf("%w: chunk count must be positive", ErrValidation)
	}
	if req.EncryptedSize < 0 {
		return InitResult{}, fmt.Errorf("%w: negative encrypted size", ErrValidation)
	}

	var existing BackupFile
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND file_hash = ? AND status = ?", req.UserID, req.FileHash, StatusComplete).
		Take(&existing).Error
	if err == nil {
		return InitResult{UploadID: existing.ID, AlreadyExists: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opInit, "dedup_lookup_failed", err, zap.String("user_id", req.UserID))
		return InitResult{}, newServiceError(opInit, "dedup_lookup_failed", err)
	}

	uploadID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opInit, "id_generation_failed", err)
		return InitResult{}, newServiceError(opInit, "id_generation_failed", err)
	}

	file := BackupFile{
		ID:            uploadID,
		UserID:        req.UserID,
		DeviceID:      req.DeviceID,
		FileHash:      req.FileHash,
		EncryptedSize: req.EncryptedSize,
		ChunkCount:    req.ChunkCount,
		Status:        StatusUploading,
		CreatedAt:     s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&file).Error; err != nil {
		s.logError(opInit, "session_create_failed", err, zap.String("user_id", req.UserID))
		return InitResult{}, newServiceError(opInit, "session_create_failed", err)
	}

	s.logger.Info("upload session created",
		zap.String("upload_id", uploadID),
		zap.String("user_id", req.UserID),
		zap.Int("chunk_count", req.ChunkCount))
	return InitResult{UploadID: uploadID, AlreadyExists: false}, nil
}

// ChunkReceipt acknowledges a stored chunk with the server-side hash of
// the received ciphertext bytes.
type ChunkReceipt struct {
	ChunkIndex int
	ChunkHash  string
	Size       int64
}

// WriteChunk validates, stores and records one chunk. The blob write must
// succeed before the receipt upsert so a receipt never references a
// missing blob. Re-invoking with the same index replaces both blob and
// receipt, which is the whole retry mechanism for interrupted transfers.
func (s *Service) WriteChunk(ctx context.Context, userID, uploadID string, chunkIndex int, data []byte) (ChunkReceipt, error) {
	file, err := s.ownedSession(ctx, s.db, userID, uploadID, opWriteChunk)
	if err != nil {
		return ChunkReceipt{}, err
	}
	if file.Status != StatusUploading {
		return ChunkReceipt{}, fmt.Errorf("%w: status is %s", ErrConflict, file.Status)
	}
	if chunkIndex < 0 || chunkIndex >= file.ChunkCount {
		return ChunkReceipt{}, fmt.Errorf("%w: index %d outside [0, %d)", ErrInvalidChunkIndex, chunkIndex, file.ChunkCount)
	}
	if int64(len(data)) > s.maxChunkBytes {
		return ChunkReceipt{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrChunkTooLarge, len(data), s.maxChunkBytes)
	}

	digest := sha256.Sum256(data)
	chunkHash := hex.EncodeToString(digest[:])
	path := storage.ChunkPath(userID, uploadID, chunkIndex)

	if err := s.store.Write(ctx, path, data); err != nil {
		s.logError(opWriteChunk, "blob_write_failed", err,
			zap.String("upload_id", uploadID),
			zap.Int("chunk_index", chunkIndex))
		return ChunkReceipt{}, newServiceError(opWriteChunk, "blob_write_failed", err)
	}

	chunkID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opWriteChunk, "id_generation_failed", err, zap.String("upload_id", uploadID))
		return ChunkReceipt{}, newServiceError(opWriteChunk, "id_generation_failed", err)
	}

	receipt := Chunk{
		ID:          chunkID,
		FileID:      file.ID,
		ChunkIndex:  chunkIndex,
		ChunkHash:   chunkHash,
		Size:        int64(len(data)),
		StoragePath: path,
		UploadedAt:  s.clock().UTC(),
	}
	// Atomic replace on (file_id, chunk_index): concurrent writers for the
	// same index resolve to last-write-wins with a single surviving receipt.
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}, {Name: "chunk_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"chunk_hash", "size", "storage_path", "uploaded_at"}),
	}).Create(&receipt).Error
	if err != nil {
		s.logError(opWriteChunk, "receipt_upsert_failed", err,
			zap.String("upload_id", uploadID),
			zap.Int("chunk_index", chunkIndex))
		return ChunkReceipt{}, newServiceError(opWriteChunk, "receipt_upsert_failed", err)
	}

	return ChunkReceipt{ChunkIndex: chunkIndex, ChunkHash: chunkHash, Size: int64(len(data))}, nil
}

// Complete verifies every declared chunk has a receipt and transitions the
// session to its terminal complete state. The transition is a
// compare-and-set on the status column so two racing completions cannot
// both succeed; the receipt count is taken inside the same transaction.
func (s *Service) Complete(ctx context.Context, userID, uploadID string) (Status, error) {
	var completedAt time.Time
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file, err := s.ownedSession(ctx, tx, userID, uploadID, opComplete)
		if err != nil {
			return err
		}
		if file.Status != StatusUploading {
			return fmt.Errorf("%w: status is %s", ErrConflict, file.Status)
		}

		var received int64
		if err := tx.Model(&Chunk{}).Where("file_id = ?", file.ID).Count(&received).Error; err != nil {
			s.logError(opComplete, "receipt_count_failed", err, zap.String("upload_id", uploadID))
			return newServiceError(opComplete, "receipt_count_failed", err)
		}
		if int(received) != file.ChunkCount {
			return &IncompleteError{Expected: file.ChunkCount, Actual: int(received)}
		}

		completedAt = s.clock().UTC()
		result := tx.Model(&BackupFile{}).
			Where("id = ? AND status = ?", file.ID, StatusUploading).
			Updates(map[string]interface{}{
				"status":       StatusComplete,
				"completed_at": completedAt,
			})
		if result.Error != nil {
			s.logError(opComplete, "transition_failed", result.Error, zap.String("upload_id", uploadID))
			return newServiceError(opComplete, "transition_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			// A concurrent completion won the compare-and-set.
			return fmt.Errorf("%w: already completed", ErrConflict)
		}
		return nil
	})
	if txErr != nil {
		return "", txErr
	}

	s.logger.Info("upload session completed",
		zap.String("upload_id", uploadID),
		zap.String("user_id", userID),
		zap.Time("completed_at", completedAt))
	return StatusComplete, nil
}

// SessionStatus reports upload progress for the status endpoint.
type SessionStatus struct {
	UploadID       string
	Status         Status
	ReceivedChunks []int
}

// Status returns the session state and the ascending list of received
// chunk indices. Read-only and available in every state.
func (s *Service) Status(ctx context.Context, userID, uploadID string) (SessionStatus, error) {
	file, err := s.ownedSession(ctx, s.db, userID, uploadID, opStatus)
	if err != nil {
		return SessionStatus{}, err
	}

	received := make([]int, 0, file.ChunkCount)
	err = s.db.WithContext(ctx).Model(&Chunk{}).
		Where("file_id = ?", file.ID).
		Order("chunk_index ASC").
		Pluck("chunk_index", &received).Error
	if err != nil {
		s.logError(opStatus, "receipt_query_failed", err, zap.String("upload_id", uploadID))
		return SessionStatus{}, newServiceError(opStatus, "receipt_query_failed", err)
	}

	return SessionStatus{UploadID: file.ID, Status: file.Status, ReceivedChunks: received}, nil
}

// ReadChunk streams a stored chunk back to its owner, for the restore path.
func (s *Service) ReadChunk(ctx context.Context, userID, uploadID string, chunkIndex int) ([]byte, error) {
	file, err := s.ownedSession(ctx, s.db, userID, uploadID, opReadChunk)
	if err != nil {
		return nil, err
	}

	var receipt Chunk
	err = s.db.WithContext(ctx).
		Where("file_id = ? AND chunk_index = ?", file.ID, chunkIndex).
		Take(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: chunk %d", ErrNotFound, chunkIndex)
	}
	if err != nil {
		s.logError(opReadChunk, "receipt_query_failed", err, zap.String("upload_id", uploadID))
		return nil, newServiceError(opReadChunk, "receipt_query_failed", err)
	}

	data, err := s.store.Read(ctx, receipt.StoragePath)
	if errors.Is(err, storage.ErrBlobNotFound) {
		// A receipt without its blob violates the write-before-record
		// invariant; surface it loudly rather than as a plain 404.
		s.logError(opReadChunk, "receipt_without_blob", err,
			zap.String("upload_id", uploadID),
			zap.Int("chunk_index", chunkIndex),
			zap.String("storage_path", receipt.StoragePath))
		return nil, newServiceError(opReadChunk, "receipt_without_blob", err)
	}
	if err != nil {
		s.logError(opReadChunk, "blob_read_failed", err, zap.String("upload_id", uploadID))
		return nil, newServiceError(opReadChunk, "blob_read_failed", err)
	}
	return data, nil
}

// ownedSession fetches the session and enforces ownership. A session
// owned by another user is indistinguishable from an unknown one.
func (s *Service) ownedSession(ctx context.Context, tx *gorm.DB, userID, uploadID, operation string) (BackupFile, error) {
	if userID == "" || uploadID == "" {
		return BackupFile{}, fmt.Errorf("%w: %s", ErrNotFound, uploadID)
	}
	var file BackupFile
	err := tx.WithContext(ctx).
		Where("id = ? AND user_id = ?", uploadID, userID).
		Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BackupFile{}, fmt.Errorf("%w: %s", ErrNotFound, uploadID)
	}
	if err != nil {
		s.logError(operation, "session_lookup_failed", err, zap.String("upload_id", uploadID))
		return BackupFile{}, newServiceError(operation, "session_lookup_failed", err)
	}
	return file, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("upload service error", attrs...)
}
