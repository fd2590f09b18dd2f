package upload

import "time"

// Status enumerates the lifecycle states of a backup file upload.
type Status string

const (
	// StatusUploading is the initial state; chunk writes are accepted.
	StatusUploading Status = "uploading"
	// StatusComplete is terminal; the session satisfies dedup lookups.
	StatusComplete Status = "complete"
	// StatusFailed is terminal. No operation here reaches it; it is
	// reserved for future orchestration.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// BackupFile is the metadata record of one upload session. The server
// only ever holds the client-declared plaintext hash and the encrypted
// size; blobs live in the chunk store, never in this table.
type BackupFile struct {
	ID            string     `gorm:"column:id;primaryKey;size:36;not null"`
	UserID        string     `gorm:"column:user_id;size:36;not null;index:idx_files_user_hash,priority:1"`
	DeviceID      string     `gorm:"column:device_id;size:36;not null"`
	FileHash      string     `gorm:"column:file_hash;size:64;not null;index:idx_files_user_hash,priority:2"`
	EncryptedSize int64      `gorm:"column:encrypted_size;not null"`
	ChunkCount    int        `gorm:"column:chunk_count;not null"`
	Status        Status     `gorm:"column:status;size:20;not null;default:uploading;index:idx_files_user_hash,priority:3"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	CompletedAt   *time.Time `gorm:"column:completed_at"`
}

// TableName provides the explicit table binding for GORM.
func (BackupFile) TableName() string {
	return "backup_files"
}

// Chunk is the receipt for one received chunk. The unique index on
// (file_id, chunk_index) makes the upsert an atomic replace, so a retry
// for the same index can never produce two receipts.
type Chunk struct {
	ID          string    `gorm:"column:id;primaryKey;size:36;not null"`
	FileID      string    `gorm:"column:file_id;size:36;not null;uniqueIndex:idx_chunks_file_index,priority:1"`
	ChunkIndex  int       `gorm:"column:chunk_index;not null;uniqueIndex:idx_chunks_file_index,priority:2"`
	ChunkHash   string    `gorm:"column:chunk_hash;size:64;not null"`
	Size        int64     `gorm:"column:size;not null"`
	StoragePath string    `gorm:"column:storage_path;size:512;not null"`
	UploadedAt  time.Time `gorm:"column:uploaded_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Chunk) TableName() string {
	return "chunks"
}
