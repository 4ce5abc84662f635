package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileArchive keeps the original uploaded contracts.
type FileArchive interface {
	// Upload stores a file and returns its storage path
	Upload(ctx context.Context, fileID uuid.UUID, filename string, data io.Reader) (string, error)
	Download(ctx context.Context, storagePath string) (io.ReadCloser, error)
	Delete(ctx context.Context, storagePath string) error
}

type ArchiveType string

const (
	ArchiveNone  ArchiveType = "none"
	ArchiveLocal ArchiveType = "local"
	ArchiveS3    ArchiveType = "s3"
)

type ArchiveConfig struct {
	Type         ArchiveType
	LocalPath    string
	S3Bucket     string
	S3Region     string
	AWSAccessKey string
	AWSSecretKey string
}

// NewArchive returns nil for ArchiveNone; callers skip archiving then.
func NewArchive(ctx context.Context, cfg ArchiveConfig) (FileArchive, error) {
	switch cfg.Type {
	case ArchiveNone, "":
		return nil, nil
	case ArchiveLocal:
		return NewLocalArchive(cfg.LocalPath)
	case ArchiveS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("AWS_S3_BUCKET is required for S3 storage")
		}
		return NewS3Archive(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// storagePath spreads files over two-character prefixes of their id.
func storagePath(fileID uuid.UUID, filename string) string {
	ext := filepath.Ext(filename)
	baseName := strings.TrimSuffix(filepath.Base(filename), ext)
	baseName = strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(baseName)

	id := fileID.String()
	return fmt.Sprintf("%s/%s_%s%s", id[:2], id, baseName, ext)
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
