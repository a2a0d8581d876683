// Package media validates and stores campaign attachments. Every attachment
// passes a size cap and a content-type allowlist; images are additionally
// probed for dimensions. Small blobs ride inline (base64) on the workflow
// entries, large ones are offloaded to an archive (disk by default, S3 when
// configured) and referenced by key.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
)

// allowedTypes maps accepted content types onto their attachment kind.
// Anything else is refused at create time rather than failing mid-campaign
// inside the messenger.
var allowedTypes = map[string]domain.AttachmentKind{
	"image/jpeg":         domain.AttachmentImage,
	"image/png":          domain.AttachmentImage,
	"image/gif":          domain.AttachmentImage,
	"image/webp":         domain.AttachmentImage,
	"image/bmp":          domain.AttachmentImage,
	"video/mp4":          domain.AttachmentVideo,
	"video/3gpp":         domain.AttachmentVideo,
	"application/pdf":    domain.AttachmentDocument,
	"text/plain":         domain.AttachmentDocument,
	"application/msword": domain.AttachmentDocument,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": domain.AttachmentDocument,
}

// ErrBadUpload marks uploads refused for what they contain (empty, too
// large, unsupported type, corrupt image) as opposed to archive failures.
var ErrBadUpload = errors.New("media: unusable upload")

// Upload is one attachment as received from the API, already base64-decoded.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Service prepares attachments for campaign creation and fetches their blobs
// back for sending.
type Service struct {
	cfg     config.MediaConfig
	archive Archive
}

// NewService wires the service onto an archive. archive may be nil, in which
// case every blob stays inline regardless of size.
func NewService(cfg config.MediaConfig, archive Archive) *Service {
	return &Service{cfg: cfg, archive: archive}
}

// Prepare validates one upload and turns it into the attachment snapshot the
// workflow entries carry. Blobs above the offload threshold move to the
// archive; the returned attachment then holds the key instead of the data.
func (s *Service) Prepare(ctx context.Context, up Upload) (*domain.Attachment, error) {
	if len(up.Data) == 0 {
		return nil, fmt.Errorf("%w: attachment %q is empty", ErrBadUpload, up.Filename)
	}
	maxBytes := int64(s.cfg.MaxSizeMB) * 1024 * 1024
	if maxBytes > 0 && int64(len(up.Data)) > maxBytes {
		return nil, fmt.Errorf("%w: attachment %q is %d bytes, limit is %d MB",
			ErrBadUpload, up.Filename, len(up.Data), s.cfg.MaxSizeMB)
	}

	ct := sniffContentType(up)
	kind, ok := allowedTypes[ct]
	if !ok {
		return nil, fmt.Errorf("%w: attachment type %q is not supported", ErrBadUpload, ct)
	}

	att := &domain.Attachment{
		Filename:    up.Filename,
		ContentType: ct,
		SizeBytes:   int64(len(up.Data)),
		Kind:        kind,
	}

	if kind == domain.AttachmentImage {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(up.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: attachment %q declares %s but its image data is unreadable",
				ErrBadUpload, up.Filename, ct)
		}
		att.Width = cfg.Width
		att.Height = cfg.Height
	}

	if s.archive != nil && s.cfg.OffloadAboveKB > 0 && len(up.Data) > s.cfg.OffloadAboveKB*1024 {
		key := archiveKey(up.Filename)
		if err := s.archive.Put(ctx, key, up.Data, ct); err != nil {
			return nil, fmt.Errorf("offloading attachment %q: %w", up.Filename, err)
		}
		att.ArchiveKey = key
		log.Printf("[Media] attachment %q (%d bytes) offloaded as %s", up.Filename, len(up.Data), key)
		return att, nil
	}

	att.Data = base64.StdEncoding.EncodeToString(up.Data)
	return att, nil
}

// Fetch returns the raw blob for an attachment, wherever it lives.
func (s *Service) Fetch(ctx context.Context, att *domain.Attachment) ([]byte, error) {
	if att.ArchiveKey != "" {
		if s.archive == nil {
			return nil, fmt.Errorf("attachment %q is archived but no archive is configured", att.Filename)
		}
		return s.archive.Get(ctx, att.ArchiveKey)
	}
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding attachment %q: %w", att.Filename, err)
	}
	return data, nil
}

// Discard removes an archived blob. Inline attachments have nothing to
// remove; misses are ignored so campaign deletion stays idempotent.
func (s *Service) Discard(ctx context.Context, att *domain.Attachment) error {
	if att == nil || att.ArchiveKey == "" || s.archive == nil {
		return nil
	}
	return s.archive.Delete(ctx, att.ArchiveKey)
}

// sniffContentType resolves the effective content type: the declared one,
// the filename extension, then content sniffing, in that order.
func sniffContentType(up Upload) string {
	ct := strings.ToLower(strings.TrimSpace(up.ContentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if ext := filepath.Ext(up.Filename); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			if i := strings.Index(byExt, ";"); i >= 0 {
				byExt = byExt[:i]
			}
			return strings.ToLower(byExt)
		}
	}
	return http.DetectContentType(up.Data)
}

// archiveKey builds a date-partitioned key so buckets stay browsable.
func archiveKey(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("attachments/%s/%s%s",
		time.Now().UTC().Format("2006/01/02"), uuid.New().String(), ext)
}
