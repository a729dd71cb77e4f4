// Package files moves task attachments from Asana to Clubhouse: download
// into a bounded scratch buffer, infer the content type, upload, and collect
// the destination file ids.
package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"example.com/asana-importer/internal/log"
	"example.com/asana-importer/internal/migrator/model"
)

const (
	// spoolLimit caps the in-memory portion of an attachment transfer.
	spoolLimit = 10 << 20
	// sniffLen is how much of the content is inspected when the extension
	// does not settle the content type.
	sniffLen = 1024

	textPlain   = "text/plain"
	octetStream = "application/octet-stream"
)

// Migrator transfers attachments. In preview mode it returns placeholder ids
// without any network I/O, keeping the interface shape for the story builder.
type Migrator struct {
	src    model.SourceClient
	dst    model.DestinationClient
	commit bool
}

func NewMigrator(src model.SourceClient, dst model.DestinationClient, commit bool) *Migrator {
	return &Migrator{src: src, dst: dst, commit: commit}
}

// MigrateAll migrates the attachments of the root task and every flattened
// subtask, returning destination file ids in task order.
func (m *Migrator) MigrateAll(ctx context.Context, task *model.Task, subtasks []*model.Task) ([]string, error) {
	var ids []string
	for _, t := range append([]*model.Task{task}, subtasks...) {
		got, err := m.migrateTask(ctx, t)
		if err != nil {
			return nil, err
		}
		ids = append(ids, got...)
	}
	return ids, nil
}

func (m *Migrator) migrateTask(ctx context.Context, t *model.Task) ([]string, error) {
	if !m.commit {
		log.Debug("preview: skipping attachment transfer", "task", t.ID)
		return []string{"fake-" + uuid.NewString()}, nil
	}

	attachments, err := m.src.Attachments(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list attachments for task %d: %w", t.ID, err)
	}
	ids := make([]string, 0, len(attachments))
	for _, att := range attachments {
		id, err := m.migrateAttachment(ctx, t, att)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Migrator) migrateAttachment(ctx context.Context, t *model.Task, att model.Attachment) (string, error) {
	filename := strings.TrimSpace(att.Name)
	log.Info("fetching attachment", "file", filename, "task", t.ID)

	body, err := m.src.DownloadAttachment(ctx, att.DownloadURL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", filename, err)
	}
	defer body.Close()

	sp := newSpool(spoolLimit)
	defer sp.Close()
	if _, err := io.Copy(sp, body); err != nil {
		return "", fmt.Errorf("buffer %s: %w", filename, err)
	}

	contentType, err := detectContentType(filename, sp)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", filename, err)
	}

	r, err := sp.Reader()
	if err != nil {
		return "", fmt.Errorf("rewind %s: %w", filename, err)
	}
	log.Info("uploading attachment", "file", filename, "content_type", contentType)
	f, err := m.dst.UploadFile(ctx, filename, contentType, r)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	return f.ID, nil
}

// detectContentType infers a content type from the filename extension. When
// the extension is unknown or plain text, the first KB of content is sniffed
// and reclassified as generic binary if it does not look like text.
func detectContentType(filename string, sp *spool) (string, error) {
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType != "" && contentType != textPlain {
		return contentType, nil
	}
	head, err := sp.Head(sniffLen)
	if err != nil {
		return "", err
	}
	if isBinary(head) {
		return octetStream, nil
	}
	return textPlain, nil
}

// isBinary reports whether data looks like binary content: a NUL byte, or
// more than 30% of bytes outside the usual text range.
func isBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	nonText := 0
	for _, b := range data {
		if !isTextByte(b) {
			nonText++
		}
	}
	return nonText*100/len(data) > 30
}

func isTextByte(b byte) bool {
	switch b {
	case '\a', '\b', '\t', '\n', '\f', '\r', 0x1b:
		return true
	}
	return b >= 0x20 && b != 0x7f
}
