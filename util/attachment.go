package util

import (
	"B2P/models"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DownloadTimeout bounds a single attachment download.
const DownloadTimeout = 10 * time.Second

// SavedAttachment is a file the materializer actually wrote.
type SavedAttachment struct {
	Name string
	Path string
	Size int64
	Text bool
}

// Materializer writes attachment descriptors into a task folder.
type Materializer struct {
	client *http.Client
}

// NewMaterializer uses client for remote payloads, or a client with
// DownloadTimeout when nil.
func NewMaterializer(client *http.Client) *Materializer {
	if client == nil {
		client = &http.Client{Timeout: DownloadTimeout}
	}
	return &Materializer{client: client}
}

// SaveAttachments decodes every attachment into dir. One bad attachment never
// stops the others; failures are only logged.
func (m *Materializer) SaveAttachments(ctx context.Context, dir string, attachments []models.Attachment) []SavedAttachment {
	saved := make([]SavedAttachment, 0, len(attachments))
	for _, att := range attachments {
		name := att.FileName()
		raw := att.Payload()
		if name == "" || raw == "" {
			continue
		}
		name = filepath.Base(name)
		if name == "." || name == string(filepath.Separator) {
			zap.L().Warn("attachment name is not a file name", zap.String("name", att.FileName()))
			continue
		}
		dest := filepath.Join(dir, name)

		var err error
		switch p := ParsePayload(raw).(type) {
		case DataURIPayload:
			err = writeDataURI(dest, p)
			if err == nil {
				zap.L().Info("saved base64 attachment", zap.String("file", name), zap.String("media_type", p.MediaType))
			}
		case RemoteURLPayload:
			err = m.download(ctx, p.URL, dest)
			if err == nil {
				zap.L().Info("downloaded attachment", zap.String("file", name), zap.String("url", p.URL))
			}
		case UnknownPayload:
			zap.L().Warn("unknown attachment format, skipping", zap.String("file", name))
			continue
		}
		if err != nil {
			zap.L().Error("failed to save attachment", zap.String("file", name), zap.Error(err))
			continue
		}

		fi, err := os.Stat(dest)
		if err != nil {
			zap.L().Error("saved attachment vanished", zap.String("file", name), zap.Error(err))
			continue
		}
		saved = append(saved, SavedAttachment{Name: name, Path: dest, Size: fi.Size(), Text: IsTextFile(name)})
	}
	return saved
}

func writeDataURI(dest string, p DataURIPayload) error {
	clean := strings.NewReplacer("\n", "", "\r", "").Replace(p.Base64)
	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		// some senders drop the padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "="))
		if err != nil {
			return fmt.Errorf("decode base64: %w", err)
		}
	}
	if IsTextFile(dest) && !utf8.Valid(data) {
		zap.L().Warn("text attachment is not valid utf-8", zap.String("file", filepath.Base(dest)))
	}
	return os.WriteFile(dest, data, 0o644)
}

// download streams url into dest through a .part file renamed on success.
func (m *Materializer) download(ctx context.Context, url, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download failed, status: %s", resp.Status)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
