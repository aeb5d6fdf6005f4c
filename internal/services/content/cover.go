package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"cardsync/internal/cards"
	"cardsync/internal/logging"
	"cardsync/internal/services"
)

const (
	stageCover = "cover"

	maxCoverBytes    = 20 << 20
	defaultImageType = "image/png"
)

var imageMimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

type coverMedia struct {
	MediaURL string `json:"mediaUrl"`
}

type coverResponse struct {
	CoverImage *coverMedia `json:"coverImage"`
	MediaURL   string      `json:"mediaUrl"`
}

func (r coverResponse) url() string {
	if r.CoverImage != nil && r.CoverImage.MediaURL != "" {
		return r.CoverImage.MediaURL
	}
	return r.MediaURL
}

// UploadCover posts the image at path as card artwork and returns the hosted
// cover reference.
func (c *Client) UploadCover(ctx context.Context, path string) (cards.Cover, error) {
	name := filepath.Base(path)
	info, err := os.Stat(path)
	if err != nil {
		return cards.Cover{}, services.Wrap(services.ErrValidation, stageCover, name, "stat cover image", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return cards.Cover{}, services.Wrap(services.ErrValidation, stageCover, name, "cover image is empty or not a file", nil)
	}
	if info.Size() > maxCoverBytes {
		return cards.Cover{}, services.Wrap(services.ErrValidation, stageCover, name, fmt.Sprintf("cover image exceeds %d bytes", maxCoverBytes), nil)
	}
	image, err := os.ReadFile(path)
	if err != nil {
		return cards.Cover{}, services.Wrap(services.ErrValidation, stageCover, name, "read cover image", err)
	}

	body, contentType, err := coverForm(name, image)
	if err != nil {
		return cards.Cover{}, err
	}
	c.logger.Info("uploading cover image",
		logging.String(logging.FieldPath, path),
		logging.Int64("bytes", info.Size()),
	)
	data, err := c.doRaw(ctx, http.MethodPost, c.endpoint(nil, "media", "upload", "image"), body, contentType)
	if err != nil {
		return cards.Cover{}, services.Wrap(services.ErrUpload, stageCover, name, "upload cover image", err)
	}

	var resp coverResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return cards.Cover{}, services.Wrap(services.ErrUpload, stageCover, name, "decode cover response", err)
	}
	if resp.url() == "" {
		return cards.Cover{}, services.Wrap(services.ErrUpload, stageCover, name, "cover response carried no media URL", nil)
	}
	return cards.Cover{ImageURL: resp.url()}, nil
}

func coverForm(name string, image []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", imageMimeType(name))
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("build cover form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("build cover form: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("build cover form: %w", err)
	}
	return buf.Bytes(), form.FormDataContentType(), nil
}

func imageMimeType(name string) string {
	if known, ok := imageMimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return known
	}
	return defaultImageType
}
