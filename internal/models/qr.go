package models

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/qmx/internal/shared"
)

// QRLoginType selects the login provider.
type QRLoginType string

const (
	QRLoginQQ     QRLoginType = "qq"
	QRLoginWX     QRLoginType = "wx"
	QRLoginMobile QRLoginType = "mobile"
)

// ParseQRLoginType maps a user-supplied provider name onto a [QRLoginType].
func ParseQRLoginType(s string) (QRLoginType, error) {
	switch t := QRLoginType(strings.ToLower(strings.TrimSpace(s))); t {
	case QRLoginQQ, QRLoginWX, QRLoginMobile:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", shared.ErrUnsupportedQRType, s)
	}
}

// QRArtifact is the image and opaque identifier for one login attempt.
//
// Identifier is a qrsig cookie for [QRLoginQQ], a UUID for [QRLoginWX] and a server-issued
// QR code id for [QRLoginMobile]; it must only be handed back to the flow that produced it.
type QRArtifact struct {
	Data       []byte
	MimeType   string
	Type       QRLoginType
	Identifier string
}

// Save writes the image into dir as "{type}-{uuid}{ext}" and returns the file path.
func (q *QRArtifact) Save(dir string) (string, error) {
	if len(q.Data) == 0 {
		return "", fmt.Errorf("%w: empty QR image", shared.ErrInvalidInput)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create QR directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s%s", q.Type, shared.GenerateID(), q.extension()))
	if err := os.WriteFile(path, q.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write QR image: %w", err)
	}
	return path, nil
}

func (q *QRArtifact) extension() string {
	switch q.MimeType {
	case "image/png", "":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	if exts, err := mime.ExtensionsByType(q.MimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".png"
}
