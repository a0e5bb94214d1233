package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/desertthunder/qmx/internal/shared"
)

// Fingerprinter yields the device fingerprint (QIMEI36) sent with every signed request.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, version string) (string, error)
}

// FingerprintFunc adapts a function to [Fingerprinter].
type FingerprintFunc func(ctx context.Context, version string) (string, error)

func (f FingerprintFunc) Fingerprint(ctx context.Context, version string) (string, error) {
	return f(ctx, version)
}

// LocalFingerprinter derives a fresh 36-character fingerprint offline from the
// client version and a random device id.
type LocalFingerprinter struct{}

func (LocalFingerprinter) Fingerprint(_ context.Context, version string) (string, error) {
	if version == "" {
		return "", fmt.Errorf("%w: empty client version", shared.ErrInvalidArgument)
	}
	sum := md5.Sum([]byte(version + "|" + shared.GenerateID()))
	digest := hex.EncodeToString(sum[:])
	return digest + digest[:4], nil
}
