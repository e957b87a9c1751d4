package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// Addressor turns local files into store blobs.
type Addressor struct {
	Store        store.Store
	Encoding     EncodingMode
	MaxBlobBytes int64 // zero disables the local size check
}

// AddressFile uploads root/relPath as one blob and returns its hash. Every
// call creates a blob, even when identical content already exists. All
// failures match ErrContentUpload.
func (a *Addressor) AddressFile(ctx context.Context, root, relPath string) (object.Hash, error) {
	p := filepath.Join(root, filepath.FromSlash(relPath))
	info, err := os.Stat(p)
	if err != nil {
		return "", kindError(ErrContentUpload, fmt.Errorf("%s: %w", relPath, err))
	}
	if !info.Mode().IsRegular() {
		return "", kindError(ErrContentUpload, fmt.Errorf("%s: not a regular file", relPath))
	}
	if a.MaxBlobBytes > 0 && info.Size() > a.MaxBlobBytes {
		return "", kindError(ErrContentUpload, fmt.Errorf("%s: %w (%d bytes, limit %d)", relPath, store.ErrBlobTooLarge, info.Size(), a.MaxBlobBytes))
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return "", kindError(ErrContentUpload, fmt.Errorf("%s: %w", relPath, err))
	}
	return a.AddressBytes(ctx, relPath, data)
}

// AddressBytes uploads data as one blob. relPath only labels errors.
func (a *Addressor) AddressBytes(ctx context.Context, relPath string, data []byte) (object.Hash, error) {
	if a.MaxBlobBytes > 0 && int64(len(data)) > a.MaxBlobBytes {
		return "", kindError(ErrContentUpload, fmt.Errorf("%s: %w (%d bytes, limit %d)", relPath, store.ErrBlobTooLarge, len(data), a.MaxBlobBytes))
	}
	enc := a.Encoding.Select(data)
	if enc == object.EncodingUTF8 && !object.IsText(data) {
		return "", kindError(ErrContentUpload, fmt.Errorf("%s: %w: binary content on a text-only channel", relPath, store.ErrEncoding))
	}

	h, err := a.Store.CreateBlob(ctx, data, enc)
	if err != nil {
		return "", kindError(ErrContentUpload, fmt.Errorf("%s: %w", relPath, err))
	}
	klog.V(2).Infof("addressed %s as %s (%s, %d bytes)", relPath, h.Short(), enc, len(data))
	return h, nil
}
