package duckdb

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/querypilot/querypilot/internal/storage"
)

func spoolObject(ctx context.Context, store storage.ObjectStore, key, path string) (int64, error) {
	object, err := store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = object.Close() }()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create local dataset file: %w", err)
	}
	written, copyErr := io.Copy(file, object)
	closeErr := file.Close()
	if copyErr != nil {
		return written, fmt.Errorf("copy object %q: %w", key, copyErr)
	}
	if closeErr != nil {
		return written, fmt.Errorf("close local dataset file: %w", closeErr)
	}
	if written == 0 {
		return 0, fmt.Errorf("object %q is empty", key)
	}
	return written, nil
}
