// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps blobs as objects in one bucket.
type GCSStore struct {
	storageClient *storage.Client
	bucketName    string
	prefix        string
}

// NewGCSStore opens a storage client.
//
// # Inputs
//
//   - bucketName: Target bucket. Required.
//   - prefix: Optional object name prefix, e.g. "documents/".
//   - saKeyPath: Service account key file. Empty uses application default
//     credentials.
func NewGCSStore(ctx context.Context, bucketName, prefix, saKeyPath string) (*GCSStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("GCS bucket name not set")
	}
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	slog.Info("Initialized GCS blob store", "bucket", bucketName, "prefix", prefix)
	return &GCSStore{storageClient: storageClient, bucketName: bucketName, prefix: prefix}, nil
}

func (g *GCSStore) object(key string) *storage.ObjectHandle {
	return g.storageClient.Bucket(g.bucketName).Object(g.prefix + key)
}

func (g *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	writer := g.object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write GCS object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return nil
}

func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := g.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %s: %w", key, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	err := g.object(key).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return fmt.Errorf("failed to delete GCS object %s: %w", key, err)
}

func (g *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat GCS object %s: %w", key, err)
	}
	return true, nil
}

func (g *GCSStore) Close() error {
	return g.storageClient.Close()
}

var _ Store = (*GCSStore)(nil)
