// Package gcs persists issue datasets as JSON objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// DefaultObjectTemplate names objects under the configured prefix.
const DefaultObjectTemplate = "{journal}/{year}/{issue}.json"

// Config captures the parameters required to locate datasets in GCS.
type Config struct {
	Bucket string
	Prefix string
	// ObjectTemplate defaults to DefaultObjectTemplate.
	ObjectTemplate string
}

// DatasetStore reads and writes dataset objects in one bucket.
type DatasetStore struct {
	client   *storage.Client
	bucket   string
	prefix   string
	template string
}

// New creates a GCS-backed dataset store.
func New(client *storage.Client, cfg Config) (*DatasetStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.ObjectTemplate == "" {
		cfg.ObjectTemplate = DefaultObjectTemplate
	}
	return &DatasetStore{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		template: cfg.ObjectTemplate,
	}, nil
}

// ObjectName returns the object path for ref.
func (s *DatasetStore) ObjectName(ref harvest.DatasetRef) string {
	name := ref.Expand(s.template)
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Load downloads the dataset for ref. A missing object reports found=false.
func (s *DatasetStore) Load(ctx context.Context, ref harvest.DatasetRef) (harvest.IssueDataset, bool, error) {
	name := s.ObjectName(ref)
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open object %s: %w", name, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("read object %s: %w", name, err)
	}
	ds, err := harvest.DecodeDataset(data)
	if err != nil {
		return nil, false, fmt.Errorf("object %s: %w", name, err)
	}
	return ds, true, nil
}

// Save uploads ds and returns a gs:// URI. GCS finalizes an object only when
// the upload completes, so readers never see a partial dataset.
func (s *DatasetStore) Save(ctx context.Context, ref harvest.DatasetRef, ds harvest.IssueDataset) (string, error) {
	data, err := harvest.EncodeDataset(ds)
	if err != nil {
		return "", err
	}
	name := s.ObjectName(ref)
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json; charset=utf-8"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
