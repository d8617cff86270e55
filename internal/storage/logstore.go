package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/gatewarden/gatewarden/internal/models"
)

// OpenSearchConfig holds log store connection settings.
type OpenSearchConfig struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	IndexPrefix   string
}

// OpenSearchLogStore bulk-indexes log records into daily indices named
// <prefix>-logs-YYYY.MM.DD.
type OpenSearchLogStore struct {
	client *opensearch.Client
	config OpenSearchConfig
}

// NewOpenSearchLogStore creates a log store client.
func NewOpenSearchLogStore(cfg OpenSearchConfig) (*OpenSearchLogStore, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &OpenSearchLogStore{client: client, config: cfg}, nil
}

type indexedLog struct {
	SourceID  string         `json:"source_id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"@timestamp"`
	Context   map[string]any `json:"context,omitempty"`
	Exception string         `json:"exception,omitempty"`
}

// WriteLogs indexes the batch through the bulk indexer. Any failed item
// makes the whole call a write error; the batch is not atomic on the
// OpenSearch side and partially indexed records are acceptable.
func (s *OpenSearchLogStore) WriteLogs(ctx context.Context, sourceID string, records []models.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client: s.client,
		Index:  s.indexName(time.Now()),
	})
	if err != nil {
		return fmt.Errorf("%w: create bulk indexer: %v", models.ErrWriteError, err)
	}

	var failed atomic.Int64
	for _, rec := range records {
		doc := indexedLog{
			SourceID:  sourceID,
			Level:     rec.Level,
			Message:   rec.Message,
			Timestamp: rec.Timestamp,
			Context:   rec.Context,
			Exception: rec.Exception,
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("%w: marshal log record: %v", models.ErrWriteError, err)
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action: "index",
			Body:   bytes.NewReader(data),
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				failed.Add(1)
			},
		})
		if err != nil {
			return fmt.Errorf("%w: add to bulk indexer: %v", models.ErrWriteError, err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("%w: flush bulk indexer: %v", models.ErrWriteError, err)
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%w: %d of %d log records failed to index", models.ErrWriteError, n, len(records))
	}
	return nil
}

// Ping reports cluster reachability for health checks.
func (s *OpenSearchLogStore) Ping(ctx context.Context) error {
	res, err := s.client.Info(s.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("opensearch unreachable: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("opensearch returned %s", res.Status())
	}
	return nil
}

func (s *OpenSearchLogStore) indexName(t time.Time) string {
	return fmt.Sprintf("%s-logs-%s", s.config.IndexPrefix, t.UTC().Format("2006.01.02"))
}
