// Package metricstore persists aggregated metric buckets to OpenSearch
// in daily indices. Liveness never depends on this store; a down
// metrics backend degrades dashboards only.
package metricstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/storepulse-systems/storepulse/ingest/internal/events"
)

// Sink receives decoded metric buckets.
type Sink interface {
	Store(ctx context.Context, receiptID string, bucket *events.MetricBucketPayload) error
}

// Config holds OpenSearch connection configuration.
type Config struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	IndexPrefix   string
}

// DefaultConfig returns sensible defaults for OpenSearch configuration.
func DefaultConfig() Config {
	return Config{
		URL:           "https://localhost:9200",
		Username:      "admin",
		Password:      "admin",
		TLSSkipVerify: true,
		IndexPrefix:   "storepulse-metrics",
	}
}

// Client writes metric buckets to OpenSearch.
type Client struct {
	osClient *opensearch.Client
	config   Config
}

// NewClient creates an OpenSearch metric sink.
func NewClient(cfg Config) (*Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &Client{osClient: client, config: cfg}, nil
}

// Store indexes one metric bucket document. The receipt id doubles as
// the document id so a replayed bucket overwrites rather than
// duplicates, even if it slips past the ledger.
func (c *Client) Store(ctx context.Context, receiptID string, bucket *events.MetricBucketPayload) error {
	doc := map[string]interface{}{
		"receipt_id":   receiptID,
		"store_id":     bucket.StoreID,
		"camera_id":    bucket.CameraID,
		"bucket_start": bucket.BucketStart,
		"bucket_end":   bucket.BucketEnd,
		"metrics":      bucket.Metrics,
		"@timestamp":   time.Now().UTC(),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal metric document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      c.indexFor(bucket.BucketStart),
		DocumentID: receiptID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.osClient)
	if err != nil {
		return fmt.Errorf("index metric document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch returned status %s", res.Status())
	}

	return nil
}

func (c *Client) indexFor(bucketStart time.Time) string {
	if bucketStart.IsZero() {
		bucketStart = time.Now().UTC()
	}
	return fmt.Sprintf("%s-%s", c.config.IndexPrefix, bucketStart.UTC().Format("2006.01.02"))
}

// NoOpSink drops metric buckets, for deployments without OpenSearch.
type NoOpSink struct{}

func (NoOpSink) Store(context.Context, string, *events.MetricBucketPayload) error {
	return nil
}
