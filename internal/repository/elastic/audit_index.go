package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"hr-auth-service/internal/client"
	"hr-auth-service/internal/models"
	"hr-auth-service/internal/util"
)

// AuditIndex mirrors audit records into Elasticsearch for free-text
// search. Indexing is best-effort: ClickHouse remains the source of
// truth and a failed index write never fails the gated action.
type AuditIndex interface {
	Index(ctx context.Context, record *models.AuditRecord) error
	Search(ctx context.Context, query string, limit int) ([]*models.AuditRecord, error)
	Purge(ctx context.Context, olderThan *time.Time) error
}

type auditIndex struct {
	client *client.ESClient
}

func NewAuditIndex(esClient *client.ESClient, logger *zap.Logger) AuditIndex {
	return &auditIndex{client: esClient}
}

func (a *auditIndex) Index(ctx context.Context, record *models.AuditRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      a.client.AuditIndex(),
		DocumentID: record.RecordID,
		Body:       bytes.NewReader(body),
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := req.Do(ctx, a.client.Client)
	if err != nil {
		return fmt.Errorf("failed to index audit record: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.IsError() {
		return fmt.Errorf("elasticsearch index returned %s", res.Status())
	}

	util.Debug("Audit record indexed",
		zap.String("record_id", record.RecordID))
	return nil
}

func (a *auditIndex) Search(ctx context.Context, query string, limit int) ([]*models.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	searchBody := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"actor_id", "action", "target_type", "target_id", "outcome", "detail"},
			},
		},
		"sort": []map[string]interface{}{
			{"created_at": map[string]string{"order": "desc"}},
		},
	}

	body, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	res, err := a.client.Client.Search(
		a.client.Client.Search.WithContext(ctx),
		a.client.Client.Search.WithIndex(a.client.AuditIndex()),
		a.client.Client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit records: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search returned %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.AuditRecord `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	records := make([]*models.AuditRecord, 0, len(parsed.Hits.Hits))
	for i := range parsed.Hits.Hits {
		record := parsed.Hits.Hits[i].Source
		records = append(records, &record)
	}
	return records, nil
}

// Purge mirrors a trail purge into the index so search results cannot
// resurrect purged records. The cutoff matches the ClickHouse delete:
// only records older than it are dropped; a nil cutoff clears the
// whole index.
func (a *auditIndex) Purge(ctx context.Context, olderThan *time.Time) error {
	var body []byte
	if olderThan == nil {
		body = []byte(`{"query":{"match_all":{}}}`)
	} else {
		query := map[string]interface{}{
			"query": map[string]interface{}{
				"range": map[string]interface{}{
					"created_at": map[string]string{
						"lt": olderThan.UTC().Format(time.RFC3339Nano),
					},
				},
			},
		}
		encoded, err := json.Marshal(query)
		if err != nil {
			return fmt.Errorf("failed to encode purge query: %w", err)
		}
		body = encoded
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	res, err := a.client.Client.DeleteByQuery(
		[]string{a.client.AuditIndex()},
		bytes.NewReader(body),
		a.client.Client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to purge audit index: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.IsError() {
		return fmt.Errorf("elasticsearch delete-by-query returned %s", res.Status())
	}

	util.Warn("Audit search index purged",
		zap.Bool("full_purge", olderThan == nil))
	return nil
}
