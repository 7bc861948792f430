// Package search indexes chat messages into Elasticsearch and runs
// guard-scoped full-text queries over them. The database stays the
// source of truth; the index is best-effort.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/vkotelev/nearchat/internal/models"
)

const Index = "messages"

// IndexMessage writes one message document keyed by its id.
func IndexMessage(ctx context.Context, es *elasticsearch.Client, index string, msg models.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("index message: %w", err)
	}

	res, err := es.Index(
		index,
		bytes.NewReader(body),
		es.Index.WithContext(ctx),
		es.Index.WithDocumentID(strconv.FormatUint(uint64(msg.ID), 10)),
	)
	if err != nil {
		return fmt.Errorf("index message: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index message: %s", res.String())
	}
	return nil
}

// Search runs a fuzzy match over message content, scoped to one chat.
func Search(ctx context.Context, es *elasticsearch.Client, index string, chatID uint, query string, from, size int) (int64, []models.Message, error) {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"content": map[string]interface{}{
							"query":     query,
							"fuzziness": "AUTO",
						},
					},
				},
				"filter": map[string]interface{}{
					"term": map[string]interface{}{"chat_id": chatID},
				},
			},
		},
		"from": from,
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, fmt.Errorf("search: encode query: %w", err)
	}

	res, err := es.Search(
		es.Search.WithContext(ctx),
		es.Search.WithIndex(index),
		es.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, nil, fmt.Errorf("search: %s", res.String())
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.Message `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, nil, fmt.Errorf("search: decode response: %w", err)
	}

	msgs := make([]models.Message, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		msgs[i] = hit.Source
	}
	return r.Hits.Total.Value, msgs, nil
}
