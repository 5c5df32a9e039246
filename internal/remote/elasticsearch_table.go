package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"submission-sync/internal/common/errors"
	"submission-sync/internal/models"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	esScrollKeepAlive = time.Minute
	esPageSize        = 500
)

// ElasticsearchTable keeps one document per row. The document id is the
// row's id column, so creating an existing row is detected by the server
// instead of producing a second document.
type ElasticsearchTable struct {
	transport esapi.Transport
	tokens    TokenProvider
	idColumn  string
	refresh   string
}

type ElasticsearchTableConfig struct {
	IDColumn string
	// Refresh is passed to write requests ("true", "false", "wait_for").
	Refresh string
}

// NewElasticsearchTable creates a table over transport, normally an
// *elasticsearch.Client. tokens may be nil when the cluster does not expect
// a bearer token.
func NewElasticsearchTable(transport esapi.Transport, tokens TokenProvider, cfg ElasticsearchTableConfig) *ElasticsearchTable {
	if cfg.IDColumn == "" {
		cfg.IDColumn = ColumnRequestID
	}
	if cfg.Refresh == "" {
		cfg.Refresh = "wait_for"
	}
	return &ElasticsearchTable{
		transport: transport,
		tokens:    tokens,
		idColumn:  cfg.IDColumn,
		refresh:   cfg.Refresh,
	}
}

func (t *ElasticsearchTable) AppendRow(ctx context.Context, table string, row Row) error {
	id, ok := row.Get(t.idColumn)
	if !ok || id == "" {
		return fmt.Errorf("%w: row has no %s", errors.ErrSchemaMismatch, t.idColumn)
	}
	body, err := json.Marshal(rowDocument(row))
	if err != nil {
		return fmt.Errorf("%w: encode row: %v", errors.ErrSchemaMismatch, err)
	}

	res, err := t.perform(ctx, "append row", func(header http.Header) esapi.Request {
		return esapi.CreateRequest{
			Index:      table,
			DocumentID: id,
			Body:       bytes.NewReader(body),
			Refresh:    t.refresh,
			Header:     header,
		}
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	// The row is already there.
	if res.StatusCode == http.StatusConflict {
		return nil
	}
	if res.IsError() {
		return statusError("append row", res)
	}
	return nil
}

func (t *ElasticsearchTable) ExistingIDs(ctx context.Context, table, idColumn string) (map[string]struct{}, error) {
	query, err := json.Marshal(map[string]interface{}{
		"size":    esPageSize,
		"_source": []string{idColumn},
		"query":   map[string]interface{}{"match_all": map[string]interface{}{}},
		"sort":    []string{"_doc"},
	})
	if err != nil {
		return nil, err
	}

	res, err := t.perform(ctx, "scan ids", func(header http.Header) esapi.Request {
		return esapi.SearchRequest{
			Index:  []string{table},
			Body:   bytes.NewReader(query),
			Scroll: esScrollKeepAlive,
			Header: header,
		}
	})
	if err != nil {
		return nil, err
	}

	ids := map[string]struct{}{}
	// A table that was never written to has no rows yet.
	if res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return ids, nil
	}

	scrollID := ""
	defer func() {
		if scrollID != "" {
			t.clearScroll(scrollID)
		}
	}()

	for {
		page, err := decodePage("scan ids", res)
		if err != nil {
			return nil, err
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
		if len(page.Hits.Hits) == 0 {
			return ids, nil
		}
		for _, hit := range page.Hits.Hits {
			id := hit.ID
			if v, ok := hit.Source[idColumn]; ok {
				id = fmt.Sprint(v)
			}
			if id != "" {
				ids[id] = struct{}{}
			}
		}
		if scrollID == "" {
			return ids, nil
		}

		next, err := json.Marshal(map[string]string{
			"scroll":    esScrollKeepAlive.String(),
			"scroll_id": scrollID,
		})
		if err != nil {
			return nil, err
		}
		res, err = t.perform(ctx, "scan ids", func(header http.Header) esapi.Request {
			return esapi.ScrollRequest{Body: bytes.NewReader(next), Header: header}
		})
		if err != nil {
			return nil, err
		}
	}
}

func (t *ElasticsearchTable) UpdateCells(ctx context.Context, table, idColumn, id string, cells map[string]string) error {
	body, err := json.Marshal(map[string]interface{}{"doc": cells})
	if err != nil {
		return fmt.Errorf("%w: encode cells: %v", errors.ErrSchemaMismatch, err)
	}

	res, err := t.perform(ctx, "update cells", func(header http.Header) esapi.Request {
		return esapi.UpdateRequest{
			Index:      table,
			DocumentID: id,
			Body:       bytes.NewReader(body),
			Refresh:    t.refresh,
			Header:     header,
		}
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return statusError("update cells", res)
	}
	return nil
}

// perform sends the request built by build. An auth rejection is retried
// once with a freshly issued token.
func (t *ElasticsearchTable) perform(ctx context.Context, op string, build func(http.Header) esapi.Request) (*esapi.Response, error) {
	forceRefresh := false
	for attempt := 0; ; attempt++ {
		header := http.Header{}
		if t.tokens != nil {
			token, err := t.tokens.Token(ctx, forceRefresh)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			header.Set("Authorization", "Bearer "+token)
		}

		res, err := build(header).Do(ctx, t.transport)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errors.ErrTransient, op, err)
		}
		unauthorized := res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden
		if unauthorized && t.tokens != nil && attempt == 0 {
			res.Body.Close()
			forceRefresh = true
			continue
		}
		return res, nil
	}
}

func (t *ElasticsearchTable) clearScroll(scrollID string) {
	body, err := json.Marshal(map[string][]string{"scroll_id": {scrollID}})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := t.perform(ctx, "clear scroll", func(header http.Header) esapi.Request {
		return esapi.ClearScrollRequest{Body: bytes.NewReader(body), Header: header}
	})
	if err == nil {
		res.Body.Close()
	}
}

type searchPage struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID     string                 `json:"_id"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func decodePage(op string, res *esapi.Response) (*searchPage, error) {
	defer res.Body.Close()
	if res.IsError() {
		return nil, statusError(op, res)
	}
	var page searchPage
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %v", errors.ErrTransient, op, err)
	}
	return &page, nil
}

// statusError maps an error response onto the remote error classes.
func statusError(op string, res *esapi.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	detail := fmt.Sprintf("%s: %s %s", op, res.Status(), strings.TrimSpace(string(raw)))

	switch code := res.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", errors.ErrUnauthorized, detail)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", errors.ErrNotFound, detail)
	case code == http.StatusConflict || code == http.StatusLocked:
		return fmt.Errorf("%w: %s", errors.ErrLocked, detail)
	case code == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", errors.ErrSchemaMismatch, detail)
	default:
		return fmt.Errorf("%w: %s", errors.ErrTransient, detail)
	}
}

// rowDocument keeps the column order of row in the stored document.
func rowDocument(row Row) models.Fields {
	doc := make(models.Fields, 0, len(row.Columns))
	for i, c := range row.Columns {
		if i < len(row.Values) {
			doc = append(doc, models.Field{Name: c, Value: row.Values[i]})
		}
	}
	return doc
}
