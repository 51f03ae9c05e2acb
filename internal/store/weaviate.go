package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	wvmodels "github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/models"
)

// DefaultQueryLimit bounds GraphQL queries; it matches Weaviate's default QUERY_MAXIMUM_RESULTS.
const DefaultQueryLimit = 10000

const listPageSize = 100

// WeaviateOptions holds connection settings for a Weaviate instance.
type WeaviateOptions struct {
	Host         string // URL or host[:port]; scheme defaults to https
	APIKey       string
	OpenAIAPIKey string
	QueryLimit   int
}

// WeaviateStore implements RecordStore on Weaviate. Vectors are computed
// server-side by the collection's vectorizer; the OpenAI key is forwarded as a header.
//
// Property names of each class are cached (lower-cased) so inserts can add
// missing text properties and filters on undeclared properties match nothing.
type WeaviateStore struct {
	client     *weaviate.Client
	batchSize  int
	queryLimit int
	logger     *zap.Logger

	mu    sync.Mutex
	props map[string]map[string]struct{}
}

// NewWeaviateStore connects to Weaviate and checks that it is ready.
func NewWeaviateStore(ctx context.Context, wo WeaviateOptions, opts ...Option) (*WeaviateStore, error) {
	o := buildOptions(opts)
	scheme, host, err := splitHost(wo.Host)
	if err != nil {
		return nil, err
	}
	cfg := weaviate.Config{
		Host:    host,
		Scheme:  scheme,
		Headers: map[string]string{},
	}
	if wo.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: wo.APIKey}
	}
	if wo.OpenAIAPIKey != "" {
		cfg.Headers["X-OpenAI-Api-Key"] = wo.OpenAIAPIKey
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("weaviate: error creating client: %w", err)
	}

	ready, err := client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: weaviate ready check: %w", models.ErrStoreQuery, err)
	}
	if !ready {
		return nil, fmt.Errorf("%w: weaviate at %s is not ready", models.ErrStoreQuery, host)
	}

	limit := wo.QueryLimit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	o.logger.Debug("connected to weaviate", zap.String("host", host), zap.String("scheme", scheme))
	return &WeaviateStore{
		client:     client,
		batchSize:  o.batchSize,
		queryLimit: limit,
		logger:     o.logger,
		props:      make(map[string]map[string]struct{}),
	}, nil
}

// splitHost accepts "https://host:port" or a bare "host:port".
func splitHost(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("%w: weaviate host is empty", models.ErrConfig)
	}
	if !strings.Contains(raw, "://") {
		return "https", strings.TrimSuffix(raw, "/"), nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("%w: invalid weaviate host %q", models.ErrConfig, raw)
	}
	return u.Scheme, u.Host, nil
}

// SchemaExists implements RecordStore. Only a 404 means the class is absent;
// any other failure is returned as ErrStoreQuery.
func (w *WeaviateStore) SchemaExists(ctx context.Context, collection string) (bool, error) {
	props, err := w.classProperties(ctx, collection, true)
	if err != nil {
		return false, err
	}
	return props != nil, nil
}

// classProperties returns the lower-cased property names of collection, or nil
// when the class does not exist. With refresh unset a cached set is returned.
func (w *WeaviateStore) classProperties(ctx context.Context, collection string, refresh bool) (map[string]struct{}, error) {
	if !refresh {
		w.mu.Lock()
		props, ok := w.props[collection]
		w.mu.Unlock()
		if ok {
			return props, nil
		}
	}
	class, err := w.client.Schema().ClassGetter().WithClassName(collection).Do(ctx)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			w.forget(collection)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get class %s: %w", models.ErrStoreQuery, collection, err)
	}
	if class == nil {
		w.forget(collection)
		return nil, nil
	}
	props := make(map[string]struct{}, len(class.Properties))
	for _, p := range class.Properties {
		props[strings.ToLower(p.Name)] = struct{}{}
	}
	w.mu.Lock()
	w.props[collection] = props
	w.mu.Unlock()
	return props, nil
}

// missingProperties returns the names the class does not declare. A miss
// against the cache is confirmed with a fresh read before it is reported.
func (w *WeaviateStore) missingProperties(ctx context.Context, collection string, names []string) ([]string, error) {
	props, err := w.classProperties(ctx, collection, false)
	if err != nil {
		return nil, err
	}
	missing := absentNames(props, names)
	if props != nil && len(missing) > 0 {
		props, err = w.classProperties(ctx, collection, true)
		if err != nil {
			return nil, err
		}
		missing = absentNames(props, names)
	}
	if props == nil {
		return nil, fmt.Errorf("%w: collection %s", models.ErrSchemaNotFound, collection)
	}
	return missing, nil
}

func absentNames(props map[string]struct{}, names []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		key := strings.ToLower(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := props[key]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func (w *WeaviateStore) remember(collection string, names []string) {
	if len(names) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	old, ok := w.props[collection]
	if !ok {
		return
	}
	props := make(map[string]struct{}, len(old)+len(names))
	for k := range old {
		props[k] = struct{}{}
	}
	for _, n := range names {
		props[strings.ToLower(n)] = struct{}{}
	}
	w.props[collection] = props
}

func (w *WeaviateStore) forget(collection string) {
	w.mu.Lock()
	delete(w.props, collection)
	w.mu.Unlock()
}

// CreateSchema implements RecordStore.
func (w *WeaviateStore) CreateSchema(ctx context.Context, schema *config.Schema) error {
	if schema == nil {
		return fmt.Errorf("%w: schema is required", models.ErrInvalidInput)
	}
	raw, err := json.Marshal(schema.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	var class wvmodels.Class
	if err := json.Unmarshal(raw, &class); err != nil {
		return fmt.Errorf("%w: schema is not a valid class: %w", models.ErrInvalidInput, err)
	}
	class.Class = schema.Class
	if err := w.client.Schema().ClassCreator().WithClass(&class).Do(ctx); err != nil {
		return fmt.Errorf("%w: create class %s: %w", models.ErrStoreWrite, schema.Class, err)
	}
	w.forget(schema.Class)
	w.logger.Info("collection created", zap.String("collection", schema.Class))
	return nil
}

// NewBatch implements RecordStore.
func (w *WeaviateStore) NewBatch(collection string) Batch {
	return newBufferedBatch(collection, w.batchSize, w.insert)
}

func (w *WeaviateStore) insert(ctx context.Context, collection string, records []pendingRecord) error {
	if err := w.addProperties(ctx, collection, records); err != nil {
		return err
	}
	objects := make([]*wvmodels.Object, 0, len(records))
	for _, r := range records {
		objects = append(objects, &wvmodels.Object{
			Class:      collection,
			ID:         strfmt.UUID(r.ID),
			Properties: textProperties(r.Properties),
		})
	}
	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		if statusCode(err) == http.StatusNotFound || statusCode(err) == http.StatusUnprocessableEntity {
			if ok, serr := w.SchemaExists(ctx, collection); serr == nil && !ok {
				return fmt.Errorf("%w: collection %s", models.ErrSchemaNotFound, collection)
			}
		}
		return fmt.Errorf("%w: batch of %d: %w", models.ErrStoreWrite, len(objects), err)
	}
	var msgs []string
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			msgs = append(msgs, e.Message)
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("%w: %d object errors: %s", models.ErrStoreWrite, len(msgs), strings.Join(msgs, "; "))
	}
	w.logger.Debug("batch flushed", zap.String("collection", collection), zap.Int("records", len(objects)))
	return nil
}

// addProperties declares every property the records carry that the class
// lacks, as text, so the batch does not depend on auto-schema.
func (w *WeaviateStore) addProperties(ctx context.Context, collection string, records []pendingRecord) error {
	var names []string
	for _, r := range records {
		for name := range r.Properties {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	missing, err := w.missingProperties(ctx, collection, names)
	if err != nil {
		return err
	}
	for _, name := range missing {
		err := w.client.Schema().PropertyCreator().
			WithClassName(collection).
			WithProperty(&wvmodels.Property{Name: name, DataType: []string{"text"}}).
			Do(ctx)
		if err != nil {
			w.forget(collection)
			return fmt.Errorf("%w: add property %s to %s: %w", models.ErrStoreWrite, name, collection, err)
		}
		w.logger.Info("property added", zap.String("collection", collection), zap.String("property", name))
	}
	w.remember(collection, missing)
	return nil
}

// filterFields returns the property names the filters reference.
func filterFields(conds []models.Filter) []string {
	out := make([]string, 0, len(conds))
	for _, f := range conds {
		out = append(out, f.Field)
	}
	return out
}

// textProperties flattens structured values to JSON text so they fit text properties.
func textProperties(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		switch v.(type) {
		case string, nil:
			out[k] = v
		default:
			out[k] = models.ContentString(v)
		}
	}
	return out
}

// GetByID implements RecordStore.
func (w *WeaviateStore) GetByID(ctx context.Context, collection, id string) (*models.StoredObject, error) {
	objs, err := w.client.Data().ObjectsGetter().WithClassName(collection).WithID(id).Do(ctx)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: record %s in %s", models.ErrNotFound, id, collection)
		}
		return nil, fmt.Errorf("%w: get record %s: %w", models.ErrStoreQuery, id, err)
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("%w: record %s in %s", models.ErrNotFound, id, collection)
	}
	return toStoredObject(objs[0]), nil
}

// ListAll implements RecordStore, paging with the object cursor until exhausted.
func (w *WeaviateStore) ListAll(ctx context.Context, collection string) ([]*models.StoredObject, error) {
	exists, err := w.SchemaExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: collection %s", models.ErrSchemaNotFound, collection)
	}

	out := make([]*models.StoredObject, 0)
	after := ""
	for {
		getter := w.client.Data().ObjectsGetter().WithClassName(collection).WithLimit(listPageSize)
		if after != "" {
			getter = getter.WithAfter(after)
		}
		page, err := getter.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %w", models.ErrStoreQuery, collection, err)
		}
		for _, o := range page {
			out = append(out, toStoredObject(o))
		}
		if len(page) < listPageSize {
			break
		}
		after = string(page[len(page)-1].ID)
	}
	return out, nil
}

// Query implements RecordStore using a GraphQL Get with a where filter.
func (w *WeaviateStore) Query(ctx context.Context, collection string, fields []string, conds []models.Filter) ([]map[string]interface{}, error) {
	for _, f := range fields {
		if !models.ValidFieldName(f) {
			return nil, fmt.Errorf("%w: invalid field %q", models.ErrInvalidInput, f)
		}
	}
	where, err := whereFilter(conds)
	if err != nil {
		return nil, err
	}
	missing, err := w.missingProperties(ctx, collection, append(filterFields(conds), fields...))
	if err != nil {
		return nil, err
	}
	undeclared := make(map[string]struct{}, len(missing))
	for _, n := range missing {
		undeclared[strings.ToLower(n)] = struct{}{}
	}
	for _, f := range conds {
		if _, ok := undeclared[strings.ToLower(f.Field)]; ok {
			return []map[string]interface{}{}, nil
		}
	}
	gqlFields := make([]graphql.Field, 0, len(fields))
	for _, f := range fields {
		if _, ok := undeclared[strings.ToLower(f)]; !ok {
			gqlFields = append(gqlFields, graphql.Field{Name: f})
		}
	}
	// A selection needs at least one field; the id is dropped from the rows.
	idOnly := len(gqlFields) == 0
	if idOnly {
		gqlFields = append(gqlFields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}})
	}
	resp, err := w.client.GraphQL().Get().
		WithClassName(collection).
		WithFields(gqlFields...).
		WithWhere(where).
		WithLimit(w.queryLimit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", models.ErrStoreQuery, collection, err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		msg := strings.Join(msgs, "; ")
		if strings.Contains(msg, "Cannot query field") && strings.Contains(msg, collection) {
			return nil, fmt.Errorf("%w: collection %s: %s", models.ErrSchemaNotFound, collection, msg)
		}
		return nil, fmt.Errorf("%w: query %s: %s", models.ErrStoreQuery, collection, msg)
	}
	rows := graphQLRows(resp.Data, collection)
	if idOnly {
		for _, row := range rows {
			delete(row, "_additional")
		}
	}
	return rows, nil
}

func graphQLRows(data map[string]wvmodels.JSONObject, collection string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0)
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return out
	}
	items, ok := get[collection].([]interface{})
	if !ok {
		return out
	}
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// DeleteWhere implements RecordStore. Weaviate caps how many objects one batch
// delete removes, so it repeats until nothing matches. A filter on a property
// the class does not declare matches nothing.
func (w *WeaviateStore) DeleteWhere(ctx context.Context, collection string, conds []models.Filter) (int64, error) {
	where, err := whereFilter(conds)
	if err != nil {
		return 0, err
	}
	missing, err := w.missingProperties(ctx, collection, filterFields(conds))
	if err != nil {
		return 0, err
	}
	if len(missing) > 0 {
		w.logger.Debug("filter on undeclared property", zap.String("collection", collection), zap.Strings("properties", missing))
		return 0, nil
	}
	var total int64
	for {
		resp, err := w.client.Batch().ObjectsBatchDeleter().
			WithClassName(collection).
			WithOutput("minimal").
			WithWhere(where).
			Do(ctx)
		if err != nil {
			return total, fmt.Errorf("%w: delete from %s: %w", models.ErrStoreDelete, collection, err)
		}
		if resp == nil || resp.Results == nil {
			return total, nil
		}
		total += resp.Results.Successful
		if resp.Results.Failed > 0 {
			return total, fmt.Errorf("%w: %d objects failed to delete from %s", models.ErrStoreDelete, resp.Results.Failed, collection)
		}
		if resp.Results.Matches == 0 || resp.Results.Successful == 0 {
			w.logger.Debug("records deleted", zap.String("collection", collection), zap.Int64("records", total))
			return total, nil
		}
	}
}

// Close is a no-op; the client holds no persistent connection.
func (w *WeaviateStore) Close() error {
	return nil
}

func whereFilter(conds []models.Filter) (*filters.WhereBuilder, error) {
	if err := models.ValidateFilters(conds); err != nil {
		return nil, err
	}
	operands := make([]*filters.WhereBuilder, 0, len(conds))
	for _, f := range conds {
		operands = append(operands, filters.Where().
			WithPath([]string{f.Field}).
			WithOperator(filters.Equal).
			WithValueText(f.Value))
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands), nil
}

func toStoredObject(o *wvmodels.Object) *models.StoredObject {
	obj := &models.StoredObject{ID: string(o.ID), Collection: o.Class}
	if o.CreationTimeUnix > 0 {
		obj.CreatedAt = time.UnixMilli(o.CreationTimeUnix).UTC()
	}
	if props, ok := o.Properties.(map[string]interface{}); ok {
		obj.Properties = props
	} else {
		obj.Properties = map[string]interface{}{}
	}
	return obj
}

func statusCode(err error) int {
	var clientErr *fault.WeaviateClientError
	if errors.As(err, &clientErr) {
		return clientErr.StatusCode
	}
	return 0
}
