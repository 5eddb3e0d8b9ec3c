// Package semantic owns every Qdrant operation: collection provisioning,
// point upserts, and similarity search.
package semantic

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/pkg/fn"
)

const service = "qdrant"

// DefaultLimit is the result count used when a search passes no limit.
const DefaultLimit = 12

// PointsAPI is the subset of pb.PointsClient the store uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// CollectionsAPI is the subset of pb.CollectionsClient the store uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	collection  string
	logger      *slog.Logger

	indexRetry fn.RetryOpts

	mu       sync.Mutex
	verified map[string]pb.Distance
}

// Option configures New.
type Option func(*dialOptions)

type dialOptions struct {
	apiKey string
}

// WithAPIKey authenticates every call with key and switches the connection
// to TLS.
func WithAPIKey(key string) Option {
	return func(o *dialOptions) { o.apiKey = key }
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
// Every provisioning, write and search call targets collection.
func New(addr, collection string, opts ...Option) (*VectorStore, error) {
	var o dialOptions
	for _, opt := range opts {
		opt(&o)
	}

	creds := insecure.NewCredentials()
	dial := []grpc.DialOption{}
	if o.apiKey != "" {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		dial = append(dial, grpc.WithUnaryInterceptor(apiKeyInterceptor(o.apiKey)))
	}
	dial = append(dial, grpc.WithTransportCredentials(creds))

	conn, err := grpc.NewClient(addr, dial...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a store over existing clients. Close is a no-op.
func NewWithClients(points PointsAPI, collections CollectionsAPI, collection string) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
		logger:      slog.Default().With("component", "vector-store"),
		indexRetry:  indexRetry(),
		verified:    make(map[string]pb.Distance),
	}
}

func indexRetry() fn.RetryOpts {
	r := fn.DefaultRetry
	r.Retryable = transient
	return r
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Collection returns the name of the collection the store targets.
func (v *VectorStore) Collection() string { return v.collection }

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

func (v *VectorStore) listCollections(ctx context.Context) ([]string, error) {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, domain.Upstream(service, "list collections", err)
	}
	names := make([]string, 0, len(list.GetCollections()))
	for _, c := range list.GetCollections() {
		names = append(names, c.GetName())
	}
	return names, nil
}

// EnsureCollection creates the store's collection with one full-text payload
// index per property if it does not exist yet. It reports whether a
// collection was created. An existing collection keeps its vector settings;
// only payload indexes missing from it are added, which completes a
// collection whose provisioning stopped after the create.
//
// The existence check and the create are not atomic; two processes
// provisioning the same new collection at once can both attempt the create.
func (v *VectorStore) EnsureCollection(ctx context.Context, schema domain.CollectionSchema) (bool, error) {
	name := v.collection
	if schema.Dimensions <= 0 {
		return false, domain.NewConfigError("EMBED_DIMENSIONS", domain.ErrInvalidValue)
	}
	props := schemaProperties(schema)

	existing, err := v.listCollections(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(existing, name) {
		missing, err := v.missingIndexes(ctx, name, props)
		if err != nil {
			return false, err
		}
		if len(missing) == 0 {
			v.logger.Debug("collection exists", "collection", name)
			return false, nil
		}
		v.logger.Warn("collection missing payload indexes", "collection", name, "fields", missing)
		return false, v.createTextIndexes(ctx, name, missing)
	}

	distance := toDistance(schema.Metric)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(schema.Dimensions),
					Distance: distance,
				},
			},
		},
	})
	if err != nil {
		return false, domain.Upstream(service, "create collection "+name, err)
	}
	if err := v.createTextIndexes(ctx, name, props); err != nil {
		return true, err
	}

	v.mu.Lock()
	v.verified[name] = distance
	v.mu.Unlock()
	v.logger.Info("collection created", "collection", name, "dimensions", schema.Dimensions, "distance", distance.String())
	return true, nil
}

// missingIndexes returns the fields of props that have no payload index on
// collection.
func (v *VectorStore) missingIndexes(ctx context.Context, collection string, props []string) ([]string, error) {
	info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err != nil {
		return nil, domain.Upstream(service, "get collection "+collection, err)
	}
	indexed := info.GetResult().GetPayloadSchema()
	var missing []string
	for _, p := range props {
		if _, ok := indexed[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// schemaProperties returns the text property followed by the sorted,
// de-duplicated metadata properties. The static dataset properties are
// always included.
func schemaProperties(schema domain.CollectionSchema) []string {
	meta := append(slices.Clone(schema.MetadataProperties), domain.PropDatasetName, domain.PropDatasetSplit)
	meta = slices.DeleteFunc(meta, func(p string) bool { return p == "" || p == schema.TextProperty })
	slices.Sort(meta)
	meta = slices.Compact(meta)
	if schema.TextProperty == "" {
		return meta
	}
	return append([]string{schema.TextProperty}, meta...)
}

func (v *VectorStore) createTextIndexes(ctx context.Context, collection string, fields []string) error {
	for _, f := range fields {
		if err := v.createTextIndex(ctx, collection, f); err != nil {
			return err
		}
	}
	return nil
}

// createTextIndex adds a full-text index on field. Transient failures are
// retried and an index that already exists counts as created.
func (v *VectorStore) createTextIndex(ctx context.Context, collection, field string) error {
	wait := true
	fieldType := pb.FieldType_FieldTypeText
	_, err := fn.Retry(ctx, v.indexRetry, func(ctx context.Context) fn.Result[struct{}] {
		_, err := v.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: collection,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      &fieldType,
		})
		if status.Code(err) == codes.AlreadyExists {
			err = nil
		}
		return fn.FromPair(struct{}{}, err)
	}).Unwrap()
	if err != nil {
		return domain.Upstream(service, "create index "+field, err)
	}
	return nil
}

// transient reports whether a gRPC failure is worth retrying.
func transient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

// Upsert stores records in the store's collection as one atomic batch.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: toPayload(r.Payload),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return domain.Upstream(service, fmt.Sprintf("upsert %d points", len(records)), err)
	}
	return nil
}

// InsertBatch implements ingest.BatchInserter.
func (v *VectorStore) InsertBatch(ctx context.Context, records []VectorRecord) (int, error) {
	if err := v.Upsert(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Insert implements ingest.Inserter.
func (v *VectorStore) Insert(ctx context.Context, record VectorRecord) error {
	return v.Upsert(ctx, []VectorRecord{record})
}

// describe returns the distance metric of collection, verifying on first
// use that it exists and has an unnamed vector configured.
func (v *VectorStore) describe(ctx context.Context, collection string) (pb.Distance, error) {
	v.mu.Lock()
	d, ok := v.verified[collection]
	v.mu.Unlock()
	if ok {
		return d, nil
	}

	info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err != nil {
		if status.Code(err) != codes.NotFound {
			return 0, domain.Upstream(service, "get collection "+collection, err)
		}
		existing, lerr := v.listCollections(ctx)
		if lerr != nil {
			return 0, lerr
		}
		return 0, &domain.NotFoundError{Collection: collection, Existing: existing}
	}

	vectors := info.GetResult().GetConfig().GetParams().GetVectorsConfig()
	switch {
	case vectors == nil:
		return 0, &domain.SchemaError{Collection: collection, Reason: "no vector configuration; similarity search is unavailable"}
	case vectors.GetParams() == nil:
		return 0, &domain.SchemaError{Collection: collection, Reason: "only named vectors are configured; an unnamed vector is required"}
	}

	d = vectors.GetParams().GetDistance()
	v.mu.Lock()
	v.verified[collection] = d
	v.mu.Unlock()
	return d, nil
}

// Search returns the nearest points to embedding in the store's collection,
// nearest first. limit <= 0 uses DefaultLimit. minCertainty > 0 is sent to
// Qdrant as a score threshold so weaker matches never come back; it is
// rejected with *domain.SchemaError on collections whose metric has no
// certainty.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, limit int, minCertainty float64) ([]domain.SearchResult, error) {
	distance, err := v.describe(ctx, v.collection)
	if err != nil {
		return nil, err
	}
	alias := aliasFor(distance)

	if limit <= 0 {
		limit = DefaultLimit
	}
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if minCertainty > 0 {
		if alias.threshold == nil {
			return nil, &domain.SchemaError{
				Collection: v.collection,
				Reason:     fmt.Sprintf("a certainty floor needs a cosine collection, this one uses %s", distance),
			}
		}
		th := alias.threshold(minCertainty)
		req.ScoreThreshold = &th
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, domain.Upstream(service, "search "+v.collection, err)
	}

	results := make([]domain.SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = alias.result(pointID(r.GetId()), r.GetScore(), fromPayload(r.GetPayload()))
	}
	v.logger.Debug("search complete", "collection", v.collection, "limit", limit, "results", len(results))
	return results, nil
}
