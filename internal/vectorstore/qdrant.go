package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/mvp-joe/code-indexer/internal/logging"
)

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost"
	Host string
	// Port is the gRPC port, not the HTTP one. Default: 6334
	Port   int
	UseTLS bool
	APIKey string

	// MaxMessageSize bounds gRPC messages in bytes. Default: 50MB
	MaxMessageSize int
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	// RetryAttempts is the number of retries for transient failures. Default: 3
	RetryAttempts int
	// RetryBackoff is the first retry delay; it doubles each attempt. Default: 500ms
	RetryBackoff time.Duration
}

// DefaultQdrantConfig returns defaults for a local Qdrant.
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:           "localhost",
		Port:           6334,
		MaxMessageSize: 50 * 1024 * 1024,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 30 * time.Second,
		RetryAttempts:  3,
		RetryBackoff:   500 * time.Millisecond,
	}
}

func (c *QdrantConfig) applyDefaults() {
	d := DefaultQdrantConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = d.RetryBackoff
	}
}

// QdrantStore implements Store on Qdrant's official Go client.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *logging.Logger
}

// NewQdrantStore connects to Qdrant and verifies the connection.
func NewQdrantStore(ctx context.Context, config QdrantConfig, logger *logging.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	config.applyDefaults()
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid qdrant port: %d (must be 1-65535)", config.Port)
	}

	qcfg := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	}
	if !config.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, newError("connect", "", fmt.Errorf("failed to create qdrant client: %w", err))
	}

	s := &QdrantStore{client: client, config: config, logger: logger.Named("qdrant")}

	dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()
	if err := s.Health(dialCtx); err != nil {
		_ = client.Close()
		s.logger.Error(dialCtx, "qdrant health check failed",
			zap.String("host", config.Host), zap.Int("port", config.Port), zap.Error(err))
		return nil, err
	}
	s.logger.Info(dialCtx, "qdrant connection established",
		zap.String("host", config.Host), zap.Int("port", config.Port))
	return s, nil
}

func (s *QdrantStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return newError("health", "", err)
	}
	return nil
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dimensions int) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.retry(ctx, "ensure_collection", name, func(ctx context.Context) error {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return err
	})
}

func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.retry(ctx, "collection_exists", name, func(ctx context.Context) error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	return exists, err
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	return s.retry(ctx, "delete_collection", name, func(ctx context.Context) error {
		err := s.client.DeleteCollection(ctx, name)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return err
	})
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qpoints[i] = toQdrantPoint(p)
	}
	return s.retry(ctx, "upsert", collection, func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         qpoints,
		})
		return err
	})
}

func (s *QdrantStore) Get(ctx context.Context, collection string, ids []string) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var retrieved []*qdrant.RetrievedPoint
	err := s.retry(ctx, "get", collection, func(ctx context.Context) error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            toPointIDs(ids),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		retrieved = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Point, 0, len(retrieved))
	for _, p := range retrieved {
		out = append(out, fromRetrievedPoint(p))
	}
	return out, nil
}

func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.retry(ctx, "delete", collection, func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: toPointIDs(ids)},
				},
			},
		})
		return err
	})
}

func (s *QdrantStore) SetPayload(ctx context.Context, collection string, id string, payload map[string]any) error {
	exists, err := s.Get(ctx, collection, []string{id})
	if err != nil {
		return err
	}
	if len(exists) == 0 {
		return newError("set_payload", collection, fmt.Errorf("%w: %s", ErrPointNotFound, id))
	}

	values := make(map[string]*qdrant.Value, len(payload))
	for k, v := range normalizePayload(payload) {
		values[k] = toQdrantValue(v)
	}
	return s.retry(ctx, "set_payload", collection, func(ctx context.Context) error {
		_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Payload:        values,
			PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(id)),
		})
		return err
	})
}

func (s *QdrantStore) Scroll(ctx context.Context, collection string, req ScrollRequest) ([]Point, string, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultScrollLimit
	}
	scroll := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         toQdrantFilter(req.Filter),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(req.WithVectors),
	}
	if req.Offset != "" {
		scroll.Offset = qdrant.NewIDUUID(req.Offset)
	}

	var (
		retrieved []*qdrant.RetrievedPoint
		next      *qdrant.PointId
	)
	err := s.retry(ctx, "scroll", collection, func(ctx context.Context) error {
		res, offset, err := s.client.ScrollAndOffset(ctx, scroll)
		if err != nil {
			return err
		}
		retrieved, next = res, offset
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	out := make([]Point, 0, len(retrieved))
	for _, p := range retrieved {
		out = append(out, fromRetrievedPoint(p))
	}
	return out, extractPointID(next), nil
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]ScoredPoint, error) {
	var results []*qdrant.ScoredPoint
	err := s.retry(ctx, "search", collection, func(ctx context.Context) error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         toQdrantFilter(filter),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		out = append(out, ScoredPoint{
			Point: Point{
				ID:      extractPointID(r.Id),
				Vector:  extractVectorOutput(r.Vectors),
				Payload: extractPayload(r.Payload),
			},
			Score: r.Score,
		})
	}
	return out, nil
}

func (s *QdrantStore) Count(ctx context.Context, collection string, filter *Filter) (int, error) {
	var n uint64
	err := s.retry(ctx, "count", collection, func(ctx context.Context) error {
		res, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Filter:         toQdrantFilter(filter),
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		n = res
		return nil
	})
	return int(n), err
}

func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retry runs op with a per-attempt timeout, retrying transient failures with
// exponential backoff up to RetryAttempts times.
func (s *QdrantStore) retry(ctx context.Context, op, collection string, fn func(context.Context) error) error {
	backoff := s.config.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= s.config.RetryAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			if attempt > 0 {
				s.logger.Info(ctx, "qdrant operation recovered after retries",
					zap.String("op", op), zap.Int("attempts", attempt))
			}
			return nil
		}

		lastErr = err
		if !isTransientError(err) || attempt == s.config.RetryAttempts {
			break
		}

		s.logger.Debug(ctx, "retrying qdrant operation after transient error",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return newError(op, collection, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return newError(op, collection, lastErr)
}

func toPointIDs(ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = qdrant.NewIDUUID(id)
	}
	return out
}

func toQdrantPoint(p Point) *qdrant.PointStruct {
	payload := make(map[string]*qdrant.Value, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = toQdrantValue(v)
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: payload,
	}
}

func toQdrantValue(v any) *qdrant.Value {
	switch val := normalizeValue(v).(type) {
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case []string:
		values := make([]*qdrant.Value, len(val))
		for i, s := range val {
			values[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func fromRetrievedPoint(p *qdrant.RetrievedPoint) Point {
	return Point{
		ID:      extractPointID(p.Id),
		Vector:  extractVectorOutput(p.Vectors),
		Payload: extractPayload(p.Payload),
	}
}

func extractPointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	if num := id.GetNum(); num != 0 {
		return fmt.Sprintf("%d", num)
	}
	return ""
}

func extractVectorOutput(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if vec := vectors.GetVector(); vec != nil {
		if dense := vec.GetDense(); dense != nil {
			return dense.GetData()
		}
	}
	return nil
}

func extractPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = extractValue(v)
	}
	return out
}

func extractValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		items := val.ListValue.GetValues()
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.GetKind().(*qdrant.Value_StringValue); ok {
				out = append(out, s.StringValue)
			}
		}
		return out
	default:
		return nil
	}
}

func toQdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	filter := &qdrant.Filter{}
	for _, c := range f.Must {
		filter.Must = append(filter.Must, toQdrantCondition(c))
	}
	for _, c := range f.Should {
		filter.Should = append(filter.Should, toQdrantCondition(c))
	}
	for _, c := range f.MustNot {
		filter.MustNot = append(filter.MustNot, toQdrantCondition(c))
	}
	return filter
}

func toQdrantCondition(c Condition) *qdrant.Condition {
	if c.IsEmpty {
		return &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_IsEmpty{
				IsEmpty: &qdrant.IsEmptyCondition{Key: c.Field},
			},
		}
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   c.Field,
				Match: toQdrantMatch(c.Match),
			},
		},
	}
}

func toQdrantMatch(match any) *qdrant.Match {
	switch v := normalizeValue(match).(type) {
	case string:
		return &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}
	case int64:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
	case bool:
		return &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
	default:
		return &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprintf("%v", v)}}
	}
}

var _ Store = (*QdrantStore)(nil)
