package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dshills/repoexplain/pkg/types"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Payload keys written alongside every qdrant point
const (
	payloadID       = "id"
	payloadDocument = "document"
)

// QdrantStore implements Store on a Qdrant server over gRPC.
// Chunk ids are mapped to deterministic UUIDv5 point ids; the original id
// travels in the payload.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// NewQdrantStore connects to addr (host:port of the gRPC API) and checks
// that the server answers within timeout
func NewQdrantStore(ctx context.Context, addr string, timeout time.Duration) (*QdrantStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	s := &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := s.collections.List(pingCtx, &pb.ListCollectionsRequest{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("qdrant unreachable at %s: %w", addr, err)
	}
	return s, nil
}

func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func (s *QdrantStore) exists(ctx context.Context, name string) (bool, error) {
	resp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("qdrant list collections: %w", err)
	}
	for _, c := range resp.GetCollections() {
		if c.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *QdrantStore) info(ctx context.Context, name string) (CollectionInfo, error) {
	resp, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return CollectionInfo{}, fmt.Errorf("qdrant collection info %s: %w", name, err)
	}
	res := resp.GetResult()
	return CollectionInfo{
		Name:      name,
		Dimension: int(res.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()),
		Count:     int(res.GetPointsCount()),
	}, nil
}

func (s *QdrantStore) create(ctx context.Context, name string, dimension int) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(dimension),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection %s: %w", name, err)
	}
	return nil
}

// GetOrCreateCollection creates the qdrant collection immediately when the
// dimension is known, otherwise on first upsert
func (s *QdrantStore) GetOrCreateCollection(ctx context.Context, name string, dimension int) (Collection, error) {
	if name == "" {
		return nil, ErrInvalidCollection
	}
	ok, err := s.exists(ctx, name)
	if err != nil {
		return nil, err
	}

	c := &qdrantCollection{store: s, name: name}
	if ok {
		info, err := s.info(ctx, name)
		if err != nil {
			return nil, err
		}
		if dimension > 0 && info.Dimension != dimension {
			return nil, fmt.Errorf("%w: collection %s has %d dims, requested %d", ErrDimensionMismatch, name, info.Dimension, dimension)
		}
		c.dimension = info.Dimension
		return c, nil
	}

	if dimension > 0 {
		if err := s.create(ctx, name, dimension); err != nil {
			return nil, err
		}
		c.dimension = dimension
	}
	return c, nil
}

func (s *QdrantStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	ok, err := s.exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	info, err := s.info(ctx, name)
	if err != nil {
		return nil, err
	}
	return &qdrantCollection{store: s, name: name, dimension: info.Dimension}, nil
}

func (s *QdrantStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	resp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("qdrant list collections: %w", err)
	}
	infos := make([]CollectionInfo, 0, len(resp.GetCollections()))
	for _, c := range resp.GetCollections() {
		info, err := s.info(ctx, c.GetName())
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	ok, err := s.exists(ctx, name)
	if err != nil || !ok {
		return err
	}
	if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
		return fmt.Errorf("qdrant delete collection %s: %w", name, err)
	}
	return nil
}

type qdrantCollection struct {
	store *QdrantStore
	name  string

	mu        sync.Mutex
	dimension int
}

func (c *qdrantCollection) Name() string {
	return c.name
}

// pointID maps a chunk id onto the UUID space qdrant accepts
func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func (c *qdrantCollection) Upsert(ctx context.Context, ids, documents []string, metadatas []types.ChunkMetadata, embeddings [][]float32) error {
	if err := validateUpsert(ids, documents, metadatas, embeddings); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	dim := len(embeddings[0])
	c.mu.Lock()
	if c.dimension == 0 {
		if err := c.store.create(ctx, c.name, dim); err != nil {
			c.mu.Unlock()
			return err
		}
		c.dimension = dim
	}
	expected := c.dimension
	c.mu.Unlock()
	if dim != expected {
		return fmt.Errorf("%w: collection %s has %d dims, got %d", ErrDimensionMismatch, c.name, expected, dim)
	}

	points := make([]*pb.PointStruct, len(ids))
	for i, id := range ids {
		m := metadatas[i]
		points[i] = &pb.PointStruct{
			Id:      pointID(id),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: embeddings[i]}}},
			Payload: map[string]*pb.Value{
				payloadID:                     stringValue(id),
				payloadDocument:               stringValue(documents[i]),
				string(types.FieldRepo):       stringValue(m.Repo),
				string(types.FieldFilePath):   stringValue(m.FilePath),
				string(types.FieldFileType):   stringValue(string(m.FileType)),
				string(types.FieldChunkIndex): {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.ChunkIndex)}},
			},
		}
	}

	wait := true
	if _, err := c.store.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.name,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (c *qdrantCollection) Get(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 || c.currentDimension() == 0 {
		return nil, nil
	}
	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}

	resp, err := c.store.points.Get(ctx, &pb.GetPoints{
		CollectionName: c.name,
		Ids:            pids,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant get: %w", err)
	}

	byID := make(map[string]Record, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		r := recordFromPayload(pt.GetPayload())
		byID[r.ID] = r
	}
	records := make([]Record, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			records = append(records, r)
		}
	}
	return records, nil
}

func (c *qdrantCollection) Query(ctx context.Context, vector []float32, n int, where *Where) ([]Match, error) {
	if n <= 0 {
		return []Match{}, nil
	}
	dim := c.currentDimension()
	if dim == 0 {
		return []Match{}, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: collection %s has %d dims, query has %d", ErrDimensionMismatch, c.name, dim, len(vector))
	}

	filter, err := qdrantFilter(where)
	if err != nil {
		return nil, err
	}

	resp, err := c.store.points.Search(ctx, &pb.SearchPoints{
		CollectionName: c.name,
		Vector:         vector,
		Limit:          uint64(n),
		Filter:         filter,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	matches := make([]Match, len(resp.GetResult()))
	for i, pt := range resp.GetResult() {
		// cosine score is similarity; convert to distance
		matches[i] = Match{Record: recordFromPayload(pt.GetPayload()), Distance: 1 - float64(pt.GetScore())}
	}
	return rankMatches(matches, n), nil
}

func (c *qdrantCollection) Count(ctx context.Context) (int, error) {
	if c.currentDimension() == 0 {
		return 0, nil
	}
	exact := true
	resp, err := c.store.points.Count(ctx, &pb.CountPoints{CollectionName: c.name, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (c *qdrantCollection) currentDimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

func qdrantFilter(where *Where) (*pb.Filter, error) {
	if where == nil {
		return nil, nil
	}
	match := &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: where.Value}}
	if where.Field == types.FieldChunkIndex {
		idx, err := strconv.ParseInt(where.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk_index must be an integer", ErrInvalidFilter)
		}
		match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: idx}}
	}
	return &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{Key: string(where.Field), Match: match}},
	}}}, nil
}

func recordFromPayload(payload map[string]*pb.Value) Record {
	return Record{
		ID:       payload[payloadID].GetStringValue(),
		Document: payload[payloadDocument].GetStringValue(),
		Metadata: types.ChunkMetadata{
			Repo:       payload[string(types.FieldRepo)].GetStringValue(),
			FilePath:   payload[string(types.FieldFilePath)].GetStringValue(),
			FileType:   types.FileType(payload[string(types.FieldFileType)].GetStringValue()),
			ChunkIndex: int(payload[string(types.FieldChunkIndex)].GetIntegerValue()),
		},
	}
}
