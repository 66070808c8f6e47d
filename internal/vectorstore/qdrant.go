// Package vectorstore indexes concept embeddings in Qdrant so nodes can
// look up semantically close concepts outside the trigger table.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nidhogg/mer/internal/memory"
)

// pointNamespace scopes the SHA1 point ids derived from node and concept ids.
var pointNamespace = uuid.MustParse("6f1c8b2e-4a0d-5e9b-9c3f-2d7a1e5b8c40")

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	logger      *zap.Logger
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg QdrantConfig, logger *zap.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		logger:      logger,
	}, nil
}

// EnsureCollection creates the named collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// PointID derives the stable Qdrant point id of a concept on a node.
func PointID(nodeID, conceptID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(nodeID+":"+conceptID)).String()
}

// conceptPoints converts concepts carrying an embedding into points. All
// vectors must share the dimension of the first one; others are skipped.
func conceptPoints(nodeID string, concepts []memory.ConceptNode) ([]*pb.PointStruct, uint64) {
	var points []*pb.PointStruct
	var dim int
	for _, cn := range concepts {
		if len(cn.Embedding) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(cn.Embedding)
		}
		if len(cn.Embedding) != dim {
			continue
		}
		points = append(points, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(nodeID, cn.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: cn.Embedding}}},
			Payload: map[string]*pb.Value{
				"node_id":    {Kind: &pb.Value_StringValue{StringValue: nodeID}},
				"concept_id": {Kind: &pb.Value_StringValue{StringValue: cn.ID}},
				"essence":    {Kind: &pb.Value_StringValue{StringValue: cn.Essence}},
				"valence":    {Kind: &pb.Value_DoubleValue{DoubleValue: cn.Valence}},
			},
		})
	}
	return points, uint64(dim)
}

// IndexConcepts upserts every embedded concept of nodeID into collection,
// creating the collection on first use. It returns the number of points
// written.
func (c *Client) IndexConcepts(ctx context.Context, collection, nodeID string, concepts []memory.ConceptNode) (int, error) {
	points, dim := conceptPoints(nodeID, concepts)
	if len(points) == 0 {
		return 0, nil
	}
	if err := c.EnsureCollection(ctx, collection, dim); err != nil {
		return 0, err
	}
	wait := true
	if _, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", collection, err)
	}
	c.logger.Info("concept embeddings indexed",
		zap.String("collection", collection),
		zap.String("node", nodeID),
		zap.Int("points", len(points)))
	return len(points), nil
}

// nodeFilter restricts a search to the points of one node.
func nodeFilter(nodeID string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   "node_id",
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: nodeID}},
		}},
	}}}
}

// SimilarConcepts returns the topK concepts of nodeID closest to vector.
func (c *Client) SimilarConcepts(ctx context.Context, collection, nodeID string, vector []float32, topK uint64) ([]*SearchResult, error) {
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          topK,
		Filter:         nodeFilter(nodeID),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	results := make([]*SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, toResult(r.Id.GetUuid(), r.Score, r.Payload))
	}
	return results, nil
}

func toResult(id string, score float32, payload map[string]*pb.Value) *SearchResult {
	res := &SearchResult{ID: id, Score: score}
	if v, ok := payload["concept_id"]; ok {
		res.ConceptID = v.GetStringValue()
	}
	if v, ok := payload["essence"]; ok {
		res.Essence = v.GetStringValue()
	}
	if v, ok := payload["valence"]; ok {
		res.Valence = v.GetDoubleValue()
	}
	return res
}

// SearchResult holds a single vector search hit.
type SearchResult struct {
	ID        string  `json:"id"`
	ConceptID string  `json:"concept_id"`
	Essence   string  `json:"essence"`
	Valence   float64 `json:"valence"`
	Score     float32 `json:"score"`
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
