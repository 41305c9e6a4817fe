// Package semantic owns all Qdrant operations: the per-agent embedding
// collection, idempotent upserts, deletes, and filtered cosine search.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/agentmesh/agentsearch/engine/domain"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Payload keys stored with every point.
const (
	payloadAgentID      = "agent_id"
	payloadCard         = "agent_card"
	payloadTags         = "tags"
	payloadVerified     = "verified"
	payloadText         = "text_content"
	payloadRegisteredAt = "registered_at"
	payloadUpdatedAt    = "updated_at"
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a VectorStore with injected clients, for tests.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the cosine-distance collection if it doesn't exist.
// dims is the deployment-wide embedding dimension; every stored vector must
// match it or Qdrant rejects the write.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// PointID derives the deterministic point id for an agent. Re-indexing the
// same agent therefore always overwrites the same point.
func PointID(agentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("agent:"+agentID)).String()
}

// Upsert stores agent embedding records. Writes are idempotent per agent id,
// last write wins.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		cardJSON, err := json.Marshal(r.Card)
		if err != nil {
			return fmt.Errorf("semantic: marshal card for %s: %w", r.AgentID, err)
		}

		tagValues := make([]*pb.Value, len(r.Tags))
		for j, tag := range r.Tags {
			tagValues[j] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tag}}
		}

		payload := map[string]*pb.Value{
			payloadAgentID:  {Kind: &pb.Value_StringValue{StringValue: r.AgentID}},
			payloadCard:     {Kind: &pb.Value_StringValue{StringValue: string(cardJSON)}},
			payloadTags:     {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: tagValues}}},
			payloadVerified: {Kind: &pb.Value_BoolValue{BoolValue: r.Verified}},
			payloadText:     {Kind: &pb.Value_StringValue{StringValue: r.Text}},
		}
		if r.RegisteredAt != "" {
			payload[payloadRegisteredAt] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: r.RegisteredAt}}
		}
		payload[payloadUpdatedAt] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: now}}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.AgentID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w: %w", len(records), domain.ErrUnavailable, err)
	}
	return nil
}

// Delete removes the embedding for an agent. Deleting an absent agent is a
// no-op, so removal events can be replayed safely.
func (v *VectorStore) Delete(ctx context.Context, agentID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(agentID)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete agent %s: %w: %w", agentID, domain.ErrUnavailable, err)
	}
	return nil
}

// SimilaritySearch ranks stored agents against the query vector by cosine
// similarity. The score threshold and tag/verified filters run inside Qdrant
// and are exact; only the neighbour ranking itself is approximate. Ties are
// broken by agent id ascending for deterministic output.
func (v *VectorStore) SimilaritySearch(ctx context.Context, embedding []float32, params SearchParams) ([]SearchResult, error) {
	threshold := float32(params.MinScore)
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(params.TopK),
		ScoreThreshold: &threshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}

	var must []*pb.Condition
	if params.VerifiedOnly {
		must = append(must, boolMatch(payloadVerified, true))
	}
	if len(params.Tags) > 0 {
		must = append(must, anyKeywordMatch(payloadTags, params.Tags))
	}
	if len(must) > 0 {
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w: %w", domain.ErrUnavailable, err)
	}

	results := make([]SearchResult, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		sr, err := resultFromPoint(r)
		if err != nil {
			return nil, fmt.Errorf("semantic: decode hit: %w", err)
		}
		results = append(results, sr)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].AgentID < results[j].AgentID
	})
	return results, nil
}

// Count returns the number of indexed agents.
func (v *VectorStore) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w: %w", domain.ErrUnavailable, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Healthy reports whether Qdrant answers a collections listing.
func (v *VectorStore) Healthy(ctx context.Context) bool {
	_, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	return err == nil
}

func resultFromPoint(p *pb.ScoredPoint) (SearchResult, error) {
	payload := p.GetPayload()

	var card domain.AgentCard
	if raw := payload[payloadCard].GetStringValue(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &card); err != nil {
			return SearchResult{}, err
		}
	}

	var tags []string
	for _, tv := range payload[payloadTags].GetListValue().GetValues() {
		if s := tv.GetStringValue(); s != "" {
			tags = append(tags, s)
		}
	}

	return SearchResult{
		AgentID:  payload[payloadAgentID].GetStringValue(),
		Card:     card,
		Tags:     tags,
		Verified: payload[payloadVerified].GetBoolValue(),
		Text:     payload[payloadText].GetStringValue(),
		Score:    clampScore(p.GetScore()),
	}, nil
}

// clampScore maps a raw cosine score into [0,1]. Negative values (opposing
// vectors, or float error below zero) clamp to 0.
func clampScore(s float32) float64 {
	score := float64(s)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func boolMatch(key string, value bool) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Boolean{Boolean: value},
				},
			},
		},
	}
}

// anyKeywordMatch matches points whose array payload shares at least one of
// the given values.
func anyKeywordMatch(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{
						Keywords: &pb.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}
