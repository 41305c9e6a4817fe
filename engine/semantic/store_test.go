package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/agentmesh/agentsearch/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// --- Mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertResp *pb.PointsOperationResponse
	upsertErr  error

	deleteReq  *pb.DeletePoints
	deleteResp *pb.PointsOperationResponse
	deleteErr  error

	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error

	countResp *pb.CountResponse
	countErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleteReq = in
	return m.deleteResp, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}
func (m *mockPoints) Count(_ context.Context, _ *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	return m.countResp, m.countErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.createResp, m.createErr
}

func scoredPoint(agentID string, score float32) *pb.ScoredPoint {
	return &pb.ScoredPoint{
		Score: score,
		Payload: map[string]*pb.Value{
			payloadAgentID:  {Kind: &pb.Value_StringValue{StringValue: agentID}},
			payloadCard:     {Kind: &pb.Value_StringValue{StringValue: `{"name":"` + agentID + `","endpoint":"https://x"}`}},
			payloadTags:     {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: []*pb.Value{{Kind: &pb.Value_StringValue{StringValue: "nlp"}}}}}},
			payloadVerified: {Kind: &pb.Value_BoolValue{BoolValue: true}},
			payloadText:     {Kind: &pb.Value_StringValue{StringValue: "Agent: " + agentID}},
		},
	}
}

// --- Tests ---

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "agents"}},
		},
	}
	vs := NewWithClients(&mockPoints{}, cols, "agents")
	if err := vs.EnsureCollection(context.Background(), 384); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{}},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	vs := NewWithClients(&mockPoints{}, cols, "agents")
	if err := vs.EnsureCollection(context.Background(), 384); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	vs := NewWithClients(&mockPoints{}, cols, "agents")
	if err := vs.EnsureCollection(context.Background(), 384); err == nil {
		t.Fatal("expected error")
	}
}

func TestPointID_Deterministic(t *testing.T) {
	if PointID("agent-1") != PointID("agent-1") {
		t.Fatal("same agent must map to the same point id")
	}
	if PointID("agent-1") == PointID("agent-2") {
		t.Fatal("different agents must map to different point ids")
	}
}

func TestUpsert_BuildsPoints(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "agents")

	rec := VectorRecord{
		AgentID:   "translator-agent",
		Embedding: []float32{0.1, 0.2, 0.3},
		Card:      domain.AgentCard{Name: "translator-agent", Endpoint: "https://t"},
		Tags:      []string{"nlp", "translation"},
		Verified:  true,
		Text:      "Agent: translator-agent",
	}
	if err := vs.Upsert(context.Background(), []VectorRecord{rec}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pts.upsertReq == nil || len(pts.upsertReq.GetPoints()) != 1 {
		t.Fatal("expected exactly one point")
	}
	p := pts.upsertReq.GetPoints()[0]
	if p.GetId().GetUuid() != PointID("translator-agent") {
		t.Error("point id must be derived from agent id")
	}
	payload := p.GetPayload()
	if payload[payloadAgentID].GetStringValue() != "translator-agent" {
		t.Error("agent_id payload missing")
	}
	if !payload[payloadVerified].GetBoolValue() {
		t.Error("verified payload missing")
	}
	if got := len(payload[payloadTags].GetListValue().GetValues()); got != 2 {
		t.Errorf("expected 2 tag values, got %d", got)
	}
}

func TestUpsert_Empty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "agents")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.upsertReq != nil {
		t.Fatal("no upsert call expected for empty batch")
	}
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("write fail")}
	vs := NewWithClients(pts, &mockCollections{}, "agents")
	err := vs.Upsert(context.Background(), []VectorRecord{{AgentID: "a", Embedding: []float32{1}}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDelete_TargetsAgentPoint(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "agents")
	if err := vs.Delete(context.Background(), "gone-agent"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := pts.deleteReq.GetPoints().GetPoints().GetIds()
	if len(ids) != 1 || ids[0].GetUuid() != PointID("gone-agent") {
		t.Fatal("delete must target the agent's deterministic point id")
	}
}

func TestSimilaritySearch_ThresholdAndFilters(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "agents")

	_, err := vs.SimilaritySearch(context.Background(), []float32{0.5, 0.5}, SearchParams{
		TopK:         5,
		MinScore:     0.7,
		Tags:         []string{"nlp"},
		VerifiedOnly: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := pts.searchReq
	if req.GetLimit() != 5 {
		t.Errorf("limit = %d, want 5", req.GetLimit())
	}
	if req.ScoreThreshold == nil || *req.ScoreThreshold != 0.7 {
		t.Error("score threshold must be forwarded to qdrant")
	}
	if len(req.GetFilter().GetMust()) != 2 {
		t.Fatalf("expected verified + tags conditions, got %d", len(req.GetFilter().GetMust()))
	}
}

func TestSimilaritySearch_NoFilters(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "agents")
	if _, err := vs.SimilaritySearch(context.Background(), []float32{1}, SearchParams{TopK: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.searchReq.GetFilter() != nil {
		t.Fatal("no filter expected")
	}
}

func TestSimilaritySearch_DecodesAndOrders(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{
		Result: []*pb.ScoredPoint{
			scoredPoint("b-agent", 0.9),
			scoredPoint("c-agent", 0.7),
			scoredPoint("a-agent", 0.9),
		},
	}}
	vs := NewWithClients(pts, &mockCollections{}, "agents")

	results, err := vs.SimilaritySearch(context.Background(), []float32{1}, SearchParams{TopK: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	// Descending score, ties broken by agent id ascending.
	order := []string{"a-agent", "b-agent", "c-agent"}
	for i, want := range order {
		if results[i].AgentID != want {
			t.Errorf("results[%d] = %s, want %s", i, results[i].AgentID, want)
		}
	}
	if results[0].Card.Name != "a-agent" {
		t.Error("card payload must round-trip")
	}
	if len(results[0].Tags) != 1 || results[0].Tags[0] != "nlp" {
		t.Error("tags payload must round-trip")
	}
}

func TestSimilaritySearch_ClampsNegativeScores(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{
		Result: []*pb.ScoredPoint{scoredPoint("a-agent", -0.1)},
	}}
	vs := NewWithClients(pts, &mockCollections{}, "agents")
	results, err := vs.SimilaritySearch(context.Background(), []float32{1}, SearchParams{TopK: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Score != 0 {
		t.Errorf("score = %v, want 0", results[0].Score)
	}
}

func TestSimilaritySearch_Error(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("search fail")}
	vs := NewWithClients(pts, &mockCollections{}, "agents")
	_, err := vs.SimilaritySearch(context.Background(), []float32{1}, SearchParams{TopK: 1})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("RPC failure must carry ErrUnavailable, got %v", err)
	}
}

func TestCount(t *testing.T) {
	pts := &mockPoints{countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 42}}}
	vs := NewWithClients(pts, &mockCollections{}, "agents")
	n, err := vs.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("count = %d, want 42", n)
	}
}

func TestHealthy(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{listResp: &pb.ListCollectionsResponse{}}, "agents")
	if !vs.Healthy(context.Background()) {
		t.Fatal("expected healthy")
	}
	vs = NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("down")}, "agents")
	if vs.Healthy(context.Background()) {
		t.Fatal("expected unhealthy")
	}
}

func TestClampScore(t *testing.T) {
	cases := []struct {
		in   float32
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 0.5},
		{1.5, 1},
	}
	for _, c := range cases {
		if got := clampScore(c.in); got != c.want {
			t.Errorf("clampScore(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
