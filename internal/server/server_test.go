package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacehq/solace/internal/auth"
	"github.com/solacehq/solace/internal/mcp"
	"github.com/solacehq/solace/internal/model"
	"github.com/solacehq/solace/internal/server"
	"github.com/solacehq/solace/internal/service/advice"
	"github.com/solacehq/solace/internal/service/corpus"
	"github.com/solacehq/solace/internal/service/problems"
	"github.com/solacehq/solace/internal/service/readingplan"
	"github.com/solacehq/solace/internal/service/retrieval"
	"github.com/solacehq/solace/internal/storage"
	"github.com/solacehq/solace/internal/testutil"
)

const (
	testDims     = 4
	testAdminKey = "integration-operator-key"
)

var (
	testSrv *httptest.Server
	jwtMgr  *auth.JWTManager
)

// keywordEmbedder maps a few themes onto orthogonal unit vectors. Text with
// no known theme embeds to the zero vector, which sends retrieval to the
// lexical tier and leaves the verse unembedded during backfill. The last
// axis answers the backfill's provider probe.
type keywordEmbedder struct{}

var themes = []struct {
	words []string
	axis  int
}{
	{[]string{"shepherd", "provide", "want"}, 0},
	{[]string{"fear", "afraid", "anxious"}, 1},
	{[]string{"love", "lonely"}, 2},
	{[]string{"probe"}, 3},
}

func (keywordEmbedder) Dimensions() int { return testDims }

func (keywordEmbedder) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	lower := strings.ToLower(text)
	for _, th := range themes {
		for _, w := range th.words {
			if strings.Contains(lower, w) {
				return pgvector.NewVector(testutil.UnitVector(testDims, th.axis)), nil
			}
		}
	}
	return pgvector.NewVector(make([]float32, testDims)), nil
}

func (e keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	out := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

type cannedGenerator struct{}

func (cannedGenerator) Complete(_ context.Context, prompt string) (string, error) {
	if !strings.Contains(prompt, "Relevant Bible verses:") {
		return "", fmt.Errorf("unexpected prompt")
	}
	return "Take heart. You are not alone.", nil
}

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()
	logger := testutil.TestLogger()

	db, err := tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test: create DB: %v\n", err)
		return 1
	}
	defer db.Close()

	jwtMgr, err = auth.NewJWTManager("", "", time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test: jwt: %v\n", err)
		return 1
	}
	keyHash, err := auth.HashAPIKey(testAdminKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test: hash key: %v\n", err)
		return 1
	}

	srv := newServer(db, keyHash)
	testSrv = httptest.NewServer(srv.Handler())
	defer testSrv.Close()

	if err := seedCorpus(testSrv.URL); err != nil {
		fmt.Fprintf(os.Stderr, "server test: seed corpus: %v\n", err)
		return 1
	}

	return m.Run()
}

func newServer(db *storage.DB, keyHash string) *server.Server {
	logger := testutil.TestLogger()
	embedder := keywordEmbedder{}

	engine := retrieval.New(db, embedder, nil, retrieval.Config{}, logger)
	synth := advice.NewSynthesizer(cannedGenerator{}, 5*time.Second, logger)
	plans := readingplan.New(db, logger)
	orchestrator := problems.New(db, engine, synth, plans, logger)
	corpusSvc := corpus.New(db, embedder, nil, corpus.Options{}, logger)
	mcpSrv := mcp.New(orchestrator, engine, db, logger, "test")

	return server.New(server.ServerConfig{
		DB:           db,
		JWTMgr:       jwtMgr,
		Problems:     orchestrator,
		Retriever:    engine,
		Verses:       db,
		Corpus:       corpusSvc,
		Logger:       logger,
		MCPServer:    mcpSrv.MCPServer(),
		AdminKeyHash: keyHash,
		Version:      "test",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		OpenAPISpec:  []byte("openapi: 3.1.0\n"),
	})
}

func seedCorpus(baseURL string) error {
	token, err := adminToken(baseURL)
	if err != nil {
		return err
	}
	verses := []model.VerseInput{
		{Book: "Psalms", Chapter: 23, Verse: 1, Text: "The Lord is my shepherd; I shall not want."},
		{Book: "Isaiah", Chapter: 41, Verse: 10, Text: "Fear thou not; for I am with thee: be not dismayed."},
		{Book: "Romans", Chapter: 8, Verse: 39, Text: "Nothing shall be able to separate us from the love of God."},
		{Book: "Hebrews", Chapter: 11, Verse: 1, Text: "Now faith is the substance of things hoped for, the evidence of things not seen."},
	}
	status, body := call(baseURL, http.MethodPost, "/v1/admin/verses", token, model.ImportVersesRequest{Verses: verses})
	if status != http.StatusOK {
		return fmt.Errorf("import: status %d: %s", status, body)
	}
	status, body = call(baseURL, http.MethodPost, "/v1/admin/verses/embed", token, nil)
	if status != http.StatusOK {
		return fmt.Errorf("embed: status %d: %s", status, body)
	}
	return nil
}

func adminToken(baseURL string) (string, error) {
	status, body := call(baseURL, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{APIKey: testAdminKey})
	if status != http.StatusOK {
		return "", fmt.Errorf("auth token: status %d: %s", status, body)
	}
	var resp struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.Data.Token, nil
}

func userToken(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	token, _, err := jwtMgr.IssueToken(id, auth.RoleUser)
	require.NoError(t, err)
	return id, token
}

func call(baseURL, method, path, token string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, baseURL+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(fmt.Sprintf("%s %s: %v", method, path, err))
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func decodeData[T any](t *testing.T, body []byte) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	return env.Data
}

func TestHealthEndpoint(t *testing.T) {
	status, body := call(testSrv.URL, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	h := decodeData[model.HealthResponse](t, body)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "connected", h.Postgres)
	assert.Empty(t, h.Qdrant)
}

func TestAdminTokenExchange(t *testing.T) {
	status, _ := call(testSrv.URL, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{APIKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)

	token, err := adminToken(testSrv.URL)
	require.NoError(t, err)
	status, _ = call(testSrv.URL, http.MethodPost, "/v1/admin/verses/embed", token, nil)
	assert.Equal(t, http.StatusOK, status)

	_, user := userToken(t)
	status, _ = call(testSrv.URL, http.MethodPost, "/v1/admin/verses/embed", user, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestSearchTiers(t *testing.T) {
	_, token := userToken(t)

	status, body := call(testSrv.URL, http.MethodPost, "/v1/verses/search", token, model.SearchVersesRequest{Query: "I am so anxious"})
	require.Equal(t, http.StatusOK, status, string(body))
	res := decodeData[model.VerseSearchResponse](t, body)
	assert.Equal(t, model.TierSemantic, res.Tier)
	require.NotEmpty(t, res.Verses)
	assert.Equal(t, "Isaiah", res.Verses[0].Book)

	status, body = call(testSrv.URL, http.MethodPost, "/v1/verses/search", token, model.SearchVersesRequest{Query: "faith"})
	require.Equal(t, http.StatusOK, status, string(body))
	res = decodeData[model.VerseSearchResponse](t, body)
	assert.Equal(t, model.TierLexical, res.Tier)
	require.Len(t, res.Verses, 1)
	assert.Equal(t, "Hebrews", res.Verses[0].Book)

	status, body = call(testSrv.URL, http.MethodPost, "/v1/verses/search", token, model.SearchVersesRequest{Query: "xylophone"})
	require.Equal(t, http.StatusOK, status, string(body))
	res = decodeData[model.VerseSearchResponse](t, body)
	assert.Equal(t, model.TierNone, res.Tier)
	assert.Empty(t, res.Verses)
}

func TestBrowseVerses(t *testing.T) {
	_, token := userToken(t)

	status, body := call(testSrv.URL, http.MethodGet, "/v1/verses?book=Psalms&chapter=23", token, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	verses := decodeData[[]model.Verse](t, body)
	require.Len(t, verses, 1)
	assert.Equal(t, "The Lord is my shepherd; I shall not want.", verses[0].Text)

	status, _ = call(testSrv.URL, http.MethodGet, "/v1/verses?chapter=23", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestProblemLifecycle(t *testing.T) {
	_, alice := userToken(t)
	_, bob := userToken(t)

	status, body := call(testSrv.URL, http.MethodPost, "/v1/problems", alice, model.CreateProblemRequest{
		Title:       "  Night worries ",
		Description: "I am afraid of what tomorrow brings",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	p := decodeData[model.Problem](t, body)
	assert.Equal(t, "Night worries", p.Title)
	require.NotNil(t, p.Advice)
	assert.Equal(t, "Take heart. You are not alone.", *p.Advice)
	require.NotNil(t, p.ReadingPlan)
	require.NotEmpty(t, p.ReadingPlan.Items)
	first := p.ReadingPlan.Items[0]
	assert.Equal(t, 1, first.ItemOrder)
	require.NotNil(t, first.Verse)
	assert.Equal(t, "Isaiah", first.Verse.Book)

	problemPath := "/v1/problems/" + p.ID.String()

	// Owner-scoped reads.
	status, _ = call(testSrv.URL, http.MethodGet, problemPath, bob, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, body = call(testSrv.URL, http.MethodGet, "/v1/problems", alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeData[[]model.Problem](t, body), 1)

	// A second plan for the same problem conflicts.
	status, _ = call(testSrv.URL, http.MethodPost, "/v1/reading-plans", alice, model.CreatePlanRequest{
		ProblemID: p.ID,
		VerseIDs:  []uuid.UUID{first.VerseID},
	})
	assert.Equal(t, http.StatusConflict, status)

	// Mark the first item read.
	read := true
	planPath := "/v1/reading-plans/" + p.ReadingPlan.ID.String()
	status, body = call(testSrv.URL, http.MethodPatch, planPath+"/items", alice, model.UpdatePlanItemRequest{
		ItemID: first.ID,
		IsRead: &read,
	})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.True(t, decodeData[model.ReadingPlanItem](t, body).IsRead)

	status, body = call(testSrv.URL, http.MethodGet, planPath, alice, nil)
	require.Equal(t, http.StatusOK, status)
	plan := decodeData[model.ReadingPlan](t, body)
	assert.True(t, plan.Items[0].IsRead)

	// Another user cannot flip the flag back.
	unread := false
	status, _ = call(testSrv.URL, http.MethodPatch, planPath+"/items", bob, model.UpdatePlanItemRequest{
		ItemID: first.ID,
		IsRead: &unread,
	})
	assert.Equal(t, http.StatusNotFound, status)
	status, body = call(testSrv.URL, http.MethodGet, planPath, alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decodeData[model.ReadingPlan](t, body).Items[0].IsRead)

	// Feedback upserts.
	for _, rating := range []int{2, 5} {
		status, body = call(testSrv.URL, http.MethodPost, "/v1/feedback", alice, model.FeedbackRequest{ProblemID: p.ID, Rating: rating})
		require.Equal(t, http.StatusOK, status, string(body))
		assert.Equal(t, rating, decodeData[model.AdviceFeedback](t, body).Rating)
	}
	status, _ = call(testSrv.URL, http.MethodPost, "/v1/feedback", bob, model.FeedbackRequest{ProblemID: p.ID, Rating: 3})
	assert.Equal(t, http.StatusNotFound, status)

	// Regenerate keeps the plan.
	status, body = call(testSrv.URL, http.MethodPost, problemPath+"/advice", alice, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	regenerated := decodeData[model.Problem](t, body)
	require.NotNil(t, regenerated.ReadingPlan)
	assert.Equal(t, p.ReadingPlan.ID, regenerated.ReadingPlan.ID)
	require.Len(t, regenerated.ReadingPlan.Items, len(p.ReadingPlan.Items))
	for i, item := range regenerated.ReadingPlan.Items {
		assert.Equal(t, p.ReadingPlan.Items[i].ID, item.ID)
		assert.Equal(t, p.ReadingPlan.Items[i].VerseID, item.VerseID)
		assert.Equal(t, i+1, item.ItemOrder)
		assert.Equal(t, i == 0, item.IsRead, "item %d read flag", i+1)
	}

	// Delete cascades.
	status, _ = call(testSrv.URL, http.MethodDelete, problemPath, bob, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = call(testSrv.URL, http.MethodDelete, problemPath, alice, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = call(testSrv.URL, http.MethodGet, problemPath, alice, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = call(testSrv.URL, http.MethodGet, planPath, alice, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestProblemWithoutMatchingVerses(t *testing.T) {
	_, token := userToken(t)

	status, body := call(testSrv.URL, http.MethodPost, "/v1/problems", token, model.CreateProblemRequest{
		Title:       "Quiet",
		Description: "xylophone",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	p := decodeData[model.Problem](t, body)
	require.NotNil(t, p.Advice)
	assert.Equal(t, advice.NoVersesMessage, *p.Advice)
	assert.Nil(t, p.ReadingPlan)
}

func TestMCPOverHTTP(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, token := userToken(t)

	c, err := mcpclient.NewStreamableHttpClient(testSrv.URL+"/mcp",
		mcptransport.WithHTTPHeaders(map[string]string{"Authorization": "Bearer " + token}),
	)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	require.NoError(t, c.Start(ctx))

	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcplib.Implementation{Name: "server-test", Version: "0.0.1"}
	info, err := c.Initialize(ctx, initReq)
	require.NoError(t, err)
	assert.Equal(t, "solace", info.ServerInfo.Name)

	callReq := mcplib.CallToolRequest{}
	callReq.Params.Name = "solace_search_verses"
	callReq.Params.Arguments = map[string]any{"query": "the Lord will provide", "limit": 3}
	result, err := c.CallTool(ctx, callReq)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)

	var resp model.VerseSearchResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	assert.Equal(t, model.TierSemantic, resp.Tier)
	require.NotEmpty(t, resp.Verses)
	assert.Equal(t, "Psalms", resp.Verses[0].Book)
}

func TestMCPRequiresAuth(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, testSrv.URL+"/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
