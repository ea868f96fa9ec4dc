package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/config"
	"github.com/raaihank/langmodel/internal/inference"
	"github.com/raaihank/langmodel/internal/lm"
	"github.com/raaihank/langmodel/internal/logger"
	"github.com/raaihank/langmodel/internal/pooling"
	"github.com/raaihank/langmodel/internal/vector"
	"github.com/raaihank/langmodel/internal/websocket"
)

type fakeExtractor struct {
	mu         sync.Mutex
	extraction pooling.Extraction
	err        error
	noVec      bool
}

func (f *fakeExtractor) ExtractVectors(ctx context.Context, texts []string) ([]pooling.Prediction, error) {
	if f.err != nil {
		return nil, f.err
	}
	preds := make([]pooling.Prediction, len(texts))
	for i, text := range texts {
		words := strings.Fields(text)
		preds[i] = pooling.Prediction{Context: words, Vec: []float32{float32(len(words)), float32(i)}}
		if f.noVec {
			preds[i].Vec = nil
		}
	}
	return preds, nil
}

func (f *fakeExtractor) SetExtraction(e pooling.Extraction) error {
	if err := e.Validate(2); err != nil {
		return err
	}
	f.mu.Lock()
	f.extraction = e
	f.mu.Unlock()
	return nil
}

func (f *fakeExtractor) Info() inference.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return inference.Info{Name: "bert-base-cased", Family: lm.FamilyBert, OutputDims: 2, NumLayers: 2, Extraction: f.extraction}
}

type fakeSearcher struct {
	query []float32
	opts  *vector.SearchOptions
}

func (f *fakeSearcher) FindSimilar(ctx context.Context, embedding []float32, options *vector.SearchOptions) ([]*vector.SimilarityResult, error) {
	f.query = embedding
	f.opts = options
	return []*vector.SimilarityResult{{Vector: &vector.ExtractedVector{Text: "hello world"}, Similarity: 0.9}}, nil
}

func (f *fakeSearcher) GetStats(ctx context.Context) (*vector.VectorStats, error) {
	return &vector.VectorStats{TotalVectors: 3}, nil
}

func newTestServer(t *testing.T, mutate func(*config.Config), hub *websocket.Hub, searcher Searcher) (*Server, *fakeExtractor) {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	ext := &fakeExtractor{extraction: cfg.Inference.Extraction}
	return New(cfg, &logger.Logger{Logger: zap.NewNop()}, ext, hub, searcher), ext
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndFamilies(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("request id header not set")
	}

	rec = do(t, s.Handler(), http.MethodGet, "/v1/families", "")
	var families []FamilyInfo
	decodeBody(t, rec, &families)
	if len(families) != len(lm.AllFamilies()) {
		t.Errorf("expected %d families, got %d", len(lm.AllFamilies()), len(families))
	}
}

func TestVectors(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		s, _ := newTestServer(t, nil, nil, nil)
		rec := do(t, s.Handler(), http.MethodPost, "/v1/vectors", `{"texts":["hello world","a b c"]}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
		}
		var resp VectorsResponse
		decodeBody(t, rec, &resp)
		want := []pooling.Prediction{
			{Context: []string{"hello", "world"}, Vec: []float32{2, 0}},
			{Context: []string{"a", "b", "c"}, Vec: []float32{3, 1}},
		}
		if diff := cmp.Diff(want, resp.Predictions); diff != "" {
			t.Errorf("predictions mismatch (-want +got):\n%s", diff)
		}
		if resp.Model != "bert-base-cased" || resp.Dims != 2 || resp.RequestID == "" {
			t.Errorf("unexpected response header fields: %+v", resp)
		}
	})

	t.Run("EmptyTexts", func(t *testing.T) {
		s, _ := newTestServer(t, nil, nil, nil)
		rec := do(t, s.Handler(), http.MethodPost, "/v1/vectors", `{"texts":[]}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("TooManyTexts", func(t *testing.T) {
		s, _ := newTestServer(t, func(c *config.Config) { c.Server.MaxTexts = 1 }, nil, nil)
		rec := do(t, s.Handler(), http.MethodPost, "/v1/vectors", `{"texts":["a","b"]}`)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "too_many_texts") {
			t.Errorf("expected too_many_texts, got %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		s, _ := newTestServer(t, nil, nil, nil)
		rec := do(t, s.Handler(), http.MethodPost, "/v1/vectors", `{"text":"a"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for unknown field, got %d", rec.Code)
		}
	})

	t.Run("ModelError", func(t *testing.T) {
		s, ext := newTestServer(t, nil, nil, nil)
		ext.err = lm.ErrBackendUnavailable
		rec := do(t, s.Handler(), http.MethodPost, "/v1/vectors", `{"texts":["a"]}`)
		if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "backend_unavailable") {
			t.Errorf("expected 503 backend_unavailable, got %d %s", rec.Code, rec.Body.String())
		}
	})
}

func TestSetExtraction(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		want   pooling.Extraction
	}{
		{"DefaultsToFinalLayer", `{"strategy":"cls_token"}`, http.StatusOK, pooling.Extraction{Strategy: pooling.CLSToken, Layer: -1, IgnoreFirstToken: true}},
		{"EmbeddingLayer", `{"strategy":"reduce_max","layer":0}`, http.StatusOK, pooling.Extraction{Strategy: pooling.ReduceMax, Layer: 0, IgnoreFirstToken: true}},
		{"IgnoreFirstDefaultsTrue", `{"layer":-2}`, http.StatusOK, pooling.Extraction{Strategy: pooling.ReduceMean, Layer: -2, IgnoreFirstToken: true}},
		{"KeepFirstToken", `{"layer":-2,"ignore_first_token":false}`, http.StatusOK, pooling.Extraction{Strategy: pooling.ReduceMean, Layer: -2}},
		{"PooledNonFinal", `{"strategy":"pooled","layer":-2}`, http.StatusBadRequest, pooling.Extraction{Strategy: pooling.ReduceMean, Layer: -1, IgnoreFirstToken: true}},
		{"UnknownStrategy", `{"strategy":"sum"}`, http.StatusBadRequest, pooling.Extraction{Strategy: pooling.ReduceMean, Layer: -1, IgnoreFirstToken: true}},
		{"LayerOutOfRange", `{"layer":5}`, http.StatusBadRequest, pooling.Extraction{Strategy: pooling.ReduceMean, Layer: -1, IgnoreFirstToken: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ext := newTestServer(t, nil, nil, nil)
			rec := do(t, s.Handler(), http.MethodPut, "/v1/extraction", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if diff := cmp.Diff(tt.want, ext.Info().Extraction); diff != "" {
				t.Errorf("active extraction mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	t.Run("NoStoreNoRoute", func(t *testing.T) {
		s, _ := newTestServer(t, nil, nil, nil)
		rec := do(t, s.Handler(), http.MethodPost, "/v1/search", `{"text":"hello"}`)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 without a store, got %d", rec.Code)
		}
	})

	t.Run("Success", func(t *testing.T) {
		searcher := &fakeSearcher{}
		s, _ := newTestServer(t, nil, nil, searcher)
		rec := do(t, s.Handler(), http.MethodPost, "/v1/search", `{"text":"hello world","limit":3}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
		}
		if diff := cmp.Diff([]float32{2, 0}, searcher.query); diff != "" {
			t.Errorf("query vector mismatch (-want +got):\n%s", diff)
		}
		want := &vector.SearchOptions{Limit: 3, Model: "bert-base-cased", Strategy: "reduce_mean"}
		if diff := cmp.Diff(want, searcher.opts); diff != "" {
			t.Errorf("search options mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("PerTokenRejected", func(t *testing.T) {
		s, ext := newTestServer(t, nil, nil, &fakeSearcher{})
		ext.extraction = pooling.Extraction{Strategy: pooling.PerToken, Layer: -1}
		rec := do(t, s.Handler(), http.MethodPost, "/v1/search", `{"text":"hello"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("PerTokenSwappedDuringRequest", func(t *testing.T) {
		searcher := &fakeSearcher{}
		s, ext := newTestServer(t, nil, nil, searcher)
		ext.noVec = true
		rec := do(t, s.Handler(), http.MethodPost, "/v1/search", `{"text":"hello"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if searcher.opts != nil {
			t.Error("search ran without a query vector")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		s, _ := newTestServer(t, nil, nil, &fakeSearcher{})
		rec := do(t, s.Handler(), http.MethodGet, "/v1/store/stats", "")
		var stats vector.VectorStats
		decodeBody(t, rec, &stats)
		if stats.TotalVectors != 3 {
			t.Errorf("expected 3 vectors, got %d", stats.TotalVectors)
		}
	})
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1}
	}, nil, nil)

	if rec := do(t, s.Handler(), http.MethodGet, "/v1/families", ""); rec.Code != http.StatusOK {
		t.Fatalf("first request returned %d", rec.Code)
	}
	rec := do(t, s.Handler(), http.MethodGet, "/v1/families", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec := do(t, s.Handler(), http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health should not be rate limited, got %d", rec.Code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := newRateLimiter(60, 1)
	rl.allow("10.0.0.1")
	rl.clients["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)
	rl.allow("10.0.0.2")

	rl.cleanup(time.Minute)
	if _, ok := rl.clients["10.0.0.1"]; ok {
		t.Error("idle client not removed")
	}
	if _, ok := rl.clients["10.0.0.2"]; !ok {
		t.Error("active client removed")
	}
}

func TestHostOnly(t *testing.T) {
	tests := map[string]string{
		"192.0.2.1:1234": "192.0.2.1",
		"[::1]:80":       "::1",
		"10.0.0.1":       "10.0.0.1",
	}
	for in, want := range tests {
		if got := hostOnly(in); got != want {
			t.Errorf("hostOnly(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractionBroadcast(t *testing.T) {
	hubCfg := websocket.DefaultHubConfig()
	hubCfg.BroadcastConnections = false
	hub := websocket.NewHub(&hubCfg, zap.NewNop())
	go hub.Run()
	t.Cleanup(hub.Stop)

	s, _ := newTestServer(t, nil, hub, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ActiveConnections() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(srv.URL+"/v1/vectors", "application/json", strings.NewReader(`{"texts":["hello"]}`))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type string                    `json:"type"`
		Data websocket.ExtractionEvent `json:"data"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if ev.Type != string(websocket.EventTypeExtraction) || ev.Data.Texts != 1 || ev.Data.Model != "bert-base-cased" {
		t.Errorf("unexpected event %+v", ev)
	}
}
