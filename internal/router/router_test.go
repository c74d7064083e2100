package router

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mycobot-backend/internal/handlers"
	"mycobot-backend/internal/middleware"
	"mycobot-backend/internal/models"
	"mycobot-backend/internal/repository"
	"mycobot-backend/internal/services"
	"mycobot-backend/internal/websocket"
)

const modelAnswer = `[JSON]
{"common_name": "Chanterelle", "genus": "Cantharellus", "confidence": 0.8, "visible": ["cap", "gills"], "color": "orange", "edible": true}
[RESPONSE]
This looks like a chanterelle.`

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	gemini := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []interface{}{
				map[string]interface{}{
					"content": map[string]interface{}{
						"parts": []interface{}{map[string]string{"text": modelAnswer}},
					},
				},
			},
		})
	}))
	t.Cleanup(gemini.Close)

	reg := prometheus.NewRegistry()
	metrics := services.NewMetrics(reg)
	generator := services.NewGeminiClient(services.GeminiOptions{APIKey: "test-key", BaseURL: gemini.URL}, nil, metrics)
	chat := services.NewChatService(generator, services.NewImageEncoder(nil, metrics), repository.NewMemoryAnalysisRepo(time.Hour), nil, services.WithMetrics(metrics))
	uploads := services.NewUploads(t.TempDir(), 1<<20)

	hub := websocket.NewHub(chat, uploads, services.DefaultHistoryWindow, 1<<20, nil)
	t.Cleanup(hub.Close)
	limiter := middleware.NewRateLimiter(100, time.Minute)
	t.Cleanup(limiter.Stop)

	return New(
		handlers.NewChatHandler(chat, uploads, 1<<20, nil),
		hub,
		limiter,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		"*",
	)
}

func pngBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, G: 140, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestRouter_Health(t *testing.T) {
	h := newTestServer(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected request ID header")
	}
}

func TestRouter_ImageChatFlow(t *testing.T) {
	h := newTestServer(t)

	body, _ := json.Marshal(models.ChatRequest{
		Message: "What is this?",
		Image:   &models.ImageUpload{MimeType: "image/png", Data: pngBase64(t)},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.ChatResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Reply != "This looks like a chanterelle." || !resp.OK {
		t.Fatalf("unexpected reply %+v", resp)
	}
	if resp.Analysis == nil || resp.Analysis.Genus == nil || *resp.Analysis.Genus != "Cantharellus" {
		t.Fatalf("expected analysis in response, got %+v", resp.Analysis)
	}

	path := "/api/v1/sessions/" + resp.SessionID + "/analysis"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var stored models.Analysis
	json.NewDecoder(rr.Body).Decode(&stored)
	if stored.CommonName == nil || *stored.CommonName != "Chanterelle" {
		t.Errorf("unexpected stored analysis %+v", stored)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, path, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `mycobot_image_analyses_total`) {
		t.Error("expected image analysis metric to be exported")
	}
}
