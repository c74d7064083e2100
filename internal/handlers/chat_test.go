package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"mycobot-backend/internal/models"
	"mycobot-backend/internal/services"
)

type fakeChat struct {
	result    services.TurnResult
	err       error
	sessionID string
	input     services.TurnInput
	imageData []byte
	analysis  *models.Analysis
	forgotten string
}

func (f *fakeChat) Converse(_ context.Context, sessionID string, in services.TurnInput) (services.TurnResult, error) {
	f.sessionID = sessionID
	f.input = in
	if in.ImagePath != "" {
		f.imageData, _ = os.ReadFile(in.ImagePath)
	}
	return f.result, f.err
}

func (f *fakeChat) LastAnalysis(context.Context, string) (*models.Analysis, error) {
	return f.analysis, nil
}

func (f *fakeChat) ForgetAnalysis(_ context.Context, sessionID string) error {
	f.forgotten = sessionID
	return nil
}

func newTestHandler(t *testing.T, chat *fakeChat) *ChatHandler {
	return NewChatHandler(chat, services.NewUploads(t.TempDir(), 1024), 1024, nil)
}

func okResult(text string) services.TurnResult {
	return services.TurnResult{Text: text, Generation: services.ResultOK}
}

func TestChatHandler_JSON(t *testing.T) {
	chat := &fakeChat{result: okResult("Chanterelles smell of apricot.")}
	h := newTestHandler(t, chat)

	body, _ := json.Marshal(models.ChatRequest{
		Message: "how do chanterelles smell?",
		History: []models.Turn{{User: "hi", Assistant: "hello"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.Chat(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp models.ChatResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Reply != "Chanterelles smell of apricot." || !resp.OK {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.SessionID == "" || resp.SessionID != chat.sessionID {
		t.Errorf("expected generated session ID to be echoed, got %q / %q", resp.SessionID, chat.sessionID)
	}
	if len(chat.input.History) != 1 || chat.input.ImagePath != "" {
		t.Errorf("unexpected turn input %+v", chat.input)
	}
}

func TestChatHandler_JSONWithImage(t *testing.T) {
	chat := &fakeChat{result: okResult("A bolete.")}
	h := newTestHandler(t, chat)

	body, _ := json.Marshal(models.ChatRequest{
		Message:   "what is this?",
		SessionID: "6f1c1f8e-8b9a-4b8e-9a55-2d8e0e7f1a10",
		Image:     &models.ImageUpload{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString([]byte("fake png"))},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.Chat(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if string(chat.imageData) != "fake png" {
		t.Errorf("expected staged image to reach the service, got %q", chat.imageData)
	}
	if chat.sessionID != "6f1c1f8e-8b9a-4b8e-9a55-2d8e0e7f1a10" {
		t.Errorf("expected client session ID, got %q", chat.sessionID)
	}
	if _, err := os.Stat(chat.input.ImagePath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected staged image to be removed after the turn")
	}
}

func TestChatHandler_Multipart(t *testing.T) {
	analysis := &models.Analysis{Color: "orange"}
	chat := &fakeChat{result: services.TurnResult{Text: "Orange cap.", Analysis: analysis, ImageAnalyzed: true, Generation: services.ResultOK}}
	h := newTestHandler(t, chat)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("message", "what is it?")
	mw.WriteField("history", `[{"user":"a","assistant":"b"},{"user":"c","assistant":"d"}]`)
	fw, _ := mw.CreateFormFile("image", "shroom.jpg")
	fw.Write([]byte("jpeg bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()

	h.Chat(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(chat.input.History) != 2 || chat.input.History[1].User != "c" {
		t.Errorf("unexpected history %+v", chat.input.History)
	}
	if string(chat.imageData) != "jpeg bytes" {
		t.Errorf("unexpected staged image %q", chat.imageData)
	}
	var resp models.ChatResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Analysis == nil || resp.Analysis.Color != "orange" {
		t.Errorf("expected analysis in response, got %+v", resp.Analysis)
	}
}

func TestChatHandler_FailedGenerationIsFlagged(t *testing.T) {
	chat := &fakeChat{result: services.TurnResult{Text: "API error: 500 - boom", Generation: services.ResultHTTPError}}
	h := newTestHandler(t, chat)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message":"hi"}`))
	rr := httptest.NewRecorder()
	h.Chat(rr, req)

	var resp models.ChatResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if rr.Code != http.StatusOK || resp.OK || resp.Reply != "API error: 500 - boom" {
		t.Errorf("unexpected response %d %+v", rr.Code, resp)
	}
}

func TestChatHandler_Validation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{"message":`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"empty message", `{"message":"   "}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad session", `{"message":"hi","session_id":"nope"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad image", `{"message":"hi","image":{"data":"***"}}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"image too large", `{"message":"hi","image":{"data":"` + base64.StdEncoding.EncodeToString(make([]byte, 2000)) + `"}}`, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeChat{result: okResult("unused")})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(tc.body))
			req.Header.Set("X-Request-ID", "req-1")
			rr := httptest.NewRecorder()

			h.Chat(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("Expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			var resp models.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode error: %v", err)
			}
			if resp.Error.Code != tc.code || resp.Error.RequestID != "req-1" {
				t.Errorf("unexpected error %+v", resp.Error)
			}
		})
	}
}

func routeRequest(method, path string, h http.HandlerFunc, pattern string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestChatHandler_GetAnalysis(t *testing.T) {
	id := "6f1c1f8e-8b9a-4b8e-9a55-2d8e0e7f1a10"
	genus := "Morchella"

	h := newTestHandler(t, &fakeChat{analysis: &models.Analysis{Genus: &genus}})
	rr := routeRequest(http.MethodGet, "/sessions/"+id+"/analysis", h.GetAnalysis, "/sessions/{id}/analysis")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var got models.Analysis
	json.NewDecoder(rr.Body).Decode(&got)
	if got.Genus == nil || *got.Genus != "Morchella" {
		t.Errorf("unexpected analysis %+v", got)
	}

	h = newTestHandler(t, &fakeChat{})
	if rr := routeRequest(http.MethodGet, "/sessions/"+id+"/analysis", h.GetAnalysis, "/sessions/{id}/analysis"); rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
	if rr := routeRequest(http.MethodGet, "/sessions/not-a-uuid/analysis", h.GetAnalysis, "/sessions/{id}/analysis"); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestChatHandler_DeleteAnalysis(t *testing.T) {
	id := "6f1c1f8e-8b9a-4b8e-9a55-2d8e0e7f1a10"
	chat := &fakeChat{}
	h := newTestHandler(t, chat)

	rr := routeRequest(http.MethodDelete, "/sessions/"+id+"/analysis", h.DeleteAnalysis, "/sessions/{id}/analysis")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rr.Code)
	}
	if chat.forgotten != id {
		t.Errorf("expected session %s to be cleared, got %q", id, chat.forgotten)
	}
}
