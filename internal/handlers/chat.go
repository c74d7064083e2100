package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mycobot-backend/internal/models"
	"mycobot-backend/internal/services"
)

type chatService interface {
	Converse(ctx context.Context, sessionID string, in services.TurnInput) (services.TurnResult, error)
	LastAnalysis(ctx context.Context, sessionID string) (*models.Analysis, error)
	ForgetAnalysis(ctx context.Context, sessionID string) error
}

type imageStager interface {
	Stage(r io.Reader) (string, func(), error)
	StageBase64(data string) (string, func(), error)
}

type ChatHandler struct {
	chat      chatService
	uploads   imageStager
	maxUpload int64
	logger    *zap.SugaredLogger
}

func NewChatHandler(chat chatService, uploads imageStager, maxUpload int64, logger *zap.SugaredLogger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ChatHandler{
		chat:      chat,
		uploads:   uploads,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// badRequest is a validation failure whose text is shown to the client as is.
type badRequest string

func (e badRequest) Error() string { return string(e) }

// chatInput is a parsed chat request with its image already staged on disk.
type chatInput struct {
	req       models.ChatRequest
	imagePath string
	cleanup   func()
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	// Room for the form fields next to the image itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload*2+(1<<20))

	var (
		in  *chatInput
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		in, err = h.parseMultipart(r)
	} else {
		in, err = h.parseJSON(r)
	}
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.Is(err, services.ErrUploadTooLarge) || errors.As(err, &mbe) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("PAYLOAD_TOO_LARGE", "Image is too large", r))
			return
		}
		var br badRequest
		if errors.As(err, &br) {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", br.Error(), r))
			return
		}
		h.logger.Errorw("Failed to stage image", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to process upload", r))
		return
	}
	if in.cleanup != nil {
		defer in.cleanup()
	}

	if strings.TrimSpace(in.req.Message) == "" && in.imagePath == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Message is required", r))
		return
	}

	sessionID, ok := resolveSessionID(in.req.SessionID)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	res, err := h.chat.Converse(r.Context(), sessionID, services.TurnInput{
		Message:   in.req.Message,
		History:   in.req.History,
		ImagePath: in.imagePath,
	})
	if err != nil {
		// The answer is still good; only the session memory missed the update.
		h.logger.Warnw("Failed to store analysis", "session_id", sessionID, "error", err)
	}

	writeJSON(w, http.StatusOK, models.ChatResponse{
		Reply:     res.Text,
		SessionID: sessionID,
		OK:        res.OK(),
		Analysis:  res.Analysis,
	})
}

func (h *ChatHandler) parseJSON(r *http.Request) (*chatInput, error) {
	var in chatInput
	if err := json.NewDecoder(r.Body).Decode(&in.req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, err
		}
		return nil, badRequest("Invalid request body")
	}
	if in.req.Image != nil && in.req.Image.Data != "" {
		path, cleanup, err := h.uploads.StageBase64(in.req.Image.Data)
		if err != nil {
			if errors.Is(err, services.ErrUploadTooLarge) {
				return nil, err
			}
			return nil, badRequest("Invalid image data")
		}
		in.imagePath, in.cleanup = path, cleanup
	}
	return &in, nil
}

func (h *ChatHandler) parseMultipart(r *http.Request) (*chatInput, error) {
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, err
		}
		return nil, badRequest("Invalid multipart form")
	}

	in := chatInput{req: models.ChatRequest{
		Message:   r.FormValue("message"),
		SessionID: r.FormValue("session_id"),
	}}
	if raw := r.FormValue("history"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.req.History); err != nil {
			return nil, badRequest("Invalid history")
		}
	}

	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return &in, nil
	}
	if err != nil {
		return nil, badRequest("Invalid image upload")
	}
	defer file.Close()

	path, cleanup, err := h.uploads.Stage(file)
	if err != nil {
		return nil, err
	}
	in.imagePath, in.cleanup = path, cleanup
	return &in, nil
}

func (h *ChatHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	analysis, err := h.chat.LastAnalysis(r.Context(), sessionID.String())
	if err != nil {
		h.logger.Errorw("Failed to load analysis", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load analysis", r))
		return
	}
	if analysis == nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "No analysis for this session", r))
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

func (h *ChatHandler) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	if err := h.chat.ForgetAnalysis(r.Context(), sessionID.String()); err != nil {
		h.logger.Errorw("Failed to delete analysis", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to delete analysis", r))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// resolveSessionID returns the client's session ID, or a fresh one.
func resolveSessionID(raw string) (string, bool) {
	if raw == "" {
		return uuid.New().String(), true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
