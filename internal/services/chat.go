package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mycobot-backend/internal/models"
	"mycobot-backend/internal/repository"
)

// AnalysisStore holds the last analysis per chat session.
type AnalysisStore interface {
	Get(ctx context.Context, sessionID string) (*models.Analysis, error)
	Save(ctx context.Context, sessionID string, analysis *models.Analysis) error
	Delete(ctx context.Context, sessionID string) error
}

// TurnInput is everything a chat client sends for one turn.
type TurnInput struct {
	Message   string
	History   []models.Turn
	ImagePath string
}

// TurnResult is the answer to one turn. Analysis is set only when an image
// turn produced parseable structured data.
type TurnResult struct {
	Text          string
	Analysis      *models.Analysis
	ImageAnalyzed bool
	Generation    ResultKind
}

func (r TurnResult) OK() bool { return r.Generation == ResultOK }

type ChatService struct {
	generator     Generator
	encoder       *ImageEncoder
	splitter      *Splitter
	store         AnalysisStore
	historyWindow int
	logger        *zap.SugaredLogger
	metrics       *Metrics
}

type ChatOption func(*ChatService)

func WithHistoryWindow(n int) ChatOption {
	return func(s *ChatService) { s.historyWindow = n }
}

func WithMetrics(m *Metrics) ChatOption {
	return func(s *ChatService) { s.metrics = m }
}

func WithSplitter(sp *Splitter) ChatOption {
	return func(s *ChatService) { s.splitter = sp }
}

func NewChatService(generator Generator, encoder *ImageEncoder, store AnalysisStore, logger *zap.SugaredLogger, opts ...ChatOption) *ChatService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if encoder == nil {
		encoder = NewImageEncoder(logger, nil)
	}
	s := &ChatService{
		generator:     generator,
		encoder:       encoder,
		splitter:      NewSplitter(),
		store:         store,
		historyWindow: DefaultHistoryWindow,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Respond runs one turn: compose, encode, generate and, for image turns, split.
func (s *ChatService) Respond(ctx context.Context, in TurnInput) TurnResult {
	// An image that cannot be encoded degrades the turn to text-only.
	img := s.encoder.Encode(in.ImagePath)
	withImage := img != nil
	s.metrics.observeTurn(withImage)

	parts := []Part{{Text: composePrompt(in.History, s.historyWindow, in.Message, withImage)}}
	if withImage {
		parts = append(parts, Part{InlineData: img})
	}

	res := s.generator.Generate(ctx, []Content{{Role: "user", Parts: parts}})
	if !res.OK() || !withImage {
		return TurnResult{Text: res.Display(), Generation: res.Kind}
	}

	analysis, text := s.splitter.Split(res.Text)
	s.metrics.observeAnalysis(analysis != nil)
	if analysis != nil {
		s.logger.Debugw("Image analysis parsed", "common_name", analysis.CommonName, "genus", analysis.Genus)
	}

	return TurnResult{
		Text:          text,
		Analysis:      analysis,
		ImageAnalyzed: true,
		Generation:    res.Kind,
	}
}

// Converse is Respond plus session memory: a parsed analysis replaces the
// session's previous one; turns without one leave it as it was.
func (s *ChatService) Converse(ctx context.Context, sessionID string, in TurnInput) (TurnResult, error) {
	res := s.Respond(ctx, in)
	if res.Analysis == nil || s.store == nil || sessionID == "" {
		return res, nil
	}
	if err := s.store.Save(ctx, sessionID, res.Analysis); err != nil {
		return res, fmt.Errorf("failed to save analysis: %w", err)
	}
	return res, nil
}

// LastAnalysis returns the session's most recent analysis, or nil.
func (s *ChatService) LastAnalysis(ctx context.Context, sessionID string) (*models.Analysis, error) {
	if s.store == nil {
		return nil, nil
	}
	a, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (s *ChatService) ForgetAnalysis(ctx context.Context, sessionID string) error {
	if s.store == nil {
		return nil
	}
	return s.store.Delete(ctx, sessionID)
}
