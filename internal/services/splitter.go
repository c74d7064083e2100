package services

import (
	"encoding/json"
	"regexp"
	"strings"

	"mycobot-backend/internal/models"
)

const (
	jsonMarker     = "[JSON]"
	responseMarker = "[RESPONSE]"
)

var (
	// Greedy and newline-spanning: braces inside the prose section widen the match.
	objectSpan = regexp.MustCompile(`(?s)\{.*\}`)
	codeFence  = regexp.MustCompile("(?i)```(?:json)?")
)

// Extraction is a candidate structured block cut out of a model answer.
type Extraction struct {
	Block    string // raw candidate, not yet cleaned
	Text     string // user-facing text when Block parses
	Fallback string // user-facing text when Block does not parse
}

// Extractor finds a structured block in raw model output.
type Extractor interface {
	Extract(raw string) (Extraction, bool)
}

// MarkerExtractor reads the "[JSON] ... [RESPONSE] ..." convention.
type MarkerExtractor struct{}

func (MarkerExtractor) Extract(raw string) (Extraction, bool) {
	if !strings.Contains(raw, jsonMarker) || !strings.Contains(raw, responseMarker) {
		return Extraction{}, false
	}

	_, afterJSON, _ := strings.Cut(raw, jsonMarker)
	block, _, _ := strings.Cut(afterJSON, responseMarker)
	_, answer, _ := strings.Cut(raw, responseMarker)
	answer = strings.TrimSpace(answer)

	return Extraction{
		Block:    strings.TrimSpace(block),
		Text:     answer,
		Fallback: answer,
	}, true
}

// ScanExtractor takes the first brace-delimited span anywhere in the output.
type ScanExtractor struct{}

func (ScanExtractor) Extract(raw string) (Extraction, bool) {
	block := objectSpan.FindString(raw)
	if block == "" {
		return Extraction{}, false
	}
	return Extraction{
		Block:    block,
		Text:     strings.TrimSpace(strings.ReplaceAll(raw, block, "")),
		Fallback: raw,
	}, true
}

// Splitter separates an image turn's answer into analysis and prose.
type Splitter struct {
	extractors []Extractor
}

func NewSplitter(extractors ...Extractor) *Splitter {
	if len(extractors) == 0 {
		extractors = []Extractor{MarkerExtractor{}, ScanExtractor{}}
	}
	return &Splitter{extractors: extractors}
}

// Split returns the parsed analysis, or nil, and the text to show the user.
// The first extractor that finds a block decides the outcome.
func (s *Splitter) Split(raw string) (*models.Analysis, string) {
	for _, ex := range s.extractors {
		found, ok := ex.Extract(raw)
		if !ok {
			continue
		}
		analysis, err := parseAnalysis(found.Block)
		if err != nil {
			return nil, found.Fallback
		}
		return analysis, found.Text
	}
	return nil, raw
}

func cleanJSONBlock(block string) string {
	block = strings.TrimSpace(codeFence.ReplaceAllString(block, ""))
	return strings.Trim(block, "` \n\r\t")
}

func parseAnalysis(block string) (*models.Analysis, error) {
	var a models.Analysis
	if err := json.Unmarshal([]byte(cleanJSONBlock(block)), &a); err != nil {
		return nil, err
	}
	if a.IsEmpty() {
		return nil, nil
	}
	a.Normalize()
	return &a, nil
}
