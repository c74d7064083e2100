package services

import (
	"strings"

	"mycobot-backend/internal/models"
)

const DefaultHistoryWindow = 3

const systemPrompt = `You are an expert mycologist (mushroom specialist).
Only answer mushroom-related questions. Redirect off-topic chats back to mushrooms.
Always emphasize safety when discussing edibility.
`

const imageAnalysisPrompt = `When analyzing a mushroom image, provide TWO responses:

[JSON] → JSON object with fields:
{
  "common_name": "string or null",
  "genus": "string or null",
  "confidence": 0.0–1.0,
  "visible": ["cap","hymenium","stipe"],
  "color": "color",
  "edible": true/false/null
}

[RESPONSE] → Natural language summary for the user.
`

// ComposePrompt builds the single text prompt for one turn, using the last
// DefaultHistoryWindow turns of history.
func ComposePrompt(history []models.Turn, message string, withImage bool) string {
	return composePrompt(history, DefaultHistoryWindow, message, withImage)
}

func composePrompt(history []models.Turn, window int, message string, withImage bool) string {
	var b strings.Builder

	b.WriteString(systemPrompt)

	recent := recentTurns(history, window)
	if len(recent) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, t := range recent {
			b.WriteString("User: ")
			b.WriteString(t.User)
			b.WriteString("\nAssistant: ")
			b.WriteString(t.Assistant)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if withImage {
		b.WriteString(imageAnalysisPrompt)
		b.WriteString("\n")
	}
	b.WriteString("User's message: ")
	b.WriteString(message)

	return b.String()
}

func recentTurns(history []models.Turn, window int) []models.Turn {
	if window <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > window {
		return history[len(history)-window:]
	}
	return history
}
