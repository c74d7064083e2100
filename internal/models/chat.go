package models

// Turn is one exchange of the conversation, as held by the chat client.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// ImageUpload carries an inline image in a JSON chat request.
type ImageUpload struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

// ChatRequest is the payload sent to the chat endpoint.
type ChatRequest struct {
	Message   string       `json:"message"`
	History   []Turn       `json:"history"`
	SessionID string       `json:"session_id"`
	Image     *ImageUpload `json:"image,omitempty"`
}

// ChatResponse is the reply from the AI chat.
type ChatResponse struct {
	Reply     string    `json:"reply"`
	SessionID string    `json:"session_id"`
	OK        bool      `json:"ok"`
	Analysis  *Analysis `json:"analysis,omitempty"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"` // "message" | "reply" | "error"
	Payload interface{} `json:"payload"`
}

type WSChatMessage struct {
	Message string       `json:"message"`
	Image   *ImageUpload `json:"image,omitempty"`
}

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
