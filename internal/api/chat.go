package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyai/parley/internal/llm"
)

// chatSystemPrompt steers the plain streaming endpoint; it has no
// tools and no memory.
const chatSystemPrompt = "You are a helpful, concise, and friendly AI assistant. Answer clearly and directly."

// handleChatSSE streams model tokens as server-sent events. Each token
// is one `data:` event; the stream ends with [DONE], or [ERROR] when
// the model call fails mid-stream.
func (s *Server) handleChatSSE(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")
	if prompt == "" {
		s.errorResponse(w, http.StatusBadRequest, "prompt is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	messages := []llm.Message{
		{Role: "system", Content: chatSystemPrompt},
		{Role: "user", Content: prompt},
	}

	// r.Context() is cancelled when the client disconnects, which
	// stops the model read loop inside ChatStream.
	_, err := s.chat.ChatStream(r.Context(), messages, func(token string) {
		fmt.Fprintf(w, "data: %s\n\n", token)
		flusher.Flush()
	})
	if err != nil {
		if r.Context().Err() != nil {
			s.logger.Debug("chat stream client disconnected")
			return
		}
		s.logger.Error("chat stream failed", "error", err)
		fmt.Fprintf(w, "data: [ERROR] %s\n\n", err)
		flusher.Flush()
		return
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The SSE endpoint is already origin-open; the socket matches.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsPrompt is the client message on the chat websocket.
type wsPrompt struct {
	Prompt string `json:"prompt"`
}

// handleChatWS is the websocket variant of the streaming chat: the
// client sends {"prompt": ...} and receives one text message per token
// followed by [DONE].
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var req wsPrompt
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if req.Prompt == "" {
			if err := conn.WriteMessage(websocket.TextMessage, []byte("[ERROR] prompt is required")); err != nil {
				return
			}
			continue
		}

		messages := []llm.Message{
			{Role: "system", Content: chatSystemPrompt},
			{Role: "user", Content: req.Prompt},
		}

		writeFailed := false
		_, err := s.chat.ChatStream(r.Context(), messages, func(token string) {
			if writeFailed {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(token)); err != nil {
				writeFailed = true
			}
		})
		if writeFailed {
			return
		}
		if err != nil {
			s.logger.Error("websocket chat failed", "error", err)
			conn.WriteMessage(websocket.TextMessage, []byte("[ERROR] "+err.Error()))
			continue
		}

		if err := conn.WriteMessage(websocket.TextMessage, []byte("[DONE]")); err != nil {
			return
		}
	}
}
