package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dvarga/mailpilot/internal/search"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxContextHits bounds how many index hits get packed into the system prompt.
const maxContextHits = 8

// ChatMessage is one turn of the chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatHandler answers mailbox questions: it retrieves relevant emails from the
// search index and proxies the grounded conversation to the generation
// backend, streaming the reply through.
type ChatHandler struct {
	pool          *pgxpool.Pool
	indexer       *search.Indexer
	generationURL string
	httpClient    *http.Client
}

// NewChatHandler creates a new ChatHandler instance.
func NewChatHandler(pool *pgxpool.Pool, indexer *search.Indexer, generationURL string) *ChatHandler {
	return &ChatHandler{
		pool:          pool,
		indexer:       indexer,
		generationURL: generationURL,
		httpClient: &http.Client{
			// Generation can be slow; the stream itself has no deadline.
			Timeout: 5 * time.Minute,
		},
	}
}

// Chat handles one chat request.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}

	var req struct {
		AccountID string        `json:"accountId"`
		Messages  []ChatMessage `json:"messages"`
	}
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if req.AccountID == "" || len(req.Messages) == 0 {
		http.Error(w, "accountId and messages are required", http.StatusBadRequest)
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Content == "" {
		http.Error(w, "last message has no content", http.StatusBadRequest)
		return
	}

	// Verify ownership; the query drives which index the hits come from.
	q := r.URL.Query()
	q.Set("account_id", req.AccountID)
	r.URL.RawQuery = q.Encode()
	account, ok := RequireAccount(ctx, w, r, h.pool, userID)
	if !ok {
		return
	}

	hits, err := h.indexer.VectorSearch(ctx, account.ID, last.Content, "", maxContextHits)
	if err != nil {
		// Retrieval failure degrades the answer, it doesn't block it.
		log.Printf("ChatHandler: Vector search failed: %v", err)
		hits = nil
	}

	payload, err := json.Marshal(map[string]any{
		"messages": append([]ChatMessage{{Role: "system", Content: buildSystemPrompt(hits)}}, req.Messages...),
	})
	if err != nil {
		log.Printf("ChatHandler: Failed to encode upstream payload: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.generationURL, bytes.NewReader(payload))
	if err != nil {
		log.Printf("ChatHandler: Failed to create upstream request: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	upstreamReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(upstreamReq)
	if err != nil {
		log.Printf("ChatHandler: Generation backend unreachable: %v", err)
		http.Error(w, "Generation backend unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("ChatHandler: Generation backend returned %d: %s", resp.StatusCode, msg)
		http.Error(w, fmt.Sprintf("Upstream failure: %d", resp.StatusCode), http.StatusBadGateway)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/event-stream; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)

	// Stream the reply through as it arrives.
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			log.Printf("ChatHandler: Upstream stream aborted: %v", readErr)
			return
		}
	}
}

// buildSystemPrompt packs the retrieved emails into the assistant's grounding
// context.
func buildSystemPrompt(hits []search.Hit) string {
	var b strings.Builder
	b.WriteString("You are an AI email assistant. Use the context hits below to answer user queries.\n")
	b.WriteString("TIME: " + time.Now().UTC().Format(time.RFC3339) + "\n")
	b.WriteString("START CONTEXT\n")
	for i, hit := range hits {
		doc, err := json.MarshalIndent(hit, "", "  ")
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "--- HIT %d ---\n%s\n", i+1, doc)
	}
	b.WriteString("END CONTEXT")
	return b.String()
}
