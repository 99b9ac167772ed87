// Package rest is the client for the server's HTTP API: paginated
// conversation and message fetch, file upload, and call-history logging.
// The realtime path never depends on a successful HTTP round trip; callers
// treat failures here as transient and log them.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pcarvalho-dev/pigeon/internal/protocol"
)

// Conversation is the HTTP shape of a conversation summary.
type Conversation struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Avatar          string `json:"avatar"`
	LastMessage     string `json:"last_message"`
	LastMessageTime int64  `json:"last_message_time"`
	UnreadCount     int    `json:"unread_count"`
	Muted           bool   `json:"muted"`
}

// ConversationPage is one page of the conversation list.
type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	HasMore       bool           `json:"has_more"`
}

// MessagePage is one page of a conversation's history.
type MessagePage struct {
	Messages []protocol.Message `json:"messages"`
	HasMore  bool               `json:"has_more"`
}

// UploadResult is the server's response to a file upload.
type UploadResult struct {
	FilePath string `json:"file_path"`
	FileType string `json:"file_type"`
}

// CallRecord is a finished call logged to history.
type CallRecord struct {
	ConversationID string `json:"conversation_id"`
	Direction      string `json:"direction"` // "outgoing" or "incoming"
	Video          bool   `json:"video"`
	StartedAt      int64  `json:"started_at"`
	EndedAt        int64  `json:"ended_at"`
}

// Client talks to the server's HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// FetchConversations returns one page of the conversation list.
func (c *Client) FetchConversations(ctx context.Context, page int) (*ConversationPage, error) {
	var out ConversationPage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/conversations?page=%d", page), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchConversation returns one conversation's metadata. Used to backfill
// placeholder conversations synthesized during message ingestion.
func (c *Client) FetchConversation(ctx context.Context, id string) (*Conversation, error) {
	var out Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchMessages returns one page of a conversation's message history.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, page int) (*MessagePage, error) {
	var out MessagePage
	endpoint := fmt.Sprintf("/api/conversations/%s/messages?page=%d", conversationID, page)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadFile uploads an attachment and returns the stored path and type.
func (c *Client) UploadFile(ctx context.Context, name string, content io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy file content: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upload error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out UploadResult
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// LogCall records a finished call in the server-side call history.
func (c *Client) LogCall(ctx context.Context, rec CallRecord) error {
	return c.do(ctx, http.MethodPost, "/api/calls", rec, nil)
}
