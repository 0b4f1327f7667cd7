// internal/chatsync/restclient.go

package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

const apiPrefix = "/api/v1/chat"

// APIError is returned for any non-2xx gateway response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api error %d: %s", e.Status, e.Message)
}

// RESTClient implements API against the chat gateway.
type RESTClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewRESTClient creates a client for the gateway at baseURL.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiEnvelope mirrors the gateway's standard response body.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// do performs a request and decodes the data field into out, if non-nil.
func (c *RESTClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+apiPrefix+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env apiEnvelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil && resp.StatusCode < 400 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (c *RESTClient) ListConversations(ctx context.Context) ([]*messaging.Conversation, error) {
	var out []*messaging.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) GetMessages(ctx context.Context, conversationID string) ([]*messaging.Message, error) {
	var out []*messaging.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) SendMessage(ctx context.Context, req *messaging.SendMessageRequest) (*messaging.Message, error) {
	return c.message(ctx, http.MethodPost, "/messages", req)
}

func (c *RESTClient) EditMessage(ctx context.Context, req *messaging.EditMessageRequest) (*messaging.Message, error) {
	return c.message(ctx, http.MethodPatch, "/messages/"+url.PathEscape(req.MessageID), req)
}

func (c *RESTClient) DeleteMessage(ctx context.Context, ref *messaging.MessageRef) (*messaging.Message, error) {
	return c.message(ctx, http.MethodDelete, "/messages/"+url.PathEscape(ref.MessageID), nil)
}

func (c *RESTClient) ToggleReaction(ctx context.Context, req *messaging.ReactionRequest) (*messaging.Message, error) {
	return c.message(ctx, http.MethodPost, "/messages/"+url.PathEscape(req.MessageID)+"/reactions", req)
}

func (c *RESTClient) TogglePin(ctx context.Context, ref *messaging.MessageRef) (*messaging.Message, error) {
	return c.message(ctx, http.MethodPost, "/messages/"+url.PathEscape(ref.MessageID)+"/pin", nil)
}

func (c *RESTClient) ForwardMessage(ctx context.Context, req *messaging.ForwardRequest) (*messaging.Message, error) {
	return c.message(ctx, http.MethodPost, "/messages/"+url.PathEscape(req.MessageID)+"/forward", req)
}

func (c *RESTClient) message(ctx context.Context, method, path string, body interface{}) (*messaging.Message, error) {
	var msg messaging.Message
	if err := c.do(ctx, method, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *RESTClient) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

func (c *RESTClient) CreateDirect(ctx context.Context, userID string) (*messaging.Conversation, error) {
	var conv messaging.Conversation
	req := messaging.CreateDirectRequest{UserID: userID}
	if err := c.do(ctx, http.MethodPost, "/conversations/direct", req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *RESTClient) CreateGroup(ctx context.Context, name string, userIDs []string) (*messaging.Conversation, error) {
	var conv messaging.Conversation
	req := messaging.CreateGroupRequest{Name: name, Kind: messaging.KindGroup, UserIDs: userIDs}
	if err := c.do(ctx, http.MethodPost, "/conversations/group", req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *RESTClient) RenameConversation(ctx context.Context, conversationID, name string) error {
	req := messaging.RenameConversationRequest{Name: name}
	return c.do(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(conversationID), req, nil)
}

func (c *RESTClient) LeaveConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/leave", nil, nil)
}

func (c *RESTClient) ToggleMuteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/mute", nil, nil)
}

func (c *RESTClient) SearchMessages(ctx context.Context, query string) ([]*messaging.SearchResult, error) {
	var out []*messaging.SearchResult
	if err := c.do(ctx, http.MethodGet, "/search?q="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) GetPinnedMessages(ctx context.Context, conversationID string) ([]*messaging.Message, error) {
	var out []*messaging.Message
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/pinned", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
