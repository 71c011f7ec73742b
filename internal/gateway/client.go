// Package gateway is the client surface of the remote backend the sync
// coordinator drains queued mutations against. Retry and backoff are
// deliberately absent: the outbox already holds the durable copy, so a
// failed call simply leaves the record queued for the next drain pass.
package gateway

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
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// AttachmentUpload carries one photo mutation to the backend.
type AttachmentUpload struct {
	ActorID   string `json:"actorId"`
	ActorName string `json:"actorName,omitempty"`
	Payload   string `json:"payload"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Resource is the canonical state the backend returns for a created place.
type Resource struct {
	ID           string `json:"id"`
	CollectionID string `json:"collectionId"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

// Attachment is the canonical state for a photo in a collection.
type Attachment struct {
	ID           string `json:"id"`
	CollectionID string `json:"collectionId"`
	ActorID      string `json:"actorId"`
}

// Gateway accepts the four queued mutation kinds and returns canonical
// resource state.
type Gateway interface {
	CreateResource(ctx context.Context, upload AttachmentUpload) (Resource, error)
	AddAttachment(ctx context.Context, collectionID string, upload AttachmentUpload) (Attachment, error)
	ReplaceAttachment(ctx context.Context, attachmentID string, upload AttachmentUpload) (Attachment, error)
	DeleteAttachment(ctx context.Context, attachmentID, actorID string) error
}

type HTTPGateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPGateway(baseURL, token string, httpClient *http.Client) *HTTPGateway {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPGateway{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

func (c *HTTPGateway) CreateResource(ctx context.Context, upload AttachmentUpload) (Resource, error) {
	var out Resource
	err := c.doJSON(ctx, http.MethodPost, "/v1/resources", upload, &out)
	return out, err
}

func (c *HTTPGateway) AddAttachment(ctx context.Context, collectionID string, upload AttachmentUpload) (Attachment, error) {
	var out Attachment
	path := fmt.Sprintf("/v1/collections/%s/attachments", url.PathEscape(collectionID))
	err := c.doJSON(ctx, http.MethodPost, path, upload, &out)
	return out, err
}

func (c *HTTPGateway) ReplaceAttachment(ctx context.Context, attachmentID string, upload AttachmentUpload) (Attachment, error) {
	var out Attachment
	path := fmt.Sprintf("/v1/attachments/%s", url.PathEscape(attachmentID))
	err := c.doJSON(ctx, http.MethodPut, path, upload, &out)
	return out, err
}

func (c *HTTPGateway) DeleteAttachment(ctx context.Context, attachmentID, actorID string) error {
	q := url.Values{}
	q.Set("actorId", strings.TrimSpace(actorID))
	path := fmt.Sprintf("/v1/attachments/%s?%s", url.PathEscape(attachmentID), q.Encode())
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPGateway) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	payloadBytes, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payloadBytes) == 0 {
			return nil
		}
		return json.Unmarshal(payloadBytes, out)
	}

	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payloadBytes, &errPayload)
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Code:       errPayload.Code,
		Message:    errPayload.Message,
	}
}
