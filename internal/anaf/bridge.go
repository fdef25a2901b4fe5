package anaf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SubmitResult is the bridge's answer to an upload request.
type SubmitResult struct {
	CompanyID uuid.UUID `json:"companyId"`
	Accepted  bool      `json:"accepted"`
	UploadID  string    `json:"uploadId"`
	Detail    string    `json:"detail"`
}

// BridgeClient talks to the submission bridge, the sidecar that holds the
// SPV certificates and speaks the authority's XML protocols. This process
// only exchanges document references and verdicts with it.
type BridgeClient struct {
	baseURL string
	client  *http.Client
}

// NewBridgeClient constructs the client.
func NewBridgeClient(baseURL string) *BridgeClient {
	return &BridgeClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type bridgeRequest struct {
	DocumentID string `json:"documentId"`
	Provider   string `json:"provider"`
}

// Submit asks the bridge to upload one document. A non-2xx answer or a
// transport failure returns an error so the caller retries; an accepted or
// rejected verdict comes back in the result.
func (c *BridgeClient) Submit(ctx context.Context, documentID uuid.UUID, provider string) (SubmitResult, error) {
	body, err := json.Marshal(bridgeRequest{DocumentID: documentID.String(), Provider: provider})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("anaf: marshal bridge request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit", bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("anaf: build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("anaf: bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SubmitResult{}, fmt.Errorf("anaf: bridge answered %d", resp.StatusCode)
	}
	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SubmitResult{}, fmt.Errorf("anaf: decode bridge answer: %w", err)
	}
	return result, nil
}
