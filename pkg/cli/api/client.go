/*
Copyright © 2026 The echomind Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/echomind/echomind/pkg/consts"
	"github.com/echomind/echomind/pkg/models"
	"github.com/echomind/echomind/pkg/utils/pagination"
	"github.com/google/uuid"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	userID     uuid.UUID
	username   string
	password   string
}

func NewClient(baseURL string, userID uuid.UUID) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func NewClientWithAuth(baseURL string, userID uuid.UUID, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		userID:   userID,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type APIResponse struct {
	Code    int                `json:"code"`
	Message string             `json:"message"`
	Data    stdjson.RawMessage `json:"data"`
}

func (c *Client) doRequest(method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(consts.HeaderUserID, c.userID.String())

	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if apiResp.Code != 200 {
		return nil, fmt.Errorf("API error: %s", apiResp.Message)
	}
	return apiResp.Data, nil
}

func (c *Client) doJSON(method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	contentType := ""
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
		contentType = "application/json"
	}
	return c.doRequest(method, path, reqBody, contentType)
}

func (c *Client) CreateImportJob() (*models.ImportJobDto, error) {
	data, err := c.doJSON("POST", "/api/v1/imports", nil)
	if err != nil {
		return nil, err
	}

	var job models.ImportJobDto
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (c *Client) UploadExport(jobID uuid.UUID, export io.Reader) (*models.ImportJobDto, error) {
	data, err := c.doRequest("PUT", fmt.Sprintf("/api/v1/imports/%s/upload", jobID), export, "application/json")
	if err != nil {
		return nil, err
	}

	var job models.ImportJobDto
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (c *Client) ProcessImport(jobID uuid.UUID) (*models.ImportJobDto, error) {
	data, err := c.doJSON("POST", fmt.Sprintf("/api/v1/imports/%s/process", jobID), nil)
	if err != nil {
		return nil, err
	}

	var job models.ImportJobDto
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (c *Client) ListImportJobs(page, pageSize int) (*pagination.PagedResponse[models.ImportJobDto], error) {
	data, err := c.doJSON("GET", fmt.Sprintf("/api/v1/imports?page=%d&pageSize=%d", page, pageSize), nil)
	if err != nil {
		return nil, err
	}

	var result pagination.PagedResponse[models.ImportJobDto]
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal jobs: %w", err)
	}
	return &result, nil
}

func (c *Client) ImportStatus(jobID uuid.UUID) (*models.ImportJobDto, error) {
	data, err := c.doJSON("GET", fmt.Sprintf("/api/v1/imports/%s/status", jobID), nil)
	if err != nil {
		return nil, err
	}

	var job models.ImportJobDto
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (c *Client) MemoryStatus() (*models.MemoryStatusDto, error) {
	data, err := c.doJSON("GET", "/api/v1/memory/status", nil)
	if err != nil {
		return nil, err
	}

	var status models.MemoryStatusDto
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}

type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK,omitempty"`
}

type SearchResult struct {
	Chunks   []models.ScoredChunk `json:"chunks"`
	Degraded bool                 `json:"degraded"`
	Context  string               `json:"context"`
}

func (c *Client) Search(query string, topK int) (*SearchResult, error) {
	data, err := c.doJSON("POST", "/api/v1/memory/search", &SearchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}

	var result SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search result: %w", err)
	}
	return &result, nil
}

type DeleteRequest struct {
	ChunkIDs []uuid.UUID `json:"chunkIds,omitempty"`
}

type DeleteResult struct {
	DeletedChunks int64 `json:"deletedChunks"`
}

// DeleteMemory removes the named chunks, or everything when no IDs are
// given.
func (c *Client) DeleteMemory(chunkIDs ...uuid.UUID) (*DeleteResult, error) {
	var body any
	if len(chunkIDs) > 0 {
		body = &DeleteRequest{ChunkIDs: chunkIDs}
	}

	data, err := c.doJSON("DELETE", "/api/v1/memory", body)
	if err != nil {
		return nil, err
	}

	var result DeleteResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal delete result: %w", err)
	}
	return &result, nil
}

type EmbeddingHealth struct {
	Breaker struct {
		State               string        `json:"state"`
		ConsecutiveFailures int           `json:"consecutiveFailures"`
		LastFailure         *time.Time    `json:"lastFailure,omitempty"`
		CooldownRemaining   time.Duration `json:"cooldownRemaining"`
	} `json:"breaker"`
	Usage struct {
		Calls         int64   `json:"calls"`
		Tokens        int64   `json:"tokens"`
		EstimatedCost float64 `json:"estimatedCost"`
	} `json:"usage"`
	Model string `json:"model"`
}

func (c *Client) EmbeddingHealth() (*EmbeddingHealth, error) {
	data, err := c.doJSON("GET", "/api/v1/health/embedding", nil)
	if err != nil {
		return nil, err
	}

	var health EmbeddingHealth
	if err := json.Unmarshal(data, &health); err != nil {
		return nil, fmt.Errorf("failed to unmarshal health: %w", err)
	}
	return &health, nil
}
