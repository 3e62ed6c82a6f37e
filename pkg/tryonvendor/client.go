package tryonvendor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fitroom/backend/internal/domain"
)

// Result is one generation outcome reported by the vendor for a task.
type Result struct {
	ResultID string `json:"id"`
	Status   string `json:"status"`
	FileURL  string `json:"fileUrl"`
	ErrorMsg string `json:"errorMsg"`
}

// Client talks to the try-on generation vendor. Submitting a job is a three
// step dance: request a signed upload URL per input image, PUT the raw bytes,
// then create the generation task referencing the uploaded file keys.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// New creates a vendor client. baseURL is the API root without a trailing
// slash, e.g. https://api.sellerpic.ai/v1/api.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 90 * time.Second},
	}
}

type uploadSlotResponse struct {
	Data struct {
		ImageURL string `json:"imageUrl"`
		FileKey  string `json:"fileKey"`
	} `json:"data"`
}

type createTaskResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type pollResponse struct {
	Data struct {
		ResultList []Result `json:"resultList"`
	} `json:"data"`
}

// UploadImage pushes raw image bytes to the vendor and returns the file key
// the generation task will reference. format is the bare extension ("jpg").
func (c *Client) UploadImage(ctx context.Context, data []byte, format string) (string, error) {
	var slot uploadSlotResponse
	url := fmt.Sprintf("%s/upload/getUploadUrl?format=%s", c.baseURL, format)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &slot); err != nil {
		return "", &domain.VendorError{Op: "get upload url", Err: err}
	}
	if slot.Data.ImageURL == "" || slot.Data.FileKey == "" {
		return "", &domain.VendorError{Op: "get upload url", Err: fmt.Errorf("response missing imageUrl or fileKey")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.Data.ImageURL, bytes.NewReader(data))
	if err != nil {
		return "", &domain.VendorError{Op: "upload image", Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &domain.VendorError{Op: "upload image", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &domain.VendorError{Op: "upload image", Err: fmt.Errorf("signed upload returned status %d", resp.StatusCode)}
	}

	return slot.Data.FileKey, nil
}

// Submit creates the try-on generation task and returns the vendor task id.
// category decides which garment slot the dress image fills.
func (c *Client) Submit(ctx context.Context, modelKey, dressKey, category string) (string, error) {
	garment := map[string]string{"imageKey": dressKey}
	payload := map[string]any{"modelImageKey": modelKey}
	switch category {
	case "top":
		payload["top"] = garment
	case "bottom":
		payload["bottom"] = garment
	case "full":
		payload["dresses"] = garment
	default:
		return "", &domain.VendorError{Op: "create task", Err: fmt.Errorf("unsupported category %q", category)}
	}

	var created createTaskResponse
	url := c.baseURL + "/generate/tryOnApparel"
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &created); err != nil {
		return "", &domain.VendorError{Op: "create task", Err: err}
	}
	if created.Data.ID == "" {
		return "", &domain.VendorError{Op: "create task", Err: fmt.Errorf("response missing task id")}
	}
	return created.Data.ID, nil
}

// Poll fetches the current result list for a task. An empty list is an error;
// the vendor always reports one entry per expected output.
func (c *Client) Poll(ctx context.Context, taskID string) ([]Result, error) {
	var polled pollResponse
	url := fmt.Sprintf("%s/generate?id=%s", c.baseURL, taskID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &polled); err != nil {
		return nil, &domain.VendorError{Op: "poll task", Err: err}
	}
	if len(polled.Data.ResultList) == 0 {
		return nil, &domain.VendorError{Op: "poll task", Err: fmt.Errorf("empty result list for task %s", taskID)}
	}
	return polled.Data.ResultList, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("vendor returned status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
