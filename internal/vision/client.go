package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultEngineURL = "http://localhost:8000"

// Client implements Engine against a face embedding server. The server
// exposes two multipart endpoints: /detect returns bounding boxes for an
// image, /embed returns one embedding per supplied box.
type Client struct {
	baseURL string
	method  string // detection method hint passed to the server (hog, cnn)
	client  *http.Client
}

// NewClient creates a detection/embedding client for the given server.
func NewClient(baseURL, method string) *Client {
	if baseURL == "" {
		baseURL = defaultEngineURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		method:  method,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type detectResponse struct {
	Boxes []Box `json:"boxes"`
}

type embedResponse struct {
	Dim        int         `json:"dim"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Detect finds face bounding boxes in the image.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]Box, error) {
	body, err := c.postMultipart(ctx, "/detect", img, nil)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse detect response: %w", err)
	}
	return resp.Boxes, nil
}

// Embed computes one embedding per box, in box order.
func (c *Client) Embed(ctx context.Context, img image.Image, boxes []Box) ([][]float32, error) {
	if len(boxes) == 0 {
		return nil, nil
	}

	body, err := c.postMultipart(ctx, "/embed", img, boxes)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse embed response: %w", err)
	}
	if len(resp.Embeddings) != len(boxes) {
		return nil, fmt.Errorf("embedding count mismatch: %d boxes, %d embeddings",
			len(boxes), len(resp.Embeddings))
	}
	for _, emb := range resp.Embeddings {
		if len(emb) == 0 {
			return nil, errors.New("empty embedding returned")
		}
	}
	return resp.Embeddings, nil
}

// postMultipart encodes the image as JPEG, attaches the optional box list as
// a JSON form field and posts the form to the given endpoint.
func (c *Client) postMultipart(ctx context.Context, endpoint string, img image.Image, boxes []Box) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if err := jpeg.Encode(part, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	if c.method != "" {
		if err := writer.WriteField("method", c.method); err != nil {
			return nil, fmt.Errorf("failed to write method field: %w", err)
		}
	}
	if boxes != nil {
		boxJSON, err := json.Marshal(boxes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal boxes: %w", err)
		}
		if err := writer.WriteField("boxes", string(boxJSON)); err != nil {
			return nil, fmt.Errorf("failed to write boxes field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
