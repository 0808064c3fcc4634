// Package imagehost uploads avatar images to imgbb and returns a public URL.
package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bloodlink/bloodlink-backend/config"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
)

const DefaultTimeout = 30 * time.Second

// MaxImageSize caps uploads accepted from clients.
const MaxImageSize = 5 << 20

// Client talks to the imgbb v1 upload API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.ImageHostConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

type uploadResponse struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
	Data    struct {
		URL        string `json:"url"`
		DisplayURL string `json:"display_url"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload posts the API key and the image as multipart fields "key" and
// "image". The key stays out of the URL so transport errors never carry it.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	if c.apiKey == "" {
		return "", errs.External(nil, "image host is not configured")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("key", c.apiKey); err != nil {
		return "", fmt.Errorf("write key field: %w", err)
	}
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	n, err := io.Copy(part, io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if n > MaxImageSize {
		return "", errs.Validation("image exceeds %d bytes", MaxImageSize)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/1/upload", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.External(err, "image upload failed")
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errs.External(err, "image host returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !out.Success || out.Data.URL == "" {
		msg := out.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", errs.External(nil, "image host rejected upload: %s", msg)
	}
	return out.Data.URL, nil
}
