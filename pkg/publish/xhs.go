package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const xhsTitleLimit = 50

// XHS publishes notes to 小红书 through a local browser-automation bridge.
// The bridge owns the Playwright session and persisted login state; this
// client only speaks its small HTTP contract.
type XHS struct {
	client    *http.Client
	bridgeURL string
}

// NewXHS creates a new 小红书 publisher talking to the given bridge.
func NewXHS(bridgeURL string) *XHS {
	return &XHS{
		client:    &http.Client{Timeout: 3 * time.Minute},
		bridgeURL: strings.TrimRight(bridgeURL, "/"),
	}
}

func (x *XHS) Name() string    { return "xhs" }
func (x *XHS) TitleLimit() int { return xhsTitleLimit }

func (x *XHS) Publish(ctx context.Context, post Post) (Result, error) {
	payload := map[string]any{
		"title":   post.Title,
		"content": post.Content,
	}
	if len(post.Media) > 0 {
		payload["images"] = post.Media
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal xhs payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.bridgeURL+"/publish", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create xhs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call xhs bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("xhs bridge status %d", resp.StatusCode)
	}

	var out struct {
		Success       bool   `json:"success"`
		PostID        string `json:"post_id"`
		LoginRequired bool   `json:"login_required"`
		Error         string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode xhs response: %w", err)
	}

	if out.LoginRequired {
		return Result{}, fmt.Errorf("xhs session expired: %w", ErrLoginRequired)
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = "unknown error"
		}
		return Result{}, fmt.Errorf("xhs publish failed: %s", out.Error)
	}

	return Result{PostID: out.PostID}, nil
}

var _ Publisher = (*XHS)(nil)
