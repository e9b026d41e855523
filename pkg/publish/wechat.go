package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const wechatTitleLimit = 60

// WeChat credential error codes that mean re-authentication, not retry.
const (
	wechatErrInvalidCredential = 40001
	wechatErrTokenExpired      = 42001
)

// WeChat publishes draft articles to a 微信公众号 via the official account
// API. Drafts still need manual review inside WeChat before going live.
type WeChat struct {
	client    *http.Client
	appID     string
	appSecret string
	baseURL   string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewWeChat creates a new 微信公众号 draft publisher.
func NewWeChat(appID, appSecret, baseURL string) *WeChat {
	if baseURL == "" {
		baseURL = "https://api.weixin.qq.com"
	}
	return &WeChat{
		client:    &http.Client{Timeout: 30 * time.Second},
		appID:     appID,
		appSecret: appSecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

func (w *WeChat) Name() string    { return "wechat" }
func (w *WeChat) TitleLimit() int { return wechatTitleLimit }

func (w *WeChat) Publish(ctx context.Context, post Post) (Result, error) {
	token, err := w.token(ctx)
	if err != nil {
		return Result{}, err
	}

	article := map[string]any{
		"title":                 post.Title,
		"content":               formatArticle(post.Content, post.OriginalText, post.Author, post.Media),
		"content_source_url":    "",
		"need_open_comment":     0,
		"only_fans_can_comment": 0,
	}
	payload := map[string]any{"articles": []map[string]any{article}}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal wechat draft: %w", err)
	}

	endpoint := fmt.Sprintf("%s/cgi-bin/draft/add?access_token=%s", w.baseURL, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create wechat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call wechat: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		MediaID string `json:"media_id"`
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode wechat response: %w", err)
	}

	switch out.ErrCode {
	case 0:
	case wechatErrInvalidCredential, wechatErrTokenExpired:
		w.invalidateToken()
		return Result{}, fmt.Errorf("wechat credential rejected (%d %s): %w", out.ErrCode, out.ErrMsg, ErrLoginRequired)
	default:
		return Result{}, fmt.Errorf("wechat error %d: %s", out.ErrCode, out.ErrMsg)
	}

	if out.MediaID == "" {
		return Result{}, fmt.Errorf("wechat: empty media_id in response")
	}
	return Result{PostID: out.MediaID}, nil
}

// token returns a cached access token, fetching a fresh one when expired.
func (w *WeChat) token(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.accessToken != "" && time.Now().Before(w.tokenExpiry) {
		return w.accessToken, nil
	}

	endpoint := fmt.Sprintf("%s/cgi-bin/token?grant_type=client_credential&appid=%s&secret=%s",
		w.baseURL, url.QueryEscape(w.appID), url.QueryEscape(w.appSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create wechat token request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch wechat token: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode wechat token: %w", err)
	}

	if out.ErrCode != 0 || out.AccessToken == "" {
		return "", fmt.Errorf("wechat token error %d (%s): %w", out.ErrCode, out.ErrMsg, ErrLoginRequired)
	}

	w.accessToken = out.AccessToken
	// Refresh one minute early.
	w.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn-60) * time.Second)
	return w.accessToken, nil
}

func (w *WeChat) invalidateToken() {
	w.mu.Lock()
	w.accessToken = ""
	w.mu.Unlock()
}

// formatArticle builds the draft HTML body, appending the original text
// for provenance.
func formatArticle(translated, original, author string, media []string) string {
	var b strings.Builder
	b.WriteString("<section>\n")
	if author != "" {
		fmt.Fprintf(&b, "<p><strong>原作者：</strong>%s</p>\n", author)
	}
	b.WriteString("<h2>内容</h2>\n")
	fmt.Fprintf(&b, "<p>%s</p>\n", translated)
	for _, u := range media {
		fmt.Fprintf(&b, "<p><img src=\"%s\"/></p>\n", u)
	}
	b.WriteString("<hr/>\n<h3>原文 (Original)</h3>\n")
	fmt.Fprintf(&b, "<p style=\"color: #666; font-style: italic;\">%s</p>\n", original)
	b.WriteString("<hr/>\n<p style=\"font-size: 12px; color: #999;\">本文由 X (Twitter) 内容自动翻译同步。</p>\n")
	b.WriteString("</section>")
	return b.String()
}

var _ Publisher = (*WeChat)(nil)
