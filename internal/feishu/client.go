package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatpulse/internal/metrics"
	"chatpulse/internal/ratelimit"
)

// Client defines the platform operations the pipeline uses.
type Client interface {
	GetMessageSender(ctx context.Context, messageID string) (string, error)
	GetMessageDetail(ctx context.Context, messageID string) (MessageDetail, error)
	GetChatMembers(ctx context.Context, chatID string) (map[string]string, error)
	ListPins(ctx context.Context, chatID string) ([]PinItem, error)
	SendCard(ctx context.Context, chatID string, card json.RawMessage) error
	DownloadResource(ctx context.Context, messageID, fileKey, resType string) ([]byte, error)
	UploadToDrive(ctx context.Context, parentToken, fileName string, data []byte) (string, error)
}

// MessageDetail is the subset of a fetched message the pipeline cares about.
type MessageDetail struct {
	MessageID  string
	SenderID   string
	MsgType    string
	Content    string
	CreateTime time.Time
}

// PinItem is one entry of the chat's pin list.
type PinItem struct {
	MessageID  string
	OperatorID string
	CreateTime time.Time
}

// HTTPClient is a tenant-token client for the Feishu open API. All calls go
// through a shared sliding-window limiter plus a short-term pacer.
type HTTPClient struct {
	baseURL     string
	appID       string
	appSecret   string
	httpClient  *http.Client
	window      *ratelimit.Limiter
	pacer       *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration

	mu       sync.RWMutex
	token    string
	expireAt time.Time
}

func NewHTTPClient(appID, appSecret string, window *ratelimit.Limiter) *HTTPClient {
	if window == nil {
		window = ratelimit.New(20, time.Minute)
	}
	return &HTTPClient{
		baseURL:     "https://open.feishu.cn/open-apis",
		appID:       appID,
		appSecret:   appSecret,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		window:      window,
		pacer:       rate.NewLimiter(rate.Limit(2), 4),
		maxAttempts: 5,
		baseBackoff: 500 * time.Millisecond,
	}
}

// Window exposes the shared limiter so callers can report pacing status.
func (c *HTTPClient) Window() *ratelimit.Limiter { return c.window }

// tenantToken returns a cached tenant access token, refreshing when it is
// within a minute of expiry.
func (c *HTTPClient) tenantToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.token != "" && time.Until(c.expireAt) > time.Minute {
		t := c.token
		c.mu.RUnlock()
		return t, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.expireAt) > time.Minute {
		return c.token, nil
	}
	body, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var raw struct {
		Code   int    `json:"code"`
		Msg    string `json:"msg"`
		Token  string `json:"tenant_access_token"`
		Expire int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", err
	}
	if raw.Code != 0 {
		return "", fmt.Errorf("tenant token code %d: %s", raw.Code, raw.Msg)
	}
	c.token = raw.Token
	c.expireAt = time.Now().Add(time.Duration(raw.Expire) * time.Second)
	return c.token, nil
}

// admit applies the shared window and the pacer before an outbound call.
func (c *HTTPClient) admit(ctx context.Context) error {
	if err := c.window.Admit(ctx); err != nil {
		return err
	}
	return c.pacer.Wait(ctx)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, endpoint string) (*http.Response, error) {
	if err := c.admit(ctx); err != nil {
		return nil, err
	}
	token, err := c.tenantToken(ctx)
	if err != nil {
		return nil, err
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doWithRetry(ctx, req, endpoint)
}

func (c *HTTPClient) doWithRetry(ctx context.Context, req *http.Request, endpoint string) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
				ra := resp.Header.Get("Retry-After")
				_ = resp.Body.Close()
				wait := backoff
				if ra != "" {
					if secs, err := strconv.Atoi(ra); err == nil {
						wait = time.Duration(secs) * time.Second
					}
				}
				metrics.IncAPIRetry(endpoint)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				backoff *= 2
				continue
			}
			return resp, nil
		}
		lastErr = err
		metrics.IncAPIRetry(endpoint)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %v", c.maxAttempts, lastErr)
}

// Do issues an authorized request against the open API. Sibling surfaces
// built on the same tenant (the bitable store) share the token cache and
// the limiters through it.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body []byte, endpoint string) (*http.Response, error) {
	return c.do(ctx, method, path, body, endpoint)
}

// DecodeEnvelope decodes the standard {code,msg,data} envelope into data.
// A non-zero code becomes an *APIError.
func DecodeEnvelope(resp *http.Response, data any) error {
	return decodeEnvelope(resp, data)
}

// APIError is a non-zero application code in an otherwise valid response.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string { return fmt.Sprintf("feishu api code %d: %s", e.Code, e.Msg) }

// decodeEnvelope decodes the standard {code,msg,data} envelope into data.
func decodeEnvelope(resp *http.Response, data any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("feishu api status %d", resp.StatusCode)
	}
	var raw struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return err
	}
	if raw.Code != 0 {
		return &APIError{Code: raw.Code, Msg: raw.Msg}
	}
	if data == nil || len(raw.Data) == 0 {
		return nil
	}
	return json.Unmarshal(raw.Data, data)
}

// GetMessageSender resolves the sender open_id of a message.
func (c *HTTPClient) GetMessageSender(ctx context.Context, messageID string) (string, error) {
	d, err := c.GetMessageDetail(ctx, messageID)
	if err != nil {
		return "", err
	}
	return d.SenderID, nil
}

// GetMessageDetail fetches one message by id.
func (c *HTTPClient) GetMessageDetail(ctx context.Context, messageID string) (MessageDetail, error) {
	var out MessageDetail
	if messageID == "" {
		return out, errors.New("empty message id")
	}
	resp, err := c.do(ctx, http.MethodGet, "/im/v1/messages/"+url.PathEscape(messageID), nil, "messages.get")
	if err != nil {
		return out, err
	}
	var data struct {
		Items []struct {
			MessageID string `json:"message_id"`
			MsgType   string `json:"msg_type"`
			Sender    struct {
				ID string `json:"id"`
			} `json:"sender"`
			Body struct {
				Content string `json:"content"`
			} `json:"body"`
			CreateTime string `json:"create_time"`
		} `json:"items"`
	}
	if err := decodeEnvelope(resp, &data); err != nil {
		return out, err
	}
	if len(data.Items) == 0 {
		return out, fmt.Errorf("message %s not found", messageID)
	}
	it := data.Items[0]
	out = MessageDetail{
		MessageID: it.MessageID,
		SenderID:  it.Sender.ID,
		MsgType:   it.MsgType,
		Content:   it.Body.Content,
	}
	if ms, err := strconv.ParseInt(it.CreateTime, 10, 64); err == nil {
		out.CreateTime = time.UnixMilli(ms)
	}
	return out, nil
}

// GetChatMembers returns open_id to display name for all chat members,
// following pagination.
func (c *HTTPClient) GetChatMembers(ctx context.Context, chatID string) (map[string]string, error) {
	if chatID == "" {
		return nil, errors.New("empty chat id")
	}
	names := make(map[string]string)
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("member_id_type", "open_id")
		q.Set("page_size", "100")
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}
		path := "/im/v1/chats/" + url.PathEscape(chatID) + "/members?" + q.Encode()
		resp, err := c.do(ctx, http.MethodGet, path, nil, "chats.members")
		if err != nil {
			return nil, err
		}
		var data struct {
			Items []struct {
				MemberID string `json:"member_id"`
				Name     string `json:"name"`
			} `json:"items"`
			HasMore   bool   `json:"has_more"`
			PageToken string `json:"page_token"`
		}
		if err := decodeEnvelope(resp, &data); err != nil {
			return nil, err
		}
		for _, it := range data.Items {
			names[it.MemberID] = it.Name
		}
		if !data.HasMore || data.PageToken == "" {
			break
		}
		pageToken = data.PageToken
	}
	return names, nil
}

// ListPins returns the current pin list of a chat, following pagination.
func (c *HTTPClient) ListPins(ctx context.Context, chatID string) ([]PinItem, error) {
	if chatID == "" {
		return nil, errors.New("empty chat id")
	}
	var out []PinItem
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("chat_id", chatID)
		q.Set("page_size", "50")
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}
		resp, err := c.do(ctx, http.MethodGet, "/im/v1/pins?"+q.Encode(), nil, "pins.list")
		if err != nil {
			return nil, err
		}
		var data struct {
			Items []struct {
				MessageID  string `json:"message_id"`
				OperatorID string `json:"operator_id"`
				CreateTime string `json:"create_time"`
			} `json:"items"`
			HasMore   bool   `json:"has_more"`
			PageToken string `json:"page_token"`
		}
		if err := decodeEnvelope(resp, &data); err != nil {
			return nil, err
		}
		for _, it := range data.Items {
			p := PinItem{MessageID: it.MessageID, OperatorID: it.OperatorID}
			if ms, err := strconv.ParseInt(it.CreateTime, 10, 64); err == nil {
				p.CreateTime = time.UnixMilli(ms)
			}
			out = append(out, p)
		}
		if !data.HasMore || data.PageToken == "" {
			break
		}
		pageToken = data.PageToken
	}
	return out, nil
}

// SendCard posts an interactive card to a chat.
func (c *HTTPClient) SendCard(ctx context.Context, chatID string, card json.RawMessage) error {
	if chatID == "" {
		return errors.New("empty chat id")
	}
	body, err := json.Marshal(map[string]string{
		"receive_id": chatID,
		"msg_type":   "interactive",
		"content":    string(card),
	})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/im/v1/messages?receive_id_type=chat_id", body, "messages.create")
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, nil)
}

// DownloadResource fetches a file or image attached to a message. resType is
// "image" or "file".
func (c *HTTPClient) DownloadResource(ctx context.Context, messageID, fileKey, resType string) ([]byte, error) {
	if messageID == "" || fileKey == "" {
		return nil, errors.New("empty message id or file key")
	}
	if err := c.admit(ctx); err != nil {
		return nil, err
	}
	token, err := c.tenantToken(ctx)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/im/v1/messages/%s/resources/%s?type=%s",
		url.PathEscape(messageID), url.PathEscape(fileKey), url.QueryEscape(resType))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.doWithRetry(ctx, req, "messages.resource")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("feishu api status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// GetWSEndpoint requests a long-connection URL for event subscription. Not
// part of Client; only the listener dials.
func (c *HTTPClient) GetWSEndpoint(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"AppID":     c.appID,
		"AppSecret": c.appSecret,
	})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://open.feishu.cn/callback/ws/endpoint", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.doWithRetry(ctx, req, "ws.endpoint")
	if err != nil {
		return "", err
	}
	var data struct {
		URL string `json:"URL"`
	}
	if err := decodeEnvelope(resp, &data); err != nil {
		return "", err
	}
	if data.URL == "" {
		return "", errors.New("empty ws endpoint")
	}
	return data.URL, nil
}

// UploadToDrive uploads data to a drive folder and returns the file token.
func (c *HTTPClient) UploadToDrive(ctx context.Context, parentToken, fileName string, data []byte) (string, error) {
	if fileName == "" {
		return "", errors.New("empty file name")
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("file_name", fileName)
	_ = w.WriteField("parent_type", "explorer")
	_ = w.WriteField("parent_node", parentToken)
	_ = w.WriteField("size", strconv.Itoa(len(data)))
	fw, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	if err := c.admit(ctx); err != nil {
		return "", err
	}
	token, err := c.tenantToken(ctx)
	if err != nil {
		return "", err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/drive/v1/files/upload_all", bytes.NewReader(buf.Bytes()))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.doWithRetry(ctx, req, "drive.upload")
	if err != nil {
		return "", err
	}
	var out struct {
		FileToken string `json:"file_token"`
	}
	if err := decodeEnvelope(resp, &out); err != nil {
		return "", err
	}
	return out.FileToken, nil
}
