package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DingTalkWebhook 通过钉钉机器人 webhook 发送文本消息，实现
// DingTalkSender。
type DingTalkWebhook struct {
	url    string
	client *http.Client
}

// NewDingTalkWebhook 创建钉钉 webhook 发送器。
func NewDingTalkWebhook(url string) *DingTalkWebhook {
	return &DingTalkWebhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Send 发送文本消息。
func (s *DingTalkWebhook) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, s.client, s.url, payload)
}

// SlackWebhook 通过 Slack incoming webhook 发送消息，实现 SlackSender。
type SlackWebhook struct {
	url    string
	client *http.Client
}

// NewSlackWebhook 创建 Slack webhook 发送器。
func NewSlackWebhook(url string) *SlackWebhook {
	return &SlackWebhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Send 将消息发送到指定频道。
func (s *SlackWebhook) Send(ctx context.Context, channel, content string) error {
	payload := map[string]string{
		"channel": channel,
		"text":    content,
	}
	return postJSON(ctx, s.client, s.url, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("编码 webhook 消息失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 webhook 请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook 返回非预期状态码 %d", resp.StatusCode)
	}
	return nil
}

var (
	_ DingTalkSender = (*DingTalkWebhook)(nil)
	_ SlackSender    = (*SlackWebhook)(nil)
)
