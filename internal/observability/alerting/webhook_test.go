package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDingTalkWebhookSendsTextPayload(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("读取请求体失败: %v", err)
		}
		captured = body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewDingTalkWebhook(server.URL)
	if err := sender.Send(context.Background(), "订单 o-1 执行失败"); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	var payload struct {
		MsgType string `json:"msgtype"`
		Text    struct {
			Content string `json:"content"`
		} `json:"text"`
	}
	if err := json.Unmarshal(captured, &payload); err != nil {
		t.Fatalf("解析消息失败: %v", err)
	}
	if payload.MsgType != "text" || payload.Text.Content != "订单 o-1 执行失败" {
		t.Fatalf("消息内容不符: %s", captured)
	}
}

func TestSlackWebhookSendsChannelAndText(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("读取请求体失败: %v", err)
		}
		captured = body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewSlackWebhook(server.URL)
	if err := sender.Send(context.Background(), "#alerts", "订单 o-1 执行失败"); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	var payload map[string]string
	if err := json.Unmarshal(captured, &payload); err != nil {
		t.Fatalf("解析消息失败: %v", err)
	}
	if payload["channel"] != "#alerts" || payload["text"] != "订单 o-1 执行失败" {
		t.Fatalf("消息内容不符: %s", captured)
	}
}

func TestWebhookRejectsUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if err := NewDingTalkWebhook(server.URL).Send(context.Background(), "boom"); err == nil {
		t.Fatal("非 2xx 响应应当报错")
	}
}
