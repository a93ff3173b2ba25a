package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTelegramSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottok123/sendMessage" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("tok123", "chat42", 60, time.Second)
	tg.apiBase = srv.URL

	if err := tg.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got["chat_id"] != "chat42" || got["text"] != "hello" {
		t.Errorf("unexpected payload: %v", got)
	}
}

func TestTelegramSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegram("tok", "chat", 60, time.Second)
	tg.apiBase = srv.URL

	if err := tg.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

func TestTelegramUnconfigured(t *testing.T) {
	tg := NewTelegram("", "", 60, time.Second)
	if err := tg.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error when token and chat id are missing")
	}
}
