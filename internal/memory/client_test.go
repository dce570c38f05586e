package memory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRetainPostsToBank(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"id": "m-1", "content": gotBody["content"]})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	rec, err := c.Retain(context.Background(), "cli-u1", "user said hello", "greeting turn")
	if err != nil {
		t.Fatalf("retain: %v", err)
	}
	if gotPath != "/v1/default/banks/cli-u1/memories" {
		t.Errorf("path = %s", gotPath)
	}
	if gotBody["content"] != "user said hello" || gotBody["context"] != "greeting turn" {
		t.Errorf("body = %v", gotBody)
	}
	if rec.ID != "m-1" {
		t.Errorf("id = %s", rec.ID)
	}
}

func TestRecallUsesReflectPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/default/banks/telegram-42/reflect" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Context{
			Records: []Record{{ID: "m-9", Content: "likes green tea", Score: 0.8}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	out, err := c.Recall(context.Background(), "telegram-42", "what tea do I like?")
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(out.Records) != 1 || out.Records[0].Content != "likes green tea" {
		t.Errorf("records = %+v", out.Records)
	}
}

func TestFailuresMapToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Recall(context.Background(), "b", "q"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("recall error = %v", err)
	}
	if _, err := c.Retain(context.Background(), "b", "x", ""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("retain error = %v", err)
	}

	// Unreachable host: same error kind.
	dead := NewClient("http://127.0.0.1:1", WithTimeout(200*time.Millisecond))
	if _, err := dead.Recall(context.Background(), "b", "q"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("unreachable error = %v", err)
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if !NewClient(srv.URL).Healthy(context.Background()) {
		t.Error("expected healthy")
	}
	if NewClient("http://127.0.0.1:1", WithTimeout(200*time.Millisecond)).Healthy(context.Background()) {
		t.Error("expected unhealthy")
	}
}
