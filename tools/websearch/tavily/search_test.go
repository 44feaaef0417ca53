package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["api_key"] != "key" || req["query"] != "buyout funds" {
			t.Errorf("unexpected payload: %v", req)
		}
		_, _ = w.Write([]byte(`{"results":[
            {"title":"A","url":"https://a.com/1","content":"alpha"},
            {"title":"B","url":"https://b.com/2","content":"beta"},
            {"title":"C","url":"https://c.com/3","content":"gamma"}
        ]}`))
	}))
	defer srv.Close()

	s := Search{ApiKey: "key", BaseURL: srv.URL}
	results, err := s.Search(context.Background(), "buyout funds", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected k=2 results, got %d", len(results))
	}
	if results[0].Title != "A" || results[0].URL != "https://a.com/1" || results[0].Content != "alpha" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
}

func TestSearchNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer srv.Close()

	s := Search{ApiKey: "bad", BaseURL: srv.URL}
	if _, err := s.Search(context.Background(), "q", 3); err == nil {
		t.Fatal("expected error on 401")
	}
}
