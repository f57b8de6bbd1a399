package tracker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(&Config{
		BaseURL:  srv.URL,
		Email:    "bot@example.com",
		APIToken: "secret",
		Timeout:  5 * time.Second,
	}, nil)
	return client, srv
}

func TestClient_RequestHeaders(t *testing.T) {
	var gotAuth, gotAccept, gotContentType string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{}`))
	})

	if _, err := client.Get(context.Background(), "/rest/api/2/myself"); err != nil {
		t.Fatalf("get: %v", err)
	}

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("bot@example.com:secret"))
	if gotAuth != want {
		t.Errorf("authorization header: %q", gotAuth)
	}
	if gotAccept != "application/json" || gotContentType != "application/json" {
		t.Errorf("content headers: accept=%q content-type=%q", gotAccept, gotContentType)
	}
}

func TestClient_PostEncodesBody(t *testing.T) {
	var gotBody map[string]interface{}
	var gotMethod, gotPath string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok":true}`))
	})

	raw, err := client.Post(context.Background(), "/rest/api/2/search", map[string]interface{}{
		"jql":        "project = PROJ",
		"maxResults": 50,
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/rest/api/2/search" {
		t.Errorf("request: %s %s", gotMethod, gotPath)
	}
	if gotBody["jql"] != "project = PROJ" || gotBody["maxResults"] != float64(50) {
		t.Errorf("body: %v", gotBody)
	}
	if string(raw) != `{"ok":true}` {
		t.Errorf("raw response: %s", raw)
	}
}

func TestClient_ErrorBodyDecoding(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errorMessages":["Issue does not exist","Bad key"]}`))
	})

	_, err := client.Get(context.Background(), "/rest/api/2/issue/NOPE-1")
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "404") || !strings.Contains(msg, "Issue does not exist; Bad key") {
		t.Errorf("error message: %q", msg)
	}
}

func TestClient_ErrorPlainBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})

	_, err := client.Put(context.Background(), "/rest/api/2/issue/PROJ-1", map[string]interface{}{})
	if err == nil || !strings.Contains(err.Error(), "tracker error [502]: upstream down") {
		t.Errorf("error: %v", err)
	}
}

func TestGetIssue_Decodes(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/issue/PROJ-1" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"id": "10001",
			"key": "PROJ-1",
			"fields": {
				"summary": "Fix the widget",
				"status": {"name": "Open"},
				"assignee": {"accountId": "u1", "displayName": "Dana"}
			}
		}`))
	})

	issue, err := GetIssue(context.Background(), client, "PROJ-1")
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if issue.Key != "PROJ-1" || issue.Fields.Summary != "Fix the widget" {
		t.Errorf("issue: %+v", issue)
	}
	if issue.Fields.Assignee == nil || issue.Fields.Assignee.DisplayName != "Dana" {
		t.Errorf("assignee: %+v", issue.Fields.Assignee)
	}
}

func TestSearchIssues_Decodes(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["jql"] != "project = PROJ" || body["maxResults"] != float64(10) {
			t.Errorf("search body: %v", body)
		}
		w.Write([]byte(`{"total": 2, "issues": [{"key":"PROJ-1"},{"key":"PROJ-2"}]}`))
	})

	result, err := SearchIssues(context.Background(), client, "project = PROJ", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Total != 2 || len(result.Issues) != 2 || result.Issues[1].Key != "PROJ-2" {
		t.Errorf("result: %+v", result)
	}
}

func TestGetTransitions_Decodes(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/issue/PROJ-1/transitions" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"transitions":[{"id":"31","name":"Done"},{"id":"21","name":"In Progress"}]}`))
	})

	transitions, err := GetTransitions(context.Background(), client, "PROJ-1")
	if err != nil {
		t.Fatalf("transitions: %v", err)
	}
	if len(transitions) != 2 || transitions[0].ID != "31" || transitions[0].Name != "Done" {
		t.Errorf("transitions: %+v", transitions)
	}
}

func TestNewClient_TrimsBaseURL(t *testing.T) {
	client := NewClient(&Config{BaseURL: "http://tracker.local/"}, nil)
	if client.baseURL != "http://tracker.local" {
		t.Errorf("baseURL: %q", client.baseURL)
	}
}
