package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q, want 2", got)
		}
		_, _ = w.Write([]byte(`{"conversations":[{"id":"42","name":"Alice","last_message_time":1000}],"has_more":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	page, err := c.FetchConversations(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Conversations) != 1 || page.Conversations[0].ID != "42" {
		t.Errorf("page = %+v", page)
	}
	if !page.HasMore {
		t.Error("HasMore = false, want true")
	}
}

func TestFetchMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/42/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"9001","conversation_id":"42","text":"hi","timestamp":1000}],"has_more":false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	page, err := c.FetchMessages(context.Background(), "42", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != "9001" {
		t.Errorf("page = %+v", page)
	}
}

func TestUploadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = f.Close() }()
		if hdr.Filename != "pic.jpg" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "jpegbytes" {
			t.Errorf("content = %q", data)
		}
		_, _ = w.Write([]byte(`{"file_path":"/uploads/abc.jpg","file_type":"image/jpeg"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	res, err := c.UploadFile(context.Background(), "pic.jpg", strings.NewReader("jpegbytes"))
	if err != nil {
		t.Fatal(err)
	}
	if res.FilePath != "/uploads/abc.jpg" || res.FileType != "image/jpeg" {
		t.Errorf("result = %+v", res)
	}
}

func TestLogCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/calls" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var rec CallRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Fatal(err)
		}
		if rec.ConversationID != "42" || rec.Direction != "outgoing" {
			t.Errorf("record = %+v", rec)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	err := c.LogCall(context.Background(), CallRecord{
		ConversationID: "42", Direction: "outgoing", StartedAt: 1, EndedAt: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	if _, err := c.FetchConversations(context.Background(), 1); err == nil {
		t.Error("expected error for 403 response")
	}
}
