package asana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"example.com/asana-importer/internal/migrator/model"
)

func TestBearerAuthOnAPIRequests(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"data":{"id":1,"name":"t"}}`)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Token: "tok", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.TaskByID(context.Background(), 1); err != nil {
		t.Fatalf("task: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header: %q", gotAuth)
	}
}

func TestPaginationFollowsOffset(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)
		if offset == "" {
			fmt.Fprint(w, `{"data":[{"id":1},{"id":2}],"next_page":{"offset":"abc"}}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":3}]}`)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{Token: "tok", BaseURL: srv.URL, PageSize: 2})
	var ids []int64
	err := c.ForEachTaskInProject(context.Background(), 9, func(ref model.TaskRef) error {
		ids = append(ids, ref.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 || ids[2] != 3 {
		t.Fatalf("ids: %v", ids)
	}
	if len(offsets) != 2 || offsets[1] != "abc" {
		t.Fatalf("offsets: %v", offsets)
	}
}

func TestErrorStatusIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"missing scope"}]}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{Token: "tok", BaseURL: srv.URL})
	_, err := c.TaskByID(context.Background(), 7)
	if err == nil || !strings.Contains(err.Error(), "missing scope") {
		t.Fatalf("error: %v", err)
	}
}

func TestDownloadAttachmentSkipsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("pre-signed download must not carry the api token")
		}
		fmt.Fprint(w, "payload")
	}))
	defer srv.Close()

	c, _ := NewClient(Config{Token: "tok"})
	body, err := c.DownloadAttachment(context.Background(), srv.URL+"/file")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	body.Close()
}

func TestAddTagPayload(t *testing.T) {
	var got map[string]map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/42/addTag" {
			t.Errorf("path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"data":{}}`)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{Token: "tok", BaseURL: srv.URL})
	if err := c.AddTag(context.Background(), 42, 555); err != nil {
		t.Fatalf("add tag: %v", err)
	}
	if got["data"]["tag"] != "555" {
		t.Fatalf("payload: %v", got)
	}
}
