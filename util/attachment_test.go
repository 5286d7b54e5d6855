package util

import (
	"B2P/models"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestParsePayload(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"data:image/png;base64,iVBORw0KGgo=", "data"},
		{"https://example.com/a.png", "url"},
		{"http://example.com/a.png", "url"},
		{"ftp://example.com/a.png", "unknown"},
		{"data:image/png;base64", "unknown"},
		{"hello", "unknown"},
	}
	for _, tc := range cases {
		var got string
		switch p := ParsePayload(tc.raw).(type) {
		case DataURIPayload:
			got = "data"
			if p.MediaType != "image/png" {
				t.Fatalf("unexpected media type for %q: %q", tc.raw, p.MediaType)
			}
		case RemoteURLPayload:
			got = "url"
		case UnknownPayload:
			got = "unknown"
		}
		if got != tc.want {
			t.Fatalf("ParsePayload(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestIsTextFile(t *testing.T) {
	if !IsTextFile("data.CSV") || !IsTextFile("index.html") {
		t.Fatal("expected csv and html to be text")
	}
	if IsTextFile("sample.png") || IsTextFile("LICENSE") {
		t.Fatal("png and extensionless files are not text")
	}
}

func TestSaveAttachmentsDataURI(t *testing.T) {
	dir := t.TempDir()
	body := base64.StdEncoding.EncodeToString([]byte("a,b\n1,2\n"))
	// embedded newlines must be tolerated
	wrapped := body[:4] + "\n" + body[4:]
	m := NewMaterializer(nil)

	saved := m.SaveAttachments(context.Background(), dir, []models.Attachment{
		{Name: "data.csv", URL: "data:text/csv;base64," + wrapped},
	})
	if len(saved) != 1 {
		t.Fatalf("expected one saved attachment, got %d", len(saved))
	}
	if !saved[0].Text {
		t.Fatal("csv should be flagged as text")
	}
	got, err := os.ReadFile(filepath.Join(dir, "data.csv"))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(got) != "a,b\n1,2\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestSaveAttachmentsSkipsUnknownAndContinues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := NewMaterializer(srv.Client())
	saved := m.SaveAttachments(context.Background(), dir, []models.Attachment{
		{Name: "weird.bin", Content: "ftp://nowhere/weird.bin"},
		{Name: "bad.png", URL: "data:image/png;base64,@@@not-base64@@@"},
		{Name: "missing.png", URL: srv.URL + "/missing.png"},
		{Filename: "sample.png", Content: srv.URL + "/sample.png"},
		{Name: "", URL: srv.URL + "/noname.png"},
	})
	if len(saved) != 1 || saved[0].Name != "sample.png" {
		t.Fatalf("expected only sample.png to be saved, got %+v", saved)
	}
	got, err := os.ReadFile(filepath.Join(dir, "sample.png"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != "PNGDATA" {
		t.Fatalf("unexpected content: %q", got)
	}
	for _, name := range []string{"weird.bin", "bad.png", "missing.png", "missing.png.part"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Fatalf("%s should not exist, stat err=%v", name, err)
		}
	}
}

func TestSaveAttachmentsStaysInsideFolder(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "task")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := base64.StdEncoding.EncodeToString([]byte("x"))
	saved := NewMaterializer(nil).SaveAttachments(context.Background(), dir, []models.Attachment{
		{Name: "../escape.txt", URL: "data:text/plain;base64," + body},
	})
	if len(saved) != 1 || saved[0].Path != filepath.Join(dir, "escape.txt") {
		t.Fatalf("unexpected saved path: %+v", saved)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.txt")); !os.IsNotExist(err) {
		t.Fatal("attachment escaped the task folder")
	}
}
