package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"B2P/config"
	"B2P/models"

	"github.com/openai/openai-go/v3/option"
)

type fakeCompleter struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"```html\n<html></html>\n```": "<html></html>",
		"```\n<html></html>\n```":     "<html></html>",
		"  <html></html>  ":           "<html></html>",
		"<html></html>\n```":          "<html></html>",
	}
	for in, want := range cases {
		if got := StripCodeFences(in); got != want {
			t.Fatalf("StripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateReturnsStrippedReply(t *testing.T) {
	fc := &fakeCompleter{reply: "```html\n<!DOCTYPE html><p>clock</p>\n```"}
	g := NewGenerator(fc, time.Second)
	got := g.Generate(context.Background(), Request{Brief: "show a clock"})
	if got != "<!DOCTYPE html><p>clock</p>" {
		t.Fatalf("unexpected page: %q", got)
	}
}

func TestGenerateFallsBackOnError(t *testing.T) {
	g := NewGenerator(&fakeCompleter{err: errors.New("401 unauthorized")}, time.Second)
	got := g.Generate(context.Background(), Request{Brief: "show <b>a</b> clock"})
	if !strings.Contains(got, "Application generation failed") {
		t.Fatalf("fallback notice missing: %s", got)
	}
	if !strings.Contains(got, "show &lt;b&gt;a&lt;/b&gt; clock") {
		t.Fatalf("fallback should embed the escaped brief: %s", got)
	}
	if got != FallbackPage("show <b>a</b> clock") {
		t.Fatal("fallback page should be deterministic")
	}
}

func TestGenerateFallsBackOnEmptyReply(t *testing.T) {
	g := NewGenerator(&fakeCompleter{reply: "```\n```"}, time.Second)
	got := g.Generate(context.Background(), Request{Brief: "b"})
	if got != FallbackPage("b") {
		t.Fatalf("expected fallback for empty reply, got %q", got)
	}
}

func TestBuildPromptSections(t *testing.T) {
	p := BuildPrompt(Request{Brief: "show a clock"})
	for _, want := range []string{"show a clock", "No attachments", "No specific checks", "No previous code", "No seed", "tesseract.js@2.1.5"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}

	p = BuildPrompt(Request{
		Brief:        "Solve the captcha in the image",
		Attachments:  []models.Attachment{{Name: "captcha.png"}, {Filename: "notes.txt"}},
		Checks:       []string{"page has #result"},
		PreviousCode: "<html>old</html>",
		Seed:         "42",
	})
	for _, want := range []string{"- captcha.png", "- notes.txt", "- page has #result", "<html>old</html>", "Seed value: 42", "IMAGE INPUTS"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestNeedsVision(t *testing.T) {
	imgs := []models.Attachment{{Name: "sample.PNG"}}
	if !NeedsVision("Please OCR this", imgs) {
		t.Fatal("ocr brief with an image needs vision")
	}
	if NeedsVision("Please OCR this", []models.Attachment{{Name: "a.csv"}}) {
		t.Fatal("no image attachments means no vision")
	}
	if NeedsVision("Draw a chart", imgs) {
		t.Fatal("brief without vision keywords does not need vision")
	}
}

func TestOpenAICompleterAgainstFakeServer(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"`+"```html\\n<p>hi</p>\\n```"+`"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAICompleter(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, Model: "gpt-4o-mini"}, option.WithMaxRetries(0))
	g := NewGenerator(c, 5*time.Second)
	got := g.Generate(context.Background(), Request{Brief: "hi"})
	if got != "<p>hi</p>" {
		t.Fatalf("unexpected page: %q", got)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Fatalf("unexpected model in request: %v", gotBody["model"])
	}
	if temp, _ := gotBody["temperature"].(float64); temp != 0.2 {
		t.Fatalf("unexpected temperature: %v", gotBody["temperature"])
	}

	bad := NewOpenAICompleter(config.LLMConfig{APIKey: "wrong", BaseURL: srv.URL, Model: "gpt-4o-mini"}, option.WithMaxRetries(0))
	if got := NewGenerator(bad, 5*time.Second).Generate(context.Background(), Request{Brief: "hi"}); got != FallbackPage("hi") {
		t.Fatalf("auth failure should produce fallback, got %q", got)
	}
}

func TestNewCompleterRejectsUnknownProvider(t *testing.T) {
	if _, err := NewCompleter(context.Background(), config.LLMConfig{Provider: "bard"}); err == nil {
		t.Fatal("expected error")
	}
}
