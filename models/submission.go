package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Submission is one inbound webhook request.
type Submission struct {
	Secret        string       `json:"secret"`
	Email         string       `json:"email"`
	Task          string       `json:"task"`
	Round         int          `json:"round"`
	Nonce         string       `json:"nonce"`
	Brief         string       `json:"brief"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	Checks        []string     `json:"checks,omitempty"`
	Seed          Seed         `json:"seed,omitempty"`
	EvaluationURL string       `json:"evaluation_url"`
}

// Attachment accepts both the name/url and filename/content spellings.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
	Content  string `json:"content,omitempty"`
}

// FileName is name, falling back to filename.
func (a Attachment) FileName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Filename
}

// Payload is url, falling back to content.
func (a Attachment) Payload() string {
	if a.URL != "" {
		return a.URL
	}
	return a.Content
}

// DisplayName is used in prompts and READMEs.
func (a Attachment) DisplayName() string {
	if n := a.FileName(); n != "" {
		return n
	}
	return "file"
}

// Seed keeps the textual form of a seed sent either as a JSON string or number.
type Seed string

func (s *Seed) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Seed(str)
		return nil
	}
	*s = Seed(strings.TrimSpace(string(b)))
	return nil
}

// EvaluationPayload is posted to the evaluation callback.
type EvaluationPayload struct {
	Email     string `json:"email"`
	Task      string `json:"task"`
	Round     int    `json:"round"`
	Nonce     string `json:"nonce"`
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
	PagesURL  string `json:"pages_url"`
}

// AcceptedResponse is the synchronous acknowledgement.
type AcceptedResponse struct {
	Status   string `json:"status"`
	Task     string `json:"task"`
	Round    int    `json:"round"`
	PagesURL string `json:"pages_url"`
	RepoURL  string `json:"repo_url"`
	Message  string `json:"message"`
}
