package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/genai"

	"hwtutor/internal/domain"
)

type staticKey string

func (k staticKey) APIKey() string { return string(k) }

func TestPrompts(t *testing.T) {
	t.Parallel()

	if got := illustrationPrompt("forces on a ramp"); got != "Educational illustration for a student: forces on a ramp. Clean, helpful, labeled diagram style." {
		t.Fatalf("unexpected illustration prompt: %q", got)
	}
	if got := videoPrompt("a rolling ball"); got != "Educational short explainer video for students: a rolling ball. Clear, smooth animation, informative." {
		t.Fatalf("unexpected video prompt: %q", got)
	}
}

func TestAnalysisSchemaRequiresEveryField(t *testing.T) {
	t.Parallel()

	schema := analysisSchema()
	if len(schema.Required) != 6 {
		t.Fatalf("expected 6 required fields, got %v", schema.Required)
	}
	for _, name := range schema.Required {
		if _, ok := schema.Properties[name]; !ok {
			t.Fatalf("required field %q has no property", name)
		}
	}
	if schema.Properties["keyPoints"].Type != genai.TypeArray {
		t.Fatalf("keyPoints must be an array")
	}
}

func TestParseAnalysis(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"subject\":\"Math\",\"topic\":\"Fractions\",\"explanation\":\"e\",\"keyPoints\":[\"a\",\"b\"],\"visualPrompt\":\"v\",\"videoPrompt\":\"w\"}\n```"
	got, err := parseAnalysis(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.Topic != "Fractions" || len(got.KeyPoints) != 2 || got.VideoPrompt != "w" {
		t.Fatalf("unexpected analysis: %+v", got)
	}

	if _, err := parseAnalysis("  "); !errors.Is(err, errEmptyAnalysis) {
		t.Fatalf("expected errEmptyAnalysis, got %v", err)
	}
	if _, err := parseAnalysis("{not json"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestFirstImage(t *testing.T) {
	t.Parallel()

	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "here is your diagram"},
			{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: []byte{1, 2}}},
		}},
	}}}
	img, err := firstImage(resp)
	if err != nil || img.MIMEType != "image/jpeg" || len(img.Data) != 2 {
		t.Fatalf("unexpected image: %+v %v", img, err)
	}

	if _, err := firstImage(&genai.GenerateContentResponse{}); !errors.Is(err, errNoImage) {
		t.Fatalf("expected errNoImage, got %v", err)
	}
}

func TestGeneratedVideo(t *testing.T) {
	t.Parallel()

	op := &genai.GenerateVideosOperation{Done: true, Response: &genai.GenerateVideosResponse{
		GeneratedVideos: []*genai.GeneratedVideo{{Video: &genai.Video{URI: "https://example.test/v"}}},
	}}
	v, err := generatedVideo(op)
	if err != nil || v.Video.URI != "https://example.test/v" {
		t.Fatalf("unexpected video: %v", err)
	}

	if _, err := generatedVideo(&genai.GenerateVideosOperation{Done: true}); !errors.Is(err, errNoVideo) {
		t.Fatalf("expected errNoVideo, got %v", err)
	}

	failed := &genai.GenerateVideosOperation{Done: true, Error: map[string]any{"message": "Requested entity was not found."}}
	if _, err := generatedVideo(failed); !errors.Is(err, domain.ErrCredentialInvalid) {
		t.Fatalf("expected ErrCredentialInvalid, got %v", err)
	}
}

func TestMissingKeyFailsWithoutDialing(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{}, staticKey(""))
	if _, err := p.Analyze(context.Background(), []byte{1}, "image/png"); !errors.Is(err, domain.ErrCredentialInvalid) {
		t.Fatalf("expected ErrCredentialInvalid, got %v", err)
	}
	if _, err := p.GenerateVideo(context.Background(), "x"); !errors.Is(err, domain.ErrCredentialInvalid) {
		t.Fatalf("expected ErrCredentialInvalid, got %v", err)
	}
}

func TestAnalyzeAgainstServer(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		gotPath string
		gotKey  string
		gotBody map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()

		analysis := `{"subject":"Physics","topic":"Newton's second law","explanation":"F = m a","keyPoints":["force","mass"],"visualPrompt":"a cart","videoPrompt":"a pushed cart"}`
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": analysis}}},
			}},
		})
	}))
	defer server.Close()

	p := NewProvider(Config{APIBaseURL: server.URL + "/"}, staticKey("test-key"))
	got, err := p.Analyze(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if got.Topic != "Newton's second law" || len(got.KeyPoints) != 2 {
		t.Fatalf("unexpected analysis: %+v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.HasSuffix(gotPath, "models/"+DefaultAnalysisModel+":generateContent") {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("expected API key header, got %q", gotKey)
	}
	if gotBody["generationConfig"] == nil {
		t.Fatalf("expected generation config in request")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	if err := classify("op", errors.New("API key not valid. Please pass a valid API key.")); !errors.Is(err, domain.ErrCredentialInvalid) {
		t.Fatalf("expected credential classification, got %v", err)
	}
	base := errors.New("quota exceeded")
	err := classify("op", base)
	if errors.Is(err, domain.ErrCredentialInvalid) || !errors.Is(err, base) {
		t.Fatalf("unexpected classification: %v", err)
	}
}
