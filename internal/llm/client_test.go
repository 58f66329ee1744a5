package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperlens/corpus-builder/internal/domain"
)

func TestNewClientDefaults(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantModel string
	}{
		{
			name:      "default model",
			cfg:       Config{APIKey: "sk-or-test-key"},
			wantModel: defaultModel,
		},
		{
			name:      "custom model",
			cfg:       Config{APIKey: "sk-or-test-key", Model: "google/gemini-2.5-pro"},
			wantModel: "google/gemini-2.5-pro",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.cfg)
			require.NotNil(t, client)
			assert.Equal(t, tt.wantModel, client.model)
			assert.Equal(t, "https://openrouter.ai/api/v1", client.baseURL)
		})
	}
}

func completionResponse(content string) string {
	return `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":` + jsonString(content) + `},"finish_reason":"stop"}]}`
}

func jsonString(s string) string {
	out := `"`
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\\':
			out += `\\`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out + `"`
}

func TestAnnotateDocument(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Write([]byte(completionResponse(`{"paper_id":"doc1","title":"T"}`)))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})

	payload, err := client.AnnotateDocument(context.Background(), domain.DocumentRequest{
		DocID:     "doc1",
		FrontText: "Some front matter",
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"paper_id":"doc1","title":"T"}`, string(payload))
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestCompleteErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind domain.ErrorKind
	}{
		{"rate limited is transient", http.StatusTooManyRequests, domain.KindAnnotationTransient},
		{"server error is transient", http.StatusInternalServerError, domain.KindAnnotationTransient},
		{"bad gateway is transient", http.StatusBadGateway, domain.KindAnnotationTransient},
		{"unauthorized is fatal", http.StatusUnauthorized, domain.KindAnnotationFatal},
		{"bad request is fatal", http.StatusBadRequest, domain.KindAnnotationFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
			_, err := client.complete(context.Background(), "unit1", []Message{{Role: "user"}})

			require.Error(t, err)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))
		})
	}
}

func TestCompleteNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	_, err := client.complete(context.Background(), "unit1", []Message{{Role: "user"}})

	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain json untouched", `{"a":1}`, `{"a":1}`},
		{"json fence removed", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence removed", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespace trimmed", "  {\"a\":1}\n", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.in))
		})
	}
}

func TestBatchPromptListsAllElements(t *testing.T) {
	elements := []domain.Element{
		{ID: "doc1_p000_fig00", Type: domain.ElementFigure, PageIndex: 0, Anchor: "Figure 1: overview"},
		{ID: "doc1_p002_tab00", Type: domain.ElementTable, PageIndex: 2, Anchor: "Table 1: results"},
	}

	prompt := batchPrompt(elements)

	assert.Contains(t, prompt, `"doc1_p000_fig00"`)
	assert.Contains(t, prompt, `"doc1_p002_tab00"`)
	assert.Contains(t, prompt, "Figure 1: overview")
	assert.Contains(t, prompt, "Table 1: results")
	assert.Contains(t, prompt, "one annotation per listed element")
}
