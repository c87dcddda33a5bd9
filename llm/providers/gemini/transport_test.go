package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/BaSui01/genstudio/llm"
)

func fakeGemini(t *testing.T, status int, response string, captured *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.5-flash:generateContent"), r.URL.Path)
		assert.Equal(t, "gk", r.Header.Get("x-goog-api-key"))
		if captured != nil {
			*captured, _ = io.ReadAll(r.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
}

func call(req *llm.GenerationRequest) *llm.Call {
	return &llm.Call{
		Model:      "gemini-2.5-flash",
		Provider:   llm.ProviderGoogle,
		Credential: llm.Credential{ID: "g1", Provider: llm.ProviderGoogle, Key: "gk"},
		Request:    req,
	}
}

func TestTransport_TextAndImage(t *testing.T) {
	var body []byte
	srv := fakeGemini(t, 200, `{"candidates":[{"content":{"role":"model","parts":[
		{"text":"here is the panel"},
		{"inlineData":{"mimeType":"image/png","data":"iVBORw0KGgo="}}]},"finishReason":"STOP"}]}`, &body)
	defer srv.Close()

	tr := New(srv.Client(), nil, WithBaseURL(srv.URL))
	res, err := tr.Generate(context.Background(), call(&llm.GenerationRequest{
		SystemInstruction: "you draw storyboards",
		Parts:             []llm.ContentPart{llm.InlinePart("image/png", "iVBORw0KGgo="), llm.TextPart("draw a cat")},
		WantImage:         true,
	}))
	require.NoError(t, err)

	assert.Equal(t, "here is the panel", res.Text)
	require.NotNil(t, res.Image)
	assert.Equal(t, "image/png", res.Image.MIMEType)
	assert.Equal(t, "iVBORw0KGgo=", res.Image.Data)
	assert.Equal(t, "g1", res.Usage.CredentialID)

	s := string(body)
	assert.Equal(t, 4, strings.Count(s, "BLOCK_NONE"))
	assert.Contains(t, s, "you draw storyboards")
	assert.Contains(t, s, "IMAGE")
	assert.Equal(t, "draw a cat", gjson.Get(s, "contents.0.parts.1.text").String())
}

func TestTransport_JSONMode(t *testing.T) {
	var body []byte
	srv := fakeGemini(t, 200, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"ok\":true}"}]}}]}`, &body)
	defer srv.Close()

	res, err := New(srv.Client(), nil, WithBaseURL(srv.URL)).Generate(context.Background(), call(&llm.GenerationRequest{
		Parts:    []llm.ContentPart{llm.TextPart("analyze")},
		JSONMode: true,
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, res.Text)
	assert.Contains(t, string(body), "application/json")
}

func TestTransport_SafetyBlock(t *testing.T) {
	srv := fakeGemini(t, 200, `{"promptFeedback":{"blockReason":"PROHIBITED_CONTENT"}}`, nil)
	defer srv.Close()

	_, err := New(srv.Client(), nil, WithBaseURL(srv.URL)).Generate(context.Background(),
		call(&llm.GenerationRequest{Parts: []llm.ContentPart{llm.TextPart("x")}}))
	assert.True(t, llm.IsKind(err, llm.ErrContentPolicyRejected))
}

func TestTransport_HTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   llm.ErrorKind
	}{
		{401, `{"error":{"code":401,"message":"unauthenticated","status":"UNAUTHENTICATED"}}`, llm.ErrAuthInvalid},
		{400, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`, llm.ErrAuthInvalid},
		{404, `{"error":{"code":404,"message":"models/gemini-2.5-flash is not found","status":"NOT_FOUND"}}`, llm.ErrModelNotFound},
	}
	for _, tt := range tests {
		srv := fakeGemini(t, tt.status, tt.body, nil)
		_, err := New(srv.Client(), nil, WithBaseURL(srv.URL)).Generate(context.Background(),
			call(&llm.GenerationRequest{Parts: []llm.ContentPart{llm.TextPart("x")}}))
		srv.Close()
		assert.Equal(t, tt.want, llm.KindOf(err), "status %d", tt.status)
	}
}

func TestTransport_MissingKey(t *testing.T) {
	c := call(&llm.GenerationRequest{Parts: []llm.ContentPart{llm.TextPart("x")}})
	c.Credential.Key = ""
	_, err := New(nil, nil).Generate(context.Background(), c)
	assert.True(t, llm.IsKind(err, llm.ErrAuthInvalid))
}

func TestBuildContents(t *testing.T) {
	_, err := buildContents(&llm.GenerationRequest{})
	assert.Error(t, err)

	_, err = buildContents(&llm.GenerationRequest{Parts: []llm.ContentPart{llm.InlinePart("image/png", "!!!")}})
	assert.Error(t, err)

	contents, err := buildContents(&llm.GenerationRequest{Parts: []llm.ContentPart{llm.TextPart("a"), llm.TextPart("b")}})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Len(t, contents[0].Parts, 2)
}

func TestBuildConfig(t *testing.T) {
	cfg := buildConfig(&llm.GenerationRequest{MaxTokens: 512, JSONMode: true})
	assert.Equal(t, int32(512), cfg.MaxOutputTokens)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	assert.Len(t, cfg.SafetySettings, 4)
	assert.Nil(t, cfg.SystemInstruction)
	assert.Empty(t, cfg.ResponseModalities)
}
