package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rodolfogoulart/mms-tts-api/internal/cache"
	"github.com/rodolfogoulart/mms-tts-api/internal/health"
	"github.com/rodolfogoulart/mms-tts-api/internal/speech"
	sttmock "github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt/mock"
	ttsmock "github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts/mock"
)

type testServer struct {
	srv *httptest.Server
	tts *ttsmock.Provider
	stt *sttmock.Provider
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	arts, err := cache.NewArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifacts: %v", err)
	}
	ts := &testServer{
		tts: &ttsmock.Provider{},
		stt: &sttmock.Provider{EchoPrompt: true},
	}
	svc, err := speech.New(ts.tts, ts.stt, cache.New(cache.NewMemoryStore(), arts))
	if err != nil {
		t.Fatalf("speech.New: %v", err)
	}
	ts.srv = httptest.NewServer(NewRouter(NewHandler(svc), cfg))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func TestSpeakSync_JSON(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, RouterConfig{})

	resp := ts.postJSON(t, "/speak_sync", `{"text":"Γεια σας","language":"ell"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[speakSyncResponse](t, resp)

	if body.Language != "ell" || body.LanguageName != "Greek" || body.ModelUsed != "MMS-TTS Greek" {
		t.Errorf("language=%q name=%q model=%q", body.Language, body.LanguageName, body.ModelUsed)
	}
	if !body.AlignmentAvailable || body.AlignmentMethod != "forced_alignment" {
		t.Errorf("available=%v method=%q", body.AlignmentAvailable, body.AlignmentMethod)
	}
	if body.WordCount != 2 || len(body.Words) != 2 || body.Words[0].Text != "Γεια" {
		t.Errorf("words = %+v", body.Words)
	}
	if body.AlignmentStats.TotalWords != 2 || body.AlignmentStats.MatchRatio != 1 {
		t.Errorf("stats = %+v", body.AlignmentStats)
	}
	if body.CacheHit || body.AlignmentCacheHit {
		t.Error("first request reported a cache hit")
	}
	if !strings.HasPrefix(body.AudioURL, "/audio/") || body.AudioID == "" {
		t.Errorf("audio_url = %q id = %q", body.AudioURL, body.AudioID)
	}

	audio, err := http.Get(ts.srv.URL + body.AudioURL)
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	defer audio.Body.Close()
	if audio.StatusCode != http.StatusOK || audio.Header.Get("Content-Type") != "audio/wav" {
		t.Errorf("audio status=%d type=%q", audio.StatusCode, audio.Header.Get("Content-Type"))
	}

	again := decodeBody[speakSyncResponse](t, ts.postJSON(t, "/speak_sync", `{"text":"Γεια σας","language":"ell"}`))
	if !again.CacheHit || !again.AlignmentCacheHit {
		t.Errorf("second request hit = %v/%v", again.CacheHit, again.AlignmentCacheHit)
	}
}

func TestSpeakSync_Form(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, RouterConfig{})

	form := url.Values{"text": {"שלום עולם"}, "lang": {"heb"}, "speed": {"1.0"}, "preset": {"slow"}}
	resp, err := http.PostForm(ts.srv.URL+"/speak_sync", form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[speakSyncResponse](t, resp)
	if body.Speed != 1.5 || body.SpeedSource != speech.SpeedSourcePreset {
		t.Errorf("speed=%v source=%q, want preset 1.5", body.Speed, body.SpeedSource)
	}
}

func TestSpeakSync_TranscriptionFailureStillReturnsAudio(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, RouterConfig{})
	ts.stt.Err = errors.New("transcriber down")

	resp := ts.postJSON(t, "/speak_sync", `{"text":"Olá mundo","language":"por"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["words"]) != "[]" {
		t.Errorf("words = %s, want []", raw["words"])
	}
	if string(raw["alignment_available"]) != "false" {
		t.Errorf("alignment_available = %s", raw["alignment_available"])
	}
	if string(raw["audio_url"]) == `""` {
		t.Error("audio_url empty")
	}
}

func TestSpeak_ErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		ttsErr      error
		want        int
	}{
		{name: "empty text", path: "/speak_sync", body: `{"text":"  ","language":"heb"}`, want: http.StatusBadRequest},
		{name: "unknown language", path: "/speak_sync", body: `{"text":"hi","language":"xx"}`, want: http.StatusBadRequest},
		{name: "explicit zero speed", path: "/speak", body: `{"text":"hi","language":"por","speed":0}`, want: http.StatusBadRequest},
		{name: "speed out of range", path: "/speak", body: `{"text":"hi","language":"por","speed":4}`, want: http.StatusBadRequest},
		{name: "malformed json", path: "/speak", body: `{"text":`, want: http.StatusBadRequest},
		{name: "unknown field", path: "/speak", body: `{"txt":"hi"}`, want: http.StatusBadRequest},
		{name: "unsupported content type", path: "/speak", contentType: "text/plain", body: "hi", want: http.StatusBadRequest},
		{name: "synthesis failure", path: "/speak_sync", body: `{"text":"hi","language":"por"}`, ttsErr: errors.New("boom"), want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, RouterConfig{})
			ts.tts.Err = tt.ttsErr
			ct := tt.contentType
			if ct == "" {
				ct = "application/json"
			}
			resp, err := http.Post(ts.srv.URL+tt.path, ct, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			body := decodeBody[map[string]string](t, resp)
			if body["error"] == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestSpeak_ReturnsWAV(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, RouterConfig{})

	resp := ts.postJSON(t, "/speak", `{"text":"Olá mundo","language":"pt"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}
	if resp.Header.Get("X-Cache-Hit") != "false" {
		t.Errorf("X-Cache-Hit = %q", resp.Header.Get("X-Cache-Hit"))
	}
	if resp.Header.Get("X-Audio-Duration") == "" || resp.Header.Get("X-Model-Used") != "MMS-TTS Portuguese" {
		t.Errorf("headers = %v", resp.Header)
	}
	if got := ts.stt.CallCount(); got != 0 {
		t.Errorf("stt called %d times for /speak", got)
	}

	again := ts.postJSON(t, "/speak", `{"text":"Olá mundo","language":"pt"}`)
	if again.Header.Get("X-Cache-Hit") != "true" {
		t.Errorf("second X-Cache-Hit = %q", again.Header.Get("X-Cache-Hit"))
	}
}

func TestAudio_NotFound(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, RouterConfig{})

	resp, err := http.Get(ts.srv.URL + "/audio/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCatalogueEndpoints(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, RouterConfig{})

	tests := []struct {
		path  string
		key   string
		count string
		want  float64
	}{
		{path: "/models", key: "models", count: "total_models", want: 3},
		{path: "/languages", key: "supported_languages", count: "total_languages", want: 3},
		{path: "/voice-presets", key: "presets"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			resp, err := http.Get(ts.srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			body := decodeBody[map[string]any](t, resp)
			if _, ok := body[tt.key]; !ok {
				t.Errorf("missing %q in %v", tt.key, body)
			}
			if tt.count != "" && body[tt.count] != tt.want {
				t.Errorf("%s = %v, want %v", tt.count, body[tt.count], tt.want)
			}
		})
	}
}

func TestDeleteCache(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, RouterConfig{AdminAPIKey: "secret"})

	body := decodeBody[speakSyncResponse](t, ts.postJSON(t, "/speak_sync", `{"text":"שלום","language":"heb"}`))

	del := func(key string) int {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodDelete, ts.srv.URL+"/cache/"+body.Fingerprint, nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := del(""); got != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", got)
	}
	if got := del("wrong"); got != http.StatusForbidden {
		t.Errorf("wrong key: status = %d, want 403", got)
	}
	if got := del("secret"); got != http.StatusNoContent {
		t.Errorf("valid key: status = %d, want 204", got)
	}

	resp, err := http.Get(ts.srv.URL + body.AudioURL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("audio after delete: status = %d, want 404", resp.StatusCode)
	}
}

func TestRouter_HealthAndBodyLimit(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, RouterConfig{
		Health:       health.New(),
		MaxBodyBytes: 64,
	})

	resp, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	big := `{"text":"` + strings.Repeat("a", 200) + `","language":"por"}`
	if got := ts.postJSON(t, "/speak", big).StatusCode; got != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: status = %d, want 413", got)
	}
}

func TestAPIKeyAuth_BearerToken(t *testing.T) {
	t.Parallel()
	h := APIKeyAuth("k")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodDelete, "/cache/x", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want pass-through", rec.Code)
	}
}
