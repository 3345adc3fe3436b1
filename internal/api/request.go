package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/rodolfogoulart/mms-tts-api/internal/speech"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

// speakRequest is the body of /speak and /speak_sync. Both JSON and form
// encodings are accepted; "lang" and "preset" are aliases kept for form
// clients.
type speakRequest struct {
	Text        string   `json:"text"`
	Language    string   `json:"language"`
	Lang        string   `json:"lang"`
	Model       string   `json:"model"`
	Speed       *float64 `json:"speed"`
	VoicePreset string   `json:"voice_preset"`
	Preset      string   `json:"preset"`
}

func (s speakRequest) toSpeech() (speech.Request, error) {
	req := speech.Request{
		Text:     s.Text,
		Language: firstNonEmpty(s.Language, s.Lang),
		Model:    strings.TrimSpace(s.Model),
		Preset:   strings.TrimSpace(firstNonEmpty(s.VoicePreset, s.Preset)),
	}
	if s.Speed != nil {
		if *s.Speed == 0 {
			return speech.Request{}, fmt.Errorf("%w: speed must be in [%v, %v]", speech.ErrInvalidInput, speech.MinSpeed, speech.MaxSpeed)
		}
		req.Speed = *s.Speed
	}
	return req, nil
}

func decodeSpeakRequest(r *http.Request) (speech.Request, error) {
	var body speakRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			return speech.Request{}, fmt.Errorf("%w: invalid JSON body: %w", errBadRequest, err)
		}
	case "multipart/form-data", "application/x-www-form-urlencoded", "":
		if err := parseForm(r, mediaType); err != nil {
			return speech.Request{}, fmt.Errorf("%w: invalid form body: %w", errBadRequest, err)
		}
		body = speakRequest{
			Text:        r.PostFormValue("text"),
			Language:    r.PostFormValue("language"),
			Lang:        r.PostFormValue("lang"),
			Model:       r.PostFormValue("model"),
			VoicePreset: r.PostFormValue("voice_preset"),
			Preset:      r.PostFormValue("preset"),
		}
		if raw := strings.TrimSpace(r.PostFormValue("speed")); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return speech.Request{}, fmt.Errorf("%w: speed %q is not a number", speech.ErrInvalidInput, raw)
			}
			body.Speed = &v
		}
	default:
		return speech.Request{}, fmt.Errorf("%w: unsupported content type %q", errBadRequest, mediaType)
	}
	return body.toSpeech()
}

func parseForm(r *http.Request, mediaType string) error {
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(DefaultMaxBodyBytes)
	}
	return r.ParseForm()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
