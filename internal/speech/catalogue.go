package speech

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Speed bounds accepted from callers.
const (
	MinSpeed = 0.1
	MaxSpeed = 3.0
)

// ModelAuto selects the model registered for the request language.
const ModelAuto = "auto"

// ModelInfo describes one synthesis model and the language it speaks.
type ModelInfo struct {
	// Key is the short name callers use, e.g. "hebrew".
	Key string `json:"key"`

	// Name is a display name, e.g. "MMS-TTS Hebrew".
	Name string `json:"name"`

	// ModelID is passed to the TTS provider, e.g. "facebook/mms-tts-heb".
	ModelID string `json:"model_id"`

	// Language is the code callers send, e.g. "heb".
	Language string `json:"language"`

	// LanguageName is the display name of Language.
	LanguageName string `json:"language_name"`

	// TranscribeLanguage is the hint given to the transcriber, e.g. "he".
	// Callers may also use it as an alias for Language.
	TranscribeLanguage string `json:"transcribe_language"`
}

// Preset is a named speaking-rate setting.
type Preset struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Speed       float64 `json:"speed"`
}

// LanguageInfo is one entry of the language listing.
type LanguageInfo struct {
	Code               string `json:"code"`
	Name               string `json:"name"`
	Model              string `json:"model"`
	ModelKey           string `json:"model_key"`
	TranscribeLanguage string `json:"transcribe_language,omitempty"`
}

// DefaultModels is the model set served when none is configured.
func DefaultModels() []ModelInfo {
	return []ModelInfo{
		{Key: "hebrew", Name: "MMS-TTS Hebrew", ModelID: "facebook/mms-tts-heb", Language: "heb", LanguageName: "Hebrew", TranscribeLanguage: "he"},
		{Key: "greek", Name: "MMS-TTS Greek", ModelID: "facebook/mms-tts-ell", Language: "ell", LanguageName: "Greek", TranscribeLanguage: "el"},
		{Key: "portuguese", Name: "MMS-TTS Portuguese", ModelID: "facebook/mms-tts-por", Language: "por", LanguageName: "Portuguese", TranscribeLanguage: "pt"},
	}
}

// DefaultPresets is the preset set served when none is configured.
func DefaultPresets() []Preset {
	return []Preset{
		{Name: "natural", Description: "Balanced natural voice", Speed: 1.0},
		{Name: "expressive", Description: "Slightly quicker, more expressive delivery", Speed: 0.9},
		{Name: "robotic", Description: "Natural voice (model limitations)", Speed: 1.0},
		{Name: "slow", Description: "Slow speech for learners", Speed: 1.5},
		{Name: "fast", Description: "Fast speech", Speed: 0.7},
	}
}

// Catalogue resolves request parameters against the configured models and
// presets. It is immutable once built and safe for concurrent use.
type Catalogue struct {
	models  []ModelInfo
	byKey   map[string]ModelInfo
	byLang  map[string]ModelInfo
	presets []Preset
	byName  map[string]Preset
}

// NewCatalogue validates models and presets and builds a [Catalogue].
// Language codes and transcribe languages must be unique across models.
func NewCatalogue(models []ModelInfo, presets []Preset) (*Catalogue, error) {
	c := &Catalogue{
		models:  slices.Clone(models),
		byKey:   make(map[string]ModelInfo, len(models)),
		byLang:  make(map[string]ModelInfo, 2*len(models)),
		presets: slices.Clone(presets),
		byName:  make(map[string]Preset, len(presets)),
	}

	var errs []error
	if len(models) == 0 {
		errs = append(errs, errors.New("speech: at least one model is required"))
	}
	for i, m := range models {
		switch {
		case m.Key == "" || m.Key == ModelAuto:
			errs = append(errs, fmt.Errorf("speech: models[%d]: invalid key %q", i, m.Key))
			continue
		case m.ModelID == "":
			errs = append(errs, fmt.Errorf("speech: model %q: model_id is required", m.Key))
		case m.Language == "":
			errs = append(errs, fmt.Errorf("speech: model %q: language is required", m.Key))
		}
		if _, dup := c.byKey[m.Key]; dup {
			errs = append(errs, fmt.Errorf("speech: duplicate model key %q", m.Key))
		}
		c.byKey[m.Key] = m
		for _, code := range languageCodes(m) {
			if prev, dup := c.byLang[code]; dup && prev.Key != m.Key {
				errs = append(errs, fmt.Errorf("speech: language %q served by both %q and %q", code, prev.Key, m.Key))
				continue
			}
			c.byLang[code] = m
		}
	}
	for i, p := range presets {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("speech: presets[%d]: name is required", i))
			continue
		case p.Speed < MinSpeed || p.Speed > MaxSpeed:
			errs = append(errs, fmt.Errorf("speech: preset %q: speed %v outside [%v, %v]", p.Name, p.Speed, MinSpeed, MaxSpeed))
		}
		if _, dup := c.byName[p.Name]; dup {
			errs = append(errs, fmt.Errorf("speech: duplicate preset %q", p.Name))
		}
		c.byName[p.Name] = p
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func languageCodes(m ModelInfo) []string {
	codes := []string{strings.ToLower(m.Language)}
	if t := strings.ToLower(m.TranscribeLanguage); t != "" && t != codes[0] {
		codes = append(codes, t)
	}
	return codes
}

// Resolve picks the model for language and model. model may be empty or
// [ModelAuto] to select by language; otherwise it must name a model that
// speaks language.
func (c *Catalogue) Resolve(language, model string) (ModelInfo, error) {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return ModelInfo{}, fmt.Errorf("%w: language is required", ErrInvalidInput)
	}
	byLang, ok := c.byLang[lang]
	if model == "" || model == ModelAuto {
		if !ok {
			return ModelInfo{}, fmt.Errorf("%w: language %q not supported", ErrInvalidInput, language)
		}
		return byLang, nil
	}
	m, ok := c.byKey[model]
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: model %q not available", ErrInvalidInput, model)
	}
	if !slices.Contains(languageCodes(m), lang) {
		return ModelInfo{}, fmt.Errorf("%w: language %q not supported by %s", ErrInvalidInput, language, m.Name)
	}
	return m, nil
}

// Speed source labels reported alongside the resolved speed.
const (
	SpeedSourcePreset  = "preset"
	SpeedSourceManual  = "manual"
	SpeedSourceDefault = "default"
)

// Speed resolves the effective speed. A preset wins over an explicit speed;
// a zero speed without preset means the default of 1.0.
func (c *Catalogue) Speed(preset string, speed float64) (float64, string, error) {
	if preset != "" {
		p, ok := c.byName[preset]
		if !ok {
			return 0, "", fmt.Errorf("%w: preset %q not found", ErrInvalidInput, preset)
		}
		return p.Speed, SpeedSourcePreset, nil
	}
	if speed == 0 {
		return 1.0, SpeedSourceDefault, nil
	}
	if speed < MinSpeed || speed > MaxSpeed {
		return 0, "", fmt.Errorf("%w: speed %v outside [%v, %v]", ErrInvalidInput, speed, MinSpeed, MaxSpeed)
	}
	return speed, SpeedSourceManual, nil
}

// Models returns the configured models in configuration order.
func (c *Catalogue) Models() []ModelInfo { return slices.Clone(c.models) }

// Presets returns the configured presets in configuration order.
func (c *Catalogue) Presets() []Preset { return slices.Clone(c.presets) }

// Languages lists every language code callers may send, sorted by code.
func (c *Catalogue) Languages() []LanguageInfo {
	out := make([]LanguageInfo, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, LanguageInfo{
			Code:               m.Language,
			Name:               m.LanguageName,
			Model:              m.Name,
			ModelKey:           m.Key,
			TranscribeLanguage: m.TranscribeLanguage,
		})
	}
	slices.SortFunc(out, func(a, b LanguageInfo) int { return strings.Compare(a.Code, b.Code) })
	return out
}
