package config

import "github.com/rodolfogoulart/mms-tts-api/internal/speech"

// Catalogue builds the model and preset catalogue described by cfg.
func (cfg *Config) Catalogue() (*speech.Catalogue, error) {
	models := make([]speech.ModelInfo, len(cfg.Models))
	for i, m := range cfg.Models {
		name := m.DisplayName
		if name == "" {
			name = m.Key
		}
		models[i] = speech.ModelInfo{
			Key:                m.Key,
			Name:               name,
			ModelID:            m.ModelID,
			Language:           m.Language,
			LanguageName:       m.LanguageName,
			TranscribeLanguage: m.TranscribeLanguage,
		}
	}
	presets := make([]speech.Preset, len(cfg.Presets))
	for i, p := range cfg.Presets {
		presets[i] = speech.Preset(p)
	}
	return speech.NewCatalogue(models, presets)
}

// Tuning converts a to the orchestrator's tuning.
func (a AlignmentConfig) Tuning() speech.Tuning {
	t := speech.Tuning{
		Window:             a.Window,
		AcceptThreshold:    a.AcceptThreshold,
		QualityFloor:       a.QualityFloor,
		FallbackConfidence: a.FallbackConfidence,
		SynthesizeTimeout:  a.SynthesizeTimeout,
		TranscribeTimeout:  a.TranscribeTimeout,
		WithholdEstimates:  a.WithholdEstimates,
	}
	if a.UsePrompt != nil {
		t.UsePrompt = *a.UsePrompt
	}
	return t
}
