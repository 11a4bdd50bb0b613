package model

// TranscriptionParams are the transcription-model thresholds tuned per
// instrument stem. MinNoteLength is in milliseconds.
type TranscriptionParams struct {
	OnsetThreshold float64
	FrameThreshold float64
	MinNoteLength  int
}

// instrumentParams holds the tuned thresholds for the stems produced by
// 5-stem separation. "other" doubles as the fallback for unknown stems.
var instrumentParams = map[string]TranscriptionParams{
	"piano": {
		OnsetThreshold: 0.65,
		FrameThreshold: 0.5,
		MinNoteLength:  70,
	},
	"vocals": {
		OnsetThreshold: 0.6,
		FrameThreshold: 0.6,
		MinNoteLength:  80,
	},
	"drums": {
		OnsetThreshold: 0.3,
		FrameThreshold: 0.4,
		MinNoteLength:  50,
	},
	"bass": {
		OnsetThreshold: 0.5,
		FrameThreshold: 0.5,
		MinNoteLength:  90,
	},
	"other": {
		OnsetThreshold: 0.654703,
		FrameThreshold: 0.685996,
		MinNoteLength:  120,
	},
}

// ParamsForInstrument returns the tuned thresholds for a stem name.
func ParamsForInstrument(name string) TranscriptionParams {
	if p, ok := instrumentParams[name]; ok {
		return p
	}
	return instrumentParams["other"]
}
