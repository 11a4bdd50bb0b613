package model

// Note is a single transcribed note event, times in seconds.
type Note struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Pitch    int     `json:"pitch"`
	Velocity int     `json:"velocity"`
}

// NoteSequence is the symbolic transcription of one stem.
type NoteSequence struct {
	Instrument string `json:"instrument"`
	Notes      []Note `json:"notes"`
}
