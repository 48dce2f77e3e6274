package types

// Segment is one contiguous span of recognized speech.
type Segment struct {
	// Start time in seconds from the beginning of the audio.
	// example: 3.42
	Start float64 `json:"start" example:"3.42"`
	// End time in seconds; always greater than Start.
	// example: 7.91
	End float64 `json:"end" example:"7.91"`
	// Recognized text for this span.
	// example: hello and welcome back
	Text string `json:"text" example:"hello and welcome back"`
	// Speaker label, present when diarization ran and a turn overlapped this span.
	// example: SPEAKER_00
	Speaker string `json:"speaker,omitempty" example:"SPEAKER_00"`
	// Word-level timings, present when alignment ran.
	Words []Word `json:"words,omitempty"`
}

// Word is a single aligned token with timing and confidence.
type Word struct {
	// Token text.
	// example: hello
	Word string `json:"word" example:"hello"`
	// Start time in seconds.
	// example: 3.42
	Start float64 `json:"start" example:"3.42"`
	// End time in seconds.
	// example: 3.58
	End float64 `json:"end" example:"3.58"`
	// Alignment confidence in [0,1].
	// example: 0.97
	Score float64 `json:"score" example:"0.97"`
	// Speaker label, present when diarization ran.
	// example: SPEAKER_00
	Speaker string `json:"speaker,omitempty" example:"SPEAKER_00"`
}

// SpeakerTurn is one diarization interval attributed to a single speaker.
// Turns never overlap and are ordered by start time.
type SpeakerTurn struct {
	// Start time in seconds.
	// example: 0.0
	Start float64 `json:"start" example:"0.0"`
	// End time in seconds.
	// example: 3.2
	End float64 `json:"end" example:"3.2"`
	// Speaker label assigned by the diarizer.
	// example: SPEAKER_00
	Speaker string `json:"speaker" example:"SPEAKER_00"`
}
