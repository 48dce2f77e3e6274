package assemble

import (
	"testing"

	"scriberd/internal/backend"
	"scriberd/pkg/types"
)

func TestAssignSpeakersMaxOverlap(t *testing.T) {
	segs := []types.Segment{{Start: 3.4, End: 3.62, Text: "yes"}}
	turns := []types.SpeakerTurn{
		{Start: 0, End: 3.2, Speaker: "SPEAKER_00"},
		{Start: 3.2, End: 7.3, Speaker: "SPEAKER_01"},
	}
	AssignSpeakers(segs, nil, turns)
	if segs[0].Speaker != "SPEAKER_01" {
		t.Fatalf("speaker = %q, want SPEAKER_01", segs[0].Speaker)
	}
}

func TestAssignSpeakersTieEarliestStart(t *testing.T) {
	// Both speakers overlap the segment for exactly one second.
	segs := []types.Segment{{Start: 1, End: 3}}
	turns := []types.SpeakerTurn{
		{Start: 2, End: 3, Speaker: "SPEAKER_01"},
		{Start: 0, End: 2, Speaker: "SPEAKER_00"},
	}
	AssignSpeakers(segs, nil, turns)
	if segs[0].Speaker != "SPEAKER_00" {
		t.Fatalf("tie should go to the earliest turn, got %q", segs[0].Speaker)
	}
}

func TestAssignSpeakersSumsSplitTurns(t *testing.T) {
	// SPEAKER_00 has two short turns totalling more overlap than
	// SPEAKER_01's single longer turn.
	segs := []types.Segment{{Start: 0, End: 10}}
	turns := []types.SpeakerTurn{
		{Start: 0, End: 2, Speaker: "SPEAKER_00"},
		{Start: 3, End: 6, Speaker: "SPEAKER_01"},
		{Start: 8, End: 10, Speaker: "SPEAKER_00"},
	}
	AssignSpeakers(segs, nil, turns)
	if segs[0].Speaker != "SPEAKER_00" {
		t.Fatalf("speaker = %q, want SPEAKER_00", segs[0].Speaker)
	}
}

func TestAssignSpeakersNoOverlap(t *testing.T) {
	segs := []types.Segment{{Start: 10, End: 12}}
	words := []types.Word{{Word: "late", Start: 10.2, End: 10.8}}
	turns := []types.SpeakerTurn{{Start: 0, End: 5, Speaker: "SPEAKER_00"}}
	AssignSpeakers(segs, words, turns)
	if segs[0].Speaker != "" || words[0].Speaker != "" {
		t.Fatalf("spans outside every turn must stay unlabelled")
	}
}

func TestAssignSpeakersLabelsWords(t *testing.T) {
	segs := []types.Segment{{
		Start: 0, End: 4,
		Words: []types.Word{
			{Word: "hi", Start: 0.1, End: 0.4},
			{Word: "there", Start: 3.1, End: 3.6},
		},
	}}
	turns := []types.SpeakerTurn{
		{Start: 0, End: 2, Speaker: "SPEAKER_00"},
		{Start: 2, End: 4, Speaker: "SPEAKER_01"},
	}
	AssignSpeakers(segs, nil, turns)
	if segs[0].Words[0].Speaker != "SPEAKER_00" {
		t.Fatalf("word 0 speaker = %q", segs[0].Words[0].Speaker)
	}
	if segs[0].Words[1].Speaker != "SPEAKER_01" {
		t.Fatalf("word 1 speaker = %q", segs[0].Words[1].Speaker)
	}
}

func TestResultPlainTranscript(t *testing.T) {
	in := Input{
		Transcript: backend.Transcript{
			Language: "en",
			Segments: []types.Segment{
				{Start: 0, End: 1.5, Text: " Hello. "},
				{Start: 1.5, End: 3, Text: "How are you?"},
			},
		},
		DurationSec: 3,
	}
	res := Result(in)
	if res.Text != "Hello. How are you?" {
		t.Fatalf("text = %q", res.Text)
	}
	if res.Language != "en" || res.Duration != 3 {
		t.Fatalf("language/duration = %q/%v", res.Language, res.Duration)
	}
	if res.DiarizationApplied || res.Diarization != nil {
		t.Fatalf("diarization fields must stay empty")
	}
	if len(res.WordSegments) != 0 {
		t.Fatalf("no words without alignment")
	}

	// The result owns its segments.
	res.Segments[0].Text = "mutated"
	if in.Transcript.Segments[0].Text != " Hello. " {
		t.Fatalf("result aliased the input segments")
	}
}

func TestResultUsesAlignedSegments(t *testing.T) {
	in := Input{
		Transcript: backend.Transcript{
			Language: "en",
			Segments: []types.Segment{{Start: 0, End: 3, Text: "rough"}},
		},
		Aligned: &backend.Aligned{
			Segments: []types.Segment{{Start: 0.2, End: 2.8, Text: "precise"}},
			Words:    []types.Word{{Word: "precise", Start: 0.2, End: 2.8, Score: 0.97}},
		},
		DurationSec: 3,
	}
	res := Result(in)
	if len(res.Segments) != 1 || res.Segments[0].Text != "precise" {
		t.Fatalf("segments = %+v", res.Segments)
	}
	if len(res.WordSegments) != 1 || res.WordSegments[0].Word != "precise" {
		t.Fatalf("word segments = %+v", res.WordSegments)
	}
}

func TestResultDiarized(t *testing.T) {
	turns := []types.SpeakerTurn{
		{Start: 0, End: 2, Speaker: "SPEAKER_00"},
		{Start: 2, End: 4, Speaker: "SPEAKER_01"},
	}
	in := Input{
		Transcript: backend.Transcript{
			Language: "en",
			Segments: []types.Segment{{Start: 0, End: 1.8, Text: "first"}},
		},
		Aligned: &backend.Aligned{
			Segments: []types.Segment{
				{Start: 0, End: 1.8, Text: "first"},
				{Start: 2.1, End: 3.9, Text: "second"},
			},
			Words: []types.Word{
				{Word: "first", Start: 0, End: 1.8},
				{Word: "second", Start: 2.1, End: 3.9},
			},
		},
		Turns:              turns,
		DiarizationApplied: true,
		DurationSec:        4,
		Warnings:           []string{"something minor"},
	}
	res := Result(in)
	if !res.DiarizationApplied {
		t.Fatalf("diarization_applied not set")
	}
	if len(res.Diarization) != 2 {
		t.Fatalf("diarization turns missing from result")
	}
	if res.Segments[0].Speaker != "SPEAKER_00" || res.Segments[1].Speaker != "SPEAKER_01" {
		t.Fatalf("segment speakers = %q/%q", res.Segments[0].Speaker, res.Segments[1].Speaker)
	}
	if res.WordSegments[0].Speaker != "SPEAKER_00" || res.WordSegments[1].Speaker != "SPEAKER_01" {
		t.Fatalf("word speakers = %q/%q", res.WordSegments[0].Speaker, res.WordSegments[1].Speaker)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings lost")
	}
}

func TestResultEmptyTranscript(t *testing.T) {
	res := Result(Input{Transcript: backend.Transcript{Language: "en"}})
	if res.Text != "" {
		t.Fatalf("text = %q, want empty", res.Text)
	}
	if res.Segments == nil {
		t.Fatalf("segments must marshal as an empty list, not null")
	}
}
