// Package assemble merges the outputs of the pipeline stages into the
// final transcription result. Everything here is pure computation over
// in-memory values.
package assemble

import (
	"math"
	"sort"
	"strings"

	"scriberd/internal/backend"
	"scriberd/pkg/types"
)

// Input carries the per-stage outputs gathered for one job. Aligned is nil
// when the alignment stage was skipped or degraded, in which case the raw
// transcript segments are used as-is.
type Input struct {
	Transcript         backend.Transcript
	Aligned            *backend.Aligned
	Turns              []types.SpeakerTurn
	DiarizationApplied bool
	DurationSec        float64
	Warnings           []string
}

// Result builds the response payload for one finished job. The input slices
// are never mutated.
func Result(in Input) types.TranscriptionResult {
	segs := in.Transcript.Segments
	var words []types.Word
	if in.Aligned != nil {
		segs = in.Aligned.Segments
		words = in.Aligned.Words
	}
	segs = cloneSegments(segs)
	words = cloneWords(words)
	if in.DiarizationApplied {
		AssignSpeakers(segs, words, in.Turns)
	}

	res := types.TranscriptionResult{
		Text:               joinText(segs),
		Language:           in.Transcript.Language,
		Duration:           in.DurationSec,
		Segments:           segs,
		WordSegments:       words,
		DiarizationApplied: in.DiarizationApplied,
		Warnings:           in.Warnings,
	}
	if in.DiarizationApplied {
		res.Diarization = in.Turns
	}
	return res
}

// AssignSpeakers labels each segment and word with the speaker whose turns
// overlap its time span the most. Total overlap is summed across turns per
// speaker; ties go to the speaker whose overlapping turn starts earliest.
// A span with no overlapping turn keeps an empty speaker.
func AssignSpeakers(segments []types.Segment, words []types.Word, turns []types.SpeakerTurn) {
	if len(turns) == 0 {
		return
	}
	for i := range segments {
		segments[i].Speaker = bestSpeaker(segments[i].Start, segments[i].End, turns)
		for j := range segments[i].Words {
			w := &segments[i].Words[j]
			w.Speaker = bestSpeaker(w.Start, w.End, turns)
		}
	}
	for i := range words {
		words[i].Speaker = bestSpeaker(words[i].Start, words[i].End, turns)
	}
}

type speakerScore struct {
	speaker  string
	total    float64
	earliest float64
}

func bestSpeaker(start, end float64, turns []types.SpeakerTurn) string {
	var scores []speakerScore
	idx := map[string]int{}
	for _, t := range turns {
		ov := overlap(start, end, t.Start, t.End)
		if ov <= 0 {
			continue
		}
		i, ok := idx[t.Speaker]
		if !ok {
			idx[t.Speaker] = len(scores)
			scores = append(scores, speakerScore{speaker: t.Speaker, total: ov, earliest: t.Start})
			continue
		}
		scores[i].total += ov
		if t.Start < scores[i].earliest {
			scores[i].earliest = t.Start
		}
	}
	if len(scores) == 0 {
		return ""
	}
	sort.Slice(scores, func(a, b int) bool {
		if scores[a].total != scores[b].total {
			return scores[a].total > scores[b].total
		}
		if scores[a].earliest != scores[b].earliest {
			return scores[a].earliest < scores[b].earliest
		}
		return scores[a].speaker < scores[b].speaker
	})
	return scores[0].speaker
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	o := math.Min(aEnd, bEnd) - math.Max(aStart, bStart)
	if o < 0 {
		return 0
	}
	return o
}

func joinText(segments []types.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func cloneSegments(in []types.Segment) []types.Segment {
	out := make([]types.Segment, len(in))
	copy(out, in)
	for i := range out {
		if len(out[i].Words) > 0 {
			ws := make([]types.Word, len(out[i].Words))
			copy(ws, out[i].Words)
			out[i].Words = ws
		}
	}
	return out
}

func cloneWords(in []types.Word) []types.Word {
	if len(in) == 0 {
		return nil
	}
	out := make([]types.Word, len(in))
	copy(out, in)
	return out
}
