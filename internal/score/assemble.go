// Package score turns per-stem note sequences into one combined symbolic
// artifact: a multi-track Standard MIDI File with one named track per stem.
package score

import (
	"fmt"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/audioscribe/api/internal/model"
)

const (
	ticksPerQuarter = 960
	tempoBPM        = 120
	drumChannel     = 9
)

// General MIDI programs for the stems produced by 5-stem separation.
var gmPrograms = map[string]uint8{
	"piano":  0,  // Acoustic Grand Piano
	"vocals": 52, // Choir Aahs
	"bass":   33, // Electric Bass (finger)
	"other":  48, // String Ensemble 1
}

// midiEvent is a note on/off boundary, ordered by absolute tick.
type midiEvent struct {
	tick uint32
	on   bool
	key  uint8
	vel  uint8
}

// WriteSMF assembles the sequences into a type-1 SMF at path. Stems come
// out of transcription independently, so each becomes its own track at a
// fixed 120 BPM grid.
func WriteSMF(path string, seqs []model.NoteSequence) error {
	if len(seqs) == 0 {
		return fmt.Errorf("no note sequences to assemble")
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(ticksPerQuarter)

	for i, seq := range seqs {
		channel := uint8(i % 16)
		if seq.Instrument == "drums" {
			channel = drumChannel
		} else if channel == drumChannel {
			channel++
		}

		tr := smf.Track{}
		tr.Add(0, smf.MetaTrackSequenceName(seq.Instrument))
		if i == 0 {
			tr.Add(0, smf.MetaTempo(tempoBPM))
		}
		if prog, ok := gmPrograms[seq.Instrument]; ok && channel != drumChannel {
			tr.Add(0, midi.ProgramChange(channel, prog))
		}

		var prev uint32
		for _, ev := range noteEvents(seq.Notes) {
			delta := ev.tick - prev
			prev = ev.tick
			if ev.on {
				tr.Add(delta, midi.NoteOn(channel, ev.key, ev.vel))
			} else {
				tr.Add(delta, midi.NoteOff(channel, ev.key))
			}
		}
		tr.Close(0)

		if err := s.Add(tr); err != nil {
			return fmt.Errorf("failed to add track %q: %w", seq.Instrument, err)
		}
	}

	if err := s.WriteFile(path); err != nil {
		return fmt.Errorf("failed to write MIDI file: %w", err)
	}
	return nil
}

// noteEvents flattens notes into tick-ordered on/off events. Offs sort
// before ons at the same tick so repeated notes re-articulate.
func noteEvents(notes []model.Note) []midiEvent {
	events := make([]midiEvent, 0, 2*len(notes))
	for _, n := range notes {
		key := clampKey(n.Pitch)
		vel := clampVelocity(n.Velocity)
		on := secondsToTicks(n.Start)
		off := secondsToTicks(n.End)
		if off <= on {
			off = on + 1
		}
		events = append(events,
			midiEvent{tick: on, on: true, key: key, vel: vel},
			midiEvent{tick: off, on: false, key: key},
		)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return !events[i].on && events[j].on
	})
	return events
}

func secondsToTicks(sec float64) uint32 {
	quarters := sec * tempoBPM / 60.0
	return uint32(quarters * ticksPerQuarter)
}

func clampKey(pitch int) uint8 {
	if pitch < 0 {
		return 0
	}
	if pitch > 127 {
		return 127
	}
	return uint8(pitch)
}

func clampVelocity(vel int) uint8 {
	if vel < 1 {
		return 64
	}
	if vel > 127 {
		return 127
	}
	return uint8(vel)
}
