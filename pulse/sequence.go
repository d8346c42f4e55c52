package pulse

import (
	"encoding/json"
	"fmt"
)

//Trigger input value meaning "no trigger"
const TriggerOff = "OFF"

//SequenceStep references a BlockEnsemble by name plus the sequencer playback
//parameters of one sequence table row.
type SequenceStep struct {
	//Ensemble is the name of the referenced BlockEnsemble
	Ensemble string `json:"ensemble"`
	//Repetitions counts extra repeats (0 = play once); negative means loop forever
	Repetitions int `json:"repetitions"`
	//GoTo is the 1-based step index to jump to after all repetitions;
	//-1 (or 0) falls through to the next step
	GoTo int `json:"go_to"`
	//EventJumpTo is the 1-based step index to jump to on a trigger event;
	//-1 (or 0) jumps to the next step. Ignored while EventTrigger is "OFF".
	EventJumpTo int `json:"event_jump_to"`
	//EventTrigger is the trigger input to listen to for jumps, "OFF" to ignore
	EventTrigger string `json:"event_trigger"`
	//WaitFor is the trigger input to wait for before playing this step, "OFF" for none
	WaitFor string `json:"wait_for"`
	//FlagTrigger lists the flag outputs to pulse when this step starts playing
	FlagTrigger []string `json:"flag_trigger"`
	//FlagHigh lists the flag outputs to hold high while this step is playing
	FlagHigh []string `json:"flag_high"`
}

//DefaultSequenceStep returns a step for the named ensemble with all playback
//parameters at their defaults (play once, fall through, no triggers, no flags)
func DefaultSequenceStep(ensemble string) SequenceStep {
	return SequenceStep{
		Ensemble:     ensemble,
		Repetitions:  0,
		GoTo:         -1,
		EventJumpTo:  -1,
		EventTrigger: TriggerOff,
		WaitFor:      TriggerOff,
		FlagTrigger:  []string{},
		FlagHigh:     []string{},
	}
}

//Equal reports whether both steps are identical
func (s SequenceStep) Equal(other SequenceStep) bool {
	if s.Ensemble != other.Ensemble || s.Repetitions != other.Repetitions ||
		s.GoTo != other.GoTo || s.EventJumpTo != other.EventJumpTo ||
		s.EventTrigger != other.EventTrigger || s.WaitFor != other.WaitFor {
		return false
	}
	if len(s.FlagTrigger) != len(other.FlagTrigger) || len(s.FlagHigh) != len(other.FlagHigh) {
		return false
	}
	for i := range s.FlagTrigger {
		if s.FlagTrigger[i] != other.FlagTrigger[i] {
			return false
		}
	}
	for i := range s.FlagHigh {
		if s.FlagHigh[i] != other.FlagHigh[i] {
			return false
		}
	}
	return true
}

//Sequence is a hardware-level playback program: an ordered list of ensemble-referencing
//steps with loop/jump/trigger metadata. Ensembles are referenced by name only.
//
//A sequence is finite unless any step loops forever (negative repetitions). IsFinite is
//kept up to date by every mutation. Structural mutations clear cached sampling and
//measurement information.
type Sequence struct {
	name          string
	rotatingFrame bool
	steps         []SequenceStep
	isFinite      bool
	samplingInfo  *SequenceSamplingInformation
	measInfo      *MeasurementInformation
}

//NewSequence creates a sequence. rotatingFrame selects whether analog phase is
//preserved ACROSS step boundaries during sampling (phase preservation within a single
//ensemble is controlled by the ensemble itself).
func NewSequence(name string, rotatingFrame bool, steps ...SequenceStep) (*Sequence, error) {
	s := &Sequence{name: name, rotatingFrame: rotatingFrame, isFinite: true}
	for _, step := range steps {
		if err := s.Append(step); err != nil {
			return nil, err
		}
	}
	return s, nil
}

//Name returns the unique sequence name used as repository key
func (s *Sequence) Name() string { return s.name }

//RotatingFrame reports whether phase is preserved across step boundaries
func (s *Sequence) RotatingFrame() bool { return s.rotatingFrame }

//IsFinite reports whether the sequence has a finite total length
func (s *Sequence) IsFinite() bool { return s.isFinite }

//Len returns the number of steps
func (s *Sequence) Len() int { return len(s.steps) }

//Steps returns the step list. Treat as read-only.
func (s *Sequence) Steps() []SequenceStep { return s.steps }

//Step returns the step at index
func (s *Sequence) Step(index int) (SequenceStep, error) {
	if index < 0 || index >= len(s.steps) {
		return SequenceStep{}, fmt.Errorf("%w: step %v of sequence %q (len %v)",
			ErrIndexOutOfRange, index, s.name, len(s.steps))
	}
	return s.steps[index], nil
}

func (s *Sequence) invalidate() {
	s.samplingInfo = nil
	s.measInfo = nil
}

//refreshFinite recomputes IsFinite from scratch. Called whenever a step with negative
//repetitions may have been added or removed.
func (s *Sequence) refreshFinite() {
	s.isFinite = true
	for _, step := range s.steps {
		if step.Repetitions < 0 {
			s.isFinite = false
			return
		}
	}
}

//Insert places step at the given position, shifting subsequent steps to higher indices
func (s *Sequence) Insert(position int, step SequenceStep) error {
	if position < 0 || position > len(s.steps) {
		return fmt.Errorf("%w: insert at %v into sequence %q (len %v)",
			ErrIndexOutOfRange, position, s.name, len(s.steps))
	}
	s.steps = append(s.steps, SequenceStep{})
	copy(s.steps[position+1:], s.steps[position:])
	s.steps[position] = step
	if step.Repetitions < 0 {
		s.isFinite = false
	}
	s.invalidate()
	return nil
}

//Append places step at the end of the step list
func (s *Sequence) Append(step SequenceStep) error {
	return s.Insert(len(s.steps), step)
}

//Extend appends all given steps
func (s *Sequence) Extend(steps ...SequenceStep) error {
	for _, step := range steps {
		if err := s.Append(step); err != nil {
			return err
		}
	}
	return nil
}

//Set replaces the step at index
func (s *Sequence) Set(index int, step SequenceStep) error {
	if index < 0 || index >= len(s.steps) {
		return fmt.Errorf("%w: set step %v of sequence %q (len %v)",
			ErrIndexOutOfRange, index, s.name, len(s.steps))
	}
	removedInfinite := s.steps[index].Repetitions < 0
	s.steps[index] = step
	if step.Repetitions < 0 {
		s.isFinite = false
	} else if removedInfinite {
		s.refreshFinite()
	}
	s.invalidate()
	return nil
}

//Delete removes the step at index
func (s *Sequence) Delete(index int) error {
	if index < 0 || index >= len(s.steps) {
		return fmt.Errorf("%w: delete step %v of sequence %q (len %v)",
			ErrIndexOutOfRange, index, s.name, len(s.steps))
	}
	removedInfinite := s.steps[index].Repetitions < 0
	s.steps = append(s.steps[:index], s.steps[index+1:]...)
	if removedInfinite {
		s.refreshFinite()
	}
	s.invalidate()
	return nil
}

//Pop removes and returns the last step
func (s *Sequence) Pop() (SequenceStep, error) {
	if len(s.steps) == 0 {
		return SequenceStep{}, fmt.Errorf("%w: sequence %q", ErrEmptyList, s.name)
	}
	step := s.steps[len(s.steps)-1]
	if err := s.Delete(len(s.steps) - 1); err != nil {
		return SequenceStep{}, err
	}
	return step, nil
}

//Clear removes all steps
func (s *Sequence) Clear() {
	s.steps = nil
	s.isFinite = true
	s.invalidate()
}

//Reverse reverses the step order in place
func (s *Sequence) Reverse() {
	for i, j := 0, len(s.steps)-1; i < j; i, j = i+1, j-1 {
		s.steps[i], s.steps[j] = s.steps[j], s.steps[i]
	}
	s.invalidate()
}

//SamplingInformation returns the cached sampling information or nil
func (s *Sequence) SamplingInformation() *SequenceSamplingInformation { return s.samplingInfo }

//SetSamplingInformation attaches sampling information after a successful sampling run
func (s *Sequence) SetSamplingInformation(info *SequenceSamplingInformation) {
	s.samplingInfo = info
}

//ClearSamplingInformation drops the cached sampling information
func (s *Sequence) ClearSamplingInformation() { s.samplingInfo = nil }

//MeasurementInformation returns the attached measurement metadata or nil
func (s *Sequence) MeasurementInformation() *MeasurementInformation { return s.measInfo }

//SetMeasurementInformation attaches measurement metadata
func (s *Sequence) SetMeasurementInformation(info *MeasurementInformation) {
	s.measInfo = info
}

//Equal reports whether both sequences describe the same playback program. Sampling
//information is excluded, mirroring BlockEnsemble.Equal.
func (s *Sequence) Equal(other *Sequence) bool {
	if s == other {
		return true
	}
	if other == nil || s.name != other.name || s.rotatingFrame != other.rotatingFrame ||
		s.isFinite != other.isFinite || len(s.steps) != len(other.steps) {
		return false
	}
	for i := range s.steps {
		if !s.steps[i].Equal(other.steps[i]) {
			return false
		}
	}
	if (s.measInfo == nil) != (other.measInfo == nil) {
		return false
	}
	if s.measInfo != nil && !s.measInfo.Equal(other.measInfo) {
		return false
	}
	return true
}

//sequenceDTO is the dict representation of a Sequence
type sequenceDTO struct {
	Name          string                       `json:"name"`
	RotatingFrame bool                         `json:"rotating_frame"`
	Steps         []SequenceStep               `json:"ensemble_list"`
	SamplingInfo  *SequenceSamplingInformation `json:"sampling_information,omitempty"`
	MeasInfo      *MeasurementInformation      `json:"measurement_information,omitempty"`
}

//MarshalJSON implements the dict representation round trip
func (s *Sequence) MarshalJSON() ([]byte, error) {
	return json.Marshal(sequenceDTO{
		Name:          s.name,
		RotatingFrame: s.rotatingFrame,
		Steps:         s.steps,
		SamplingInfo:  s.samplingInfo,
		MeasInfo:      s.measInfo,
	})
}

//UnmarshalJSON implements the dict representation round trip
func (s *Sequence) UnmarshalJSON(data []byte) error {
	var dto sequenceDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	restored, err := NewSequence(dto.Name, dto.RotatingFrame, dto.Steps...)
	if err != nil {
		return err
	}
	restored.samplingInfo = dto.SamplingInfo
	restored.measInfo = dto.MeasInfo
	*s = *restored
	return nil
}
