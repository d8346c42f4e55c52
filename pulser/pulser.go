//Package pulser defines the hand-off contract between the sampling engine and arbitrary
//waveform generator hardware, plus two software implementations: an in-memory Dummy and
//a FileDevice persisting finished waveforms to disk.
//
//The engine streams waveforms in strictly ordered chunks: the first chunk carries
//isFirstChunk, the final one isLastChunk, and devices commit the waveform atomically on
//the last chunk. Analog samples are float32 normalized to the channel's peak-to-peak
//amplitude, digital samples are single-byte booleans.
package pulser

import "pulsegen/pulse"

//SequenceOption describes the sequencing capability of a device
type SequenceOption int

const (
	//SequenceOptionNone - the device cannot play sequences at all
	SequenceOptionNone SequenceOption = iota
	//SequenceOptionOptional - the device can play bare waveforms or sequences
	SequenceOptionOptional
	//SequenceOptionForced - the device only plays waveforms wrapped in a sequence
	SequenceOptionForced
)

func (o SequenceOption) String() string {
	switch o {
	case SequenceOptionNone:
		return "NONE"
	case SequenceOptionOptional:
		return "OPTIONAL"
	case SequenceOptionForced:
		return "FORCED"
	default:
		return "UNKNOWN"
	}
}

//ScalarConstraint describes the accepted range of one numeric device parameter
type ScalarConstraint struct {
	Min     float64
	Max     float64
	Step    float64
	Default float64
	Unit    string
}

//Constraints describes the capability envelope of a pulse generator
type Constraints struct {
	SampleRate ScalarConstraint
	//WaveformLength constrains uploaded waveform sample counts; Step is the
	//granularity every waveform length must be a multiple of
	WaveformLength ScalarConstraint
	SequenceSteps  ScalarConstraint
	SequenceOption SequenceOption
	//ActivationConfigs maps configuration names to their channel sets
	ActivationConfigs map[string]pulse.ChannelSet
}

//SequenceWriteStep is one row of a device sequence table: the waveform names produced
//for the step's ensemble plus the step playback parameters
type SequenceWriteStep struct {
	Waveforms []string
	Params    pulse.SequenceStep
}

//Device is the hardware interface required by the sampling engine. Chunk writes for a
//single waveform must be issued in strict sequential order; sequence steps must be
//written in declared order since jump targets are positional.
type Device interface {
	//Constraints returns the capability envelope of the device
	Constraints() Constraints
	//WriteWaveform appends one chunk to the named waveform. totalSamples is the full
	//waveform length the device may preallocate. Returns the number of samples
	//actually written for this chunk and, once known, the device waveform names
	//produced (typically one per active analog channel).
	WriteWaveform(name string, analog map[string][]float32, digital map[string][]bool,
		isFirstChunk, isLastChunk bool, totalSamples int64) (int64, []string, error)
	//WriteSequence materializes a device sequence table under the given name.
	//Returns the number of steps actually written.
	WriteSequence(name string, steps []SequenceWriteStep) (int, error)
	//DeleteWaveform removes the named device waveform; unknown names are a no-op
	DeleteWaveform(name string) error
	//DeleteSequence removes the named device sequence; unknown names are a no-op
	DeleteSequence(name string) error
	//WaveformNames returns all device waveform names in lexicographic order
	WaveformNames() []string
	//SequenceNames returns all device sequence names in lexicographic order
	SequenceNames() []string
}
