package pulse

import (
	"encoding/json"
	"math"
	"strconv"
)

func floatToNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

//This file holds the result types of the discretization analysis together with the
//cached sampling/measurement information containers attached to ensembles and
//sequences. The containers are populated on successful sampling only and cleared by
//every structural mutation, so an empty container is the canonical "not sampled" state.

//EnsembleInfo is the bin-exact decomposition of a BlockEnsemble at a fixed sample rate.
//It is computed without materializing any sample arrays.
type EnsembleInfo struct {
	//NumberOfSamples is the total discretized sample count
	NumberOfSamples int64 `json:"number_of_samples"`
	//NumberOfElements is the total element instance count including repetitions
	NumberOfElements int `json:"number_of_elements"`
	//ElementLengthBins holds the length in timebins of every element instance in
	//chronological order (including repetitions)
	ElementLengthBins []int64 `json:"elements_length_bins"`
	//DigitalRisingBins maps digital channels to sorted low-to-high transition bins
	DigitalRisingBins map[string][]int64 `json:"digital_rising_bins"`
	//DigitalFallingBins maps digital channels to sorted high-to-low transition bins
	DigitalFallingBins map[string][]int64 `json:"digital_falling_bins"`
	//LaserRisingBins holds the rising bins of the designated laser/gate channel
	LaserRisingBins []int64 `json:"laser_rising_bins"`
	//LaserFallingBins holds the falling bins of the designated laser/gate channel
	LaserFallingBins []int64 `json:"laser_falling_bins"`
	//AnalogChannels/DigitalChannels/Channels are the channel sets in use
	AnalogChannels  ChannelSet `json:"analog_channels"`
	DigitalChannels ChannelSet `json:"digital_channels"`
	Channels        ChannelSet `json:"channel_set"`
	//IdealLength is the un-rounded total length in seconds
	IdealLength float64 `json:"ideal_length_s"`
	//SampleRate is the sample rate in Hz the analysis was run with
	SampleRate float64 `json:"sample_rate"`
}

//SequenceInfo is the concatenated timeline analysis of a Sequence. For sequences
//containing an infinite step, IdealLength is +Inf and the edge lists stop at the point
//where the first infinite step begins.
type SequenceInfo struct {
	//IsFinite is false if any step loops forever
	IsFinite bool `json:"is_finite"`
	//IdealLength is the un-rounded total length in seconds, +Inf if not finite
	IdealLength float64 `json:"ideal_length_s"`
	//NumberOfSamples is the total sample count of the finite part of the timeline
	NumberOfSamples int64 `json:"number_of_samples"`
	//DigitalRisingBins/DigitalFallingBins are the concatenated per-channel edges
	DigitalRisingBins  map[string][]int64 `json:"digital_rising_bins"`
	DigitalFallingBins map[string][]int64 `json:"digital_falling_bins"`
	//LaserRisingBins/LaserFallingBins are the concatenated laser/gate channel edges,
	//trimmed to equal length (unmatched edges are dropped with a warning)
	LaserRisingBins  []int64 `json:"laser_rising_bins"`
	LaserFallingBins []int64 `json:"laser_falling_bins"`
	//AnalogChannels/DigitalChannels/Channels are the channel sets in use
	AnalogChannels  ChannelSet `json:"analog_channels"`
	DigitalChannels ChannelSet `json:"digital_channels"`
	Channels        ChannelSet `json:"channel_set"`
	//SampleRate is the sample rate in Hz the analysis was run with
	SampleRate float64 `json:"sample_rate"`
}

//sequenceInfoDTO mirrors SequenceInfo with the length as a string so that the infinite
//case survives JSON, which has no representation for +Inf
type sequenceInfoDTO struct {
	IsFinite           bool               `json:"is_finite"`
	IdealLength        string             `json:"ideal_length_s"`
	NumberOfSamples    int64              `json:"number_of_samples"`
	DigitalRisingBins  map[string][]int64 `json:"digital_rising_bins"`
	DigitalFallingBins map[string][]int64 `json:"digital_falling_bins"`
	LaserRisingBins    []int64            `json:"laser_rising_bins"`
	LaserFallingBins   []int64            `json:"laser_falling_bins"`
	AnalogChannels     ChannelSet         `json:"analog_channels"`
	DigitalChannels    ChannelSet         `json:"digital_channels"`
	Channels           ChannelSet         `json:"channel_set"`
	SampleRate         float64            `json:"sample_rate"`
}

//MarshalJSON encodes +Inf lengths as the literal "inf"
func (i SequenceInfo) MarshalJSON() ([]byte, error) {
	length := "inf"
	if !math.IsInf(i.IdealLength, 1) {
		length = floatToNumber(i.IdealLength)
	}
	return json.Marshal(sequenceInfoDTO{
		IsFinite:           i.IsFinite,
		IdealLength:        length,
		NumberOfSamples:    i.NumberOfSamples,
		DigitalRisingBins:  i.DigitalRisingBins,
		DigitalFallingBins: i.DigitalFallingBins,
		LaserRisingBins:    i.LaserRisingBins,
		LaserFallingBins:   i.LaserFallingBins,
		AnalogChannels:     i.AnalogChannels,
		DigitalChannels:    i.DigitalChannels,
		Channels:           i.Channels,
		SampleRate:         i.SampleRate,
	})
}

//UnmarshalJSON restores +Inf lengths from the literal "inf"
func (i *SequenceInfo) UnmarshalJSON(data []byte) error {
	var dto sequenceInfoDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	length := math.Inf(1)
	if dto.IdealLength != "inf" {
		parsed, err := strconv.ParseFloat(dto.IdealLength, 64)
		if err != nil {
			return err
		}
		length = parsed
	}
	*i = SequenceInfo{
		IsFinite:           dto.IsFinite,
		IdealLength:        length,
		NumberOfSamples:    dto.NumberOfSamples,
		DigitalRisingBins:  dto.DigitalRisingBins,
		DigitalFallingBins: dto.DigitalFallingBins,
		LaserRisingBins:    dto.LaserRisingBins,
		LaserFallingBins:   dto.LaserFallingBins,
		AnalogChannels:     dto.AnalogChannels,
		DigitalChannels:    dto.DigitalChannels,
		Channels:           dto.Channels,
		SampleRate:         dto.SampleRate,
	}
	return nil
}

//SettingsSnapshot captures the pulse generator settings a waveform was sampled with.
//Comparing snapshots tells whether a cached sampling is still valid.
type SettingsSnapshot struct {
	SampleRate           float64            `json:"sample_rate"`
	ActivationConfigName string             `json:"activation_config_name"`
	ActivationChannels   []string           `json:"activation_channels"`
	AnalogAmplitudes     map[string]float64 `json:"analog_amplitudes"`
	WaveformGranularity  int64              `json:"waveform_granularity"`
}

//Equal reports whether both snapshots describe identical generator settings
func (s SettingsSnapshot) Equal(other SettingsSnapshot) bool {
	if s.SampleRate != other.SampleRate ||
		s.ActivationConfigName != other.ActivationConfigName ||
		s.WaveformGranularity != other.WaveformGranularity {
		return false
	}
	if len(s.ActivationChannels) != len(other.ActivationChannels) {
		return false
	}
	for i := range s.ActivationChannels {
		if s.ActivationChannels[i] != other.ActivationChannels[i] {
			return false
		}
	}
	if len(s.AnalogAmplitudes) != len(other.AnalogAmplitudes) {
		return false
	}
	for chnl, amp := range s.AnalogAmplitudes {
		otherAmp, ok := other.AnalogAmplitudes[chnl]
		if !ok || otherAmp != amp {
			return false
		}
	}
	return true
}

//SamplingInformation is attached to a BlockEnsemble after it has been sampled directly
//(not under a sequence name tag). It is either fully populated or absent.
type SamplingInformation struct {
	//Info is the analyzer output the waveform was built from
	Info EnsembleInfo `json:"ensemble_info"`
	//Waveforms are the device waveform names produced by the hardware interface
	Waveforms []string `json:"waveforms"`
	//Settings is the generator settings snapshot at sampling time
	Settings SettingsSnapshot `json:"pulse_generator_settings"`
}

//SequenceSamplingInformation is attached to a Sequence after successful sampling
type SequenceSamplingInformation struct {
	//Info is the concatenated timeline analysis
	Info SequenceInfo `json:"sequence_info"`
	//EnsembleInfos maps the per-step name tags to their analyzer output
	EnsembleInfos map[string]EnsembleInfo `json:"ensemble_info"`
	//Waveforms are all device waveform names referenced by the sequence table
	Waveforms []string `json:"waveforms"`
	//StepWaveforms holds, per step, the waveform name tuple written to the sequencer
	StepWaveforms [][]string `json:"step_waveforms"`
	//Settings is the generator settings snapshot at sampling time
	Settings SettingsSnapshot `json:"pulse_generator_settings"`
}

//MeasurementInformation carries the measurement metadata attached by generation code
//before an ensemble/sequence is saved. Required for downstream pulse analysis.
type MeasurementInformation struct {
	//Alternating marks measurements recording signal and reference alternately
	Alternating bool `json:"alternating"`
	//LaserIgnoreList holds indices of laser pulses to exclude from analysis
	LaserIgnoreList []int `json:"laser_ignore_list"`
	//ControlledVariable is the ordered sequence of swept parameter values
	ControlledVariable []float64 `json:"controlled_variable"`
	//Units are the x/y axis units of the controlled variable
	Units [2]string `json:"units"`
	//Labels are the x/y axis labels of the controlled variable
	Labels [2]string `json:"labels"`
	//NumberOfLasers is the laser pulse count of one full run
	NumberOfLasers int `json:"number_of_lasers"`
	//CountingLength is the time window in seconds to record per laser pulse
	CountingLength float64 `json:"counting_length"`
}

//Equal reports whether both measurement information records are identical
func (m *MeasurementInformation) Equal(other *MeasurementInformation) bool {
	if m == other {
		return true
	}
	if m == nil || other == nil {
		return false
	}
	if m.Alternating != other.Alternating || m.Units != other.Units ||
		m.Labels != other.Labels || m.NumberOfLasers != other.NumberOfLasers ||
		m.CountingLength != other.CountingLength {
		return false
	}
	if len(m.LaserIgnoreList) != len(other.LaserIgnoreList) ||
		len(m.ControlledVariable) != len(other.ControlledVariable) {
		return false
	}
	for i := range m.LaserIgnoreList {
		if m.LaserIgnoreList[i] != other.LaserIgnoreList[i] {
			return false
		}
	}
	for i := range m.ControlledVariable {
		if m.ControlledVariable[i] != other.ControlledVariable[i] {
			return false
		}
	}
	return true
}
