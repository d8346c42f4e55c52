package pulser

import (
	"fmt"
	"sort"
	"strings"

	"pulsegen/pulse"
)

//Dummy is an in-memory pulse generator. It enforces the chunk-ordering protocol and the
//waveform-length granularity like real hardware would, and keeps the concatenated
//sample stream per channel so tests and tools can inspect exactly what was uploaded.
type Dummy struct {
	constraints Constraints
	//pending holds waveforms whose chunk stream is not yet complete, keyed by name
	pending map[string]*dummyWaveform
	//committed holds finished waveforms keyed by logical (engine-side) name
	committed map[string]*dummyWaveform
	//deviceNames maps device waveform names to their logical waveform name
	deviceNames map[string]string
	sequences   map[string][]SequenceWriteStep
}

type dummyWaveform struct {
	name     string
	total    int64
	received int64
	analog   map[string][]float32
	digital  map[string][]bool
}

//NewDummy creates a dummy device with the given waveform-length granularity and
//sequencing capability
func NewDummy(granularity int64, option SequenceOption) *Dummy {
	return &Dummy{
		constraints: Constraints{
			SampleRate:     ScalarConstraint{Min: 10e6, Max: 25e9, Step: 10e6, Default: 25e9, Unit: "Hz"},
			WaveformLength: ScalarConstraint{Min: 1, Max: 6.4e9, Step: float64(granularity), Default: float64(granularity), Unit: "Samples"},
			SequenceSteps:  ScalarConstraint{Min: 0, Max: 8000, Step: 1, Unit: "#"},
			SequenceOption: option,
		},
		pending:     make(map[string]*dummyWaveform),
		committed:   make(map[string]*dummyWaveform),
		deviceNames: make(map[string]string),
		sequences:   make(map[string][]SequenceWriteStep),
	}
}

//Constraints returns the capability envelope
func (d *Dummy) Constraints() Constraints { return d.constraints }

//granularity returns the waveform length step in samples
func (d *Dummy) granularity() int64 { return int64(d.constraints.WaveformLength.Step) }

//deviceWaveformNames derives the per-channel device waveform names. Real generators
//store one waveform file per analog output (digital markers ride along), named by the
//channel number suffix.
func deviceWaveformNames(name string, analog map[string][]float32) []string {
	if len(analog) == 0 {
		return []string{name + "_ch1"}
	}
	names := make([]string, 0, len(analog))
	for chnl := range analog {
		idx := strings.LastIndex(chnl, "ch")
		suffix := chnl
		if idx >= 0 {
			suffix = chnl[idx:]
		}
		names = append(names, name+"_"+suffix)
	}
	sort.Strings(names)
	return names
}

//WriteWaveform implements Device. Chunks must arrive in order; the waveform becomes
//visible only after the last chunk.
func (d *Dummy) WriteWaveform(name string, analog map[string][]float32, digital map[string][]bool,
	isFirstChunk, isLastChunk bool, totalSamples int64) (int64, []string, error) {

	wfm, inProgress := d.pending[name]
	if isFirstChunk {
		if inProgress {
			return 0, nil, fmt.Errorf("chunk stream for waveform %q restarted before completion", name)
		}
		if totalSamples%d.granularity() != 0 {
			return 0, nil, fmt.Errorf("waveform %q length %v violates granularity %v",
				name, totalSamples, d.granularity())
		}
		wfm = &dummyWaveform{
			name:    name,
			total:   totalSamples,
			analog:  make(map[string][]float32, len(analog)),
			digital: make(map[string][]bool, len(digital)),
		}
		d.pending[name] = wfm
	} else if !inProgress {
		return 0, nil, fmt.Errorf("got non-first chunk for unknown waveform %q", name)
	}

	var chunkLen int64 = -1
	for chnl, samples := range analog {
		if chunkLen >= 0 && int64(len(samples)) != chunkLen {
			return 0, nil, fmt.Errorf("waveform %q chunk has unequal channel lengths", name)
		}
		chunkLen = int64(len(samples))
		wfm.analog[chnl] = append(wfm.analog[chnl], samples...)
	}
	for chnl, samples := range digital {
		if chunkLen >= 0 && int64(len(samples)) != chunkLen {
			return 0, nil, fmt.Errorf("waveform %q chunk has unequal channel lengths", name)
		}
		chunkLen = int64(len(samples))
		wfm.digital[chnl] = append(wfm.digital[chnl], samples...)
	}
	if chunkLen < 0 {
		chunkLen = 0
	}
	wfm.received += chunkLen

	names := deviceWaveformNames(name, wfm.analog)
	if isLastChunk {
		delete(d.pending, name)
		if wfm.received != wfm.total {
			return 0, nil, fmt.Errorf("waveform %q received %v samples, expected %v",
				name, wfm.received, wfm.total)
		}
		d.committed[name] = wfm
		for _, deviceName := range names {
			d.deviceNames[deviceName] = name
		}
	}
	return chunkLen, names, nil
}

//WriteSequence implements Device
func (d *Dummy) WriteSequence(name string, steps []SequenceWriteStep) (int, error) {
	if d.constraints.SequenceOption == SequenceOptionNone {
		return 0, fmt.Errorf("device has no sequencing capability")
	}
	if maxSteps := int(d.constraints.SequenceSteps.Max); maxSteps > 0 && len(steps) > maxSteps {
		return 0, fmt.Errorf("sequence %q has %v steps, device supports at most %v",
			name, len(steps), maxSteps)
	}
	for _, step := range steps {
		for _, wfmName := range step.Waveforms {
			if _, ok := d.deviceNames[wfmName]; !ok {
				return 0, fmt.Errorf("sequence %q references unknown waveform %q", name, wfmName)
			}
		}
	}
	stored := make([]SequenceWriteStep, len(steps))
	copy(stored, steps)
	d.sequences[name] = stored
	return len(steps), nil
}

//DeleteWaveform implements Device
func (d *Dummy) DeleteWaveform(name string) error {
	logical, ok := d.deviceNames[name]
	if !ok {
		return nil
	}
	delete(d.deviceNames, name)
	//drop the sample data once no device name references it anymore
	for _, remaining := range d.deviceNames {
		if remaining == logical {
			return nil
		}
	}
	delete(d.committed, logical)
	return nil
}

//DeleteSequence implements Device
func (d *Dummy) DeleteSequence(name string) error {
	delete(d.sequences, name)
	return nil
}

//WaveformNames implements Device
func (d *Dummy) WaveformNames() []string {
	names := make([]string, 0, len(d.deviceNames))
	for name := range d.deviceNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

//SequenceNames implements Device
func (d *Dummy) SequenceNames() []string {
	names := make([]string, 0, len(d.sequences))
	for name := range d.sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

//AnalogSamples returns the committed sample stream of one analog channel of the
//logical waveform name
func (d *Dummy) AnalogSamples(name, channel string) ([]float32, bool) {
	wfm, ok := d.committed[name]
	if !ok {
		return nil, false
	}
	samples, ok := wfm.analog[channel]
	return samples, ok
}

//DigitalSamples returns the committed sample stream of one digital channel of the
//logical waveform name
func (d *Dummy) DigitalSamples(name, channel string) ([]bool, bool) {
	wfm, ok := d.committed[name]
	if !ok {
		return nil, false
	}
	samples, ok := wfm.digital[channel]
	return samples, ok
}

//SequenceSteps returns the stored sequence table for name
func (d *Dummy) SequenceSteps(name string) ([]SequenceWriteStep, bool) {
	steps, ok := d.sequences[name]
	return steps, ok
}

//ActivationConfig is a named set of active channels. Kept close to the device since
//the valid configurations are a hardware property.
type ActivationConfig struct {
	Name     string
	Channels pulse.ChannelSet
}
