package mockPulser

import (
	"fmt"

	"pulsegen/pulser"
)

//Device wraps the in-memory dummy pulser with scripted failure behavior for engine
//error path tests
type Device struct {
	*pulser.Dummy
	//if >= 0, chunk writes with a greater 0-based index fail
	FailAfterChunk int
	//if > 0, the chunk write with this 1-based index reports one sample less than
	//it was given
	ShortWriteChunk int
	//if true, sequence table writes fail
	FailSequence bool

	chunkWrites int
}

//NewDevice creates a scripted device without any programmed failures
func NewDevice(granularity int64, option pulser.SequenceOption) *Device {
	return &Device{
		Dummy:          pulser.NewDummy(granularity, option),
		FailAfterChunk: -1,
	}
}

func (d *Device) WriteWaveform(name string, analog map[string][]float32, digital map[string][]bool,
	isFirstChunk, isLastChunk bool, totalSamples int64) (int64, []string, error) {
	call := d.chunkWrites
	d.chunkWrites++
	if d.FailAfterChunk >= 0 && call > d.FailAfterChunk {
		return 0, nil, fmt.Errorf("programmed device failure")
	}
	n, names, err := d.Dummy.WriteWaveform(name, analog, digital, isFirstChunk, isLastChunk, totalSamples)
	if err != nil {
		return n, names, err
	}
	if d.ShortWriteChunk > 0 && d.chunkWrites == d.ShortWriteChunk {
		return n - 1, names, nil
	}
	return n, names, nil
}

func (d *Device) WriteSequence(name string, steps []pulser.SequenceWriteStep) (int, error) {
	if d.FailSequence {
		return 0, fmt.Errorf("programmed sequence failure")
	}
	return d.Dummy.WriteSequence(name, steps)
}

//ChunkWrites returns how many chunk writes were attempted
func (d *Device) ChunkWrites() int {
	return d.chunkWrites
}
