package pulser

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"pulsegen/wavefile"
)

//FileDevice behaves like Dummy but additionally persists every finished waveform to a
//.qwfm file in its directory, so sampled waveforms can be inspected and plotted offline.
type FileDevice struct {
	*Dummy
	dir        string
	sampleRate float64
}

//NewFileDevice creates a file-backed device writing into dir. sampleRate is embedded
//into the waveform files for correct time axis reconstruction.
func NewFileDevice(dir string, sampleRate float64, granularity int64, option SequenceOption) (*FileDevice, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create waveform directory : %v", err)
	}
	return &FileDevice{
		Dummy:      NewDummy(granularity, option),
		dir:        dir,
		sampleRate: sampleRate,
	}, nil
}

//waveformPath returns the file path for a logical waveform name
func (d *FileDevice) waveformPath(name string) string {
	return filepath.Join(d.dir, name+".qwfm")
}

//WriteWaveform implements Device. The file is written once the last chunk committed.
func (d *FileDevice) WriteWaveform(name string, analog map[string][]float32, digital map[string][]bool,
	isFirstChunk, isLastChunk bool, totalSamples int64) (int64, []string, error) {

	written, names, err := d.Dummy.WriteWaveform(name, analog, digital, isFirstChunk, isLastChunk, totalSamples)
	if err != nil || !isLastChunk {
		return written, names, err
	}

	wfm, ok := d.Dummy.committed[name]
	if !ok {
		return written, names, fmt.Errorf("waveform %q vanished before persisting", name)
	}
	file, err := os.Create(d.waveformPath(name))
	if err != nil {
		return written, names, fmt.Errorf("failed to create waveform file : %v", err)
	}
	encodeErr := wavefile.Encode(file, &wavefile.Waveform{
		Name:       name,
		SampleRate: d.sampleRate,
		Analog:     wfm.analog,
		Digital:    wfm.digital,
	})
	if err := multierr.Append(encodeErr, file.Close()); err != nil {
		return written, names, fmt.Errorf("failed to persist waveform %q : %v", name, err)
	}
	return written, names, nil
}

//DeleteWaveform implements Device, removing the persisted file along with the device
//waveform
func (d *FileDevice) DeleteWaveform(name string) error {
	logical, known := d.Dummy.deviceNames[name]
	err := d.Dummy.DeleteWaveform(name)
	if !known {
		return err
	}
	//remove the file once the last device name referencing it is gone
	if _, stillCommitted := d.Dummy.committed[logical]; !stillCommitted {
		if rmErr := os.Remove(d.waveformPath(logical)); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, rmErr)
		}
	}
	return err
}
