//Package wavefile implements the binary waveform file format used to persist sampled
//waveforms on disk. Layout (all little endian):
//
//	magic "QWFM" | version uint16 | sampleRate float64 | sampleCount uint64
//	| analogChannelCount uint16 | digitalChannelCount uint16
//	| per analog channel:  nameLen uint16, name, sampleCount * float32
//	| per digital channel: nameLen uint16, name, sampleCount * byte
package wavefile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

const (
	magic   = "QWFM"
	version = 1
)

//Waveform is the in-memory representation of one waveform file
type Waveform struct {
	Name       string
	SampleRate float64
	Analog     map[string][]float32
	Digital    map[string][]bool
}

//SampleCount returns the per-channel sample count
func (w *Waveform) SampleCount() int {
	for _, samples := range w.Analog {
		return len(samples)
	}
	for _, samples := range w.Digital {
		return len(samples)
	}
	return 0
}

func sortedChannels(analogLen, digitalLen int, analog map[string][]float32, digital map[string][]bool) ([]string, []string) {
	analogChnls := make([]string, 0, analogLen)
	for chnl := range analog {
		analogChnls = append(analogChnls, chnl)
	}
	sort.Strings(analogChnls)
	digitalChnls := make([]string, 0, digitalLen)
	for chnl := range digital {
		digitalChnls = append(digitalChnls, chnl)
	}
	sort.Strings(digitalChnls)
	return analogChnls, digitalChnls
}

func writeString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string too long (%v bytes)", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

//Encode writes the waveform to out. All channels must carry the same sample count.
func Encode(out io.Writer, wfm *Waveform) error {
	count := wfm.SampleCount()
	for chnl, samples := range wfm.Analog {
		if len(samples) != count {
			return fmt.Errorf("channel %v has %v samples, expected %v", chnl, len(samples), count)
		}
	}
	for chnl, samples := range wfm.Digital {
		if len(samples) != count {
			return fmt.Errorf("channel %v has %v samples, expected %v", chnl, len(samples), count)
		}
	}

	w := bufio.NewWriter(out)
	if _, err := io.WriteString(w, magic); err != nil {
		return fmt.Errorf("failed to write header : %v", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(version)); err != nil {
		return fmt.Errorf("failed to write version : %v", err)
	}
	if err := writeString(w, wfm.Name); err != nil {
		return fmt.Errorf("failed to write name : %v", err)
	}
	if err := binary.Write(w, binary.LittleEndian, wfm.SampleRate); err != nil {
		return fmt.Errorf("failed to write sample rate : %v", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(count)); err != nil {
		return fmt.Errorf("failed to write sample count : %v", err)
	}
	analogChnls, digitalChnls := sortedChannels(len(wfm.Analog), len(wfm.Digital), wfm.Analog, wfm.Digital)
	if err := binary.Write(w, binary.LittleEndian, uint16(len(analogChnls))); err != nil {
		return fmt.Errorf("failed to write channel count : %v", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(digitalChnls))); err != nil {
		return fmt.Errorf("failed to write channel count : %v", err)
	}
	for _, chnl := range analogChnls {
		if err := writeString(w, chnl); err != nil {
			return fmt.Errorf("failed to write channel name %v : %v", chnl, err)
		}
		if err := binary.Write(w, binary.LittleEndian, wfm.Analog[chnl]); err != nil {
			return fmt.Errorf("failed to write samples of %v : %v", chnl, err)
		}
	}
	for _, chnl := range digitalChnls {
		if err := writeString(w, chnl); err != nil {
			return fmt.Errorf("failed to write channel name %v : %v", chnl, err)
		}
		raw := make([]byte, count)
		for i, high := range wfm.Digital[chnl] {
			if high {
				raw[i] = 1
			}
		}
		if _, err := w.Write(raw); err != nil {
			return fmt.Errorf("failed to write samples of %v : %v", chnl, err)
		}
	}
	return w.Flush()
}

//Decode reads one waveform from in
func Decode(in io.Reader) (*Waveform, error) {
	r := bufio.NewReader(in)
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read header : %v", err)
	}
	if string(header) != magic {
		return nil, fmt.Errorf("bad magic %q, not a waveform file", header)
	}
	var fileVersion uint16
	if err := binary.Read(r, binary.LittleEndian, &fileVersion); err != nil {
		return nil, fmt.Errorf("failed to read version : %v", err)
	}
	if fileVersion != version {
		return nil, fmt.Errorf("unsupported waveform file version %v", fileVersion)
	}
	name, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read name : %v", err)
	}
	var sampleRate float64
	if err := binary.Read(r, binary.LittleEndian, &sampleRate); err != nil {
		return nil, fmt.Errorf("failed to read sample rate : %v", err)
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read sample count : %v", err)
	}
	var analogCount, digitalCount uint16
	if err := binary.Read(r, binary.LittleEndian, &analogCount); err != nil {
		return nil, fmt.Errorf("failed to read channel count : %v", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &digitalCount); err != nil {
		return nil, fmt.Errorf("failed to read channel count : %v", err)
	}

	wfm := &Waveform{
		Name:       name,
		SampleRate: sampleRate,
		Analog:     make(map[string][]float32, analogCount),
		Digital:    make(map[string][]bool, digitalCount),
	}
	for i := 0; i < int(analogCount); i++ {
		chnl, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read channel name : %v", err)
		}
		samples := make([]float32, count)
		if err := binary.Read(r, binary.LittleEndian, samples); err != nil {
			return nil, fmt.Errorf("failed to read samples of %v : %v", chnl, err)
		}
		wfm.Analog[chnl] = samples
	}
	for i := 0; i < int(digitalCount); i++ {
		chnl, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read channel name : %v", err)
		}
		raw := make([]byte, count)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("failed to read samples of %v : %v", chnl, err)
		}
		samples := make([]bool, count)
		for j, b := range raw {
			samples[j] = b != 0
		}
		wfm.Digital[chnl] = samples
	}
	return wfm, nil
}
