package pulser

import (
	"testing"

	"pulsegen/pulse"
	"pulsegen/testUtils"
)

func chunk(analog []float32, digital []bool) (map[string][]float32, map[string][]bool) {
	return map[string][]float32{"a_ch1": analog}, map[string][]bool{"d_ch1": digital}
}

func TestDummyChunkedWrite(t *testing.T) {
	d := NewDummy(1, SequenceOptionOptional)

	analog, digital := chunk([]float32{0.1, 0.2}, []bool{true, false})
	n, names, err := d.WriteWaveform("rabi", analog, digital, true, false, 4)
	if err != nil {
		t.Fatalf("unexpected error on first chunk %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 accepted samples, got %v", n)
	}
	if len(names) != 1 || names[0] != "rabi_ch1" {
		t.Errorf("expected device name rabi_ch1, got %v", names)
	}
	//the waveform must not be visible before the last chunk
	if len(d.WaveformNames()) != 0 {
		t.Errorf("incomplete waveform already listed: %v", d.WaveformNames())
	}

	analog, digital = chunk([]float32{0.3, 0.4}, []bool{false, true})
	if _, _, err := d.WriteWaveform("rabi", analog, digital, false, true, 4); err != nil {
		t.Fatalf("unexpected error on last chunk %v", err)
	}

	samples, ok := d.AnalogSamples("rabi", "a_ch1")
	if !ok {
		t.Fatalf("committed waveform not found")
	}
	if !testUtils.Float32SliceEqUpTo([]float32{0.1, 0.2, 0.3, 0.4}, samples, 0) {
		t.Errorf("unexpected sample stream %v", samples)
	}
	marker, ok := d.DigitalSamples("rabi", "d_ch1")
	if !ok || len(marker) != 4 || !marker[0] || marker[1] || marker[2] || !marker[3] {
		t.Errorf("unexpected digital stream %v", marker)
	}
}

func TestDummyRejectsProtocolViolations(t *testing.T) {
	d := NewDummy(4, SequenceOptionOptional)

	//length violating the granularity
	analog, digital := chunk([]float32{0.1}, []bool{true})
	if _, _, err := d.WriteWaveform("bad", analog, digital, true, true, 5); err == nil {
		t.Errorf("expected granularity violation error")
	}

	//non-first chunk for an unknown waveform
	if _, _, err := d.WriteWaveform("unknown", analog, digital, false, false, 8); err == nil {
		t.Errorf("expected unknown waveform error")
	}

	//restarting an incomplete chunk stream
	analog, digital = chunk([]float32{0, 0, 0, 0}, []bool{true, true, true, true})
	if _, _, err := d.WriteWaveform("partial", analog, digital, true, false, 8); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, _, err := d.WriteWaveform("partial", analog, digital, true, false, 8); err == nil {
		t.Errorf("expected restart error")
	}

	//last chunk with missing samples
	analog, digital = chunk([]float32{0, 0}, []bool{true, true})
	if _, _, err := d.WriteWaveform("partial", analog, digital, false, true, 8); err == nil {
		t.Errorf("expected sample count mismatch error")
	}
}

func TestDummyDeviceNamesPerAnalogChannel(t *testing.T) {
	d := NewDummy(1, SequenceOptionOptional)

	analog := map[string][]float32{"a_ch1": {0}, "a_ch2": {0}}
	digital := map[string][]bool{"d_ch1": {true}}
	_, names, err := d.WriteWaveform("odmr", analog, digital, true, true, 1)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	expected := []string{"odmr_ch1", "odmr_ch2"}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("expected device names %v, got %v", expected, names)
		}
	}

	//deleting one device name keeps the other alive
	if err := d.DeleteWaveform("odmr_ch1"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, ok := d.AnalogSamples("odmr", "a_ch2"); !ok {
		t.Errorf("waveform data dropped while a device name still references it")
	}
	if err := d.DeleteWaveform("odmr_ch2"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, ok := d.AnalogSamples("odmr", "a_ch2"); ok {
		t.Errorf("waveform data survived deletion of all device names")
	}
}

func TestDummyWriteSequence(t *testing.T) {
	noSeq := NewDummy(1, SequenceOptionNone)
	if _, err := noSeq.WriteSequence("seq", nil); err == nil {
		t.Errorf("expected error for device without sequencing capability")
	}

	d := NewDummy(1, SequenceOptionOptional)
	analog, digital := chunk([]float32{0}, []bool{true})
	if _, _, err := d.WriteWaveform("step0", analog, digital, true, true, 1); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	steps := []SequenceWriteStep{{
		Waveforms: []string{"step0_ch1"},
		Params:    pulse.DefaultSequenceStep("step0"),
	}}
	n, err := d.WriteSequence("seq", steps)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 written step, got %v", n)
	}
	if got, ok := d.SequenceSteps("seq"); !ok || len(got) != 1 || got[0].Params.Ensemble != "step0" {
		t.Errorf("stored sequence table mismatch: %v %v", got, ok)
	}

	//referencing a waveform that is not on the device
	badSteps := []SequenceWriteStep{{Waveforms: []string{"ghost_ch1"}}}
	if _, err := d.WriteSequence("bad", badSteps); err == nil {
		t.Errorf("expected unknown waveform error")
	}

	if err := d.DeleteSequence("seq"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if names := d.SequenceNames(); len(names) != 0 {
		t.Errorf("sequence survived deletion: %v", names)
	}
}
