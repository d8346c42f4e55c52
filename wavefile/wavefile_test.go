package wavefile

import (
	"bytes"
	"testing"

	"pulsegen/testUtils"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := &Waveform{
		Name:       "rabi_ch1",
		SampleRate: 1.25e9,
		Analog: map[string][]float32{
			"a_ch1": {0, 0.5, -0.5, 1, -1},
		},
		Digital: map[string][]bool{
			"d_ch1": {true, true, false, false, true},
			"d_ch2": {false, false, false, true, true},
		},
	}

	buf := &bytes.Buffer{}
	if err := Encode(buf, original); err != nil {
		t.Fatalf("unexpected encode error %v", err)
	}

	restored, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected decode error %v", err)
	}

	if restored.Name != original.Name {
		t.Errorf("expected name %v got %v", original.Name, restored.Name)
	}
	if restored.SampleRate != original.SampleRate {
		t.Errorf("expected sample rate %v got %v", original.SampleRate, restored.SampleRate)
	}
	if !testUtils.Float32SliceEqUpTo(original.Analog["a_ch1"], restored.Analog["a_ch1"], 0) {
		t.Errorf("analog samples mismatch, expected %v got %v",
			original.Analog["a_ch1"], restored.Analog["a_ch1"])
	}
	for chnl, want := range original.Digital {
		got, ok := restored.Digital[chnl]
		if !ok {
			t.Fatalf("digital channel %v missing after round trip", chnl)
		}
		if len(got) != len(want) {
			t.Fatalf("digital channel %v length %v, expected %v", chnl, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("digital channel %v sample %v is %v, expected %v", chnl, i, got[i], want[i])
			}
		}
	}
}

func TestDecodeRejectsWrongMagic(t *testing.T) {
	data := []byte("WAVE\x01\x00")
	if _, err := Decode(bytes.NewReader(data)); err == nil {
		t.Errorf("expected error for wrong magic bytes")
	}
}

func TestEmptyWaveform(t *testing.T) {
	original := &Waveform{Name: "empty", SampleRate: 1e9}
	buf := &bytes.Buffer{}
	if err := Encode(buf, original); err != nil {
		t.Fatalf("unexpected encode error %v", err)
	}
	restored, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected decode error %v", err)
	}
	if restored.SampleCount() != 0 {
		t.Errorf("expected empty waveform, got %v samples", restored.SampleCount())
	}
}
