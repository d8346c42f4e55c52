package generator

import (
	"errors"
	"testing"

	"pulsegen/mocks"
	mockPulser "pulsegen/mocks/pulser"
	"pulsegen/pulse"
	"pulsegen/pulser"
	"pulsegen/sampling"
	"pulsegen/testUtils"
)

func TestSampleBlockEnsembleWritesNormalizedSamples(t *testing.T) {
	device := pulser.NewDummy(1, pulser.SequenceOptionOptional)
	logic, repo := newTestLogic(device, 1e9)

	//DC at a quarter of the 0.5 Vpp amplitude normalizes to 0.5
	repo.Blocks["dc"] = mocks.MustBlock("dc",
		testElement(10e-9, 0, sampling.DC{Voltage: 0.125}, true, false))
	repo.Ensembles["flat"] = mocks.MustEnsemble("flat", false, pulse.BlockRef{BlockName: "dc"})

	_, waveforms, info, err := logic.SampleBlockEnsemble("flat", 0, "")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(waveforms) != 1 || waveforms[0] != "flat_ch1" {
		t.Errorf("expected device waveform flat_ch1, got %v", waveforms)
	}
	if info.NumberOfSamples != 10 {
		t.Errorf("expected 10 samples, got %v", info.NumberOfSamples)
	}

	samples, ok := device.AnalogSamples("flat", "a_ch1")
	if !ok || int64(len(samples)) != info.NumberOfSamples {
		t.Fatalf("committed stream missing or wrong length: %v", len(samples))
	}
	for i, v := range samples {
		if !testUtils.FloatEqUpTo(float64(v), 0.5, 1e-7) {
			t.Fatalf("sample %v is %v, expected 0.5", i, v)
		}
	}
	laser, ok := device.DigitalSamples("flat", "d_ch1")
	if !ok || len(laser) != 10 || !laser[0] || !laser[9] {
		t.Errorf("unexpected laser marker stream %v", laser)
	}

	//successful direct sampling attaches sampling information under the ensemble name
	stored, err := repo.Ensemble("flat")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	cached := stored.SamplingInformation()
	if cached == nil {
		t.Fatalf("sampling information not attached")
	}
	if cached.Info.NumberOfSamples != 10 || len(cached.Waveforms) != 1 {
		t.Errorf("unexpected sampling information %+v", cached)
	}
	if cached.Settings.SampleRate != 1e9 {
		t.Errorf("settings snapshot not captured: %+v", cached.Settings)
	}

	//re-sampling the unchanged ensemble is idempotent
	_, waveformsAgain, infoAgain, err := logic.SampleBlockEnsemble("flat", 0, "")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(waveformsAgain) != 1 || waveformsAgain[0] != waveforms[0] {
		t.Errorf("re-sampling produced different waveforms %v", waveformsAgain)
	}
	if infoAgain.NumberOfSamples != info.NumberOfSamples ||
		len(infoAgain.ElementLengthBins) != len(info.ElementLengthBins) {
		t.Errorf("re-sampling produced a different analysis %+v", infoAgain)
	}
}

func TestSampleBlockEnsembleUnderNameTagDoesNotCache(t *testing.T) {
	device := pulser.NewDummy(1, pulser.SequenceOptionOptional)
	logic, repo := newTestLogic(device, 1e9)

	repo.Blocks["dc"] = mocks.MustBlock("dc",
		testElement(10e-9, 0, sampling.DC{Voltage: 0.125}, false, false))
	repo.Ensembles["flat"] = mocks.MustEnsemble("flat", false, pulse.BlockRef{BlockName: "dc"})

	_, waveforms, _, err := logic.SampleBlockEnsemble("flat", 0, "seq_000")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(waveforms) != 1 || waveforms[0] != "seq_000_ch1" {
		t.Errorf("expected device waveform seq_000_ch1, got %v", waveforms)
	}
	stored, _ := repo.Ensemble("flat")
	if stored.SamplingInformation() != nil {
		t.Errorf("name-tagged sampling must not attach sampling information")
	}
}

func TestChunkedSamplingMatchesSingleShot(t *testing.T) {
	//one analog plus two digital channels cost 6 bytes per sample; a 96 byte budget
	//forces 16 sample chunks
	single := pulser.NewDummy(1, pulser.SequenceOptionOptional)
	logicSingle, repoSingle := newTestLogic(single, 1e9)

	chunked := pulser.NewDummy(1, pulser.SequenceOptionOptional)
	logicChunked, repoChunked := newTestLogic(chunked, 1e9)
	settings := logicChunked.Settings()
	settings.OverheadBytes = 96
	if err := logicChunked.SetSettings(settings); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	build := func(repo *mocks.MemRepository) {
		repo.Blocks["wave"] = mocks.MustBlock("wave",
			testElement(37e-9, 0, sampling.Sin{Amplitude: 0.2, Frequency: 100e6, Phase: 30}, true, false),
			testElement(25e-9, 0, sampling.Idle{}, false, true))
		repo.Ensembles["osc"] = mocks.MustEnsemble("osc", true,
			pulse.BlockRef{BlockName: "wave", Repetitions: 2})
	}
	build(repoSingle)
	build(repoChunked)

	if _, _, _, err := logicSingle.SampleBlockEnsemble("osc", 0, ""); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, _, _, err := logicChunked.SampleBlockEnsemble("osc", 0, ""); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	want, _ := single.AnalogSamples("osc", "a_ch1")
	got, ok := chunked.AnalogSamples("osc", "a_ch1")
	if !ok {
		t.Fatalf("chunked waveform not committed")
	}
	if int64(len(want)) <= 16 {
		t.Fatalf("fixture too short to force chunking: %v samples", len(want))
	}
	if !testUtils.Float32SliceEqUpTo(want, got, 0) {
		t.Errorf("chunked sample stream differs from single-shot stream")
	}
	wantLaser, _ := single.DigitalSamples("osc", "d_ch1")
	gotLaser, _ := chunked.DigitalSamples("osc", "d_ch1")
	for i := range wantLaser {
		if wantLaser[i] != gotLaser[i] {
			t.Fatalf("digital stream differs at sample %v", i)
		}
	}
}

func TestRotatingFrameEvaluatesAbsoluteTime(t *testing.T) {
	device := pulser.NewDummy(1, pulser.SequenceOptionOptional)
	logic, repo := newTestLogic(device, 1e9)

	//100 MHz at 1 GHz: 10 samples per period; two elements of 5 samples each
	fn := sampling.Sin{Amplitude: 0.25, Frequency: 100e6}
	repo.Blocks["half"] = mocks.MustBlock("half", testElement(5e-9, 0, fn, false, false))
	repo.Ensembles["rot"] = mocks.MustEnsemble("rot", true,
		pulse.BlockRef{BlockName: "half", Repetitions: 1})
	repo.Ensembles["fixed"] = mocks.MustEnsemble("fixed", false,
		pulse.BlockRef{BlockName: "half", Repetitions: 1})

	if _, _, _, err := logic.SampleBlockEnsemble("rot", 0, ""); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, _, _, err := logic.SampleBlockEnsemble("fixed", 0, ""); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	rot, _ := device.AnalogSamples("rot", "a_ch1")
	fixed, _ := device.AnalogSamples("fixed", "a_ch1")
	//rotating frame continues the phase: second element is the negative half wave
	if !testUtils.FloatEqUpTo(float64(rot[6]), -float64(rot[1]), 1e-6) {
		t.Errorf("expected phase continuation, got %v and %v", rot[1], rot[6])
	}
	//without rotating frame each element restarts at time zero
	if fixed[5] != fixed[0] || fixed[6] != fixed[1] {
		t.Errorf("expected element-local phase restart, got %v", fixed)
	}
}

func TestSamplingPadsToGranularity(t *testing.T) {
	device := pulser.NewDummy(4, pulser.SequenceOptionOptional)
	logic, repo := newTestLogic(device, 1e9)

	repo.Blocks["dc"] = mocks.MustBlock("dc",
		testElement(10e-9, 0, sampling.DC{Voltage: 0.125}, false, false))
	ensemble := mocks.MustEnsemble("short", false, pulse.BlockRef{BlockName: "dc"})
	ensemble.SetMeasurementInformation(&pulse.MeasurementInformation{NumberOfLasers: 1})
	repo.Ensembles["short"] = ensemble

	_, _, info, err := logic.SampleBlockEnsemble("short", 0, "")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if info.NumberOfSamples != 12 {
		t.Errorf("expected padding from 10 to 12 samples, got %v", info.NumberOfSamples)
	}
	samples, _ := device.AnalogSamples("short", "a_ch1")
	if len(samples) != 12 {
		t.Errorf("device received %v samples, expected 12", len(samples))
	}
	//padding outputs idle level
	if samples[10] != 0 || samples[11] != 0 {
		t.Errorf("padding samples not idle: %v", samples[10:])
	}

	//the padding is persisted: a pad block was saved and appended
	stored, _ := repo.Ensemble("short")
	if stored.Len() != 2 {
		t.Fatalf("expected appended pad block ref, got %v refs", stored.Len())
	}
	if _, err := repo.Block("short_pad"); err != nil {
		t.Errorf("pad block not persisted: %v", err)
	}
	//measurement information survives the structural edit
	if stored.MeasurementInformation() == nil {
		t.Errorf("measurement information lost during padding")
	}

	//re-sampling the persisted ensemble must not pad again
	_, _, info, err = logic.SampleBlockEnsemble("short", 0, "")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if info.NumberOfSamples != 12 {
		t.Errorf("re-sampling changed the length to %v", info.NumberOfSamples)
	}
	if stored, _ := repo.Ensemble("short"); stored.Len() != 2 {
		t.Errorf("re-sampling padded again: %v refs", stored.Len())
	}
}

func TestSamplingAbortsOnShortWrite(t *testing.T) {
	device := mockPulser.NewDevice(1, pulser.SequenceOptionOptional)
	device.ShortWriteChunk = 1
	logic, repo := newTestLogic(device, 1e9)

	repo.Blocks["dc"] = mocks.MustBlock("dc",
		testElement(10e-9, 0, sampling.DC{Voltage: 0.125}, false, false))
	repo.Ensembles["flat"] = mocks.MustEnsemble("flat", false, pulse.BlockRef{BlockName: "dc"})

	_, _, _, err := logic.SampleBlockEnsemble("flat", 0, "")
	if !errors.Is(err, ErrShortWrite) {
		t.Errorf("expected short write error, got %v", err)
	}
}

func TestSamplingAbortsOnDeviceFailure(t *testing.T) {
	device := mockPulser.NewDevice(1, pulser.SequenceOptionOptional)
	device.FailAfterChunk = 0
	logic, repo := newTestLogic(device, 1e9)
	settings := logic.Settings()
	settings.OverheadBytes = 24 //4 sample chunks
	if err := logic.SetSettings(settings); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	repo.Blocks["dc"] = mocks.MustBlock("dc",
		testElement(10e-9, 0, sampling.DC{Voltage: 0.125}, false, false))
	repo.Ensembles["flat"] = mocks.MustEnsemble("flat", false, pulse.BlockRef{BlockName: "dc"})

	if _, _, _, err := logic.SampleBlockEnsemble("flat", 0, ""); err == nil {
		t.Errorf("expected device failure to abort sampling")
	}
	if device.ChunkWrites() != 2 {
		t.Errorf("expected abort after second chunk write, got %v", device.ChunkWrites())
	}
}

func TestSamplingRejectsChannelMismatch(t *testing.T) {
	logic, repo := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)

	//block missing the analog channel of the activation config
	element := pulse.NewBlockElement(1e-6, 0, false, nil, map[string]bool{"d_ch1": true})
	repo.Blocks["partial"] = mocks.MustBlock("partial", element)
	repo.Ensembles["bad"] = mocks.MustEnsemble("bad", false, pulse.BlockRef{BlockName: "partial"})

	_, _, _, err := logic.SampleBlockEnsemble("bad", 0, "")
	if !errors.Is(err, pulse.ErrChannelSetMismatch) {
		t.Errorf("expected channel set mismatch, got %v", err)
	}
}

func TestSamplingRejectsConcurrentRun(t *testing.T) {
	logic, repo := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)
	repo.Blocks["dc"] = mocks.MustBlock("dc",
		testElement(10e-9, 0, sampling.DC{Voltage: 0.125}, false, false))
	repo.Ensembles["flat"] = mocks.MustEnsemble("flat", false, pulse.BlockRef{BlockName: "dc"})

	if err := logic.lock(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, _, _, err := logic.SampleBlockEnsemble("flat", 0, ""); !errors.Is(err, ErrBusy) {
		t.Errorf("expected busy error, got %v", err)
	}
	if err := logic.SampleSequence("whatever"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected busy error, got %v", err)
	}
	if err := logic.SetSettings(logic.Settings()); !errors.Is(err, ErrBusy) {
		t.Errorf("expected busy error, got %v", err)
	}
	logic.unlock()

	if _, _, _, err := logic.SampleBlockEnsemble("flat", 0, ""); err != nil {
		t.Errorf("sampling after unlock failed: %v", err)
	}
}

func TestBufferBudgetTooSmall(t *testing.T) {
	logic, repo := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)
	settings := logic.Settings()
	settings.OverheadBytes = 3 //below the 6 bytes of one sample
	if err := logic.SetSettings(settings); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	repo.Blocks["dc"] = mocks.MustBlock("dc",
		testElement(10e-9, 0, sampling.DC{Voltage: 0.125}, false, false))
	repo.Ensembles["flat"] = mocks.MustEnsemble("flat", false, pulse.BlockRef{BlockName: "dc"})

	_, _, _, err := logic.SampleBlockEnsemble("flat", 0, "")
	if !errors.Is(err, ErrBufferBudget) {
		t.Errorf("expected buffer budget error, got %v", err)
	}
}

func TestSampleSequenceRotatingFrame(t *testing.T) {
	device := pulser.NewDummy(1, pulser.SequenceOptionOptional)
	logic, repo := newTestLogic(device, 1e9)

	fn := sampling.Sin{Amplitude: 0.25, Frequency: 100e6}
	repo.Blocks["tone"] = mocks.MustBlock("tone", testElement(5e-9, 0, fn, false, false))
	repo.Ensembles["seg"] = mocks.MustEnsemble("seg", true, pulse.BlockRef{BlockName: "tone"})
	sequence := mocks.MustSequence("scan", true,
		pulse.DefaultSequenceStep("seg"), pulse.DefaultSequenceStep("seg"))
	repo.Sequences["scan"] = sequence

	if err := logic.SampleSequence("scan"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	//each step gets its own indexed waveform
	first, ok := device.AnalogSamples("scan_000", "a_ch1")
	if !ok {
		t.Fatalf("step waveform scan_000 missing")
	}
	second, ok := device.AnalogSamples("scan_001", "a_ch1")
	if !ok {
		t.Fatalf("step waveform scan_001 missing")
	}
	//the phase offset threads across steps: the second waveform is the negative half
	//wave of the 10 sample period
	for i := range first {
		if !testUtils.FloatEqUpTo(float64(second[i]), -float64(first[i]), 1e-6) {
			t.Fatalf("expected continued phase at sample %v: %v vs %v", i, first[i], second[i])
		}
	}

	stored, _ := repo.Sequence("scan")
	cached := stored.SamplingInformation()
	if cached == nil {
		t.Fatalf("sequence sampling information not attached")
	}
	if len(cached.StepWaveforms) != 2 || len(cached.EnsembleInfos) != 2 {
		t.Errorf("unexpected sampling information %+v", cached)
	}
	if _, ok := cached.EnsembleInfos["scan_001"]; !ok {
		t.Errorf("missing per-step info, have %v", cached.EnsembleInfos)
	}
	if steps, ok := device.SequenceSteps("scan"); !ok || len(steps) != 2 {
		t.Errorf("device sequence table missing or wrong length")
	}
}

func TestSampleSequenceReusesWaveformsWithoutRotatingFrame(t *testing.T) {
	device := mockPulser.NewDevice(1, pulser.SequenceOptionOptional)
	logic, repo := newTestLogic(device, 1e9)

	repo.Blocks["dc"] = mocks.MustBlock("dc",
		testElement(10e-9, 0, sampling.DC{Voltage: 0.125}, true, false))
	repo.Ensembles["flat"] = mocks.MustEnsemble("flat", false, pulse.BlockRef{BlockName: "dc"})
	sequence := mocks.MustSequence("loop", false,
		pulse.DefaultSequenceStep("flat"), pulse.DefaultSequenceStep("flat"))
	repo.Sequences["loop"] = sequence

	if err := logic.SampleSequence("loop"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	writesAfterFirst := device.ChunkWrites()
	if writesAfterFirst != 1 {
		t.Errorf("expected a single chunk write for two identical steps, got %v", writesAfterFirst)
	}

	//a second run finds matching settings and waveforms still on the device
	if err := logic.SampleSequence("loop"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if device.ChunkWrites() != writesAfterFirst {
		t.Errorf("expected waveform reuse, got %v additional chunk writes",
			device.ChunkWrites()-writesAfterFirst)
	}

	stored, _ := repo.Sequence("loop")
	if stored.SamplingInformation() == nil {
		t.Errorf("sequence sampling information not attached")
	}
}

func TestSampleSequenceRequiresSequencingCapability(t *testing.T) {
	logic, repo := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionNone), 1e9)

	repo.Blocks["dc"] = mocks.MustBlock("dc",
		testElement(10e-9, 0, sampling.DC{Voltage: 0.125}, false, false))
	repo.Ensembles["flat"] = mocks.MustEnsemble("flat", false, pulse.BlockRef{BlockName: "dc"})
	repo.Sequences["seq"] = mocks.MustSequence("seq", false, pulse.DefaultSequenceStep("flat"))

	if err := logic.SampleSequence("seq"); err == nil {
		t.Errorf("expected error for device without sequencing capability")
	}
}

func TestDeleteEnsembleRemovesDeviceWaveforms(t *testing.T) {
	device := pulser.NewDummy(1, pulser.SequenceOptionOptional)
	logic, repo := newTestLogic(device, 1e9)

	repo.Blocks["dc"] = mocks.MustBlock("dc",
		testElement(10e-9, 0, sampling.DC{Voltage: 0.125}, false, false))
	repo.Ensembles["flat"] = mocks.MustEnsemble("flat", false, pulse.BlockRef{BlockName: "dc"})

	if _, _, _, err := logic.SampleBlockEnsemble("flat", 0, ""); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(device.WaveformNames()) == 0 {
		t.Fatalf("no device waveforms after sampling")
	}

	if err := logic.DeleteEnsemble("flat"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if names := device.WaveformNames(); len(names) != 0 {
		t.Errorf("device waveforms survived ensemble deletion: %v", names)
	}
	if _, err := repo.Ensemble("flat"); err == nil {
		t.Errorf("ensemble survived deletion")
	}
}
