package generator

import (
	"testing"

	"pulsegen/pulser"
	"pulsegen/sampling"
	"pulsegen/testUtils"
)

func TestTriggerElementAssertsChannels(t *testing.T) {
	logic, _ := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)

	element, err := logic.TriggerElement(1e-6, 0, "d_ch2", "a_ch1")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !element.DigitalHigh["d_ch2"] || element.DigitalHigh["d_ch1"] {
		t.Errorf("unexpected digital states %v", element.DigitalHigh)
	}
	if dc, ok := element.PulseFunction["a_ch1"].(sampling.DC); !ok || dc.Voltage != 0.25 {
		t.Errorf("expected trigger voltage on a_ch1, got %v", element.PulseFunction["a_ch1"])
	}
	if element.LaserOn {
		t.Errorf("trigger without the laser channel must not set the laser flag")
	}
	//all active channels must be present so the channel set check passes downstream
	if len(element.DigitalHigh) != 2 || len(element.PulseFunction) != 1 {
		t.Errorf("element does not cover the activation config: %v / %v",
			element.PulseFunction, element.DigitalHigh)
	}

	element, err = logic.TriggerElement(1e-6, 0, "d_ch1")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !element.LaserOn {
		t.Errorf("trigger on the laser channel must set the laser flag")
	}

	if _, err := logic.TriggerElement(1e-6, 0, "d_ch9"); err == nil {
		t.Errorf("expected error for channel outside the activation config")
	}
	if _, err := logic.TriggerElement(1e-6, 0, "ch1"); err == nil {
		t.Errorf("expected error for malformed channel descriptor")
	}
}

func TestMWElementAnalogAndDigital(t *testing.T) {
	logic, _ := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)

	element, err := logic.MWElement(100e-9, 5e-9, 0.1, 2.87e9, 90)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	sin, ok := element.PulseFunction["a_ch1"].(sampling.Sin)
	if !ok {
		t.Fatalf("expected a sine on the microwave channel, got %v", element.PulseFunction["a_ch1"])
	}
	if sin.Amplitude != 0.1 || sin.Frequency != 2.87e9 || sin.Phase != 90 {
		t.Errorf("unexpected sine parameters %+v", sin)
	}
	if element.InitLength != 100e-9 || element.Increment != 5e-9 {
		t.Errorf("unexpected timing %v / %v", element.InitLength, element.Increment)
	}

	//a digital microwave channel gates an external source instead
	params := logic.GenerationParameters()
	params.MicrowaveChannel = "d_ch2"
	if err := logic.SetGenerationParameters(params); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	element, err = logic.MWElement(100e-9, 0, 0.1, 2.87e9, 0)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !element.DigitalHigh["d_ch2"] {
		t.Errorf("expected the digital microwave channel to be asserted")
	}
	if _, ok := element.PulseFunction["a_ch1"].(sampling.Idle); !ok {
		t.Errorf("analog channel must stay idle for a digital microwave channel")
	}

	params.MicrowaveChannel = ""
	if err := logic.SetGenerationParameters(params); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := logic.MWElement(100e-9, 0, 0.1, 2.87e9, 0); err == nil {
		t.Errorf("expected error without a microwave channel")
	}
}

func TestMultipleMWElementToneCounts(t *testing.T) {
	logic, _ := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)

	element, err := logic.MultipleMWElement(1e-6, 0,
		[]float64{0.1, 0.2}, []float64{2.8e9, 2.9e9}, []float64{0, 90})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	double, ok := element.PulseFunction["a_ch1"].(sampling.DoubleSin)
	if !ok {
		t.Fatalf("expected a two tone function, got %v", element.PulseFunction["a_ch1"])
	}
	if double.Frequency2 != 2.9e9 || double.Phase2 != 90 {
		t.Errorf("unexpected second tone %+v", double)
	}

	element, err = logic.MultipleMWElement(1e-6, 0,
		[]float64{0.1, 0.2, 0.3}, []float64{2.8e9, 2.9e9, 3.0e9}, []float64{0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, ok := element.PulseFunction["a_ch1"].(sampling.TripleSin); !ok {
		t.Fatalf("expected a three tone function, got %v", element.PulseFunction["a_ch1"])
	}

	if _, err := logic.MultipleMWElement(1e-6, 0, []float64{0.1}, []float64{2.8e9}, []float64{0}); err == nil {
		t.Errorf("expected error for a single tone")
	}
	if _, err := logic.MultipleMWElement(1e-6, 0, []float64{0.1, 0.2}, []float64{2.8e9}, []float64{0, 0}); err == nil {
		t.Errorf("expected error for mismatched parameter counts")
	}
}

func TestMWLaserElementCombinesBoth(t *testing.T) {
	logic, _ := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)

	element, err := logic.MWLaserElement(1e-6, 0, 0.1, 2.87e9, 0)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !element.LaserOn || !element.DigitalHigh["d_ch1"] {
		t.Errorf("laser channel not asserted: %v", element.DigitalHigh)
	}
	if _, ok := element.PulseFunction["a_ch1"].(sampling.Sin); !ok {
		t.Errorf("microwave drive missing: %v", element.PulseFunction["a_ch1"])
	}
}

func TestReadoutElementsWithAndWithoutGate(t *testing.T) {
	logic, _ := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)

	readout, err := logic.ReadoutElements()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(readout) != 3 {
		t.Fatalf("expected laser, delay and wait, got %v elements", len(readout))
	}
	laser, delay, wait := readout[0], readout[1], readout[2]
	if !laser.LaserOn || laser.InitLength != 3e-6 {
		t.Errorf("unexpected laser element %+v", laser)
	}
	if delay.InitLength != 500e-9 || delay.DigitalHigh["d_ch2"] {
		t.Errorf("ungated delay must be idle: %+v", delay)
	}
	if wait.InitLength != 1e-6 || wait.LaserOn {
		t.Errorf("unexpected wait element %+v", wait)
	}

	params := logic.GenerationParameters()
	params.GateChannel = "d_ch2"
	if err := logic.SetGenerationParameters(params); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	readout, err = logic.ReadoutElements()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	//gated counters need the gate to span laser pulse and emission delay
	if !readout[0].DigitalHigh["d_ch2"] || !readout[1].DigitalHigh["d_ch2"] {
		t.Errorf("gate not asserted during laser and delay: %v / %v",
			readout[0].DigitalHigh, readout[1].DigitalHigh)
	}
	if readout[2].DigitalHigh["d_ch2"] {
		t.Errorf("gate must drop during the wait")
	}
}

func TestAdjustToSampleRate(t *testing.T) {
	logic, _ := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)

	if got := logic.AdjustToSampleRate(3.7e-9, 2); !testUtils.FloatEqUpTo(got, 4e-9, 1e-18) {
		t.Errorf("expected 4ns, got %v", got)
	}
	if got := logic.AdjustToSampleRate(3.7e-9, 1); !testUtils.FloatEqUpTo(got, 4e-9, 1e-18) {
		t.Errorf("expected 4ns, got %v", got)
	}
	if got := logic.AdjustToSampleRate(10e-9, 16); !testUtils.FloatEqUpTo(got, 16e-9, 1e-18) {
		t.Errorf("expected 16ns, got %v", got)
	}
	//already commensurable values pass through unchanged
	if got := logic.AdjustToSampleRate(32e-9, 16); !testUtils.FloatEqUpTo(got, 32e-9, 1e-18) {
		t.Errorf("expected 32ns, got %v", got)
	}
}

func TestEnsembleCountLength(t *testing.T) {
	logic, repo := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)
	ensemble := rabiFixture(repo)

	//without a gate the counter records the full ensemble
	length, err := logic.EnsembleCountLength(ensemble)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !testUtils.FloatEqUpTo(length, 50*(50e-9+3e-6), 1e-12) {
		t.Errorf("expected the full ensemble length, got %v", length)
	}

	params := logic.GenerationParameters()
	params.GateChannel = "d_ch2"
	if err := logic.SetGenerationParameters(params); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	length, err = logic.EnsembleCountLength(ensemble)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !testUtils.FloatEqUpTo(length, 3e-6+500e-9, 1e-12) {
		t.Errorf("expected laser length plus delay, got %v", length)
	}
}

func TestNewMeasurementInformation(t *testing.T) {
	logic, repo := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)
	ensemble := rabiFixture(repo)

	taus := []float64{10e-9, 20e-9, 30e-9}
	info, err := logic.NewMeasurementInformation(false, taus, ensemble)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if info.NumberOfLasers != 3 {
		t.Errorf("expected one laser pulse per point, got %v", info.NumberOfLasers)
	}
	if info.Units != [2]string{"s", ""} || info.Labels != [2]string{"Tau", "Signal"} {
		t.Errorf("unexpected axis metadata %v / %v", info.Units, info.Labels)
	}
	if !testUtils.FloatSliceEqUpTo(taus, info.ControlledVariable, 0) {
		t.Errorf("unexpected controlled variable %v", info.ControlledVariable)
	}

	info, err = logic.NewMeasurementInformation(true, taus, ensemble)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if info.NumberOfLasers != 6 {
		t.Errorf("alternating measurements record twice per point, got %v lasers", info.NumberOfLasers)
	}
}

func TestGenerateLaserOn(t *testing.T) {
	logic, repo := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)

	ensemble, err := logic.GenerateLaserOn("laser_on", 2e-6)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if ensemble.Len() != 1 {
		t.Fatalf("expected a single block ref, got %v", ensemble.Len())
	}
	block, err := repo.Block("laser_on_block")
	if err != nil {
		t.Fatalf("block not persisted: %v", err)
	}
	elements := block.Elements()
	if len(elements) != 1 || !elements[0].LaserOn || elements[0].InitLength != 2e-6 {
		t.Errorf("unexpected laser block %+v", elements)
	}
	if _, err := repo.Ensemble("laser_on"); err != nil {
		t.Errorf("ensemble not persisted: %v", err)
	}
}

func TestGenerateRabi(t *testing.T) {
	logic, repo := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)

	ensemble, err := logic.GenerateRabi("rabi", 10e-9, 10e-9, 5)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	refs := ensemble.BlockRefs()
	if len(refs) != 1 || refs[0].Repetitions != 4 {
		t.Fatalf("expected one block ref with 4 repetitions, got %+v", refs)
	}

	block, err := repo.Block("rabi_block")
	if err != nil {
		t.Fatalf("block not persisted: %v", err)
	}
	elements := block.Elements()
	if len(elements) != 4 {
		t.Fatalf("expected microwave plus readout tail, got %v elements", len(elements))
	}
	mw := elements[0]
	if mw.InitLength != 10e-9 || mw.Increment != 10e-9 {
		t.Errorf("unexpected sweep timing %v / %v", mw.InitLength, mw.Increment)
	}
	sin, ok := mw.PulseFunction["a_ch1"].(sampling.Sin)
	if !ok || sin.Frequency != 2.87e9 || sin.Amplitude != 0.125 {
		t.Errorf("unexpected microwave drive %v", mw.PulseFunction["a_ch1"])
	}
	if !elements[1].LaserOn {
		t.Errorf("readout laser pulse missing")
	}

	measInfo := ensemble.MeasurementInformation()
	if measInfo == nil {
		t.Fatalf("measurement information not attached")
	}
	if measInfo.NumberOfLasers != 5 {
		t.Errorf("expected 5 laser pulses, got %v", measInfo.NumberOfLasers)
	}
	expectedTaus := []float64{10e-9, 20e-9, 30e-9, 40e-9, 50e-9}
	if !testUtils.FloatSliceEqUpTo(expectedTaus, measInfo.ControlledVariable, 1e-18) {
		t.Errorf("unexpected controlled variable %v", measInfo.ControlledVariable)
	}
	//taus 150ns total plus 5 readout tails of 4.5us
	if !testUtils.FloatEqUpTo(measInfo.CountingLength, 150e-9+5*4.5e-6, 1e-12) {
		t.Errorf("unexpected counting length %v", measInfo.CountingLength)
	}

	if _, err := repo.Ensemble("rabi"); err != nil {
		t.Errorf("ensemble not persisted: %v", err)
	}

	if _, err := logic.GenerateRabi("bad", 10e-9, 10e-9, 0); err == nil {
		t.Errorf("expected error for zero points")
	}
}

func TestGenerateRabiWithSyncChannel(t *testing.T) {
	logic, repo := newTestLogic(pulser.NewDummy(1, pulser.SequenceOptionOptional), 1e9)
	params := logic.GenerationParameters()
	params.SyncChannel = "d_ch2"
	if err := logic.SetGenerationParameters(params); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	ensemble, err := logic.GenerateRabi("rabi", 10e-9, 10e-9, 3)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	refs := ensemble.BlockRefs()
	if len(refs) != 2 || refs[1].BlockName != "rabi_sync" {
		t.Fatalf("expected trailing sync block, got %+v", refs)
	}
	syncBlock, err := repo.Block("rabi_sync")
	if err != nil {
		t.Fatalf("sync block not persisted: %v", err)
	}
	if !syncBlock.Elements()[0].DigitalHigh["d_ch2"] {
		t.Errorf("sync channel not asserted")
	}
}
