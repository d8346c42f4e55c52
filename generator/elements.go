package generator

import (
	"fmt"
	"math"

	"pulsegen/pulse"
	"pulsegen/sampling"
)

//This file holds the element factories generation code composes measurement ensembles
//from. All factories derive the channel maps from the active channel configuration, so
//every produced element carries the full activation channel set and blocks built from
//them pass the channel set check of the sampling engine.

//activeAnalogChannels returns the analog channels of the activation config, sorted
func (l *Logic) activeAnalogChannels() []string {
	var chnls []string
	for _, chnl := range l.settings.ActivationConfig.Sorted() {
		if pulse.IsAnalogChannel(chnl) {
			chnls = append(chnls, chnl)
		}
	}
	return chnls
}

//activeDigitalChannels returns the digital channels of the activation config, sorted
func (l *Logic) activeDigitalChannels() []string {
	var chnls []string
	for _, chnl := range l.settings.ActivationConfig.Sorted() {
		if pulse.IsDigitalChannel(chnl) {
			chnls = append(chnls, chnl)
		}
	}
	return chnls
}

//blankChannelMaps returns all active analog channels at idle and all active digital
//channels low
func (l *Logic) blankChannelMaps() (map[string]sampling.Function, map[string]bool) {
	pulseFunction := make(map[string]sampling.Function)
	for _, chnl := range l.activeAnalogChannels() {
		pulseFunction[chnl] = sampling.Idle{}
	}
	digitalHigh := make(map[string]bool)
	for _, chnl := range l.activeDigitalChannels() {
		digitalHigh[chnl] = false
	}
	return pulseFunction, digitalHigh
}

//IdleElement returns an element with all channels inactive
func (l *Logic) IdleElement(length, increment float64) pulse.BlockElement {
	pulseFunction, digitalHigh := l.blankChannelMaps()
	return pulse.NewBlockElement(length, increment, false, pulseFunction, digitalHigh)
}

//TriggerElement returns an idle element with the given channels asserted: digital
//channels go high, analog channels output the configured trigger voltage
func (l *Logic) TriggerElement(length, increment float64, channels ...string) (pulse.BlockElement, error) {
	pulseFunction, digitalHigh := l.blankChannelMaps()
	laserOn := false
	for _, chnl := range channels {
		if chnl == "" {
			continue
		}
		switch {
		case pulse.IsDigitalChannel(chnl):
			if _, ok := digitalHigh[chnl]; !ok {
				return pulse.BlockElement{}, fmt.Errorf("generator: trigger channel %q not in activation config %q",
					chnl, l.settings.ActivationConfigName)
			}
			digitalHigh[chnl] = true
		case pulse.IsAnalogChannel(chnl):
			if _, ok := pulseFunction[chnl]; !ok {
				return pulse.BlockElement{}, fmt.Errorf("generator: trigger channel %q not in activation config %q",
					chnl, l.settings.ActivationConfigName)
			}
			pulseFunction[chnl] = sampling.DC{Voltage: l.genParams.AnalogTriggerVoltage}
		default:
			return pulse.BlockElement{}, fmt.Errorf("generator: %q is not a channel descriptor", chnl)
		}
		if chnl == l.genParams.LaserChannel {
			laserOn = true
		}
	}
	return pulse.NewBlockElement(length, increment, laserOn, pulseFunction, digitalHigh), nil
}

//LaserElement returns an element with the laser channel asserted for the given length
func (l *Logic) LaserElement(length, increment float64) (pulse.BlockElement, error) {
	return l.TriggerElement(length, increment, l.genParams.LaserChannel)
}

//LaserGateElement returns a laser element with the counter gate asserted as well
func (l *Logic) LaserGateElement(length, increment float64) (pulse.BlockElement, error) {
	return l.TriggerElement(length, increment, l.genParams.LaserChannel, l.genParams.GateChannel)
}

//DelayElement returns an idle element covering the laser emission delay
func (l *Logic) DelayElement() pulse.BlockElement {
	return l.IdleElement(l.genParams.LaserDelay, 0)
}

//DelayGateElement returns a delay element keeping the counter gate asserted, used with
//gated counters so the gate spans laser delay plus laser pulse
func (l *Logic) DelayGateElement() (pulse.BlockElement, error) {
	if l.genParams.GateChannel == "" {
		return l.DelayElement(), nil
	}
	return l.TriggerElement(l.genParams.LaserDelay, 0, l.genParams.GateChannel)
}

//WaitElement returns an idle element covering the relaxation wait time
func (l *Logic) WaitElement() pulse.BlockElement {
	return l.IdleElement(l.genParams.WaitTime, 0)
}

//SyncElement returns a short trigger on the sync channel marking the start of a run
func (l *Logic) SyncElement(length float64) (pulse.BlockElement, error) {
	return l.TriggerElement(length, 0, l.genParams.SyncChannel)
}

//MWElement returns an element driving the microwave channel: a sine on an analog
//channel, a plain high state on a digital channel (external source gating)
func (l *Logic) MWElement(length, increment, amplitude, frequency, phase float64) (pulse.BlockElement, error) {
	chnl := l.genParams.MicrowaveChannel
	if chnl == "" {
		return pulse.BlockElement{}, fmt.Errorf("generator: no microwave channel configured")
	}
	if pulse.IsDigitalChannel(chnl) {
		return l.TriggerElement(length, increment, chnl)
	}
	pulseFunction, digitalHigh := l.blankChannelMaps()
	if _, ok := pulseFunction[chnl]; !ok {
		return pulse.BlockElement{}, fmt.Errorf("generator: microwave channel %q not in activation config %q",
			chnl, l.settings.ActivationConfigName)
	}
	pulseFunction[chnl] = sampling.Sin{Amplitude: amplitude, Frequency: frequency, Phase: phase}
	return pulse.NewBlockElement(length, increment, false, pulseFunction, digitalHigh), nil
}

//MultipleMWElement returns an element driving two or three simultaneous microwave tones
//on the analog microwave channel
func (l *Logic) MultipleMWElement(length, increment float64, amplitudes, frequencies, phases []float64) (pulse.BlockElement, error) {
	chnl := l.genParams.MicrowaveChannel
	if !pulse.IsAnalogChannel(chnl) {
		return pulse.BlockElement{}, fmt.Errorf("generator: multi-tone microwave needs an analog channel, have %q", chnl)
	}
	if len(amplitudes) != len(frequencies) || len(amplitudes) != len(phases) {
		return pulse.BlockElement{}, fmt.Errorf("generator: tone parameter counts differ (%v/%v/%v)",
			len(amplitudes), len(frequencies), len(phases))
	}
	pulseFunction, digitalHigh := l.blankChannelMaps()
	switch len(amplitudes) {
	case 2:
		pulseFunction[chnl] = sampling.DoubleSin{
			Amplitude1: amplitudes[0], Frequency1: frequencies[0], Phase1: phases[0],
			Amplitude2: amplitudes[1], Frequency2: frequencies[1], Phase2: phases[1],
		}
	case 3:
		pulseFunction[chnl] = sampling.TripleSin{
			Amplitude1: amplitudes[0], Frequency1: frequencies[0], Phase1: phases[0],
			Amplitude2: amplitudes[1], Frequency2: frequencies[1], Phase2: phases[1],
			Amplitude3: amplitudes[2], Frequency3: frequencies[2], Phase3: phases[2],
		}
	default:
		return pulse.BlockElement{}, fmt.Errorf("generator: %v simultaneous tones not supported", len(amplitudes))
	}
	return pulse.NewBlockElement(length, increment, false, pulseFunction, digitalHigh), nil
}

//MWLaserElement returns an element driving the microwave channel while the laser is on
func (l *Logic) MWLaserElement(length, increment, amplitude, frequency, phase float64) (pulse.BlockElement, error) {
	element, err := l.MWElement(length, increment, amplitude, frequency, phase)
	if err != nil {
		return pulse.BlockElement{}, err
	}
	laser := l.genParams.LaserChannel
	switch {
	case pulse.IsDigitalChannel(laser):
		element.DigitalHigh[laser] = true
		element.LaserOn = true
	case pulse.IsAnalogChannel(laser):
		element.PulseFunction[laser] = sampling.DC{Voltage: l.genParams.AnalogTriggerVoltage}
		element.LaserOn = true
	}
	return element, nil
}

//ReadoutElements returns the canonical readout tail of a measurement point: laser/gate
//pulse, emission delay and relaxation wait
func (l *Logic) ReadoutElements() ([]pulse.BlockElement, error) {
	laser, err := l.LaserGateElement(l.genParams.LaserLength, 0)
	if err != nil {
		return nil, err
	}
	delay, err := l.DelayGateElement()
	if err != nil {
		return nil, err
	}
	return []pulse.BlockElement{laser, delay, l.WaitElement()}, nil
}

//AdjustToSampleRate rounds a duration so that its bin count is a multiple of
//divisibility at the current sample rate. Generation code uses it to keep handcrafted
//timings commensurable with the device granularity.
func (l *Logic) AdjustToSampleRate(value float64, divisibility int64) float64 {
	if divisibility < 1 {
		divisibility = 1
	}
	rate := l.settings.SampleRate
	bins := math.RoundToEven(value*rate/float64(divisibility)) * float64(divisibility)
	return bins / rate
}

//EnsembleCountLength returns the time window the photon counter must record for one run
//of the ensemble: with a gated counter only the laser pulse matters, otherwise the full
//ensemble length
func (l *Logic) EnsembleCountLength(ensemble *pulse.BlockEnsemble) (float64, error) {
	if l.genParams.GateChannel != "" {
		return l.genParams.LaserLength + l.genParams.LaserDelay, nil
	}
	length, _, _, err := l.EnsembleSummary(ensemble)
	return length, err
}

//NewMeasurementInformation builds the measurement metadata record for a standard swept
//measurement: one laser pulse per controlled variable value (twice that for alternating
//measurements)
func (l *Logic) NewMeasurementInformation(alternating bool, controlledVariable []float64,
	ensemble *pulse.BlockEnsemble) (*pulse.MeasurementInformation, error) {
	lasers := len(controlledVariable)
	if alternating {
		lasers *= 2
	}
	countingLength, err := l.EnsembleCountLength(ensemble)
	if err != nil {
		return nil, err
	}
	return &pulse.MeasurementInformation{
		Alternating:        alternating,
		LaserIgnoreList:    []int{},
		ControlledVariable: controlledVariable,
		Units:              [2]string{"s", ""},
		Labels:             [2]string{"Tau", "Signal"},
		NumberOfLasers:     lasers,
		CountingLength:     countingLength,
	}, nil
}
