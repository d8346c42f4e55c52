package pulse

import (
	"encoding/json"
	"fmt"

	"pulsegen/sampling"
)

//BlockElement is one atomic timed segment of a pulse block: a duration plus a linear
//per-repetition increment, a laser-on marker and the per-channel output specification
//(analog waveform function or digital high/low).
//
//BlockElement is treated as an immutable value object. Blocks deep-copy elements on
//insertion, so holding on to an element after inserting it is safe.
type BlockElement struct {
	//InitLength is the initial element duration in seconds, must be > 0
	InitLength float64
	//Increment is added to the duration once per block repetition, in seconds (may be 0)
	Increment float64
	//LaserOn marks the element as part of a laser pulse for setups where the laser is
	//not routed through a dedicated digital channel
	LaserOn bool
	//PulseFunction maps analog channel descriptors to their waveform function
	PulseFunction map[string]sampling.Function
	//DigitalHigh maps digital channel descriptors to their logic state
	DigitalHigh map[string]bool
}

//NewBlockElement builds an element, copying both channel maps
func NewBlockElement(initLength, increment float64, laserOn bool,
	pulseFunction map[string]sampling.Function, digitalHigh map[string]bool) BlockElement {
	element := BlockElement{
		InitLength:    initLength,
		Increment:     increment,
		LaserOn:       laserOn,
		PulseFunction: make(map[string]sampling.Function, len(pulseFunction)),
		DigitalHigh:   make(map[string]bool, len(digitalHigh)),
	}
	for chnl, fn := range pulseFunction {
		element.PulseFunction[chnl] = fn
	}
	for chnl, high := range digitalHigh {
		element.DigitalHigh[chnl] = high
	}
	return element
}

//Clone returns a deep copy of the element
func (e BlockElement) Clone() BlockElement {
	return NewBlockElement(e.InitLength, e.Increment, e.LaserOn, e.PulseFunction, e.DigitalHigh)
}

//AnalogChannels returns the set of analog channels used by this element
func (e BlockElement) AnalogChannels() ChannelSet {
	set := make(ChannelSet, len(e.PulseFunction))
	for chnl := range e.PulseFunction {
		set[chnl] = struct{}{}
	}
	return set
}

//DigitalChannels returns the set of digital channels used by this element
func (e BlockElement) DigitalChannels() ChannelSet {
	set := make(ChannelSet, len(e.DigitalHigh))
	for chnl := range e.DigitalHigh {
		set[chnl] = struct{}{}
	}
	return set
}

//ChannelSet returns the union of analog and digital channels used by this element
func (e BlockElement) ChannelSet() ChannelSet {
	return e.AnalogChannels().Union(e.DigitalChannels())
}

//Equal reports whether both elements describe the identical segment
func (e BlockElement) Equal(other BlockElement) bool {
	if e.InitLength != other.InitLength || e.Increment != other.Increment ||
		e.LaserOn != other.LaserOn {
		return false
	}
	if len(e.DigitalHigh) != len(other.DigitalHigh) {
		return false
	}
	for chnl, high := range e.DigitalHigh {
		otherHigh, ok := other.DigitalHigh[chnl]
		if !ok || otherHigh != high {
			return false
		}
	}
	if len(e.PulseFunction) != len(other.PulseFunction) {
		return false
	}
	for chnl, fn := range e.PulseFunction {
		otherFn, ok := other.PulseFunction[chnl]
		if !ok || otherFn != fn {
			return false
		}
	}
	return true
}

//elementDTO is the dict representation of a BlockElement, key-compatible with other
//implementations of the pulse object format
type elementDTO struct {
	InitLength    float64                          `json:"init_length_s"`
	Increment     float64                          `json:"increment_s"`
	LaserOn       bool                             `json:"laser_on"`
	PulseFunction map[string]sampling.FunctionSpec `json:"pulse_function"`
	DigitalHigh   map[string]bool                  `json:"digital_high"`
}

//MarshalJSON implements the dict representation round trip
func (e BlockElement) MarshalJSON() ([]byte, error) {
	dto := elementDTO{
		InitLength:    e.InitLength,
		Increment:     e.Increment,
		LaserOn:       e.LaserOn,
		PulseFunction: make(map[string]sampling.FunctionSpec, len(e.PulseFunction)),
		DigitalHigh:   e.DigitalHigh,
	}
	for chnl, fn := range e.PulseFunction {
		dto.PulseFunction[chnl] = sampling.Spec(fn)
	}
	return json.Marshal(dto)
}

//UnmarshalJSON implements the dict representation round trip
func (e *BlockElement) UnmarshalJSON(data []byte) error {
	var dto elementDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	pulseFunction := make(map[string]sampling.Function, len(dto.PulseFunction))
	for chnl, spec := range dto.PulseFunction {
		fn, err := sampling.FromSpec(spec)
		if err != nil {
			return fmt.Errorf("channel %v : %v", chnl, err)
		}
		pulseFunction[chnl] = fn
	}
	*e = NewBlockElement(dto.InitLength, dto.Increment, dto.LaserOn, pulseFunction, dto.DigitalHigh)
	return nil
}
