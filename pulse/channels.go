//Package pulse contains the symbolic pulse program data model: BlockElement, Block,
//BlockEnsemble and Sequence, together with the discretization result types produced by
//the analyzer. Objects reference each other by name only; resolution happens through a
//repository at analysis/sampling time.
package pulse

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

//Sentinel errors for data model operations.
var (
	//ErrChannelSetMismatch indicates an element with a deviating channel activation was
	//inserted into a Block, or an ensemble's blocks do not match the active hardware
	//channel configuration. Mixing channel sets silently corrupts waveforms, so this is
	//always fatal to the operation in progress.
	ErrChannelSetMismatch = errors.New("pulse: channel set mismatch")

	//ErrIndexOutOfRange indicates an element/step index outside the list bounds
	ErrIndexOutOfRange = errors.New("pulse: index out of range")

	//ErrEmptyList indicates a pop from an empty element/block/step list
	ErrEmptyList = errors.New("pulse: pop from empty list")

	//ErrBadRepetitions indicates a negative ensemble repetition count
	ErrBadRepetitions = errors.New("pulse: ensemble repetitions must be >= 0")
)

//Channel descriptors follow the convention "a_ch<N>" for analog and "d_ch<N>" for
//digital channels.

//IsAnalogChannel reports whether the channel descriptor names an analog channel
func IsAnalogChannel(channel string) bool {
	return strings.HasPrefix(channel, "a")
}

//IsDigitalChannel reports whether the channel descriptor names a digital channel
func IsDigitalChannel(channel string) bool {
	return strings.HasPrefix(channel, "d")
}

//ChannelSet is a set of channel descriptor strings
type ChannelSet map[string]struct{}

//NewChannelSet builds a set from the given descriptors
func NewChannelSet(channels ...string) ChannelSet {
	set := make(ChannelSet, len(channels))
	for _, chnl := range channels {
		set[chnl] = struct{}{}
	}
	return set
}

//Has reports whether channel is part of the set
func (s ChannelSet) Has(channel string) bool {
	_, ok := s[channel]
	return ok
}

//Equal reports whether both sets contain exactly the same channels
func (s ChannelSet) Equal(other ChannelSet) bool {
	if len(s) != len(other) {
		return false
	}
	for chnl := range s {
		if !other.Has(chnl) {
			return false
		}
	}
	return true
}

//Union returns a new set containing the channels of both sets
func (s ChannelSet) Union(other ChannelSet) ChannelSet {
	union := make(ChannelSet, len(s)+len(other))
	for chnl := range s {
		union[chnl] = struct{}{}
	}
	for chnl := range other {
		union[chnl] = struct{}{}
	}
	return union
}

//Sorted returns the channels in lexicographic order
func (s ChannelSet) Sorted() []string {
	channels := make([]string, 0, len(s))
	for chnl := range s {
		channels = append(channels, chnl)
	}
	sort.Strings(channels)
	return channels
}

func (s ChannelSet) String() string {
	return "{" + strings.Join(s.Sorted(), ", ") + "}"
}

//MarshalJSON serializes the set as a sorted channel list
func (s ChannelSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

//UnmarshalJSON restores the set from a channel list
func (s *ChannelSet) UnmarshalJSON(data []byte) error {
	var channels []string
	if err := json.Unmarshal(data, &channels); err != nil {
		return err
	}
	*s = NewChannelSet(channels...)
	return nil
}
