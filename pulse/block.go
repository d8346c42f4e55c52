package pulse

import (
	"encoding/json"
	"fmt"
)

//Block is an ordered, named sequence of BlockElements forming a reusable waveform
//fragment. All elements of one block must use the identical channel set; violating
//inserts fail with ErrChannelSetMismatch and leave the block unchanged.
//
//The nominal length, the per-repetition increment and the channel set are kept as
//aggregates and updated incrementally by every mutation.
type Block struct {
	name       string
	elements   []BlockElement
	initLength float64
	increment  float64
	channelSet ChannelSet
}

//NewBlock creates a block from the given elements. The elements are deep-copied.
func NewBlock(name string, elements ...BlockElement) (*Block, error) {
	b := &Block{name: name, channelSet: ChannelSet{}}
	for _, element := range elements {
		if err := b.Append(element); err != nil {
			return nil, err
		}
	}
	return b, nil
}

//Name returns the unique block name used as repository key
func (b *Block) Name() string { return b.name }

//Len returns the number of elements
func (b *Block) Len() int { return len(b.elements) }

//InitLength returns the summed nominal element length in seconds
func (b *Block) InitLength() float64 { return b.initLength }

//Increment returns the summed per-repetition length increment in seconds
func (b *Block) Increment() float64 { return b.increment }

//ChannelSet returns the channel set shared by all elements. The returned set must be
//treated as read-only.
func (b *Block) ChannelSet() ChannelSet { return b.channelSet }

//AnalogChannels returns the analog subset of the block's channel set
func (b *Block) AnalogChannels() ChannelSet {
	set := ChannelSet{}
	for chnl := range b.channelSet {
		if IsAnalogChannel(chnl) {
			set[chnl] = struct{}{}
		}
	}
	return set
}

//DigitalChannels returns the digital subset of the block's channel set
func (b *Block) DigitalChannels() ChannelSet {
	set := ChannelSet{}
	for chnl := range b.channelSet {
		if IsDigitalChannel(chnl) {
			set[chnl] = struct{}{}
		}
	}
	return set
}

//Elements returns the element list. The returned slice must be treated as read-only;
//use the block mutators to change it.
func (b *Block) Elements() []BlockElement { return b.elements }

//Element returns the element at index
func (b *Block) Element(index int) (BlockElement, error) {
	if index < 0 || index >= len(b.elements) {
		return BlockElement{}, fmt.Errorf("%w: element %v of block %q (len %v)",
			ErrIndexOutOfRange, index, b.name, len(b.elements))
	}
	return b.elements[index], nil
}

//checkChannelSet verifies the element fits the block's channel activation. An empty
//block adopts the channel set of its first element.
func (b *Block) checkChannelSet(element BlockElement) error {
	elementSet := element.ChannelSet()
	if len(b.elements) == 0 {
		b.channelSet = elementSet
		return nil
	}
	if !b.channelSet.Equal(elementSet) {
		return fmt.Errorf("%w: block %q uses %v, element uses %v",
			ErrChannelSetMismatch, b.name, b.channelSet, elementSet)
	}
	return nil
}

//Insert places a deep copy of element at the given position, shifting subsequent
//elements to higher indices
func (b *Block) Insert(position int, element BlockElement) error {
	if position < 0 || position > len(b.elements) {
		return fmt.Errorf("%w: insert at %v into block %q (len %v)",
			ErrIndexOutOfRange, position, b.name, len(b.elements))
	}
	if err := b.checkChannelSet(element); err != nil {
		return err
	}
	b.initLength += element.InitLength
	b.increment += element.Increment
	b.elements = append(b.elements, BlockElement{})
	copy(b.elements[position+1:], b.elements[position:])
	b.elements[position] = element.Clone()
	return nil
}

//Append places a deep copy of element at the end of the block
func (b *Block) Append(element BlockElement) error {
	return b.Insert(len(b.elements), element)
}

//Extend appends all given elements. Fails at the first mismatching element, leaving
//already appended ones in place.
func (b *Block) Extend(elements ...BlockElement) error {
	for _, element := range elements {
		if err := b.Append(element); err != nil {
			return err
		}
	}
	return nil
}

//Set replaces the element at index with a deep copy of element
func (b *Block) Set(index int, element BlockElement) error {
	if index < 0 || index >= len(b.elements) {
		return fmt.Errorf("%w: set element %v of block %q (len %v)",
			ErrIndexOutOfRange, index, b.name, len(b.elements))
	}
	elementSet := element.ChannelSet()
	if !b.channelSet.Equal(elementSet) {
		return fmt.Errorf("%w: block %q uses %v, element uses %v",
			ErrChannelSetMismatch, b.name, b.channelSet, elementSet)
	}
	old := b.elements[index]
	b.initLength += element.InitLength - old.InitLength
	b.increment += element.Increment - old.Increment
	b.elements[index] = element.Clone()
	return nil
}

//Delete removes the element at index
func (b *Block) Delete(index int) error {
	if index < 0 || index >= len(b.elements) {
		return fmt.Errorf("%w: delete element %v of block %q (len %v)",
			ErrIndexOutOfRange, index, b.name, len(b.elements))
	}
	b.initLength -= b.elements[index].InitLength
	b.increment -= b.elements[index].Increment
	b.elements = append(b.elements[:index], b.elements[index+1:]...)
	if len(b.elements) == 0 {
		b.initLength = 0
		b.increment = 0
	}
	return nil
}

//Pop removes and returns the last element
func (b *Block) Pop() (BlockElement, error) {
	if len(b.elements) == 0 {
		return BlockElement{}, fmt.Errorf("%w: block %q", ErrEmptyList, b.name)
	}
	element := b.elements[len(b.elements)-1]
	if err := b.Delete(len(b.elements) - 1); err != nil {
		return BlockElement{}, err
	}
	return element, nil
}

//Clear removes all elements and resets the aggregates including the channel set
func (b *Block) Clear() {
	b.elements = nil
	b.initLength = 0
	b.increment = 0
	b.channelSet = ChannelSet{}
}

//Reverse reverses the element order in place
func (b *Block) Reverse() {
	for i, j := 0, len(b.elements)-1; i < j; i, j = i+1, j-1 {
		b.elements[i], b.elements[j] = b.elements[j], b.elements[i]
	}
}

//RefreshAggregates recomputes length, increment and channel set from scratch and
//re-validates the channel set invariant
func (b *Block) RefreshAggregates() error {
	b.initLength = 0
	b.increment = 0
	b.channelSet = ChannelSet{}
	for i, element := range b.elements {
		b.initLength += element.InitLength
		b.increment += element.Increment
		elementSet := element.ChannelSet()
		if i == 0 {
			b.channelSet = elementSet
		} else if !b.channelSet.Equal(elementSet) {
			return fmt.Errorf("%w: block %q uses %v, element %v uses %v",
				ErrChannelSetMismatch, b.name, b.channelSet, i, elementSet)
		}
	}
	return nil
}

//Equal reports whether both blocks contain equal element lists under the same name
func (b *Block) Equal(other *Block) bool {
	if b == other {
		return true
	}
	if other == nil || b.name != other.name || len(b.elements) != len(other.elements) {
		return false
	}
	if !b.channelSet.Equal(other.channelSet) {
		return false
	}
	for i := range b.elements {
		if !b.elements[i].Equal(other.elements[i]) {
			return false
		}
	}
	return true
}

//blockDTO is the dict representation of a Block
type blockDTO struct {
	Name     string         `json:"name"`
	Elements []BlockElement `json:"element_list"`
}

//MarshalJSON implements the dict representation round trip
func (b *Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(blockDTO{Name: b.name, Elements: b.elements})
}

//UnmarshalJSON implements the dict representation round trip
func (b *Block) UnmarshalJSON(data []byte) error {
	var dto blockDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	restored, err := NewBlock(dto.Name, dto.Elements...)
	if err != nil {
		return err
	}
	*b = *restored
	return nil
}
