package pulse

import (
	"encoding/json"
	"fmt"
)

//BlockRef references a Block by name together with its extra repetition count.
//Repetitions counts extra repeats: the block plays Repetitions+1 times.
type BlockRef struct {
	BlockName   string `json:"block_name"`
	Repetitions int    `json:"repetitions"`
}

//BlockEnsemble is an ordered composition of named blocks. It is the unit that gets
//sampled into one waveform. Blocks are referenced by name only and resolved against a
//repository at analysis/sampling time.
//
//Any structural mutation clears the cached sampling and measurement information, so
//stale caches cannot outlive an edit.
type BlockEnsemble struct {
	name          string
	rotatingFrame bool
	blockRefs     []BlockRef
	samplingInfo  *SamplingInformation
	measInfo      *MeasurementInformation
}

//NewBlockEnsemble creates an ensemble. rotatingFrame selects whether analog functions
//are evaluated at absolute time (phase-continuous) during sampling.
func NewBlockEnsemble(name string, rotatingFrame bool, refs ...BlockRef) (*BlockEnsemble, error) {
	e := &BlockEnsemble{name: name, rotatingFrame: rotatingFrame}
	for _, ref := range refs {
		if err := e.Append(ref); err != nil {
			return nil, err
		}
	}
	return e, nil
}

//Name returns the unique ensemble name used as repository key
func (e *BlockEnsemble) Name() string { return e.name }

//RotatingFrame reports whether phase is preserved across the whole ensemble
func (e *BlockEnsemble) RotatingFrame() bool { return e.rotatingFrame }

//Len returns the number of block references
func (e *BlockEnsemble) Len() int { return len(e.blockRefs) }

//BlockRefs returns the block reference list. Treat as read-only.
func (e *BlockEnsemble) BlockRefs() []BlockRef { return e.blockRefs }

//BlockRef returns the reference at index
func (e *BlockEnsemble) BlockRef(index int) (BlockRef, error) {
	if index < 0 || index >= len(e.blockRefs) {
		return BlockRef{}, fmt.Errorf("%w: block ref %v of ensemble %q (len %v)",
			ErrIndexOutOfRange, index, e.name, len(e.blockRefs))
	}
	return e.blockRefs[index], nil
}

//invalidate drops the cached sampling and measurement information. Called by every
//structural mutation.
func (e *BlockEnsemble) invalidate() {
	e.samplingInfo = nil
	e.measInfo = nil
}

func checkBlockRef(ref BlockRef) error {
	if ref.Repetitions < 0 {
		return fmt.Errorf("%w: block %q has repetitions %v",
			ErrBadRepetitions, ref.BlockName, ref.Repetitions)
	}
	return nil
}

//Insert places ref at the given position, shifting subsequent refs to higher indices
func (e *BlockEnsemble) Insert(position int, ref BlockRef) error {
	if position < 0 || position > len(e.blockRefs) {
		return fmt.Errorf("%w: insert at %v into ensemble %q (len %v)",
			ErrIndexOutOfRange, position, e.name, len(e.blockRefs))
	}
	if err := checkBlockRef(ref); err != nil {
		return err
	}
	e.blockRefs = append(e.blockRefs, BlockRef{})
	copy(e.blockRefs[position+1:], e.blockRefs[position:])
	e.blockRefs[position] = ref
	e.invalidate()
	return nil
}

//Append places ref at the end of the block list
func (e *BlockEnsemble) Append(ref BlockRef) error {
	return e.Insert(len(e.blockRefs), ref)
}

//Extend appends all given refs
func (e *BlockEnsemble) Extend(refs ...BlockRef) error {
	for _, ref := range refs {
		if err := e.Append(ref); err != nil {
			return err
		}
	}
	return nil
}

//Set replaces the reference at index
func (e *BlockEnsemble) Set(index int, ref BlockRef) error {
	if index < 0 || index >= len(e.blockRefs) {
		return fmt.Errorf("%w: set block ref %v of ensemble %q (len %v)",
			ErrIndexOutOfRange, index, e.name, len(e.blockRefs))
	}
	if err := checkBlockRef(ref); err != nil {
		return err
	}
	e.blockRefs[index] = ref
	e.invalidate()
	return nil
}

//Delete removes the reference at index
func (e *BlockEnsemble) Delete(index int) error {
	if index < 0 || index >= len(e.blockRefs) {
		return fmt.Errorf("%w: delete block ref %v of ensemble %q (len %v)",
			ErrIndexOutOfRange, index, e.name, len(e.blockRefs))
	}
	e.blockRefs = append(e.blockRefs[:index], e.blockRefs[index+1:]...)
	e.invalidate()
	return nil
}

//Pop removes and returns the last reference
func (e *BlockEnsemble) Pop() (BlockRef, error) {
	if len(e.blockRefs) == 0 {
		return BlockRef{}, fmt.Errorf("%w: ensemble %q", ErrEmptyList, e.name)
	}
	ref := e.blockRefs[len(e.blockRefs)-1]
	if err := e.Delete(len(e.blockRefs) - 1); err != nil {
		return BlockRef{}, err
	}
	return ref, nil
}

//Clear removes all references
func (e *BlockEnsemble) Clear() {
	e.blockRefs = nil
	e.invalidate()
}

//Reverse reverses the reference order in place
func (e *BlockEnsemble) Reverse() {
	for i, j := 0, len(e.blockRefs)-1; i < j; i, j = i+1, j-1 {
		e.blockRefs[i], e.blockRefs[j] = e.blockRefs[j], e.blockRefs[i]
	}
	e.invalidate()
}

//SamplingInformation returns the cached sampling information or nil if the ensemble
//has not been sampled (or was edited since)
func (e *BlockEnsemble) SamplingInformation() *SamplingInformation { return e.samplingInfo }

//SetSamplingInformation attaches sampling information after a successful sampling run
func (e *BlockEnsemble) SetSamplingInformation(info *SamplingInformation) {
	e.samplingInfo = info
}

//ClearSamplingInformation drops the cached sampling information, e.g. after the
//corresponding waveforms were deleted from the device
func (e *BlockEnsemble) ClearSamplingInformation() { e.samplingInfo = nil }

//MeasurementInformation returns the attached measurement metadata or nil
func (e *BlockEnsemble) MeasurementInformation() *MeasurementInformation { return e.measInfo }

//SetMeasurementInformation attaches measurement metadata. Called by generation code
//before the ensemble is saved.
func (e *BlockEnsemble) SetMeasurementInformation(info *MeasurementInformation) {
	e.measInfo = info
}

//Equal reports whether both ensembles describe the same construction plan. Sampling
//information is deliberately excluded: it is derived state, not identity.
func (e *BlockEnsemble) Equal(other *BlockEnsemble) bool {
	if e == other {
		return true
	}
	if other == nil || e.name != other.name || e.rotatingFrame != other.rotatingFrame {
		return false
	}
	if len(e.blockRefs) != len(other.blockRefs) {
		return false
	}
	for i := range e.blockRefs {
		if e.blockRefs[i] != other.blockRefs[i] {
			return false
		}
	}
	if (e.measInfo == nil) != (other.measInfo == nil) {
		return false
	}
	if e.measInfo != nil && !e.measInfo.Equal(other.measInfo) {
		return false
	}
	return true
}

//ensembleDTO is the dict representation of a BlockEnsemble
type ensembleDTO struct {
	Name          string                  `json:"name"`
	RotatingFrame bool                    `json:"rotating_frame"`
	BlockRefs     []BlockRef              `json:"block_list"`
	SamplingInfo  *SamplingInformation    `json:"sampling_information,omitempty"`
	MeasInfo      *MeasurementInformation `json:"measurement_information,omitempty"`
}

//MarshalJSON implements the dict representation round trip
func (e *BlockEnsemble) MarshalJSON() ([]byte, error) {
	return json.Marshal(ensembleDTO{
		Name:          e.name,
		RotatingFrame: e.rotatingFrame,
		BlockRefs:     e.blockRefs,
		SamplingInfo:  e.samplingInfo,
		MeasInfo:      e.measInfo,
	})
}

//UnmarshalJSON implements the dict representation round trip
func (e *BlockEnsemble) UnmarshalJSON(data []byte) error {
	var dto ensembleDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	restored, err := NewBlockEnsemble(dto.Name, dto.RotatingFrame, dto.BlockRefs...)
	if err != nil {
		return err
	}
	//restore caches after the appends above cleared them
	restored.samplingInfo = dto.SamplingInfo
	restored.measInfo = dto.MeasInfo
	*e = *restored
	return nil
}
