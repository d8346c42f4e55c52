package mocks

import (
	"fmt"

	"pulsegen/pulse"
)

//MemRepository is an in-memory pulse object repository for engine tests. Save errors
//can be scripted to exercise persistence failure paths.
type MemRepository struct {
	Blocks    map[string]*pulse.Block
	Ensembles map[string]*pulse.BlockEnsemble
	Sequences map[string]*pulse.Sequence
	//if set, all Save calls fail with this error
	SaveErr error
}

//NewMemRepository creates an empty repository
func NewMemRepository() *MemRepository {
	return &MemRepository{
		Blocks:    map[string]*pulse.Block{},
		Ensembles: map[string]*pulse.BlockEnsemble{},
		Sequences: map[string]*pulse.Sequence{},
	}
}

func (r *MemRepository) SaveBlock(block *pulse.Block) error {
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.Blocks[block.Name()] = block
	return nil
}

func (r *MemRepository) Block(name string) (*pulse.Block, error) {
	block, ok := r.Blocks[name]
	if !ok {
		return nil, fmt.Errorf("no block %q", name)
	}
	return block, nil
}

func (r *MemRepository) SaveEnsemble(ensemble *pulse.BlockEnsemble) error {
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.Ensembles[ensemble.Name()] = ensemble
	return nil
}

func (r *MemRepository) Ensemble(name string) (*pulse.BlockEnsemble, error) {
	ensemble, ok := r.Ensembles[name]
	if !ok {
		return nil, fmt.Errorf("no ensemble %q", name)
	}
	return ensemble, nil
}

func (r *MemRepository) DeleteEnsemble(name string) error {
	delete(r.Ensembles, name)
	return nil
}

func (r *MemRepository) SaveSequence(sequence *pulse.Sequence) error {
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.Sequences[sequence.Name()] = sequence
	return nil
}

func (r *MemRepository) Sequence(name string) (*pulse.Sequence, error) {
	sequence, ok := r.Sequences[name]
	if !ok {
		return nil, fmt.Errorf("no sequence %q", name)
	}
	return sequence, nil
}

func (r *MemRepository) DeleteSequence(name string) error {
	delete(r.Sequences, name)
	return nil
}

//MustBlock builds a block from the given elements, panicking on construction errors.
//Intended for test fixtures only.
func MustBlock(name string, elements ...pulse.BlockElement) *pulse.Block {
	block, err := pulse.NewBlock(name, elements...)
	if err != nil {
		panic(err)
	}
	return block
}

//MustEnsemble builds an ensemble from the given block refs, panicking on construction
//errors. Intended for test fixtures only.
func MustEnsemble(name string, rotatingFrame bool, refs ...pulse.BlockRef) *pulse.BlockEnsemble {
	ensemble, err := pulse.NewBlockEnsemble(name, rotatingFrame, refs...)
	if err != nil {
		panic(err)
	}
	return ensemble
}

//MustSequence builds a sequence from the given steps, panicking on construction errors.
//Intended for test fixtures only.
func MustSequence(name string, rotatingFrame bool, steps ...pulse.SequenceStep) *pulse.Sequence {
	sequence, err := pulse.NewSequence(name, rotatingFrame, steps...)
	if err != nil {
		panic(err)
	}
	return sequence
}
