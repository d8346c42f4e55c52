//Package store provides the name-keyed repository for pulse blocks, block ensembles
//and sequences. Objects are held in memory and, if a directory is configured, mirrored
//to one JSON file per object so that a session can be restored.
//
//The store is deliberately dumb: it never touches hardware. Cascading cleanup (e.g.
//removing on-device waveforms when an ensemble is deleted) is coordinated by the
//generator logic owning both the store and the device.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pulsegen/pulse"
)

//ErrNotFound indicates a lookup for a name the store does not contain. Callers can
//test with errors.Is and extract the missing name from the wrapped message.
var ErrNotFound = errors.New("store: object not found")

const (
	blockSuffix    = "_block.json"
	ensembleSuffix = "_ensemble.json"
	sequenceSuffix = "_sequence.json"
)

//Store keeps blocks, ensembles and sequences keyed by name
type Store struct {
	//dir is the persistence directory, empty for a memory-only store
	dir       string
	blocks    map[string]*pulse.Block
	ensembles map[string]*pulse.BlockEnsemble
	sequences map[string]*pulse.Sequence
}

//NewStore creates a store. If dir is non-empty it is created if needed and all
//previously persisted objects are loaded from it.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:       dir,
		blocks:    make(map[string]*pulse.Block),
		ensembles: make(map[string]*pulse.BlockEnsemble),
		sequences: make(map[string]*pulse.Sequence),
	}
	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory : %v", err)
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

//loadAll restores all persisted objects from the store directory
func (s *Store) loadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read store directory : %v", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return fmt.Errorf("failed to read %v : %v", name, err)
		}
		switch {
		case strings.HasSuffix(name, blockSuffix):
			block := &pulse.Block{}
			if err := json.Unmarshal(raw, block); err != nil {
				return fmt.Errorf("failed to parse block file %v : %v", name, err)
			}
			s.blocks[block.Name()] = block
		case strings.HasSuffix(name, ensembleSuffix):
			ensemble := &pulse.BlockEnsemble{}
			if err := json.Unmarshal(raw, ensemble); err != nil {
				return fmt.Errorf("failed to parse ensemble file %v : %v", name, err)
			}
			s.ensembles[ensemble.Name()] = ensemble
		case strings.HasSuffix(name, sequenceSuffix):
			sequence := &pulse.Sequence{}
			if err := json.Unmarshal(raw, sequence); err != nil {
				return fmt.Errorf("failed to parse sequence file %v : %v", name, err)
			}
			s.sequences[sequence.Name()] = sequence
		}
	}
	return nil
}

//persist writes one object file, or does nothing for a memory-only store
func (s *Store) persist(name, suffix string, obj interface{}) error {
	if s.dir == "" {
		return nil
	}
	raw, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %q : %v", name, err)
	}
	path := filepath.Join(s.dir, name+suffix)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write %v : %v", path, err)
	}
	return nil
}

//unpersist removes one object file, ignoring files that never existed
func (s *Store) unpersist(name, suffix string) error {
	if s.dir == "" {
		return nil
	}
	path := filepath.Join(s.dir, name+suffix)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %v : %v", path, err)
	}
	return nil
}

//SaveBlock stores the block under its name, overwriting any previous version
func (s *Store) SaveBlock(block *pulse.Block) error {
	s.blocks[block.Name()] = block
	return s.persist(block.Name(), blockSuffix, block)
}

//Block returns the block stored under name
func (s *Store) Block(name string) (*pulse.Block, error) {
	block, ok := s.blocks[name]
	if !ok {
		return nil, fmt.Errorf("%w: block %q", ErrNotFound, name)
	}
	return block, nil
}

//DeleteBlock removes the block stored under name. Removing an absent name is a no-op.
func (s *Store) DeleteBlock(name string) error {
	delete(s.blocks, name)
	return s.unpersist(name, blockSuffix)
}

//BlockNames returns all stored block names in lexicographic order
func (s *Store) BlockNames() []string {
	names := make([]string, 0, len(s.blocks))
	for name := range s.blocks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

//SaveEnsemble stores the ensemble under its name, overwriting any previous version
func (s *Store) SaveEnsemble(ensemble *pulse.BlockEnsemble) error {
	s.ensembles[ensemble.Name()] = ensemble
	return s.persist(ensemble.Name(), ensembleSuffix, ensemble)
}

//Ensemble returns the ensemble stored under name
func (s *Store) Ensemble(name string) (*pulse.BlockEnsemble, error) {
	ensemble, ok := s.ensembles[name]
	if !ok {
		return nil, fmt.Errorf("%w: ensemble %q", ErrNotFound, name)
	}
	return ensemble, nil
}

//DeleteEnsemble removes the ensemble stored under name
func (s *Store) DeleteEnsemble(name string) error {
	delete(s.ensembles, name)
	return s.unpersist(name, ensembleSuffix)
}

//EnsembleNames returns all stored ensemble names in lexicographic order
func (s *Store) EnsembleNames() []string {
	names := make([]string, 0, len(s.ensembles))
	for name := range s.ensembles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

//SaveSequence stores the sequence under its name, overwriting any previous version
func (s *Store) SaveSequence(sequence *pulse.Sequence) error {
	s.sequences[sequence.Name()] = sequence
	return s.persist(sequence.Name(), sequenceSuffix, sequence)
}

//Sequence returns the sequence stored under name
func (s *Store) Sequence(name string) (*pulse.Sequence, error) {
	sequence, ok := s.sequences[name]
	if !ok {
		return nil, fmt.Errorf("%w: sequence %q", ErrNotFound, name)
	}
	return sequence, nil
}

//DeleteSequence removes the sequence stored under name
func (s *Store) DeleteSequence(name string) error {
	delete(s.sequences, name)
	return s.unpersist(name, sequenceSuffix)
}

//SequenceNames returns all stored sequence names in lexicographic order
func (s *Store) SequenceNames() []string {
	names := make([]string, 0, len(s.sequences))
	for name := range s.sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
