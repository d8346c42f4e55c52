package generator

import (
	"fmt"

	"pulsegen/pulse"
)

//Canned measurement constructions. Each builds the blocks and the ensemble from the
//current generation parameters, attaches measurement metadata and persists everything
//to the repository, returning the saved ensemble.

//GenerateLaserOn creates an ensemble holding the laser channel on for the given length.
//Used to verify the optical path before running measurements.
func (l *Logic) GenerateLaserOn(name string, length float64) (*pulse.BlockEnsemble, error) {
	laser, err := l.LaserElement(length, 0)
	if err != nil {
		return nil, err
	}
	block, err := pulse.NewBlock(name+"_block", laser)
	if err != nil {
		return nil, err
	}
	if err := l.repo.SaveBlock(block); err != nil {
		return nil, err
	}
	ensemble, err := pulse.NewBlockEnsemble(name, false, pulse.BlockRef{BlockName: block.Name()})
	if err != nil {
		return nil, err
	}
	if err := l.repo.SaveEnsemble(ensemble); err != nil {
		return nil, err
	}
	return ensemble, nil
}

//GenerateRabi creates a Rabi measurement: a microwave pulse whose duration grows by
//tauStep on every repetition, each followed by the readout tail. The sweep is realized
//through the element increment, so the whole measurement is a single block repeated
//numPoints times.
func (l *Logic) GenerateRabi(name string, tauStart, tauStep float64, numPoints int) (*pulse.BlockEnsemble, error) {
	if numPoints < 1 {
		return nil, fmt.Errorf("generator: rabi needs at least one point, got %v", numPoints)
	}
	mw, err := l.MWElement(tauStart, tauStep,
		l.genParams.MicrowaveAmplitude, l.genParams.MicrowaveFrequency, 0)
	if err != nil {
		return nil, err
	}
	readout, err := l.ReadoutElements()
	if err != nil {
		return nil, err
	}
	block, err := pulse.NewBlock(name+"_block", append([]pulse.BlockElement{mw}, readout...)...)
	if err != nil {
		return nil, err
	}
	if err := l.repo.SaveBlock(block); err != nil {
		return nil, err
	}

	ensemble, err := pulse.NewBlockEnsemble(name, false,
		pulse.BlockRef{BlockName: block.Name(), Repetitions: numPoints - 1})
	if err != nil {
		return nil, err
	}
	if l.genParams.SyncChannel != "" {
		sync, err := l.SyncElement(l.AdjustToSampleRate(50e-9, 1))
		if err != nil {
			return nil, err
		}
		syncBlock, err := pulse.NewBlock(name+"_sync", sync)
		if err != nil {
			return nil, err
		}
		if err := l.repo.SaveBlock(syncBlock); err != nil {
			return nil, err
		}
		if err := ensemble.Append(pulse.BlockRef{BlockName: syncBlock.Name()}); err != nil {
			return nil, err
		}
	}

	taus := make([]float64, numPoints)
	for i := range taus {
		taus[i] = tauStart + float64(i)*tauStep
	}
	measInfo, err := l.NewMeasurementInformation(false, taus, ensemble)
	if err != nil {
		return nil, err
	}
	ensemble.SetMeasurementInformation(measInfo)
	if err := l.repo.SaveEnsemble(ensemble); err != nil {
		return nil, err
	}
	return ensemble, nil
}
