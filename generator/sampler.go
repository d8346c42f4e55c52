package generator

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"pulsegen/pulse"
	"pulsegen/pulser"
	"pulsegen/sampling"
	"pulsegen/telemetry"
)

//SampleBlockEnsemble discretizes the named ensemble and streams the resulting sample
//arrays to the device in memory-bounded chunks under the given name tag (the ensemble
//name if empty). offsetBin shifts the time axis of analog function evaluation; it is 0
//for standalone waveforms and carries the rotating-frame phase when sampling sequence
//steps. Returns the offset for a consecutive waveform, the device waveform names
//produced and the analyzer output.
func (l *Logic) SampleBlockEnsemble(name string, offsetBin int64, nameTag string) (int64, []string, *pulse.EnsembleInfo, error) {
	if err := l.lock(); err != nil {
		return offsetBin, nil, nil, err
	}
	defer l.unlock()

	ensemble, err := l.repo.Ensemble(name)
	if err != nil {
		telemetry.SamplingFailures.Inc()
		return offsetBin, nil, nil, fmt.Errorf("%w: ensemble %q", ErrMissingReference, name)
	}
	start := time.Now()
	offsetOut, waveforms, info, err := l.sampleEnsemble(ensemble, offsetBin, nameTag)
	if err != nil {
		telemetry.SamplingFailures.Inc()
		return offsetBin, nil, nil, err
	}
	telemetry.SamplingDuration.Observe(time.Since(start).Seconds())
	return offsetOut, waveforms, info, nil
}

//sampleEnsemble is the core sampling loop. The caller must hold the busy lock.
func (l *Logic) sampleEnsemble(ensemble *pulse.BlockEnsemble, offsetBin int64, nameTag string) (int64, []string, *pulse.EnsembleInfo, error) {
	if nameTag == "" {
		nameTag = ensemble.Name()
	}
	if err := l.sanityCheckEnsemble(ensemble); err != nil {
		return offsetBin, nil, nil, err
	}
	if err := l.checkAmplitudes(); err != nil {
		return offsetBin, nil, nil, err
	}

	//stale device waveforms under the same tag would otherwise shadow the new ones
	if err := l.deleteWaveformsByNametag(nameTag); err != nil {
		return offsetBin, nil, nil, err
	}

	info, err := l.AnalyzeBlockEnsemble(ensemble)
	if err != nil {
		return offsetBin, nil, nil, err
	}
	info, ensemble, err = l.padToGranularity(ensemble, info)
	if err != nil {
		return offsetBin, nil, nil, err
	}
	if info.NumberOfSamples == 0 {
		log.Printf("WARN: ensemble %v discretizes to an empty waveform, nothing written", ensemble.Name())
		return offsetBin, nil, info, nil
	}

	analogChnls := info.AnalogChannels.Sorted()
	digitalChnls := info.DigitalChannels.Sorted()
	arrayLength, err := l.chunkLength(info.NumberOfSamples, len(analogChnls), len(digitalChnls))
	if err != nil {
		return offsetBin, nil, nil, err
	}

	analogBuf := make(map[string][]float32, len(analogChnls))
	for _, chnl := range analogChnls {
		analogBuf[chnl] = make([]float32, arrayLength)
	}
	digitalBuf := make(map[string][]bool, len(digitalChnls))
	for _, chnl := range digitalChnls {
		digitalBuf[chnl] = make([]bool, arrayLength)
	}
	timeBuf := make([]float64, arrayLength)

	var (
		writeIdx         int64 //fill position inside the current chunk
		processedSamples int64 //samples handed to the device so far
		chunkWritten     bool
		elementIdx       int
		written          = make(map[string]struct{})
	)
	rotatingFrame := ensemble.RotatingFrame()
	sampleRate := l.settings.SampleRate

	flush := func(isLast bool) error {
		chunk := map[string][]float32{}
		for chnl, buf := range analogBuf {
			chunk[chnl] = buf[:writeIdx]
		}
		digitalChunk := map[string][]bool{}
		for chnl, buf := range digitalBuf {
			digitalChunk[chnl] = buf[:writeIdx]
		}
		n, names, err := l.device.WriteWaveform(nameTag, chunk, digitalChunk,
			!chunkWritten, isLast, info.NumberOfSamples)
		if err != nil {
			return fmt.Errorf("writing waveform %q: %v", nameTag, err)
		}
		if n != writeIdx {
			return fmt.Errorf("%w: waveform %q chunk accepted %v of %v samples",
				ErrShortWrite, nameTag, n, writeIdx)
		}
		for _, wfm := range names {
			written[wfm] = struct{}{}
		}
		telemetry.SamplesWritten.WithLabelValues("analog").Add(float64(n * int64(len(analogChnls))))
		telemetry.SamplesWritten.WithLabelValues("digital").Add(float64(n * int64(len(digitalChnls))))
		chunkWritten = true
		processedSamples += n
		writeIdx = 0
		return nil
	}

	for _, ref := range ensemble.BlockRefs() {
		block, err := l.repo.Block(ref.BlockName)
		if err != nil {
			return offsetBin, nil, nil, fmt.Errorf("%w: block %q", ErrMissingReference, ref.BlockName)
		}
		for rep := 0; rep <= ref.Repetitions; rep++ {
			for _, elem := range block.Elements() {
				elemBins := info.ElementLengthBins[elementIdx]
				elementIdx++
				var elemWritten int64
				for elemWritten < elemBins {
					samplesToAdd := arrayLength - writeIdx
					if remaining := elemBins - elemWritten; remaining < samplesToAdd {
						samplesToAdd = remaining
					}
					times := timeBuf[:samplesToAdd]
					for i := range times {
						times[i] = float64(offsetBin+int64(i)) / sampleRate
					}
					group := errgroup.Group{}
					for _, chnl := range analogChnls {
						chnl := chnl
						fn := elem.PulseFunction[chnl]
						out := analogBuf[chnl][writeIdx : writeIdx+samplesToAdd]
						norm := l.settings.AnalogAmplitudes[chnl] / 2
						group.Go(func() error {
							for i, v := range fn.Samples(times) {
								out[i] = float32(v / norm)
							}
							return nil
						})
					}
					if err := group.Wait(); err != nil {
						return offsetBin, nil, nil, err
					}
					for _, chnl := range digitalChnls {
						high := elem.DigitalHigh[chnl]
						buf := digitalBuf[chnl]
						for i := writeIdx; i < writeIdx+samplesToAdd; i++ {
							buf[i] = high
						}
					}
					writeIdx += samplesToAdd
					elemWritten += samplesToAdd
					if rotatingFrame {
						offsetBin += samplesToAdd
					}
					if writeIdx == arrayLength {
						isLast := processedSamples+writeIdx == info.NumberOfSamples
						if err := flush(isLast); err != nil {
							return offsetBin, nil, nil, err
						}
						//the final chunk may be shorter than the working buffer
						if remaining := info.NumberOfSamples - processedSamples; remaining < arrayLength {
							arrayLength = remaining
						}
					}
				}
			}
		}
	}
	if writeIdx > 0 {
		if err := flush(true); err != nil {
			return offsetBin, nil, nil, err
		}
	}
	if processedSamples != info.NumberOfSamples {
		return offsetBin, nil, nil, fmt.Errorf("%w: waveform %q wrote %v of %v samples",
			ErrShortWrite, nameTag, processedSamples, info.NumberOfSamples)
	}

	waveforms := make([]string, 0, len(written))
	for wfm := range written {
		waveforms = append(waveforms, wfm)
	}
	sort.Strings(waveforms)

	//sampling information is only attached when the waveform carries the ensemble's own
	//name; sequence step tags describe a different time offset and must not be cached
	if nameTag == ensemble.Name() {
		ensemble.SetSamplingInformation(&pulse.SamplingInformation{
			Info:      *info,
			Waveforms: waveforms,
			Settings:  l.settingsSnapshot(),
		})
		if err := l.repo.SaveEnsemble(ensemble); err != nil {
			return offsetBin, nil, nil, fmt.Errorf("persisting sampled ensemble %q: %v", ensemble.Name(), err)
		}
	}
	telemetry.WaveformsSampled.Inc()
	log.Printf("sampled ensemble %v as %v: %v samples in %v waveforms",
		ensemble.Name(), nameTag, info.NumberOfSamples, len(waveforms))
	return offsetBin, waveforms, info, nil
}

//checkAmplitudes verifies every active analog channel has a usable peak-to-peak setting
func (l *Logic) checkAmplitudes() error {
	for chnl := range l.settings.ActivationConfig {
		if !pulse.IsAnalogChannel(chnl) {
			continue
		}
		if l.settings.AnalogAmplitudes[chnl] <= 0 {
			return fmt.Errorf("generator: analog channel %q has no peak-to-peak amplitude configured", chnl)
		}
	}
	return nil
}

//chunkLength computes the working buffer length in samples from the byte budget
func (l *Logic) chunkLength(totalSamples int64, analogCount, digitalCount int) (int64, error) {
	bytesPerSample := int64(4*analogCount + digitalCount)
	if bytesPerSample == 0 {
		return 0, fmt.Errorf("generator: no active channels to sample")
	}
	arrayLength := totalSamples
	budget := int64(l.settings.overheadBytes())
	if totalSamples*bytesPerSample > budget {
		arrayLength = budget / bytesPerSample
	}
	if arrayLength < 1 {
		return 0, fmt.Errorf("%w: budget %v B cannot hold a single %v B sample",
			ErrBufferBudget, budget, bytesPerSample)
	}
	return arrayLength, nil
}

//settingsSnapshot captures the current settings including the device granularity
func (l *Logic) settingsSnapshot() pulse.SettingsSnapshot {
	return l.settings.Snapshot(int64(l.device.Constraints().WaveformLength.Step))
}

//padToGranularity appends an idle block so the total sample count becomes a multiple of
//the device's waveform granularity. The padding is persisted as part of the ensemble so
//that re-analysis and re-sampling stay consistent; measurement information survives the
//structural edit since the timing of the actual measurement is unchanged.
func (l *Logic) padToGranularity(ensemble *pulse.BlockEnsemble, info *pulse.EnsembleInfo) (*pulse.EnsembleInfo, *pulse.BlockEnsemble, error) {
	granularity := int64(l.device.Constraints().WaveformLength.Step)
	if granularity <= 1 || info.NumberOfSamples == 0 || info.NumberOfSamples%granularity == 0 {
		return info, ensemble, nil
	}
	padBins := granularity - info.NumberOfSamples%granularity
	log.Printf("WARN: ensemble %v length %v violates the device granularity of %v, padding with %v idle bins",
		ensemble.Name(), info.NumberOfSamples, granularity, padBins)

	pulseFunction := make(map[string]sampling.Function, len(info.AnalogChannels))
	for chnl := range info.AnalogChannels {
		pulseFunction[chnl] = sampling.Idle{}
	}
	digitalHigh := make(map[string]bool, len(info.DigitalChannels))
	for chnl := range info.DigitalChannels {
		digitalHigh[chnl] = false
	}
	padElement := pulse.NewBlockElement(float64(padBins)/l.settings.SampleRate, 0, false,
		pulseFunction, digitalHigh)
	padBlock, err := pulse.NewBlock(ensemble.Name()+"_pad", padElement)
	if err != nil {
		return nil, nil, err
	}
	if err := l.repo.SaveBlock(padBlock); err != nil {
		return nil, nil, err
	}
	measInfo := ensemble.MeasurementInformation()
	if err := ensemble.Append(pulse.BlockRef{BlockName: padBlock.Name()}); err != nil {
		return nil, nil, err
	}
	ensemble.SetMeasurementInformation(measInfo)
	if err := l.repo.SaveEnsemble(ensemble); err != nil {
		return nil, nil, err
	}
	padded, err := l.AnalyzeBlockEnsemble(ensemble)
	if err != nil {
		return nil, nil, err
	}
	return padded, ensemble, nil
}

//stepWaveforms is the per step sampling outcome cached during a sequence run
type stepWaveforms struct {
	waveforms []string
	info      *pulse.EnsembleInfo
}

//SampleSequence samples every step ensemble of the named sequence and writes the
//sequence table to the device. With rotating frame enabled each step is written under
//its own indexed name tag and the phase offset is threaded from step to step; without
//it, ensembles already on the device with matching settings are reused.
func (l *Logic) SampleSequence(name string) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.unlock()
	start := time.Now()

	err := l.sampleSequence(name)
	if err != nil {
		telemetry.SamplingFailures.Inc()
		return err
	}
	telemetry.SamplingDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (l *Logic) sampleSequence(name string) error {
	sequence, err := l.repo.Sequence(name)
	if err != nil {
		return fmt.Errorf("%w: sequence %q", ErrMissingReference, name)
	}
	if err := l.sanityCheckSequence(sequence); err != nil {
		return err
	}
	constraints := l.device.Constraints()
	if constraints.SequenceOption == pulser.SequenceOptionNone {
		return fmt.Errorf("generator: device cannot play sequences (sequence option %v)",
			constraints.SequenceOption)
	}
	if max := int(constraints.SequenceSteps.Max); max > 0 && sequence.Len() > max {
		return fmt.Errorf("generator: sequence %q has %v steps, device supports at most %v",
			name, sequence.Len(), max)
	}

	//a previous incarnation of the sequence must not survive a partial failure
	sequence.ClearSamplingInformation()
	if err := l.repo.SaveSequence(sequence); err != nil {
		return err
	}
	if err := l.device.DeleteSequence(name); err != nil {
		return err
	}

	var (
		offsetBin     int64
		writeSteps    = make([]pulser.SequenceWriteStep, 0, sequence.Len())
		generated     = make(map[string]stepWaveforms, sequence.Len())
		ensembleInfos = make(map[string]pulse.EnsembleInfo, sequence.Len())
		allWaveforms  = make(map[string]struct{})
		allStepWfms   = make([][]string, 0, sequence.Len())
	)
	for i, step := range sequence.Steps() {
		ensemble, err := l.repo.Ensemble(step.Ensemble)
		if err != nil {
			return fmt.Errorf("%w: ensemble %q of sequence %q", ErrMissingReference, step.Ensemble, name)
		}

		nameTag := step.Ensemble
		if sequence.RotatingFrame() {
			nameTag = fmt.Sprintf("%s_%03d", name, i)
		}

		result, done := generated[nameTag]
		if !done && !sequence.RotatingFrame() {
			if cached, ok := l.reusableSampling(ensemble); ok {
				result, done = cached, true
				log.Printf("reusing waveforms of ensemble %v for step %v of sequence %v",
					step.Ensemble, i, name)
			}
		}
		if !done {
			stepOffset := offsetBin
			if !sequence.RotatingFrame() {
				stepOffset = 0
			}
			offsetOut, waveforms, info, err := l.sampleEnsemble(ensemble, stepOffset, nameTag)
			if err != nil {
				return fmt.Errorf("sampling step %v of sequence %q: %w", i, name, err)
			}
			if sequence.RotatingFrame() {
				offsetBin = offsetOut
			}
			result = stepWaveforms{waveforms: waveforms, info: info}
			generated[nameTag] = result
		}

		ensembleInfos[nameTag] = *result.info
		for _, wfm := range result.waveforms {
			allWaveforms[wfm] = struct{}{}
		}
		allStepWfms = append(allStepWfms, result.waveforms)
		writeSteps = append(writeSteps, pulser.SequenceWriteStep{
			Waveforms: result.waveforms,
			Params:    step,
		})
	}

	stepsWritten, err := l.device.WriteSequence(name, writeSteps)
	if err != nil {
		return fmt.Errorf("writing sequence %q: %v", name, err)
	}
	if stepsWritten != len(writeSteps) {
		return fmt.Errorf("%w: sequence %q accepted %v of %v steps",
			ErrShortWrite, name, stepsWritten, len(writeSteps))
	}

	seqInfo, err := l.AnalyzeSequence(sequence)
	if err != nil {
		return err
	}
	waveforms := make([]string, 0, len(allWaveforms))
	for wfm := range allWaveforms {
		waveforms = append(waveforms, wfm)
	}
	sort.Strings(waveforms)
	sequence.SetSamplingInformation(&pulse.SequenceSamplingInformation{
		Info:          *seqInfo,
		EnsembleInfos: ensembleInfos,
		Waveforms:     waveforms,
		StepWaveforms: allStepWfms,
		Settings:      l.settingsSnapshot(),
	})
	if err := l.repo.SaveSequence(sequence); err != nil {
		return fmt.Errorf("persisting sampled sequence %q: %v", name, err)
	}
	telemetry.SequencesWritten.Inc()
	log.Printf("sampled sequence %v: %v steps, %v waveforms", name, len(writeSteps), len(waveforms))
	return nil
}

//reusableSampling reports whether the ensemble's cached sampling is still valid: the
//generator settings are unchanged and every produced waveform is still on the device
func (l *Logic) reusableSampling(ensemble *pulse.BlockEnsemble) (stepWaveforms, bool) {
	cached := ensemble.SamplingInformation()
	if cached == nil || !cached.Settings.Equal(l.settingsSnapshot()) {
		return stepWaveforms{}, false
	}
	onDevice := make(map[string]struct{})
	for _, wfm := range l.device.WaveformNames() {
		onDevice[wfm] = struct{}{}
	}
	for _, wfm := range cached.Waveforms {
		if _, ok := onDevice[wfm]; !ok {
			return stepWaveforms{}, false
		}
	}
	info := cached.Info
	return stepWaveforms{waveforms: cached.Waveforms, info: &info}, true
}

//deleteWaveformsByNametag removes all device waveforms belonging to the given name tag
//(device names are tag plus a channel suffix) and invalidates the matching ensemble's
//cached sampling information
func (l *Logic) deleteWaveformsByNametag(nameTag string) error {
	var errs error
	deleted := 0
	for _, wfm := range l.device.WaveformNames() {
		cut := strings.LastIndex(wfm, "_")
		if cut < 0 || wfm[:cut] != nameTag {
			continue
		}
		errs = multierr.Append(errs, l.device.DeleteWaveform(wfm))
		deleted++
	}
	if deleted == 0 {
		return errs
	}
	ensemble, err := l.repo.Ensemble(nameTag)
	if err != nil {
		//the tag does not name a stored ensemble, nothing to invalidate
		return errs
	}
	if ensemble.SamplingInformation() != nil {
		ensemble.ClearSamplingInformation()
		errs = multierr.Append(errs, l.repo.SaveEnsemble(ensemble))
	}
	return errs
}

//DeleteEnsemble removes the named ensemble from the repository together with all device
//waveforms sampled from it
func (l *Logic) DeleteEnsemble(name string) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.unlock()
	return multierr.Combine(
		l.deleteWaveformsByNametag(name),
		l.repo.DeleteEnsemble(name),
	)
}

//DeleteSequence removes the named sequence from the repository and the device. Step
//waveforms written under indexed name tags are removed as well; plain ensemble
//waveforms are kept since other sequences may reference them.
func (l *Logic) DeleteSequence(name string) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.unlock()
	var errs error
	if sequence, err := l.repo.Sequence(name); err == nil && sequence.RotatingFrame() {
		if cached := sequence.SamplingInformation(); cached != nil {
			for tag := range cached.EnsembleInfos {
				errs = multierr.Append(errs, l.deleteWaveformsByNametag(tag))
			}
		}
	}
	return multierr.Combine(
		errs,
		l.device.DeleteSequence(name),
		l.repo.DeleteSequence(name),
	)
}
