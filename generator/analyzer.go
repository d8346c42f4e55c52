package generator

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"pulsegen/pulse"
)

//timeline accumulates the discretization state while walking blocks. End bins are
//always derived from the cumulative ideal time via rounding, never by summing per
//element bin counts, so rounding errors cannot drift.
type timeline struct {
	sampleRate float64
	//tEnd is the cumulative ideal time in s
	tEnd float64
	//endBin is round(tEnd*sampleRate)
	endBin int64

	elementLengths []int64
	digitalRising  map[string][]int64
	digitalFalling map[string][]int64
	laserRising    []int64
	laserFalling   []int64

	//prevDigital/prevLaser hold the state after the previously processed element;
	//transitions are recorded against them
	prevDigital map[string]bool
	prevLaser   bool
	seeded      bool

	laserChannel   string
	laserIsDigital bool
}

func newTimeline(sampleRate float64, laserChannel string) *timeline {
	return &timeline{
		sampleRate:     sampleRate,
		digitalRising:  make(map[string][]int64),
		digitalFalling: make(map[string][]int64),
		laserChannel:   laserChannel,
		laserIsDigital: pulse.IsDigitalChannel(laserChannel),
	}
}

//elementLaserState extracts whether the laser is on during elem
func (tl *timeline) elementLaserState(elem pulse.BlockElement) bool {
	if tl.laserIsDigital {
		return elem.DigitalHigh[tl.laserChannel]
	}
	return elem.LaserOn
}

//seed initializes the previous channel state. Called with the final element of an
//ensemble that wraps around onto itself, so a waveform played in a loop produces the
//same edges on every pass.
func (tl *timeline) seed(elem pulse.BlockElement) {
	tl.prevDigital = make(map[string]bool, len(elem.DigitalHigh))
	for chnl, high := range elem.DigitalHigh {
		tl.prevDigital[chnl] = high
	}
	tl.prevLaser = tl.elementLaserState(elem)
	tl.seeded = true
}

//advance appends one element instance with the given ideal length. Transitions with
//respect to the previous state are recorded at the element's start bin.
func (tl *timeline) advance(elem pulse.BlockElement, length float64) {
	startBin := tl.endBin
	for chnl, high := range elem.DigitalHigh {
		if high && !tl.prevDigital[chnl] {
			tl.digitalRising[chnl] = append(tl.digitalRising[chnl], startBin)
		} else if !high && tl.prevDigital[chnl] {
			tl.digitalFalling[chnl] = append(tl.digitalFalling[chnl], startBin)
		}
		tl.prevDigital[chnl] = high
	}
	laserOn := tl.elementLaserState(elem)
	if laserOn && !tl.prevLaser {
		tl.laserRising = append(tl.laserRising, startBin)
	} else if !laserOn && tl.prevLaser {
		tl.laserFalling = append(tl.laserFalling, startBin)
	}
	tl.prevLaser = laserOn

	tl.tEnd += length
	tl.endBin = int64(math.RoundToEven(tl.tEnd * tl.sampleRate))
	tl.elementLengths = append(tl.elementLengths, tl.endBin-startBin)
}

//walkEnsemble plays back one pass of the ensemble onto the timeline, honoring block
//repetitions and per repetition increments. Increments restart on every pass.
func (l *Logic) walkEnsemble(tl *timeline, ensemble *pulse.BlockEnsemble) error {
	if !tl.seeded {
		if err := l.seedFromEnsembleEnd(tl, ensemble); err != nil {
			return err
		}
	}
	for _, ref := range ensemble.BlockRefs() {
		block, err := l.repo.Block(ref.BlockName)
		if err != nil {
			return fmt.Errorf("%w: block %q of ensemble %q", ErrMissingReference, ref.BlockName, ensemble.Name())
		}
		for rep := 0; rep <= ref.Repetitions; rep++ {
			for _, elem := range block.Elements() {
				tl.advance(elem, elem.InitLength+float64(rep)*elem.Increment)
			}
		}
	}
	return nil
}

//seedFromEnsembleEnd seeds the timeline with the channel state of the very last
//element of the ensemble, so a waveform played in a loop sees consistent edges at
//the wrap-around point
func (l *Logic) seedFromEnsembleEnd(tl *timeline, ensemble *pulse.BlockEnsemble) error {
	refs := ensemble.BlockRefs()
	if len(refs) == 0 {
		return fmt.Errorf("pulse: ensemble %q has no blocks: %w", ensemble.Name(), pulse.ErrEmptyList)
	}
	block, err := l.repo.Block(refs[len(refs)-1].BlockName)
	if err != nil {
		return fmt.Errorf("%w: block %q of ensemble %q", ErrMissingReference, refs[len(refs)-1].BlockName, ensemble.Name())
	}
	elems := block.Elements()
	if len(elems) == 0 {
		return fmt.Errorf("pulse: block %q is empty: %w", block.Name(), pulse.ErrEmptyList)
	}
	tl.seed(elems[len(elems)-1])
	return nil
}

//dedupeSorted removes consecutive duplicates from an already sorted bin list
func dedupeSorted(bins []int64) []int64 {
	if len(bins) < 2 {
		return bins
	}
	out := bins[:1]
	for _, b := range bins[1:] {
		if b != out[len(out)-1] {
			out = append(out, b)
		}
	}
	return out
}

func dedupeEdgeMap(edges map[string][]int64) {
	for chnl := range edges {
		sort.Slice(edges[chnl], func(i, j int) bool { return edges[chnl][i] < edges[chnl][j] })
		edges[chnl] = dedupeSorted(edges[chnl])
	}
}

//ensembleChannels collects the channel set of the ensemble from its first block
func (l *Logic) ensembleChannels(ensemble *pulse.BlockEnsemble) (analog, digital pulse.ChannelSet, err error) {
	refs := ensemble.BlockRefs()
	if len(refs) == 0 {
		return nil, nil, fmt.Errorf("pulse: ensemble %q has no blocks: %w", ensemble.Name(), pulse.ErrEmptyList)
	}
	block, err := l.repo.Block(refs[0].BlockName)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: block %q of ensemble %q", ErrMissingReference, refs[0].BlockName, ensemble.Name())
	}
	return block.AnalogChannels(), block.DigitalChannels(), nil
}

//AnalyzeBlockEnsemble discretizes the ensemble at the current sample rate and returns
//its structural digest: total bin count, per element instance lengths and the digital
//and laser transition bins. The ensemble itself is not modified.
func (l *Logic) AnalyzeBlockEnsemble(ensemble *pulse.BlockEnsemble) (*pulse.EnsembleInfo, error) {
	analog, digital, err := l.ensembleChannels(ensemble)
	if err != nil {
		return nil, err
	}
	tl := newTimeline(l.settings.SampleRate, l.genParams.LaserGateChannel())
	if err := l.walkEnsemble(tl, ensemble); err != nil {
		return nil, err
	}
	return l.finishEnsembleInfo(tl, analog, digital), nil
}

//AnalyzeEnsembleByName resolves the ensemble from the repository and analyzes it
func (l *Logic) AnalyzeEnsembleByName(name string) (*pulse.EnsembleInfo, error) {
	ensemble, err := l.repo.Ensemble(name)
	if err != nil {
		return nil, fmt.Errorf("%w: ensemble %q", ErrMissingReference, name)
	}
	return l.AnalyzeBlockEnsemble(ensemble)
}

func (l *Logic) finishEnsembleInfo(tl *timeline, analog, digital pulse.ChannelSet) *pulse.EnsembleInfo {
	dedupeEdgeMap(tl.digitalRising)
	dedupeEdgeMap(tl.digitalFalling)
	return &pulse.EnsembleInfo{
		NumberOfSamples:    tl.endBin,
		NumberOfElements:   len(tl.elementLengths),
		ElementLengthBins:  tl.elementLengths,
		DigitalRisingBins:  tl.digitalRising,
		DigitalFallingBins: tl.digitalFalling,
		LaserRisingBins:    dedupeSorted(tl.laserRising),
		LaserFallingBins:   dedupeSorted(tl.laserFalling),
		AnalogChannels:     analog,
		DigitalChannels:    digital,
		Channels:           analog.Union(digital),
		IdealLength:        tl.tEnd,
		SampleRate:         tl.sampleRate,
	}
}

//trimLaserEdges drops an unmatched laser edge so rising and falling lists pair up.
//An extra trailing rising edge means the last laser pulse never ends within the
//sampled window; an extra leading falling edge means the window starts inside a pulse.
func trimLaserEdges(rising, falling []int64, name string) ([]int64, []int64) {
	if len(rising) == len(falling) {
		return rising, falling
	}
	if len(rising) > len(falling) {
		log.Printf("WARN: %v: dropping unmatched trailing laser rising edge at bin %v", name, rising[len(rising)-1])
		return rising[:len(rising)-1], falling
	}
	log.Printf("WARN: %v: dropping unmatched leading laser falling edge at bin %v", name, falling[0])
	return rising, falling[1:]
}

//AnalyzeSequence discretizes a sequence by playing its steps back to back on one
//continuous timeline, so channel state is threaded across step boundaries and seam
//transitions are neither lost nor duplicated. Analysis stops at the first step with
//infinite repetitions; counts before that point remain valid.
func (l *Logic) AnalyzeSequence(sequence *pulse.Sequence) (*pulse.SequenceInfo, error) {
	steps := sequence.Steps()
	if len(steps) == 0 {
		return nil, fmt.Errorf("pulse: sequence %q has no steps: %w", sequence.Name(), pulse.ErrEmptyList)
	}

	first, err := l.repo.Ensemble(steps[0].Ensemble)
	if err != nil {
		return nil, fmt.Errorf("%w: ensemble %q of sequence %q", ErrMissingReference, steps[0].Ensemble, sequence.Name())
	}
	analog, digital, err := l.ensembleChannels(first)
	if err != nil {
		return nil, err
	}

	tl := newTimeline(l.settings.SampleRate, l.genParams.LaserGateChannel())
	isFinite := true
	for _, step := range steps {
		if step.Repetitions < 0 {
			isFinite = false
			break
		}
		ensemble, err := l.repo.Ensemble(step.Ensemble)
		if err != nil {
			return nil, fmt.Errorf("%w: ensemble %q of sequence %q", ErrMissingReference, step.Ensemble, sequence.Name())
		}
		for rep := 0; rep <= step.Repetitions; rep++ {
			if err := l.walkEnsemble(tl, ensemble); err != nil {
				return nil, err
			}
		}
	}

	tl.laserRising, tl.laserFalling = trimLaserEdges(tl.laserRising, tl.laserFalling, "sequence "+sequence.Name())
	dedupeEdgeMap(tl.digitalRising)
	dedupeEdgeMap(tl.digitalFalling)
	length := tl.tEnd
	if !isFinite {
		length = math.Inf(1)
	}
	return &pulse.SequenceInfo{
		IsFinite:           isFinite,
		IdealLength:        length,
		NumberOfSamples:    tl.endBin,
		DigitalRisingBins:  tl.digitalRising,
		DigitalFallingBins: tl.digitalFalling,
		LaserRisingBins:    dedupeSorted(tl.laserRising),
		LaserFallingBins:   dedupeSorted(tl.laserFalling),
		AnalogChannels:     analog,
		DigitalChannels:    digital,
		Channels:           analog.Union(digital),
		SampleRate:         tl.sampleRate,
	}, nil
}

//AnalyzeSequenceByName resolves the sequence from the repository and analyzes it
func (l *Logic) AnalyzeSequenceByName(name string) (*pulse.SequenceInfo, error) {
	sequence, err := l.repo.Sequence(name)
	if err != nil {
		return nil, fmt.Errorf("%w: sequence %q", ErrMissingReference, name)
	}
	return l.AnalyzeSequence(sequence)
}

//EnsembleSummary returns the ideal length in s, the total bin count and the number of
//complete laser pulses of an ensemble without sampling it
func (l *Logic) EnsembleSummary(ensemble *pulse.BlockEnsemble) (lengthS float64, lengthBins int64, laserPulses int, err error) {
	info, err := l.AnalyzeBlockEnsemble(ensemble)
	if err != nil {
		return 0, 0, 0, err
	}
	rising, _ := trimLaserEdges(info.LaserRisingBins, info.LaserFallingBins, "ensemble "+ensemble.Name())
	return info.IdealLength, info.NumberOfSamples, len(rising), nil
}

//SequenceSummary returns the ideal length in s, the total bin count and the number of
//complete laser pulses of a sequence. For a non terminating sequence the length is
//+Inf and the laser pulse count is -1.
func (l *Logic) SequenceSummary(sequence *pulse.Sequence) (lengthS float64, lengthBins int64, laserPulses int, err error) {
	info, err := l.AnalyzeSequence(sequence)
	if err != nil {
		return 0, 0, 0, err
	}
	if !info.IsFinite {
		return math.Inf(1), info.NumberOfSamples, -1, nil
	}
	return info.IdealLength, info.NumberOfSamples, len(info.LaserRisingBins), nil
}

//sanityCheckEnsemble verifies that every referenced block exists and that the channel
//sets of all blocks match the active channel configuration
func (l *Logic) sanityCheckEnsemble(ensemble *pulse.BlockEnsemble) error {
	var missing []string
	for _, ref := range ensemble.BlockRefs() {
		block, err := l.repo.Block(ref.BlockName)
		if err != nil {
			missing = append(missing, ref.BlockName)
			continue
		}
		if !block.ChannelSet().Equal(l.settings.ActivationConfig) {
			return fmt.Errorf("%w: block %q uses channels %v but activation config %q is %v",
				pulse.ErrChannelSetMismatch, ref.BlockName, block.ChannelSet(),
				l.settings.ActivationConfigName, l.settings.ActivationConfig)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: ensemble %q references unknown blocks [%v]",
			ErrMissingReference, ensemble.Name(), strings.Join(missing, ", "))
	}
	return nil
}

//sanityCheckSequence verifies that every referenced ensemble exists and is itself sane
func (l *Logic) sanityCheckSequence(sequence *pulse.Sequence) error {
	var missing []string
	for _, step := range sequence.Steps() {
		ensemble, err := l.repo.Ensemble(step.Ensemble)
		if err != nil {
			missing = append(missing, step.Ensemble)
			continue
		}
		if err := l.sanityCheckEnsemble(ensemble); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: sequence %q references unknown ensembles [%v]",
			ErrMissingReference, sequence.Name(), strings.Join(missing, ", "))
	}
	return nil
}
