//Package generator contains the sequence generation logic: the bin-exact analyzer that
//discretizes pulse block ensembles/sequences at a fixed sample rate, and the sampling
//engine that streams the resulting sample arrays to pulse generator hardware in
//memory-bounded chunks.
package generator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pbnjay/memory"

	"pulsegen/pulse"
	"pulsegen/pulser"
)

//Sentinel errors of the generation logic.
var (
	//ErrBusy - another sampling operation is running against the same hardware
	ErrBusy = errors.New("generator: sampling already in progress")
	//ErrMissingReference - an ensemble/sequence references names absent from the repository
	ErrMissingReference = errors.New("generator: missing reference")
	//ErrShortWrite - the device wrote fewer samples/steps than requested
	ErrShortWrite = errors.New("generator: device short write")
	//ErrBufferBudget - the chunk buffer cannot be allocated within the configured byte budget
	ErrBufferBudget = errors.New("generator: sample buffer budget unsatisfiable")
)

//Repository is the name-keyed object store the logic resolves references against.
//Implemented by store.Store; tests inject in-memory fakes.
type Repository interface {
	Block(name string) (*pulse.Block, error)
	SaveBlock(block *pulse.Block) error
	Ensemble(name string) (*pulse.BlockEnsemble, error)
	SaveEnsemble(ensemble *pulse.BlockEnsemble) error
	DeleteEnsemble(name string) error
	Sequence(name string) (*pulse.Sequence, error)
	SaveSequence(sequence *pulse.Sequence) error
	DeleteSequence(name string) error
}

//Settings bundles the live pulse generator settings the engine samples against
type Settings struct {
	//SampleRate in Hz
	SampleRate float64
	//ActivationConfigName names the active channel configuration
	ActivationConfigName string
	//ActivationConfig is the set of active channels; every sampled ensemble must use
	//exactly this channel set
	ActivationConfig pulse.ChannelSet
	//AnalogAmplitudes maps analog channels to their peak-to-peak amplitude in V.
	//Samples are normalized to amplitude/2 before hand-off.
	AnalogAmplitudes map[string]float64
	//OverheadBytes bounds the working sample buffer of one write chunk. 0 selects a
	//default derived from total system memory.
	OverheadBytes uint64
}

//overheadBytes returns the effective chunk byte budget
func (s Settings) overheadBytes() uint64 {
	if s.OverheadBytes != 0 {
		return s.OverheadBytes
	}
	return memory.TotalMemory() / 4
}

//Snapshot captures the settings for staleness comparison and persistence
func (s Settings) Snapshot(granularity int64) pulse.SettingsSnapshot {
	amplitudes := make(map[string]float64, len(s.AnalogAmplitudes))
	for chnl, amp := range s.AnalogAmplitudes {
		amplitudes[chnl] = amp
	}
	return pulse.SettingsSnapshot{
		SampleRate:           s.SampleRate,
		ActivationConfigName: s.ActivationConfigName,
		ActivationChannels:   s.ActivationConfig.Sorted(),
		AnalogAmplitudes:     amplitudes,
		WaveformGranularity:  granularity,
	}
}

//GenerationParameters are the experiment-level parameters generation code composes
//pulse elements from. Channel fields may be empty meaning "not connected".
type GenerationParameters struct {
	//LaserChannel triggers the laser ("d_chX" or "a_chX")
	LaserChannel string
	//SyncChannel triggers external electronics at the start of a run
	SyncChannel string
	//GateChannel gates a photon counter; takes precedence over LaserChannel when
	//detecting laser pulse boundaries
	GateChannel string
	//MicrowaveChannel carries the spin-driving field
	MicrowaveChannel string
	//MicrowaveFrequency in Hz
	MicrowaveFrequency float64
	//MicrowaveAmplitude in V
	MicrowaveAmplitude float64
	//RabiPeriod in s
	RabiPeriod float64
	//LaserLength is the laser pulse duration in s
	LaserLength float64
	//LaserDelay is the delay between laser trigger and actual emission in s
	LaserDelay float64
	//WaitTime is the relaxation wait after readout in s
	WaitTime float64
	//AnalogTriggerVoltage is the DC level used for triggers on analog channels in V
	AnalogTriggerVoltage float64
}

//LaserGateChannel returns the channel used to detect laser pulse boundaries: the gate
//channel when configured, the laser channel otherwise
func (p GenerationParameters) LaserGateChannel() string {
	if p.GateChannel != "" {
		return p.GateChannel
	}
	return p.LaserChannel
}

//Logic owns the repository, the hardware device and the live settings, and serializes
//all sampling operations through a single busy lock. Sampling is synchronous: a call
//runs to completion or failure on the calling goroutine.
type Logic struct {
	repo      Repository
	device    pulser.Device
	settings  Settings
	genParams GenerationParameters

	mu sync.Mutex
	//busy is held for the whole duration of a sampling operation
	busy bool
}

//New creates the generation logic
func New(repo Repository, device pulser.Device, settings Settings, params GenerationParameters) *Logic {
	return &Logic{
		repo:      repo,
		device:    device,
		settings:  settings,
		genParams: params,
	}
}

//Settings returns the current generator settings
func (l *Logic) Settings() Settings { return l.settings }

//GenerationParameters returns the current generation parameters
func (l *Logic) GenerationParameters() GenerationParameters { return l.genParams }

//Device returns the hardware interface in use
func (l *Logic) Device() pulser.Device { return l.device }

//SetSettings replaces the generator settings. Rejected while sampling is in progress.
func (l *Logic) SetSettings(settings Settings) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return fmt.Errorf("%w: cannot change settings", ErrBusy)
	}
	l.settings = settings
	return nil
}

//SetGenerationParameters replaces the generation parameters. Rejected while sampling is
//in progress.
func (l *Logic) SetGenerationParameters(params GenerationParameters) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return fmt.Errorf("%w: cannot change generation parameters", ErrBusy)
	}
	l.genParams = params
	return nil
}

//lock acquires the busy state, failing immediately if another operation runs. Sequence
//sampling calls the unexported ensemble sampling directly, so the lock is never nested.
func (l *Logic) lock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return ErrBusy
	}
	l.busy = true
	return nil
}

//unlock releases the busy state
func (l *Logic) unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.busy = false
}
