//Package main provides a cli interface for building and sampling pulse measurements
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pbnjay/memory"

	"pulsegen/generator"
	"pulsegen/pulse"
	"pulsegen/pulser"
	"pulsegen/store"
	"pulsegen/telemetry"
)

//application bundles the command line configuration options
type application struct {
	outFolder      string
	sampleRate     float64
	granularity    int64
	laserChannel   string
	gateChannel    string
	syncChannel    string
	mwChannel      string
	mwFrequency    float64
	mwAmplitude    float64
	channelVpp     float64
	laserLength    float64
	laserDelay     float64
	waitTime       float64
	tauStart       float64
	tauStep        float64
	numPoints      int
	bufferMB       int
	metricsAddr    string
	laserOnSeconds float64
}

//ParseAndValidateFlags parses flags provided in os.Args and returns the parsed values if
//all logic checks pass. Otherwise a multiline error is returned that also contains an
//overview over all flags.
func ParseAndValidateFlags() (*application, error) {
	usageBuf := &bytes.Buffer{}
	cmdFlags := flag.NewFlagSet("default", flag.ContinueOnError)
	cmdFlags.SetOutput(usageBuf)

	outFolder := cmdFlags.String("outFolder", "pulsegen-out", "Directory for the pulse object store and the sampled waveform files")
	sampleRate := cmdFlags.Float64("sampleRate", 1.25e9, "Pulse generator sample rate in Hz")
	granularity := cmdFlags.Int64("granularity", 16, "Waveform length granularity of the device in samples")
	laserChannel := cmdFlags.String("laserChannel", "d_ch1", "Channel descriptor triggering the laser")
	gateChannel := cmdFlags.String("gateChannel", "d_ch2", "Channel descriptor gating the photon counter (empty for ungated counting)")
	syncChannel := cmdFlags.String("syncChannel", "", "Channel descriptor for the sync trigger (empty to disable)")
	mwChannel := cmdFlags.String("mwChannel", "a_ch1", "Channel descriptor carrying the microwave drive")
	mwFrequency := cmdFlags.Float64("mwFrequency", 2.87e9, "Microwave frequency in Hz")
	mwAmplitude := cmdFlags.Float64("mwAmplitude", 0.125, "Microwave amplitude in V")
	channelVpp := cmdFlags.Float64("channelVpp", 0.5, "Peak-to-peak amplitude of analog channels in V")
	laserLength := cmdFlags.Float64("laserLength", 3e-6, "Laser readout pulse length in s")
	laserDelay := cmdFlags.Float64("laserDelay", 500e-9, "Delay between laser trigger and emission in s")
	waitTime := cmdFlags.Float64("waitTime", 1e-6, "Relaxation wait time after readout in s")
	tauStart := cmdFlags.Float64("tauStart", 10e-9, "First microwave pulse duration of the Rabi sweep in s")
	tauStep := cmdFlags.Float64("tauStep", 10e-9, "Microwave pulse duration step of the Rabi sweep in s")
	numPoints := cmdFlags.Int("numPoints", 50, "Number of Rabi sweep points")
	bufferMB := cmdFlags.Int("bufferMB", 0, "Memory allowed for the sampling buffer in MB, 0 selects a default from system memory")
	metricsAddr := cmdFlags.String("metricsAddr", "", "If set, serve Prometheus metrics on this address under /metrics")
	laserOnSeconds := cmdFlags.Float64("laserOn", 3e-6, "Length of the standalone laser-on ensemble in s")
	cmdFlags.PrintDefaults()

	if err := cmdFlags.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("%v\n%s", err, usageBuf.String())
	}

	err := func() (descriptiveError error) {
		//append usage string if we return an error
		defer func() {
			if descriptiveError != nil {
				descriptiveError = fmt.Errorf("%v\nUsage:\n%s", descriptiveError.Error(), usageBuf.String())
			}
		}()

		if *sampleRate <= 0 {
			descriptiveError = fmt.Errorf("please set sampleRate to a positive frequency")
			return
		}
		if *granularity < 1 {
			descriptiveError = fmt.Errorf("granularity needs to be at least 1")
			return
		}
		if !pulse.IsAnalogChannel(*mwChannel) && !pulse.IsDigitalChannel(*mwChannel) {
			descriptiveError = fmt.Errorf("mwChannel %q is not a channel descriptor", *mwChannel)
			return
		}
		if !pulse.IsAnalogChannel(*laserChannel) && !pulse.IsDigitalChannel(*laserChannel) {
			descriptiveError = fmt.Errorf("laserChannel %q is not a channel descriptor", *laserChannel)
			return
		}
		if *numPoints < 1 {
			descriptiveError = fmt.Errorf("numPoints needs to be at least 1")
			return
		}
		if *bufferMB < 0 {
			descriptiveError = fmt.Errorf("bufferMB may not be negative")
			return
		}
		if uint64(*bufferMB)*1024*1024 > memory.TotalMemory() {
			descriptiveError = fmt.Errorf("your sampling buffer is larger than the available memory")
			return
		}
		return
	}()
	if err != nil {
		return nil, err
	}

	return &application{
		outFolder:      *outFolder,
		sampleRate:     *sampleRate,
		granularity:    *granularity,
		laserChannel:   *laserChannel,
		gateChannel:    *gateChannel,
		syncChannel:    *syncChannel,
		mwChannel:      *mwChannel,
		mwFrequency:    *mwFrequency,
		mwAmplitude:    *mwAmplitude,
		channelVpp:     *channelVpp,
		laserLength:    *laserLength,
		laserDelay:     *laserDelay,
		waitTime:       *waitTime,
		tauStart:       *tauStart,
		tauStep:        *tauStep,
		numPoints:      *numPoints,
		bufferMB:       *bufferMB,
		metricsAddr:    *metricsAddr,
		laserOnSeconds: *laserOnSeconds,
	}, nil
}

//activationChannels collects every configured channel descriptor
func (app *application) activationChannels() []string {
	chnls := []string{app.laserChannel, app.mwChannel}
	if app.gateChannel != "" {
		chnls = append(chnls, app.gateChannel)
	}
	if app.syncChannel != "" {
		chnls = append(chnls, app.syncChannel)
	}
	return chnls
}

func mainWithErr(app *application) error {
	repo, err := store.NewStore(filepath.Join(app.outFolder, "objects"))
	if err != nil {
		return fmt.Errorf("failed to open pulse object store : %v", err)
	}
	device, err := pulser.NewFileDevice(filepath.Join(app.outFolder, "waveforms"),
		app.sampleRate, app.granularity, pulser.SequenceOptionOptional)
	if err != nil {
		return fmt.Errorf("failed to create waveform output device : %v", err)
	}

	amplitudes := map[string]float64{}
	for _, chnl := range app.activationChannels() {
		if pulse.IsAnalogChannel(chnl) {
			amplitudes[chnl] = app.channelVpp
		}
	}
	logic := generator.New(repo, device,
		generator.Settings{
			SampleRate:           app.sampleRate,
			ActivationConfigName: "cli",
			ActivationConfig:     pulse.NewChannelSet(app.activationChannels()...),
			AnalogAmplitudes:     amplitudes,
			OverheadBytes:        uint64(app.bufferMB) * 1024 * 1024,
		},
		generator.GenerationParameters{
			LaserChannel:       app.laserChannel,
			GateChannel:        app.gateChannel,
			SyncChannel:        app.syncChannel,
			MicrowaveChannel:   app.mwChannel,
			MicrowaveFrequency: app.mwFrequency,
			MicrowaveAmplitude: app.mwAmplitude,
			LaserLength:        app.laserLength,
			LaserDelay:         app.laserDelay,
			WaitTime:           app.waitTime,
		})

	rabi, err := logic.GenerateRabi("rabi", app.tauStart, app.tauStep, app.numPoints)
	if err != nil {
		return fmt.Errorf("failed to generate rabi ensemble : %v", err)
	}
	lengthS, lengthBins, laserPulses, err := logic.EnsembleSummary(rabi)
	if err != nil {
		return fmt.Errorf("failed to analyze rabi ensemble : %v", err)
	}
	log.Printf("rabi ensemble: %v points, %.3g s, %v samples, %v laser pulses",
		app.numPoints, lengthS, lengthBins, laserPulses)

	if _, waveforms, info, err := logic.SampleBlockEnsemble(rabi.Name(), 0, ""); err != nil {
		return fmt.Errorf("failed to sample rabi ensemble : %v", err)
	} else {
		log.Printf("wrote %v samples into %v", info.NumberOfSamples, waveforms)
	}

	laserOn, err := logic.GenerateLaserOn("laser_on", app.laserOnSeconds)
	if err != nil {
		return fmt.Errorf("failed to generate laser-on ensemble : %v", err)
	}

	warmup := pulse.DefaultSequenceStep(laserOn.Name())
	warmup.Repetitions = 2
	measure := pulse.DefaultSequenceStep(rabi.Name())
	sequence, err := pulse.NewSequence("rabi_seq", false, warmup, measure)
	if err != nil {
		return fmt.Errorf("failed to build sequence : %v", err)
	}
	if err := repo.SaveSequence(sequence); err != nil {
		return fmt.Errorf("failed to save sequence : %v", err)
	}
	if err := logic.SampleSequence(sequence.Name()); err != nil {
		return fmt.Errorf("failed to sample sequence : %v", err)
	}

	sampled, err := repo.Sequence(sequence.Name())
	if err != nil {
		return err
	}
	seqLen, seqBins, seqLasers, err := logic.SequenceSummary(sampled)
	if err != nil {
		return fmt.Errorf("failed to analyze sequence : %v", err)
	}
	log.Printf("sequence %v: %.3g s, %v samples, %v laser pulses",
		sampled.Name(), seqLen, seqBins, seqLasers)
	if samplingInfo := sampled.SamplingInformation(); samplingInfo != nil {
		log.Printf("sequence %v: %v steps, %v waveforms, finite=%v",
			sampled.Name(), len(samplingInfo.StepWaveforms), len(samplingInfo.Waveforms),
			samplingInfo.Info.IsFinite)
	}
	return nil
}

func main() {
	app, err := ParseAndValidateFlags()
	if err != nil {
		log.Fatalf("Invalid configuration : %v", err)
	}

	if app.metricsAddr != "" {
		go func() {
			http.Handle("/metrics", telemetry.Handler())
			log.Printf("serving metrics on %v/metrics", app.metricsAddr)
			if err := http.ListenAndServe(app.metricsAddr, nil); err != nil {
				log.Printf("metrics server stopped : %v", err)
			}
		}()
	}

	if err := mainWithErr(app); err != nil {
		log.Fatalf("%v", err)
	}
}
