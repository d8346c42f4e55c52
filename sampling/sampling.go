//Package sampling provides the pure mathematical waveform functions evaluated by the
//sampling engine. A Function maps a time array (seconds) to a same-length voltage array.
//All stock functions are comparable value types so that pulse elements holding them can
//be compared with ==.
package sampling

import (
	"fmt"
	"math"
)

//Function is the contract between pulse elements and the sampling engine: given a time
//array in seconds, return a same-length array of voltages.
type Function interface {
	//Name returns the registry name used in the serialized representation
	Name() string
	//Samples evaluates the function at the given points in time (seconds)
	Samples(times []float64) []float64
	//Params returns the serializable parameter set of the function
	Params() map[string]float64
}

//Idle outputs zero voltage
type Idle struct{}

func (Idle) Name() string { return "Idle" }

func (Idle) Samples(times []float64) []float64 {
	return make([]float64, len(times))
}

func (Idle) Params() map[string]float64 { return map[string]float64{} }

//DC outputs a constant voltage
type DC struct {
	//Voltage in V
	Voltage float64
}

func (DC) Name() string { return "DC" }

func (f DC) Samples(times []float64) []float64 {
	samples := make([]float64, len(times))
	for i := range samples {
		samples[i] = f.Voltage
	}
	return samples
}

func (f DC) Params() map[string]float64 { return map[string]float64{"voltage": f.Voltage} }

//Sin outputs amplitude*sin(2*pi*frequency*t + phase). Phase is in degree as that is the
//unit used throughout pulse generation scripts.
type Sin struct {
	//Amplitude in V
	Amplitude float64
	//Frequency in Hz
	Frequency float64
	//Phase in degree
	Phase float64
}

func (Sin) Name() string { return "Sin" }

func sine(times []float64, samples []float64, amplitude, frequency, phaseDeg float64) {
	phaseRad := math.Pi * phaseDeg / 180
	omega := 2 * math.Pi * frequency
	for i, t := range times {
		samples[i] += amplitude * math.Sin(omega*t+phaseRad)
	}
}

func (f Sin) Samples(times []float64) []float64 {
	samples := make([]float64, len(times))
	sine(times, samples, f.Amplitude, f.Frequency, f.Phase)
	return samples
}

func (f Sin) Params() map[string]float64 {
	return map[string]float64{
		"amplitude": f.Amplitude,
		"frequency": f.Frequency,
		"phase":     f.Phase,
	}
}

//DoubleSin is the superposition of two sine waves (NOT normalized)
type DoubleSin struct {
	Amplitude1 float64
	Frequency1 float64
	Phase1     float64
	Amplitude2 float64
	Frequency2 float64
	Phase2     float64
}

func (DoubleSin) Name() string { return "DoubleSin" }

func (f DoubleSin) Samples(times []float64) []float64 {
	samples := make([]float64, len(times))
	sine(times, samples, f.Amplitude1, f.Frequency1, f.Phase1)
	sine(times, samples, f.Amplitude2, f.Frequency2, f.Phase2)
	return samples
}

func (f DoubleSin) Params() map[string]float64 {
	return map[string]float64{
		"amplitude_1": f.Amplitude1, "frequency_1": f.Frequency1, "phase_1": f.Phase1,
		"amplitude_2": f.Amplitude2, "frequency_2": f.Frequency2, "phase_2": f.Phase2,
	}
}

//TripleSin is the superposition of three sine waves (NOT normalized)
type TripleSin struct {
	Amplitude1 float64
	Frequency1 float64
	Phase1     float64
	Amplitude2 float64
	Frequency2 float64
	Phase2     float64
	Amplitude3 float64
	Frequency3 float64
	Phase3     float64
}

func (TripleSin) Name() string { return "TripleSin" }

func (f TripleSin) Samples(times []float64) []float64 {
	samples := make([]float64, len(times))
	sine(times, samples, f.Amplitude1, f.Frequency1, f.Phase1)
	sine(times, samples, f.Amplitude2, f.Frequency2, f.Phase2)
	sine(times, samples, f.Amplitude3, f.Frequency3, f.Phase3)
	return samples
}

func (f TripleSin) Params() map[string]float64 {
	return map[string]float64{
		"amplitude_1": f.Amplitude1, "frequency_1": f.Frequency1, "phase_1": f.Phase1,
		"amplitude_2": f.Amplitude2, "frequency_2": f.Frequency2, "phase_2": f.Phase2,
		"amplitude_3": f.Amplitude3, "frequency_3": f.Frequency3, "phase_3": f.Phase3,
	}
}

//Chirp sweeps linearly from StartFrequency to StopFrequency over Duration
type Chirp struct {
	//Amplitude in V
	Amplitude float64
	//StartFrequency in Hz
	StartFrequency float64
	//StopFrequency in Hz
	StopFrequency float64
	//Phase in degree
	Phase float64
	//Duration of the sweep in s
	Duration float64
}

func (Chirp) Name() string { return "Chirp" }

func (f Chirp) Samples(times []float64) []float64 {
	samples := make([]float64, len(times))
	if f.Duration == 0 {
		return samples
	}
	phaseRad := math.Pi * f.Phase / 180
	rate := (f.StopFrequency - f.StartFrequency) / f.Duration
	for i, t := range times {
		samples[i] = f.Amplitude * math.Sin(2*math.Pi*(f.StartFrequency+rate*t/2)*t+phaseRad)
	}
	return samples
}

func (f Chirp) Params() map[string]float64 {
	return map[string]float64{
		"amplitude":       f.Amplitude,
		"start_frequency": f.StartFrequency,
		"stop_frequency":  f.StopFrequency,
		"phase":           f.Phase,
		"duration":        f.Duration,
	}
}

//FunctionSpec is the serialized form of a Function: registry name plus parameter map.
//It is the interchange surface used by the pulse object dict representations.
type FunctionSpec struct {
	Name   string             `json:"name"`
	Params map[string]float64 `json:"params"`
}

//Spec converts a Function into its serialized form
func Spec(f Function) FunctionSpec {
	return FunctionSpec{Name: f.Name(), Params: f.Params()}
}

//FromSpec reconstructs a Function from its serialized form. Unknown names and missing
//parameters yield an error.
func FromSpec(spec FunctionSpec) (Function, error) {
	get := func(key string) float64 { return spec.Params[key] }
	switch spec.Name {
	case "Idle":
		return Idle{}, nil
	case "DC":
		return DC{Voltage: get("voltage")}, nil
	case "Sin":
		return Sin{Amplitude: get("amplitude"), Frequency: get("frequency"), Phase: get("phase")}, nil
	case "DoubleSin":
		return DoubleSin{
			Amplitude1: get("amplitude_1"), Frequency1: get("frequency_1"), Phase1: get("phase_1"),
			Amplitude2: get("amplitude_2"), Frequency2: get("frequency_2"), Phase2: get("phase_2"),
		}, nil
	case "TripleSin":
		return TripleSin{
			Amplitude1: get("amplitude_1"), Frequency1: get("frequency_1"), Phase1: get("phase_1"),
			Amplitude2: get("amplitude_2"), Frequency2: get("frequency_2"), Phase2: get("phase_2"),
			Amplitude3: get("amplitude_3"), Frequency3: get("frequency_3"), Phase3: get("phase_3"),
		}, nil
	case "Chirp":
		return Chirp{
			Amplitude:      get("amplitude"),
			StartFrequency: get("start_frequency"),
			StopFrequency:  get("stop_frequency"),
			Phase:          get("phase"),
			Duration:       get("duration"),
		}, nil
	default:
		return nil, fmt.Errorf("unknown sampling function %q", spec.Name)
	}
}
