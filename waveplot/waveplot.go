//Package waveplot renders sampled waveforms as line plots: analog channels as
//continuous lines, digital channels as step lines stacked below the analog traces.
package waveplot

import (
	"fmt"
	"io"
	"sort"

	"golang.org/x/image/colornames"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"pulsegen/wavefile"
)

//palette cycles through distinguishable line colors
var palette = []string{"blue", "red", "green", "orange", "purple", "brown", "magenta", "teal"}

type channelXY struct {
	sampleRate float64
	yValues    []float64
}

func (s *channelXY) Len() int { return len(s.yValues) }

func (s *channelXY) XY(index int) (x, y float64) {
	return float64(index) / s.sampleRate, s.yValues[index]
}

//analogSeries converts normalized float32 samples to plottable float64 values
func analogSeries(samples []float32) []float64 {
	values := make([]float64, len(samples))
	for i, v := range samples {
		values[i] = float64(v)
	}
	return values
}

//digitalSeries converts boolean samples to a step trace shifted below the analog range.
//slot is the 0-based position of the channel in the stack.
func digitalSeries(samples []bool, slot int) []float64 {
	base := -1.5 - 1.5*float64(slot)
	values := make([]float64, len(samples))
	for i, high := range samples {
		values[i] = base
		if high {
			values[i] = base + 1
		}
	}
	return values
}

//Plot creates a plot of all channels of the waveform over time
func Plot(wfm *wavefile.Waveform) (*plot.Plot, error) {
	if wfm.SampleCount() == 0 {
		return nil, fmt.Errorf("waveform %q holds no samples", wfm.Name)
	}
	if wfm.SampleRate <= 0 {
		return nil, fmt.Errorf("waveform %q has invalid sample rate %v", wfm.Name, wfm.SampleRate)
	}

	p := plot.New()
	p.Title.Text = wfm.Name
	p.X.Label.Text = "Time [s]"
	p.Y.Label.Text = "Normalized amplitude"
	p.Legend.Top = true

	analogChnls := make([]string, 0, len(wfm.Analog))
	for chnl := range wfm.Analog {
		analogChnls = append(analogChnls, chnl)
	}
	sort.Strings(analogChnls)
	digitalChnls := make([]string, 0, len(wfm.Digital))
	for chnl := range wfm.Digital {
		digitalChnls = append(digitalChnls, chnl)
	}
	sort.Strings(digitalChnls)

	colorIdx := 0
	nextColor := func() string {
		c := palette[colorIdx%len(palette)]
		colorIdx++
		return c
	}

	for _, chnl := range analogChnls {
		line, err := plotter.NewLine(&channelXY{wfm.SampleRate, analogSeries(wfm.Analog[chnl])})
		if err != nil {
			return nil, fmt.Errorf("failed creating line for channel %v : %v", chnl, err)
		}
		line.Color = colornames.Map[nextColor()]
		p.Add(line)
		p.Legend.Add(chnl, line)
	}
	for slot, chnl := range digitalChnls {
		line, err := plotter.NewLine(&channelXY{wfm.SampleRate, digitalSeries(wfm.Digital[chnl], slot)})
		if err != nil {
			return nil, fmt.Errorf("failed creating line for channel %v : %v", chnl, err)
		}
		line.StepStyle = plotter.PreStep
		line.Color = colornames.Map[nextColor()]
		p.Add(line)
		p.Legend.Add(chnl, line)
	}

	p.Y.Max = 1.5
	p.Y.Min = -1.5 - 1.5*float64(len(digitalChnls))
	return p, nil
}

//PlotAndStore wraps Plot and writes the rendered PNG to out
func PlotAndStore(wfm *wavefile.Waveform, width, height vg.Length, out io.Writer) error {
	p, err := Plot(wfm)
	if err != nil {
		return fmt.Errorf("failed to create plot :%v", err)
	}
	writerTo, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to prepare plot for writing : %v", err)
	}
	if _, err := writerTo.WriteTo(out); err != nil {
		return fmt.Errorf("failed to write plot : %v", err)
	}
	return nil
}
