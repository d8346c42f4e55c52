//Package main renders a sampled waveform file as a png plot
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"pulsegen/wavefile"
	"pulsegen/waveplot"
)

func main() {
	in := flag.String("in", "", "Path to a .qwfm waveform file")
	out := flag.String("out", "", "Output png path, defaults to the input name with .png extension")

	flag.Parse()

	if *in == "" {
		fmt.Printf("Please set \"in\" parameter!\n")
		flag.PrintDefaults()
		return
	}
	if *out == "" {
		*out = strings.TrimSuffix(*in, ".qwfm") + ".png"
	}

	inFile, err := os.Open(*in)
	if err != nil {
		fmt.Printf("Failed to open input file %v : %v\n", *in, err)
		return
	}
	defer func() {
		if err := inFile.Close(); err != nil {
			log.Printf("Failed to close %v : %v", inFile.Name(), err)
		}
	}()

	wfm, err := wavefile.Decode(bufio.NewReader(inFile))
	if err != nil {
		log.Fatalf("Failed to parse waveform file : %v", err)
	}
	log.Printf("waveform %v: %v samples at %v Hz, %v analog and %v digital channels",
		wfm.Name, wfm.SampleCount(), wfm.SampleRate, len(wfm.Analog), len(wfm.Digital))

	outFile, err := os.Create(*out)
	if err != nil {
		log.Fatalf("Failed to create output file %v : %v", *out, err)
	}
	defer func() {
		if err := outFile.Close(); err != nil {
			log.Printf("Failed to close %v : %v", outFile.Name(), err)
		}
	}()

	if err := waveplot.PlotAndStore(wfm, 800, 600, outFile); err != nil {
		log.Fatalf("Failed to plot waveform : %v", err)
	}
}
