// cptv-decoder - decode CPTV thermal video streams
//  Copyright (C) 2024, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	arg "github.com/alexflint/go-arg"
	"github.com/hashicorp/go-multierror"
	"github.com/rcrowley/go-metrics"

	"github.com/TheCacophonyProject/cptv-decoder/cptv"
	"github.com/TheCacophonyProject/cptv-decoder/decode"
	"github.com/TheCacophonyProject/cptv-decoder/source"
)

var version = "<not set>"

type Args struct {
	Paths             []string `arg:"positional" help:"CPTV files to decode"`
	ConfigFile        string   `arg:"-c,--config" help:"path to configuration file"`
	Listen            string   `arg:"-l,--listen" help:"accept CPTV streams on unix:PATH or tcp:HOST:PORT"`
	OutputDir         string   `arg:"-o,--output-dir" help:"directory to write frame images (or received recordings when listening) to"`
	StartFrame        int      `arg:"--start-frame" help:"first frame to output, counting from 1"`
	EndFrame          int      `arg:"--end-frame" help:"last frame to output (0 for the end of the recording)"`
	NormalizeOverClip bool     `arg:"--normalize-over-clip" help:"scale frame images using the range of the whole recording"`
	Colorize          bool     `arg:"--colorize" help:"write frame images in colour using the Viridis palette"`
	ChunkSize         int      `arg:"--chunk-size" help:"size of reads from the input in bytes"`
	CPTVOutput        string   `arg:"--cptv-output" help:"write the selected frames to a new CPTV file"`
	Timestamps        bool     `arg:"-t,--timestamps" help:"include timestamps in log output"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.ConfigFile = defaultConfigFile
	args.StartFrame = 1
	arg.MustParse(&args)
	return args
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()
	if !args.Timestamps {
		log.SetFlags(0) // Removes default timestamp flag
	}

	log.Printf("version: %s", version)
	conf, err := ParseConfigFile(args.ConfigFile)
	if err != nil {
		return err
	}
	if err := applyArgs(conf, args); err != nil {
		return err
	}
	logConfig(conf)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Listen != "" {
		return listen(ctx, conf)
	}
	if len(args.Paths) == 0 {
		return errors.New("no input files or listen address given")
	}
	if args.CPTVOutput != "" && len(args.Paths) > 1 {
		return errors.New("--cptv-output needs a single input file")
	}

	opts := dumpOptions{
		outputDir:         conf.OutputDir,
		frameDirPerInput:  len(args.Paths) > 1,
		start:             args.StartFrame,
		end:               args.EndFrame,
		normalizeOverClip: args.NormalizeOverClip,
		cptvOutput:        args.CPTVOutput,
		colorize:          args.Colorize,
	}
	var result error
	for _, path := range args.Paths {
		if err := dumpFile(ctx, path, conf, opts); err != nil {
			log.Printf("%s: %v", path, err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", path, err))
		}
	}
	return result
}

// applyArgs overrides the configuration with any options given on the
// command line.
func applyArgs(conf *Config, args Args) error {
	if args.Listen != "" {
		conf.Listen = args.Listen
	}
	if args.OutputDir != "" {
		conf.OutputDir = args.OutputDir
	}
	if args.ChunkSize > 0 {
		conf.ChunkSize = args.ChunkSize
	}
	if args.StartFrame < 1 {
		return fmt.Errorf("start frame must be at least 1: %d", args.StartFrame)
	}
	if args.EndFrame != 0 && args.EndFrame < args.StartFrame {
		return fmt.Errorf("end frame %d is before start frame %d", args.EndFrame, args.StartFrame)
	}
	return conf.Validate()
}

func logConfig(conf *Config) {
	log.Printf("chunk size: %d", conf.ChunkSize)
	if conf.RateLimit > 0 {
		log.Printf("rate limit: %.0f bytes/s (burst %d)", conf.RateLimit, conf.RateBurst)
	}
	if conf.Listen != "" {
		log.Printf("listen: %s", conf.Listen)
	}
	if conf.OutputDir != "" {
		log.Printf("output dir: %s", conf.OutputDir)
	}
}

// newSession builds the source chain for a gzip compressed CPTV stream
// read from r.
func newSession(r io.Reader, conf *Config) *decode.Session {
	var src source.ByteSource = source.NewReaderSource(r, conf.ChunkSize)
	if conf.RateLimit > 0 {
		src = source.NewThrottledSource(src, conf.RateLimit, conf.RateBurst)
	}
	src = source.NewGunzipSource(src, conf.ChunkSize)
	return decode.NewSession(src, cptv.NewEngine())
}

func logHeader(name string, h *cptv.Header) {
	log.Printf("%s: CPTV v%d %dx%d recorded %s", name, h.Version, h.Width, h.Height, h.Timestamp.Format("2006-01-02 15:04:05"))
	if h.DeviceName != "" {
		log.Printf("%s: device %s (%d)", name, h.DeviceName, h.DeviceID)
	}
	if h.Brand != "" || h.Model != "" {
		log.Printf("%s: camera %s %s (fps: %d)", name, h.Brand, h.Model, h.FPS)
	}
}

func logMetrics(name string, s *decode.Session) {
	s.Metrics().Each(func(metric string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			log.Printf("%s: %s: %d", name, metric, m.Count())
		case metrics.Histogram:
			log.Printf("%s: %s: mean %.0f max %d", name, metric, m.Mean(), m.Max())
		}
	})
}
