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
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/TheCacophonyProject/cptv-decoder/source"
)

const defaultConfigFile = "/etc/cptv-decode.yaml"

type Config struct {
	ChunkSize         int           `yaml:"chunk-size"`
	RateLimit         float64       `yaml:"rate-limit"`
	RateBurst         int64         `yaml:"rate-burst"`
	Listen            string        `yaml:"listen"`
	OutputDir         string        `yaml:"output-dir"`
	FramesPerWatchdog int           `yaml:"frames-per-watchdog"`
	LogInterval       time.Duration `yaml:"log-interval"`
}

var defaultConfig = Config{
	ChunkSize:         source.DefaultChunkSize,
	FramesPerWatchdog: 5 * 9, // ~5s of frames from a Lepton 3
	LogInterval:       time.Minute,
}

// ParseConfigFile reads the configuration at filename. A missing file
// gives the default configuration.
func ParseConfigFile(filename string) (*Config, error) {
	buf, err := ioutil.ReadFile(filename)
	if os.IsNotExist(err) {
		buf, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	conf := defaultConfig
	if err := yaml.Unmarshal(buf, &conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks the configuration, filling in the rate limiter burst
// when it isn't given.
func (conf *Config) Validate() error {
	if conf.ChunkSize < 0 {
		return fmt.Errorf("chunk-size must not be negative: %d", conf.ChunkSize)
	}
	if conf.RateLimit < 0 {
		return errors.New("rate-limit must not be negative")
	}
	if conf.RateBurst < 0 {
		return errors.New("rate-burst must not be negative")
	}
	if conf.RateLimit > 0 && conf.RateBurst == 0 {
		conf.RateBurst = int64(conf.ChunkSize)
		if conf.RateBurst == 0 {
			conf.RateBurst = source.DefaultChunkSize
		}
	}
	if conf.FramesPerWatchdog <= 0 {
		return fmt.Errorf("frames-per-watchdog must be positive: %d", conf.FramesPerWatchdog)
	}
	if conf.LogInterval < 0 {
		return errors.New("log-interval must not be negative")
	}
	if conf.Listen != "" {
		if _, _, err := parseListenAddr(conf.Listen); err != nil {
			return err
		}
	}
	return nil
}
