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
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/TheCacophonyProject/cptv-decoder/cptv"
	"github.com/TheCacophonyProject/cptv-decoder/loglimiter"
)

const frameRateLogFrames = 100

// sdNotify is replaced in tests.
var sdNotify = daemon.SdNotify

// parseListenAddr splits a listen address of the form unix:PATH or
// tcp:HOST:PORT into its network and address.
func parseListenAddr(addr string) (string, string, error) {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid listen address %q, expected unix:PATH or tcp:HOST:PORT", addr)
	}
	switch parts[0] {
	case "unix", "tcp":
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("unsupported listen network %q", parts[0])
	}
}

// listen accepts connections until ctx is done. Each connection carries
// one gzip compressed CPTV stream which is decoded by its own session.
func listen(ctx context.Context, conf *Config) error {
	network, address, err := parseListenAddr(conf.Listen)
	if err != nil {
		return err
	}
	if network == "unix" {
		os.Remove(address)
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return serve(ctx, ln, conf)
}

func serve(ctx context.Context, ln net.Listener, conf *Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s := &server{
		conf:    conf,
		limiter: loglimiter.New(conf.LogInterval),
	}
	sdNotify(false, "READY=1")
	log.Printf("listening on %s", ln.Addr())

	var g errgroup.Group
	var err error
	for connID := 1; ; connID++ {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil {
				err = aerr
			}
			break
		}
		name := fmt.Sprintf("connection %d", connID)
		g.Go(func() error {
			if err := s.handleConn(ctx, name, conn); err != nil {
				s.limiter.Printf("connection error: %v", err)
			}
			return nil
		})
	}
	cancel()
	g.Wait()
	return err
}

type server struct {
	conf    *Config
	limiter *loglimiter.LogLimiter
	frames  int64
}

// handleConn decodes one stream, saving it to the output directory as
// a new recording if one is configured.
func (s *server) handleConn(ctx context.Context, name string, conn net.Conn) (err error) {
	defer conn.Close()
	session := newSession(conn, s.conf)
	defer session.Cancel()
	stop := context.AfterFunc(ctx, func() { session.Cancel() })
	defer stop()

	header, err := session.Header(ctx)
	if err != nil {
		return err
	}
	logHeader(name, header)

	var out *cptv.FileWriter
	if s.conf.OutputDir != "" {
		out, err = createRecording(s.conf.OutputDir, header)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := out.Close(); err == nil {
				err = cerr
			}
		}()
		if err := out.WriteHeader(*header); err != nil {
			return err
		}
		log.Printf("%s: saving to %s", name, out.Name())
	}

	totalFrames := 0
	count := 0
	t0 := time.Now()
	for {
		frame, err := session.NextFrame(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		totalFrames++
		s.frameReceived()

		count++
		if count == frameRateLogFrames {
			t1 := time.Now()
			log.Printf("%s: %.1f Hz", name, float64(count)/t1.Sub(t0).Seconds())
			t0 = t1
			count = 0
		}

		if out != nil {
			if err := out.WriteFrame(frame); err != nil {
				return err
			}
		}
	}
	log.Printf("%s: %d frames", name, totalFrames)
	logMetrics(name, session)
	return nil
}

// frameReceived pets the systemd watchdog every FramesPerWatchdog
// frames, counted across all connections.
func (s *server) frameReceived() {
	if atomic.AddInt64(&s.frames, 1)%int64(s.conf.FramesPerWatchdog) == 0 {
		sdNotify(false, "WATCHDOG=1")
	}
}

// Suffixed names tried when recordings share a timestamp.
const maxNameAttempts = 100

// createRecording creates a new recording in outDir named after the
// header's timestamp. A numeric suffix is added if another connection
// already has a recording with that name.
func createRecording(outDir string, h *cptv.Header) (*cptv.FileWriter, error) {
	ts := h.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	base := ts.UTC().Format("20060102-150405.000000")
	for i := 0; i < maxNameAttempts; i++ {
		name := base + ".cptv"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.cptv", base, i)
		}
		out, err := cptv.NewExclusiveFileWriter(filepath.Join(outDir, name))
		if !os.IsExist(err) {
			return out, err
		}
	}
	return nil, fmt.Errorf("no free file name for %s in %s", base, outDir)
}
