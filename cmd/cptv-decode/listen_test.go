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
	"bytes"
	"context"
	"io/ioutil"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/cptv-decoder/cptv"
	"github.com/TheCacophonyProject/cptv-decoder/loglimiter"
)

type notifyRecorder struct {
	mu     sync.Mutex
	states []string
}

func (n *notifyRecorder) notify(_ bool, state string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, state)
	return true, nil
}

func (n *notifyRecorder) count(state string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.states {
		if s == state {
			c++
		}
	}
	return c
}

func recordNotifications(t *testing.T) (*notifyRecorder, func()) {
	rec := new(notifyRecorder)
	orig := sdNotify
	sdNotify = rec.notify
	return rec, func() { sdNotify = orig }
}

func gzipRecording(t *testing.T, frames []*cptv.Frame) []byte {
	buf := new(bytes.Buffer)
	w := cptv.NewWriter(buf)
	require.NoError(t, w.WriteHeader(cptv.Header{
		Timestamp: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
		Width:     testCols,
		Height:    testRows,
	}))
	for _, f := range frames {
		require.NoError(t, w.WriteFrame(f))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestParseListenAddr(t *testing.T) {
	network, addr, err := parseListenAddr("unix:/var/run/cptv")
	require.NoError(t, err)
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/var/run/cptv", addr)

	network, addr, err = parseListenAddr("tcp:localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "localhost:8080", addr)

	for _, bad := range []string{"", "unix", "unix:", "udp:1234"} {
		_, _, err := parseListenAddr(bad)
		assert.Error(t, err, bad)
	}
}

func TestHandleConnSavesRecording(t *testing.T) {
	notes, restore := recordNotifications(t)
	defer restore()
	dir, cleanup := tempDir(t)
	defer cleanup()

	conf := testConfig()
	conf.OutputDir = dir
	conf.FramesPerWatchdog = 2
	s := &server{conf: conf, limiter: loglimiter.New(time.Minute)}

	frames := testFrames(5)
	data := gzipRecording(t, frames)
	client, serverConn := net.Pipe()
	go func() {
		client.Write(data)
		client.Close()
	}()

	require.NoError(t, s.handleConn(context.Background(), "test", serverConn))
	assert.Equal(t, 2, notes.count("WATCHDOG=1"))

	saved := filepath.Join(dir, "20240304-050607.000000.cptv")
	f, err := os.Open(saved)
	require.NoError(t, err)
	defer f.Close()
	session := newSession(f, conf)
	_, err = session.Header(context.Background())
	require.NoError(t, err)
	for _, expected := range frames {
		frame, err := session.NextFrame(context.Background())
		require.NoError(t, err)
		assert.Equal(t, expected.Pix, frame.Pix)
	}
}

func TestHandleConnCancelled(t *testing.T) {
	defer leaktest.Check(t)()

	s := &server{conf: testConfig(), limiter: loglimiter.New(time.Minute)}
	client, serverConn := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() {
		errc <- s.handleConn(ctx, "test", serverConn)
	}()

	// Send part of a stream then stall.
	data := gzipRecording(t, testFrames(3))
	_, err := client.Write(data[:20])
	require.NoError(t, err)
	cancel()

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("handleConn didn't return after cancel")
	}
}

func TestServe(t *testing.T) {
	defer leaktest.Check(t)()
	notes, restore := recordNotifications(t)
	defer restore()

	conf := testConfig()
	conf.FramesPerWatchdog = 1
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() {
		errc <- serve(ctx, ln, conf)
	}()

	data := gzipRecording(t, testFrames(3))
	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		_, err = conn.Write(data)
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}

	deadline := time.Now().Add(5 * time.Second)
	for notes.count("WATCHDOG=1") < 6 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 6, notes.count("WATCHDOG=1"))
	assert.Equal(t, 1, notes.count("READY=1"))

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve didn't return after cancel")
	}
}

func TestServeLimitsRepeatedErrors(t *testing.T) {
	defer leaktest.Check(t)()
	_, restore := recordNotifications(t)
	defer restore()

	logs := new(bytes.Buffer)
	log.SetOutput(logs)
	defer log.SetOutput(os.Stderr)

	conf := testConfig()
	conf.LogInterval = time.Hour
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() {
		errc <- serve(ctx, ln, conf)
	}()

	for i := 0; i < 5; i++ {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		_, err = conn.Write([]byte("this is not a gzip stream"))
		require.NoError(t, err)
		require.NoError(t, conn.(*net.TCPConn).CloseWrite())
		// The server closes its end once it has given up on the stream.
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err = ioutil.ReadAll(conn)
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve didn't return after cancel")
	}
	assert.Equal(t, 1, strings.Count(logs.String(), "connection error: reading: gzip: invalid header"), logs.String())
}

func TestCreateRecordingNameCollision(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	header := &cptv.Header{
		Timestamp: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
		Width:     testCols,
		Height:    testRows,
	}

	first, err := createRecording(dir, header)
	require.NoError(t, err)
	require.NoError(t, first.WriteHeader(*header))
	require.NoError(t, first.WriteFrame(testFrames(1)[0]))

	second, err := createRecording(dir, header)
	require.NoError(t, err)
	third, err := createRecording(dir, header)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "20240304-050607.000000.cptv"), first.Name())
	assert.Equal(t, filepath.Join(dir, "20240304-050607.000000-1.cptv"), second.Name())
	assert.Equal(t, filepath.Join(dir, "20240304-050607.000000-2.cptv"), third.Name())
	require.NoError(t, second.Close())
	require.NoError(t, third.Close())
	require.NoError(t, first.Close())

	f, err := os.Open(first.Name())
	require.NoError(t, err)
	defer f.Close()
	session := newSession(f, testConfig())
	defer session.Cancel()
	_, err = session.Header(context.Background())
	require.NoError(t, err)
	_, err = session.NextFrame(context.Background())
	require.NoError(t, err)
}
