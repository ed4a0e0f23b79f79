// Copyright 2024 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package cptv

import (
	"time"
)

// Header holds the recording level metadata found at the start of a
// CPTV stream.
//
// MinValue and MaxValue are only meaningful when HasMinMax is set; they
// are not derived from the frames when the recording doesn't include
// them. TotalFrames is zero when unknown.
type Header struct {
	Version      int
	Timestamp    time.Time
	Width        int
	Height       int
	Compression  uint8
	DeviceName   string
	DeviceID     uint32
	PreviewSecs  int
	MotionConfig string
	Latitude     float32
	Longitude    float32
	FPS          int
	Brand        string
	Model        string
	Firmware     string
	CameraSerial uint32
	HasMinMax    bool
	MinValue     uint16
	MaxValue     uint16
	TotalFrames  int
}

func headerFromFields(version byte, f Fields) (*Header, error) {
	h := &Header{
		Version:     int(version),
		Width:       defaultCols,
		Height:      defaultRows,
		Compression: CompressionDelta,
	}

	var err error
	if f.Has(Timestamp) {
		if h.Timestamp, err = f.Timestamp(Timestamp); err != nil {
			return nil, err
		}
	}
	if f.Has(XResolution) {
		x, err := f.Uint32(XResolution)
		if err != nil {
			return nil, err
		}
		h.Width = int(x)
	}
	if f.Has(YResolution) {
		y, err := f.Uint32(YResolution)
		if err != nil {
			return nil, err
		}
		h.Height = int(y)
	}
	if f.Has(Compression) {
		if h.Compression, err = f.Uint8(Compression); err != nil {
			return nil, err
		}
	}

	// Optional descriptive fields. Missing fields are left at their
	// zero value.
	h.DeviceName, _ = f.String(DeviceName)
	h.DeviceID, _ = f.Uint32(DeviceID)
	if v, err := f.Uint8(PreviewSecs); err == nil {
		h.PreviewSecs = int(v)
	}
	h.MotionConfig, _ = f.String(MotionConfig)
	h.Latitude, _ = f.Float32(Latitude)
	h.Longitude, _ = f.Float32(Longitude)
	if v, err := f.Uint8(FPS); err == nil {
		h.FPS = int(v)
	}
	h.Brand, _ = f.String(Brand)
	h.Model, _ = f.String(Model)
	h.Firmware, _ = f.String(Firmware)
	h.CameraSerial, _ = f.Uint32(CameraSerial)
	if v, err := f.Uint16(NumFrames); err == nil {
		h.TotalFrames = int(v)
	}

	min, minErr := f.Uint16(MinValue)
	max, maxErr := f.Uint16(MaxValue)
	if minErr == nil && maxErr == nil {
		h.HasMinMax = true
		h.MinValue = min
		h.MaxValue = max
	}

	if h.Width <= 0 || h.Height <= 0 {
		return nil, errInvalidResolution(h.Width, h.Height)
	}
	return h, nil
}

func (h *Header) fields() (*FieldWriter, error) {
	ts := h.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := NewFieldWriter()
	fields.Timestamp(Timestamp, ts)
	fields.Uint32(XResolution, uint32(h.Width))
	fields.Uint32(YResolution, uint32(h.Height))
	fields.Uint8(Compression, CompressionDelta)

	strs := []struct {
		code byte
		v    string
	}{
		{DeviceName, h.DeviceName},
		{MotionConfig, h.MotionConfig},
		{Brand, h.Brand},
		{Model, h.Model},
		{Firmware, h.Firmware},
	}
	for _, s := range strs {
		if len(s.v) == 0 {
			continue
		}
		if err := fields.String(s.code, s.v); err != nil {
			return nil, err
		}
	}

	if h.DeviceID != 0 {
		fields.Uint32(DeviceID, h.DeviceID)
	}
	if h.PreviewSecs != 0 {
		fields.Uint8(PreviewSecs, uint8(h.PreviewSecs))
	}
	if h.Latitude != 0 || h.Longitude != 0 {
		fields.Float32(Latitude, h.Latitude)
		fields.Float32(Longitude, h.Longitude)
	}
	if h.FPS != 0 {
		fields.Uint8(FPS, uint8(h.FPS))
	}
	if h.CameraSerial != 0 {
		fields.Uint32(CameraSerial, h.CameraSerial)
	}
	if h.TotalFrames != 0 {
		fields.Uint16(NumFrames, uint16(h.TotalFrames))
	}
	if h.HasMinMax {
		fields.Uint16(MinValue, h.MinValue)
		fields.Uint16(MaxValue, h.MaxValue)
	}
	return fields, nil
}
