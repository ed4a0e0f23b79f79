// Copyright 2024 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package cptv

const (
	magic         = "CPTV"
	version1 byte = 0x01
	version2 byte = 0x02

	headerSection = 'H'
	frameSection  = 'F'

	// Header field keys
	Timestamp    byte = 'T'
	XResolution  byte = 'X'
	YResolution  byte = 'Y'
	Compression  byte = 'C'
	DeviceName   byte = 'D'
	DeviceID     byte = 'I'
	PreviewSecs  byte = 'P'
	MotionConfig byte = 'M'
	Latitude     byte = 'L'
	Longitude    byte = 'O'
	FPS          byte = 'Z'
	Model        byte = 'E'
	Brand        byte = 'B'
	Firmware     byte = 'V'
	CameraSerial byte = 'N'
	MinValue     byte = 'Q'
	MaxValue     byte = 'K'
	NumFrames    byte = 'J'

	// Frame field keys
	TimeOn          byte = 't'
	BitWidth        byte = 'w'
	FrameSize       byte = 'f'
	LastFFCTime     byte = 'c'
	FrameTempC      byte = 'a'
	LastFFCTempC    byte = 'b'
	BackgroundFrame byte = 'g'
)

// Compression schemes for frame data.
const (
	CompressionNone  uint8 = 0
	CompressionDelta uint8 = 1
)
