// Copyright 2024 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package cptv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrIncomplete is returned by the section parsers when the buffer
// ends before the section does. More bytes are needed.
var ErrIncomplete = errors.New("incomplete section")

// sectionReader reads fixed sized values from an in-memory buffer,
// returning ErrIncomplete instead of blocking when data runs out.
type sectionReader struct {
	buf []byte
	pos int
}

func (r *sectionReader) consumed() int {
	return r.pos
}

func (r *sectionReader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrIncomplete
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *sectionReader) ReadN(n int) ([]byte, error) {
	if n > len(r.buf)-r.pos {
		return nil, ErrIncomplete
	}
	out := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *sectionReader) checkByte(label string, expected byte) error {
	actual, err := r.ReadByte()
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("unexpected %s: %d", label, actual)
	}
	return nil
}

func (r *sectionReader) readFields() (Fields, error) {
	fieldCount, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	f := make(Fields, fieldCount)
	for i := 0; i < int(fieldCount); i++ {
		size, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		code, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data, err := r.ReadN(int(size))
		if err != nil {
			return nil, err
		}
		f[code] = data
	}
	return f, nil
}

// errFieldNotFound is returned by the Fields getters for absent keys.
var errFieldNotFound = errors.New("not found")

// Fields maps from field key -> field data
type Fields map[byte][]byte

// Has reports whether the field at 'key' is present.
func (f Fields) Has(key byte) bool {
	_, ok := f[key]
	return ok
}

// Uint8 returns the field at 'key' as a uint8
func (f Fields) Uint8(key byte) (uint8, error) {
	buf, err := f.get(key, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Uint16 returns the field at 'key' as a uint16
func (f Fields) Uint16(key byte) (uint16, error) {
	buf, err := f.get(key, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// Uint32 returns the field at 'key' as a uint32
func (f Fields) Uint32(key byte) (uint32, error) {
	buf, err := f.get(key, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// Uint64 returns the field at 'key' as a uint64
func (f Fields) Uint64(key byte) (uint64, error) {
	buf, err := f.get(key, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// Float32 returns the field at 'key' as a float32
func (f Fields) Float32(key byte) (float32, error) {
	v, err := f.Uint32(key)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// Timestamp returns the field at 'key' as a time value. Timestamps
// are stored as microseconds since the epoch.
func (f Fields) Timestamp(key byte) (time.Time, error) {
	tRaw, err := f.Uint64(key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(tRaw*1000)), nil
}

// String returns the field at 'key' as a character string
func (f Fields) String(key byte) (string, error) {
	buf, ok := f[key]
	if !ok {
		return "", errFieldNotFound
	}
	return string(buf), nil
}

// get returns the field at 'key' as a byte array after checking
// its size vs expectedLen
func (f Fields) get(key byte, expectedLen int) ([]byte, error) {
	buf, ok := f[key]
	if !ok {
		return nil, errFieldNotFound
	}
	if len(buf) != expectedLen {
		return nil, fmt.Errorf("field %q: expected length %d, got %d", key, expectedLen, len(buf))
	}
	return buf, nil
}

// NewFieldWriter creates a new FieldWriter
func NewFieldWriter() *FieldWriter {
	return &FieldWriter{
		data: make([]byte, 0, 128),
	}
}

// FieldWriter generates CPTV encoded fields.
type FieldWriter struct {
	data       []byte
	fieldCount uint8
}

// Uint8 writes a uint8 field with key 'code' and value 'v'
func (f *FieldWriter) Uint8(code byte, v uint8) {
	f.data = append(f.data, byte(1), code, v)
	f.fieldCount++
}

// Uint16 writes a uint16 field with key 'code' and value 'v'
func (f *FieldWriter) Uint16(code byte, v uint16) {
	b := []byte{2, code, 0, 0}
	binary.LittleEndian.PutUint16(b[2:], v)
	f.data = append(f.data, b...)
	f.fieldCount++
}

// Uint32 writes a uint32 field with key 'code' and value 'v'
func (f *FieldWriter) Uint32(code byte, v uint32) {
	b := []byte{4, code, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(b[2:], v)
	f.data = append(f.data, b...)
	f.fieldCount++
}

// Uint64 writes a uint64 field with key 'code' and value 'v'
func (f *FieldWriter) Uint64(code byte, v uint64) {
	b := []byte{8, code, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(b[2:], v)
	f.data = append(f.data, b...)
	f.fieldCount++
}

// Float32 writes a float32 field with key 'code' and value 'v'
func (f *FieldWriter) Float32(code byte, v float32) {
	f.Uint32(code, math.Float32bits(v))
}

// Timestamp writes a time field with key 'code' and value 't'
func (f *FieldWriter) Timestamp(code byte, t time.Time) {
	f.Uint64(code, uint64(t.UnixNano()/1000))
}

// String writes a character string field with key 'code' and value 'v'
func (f *FieldWriter) String(code byte, v string) error {
	if len(v) > 255 {
		return fmt.Errorf("string length %d greater than 255", len(v))
	}
	f.data = append(f.data, byte(len(v)), code)
	f.data = append(f.data, v...)
	f.fieldCount++
	return nil
}
