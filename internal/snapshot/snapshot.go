// Package snapshot records a session as a zstd compressed stream: one JSON
// header line followed by gob encoded frames.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"terra/internal/core"
	"terra/internal/telemetry"
)

// Version of the on-disk layout.
const Version = 1

// Header is the JSON line at the start of a recording. It carries enough of
// the session to rebuild it for replay.
type Header struct {
	Version int     `json:"version"`
	N       int     `json:"n"`
	Dx      float64 `json:"dx"`
	Dt      float64 `json:"dt"`
	Seed    int64   `json:"seed"`
	Sampler string  `json:"sampler"`
	Preset  string  `json:"preset"`
	Every   int     `json:"every"`
}

// Frame holds the interior cells of each field, row major, bottom row first.
type Frame struct {
	Tick     uint64
	Terrain  []float32
	Water    []float32
	Sediment []float32
	Mass     telemetry.Mass
}

// Capture copies the interior of the given fields into a frame.
func Capture(tick uint64, terrain, water, sediment *core.Field, m telemetry.Mass) Frame {
	return Frame{
		Tick:     tick,
		Terrain:  interior(terrain),
		Water:    interior(water),
		Sediment: interior(sediment),
		Mass:     m,
	}
}

func interior(f *core.Field) []float32 {
	if f == nil {
		return nil
	}
	n := f.N()
	out := make([]float32, 0, n*n)
	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			out = append(out, float32(f.At(col, row)))
		}
	}
	return out
}

// Recorder appends gob frames to a zstd stream after the header.
type Recorder struct {
	f   *os.File
	enc *zstd.Encoder
	bw  *bufio.Writer
	gob *gob.Encoder
	n   int

	frames int
}

// Create truncates path and writes the header.
func Create(path string, h Header) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	r, err := NewRecorder(f, h)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.f = f
	return r, nil
}

// NewRecorder writes the header to w. Closing the recorder does not close w.
func NewRecorder(w io.Writer, h Header) (*Recorder, error) {
	if h.N <= 0 {
		return nil, fmt.Errorf("snapshot: header n=%d", h.N)
	}
	h.Version = Version
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	hb, err := json.Marshal(h)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &Recorder{enc: enc, bw: bw, gob: gob.NewEncoder(bw), n: h.N}, nil
}

// Write appends one frame.
func (r *Recorder) Write(fr Frame) error {
	want := r.n * r.n
	if len(fr.Terrain) != want || len(fr.Water) != want || len(fr.Sediment) != want {
		return fmt.Errorf("snapshot: frame %d does not match n=%d: %w", fr.Tick, r.n, core.ErrShape)
	}
	if err := r.gob.Encode(&fr); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	r.frames++
	return nil
}

// Frames returns how many frames were written.
func (r *Recorder) Frames() int { return r.frames }

// Close flushes everything and closes the file opened by Create.
func (r *Recorder) Close() error {
	var errs []error
	if r.bw != nil {
		errs = append(errs, r.bw.Flush())
		r.bw = nil
	}
	if r.enc != nil {
		errs = append(errs, r.enc.Close())
		r.enc = nil
	}
	if r.f != nil {
		errs = append(errs, r.f.Close())
		r.f = nil
	}
	return errors.Join(errs...)
}

// Reader walks the frames of a recording in order.
type Reader struct {
	f      *os.File
	dec    *zstd.Decoder
	gob    *gob.Decoder
	header Header
}

// Open reads the header of a recording on disk.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.f = f
	return r, nil
}

// NewReader reads the header from rd.
func NewReader(rd io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(rd)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		dec.Close()
		return nil, fmt.Errorf("snapshot header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		dec.Close()
		return nil, fmt.Errorf("snapshot header: %w", err)
	}
	if h.Version != Version {
		dec.Close()
		return nil, fmt.Errorf("snapshot: unsupported version %d", h.Version)
	}
	return &Reader{dec: dec, gob: gob.NewDecoder(br), header: h}, nil
}

// Header returns the decoded header.
func (r *Reader) Header() Header { return r.header }

// Next returns the next frame or io.EOF after the last one.
func (r *Reader) Next() (Frame, error) {
	var fr Frame
	if err := r.gob.Decode(&fr); err != nil {
		if errors.Is(err, io.EOF) {
			return fr, io.EOF
		}
		return fr, fmt.Errorf("gob decode: %w", err)
	}
	return fr, nil
}

// Close releases the decoder and the file opened by Open.
func (r *Reader) Close() error {
	r.dec.Close()
	if r.f != nil {
		return r.f.Close()
	}
	return nil
}
