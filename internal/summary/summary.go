// Package summary writes training summaries (scalars, histograms and images) of the GA3C
// network to a log directory.
//
// Scalars and histograms are appended as JSON lines to "events.jsonl", one record per value,
// and images are written as PNG files under "images/". The layout is meant to be easy to
// tail, plot or convert, not to be read by TensorBoard directly.
package summary

import (
	"bufio"
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	"image"
	"image/png"
	"k8s.io/klog/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EventsFileName is the name of the file with the scalars and histograms.
const EventsFileName = "events.jsonl"

// Kind of Event.
type Kind string

const (
	KindScalar    Kind = "scalar"
	KindHistogram Kind = "histogram"
	KindImage     Kind = "image"
)

// Event is one record of the events file.
type Event struct {
	WallTime  float64    `json:"wall_time"`
	Step      int64      `json:"step"`
	Tag       string     `json:"tag"`
	Kind      Kind       `json:"kind"`
	Value     float32    `json:"value"`
	Histogram *Histogram `json:"histogram,omitempty"`

	// Path of an image, relative to the log directory.
	Path string `json:"path,omitempty"`
}

// Writer of summaries. It is safe for concurrent use.
type Writer struct {
	dir string

	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	enc    *json.Encoder
	closed bool
}

// NewWriter creates dir if needed and opens (in append mode) its events file.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Join(dir, "images"), 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create summary directory %q", dir)
	}
	f, err := os.OpenFile(filepath.Join(dir, EventsFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open summary events file in %q", dir)
	}
	w := &Writer{dir: dir, file: f, buf: bufio.NewWriter(f)}
	w.enc = json.NewEncoder(w.buf)
	klog.V(1).Infof("Writing summaries to %s", dir)
	return w, nil
}

// Dir where summaries are written.
func (w *Writer) Dir() string { return w.dir }

func (w *Writer) write(e *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.Errorf("summary writer for %q already closed", w.dir)
	}
	e.WallTime = float64(time.Now().UnixNano()) / 1e9
	if err := w.enc.Encode(e); err != nil {
		return errors.Wrapf(err, "failed to write summary %q", e.Tag)
	}
	return nil
}

// Scalar records value for tag at the given step.
func (w *Writer) Scalar(step int64, tag string, value float32) error {
	return w.write(&Event{Step: step, Tag: tag, Kind: KindScalar, Value: value})
}

// Histogram records a histogram of values, with DefaultBuckets buckets.
func (w *Writer) Histogram(step int64, tag string, values []float32) error {
	h := NewHistogram(values, DefaultBuckets)
	return w.write(&Event{Step: step, Tag: tag, Kind: KindHistogram, Histogram: &h})
}

// Images writes each image as a PNG file and records an event pointing to it.
func (w *Writer) Images(step int64, tag string, images []image.Image) error {
	for idx, img := range images {
		relPath := filepath.Join("images", fmt.Sprintf("%s-%08d-%02d.png", sanitizeTag(tag), step, idx))
		if err := writePNG(filepath.Join(w.dir, relPath), img); err != nil {
			return err
		}
		if err := w.write(&Event{Step: step, Tag: tag, Kind: KindImage, Path: relPath}); err != nil {
			return err
		}
	}
	return nil
}

// Flush buffered events to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return errors.Wrap(w.buf.Flush(), "failed to flush summaries")
}

// Close flushes and closes the events file. Further writes fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return errors.Wrap(err, "failed to flush summaries")
	}
	return errors.Wrap(w.file.Close(), "failed to close summaries")
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create image %q", path)
	}
	if err = png.Encode(f, img); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to encode image %q", path)
	}
	return errors.Wrapf(f.Close(), "failed to close image %q", path)
}

// sanitizeTag makes a tag (usually a variable name, like "/trunk/dense/weights") usable as a
// file name.
func sanitizeTag(tag string) string {
	tag = strings.Trim(tag, "/")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, tag)
}
