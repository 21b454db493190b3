// Package publish delivers extracted trap messages to a sink.
//
// A Publisher receives one trapextract.Message at a time. The sink format is
// chosen with a Codec: "json" writes one JSON object per line, "msgpack"
// writes a stream of MessagePack maps.
//
// Basic Usage:
//
//	codec, err := publish.NewCodec("json")
//	if err != nil {
//		log.Fatal(err)
//	}
//	pub, err := publish.Open("stdout", codec)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pub.Close()
//
//	if err := pub.Publish(ctx, msg); err != nil {
//		log.Printf("publish failed: %v", err)
//	}
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/geekxflood/olttrap/trapextract"
	"github.com/vmihailenco/msgpack/v5"
)

// Publisher hands messages to a downstream sink.
type Publisher interface {
	Publish(ctx context.Context, msg trapextract.Message) error
	Close() error
}

// Codec serializes a message into one sink frame.
type Codec interface {
	Name() string
	Encode(msg trapextract.Message) ([]byte, error)
}

// Supported codec names.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FormatJSON:
		return jsonCodec{}, nil
	case FormatMsgpack:
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported publish format: %s", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return FormatJSON }

// Encode writes the message as a single JSON line.
func (jsonCodec) Encode(msg trapextract.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return append(data, '\n'), nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return FormatMsgpack }

func (msgpackCodec) Encode(msg trapextract.Message) ([]byte, error) {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return data, nil
}

// WriterPublisher writes encoded messages to an io.Writer. It is safe for
// concurrent use; frames are never interleaved.
type WriterPublisher struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	codec  Codec
	closed bool
}

// NewWriterPublisher wraps w. Close does not close w.
func NewWriterPublisher(w io.Writer, codec Codec) *WriterPublisher {
	return &WriterPublisher{w: w, codec: codec}
}

// Open creates a publisher for "stdout", "stderr" or a file path. Files are
// created if needed and appended to.
func Open(output string, codec Codec) (*WriterPublisher, error) {
	switch output {
	case "", "stdout":
		return NewWriterPublisher(os.Stdout, codec), nil
	case "stderr":
		return NewWriterPublisher(os.Stderr, codec), nil
	}

	f, err := os.OpenFile(filepath.Clean(output), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("publish: open %s: %w", output, err)
	}
	p := NewWriterPublisher(f, codec)
	p.closer = f
	return p, nil
}

// Publish encodes msg and writes it as one frame.
func (p *WriterPublisher) Publish(ctx context.Context, msg trapextract.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := p.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("publish: publisher closed")
	}
	if _, err := p.w.Write(data); err != nil {
		return fmt.Errorf("publish: write: %w", err)
	}
	return nil
}

// Close stops the publisher and closes the file it opened, if any.
func (p *WriterPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// Multi fans messages out to several publishers. A failing publisher does not
// keep the others from receiving the message.
type Multi struct {
	publishers []Publisher
}

// NewMulti creates a fan-out publisher.
func NewMulti(publishers ...Publisher) *Multi {
	return &Multi{publishers: publishers}
}

// Publish delivers msg to every publisher and joins their errors.
func (m *Multi) Publish(ctx context.Context, msg trapextract.Message) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
