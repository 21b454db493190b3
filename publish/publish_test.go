package publish

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/geekxflood/olttrap/trapextract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

var sampleMessage = trapextract.Message{
	Timestamp:   "15:54:12 2026/01/17",
	Serial:      "ADTN2424dc6c",
	TrapType:    "adGenGponOntSetLOSAlarm",
	OLTName:     "FB-SK-OLT-03",
	ONTLocation: "@1/2/12/7",
}

const sampleJSON = `{"timestamp":"15:54:12 2026/01/17","serial":"ADTN2424dc6c","trap_type":"adGenGponOntSetLOSAlarm","olt_name":"FB-SK-OLT-03","ont_location":"@1/2/12/7"}` + "\n"

func TestNewCodec(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{"default", "", FormatJSON, false},
		{"json", "json", FormatJSON, false},
		{"msgpack_mixed_case", " MsgPack ", FormatMsgpack, false},
		{"unknown", "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := NewCodec(tt.input)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, codec.Name())
		})
	}
}

func TestJSONCodec(t *testing.T) {
	codec, err := NewCodec(FormatJSON)
	require.NoError(t, err)

	data, err := codec.Encode(sampleMessage)
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(data))
}

func TestMsgpackCodec(t *testing.T) {
	codec, err := NewCodec(FormatMsgpack)
	require.NoError(t, err)

	data, err := codec.Encode(sampleMessage)
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, msgpack.Unmarshal(data, &fields))
	assert.Equal(t, map[string]string{
		"timestamp":    "15:54:12 2026/01/17",
		"serial":       "ADTN2424dc6c",
		"trap_type":    "adGenGponOntSetLOSAlarm",
		"olt_name":     "FB-SK-OLT-03",
		"ont_location": "@1/2/12/7",
	}, fields)
}

func TestWriterPublisher(t *testing.T) {
	codec, _ := NewCodec(FormatJSON)

	t.Run("writes_frames", func(t *testing.T) {
		var buf bytes.Buffer
		pub := NewWriterPublisher(&buf, codec)
		require.NoError(t, pub.Publish(context.Background(), sampleMessage))
		require.NoError(t, pub.Publish(context.Background(), sampleMessage))
		assert.Equal(t, sampleJSON+sampleJSON, buf.String())
	})

	t.Run("rejects_after_close", func(t *testing.T) {
		pub := NewWriterPublisher(&bytes.Buffer{}, codec)
		require.NoError(t, pub.Close())
		require.NoError(t, pub.Close())
		assert.Error(t, pub.Publish(context.Background(), sampleMessage))
	})

	t.Run("honors_cancelled_context", func(t *testing.T) {
		var buf bytes.Buffer
		pub := NewWriterPublisher(&buf, codec)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, pub.Publish(ctx, sampleMessage), context.Canceled)
		assert.Zero(t, buf.Len())
	})

	t.Run("concurrent_frames_do_not_interleave", func(t *testing.T) {
		var buf bytes.Buffer
		pub := NewWriterPublisher(&buf, codec)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, pub.Publish(context.Background(), sampleMessage))
			}()
		}
		wg.Wait()

		lines := strings.SplitAfter(buf.String(), "\n")
		assert.Len(t, lines, 21) // trailing empty element
		for _, line := range lines[:20] {
			assert.Equal(t, sampleJSON, line)
		}
	})
}

func TestOpenFile(t *testing.T) {
	codec, _ := NewCodec(FormatJSON)
	path := filepath.Join(t.TempDir(), "alarms.jsonl")

	for i := 0; i < 2; i++ {
		pub, err := Open(path, codec)
		require.NoError(t, err)
		require.NoError(t, pub.Publish(context.Background(), sampleMessage))
		require.NoError(t, pub.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleJSON+sampleJSON, string(data))
}

func TestOpenInvalidPath(t *testing.T) {
	codec, _ := NewCodec(FormatJSON)
	_, err := Open(filepath.Join(t.TempDir(), "missing", "alarms.jsonl"), codec)
	assert.Error(t, err)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, trapextract.Message) error { return f.err }
func (f failingPublisher) Close() error                                      { return f.err }

func TestMulti(t *testing.T) {
	codec, _ := NewCodec(FormatJSON)
	var buf bytes.Buffer
	boom := errors.New("broker unavailable")

	multi := NewMulti(failingPublisher{err: boom}, NewWriterPublisher(&buf, codec))

	err := multi.Publish(context.Background(), sampleMessage)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, sampleJSON, buf.String())
	assert.ErrorIs(t, multi.Close(), boom)
}
