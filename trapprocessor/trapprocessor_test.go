package trapprocessor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/geekxflood/olttrap/logging"
	"github.com/geekxflood/olttrap/ruler"
	"github.com/geekxflood/olttrap/trapextract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher implements publish.Publisher for testing.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []trapextract.Message
	failFor  string
	closed   bool
}

func (r *recordingPublisher) Publish(_ context.Context, msg trapextract.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor != "" && msg.OLTName == r.failFor {
		return errors.New("broker unavailable")
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingPublisher) oltNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		names = append(names, m.OLTName)
	}
	sort.Strings(names)
	return names
}

// trapDocument builds a minimal LOS alarm dump from olt.
func trapDocument(olt string, ont int) string {
	return fmt.Sprintf(`15:54:12 2026/01/17 PDU INFO:
    version                        1
    notificationtype               INFORM
    VARBINDS:
    SNMPv2-MIB::snmpTrapOID.0      type=6  value=OID: ADTRAN-GENGPON-MIB::adGenGponOntSetLOSAlarm
    SNMPv2-MIB::sysName.0          type=4  value=STRING: "%s"
    IF-MIB::ifDescr.1647320064     type=4  value=STRING: "Shelf: 1, Slot: 2, Pon: 12, ONT: %d, ONT Serial No: ADTN2424dc6c, ONT Reg ID: "
`, olt, ont)
}

const unrecognizedDocument = `15:55:00 2026/01/17 PDU INFO:
    VARBINDS:
    SNMPv2-MIB::snmpTrapOID.0      type=6  value=OID: IF-MIB::linkDown
`

func newTestProcessor(t *testing.T, config any, pub *recordingPublisher) *Processor {
	t.Helper()
	p, err := New(config, pub, WithLogger(logging.Discard()))
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		config      any
		expectError bool
	}{
		{name: "nil config", config: nil},
		{name: "empty map", config: map[string]any{}},
		{
			name: "nested config",
			config: map[string]any{
				"worker_pool":       map[string]any{"enabled": true, "size": 8},
				"queue_size":        16,
				"max_document_size": 4096,
			},
		},
		{name: "flat config", config: map[string]any{"worker_pool_size": 2, "worker_pool_enabled": false}},
		{name: "invalid type", config: "invalid", expectError: true},
		{name: "pool too large", config: map[string]any{"worker_pool": map[string]any{"size": 5000}}, expectError: true},
		{name: "flat pool too large", config: map[string]any{"worker_pool_size": 1001}, expectError: true},
		{name: "negative queue", config: map[string]any{"queue_size": -1}, expectError: true},
		{name: "tiny documents", config: map[string]any{"max_document_size": 10}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.config, &recordingPublisher{})
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, p)
		})
	}

	t.Run("nil publisher", func(t *testing.T) {
		_, err := New(nil, nil)
		assert.Error(t, err)
	})
}

func TestConfigParsing(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := parseConfig(map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.GetWorkerPoolSize())
		assert.True(t, cfg.GetWorkerPoolEnabled())
		assert.Equal(t, 64, cfg.GetQueueSize())
		assert.Equal(t, 65536, cfg.GetMaxDocumentSize())
	})

	t.Run("nested values from decoded yaml", func(t *testing.T) {
		cfg, err := parseConfig(map[string]any{
			"worker_pool":       map[string]any{"enabled": false, "size": float64(12)},
			"queue_size":        int64(32),
			"max_document_size": 8192,
		})
		require.NoError(t, err)
		assert.Equal(t, 12, cfg.GetWorkerPoolSize())
		assert.False(t, cfg.GetWorkerPoolEnabled())
		assert.Equal(t, 32, cfg.GetQueueSize())
		assert.Equal(t, 8192, cfg.GetMaxDocumentSize())
	})

	t.Run("flat keys override nested", func(t *testing.T) {
		cfg, err := parseConfig(map[string]any{
			"worker_pool":      map[string]any{"size": 3},
			"worker_pool_size": 9,
		})
		require.NoError(t, err)
		assert.Equal(t, 9, cfg.GetWorkerPoolSize())
	})

	t.Run("config interface", func(t *testing.T) {
		src := &configImpl{workerPoolSize: 2, workerPoolEnabled: false, queueSize: 5, maxDocumentSize: 1024}
		cfg, err := parseConfig(Config(src))
		require.NoError(t, err)
		assert.Equal(t, src, cfg)
	})

	t.Run("invalid config interface", func(t *testing.T) {
		_, err := parseConfig(Config(&configImpl{workerPoolSize: 0, queueSize: 1, maxDocumentSize: 1024}))
		assert.Error(t, err)
	})
}

func TestHelperFunctions(t *testing.T) {
	m := map[string]any{"int": 3, "int64": int64(4), "float": 5.0, "str": "x", "bool": true}

	assert.Equal(t, 3, getIntValue(m, "int"))
	assert.Equal(t, 4, getIntValue(m, "int64"))
	assert.Equal(t, 5, getIntValue(m, "float"))
	assert.Equal(t, 0, getIntValue(m, "str"))
	assert.Equal(t, 0, getIntValue(m, "missing"))

	require.NotNil(t, getBoolValue(m, "bool"))
	assert.True(t, *getBoolValue(m, "bool"))
	assert.Nil(t, getBoolValue(m, "str"))
}

func TestProcessDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes extracted message", func(t *testing.T) {
		pub := &recordingPublisher{}
		p := newTestProcessor(t, nil, pub)

		require.NoError(t, p.ProcessDocument(ctx, Document{ID: 1, Text: trapDocument("FB-SK-OLT-03", 7)}))
		require.Len(t, pub.messages, 1)
		assert.Equal(t, trapextract.Message{
			Timestamp:   "15:54:12 2026/01/17",
			Serial:      "ADTN2424dc6c",
			TrapType:    "adGenGponOntSetLOSAlarm",
			OLTName:     "FB-SK-OLT-03",
			ONTLocation: "@1/2/12/7",
		}, pub.messages[0])
		assert.Equal(t, Stats{Received: 1, Published: 1}, p.Stats())
	})

	t.Run("drops misses", func(t *testing.T) {
		pub := &recordingPublisher{}
		p := newTestProcessor(t, nil, pub)

		require.NoError(t, p.ProcessDocument(ctx, Document{ID: 1, Text: unrecognizedDocument}))
		assert.Empty(t, pub.messages)
		assert.Equal(t, Stats{Received: 1, Dropped: 1}, p.Stats())
	})

	t.Run("drops truncated documents", func(t *testing.T) {
		pub := &recordingPublisher{}
		p := newTestProcessor(t, nil, pub)

		doc := Document{ID: 1, Text: trapDocument("FB-SK-OLT-03", 7), Truncated: true}
		require.NoError(t, p.ProcessDocument(ctx, doc))
		assert.Empty(t, pub.messages)
		assert.Equal(t, Stats{Received: 1, Dropped: 1}, p.Stats())
	})

	t.Run("reports publish failures", func(t *testing.T) {
		pub := &recordingPublisher{failFor: "FB-SK-OLT-03"}
		p := newTestProcessor(t, nil, pub)

		err := p.ProcessDocument(ctx, Document{ID: 9, Text: trapDocument("FB-SK-OLT-03", 7)})
		assert.ErrorContains(t, err, "document 9")
		assert.Equal(t, Stats{Received: 1, Failed: 1}, p.Stats())
	})

	t.Run("filters alarms dropped by rules", func(t *testing.T) {
		rules, err := ruler.New(map[string]any{
			"enabled": true,
			"rules": []any{
				map[string]any{"name": "lab", "expr": `olt_name == "LAB-OLT-01"`},
			},
		})
		require.NoError(t, err)

		pub := &recordingPublisher{}
		p, err := New(nil, pub, WithLogger(logging.Discard()), WithRuler(rules))
		require.NoError(t, err)

		require.NoError(t, p.ProcessDocument(ctx, Document{ID: 1, Text: trapDocument("LAB-OLT-01", 1)}))
		require.NoError(t, p.ProcessDocument(ctx, Document{ID: 2, Text: trapDocument("FB-SK-OLT-03", 2)}))
		assert.Equal(t, []string{"FB-SK-OLT-03"}, pub.oltNames())
		assert.Equal(t, Stats{Received: 2, Published: 1, Filtered: 1}, p.Stats())
		assert.Equal(t, uint64(1), rules.Stats().Drops)
	})
}

func TestRun(t *testing.T) {
	var stream strings.Builder
	stream.WriteString("\n")
	for i := 0; i < 40; i++ {
		stream.WriteString(trapDocument(fmt.Sprintf("olt-%02d", i), i))
		if i%10 == 0 {
			stream.WriteString(unrecognizedDocument)
		}
	}

	for _, enabled := range []bool{true, false} {
		t.Run(fmt.Sprintf("worker_pool_enabled=%v", enabled), func(t *testing.T) {
			pub := &recordingPublisher{failFor: "olt-13"}
			p := newTestProcessor(t, map[string]any{
				"worker_pool": map[string]any{"enabled": enabled, "size": 4},
				"queue_size":  2,
			}, pub)

			require.NoError(t, p.Run(context.Background(), strings.NewReader(stream.String())))

			assert.Equal(t, Stats{Received: 44, Published: 39, Dropped: 4, Failed: 1}, p.Stats())
			names := pub.oltNames()
			assert.Len(t, names, 39)
			assert.NotContains(t, names, "olt-13")
			assert.Equal(t, "olt-00", names[0])
			assert.Equal(t, "olt-39", names[38])

			require.NoError(t, p.Close())
			assert.True(t, pub.closed)
		})
	}
}

func TestRunCancelled(t *testing.T) {
	pub := &recordingPublisher{}
	p := newTestProcessor(t, nil, pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, strings.NewReader(trapDocument("olt-1", 1)+trapDocument("olt-2", 2)))
	assert.ErrorIs(t, err, context.Canceled)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestRunReadError(t *testing.T) {
	p := newTestProcessor(t, nil, &recordingPublisher{})
	err := p.Run(context.Background(), failingReader{})
	assert.ErrorContains(t, err, "disk on fire")
}

func TestWorkerPool(t *testing.T) {
	t.Run("rejects nil arguments", func(t *testing.T) {
		_, err := NewWorkerPool(nil, &Processor{})
		assert.Error(t, err)
		_, err = NewWorkerPool(&configImpl{workerPoolSize: 1, queueSize: 1}, nil)
		assert.Error(t, err)
	})

	t.Run("drains queue on stop", func(t *testing.T) {
		pub := &recordingPublisher{}
		p := newTestProcessor(t, nil, pub)
		pool, err := NewWorkerPool(&configImpl{workerPoolSize: 2, workerPoolEnabled: true, queueSize: 8}, p)
		require.NoError(t, err)
		require.NoError(t, pool.Start(context.Background()))

		for i := 0; i < 8; i++ {
			require.NoError(t, pool.Submit(context.Background(), Document{ID: uint64(i + 1), Text: trapDocument("olt", i)}))
		}
		pool.Stop(context.Background())
		pool.Stop(context.Background())

		assert.Equal(t, uint64(8), p.Stats().Published)
	})
}

func TestReader(t *testing.T) {
	collect := func(t *testing.T, input string, maxSize int) []Document {
		t.Helper()
		r := NewReader(strings.NewReader(input), maxSize)
		var docs []Document
		for {
			doc, err := r.Next()
			if errors.Is(err, io.EOF) {
				return docs
			}
			require.NoError(t, err)
			docs = append(docs, doc)
		}
	}

	t.Run("splits at header lines", func(t *testing.T) {
		docs := collect(t, trapDocument("a", 1)+trapDocument("b", 2), 65536)
		require.Len(t, docs, 2)
		assert.Equal(t, uint64(1), docs[0].ID)
		assert.Equal(t, uint64(2), docs[1].ID)
		assert.Equal(t, trapDocument("a", 1), docs[0].Text)
		assert.Equal(t, trapDocument("b", 2), docs[1].Text)
	})

	t.Run("normalizes crlf", func(t *testing.T) {
		docs := collect(t, strings.ReplaceAll(trapDocument("a", 1), "\n", "\r\n"), 65536)
		require.Len(t, docs, 1)
		assert.Equal(t, trapDocument("a", 1), docs[0].Text)
	})

	t.Run("keeps a final line without newline", func(t *testing.T) {
		docs := collect(t, strings.TrimSuffix(trapDocument("a", 1), "\n"), 65536)
		require.Len(t, docs, 1)
		assert.Equal(t, trapDocument("a", 1), docs[0].Text)
	})

	t.Run("skips blank preamble and keeps other preamble", func(t *testing.T) {
		docs := collect(t, "\n  \n"+trapDocument("a", 1), 65536)
		require.Len(t, docs, 1)

		docs = collect(t, "garbage\n"+trapDocument("a", 1), 65536)
		require.Len(t, docs, 2)
		assert.Equal(t, "garbage\n", docs[0].Text)
	})

	t.Run("indented header does not split", func(t *testing.T) {
		input := trapDocument("a", 1) + "  " + trapDocument("b", 2)
		docs := collect(t, input, 65536)
		assert.Len(t, docs, 1)
	})

	t.Run("marks oversized documents", func(t *testing.T) {
		big := trapDocument("a", 1) + strings.Repeat("    filler line\n", 100)
		docs := collect(t, big+trapDocument("b", 2), 1024)
		require.Len(t, docs, 2)
		assert.True(t, docs[0].Truncated)
		assert.LessOrEqual(t, len(docs[0].Text), 1024)
		assert.False(t, docs[1].Truncated)
	})

	t.Run("marks overlong lines", func(t *testing.T) {
		input := trapDocument("a", 1) + strings.Repeat("x", 8192) + "\n" + trapDocument("b", 2)
		docs := collect(t, input, 1024)
		require.Len(t, docs, 2)
		assert.True(t, docs[0].Truncated)
		assert.False(t, docs[1].Truncated)
		assert.Equal(t, trapDocument("b", 2), docs[1].Text)
	})

	t.Run("empty stream", func(t *testing.T) {
		assert.Empty(t, collect(t, "", 1024))
	})
}
