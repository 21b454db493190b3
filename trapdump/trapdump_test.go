package trapdump

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/geekxflood/olttrap/snmptranslate"
	"github.com/geekxflood/olttrap/trapextract"
	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bundledTranslator(t *testing.T) snmptranslate.Translator {
	t.Helper()
	tr := snmptranslate.New()
	require.NoError(t, tr.Init(""))
	require.NoError(t, LoadBundledMIBs(tr))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRenderSample(t *testing.T) {
	renderer, err := NewRenderer(bundledTranslator(t))
	require.NoError(t, err)

	packet, hdr := SamplePacket()
	doc, err := renderer.Render(packet, hdr)
	require.NoError(t, err)
	assert.Equal(t, SampleDocument, doc)
}

func TestRenderFeedsExtractor(t *testing.T) {
	renderer, err := NewRenderer(bundledTranslator(t))
	require.NoError(t, err)

	packet, hdr := SamplePacket()
	doc, err := renderer.Render(packet, hdr)
	require.NoError(t, err)

	rec, ok := trapextract.Extract(doc)
	require.True(t, ok)
	assert.Equal(t, trapextract.Record{
		Timestamp:   "15:54:12 2026/01/17",
		TrapType:    "adGenGponOntSetLOSAlarm",
		OLTName:     "FB-SK-OLT-03",
		ONTLocation: "@1/2/12/7",
		ONTSerial:   "ADTN2424dc6c",
	}, rec)
}

func TestRenderQuotedNameRoundTrip(t *testing.T) {
	renderer, err := NewRenderer(bundledTranslator(t))
	require.NoError(t, err)

	packet, hdr := SamplePacket()
	vars := append([]gosnmp.SnmpPDU(nil), packet.Variables...)
	for i := range vars {
		if vars[i].Name == ".1.3.6.1.2.1.1.5.0" {
			vars[i].Value = []byte(`FB "SK" OLT\03`)
		}
	}
	packet.Variables = vars

	doc, err := renderer.Render(packet, hdr)
	require.NoError(t, err)
	assert.Contains(t, doc, `value=STRING: "FB \"SK\" OLT\\03"`)

	rec, ok := trapextract.Extract(doc)
	require.True(t, ok)
	assert.Equal(t, `FB "SK" OLT\03`, rec.OLTName)
}

func TestRenderTranslatesInOneBatch(t *testing.T) {
	translator := bundledTranslator(t)
	renderer, err := NewRenderer(translator)
	require.NoError(t, err)

	packet, hdr := SamplePacket()
	_, err = renderer.Render(packet, hdr)
	require.NoError(t, err)

	// every varbind name plus the trap OID value
	stats := translator.GetStats()
	assert.Equal(t, int64(len(packet.Variables)+1), stats.TranslationCount)
}

func TestRenderWithUninitializedTranslator(t *testing.T) {
	renderer, err := NewRenderer(snmptranslate.New())
	require.NoError(t, err)

	doc, err := renderer.Render(&gosnmp.SnmpPacket{Variables: []gosnmp.SnmpPDU{
		{Name: ".1.3.6.1.2.1.1.5.0", Type: gosnmp.OctetString, Value: "olt"},
	}}, Header{})
	require.NoError(t, err)
	assert.Contains(t, doc, ".1.3.6.1.2.1.1.5.0             type=4  value=STRING: \"olt\"\n")
}

func TestRenderWithoutVendorMIBs(t *testing.T) {
	renderer, err := NewRenderer(nil)
	require.NoError(t, err)

	packet, hdr := SamplePacket()
	doc, err := renderer.Render(packet, hdr)
	require.NoError(t, err)

	assert.Contains(t, doc, "SNMPv2-MIB::snmpTrapOID.0      type=6  value=OID: .1.3.6.1.4.1.664.5.123.0.12\n")
	assert.Contains(t, doc, "SNMPv2-MIB::sysName.0          type=4  value=STRING: \"FB-SK-OLT-03\"\n")

	// the trap OID is not in the recognized module, so nothing is extracted
	_, ok := trapextract.Extract(doc)
	assert.False(t, ok)
}

func TestRenderErrors(t *testing.T) {
	renderer, err := NewRenderer(nil)
	require.NoError(t, err)

	t.Run("nil_packet", func(t *testing.T) {
		_, err := renderer.Render(nil, Header{})
		assert.Error(t, err)
	})

	t.Run("bad_octet_string", func(t *testing.T) {
		packet := &gosnmp.SnmpPacket{Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.1.5.0", Type: gosnmp.OctetString, Value: 42},
		}}
		_, err := renderer.Render(packet, Header{})
		assert.ErrorContains(t, err, "varbind 0")
	})

	t.Run("bad_oid", func(t *testing.T) {
		packet := &gosnmp.SnmpPacket{Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.6.3.1.1.4.1.0", Type: gosnmp.ObjectIdentifier, Value: []byte("x")},
		}}
		_, err := renderer.Render(packet, Header{})
		assert.Error(t, err)
	})
}

func TestRenderHeader(t *testing.T) {
	renderer, err := NewRenderer(nil)
	require.NoError(t, err)

	packet := &gosnmp.SnmpPacket{
		Version:   gosnmp.Version1,
		Community: "private",
		PDUType:   gosnmp.Trap,
		MsgID:     9,
	}
	doc, err := renderer.Render(packet, Header{
		ReceivedAt: time.Date(2025, time.March, 4, 5, 6, 7, 0, time.UTC),
		Source:     &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 1024},
	})
	require.NoError(t, err)

	lines := strings.Split(doc, "\n")
	assert.Equal(t, "05:06:07 2025/03/04 PDU INFO:", lines[0])
	assert.Contains(t, doc, "    version                        0\n")
	assert.Contains(t, doc, "    notificationtype               TRAP\n")
	assert.Contains(t, doc, "    community                      private\n")
	assert.Contains(t, doc, "    receivedfrom                   UDP: [192.0.2.1]:1024->[0.0.0.0]:0\n")
	assert.Contains(t, doc, "    messageid                      9\n")
	assert.True(t, strings.HasSuffix(doc, "    VARBINDS:\n"))
}

func TestRenderValues(t *testing.T) {
	renderer, err := NewRenderer(nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		pdu      gosnmp.SnmpPDU
		expected string
	}{
		{"counter32", gosnmp.SnmpPDU{Name: ".1.3.9.1", Type: gosnmp.Counter32, Value: uint(12)}, "type=65 value=Counter32: 12"},
		{"gauge32", gosnmp.SnmpPDU{Name: ".1.3.9.1", Type: gosnmp.Gauge32, Value: uint(7)}, "type=66 value=Gauge32: 7"},
		{"counter64", gosnmp.SnmpPDU{Name: ".1.3.9.1", Type: gosnmp.Counter64, Value: uint64(1 << 40)}, "type=70 value=Counter64: 1099511627776"},
		{"ip_address", gosnmp.SnmpPDU{Name: ".1.3.9.1", Type: gosnmp.IPAddress, Value: "10.0.0.1"}, "type=64 value=IpAddress: 10.0.0.1"},
		{"null", gosnmp.SnmpPDU{Name: ".1.3.9.1", Type: gosnmp.Null}, "type=5  value=NULL"},
		{"negative_integer", gosnmp.SnmpPDU{Name: ".1.3.9.1", Type: gosnmp.Integer, Value: -3}, "type=2  value=INTEGER: -3"},
		{"string_value", gosnmp.SnmpPDU{Name: ".1.3.9.1", Type: gosnmp.OctetString, Value: "plain"}, `type=4  value=STRING: "plain"`},
		{"escaped_string", gosnmp.SnmpPDU{Name: ".1.3.9.1", Type: gosnmp.OctetString, Value: []byte(`OLT "A" \ 1`)}, `type=4  value=STRING: "OLT \"A\" \\ 1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := renderer.Render(&gosnmp.SnmpPacket{Variables: []gosnmp.SnmpPDU{tt.pdu}}, Header{})
			require.NoError(t, err)
			assert.Contains(t, doc, ".1.3.9.1                       "+tt.expected+"\n")
		})
	}
}

func TestFormatTimeticks(t *testing.T) {
	tests := []struct {
		ticks    uint64
		expected string
	}{
		{0, "0:00:00.00"},
		{101, "0:00:01.01"},
		{8640000, "1 day, 0:00:00.00"},
		{657652704, "76 days, 2:48:47.04"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatTimeticks(tt.ticks))
	}
}
