// Package trapdump renders received SNMP notifications into the multi-line
// text dump format consumed by trapextract.
//
// A dump starts with the receive time and "PDU INFO:", lists the PDU fields,
// then one line per variable binding:
//
//	15:54:12 2026/01/17 PDU INFO:
//	    version                        1
//	    notificationtype               INFORM
//	    ...
//	    VARBINDS:
//	    SNMPv2-MIB::sysName.0          type=4  value=STRING: "FB-SK-OLT-03"
//
// OIDs are printed with their module-qualified names when the translator
// knows them and numerically otherwise.
//
// Basic Usage:
//
//	renderer, err := trapdump.NewRenderer(translator)
//	if err != nil {
//		log.Fatal(err)
//	}
//	doc, err := renderer.Render(packet, trapdump.Header{ReceivedAt: time.Now(), Source: addr})
package trapdump

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/geekxflood/olttrap/snmptranslate"
	"github.com/gosnmp/gosnmp"
)

// TimestampLayout is the receive time layout of the header line.
const TimestampLayout = "15:04:05 2006/01/02"

// Header carries the reception details that are not part of the PDU.
type Header struct {
	ReceivedAt    time.Time
	Source        *net.UDPAddr
	Destination   *net.UDPAddr
	TransactionID uint32
}

// Renderer turns packets into trap dump documents.
type Renderer struct {
	translator snmptranslate.Translator
	indent     string
}

// NewRenderer creates a renderer that names OIDs through translator. A nil
// translator is replaced by one holding only the built-in names.
func NewRenderer(translator snmptranslate.Translator) (*Renderer, error) {
	if translator == nil {
		translator = snmptranslate.New()
		if err := translator.Init(""); err != nil {
			return nil, fmt.Errorf("failed to initialize translator: %w", err)
		}
	}
	return &Renderer{translator: translator, indent: "    "}, nil
}

// Render writes packet as a trap dump document.
func (r *Renderer) Render(packet *gosnmp.SnmpPacket, hdr Header) (string, error) {
	if packet == nil {
		return "", errors.New("packet cannot be nil")
	}

	receivedAt := hdr.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	var b strings.Builder
	b.WriteString(receivedAt.Format(TimestampLayout))
	b.WriteString(" PDU INFO:\n")

	r.field(&b, "version", fmt.Sprint(int(packet.Version)))
	r.field(&b, "notificationtype", notificationType(packet.PDUType))
	r.field(&b, "community", packet.Community)
	r.field(&b, "receivedfrom", transport(hdr.Source, hdr.Destination))
	r.field(&b, "errorindex", fmt.Sprint(packet.ErrorIndex))
	r.field(&b, "requestid", fmt.Sprint(packet.RequestID))
	r.field(&b, "transactionid", fmt.Sprint(hdr.TransactionID))
	r.field(&b, "errorstatus", fmt.Sprint(int(packet.Error)))
	r.field(&b, "messageid", fmt.Sprint(packet.MsgID))

	b.WriteString(r.indent)
	b.WriteString("VARBINDS:\n")
	names := r.names(packet.Variables)
	for i, v := range packet.Variables {
		value, err := r.value(v, names)
		if err != nil {
			return "", fmt.Errorf("varbind %d (%s): %w", i, v.Name, err)
		}
		fmt.Fprintf(&b, "%s%-30s type=%-2d value=%s\n", r.indent, qualified(names, v.Name), int(v.Type), value)
	}

	return b.String(), nil
}

func (r *Renderer) field(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "%s%-30s %s\n", r.indent, name, value)
}

// names translates every OID the varbinds mention in one batch. OIDs the
// translator does not know keep their numeric form.
func (r *Renderer) names(vars []gosnmp.SnmpPDU) map[string]string {
	oids := make([]string, 0, 2*len(vars))
	for _, v := range vars {
		oids = append(oids, v.Name)
		if oid, ok := v.Value.(string); ok && v.Type == gosnmp.ObjectIdentifier {
			oids = append(oids, oid)
		}
	}
	names, _ := r.translator.TranslateBatch(oids)
	return names
}

func qualified(names map[string]string, oid string) string {
	if name := names[oid]; name != "" {
		return name
	}
	return oid
}

// quoter escapes string values the way net-snmp prints them.
var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func (r *Renderer) value(v gosnmp.SnmpPDU, names map[string]string) (string, error) {
	switch v.Type {
	case gosnmp.OctetString:
		switch s := v.Value.(type) {
		case []byte:
			return `STRING: "` + quoter.Replace(string(s)) + `"`, nil
		case string:
			return `STRING: "` + quoter.Replace(s) + `"`, nil
		}
		return "", fmt.Errorf("unexpected OctetString value %T", v.Value)
	case gosnmp.ObjectIdentifier:
		oid, ok := v.Value.(string)
		if !ok {
			return "", fmt.Errorf("unexpected ObjectIdentifier value %T", v.Value)
		}
		return "OID: " + qualified(names, oid), nil
	case gosnmp.TimeTicks:
		ticks := gosnmp.ToBigInt(v.Value).Uint64()
		return fmt.Sprintf("Timeticks: (%d) %s", ticks, formatTimeticks(ticks)), nil
	case gosnmp.Integer:
		return "INTEGER: " + gosnmp.ToBigInt(v.Value).String(), nil
	case gosnmp.Counter32:
		return "Counter32: " + gosnmp.ToBigInt(v.Value).String(), nil
	case gosnmp.Gauge32:
		return "Gauge32: " + gosnmp.ToBigInt(v.Value).String(), nil
	case gosnmp.Counter64:
		return "Counter64: " + gosnmp.ToBigInt(v.Value).String(), nil
	case gosnmp.IPAddress:
		return fmt.Sprintf("IpAddress: %v", v.Value), nil
	case gosnmp.Null:
		return "NULL", nil
	default:
		return fmt.Sprintf("%s: %v", v.Type, v.Value), nil
	}
}

func notificationType(t gosnmp.PDUType) string {
	if t == gosnmp.InformRequest {
		return "INFORM"
	}
	return "TRAP"
}

func transport(src, dst *net.UDPAddr) string {
	return "UDP: " + endpoint(src) + "->" + endpoint(dst)
}

func endpoint(addr *net.UDPAddr) string {
	if addr == nil {
		return "[0.0.0.0]:0"
	}
	return fmt.Sprintf("[%s]:%d", addr.IP, addr.Port)
}

// formatTimeticks renders hundredths of a second as "D days, H:MM:SS.cc".
func formatTimeticks(ticks uint64) string {
	cs := ticks % 100
	secs := ticks / 100
	days := secs / 86400
	secs %= 86400

	clock := fmt.Sprintf("%d:%02d:%02d.%02d", secs/3600, (secs%3600)/60, secs%60, cs)
	switch days {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	default:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
}
