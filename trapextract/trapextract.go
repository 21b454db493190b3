// Package trapextract pulls alarm records out of free-text SNMP trap dumps
// produced for ADTRAN GPON OLTs.
//
// A trap dump is the multi-line text form of a notification: a header line
// carrying the receive time, a block of PDU fields, and a VARBINDS section
// with one variable binding per line. Extract walks four landmark lines in
// document order and either returns a fully populated Record or reports a
// miss. There is no partial result.
//
// Basic Usage:
//
//	msg, ok := trapextract.Process(raw)
//	if !ok {
//		// unprocessable trap, drop it
//		return
//	}
//	publish(msg)
//
// Extract and Process hold no state and may be called from any number of
// goroutines at once.
package trapextract

import (
	"errors"
	"regexp"
	"strings"
)

// ErrExtractionMiss is reported by hosts that need an error value for a
// document in which the landmark layout could not be matched.
var ErrExtractionMiss = errors.New("required structural landmark not found in trap document")

// TrapModule is the MIB module whose notifications are recognized on the
// trap OID line.
const TrapModule = "ADTRAN-GENGPON-MIB"

// Record is the alarm extracted from a single trap document.
type Record struct {
	Timestamp   string `json:"timestamp" yaml:"timestamp"`
	TrapType    string `json:"trap_type" yaml:"trap_type"`
	OLTName     string `json:"olt_name" yaml:"olt_name"`
	ONTLocation string `json:"ont_location" yaml:"ont_location"`
	ONTSerial   string `json:"ont_serial" yaml:"ont_serial"`
}

// Message is the flat shape handed to the message queue publisher.
type Message struct {
	Timestamp   string `json:"timestamp" msgpack:"timestamp" yaml:"timestamp"`
	Serial      string `json:"serial" msgpack:"serial" yaml:"serial"`
	TrapType    string `json:"trap_type" msgpack:"trap_type" yaml:"trap_type"`
	OLTName     string `json:"olt_name" msgpack:"olt_name" yaml:"olt_name"`
	ONTLocation string `json:"ont_location" msgpack:"ont_location" yaml:"ont_location"`
}

// landmark matchers, applied in this order. Each one searches forward from
// the end of the previous match.
var (
	headerPattern = regexp.MustCompile(
		`\A(\d{2}:\d{2}:\d{2} \d{4}/\d{2}/\d{2})\s+PDU INFO:`)

	trapOIDPattern = regexp.MustCompile(
		`SNMPv2-MIB::snmpTrapOID\.0\s+type=\d+\s+value=OID:\s+` +
			regexp.QuoteMeta(TrapModule) + `::(\S+)`)

	sysNamePattern = regexp.MustCompile(
		`SNMPv2-MIB::sysName\.0\s+type=\d+\s+value=STRING:\s+"((?:[^"\\\n]|\\.)+)"`)

	// quoted strings escape embedded quotes and backslashes.
	unquoter = strings.NewReplacer(`\"`, `"`, `\\`, `\`)

	ifDescrPattern = regexp.MustCompile(
		`IF-MIB::ifDescr\.\d+\s+type=\d+\s+value=STRING:\s+"` +
			`Shelf:[ \t]+(\d+),[ \t]+Slot:[ \t]+(\d+),[ \t]+Pon:[ \t]+(\d+),[ \t]+ONT:[ \t]+(\d+),[ \t]+` +
			`ONT Serial No:[ \t]+([^,\s][^,\n]*),[ \t]+ONT Reg ID:[ \t]*((?:[^"\\\n]|\\.)*)"`)
)

// cursor walks a document forward, one landmark at a time.
type cursor struct {
	doc    string
	offset int
}

// next finds re at or after the cursor and advances past the match.
func (c *cursor) next(re *regexp.Regexp) ([]string, bool) {
	rest := c.doc[c.offset:]
	loc := re.FindStringSubmatchIndex(rest)
	if loc == nil {
		return nil, false
	}

	groups := make([]string, len(loc)/2)
	for i := range groups {
		if loc[2*i] >= 0 {
			groups[i] = rest[loc[2*i]:loc[2*i+1]]
		}
	}
	c.offset += loc[1]
	return groups, true
}

// Extract locates the timestamp, trap type, OLT name, ONT location and ONT
// serial in raw. It returns false when any landmark is missing, malformed or
// out of order.
func Extract(raw string) (Record, bool) {
	c := &cursor{doc: raw}

	header, ok := c.next(headerPattern)
	if !ok {
		return Record{}, false
	}
	trapOID, ok := c.next(trapOIDPattern)
	if !ok {
		return Record{}, false
	}
	sysName, ok := c.next(sysNamePattern)
	if !ok {
		return Record{}, false
	}
	ifDescr, ok := c.next(ifDescrPattern)
	if !ok {
		return Record{}, false
	}

	shelf, slot, pon, ont := ifDescr[1], ifDescr[2], ifDescr[3], ifDescr[4]
	serial, regID := unquoter.Replace(ifDescr[5]), unquoter.Replace(ifDescr[6])

	rec := Record{
		Timestamp:   header[1],
		TrapType:    trapTypeSuffix(trapOID[1]),
		OLTName:     unquoter.Replace(sysName[1]),
		ONTLocation: regID + "@" + shelf + "/" + slot + "/" + pon + "/" + ont,
		ONTSerial:   serial,
	}
	if !rec.complete() {
		return Record{}, false
	}
	return rec, true
}

// Process extracts raw and re-shapes the result for publishing.
func Process(raw string) (Message, bool) {
	rec, ok := Extract(raw)
	if !ok {
		return Message{}, false
	}
	return rec.Message(), true
}

// Message renames the record fields into the publisher schema.
func (r Record) Message() Message {
	return Message{
		Timestamp:   r.Timestamp,
		Serial:      r.ONTSerial,
		TrapType:    r.TrapType,
		OLTName:     r.OLTName,
		ONTLocation: r.ONTLocation,
	}
}

// complete reports whether every field carries a value.
func (r Record) complete() bool {
	return r.Timestamp != "" && r.TrapType != "" && r.OLTName != "" &&
		r.ONTLocation != "" && r.ONTSerial != ""
}

// trapTypeSuffix keeps the identifier after the last namespace separator.
func trapTypeSuffix(identifier string) string {
	if i := strings.LastIndex(identifier, "::"); i >= 0 {
		return identifier[i+2:]
	}
	return identifier
}
