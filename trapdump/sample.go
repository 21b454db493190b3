package trapdump

import (
	"embed"
	"fmt"
	"net"
	"time"

	"github.com/geekxflood/olttrap/snmptranslate"
	"github.com/gosnmp/gosnmp"
)

//go:embed mibs/*.mib
var bundledMIBs embed.FS

// bundledOrder lists the bundled modules with parents first.
var bundledOrder = []string{
	"ADTRAN-MIB",
	"ADTRAN-GENTRAPINFORM-MIB",
	"ADTRAN-GENGPON-MIB",
}

// SampleDocument is the trap dump of SamplePacket as rendered with the
// bundled MIBs loaded.
const SampleDocument = `15:54:12 2026/01/17 PDU INFO:
    version                        1
    notificationtype               INFORM
    community                      public
    receivedfrom                   UDP: [10.242.102.12]:161->[10.241.6.48]:162
    errorindex                     0
    requestid                      197295
    transactionid                  6353668
    errorstatus                    0
    messageid                      0
    VARBINDS:
    DISMAN-EVENT-MIB::sysUpTimeInstance type=67 value=Timeticks: (657652704) 76 days, 2:48:47.04
    SNMPv2-MIB::snmpTrapOID.0      type=6  value=OID: ADTRAN-GENGPON-MIB::adGenGponOntSetLOSAlarm
    ADTRAN-GENTRAPINFORM-MIB::adTrapInformSeqNum.0 type=2  value=INTEGER: 197295
    SNMPv2-MIB::sysName.0          type=4  value=STRING: "FB-SK-OLT-03"
    IF-MIB::ifDescr.1647320064     type=4  value=STRING: "Shelf: 1, Slot: 2, Pon: 12, ONT: 7, ONT Serial No: ADTN2424dc6c, ONT Reg ID: "
    IF-MIB::ifIndex.1647320064     type=2  value=INTEGER: 1647320064
    ADTRAN-GENGPON-MIB::adGenGponOntAlarmSlotLosLevel.2 type=2  value=INTEGER: 5
    ADTRAN-GENGPON-MIB::adGenGponOntProvEntry.35.1647320064 type=2  value=INTEGER: 2
`

// LoadBundledMIBs loads the ADTRAN GPON modules shipped with this package
// into translator.
func LoadBundledMIBs(translator snmptranslate.Translator) error {
	for _, module := range bundledOrder {
		content, err := bundledMIBs.ReadFile("mibs/" + module + ".mib")
		if err != nil {
			return fmt.Errorf("failed to read bundled MIB %s: %w", module, err)
		}
		if err := translator.LoadMIBText(module, string(content)); err != nil {
			return err
		}
	}
	return nil
}

// SamplePacket returns the LOS alarm inform an ADTRAN OLT sends when an ONT
// loses signal, together with its reception header.
func SamplePacket() (*gosnmp.SnmpPacket, Header) {
	const ifIndex = 1647320064

	packet := &gosnmp.SnmpPacket{
		Version:   gosnmp.Version2c,
		Community: "public",
		PDUType:   gosnmp.InformRequest,
		RequestID: 197295,
		Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(657652704)},
			{Name: ".1.3.6.1.6.3.1.1.4.1.0", Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.4.1.664.5.123.0.12"},
			{Name: ".1.3.6.1.4.1.664.5.9.1.0", Type: gosnmp.Integer, Value: 197295},
			{Name: ".1.3.6.1.2.1.1.5.0", Type: gosnmp.OctetString, Value: []byte("FB-SK-OLT-03")},
			{
				Name:  fmt.Sprintf(".1.3.6.1.2.1.2.2.1.2.%d", ifIndex),
				Type:  gosnmp.OctetString,
				Value: []byte("Shelf: 1, Slot: 2, Pon: 12, ONT: 7, ONT Serial No: ADTN2424dc6c, ONT Reg ID: "),
			},
			{Name: fmt.Sprintf(".1.3.6.1.2.1.2.2.1.1.%d", ifIndex), Type: gosnmp.Integer, Value: ifIndex},
			{Name: ".1.3.6.1.4.1.664.5.123.1.4.2", Type: gosnmp.Integer, Value: 5},
			{Name: fmt.Sprintf(".1.3.6.1.4.1.664.5.123.1.10.1.35.%d", ifIndex), Type: gosnmp.Integer, Value: 2},
		},
	}

	hdr := Header{
		ReceivedAt:    time.Date(2026, time.January, 17, 15, 54, 12, 0, time.UTC),
		Source:        &net.UDPAddr{IP: net.IPv4(10, 242, 102, 12), Port: 161},
		Destination:   &net.UDPAddr{IP: net.IPv4(10, 241, 6, 48), Port: 162},
		TransactionID: 6353668,
	}
	return packet, hdr
}
