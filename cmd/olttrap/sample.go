package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/geekxflood/olttrap/logging"
	"github.com/geekxflood/olttrap/snmptranslate"
	"github.com/geekxflood/olttrap/trapdump"
	"github.com/geekxflood/olttrap/trapextract"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const noInformation = "No information could be extracted from the trap data"

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Extract the bundled ONT loss-of-signal sample",
	Long: `Run the extractor on a captured adGenGponOntSetLOSAlarm inform and print
the resulting message.

With --pdu the document is first rendered from the SNMP packet, using the
bundled ADTRAN MIBs and any MIB files under snmp.mib_dir.`,
	Args: cobra.NoArgs,
	RunE: runSample,
}

func init() {
	sampleCmd.Flags().Bool("pdu", false, "render the sample from an SNMP packet before extracting")
	sampleCmd.Flags().Bool("show-document", false, "print the trap document before the result")
	sampleCmd.Flags().StringP("output", "o", "json", "result format: json or yaml")
}

func runSample(cmd *cobra.Command, _ []string) error {
	pdu, _ := cmd.Flags().GetBool("pdu")
	showDocument, _ := cmd.Flags().GetBool("show-document")
	format, _ := cmd.Flags().GetString("output")

	doc := trapdump.SampleDocument
	if pdu {
		mibDir := ""
		if manager != nil {
			mibDir, _ = manager.GetString("snmp.mib_dir")
		}
		rendered, err := renderSample(mibDir)
		if err != nil {
			return err
		}
		doc = rendered
	}

	out := cmd.OutOrStdout()
	if showDocument {
		fmt.Fprintln(out, doc)
	}
	return printMessage(out, doc, format)
}

// renderSample renders the sample packet through a translator that knows the
// bundled MIBs and those found in mibDir.
func renderSample(mibDir string) (string, error) {
	translator := snmptranslate.New()
	defer translator.Close()

	if err := translator.Init(mibDir); err != nil {
		return "", fmt.Errorf("failed to initialize translator: %w", err)
	}
	if err := trapdump.LoadBundledMIBs(translator); err != nil {
		return "", err
	}

	renderer, err := trapdump.NewRenderer(translator)
	if err != nil {
		return "", err
	}
	doc, err := renderer.Render(trapdump.SamplePacket())
	if err != nil {
		return "", err
	}

	stats := translator.GetStats()
	logging.Debug("sample rendered",
		"loaded_mibs", stats.LoadedMIBs,
		"total_oids", stats.TotalOIDs,
		"translations", stats.TranslationCount,
		"cache_hits", stats.CacheHits,
		"cached_entries", stats.CachedEntries,
		"average_latency", stats.AverageLatency)
	return doc, nil
}

// printMessage prints the message extracted from doc, or the notice that
// nothing could be extracted.
func printMessage(w io.Writer, doc, format string) error {
	msg, ok := trapextract.Process(doc)
	if !ok {
		_, err := fmt.Fprintln(w, noInformation)
		return err
	}
	return printValue(w, msg, format)
}

// printValue writes v as indented JSON or as YAML.
func printValue(w io.Writer, v any, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "", "json":
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(v)
	default:
		return fmt.Errorf("unknown output format %q, must be json or yaml", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
