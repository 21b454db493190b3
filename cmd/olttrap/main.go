package main

import (
	"fmt"
	"os"

	"github.com/geekxflood/olttrap/config"
	"github.com/geekxflood/olttrap/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	manager config.Manager
)

var rootCmd = &cobra.Command{
	Use:   "olttrap",
	Short: "Extract ONT alarms from ADTRAN GPON trap dumps",
	Long: `olttrap reads the text dumps an SNMP trap receiver writes for ADTRAN
GPON OLT notifications and turns each one into a flat alarm message:
timestamp, trap type, OLT name, ONT location and ONT serial.

Documents that do not carry the full layout are dropped.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or JSON, defaults apply when omitted)")

	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(runCmd)
}

// setup loads the configuration and initializes logging from it.
func setup(_ *cobra.Command, _ []string) error {
	m, err := config.NewManager(config.Options{ConfigPath: cfgFile})
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	manager = m

	level, _ := m.GetString("logging.level")
	format, _ := m.GetString("logging.format")
	output, _ := m.GetString("logging.output")
	addSource, _ := m.GetBool("logging.add_source")

	return logging.Init(logging.Config{
		Level:     level,
		Format:    format,
		Output:    output,
		AddSource: addSource,
	})
}

func teardown(_ *cobra.Command, _ []string) error {
	if manager != nil {
		_ = manager.Close()
	}
	return logging.Shutdown()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
