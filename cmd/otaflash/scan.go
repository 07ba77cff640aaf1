package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/chaz8081/otaflash/internal/ble"
)

type scanCommand struct {
	Timeout time.Duration `short:"t" long:"timeout" description:"scan duration (default from config)"`
	All     bool          `short:"a" long:"all" description:"list every peripheral, not only those advertising the OTA service"`
}

func (c *scanCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	timeout := cfg.BLE.ScanTimeout
	if c.Timeout > 0 {
		timeout = c.Timeout
	}
	service := ble.ServiceUUID
	if c.All {
		service = ""
	}

	fmt.Printf("Scanning for %s...\n", timeout)
	devices, err := ble.ScanForDevices(ble.NewTinyGoAdapter(), service, timeout)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRSSI")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", d.ID, name, d.RSSI)
	}
	return w.Flush()
}
