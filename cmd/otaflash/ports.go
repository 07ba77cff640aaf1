package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/chaz8081/otaflash/internal/serial"
)

type portsCommand struct{}

func (c *portsCommand) Execute(args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tVID:PID\tSERIAL")
	for _, p := range ports {
		usb := "-"
		if p.IsUSB {
			usb = p.VID + ":" + p.PID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, usb, p.SerialNumber)
	}
	return w.Flush()
}
