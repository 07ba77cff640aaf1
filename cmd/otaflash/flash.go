package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/otaflash/internal/ble"
	"github.com/chaz8081/otaflash/internal/config"
	"github.com/chaz8081/otaflash/internal/firmware"
	"github.com/chaz8081/otaflash/internal/ota"
	"github.com/chaz8081/otaflash/internal/serial"
)

type flashCommand struct {
	Device    string        `short:"d" long:"device" description:"BLE device ID (MAC, or UUID on macOS)"`
	Port      string        `short:"p" long:"port" description:"serial port, selects the serial transport"`
	Baud      int           `short:"b" long:"baud" description:"serial baud rate"`
	Firmware  string        `short:"f" long:"firmware" required:"true" description:"firmware file path or http(s) URL"`
	ChunkSize int           `long:"chunk-size" description:"bytes per chunk"`
	MTU       int           `long:"mtu" description:"bytes of image data per packet"`
	Timeout   time.Duration `long:"timeout" description:"fail when the peripheral is silent this long (0 uses config, negative disables)"`
}

// apply overlays the command line onto cfg.
func (c *flashCommand) apply(cfg *config.Config) error {
	if c.Port != "" {
		cfg.Transport = "serial"
		cfg.Serial.Port = c.Port
	} else if c.Device != "" {
		cfg.Transport = "ble"
		cfg.BLE.Device = c.Device
	}
	if c.Baud > 0 {
		cfg.Serial.Baud = c.Baud
	}
	if c.ChunkSize > 0 {
		cfg.OTA.ChunkSize = c.ChunkSize
	}
	if c.MTU > 0 {
		cfg.OTA.MTU = c.MTU
	}
	switch {
	case c.Timeout > 0:
		cfg.OTA.Timeout = c.Timeout
	case c.Timeout < 0:
		cfg.OTA.Timeout = 0
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	switch {
	case cfg.Transport == "ble" && cfg.BLE.Device == "":
		return errors.New("no BLE device: pass --device or set ble.device (see 'otaflash scan')")
	case cfg.Transport == "serial" && cfg.Serial.Port == "":
		return errors.New("no serial port: pass --port or set serial.port (see 'otaflash ports')")
	}
	return nil
}

func otaOptions(cfg *config.Config) []ota.Option {
	return []ota.Option{
		ota.WithChunkSize(cfg.OTA.ChunkSize),
		ota.WithMTU(cfg.OTA.MTU),
		ota.WithTimeout(cfg.OTA.Timeout),
		ota.WithLogger(slog.Default()),
	}
}

func (c *flashCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := c.apply(cfg); err != nil {
		return err
	}

	// Signal handling: cancel the update at the next chunk boundary.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	img, err := firmware.Fetch(ctx, c.Firmware, cfg.DownloadDir, os.Stderr)
	if err != nil {
		return err
	}
	if img.Size() == 0 {
		slog.Warn("firmware image is empty, only the install command will be sent", "file", img.Name())
	}
	printBanner(cfg, img)

	rep := newBarReporter(os.Stderr, img.Name())
	start := time.Now()
	switch cfg.Transport {
	case "serial":
		err = flashSerial(ctx, cfg, img, rep)
	default:
		err = flashBLE(ctx, cfg, img, rep)
	}

	switch {
	case err == nil:
		fmt.Printf("Update complete in %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	case errors.Is(err, ota.ErrCancelled):
		return errors.New("update cancelled")
	default:
		return err
	}
}

func flashSerial(ctx context.Context, cfg *config.Config, img *firmware.Image, rep ota.Reporter) error {
	ch, err := serial.Open(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		return err
	}
	defer ch.Close()

	s, err := ota.StartUpdate(ctx, img.Bytes(), ch, rep, otaOptions(cfg)...)
	if err != nil {
		return err
	}
	<-s.Done()
	return s.Err()
}

func flashBLE(ctx context.Context, cfg *config.Config, img *firmware.Image, rep ota.Reporter) error {
	adapter := ble.NewTinyGoAdapter()
	adapter.WriteWithResponse = cfg.BLE.WriteWithResponse

	opts := ble.DefaultClientOptions()
	opts.ConnectAttempts = cfg.BLE.ConnectRetries
	opts.ReconnectMax = cfg.BLE.ReconnectMax
	opts.MaxPayload = cfg.BLE.MaxPayload
	opts.OTA = otaOptions(cfg)

	client := ble.NewClient(adapter, cfg.BLE.Device, opts)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	return client.Update(ctx, img.Bytes(), rep)
}

// printBanner displays the update summary.
func printBanner(cfg *config.Config, img *firmware.Image) {
	fmt.Println("=== otaflash ===")
	fmt.Printf("  Image:     %s\n", img)
	switch cfg.Transport {
	case "serial":
		fmt.Printf("  Target:    %s @ %d baud\n", cfg.Serial.Port, cfg.Serial.Baud)
	default:
		fmt.Printf("  Target:    BLE %s\n", cfg.BLE.Device)
	}
	fmt.Printf("  Chunking:  %d bytes/chunk, %d bytes/packet\n", cfg.OTA.ChunkSize, cfg.OTA.MTU)
	if cfg.OTA.Timeout > 0 {
		fmt.Printf("  Timeout:   %s\n", cfg.OTA.Timeout)
	}
	fmt.Println("================")
}
