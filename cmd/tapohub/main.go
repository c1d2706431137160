package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	tapohub "github.com/homectl/tapohub"
)

var (
	flagAddr     = pflag.StringP("addr", "a", "", "IP address of the Tapo hub")
	flagUsername = pflag.StringP("username", "u", "", "TP-Link username (usually an email)")
	flagPassword = pflag.StringP("password", "p", "", "TP-Link password")
	flagDebug    = pflag.BoolP("debug", "d", false, "Enable debug logs")
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s <flags> [command]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "command is one of list, info <device_id>, status <device_id>, cloud-list\n")
		fmt.Fprintf(os.Stderr, "\n")
	}
	pflag.Parse()
	cmd := pflag.Arg(0)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *flagDebug {
		logger = logger.Level(zerolog.TraceLevel)
	} else {
		logger = logger.Level(zerolog.WarnLevel)
	}

	switch strings.ToLower(cmd) {
	case "", "list":
		listChildren(logger)
	case "info":
		queryChild(logger, pflag.Arg(1), false)
	case "status":
		queryChild(logger, pflag.Arg(1), true)
	case "cloud-list":
		cloudList(logger)
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command")
	}
}

func newHub(logger zerolog.Logger) *tapohub.Hub {
	if *flagAddr == "" {
		logger.Fatal().Msg("missing hub address, use --addr")
	}
	cfg := tapohub.HubConfig{
		IPAddress: *flagAddr,
		Credentials: tapohub.Credentials{
			Username: *flagUsername,
			Password: *flagPassword,
		},
	}
	return tapohub.NewHub(cfg, nil, nil, &logger)
}

func listChildren(logger zerolog.Logger) {
	hub := newHub(logger)
	devices := hub.GetDeviceList()
	if err := hub.LastError(); err.HasError() {
		logger.Fatal().Str("error", err.Error()).Msg("failed to list children")
	}
	fmt.Printf("%-28s %-12s %-14s %s\n", "DEVICE ID", "MODEL", "MAC", "TYPE")
	for _, d := range devices {
		fmt.Printf("%-28s %-12s %-14s %s\n", d.DeviceID, d.Model, d.MAC, d.Type)
	}
}

func queryChild(logger zerolog.Logger, deviceID string, status bool) {
	if deviceID == "" {
		logger.Fatal().Msg("missing device_id argument")
	}
	hub := newHub(logger)
	device := tapohub.NewDevice(hub, tapohub.DeviceConfig{DeviceID: deviceID}, printingHost{}, hub.Scheduler(), &logger)
	if !device.Connect() {
		logger.Fatal().Str("error", device.LastError().Error()).Msg("connect failed")
	}
	if status {
		device.QueryDeviceStatus(true)
		if err := device.LastError(); err.HasError() {
			logger.Fatal().Str("error", err.Error()).Msg("status query failed")
		}
		return
	}
	device.QueryDeviceInfo(true)
	if err := device.LastError(); err.HasError() {
		logger.Fatal().Str("error", err.Error()).Msg("info query failed")
	}
	info := device.DeviceInfo()
	fmt.Printf("Device ID   : %s\n", info.DeviceID)
	fmt.Printf("Model       : %s\n", info.Model)
	fmt.Printf("MAC         : %s\n", info.MAC)
	fmt.Printf("FW version  : %s\n", info.FWVersion)
	fmt.Printf("HW version  : %s\n", info.HWVersion)
	fmt.Printf("Type        : %s\n", info.Type)
	fmt.Printf("Category    : %s\n", info.Category)
	fmt.Printf("Serial      : %s\n", info.Serial())
	fmt.Printf("RSSI        : %d\n", info.RSSI)
}

func cloudList(logger zerolog.Logger) {
	client := tapohub.NewCloudClient(&logger)
	if err := client.Login(*flagUsername, *flagPassword); err != nil {
		logger.Fatal().Err(err).Msg("cloud login failed")
	}
	devices, err := client.DeviceList()
	if err != nil {
		logger.Fatal().Err(err).Msg("cloud device list failed")
	}
	fmt.Printf("%-28s %-12s %-18s %s\n", "DEVICE ID", "MODEL", "MAC", "ALIAS")
	for _, d := range devices {
		fmt.Printf("%-28s %-12s %-18s %s\n", d.DeviceID, d.DeviceModel, d.DeviceMAC, d.DecodedAlias)
	}
}

// printingHost writes channel states to stdout, so "status" shows the most
// recent trigger-log event.
type printingHost struct{}

func (printingHost) UpdateStatus(string, tapohub.Status, tapohub.StatusDetail, string) {}

func (printingHost) PublishString(_, channel, value string) {
	fmt.Printf("%-24s: %s\n", channel, value)
}

func (printingHost) PublishNumber(_, channel string, value int64) {
	fmt.Printf("%-24s: %d\n", channel, value)
}

func (printingHost) UpdateProperties(string, map[string]string) {}
