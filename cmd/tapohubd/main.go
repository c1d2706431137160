package main

// tapohubd polls a Tapo hub and its child devices, logging status
// transitions, property updates and button/rotation events. It is the
// standalone stand-in for the host automation framework the library is
// normally embedded in.

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	tapohub "github.com/homectl/tapohub"
)

var (
	flagConfig = pflag.StringP("config", "c", tapohub.DefaultConfigPath(), "Path to the config file")
)

func main() {
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := tapohub.LoadConfig(*flagConfig)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *flagConfig).Msg("failed to load config")
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := log.Logger
	sched := tapohub.NewScheduler()
	host := logHost{log: logger}

	hub := tapohub.NewHub(cfg.Hub, host, sched, &logger)
	hub.SetDiscoveryFunc(func(devices []tapohub.DeviceInfo) {
		if len(devices) == 0 {
			cloudFallback(logger, cfg.Hub.Credentials)
			return
		}
		for _, d := range devices {
			logger.Info().
				Str("device_id", d.DeviceID).
				Str("model", d.Model).
				Str("mac", d.MAC).
				Msg("discovered child device")
		}
	})
	hub.Initialize()

	devices := make([]*tapohub.Device, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		device := tapohub.NewDevice(hub, dc, host, sched, &logger)
		device.Initialize()
		devices = append(devices, device)
	}

	go func() {
		for ev := range hub.Events() {
			record, ok := ev.(tapohub.EventRecord)
			if !ok {
				continue
			}
			logger.Info().
				Str("uid", record.DeviceUID).
				Str("event", string(record.Kind)).
				Str("detail", string(record.Detail)).
				Int64("timestamp", record.Timestamp).
				Msg("device event")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info().Stringer("signal", s).Msg("shutting down")

	for _, device := range devices {
		device.Dispose()
	}
	hub.Dispose()
	sched.Wait()
}

// cloudFallback lists the account's devices from the tp-link cloud when
// local enumeration comes back empty.
func cloudFallback(logger zerolog.Logger, credentials tapohub.Credentials) {
	if !credentials.Set() {
		return
	}
	client := tapohub.NewCloudClient(&logger)
	if err := client.Login(credentials.Username, credentials.Password); err != nil {
		logger.Warn().Err(err).Msg("cloud login fallback failed")
		return
	}
	devices, err := client.DeviceList()
	if err != nil {
		logger.Warn().Err(err).Msg("cloud device list fallback failed")
		return
	}
	for _, d := range devices {
		logger.Info().
			Str("device_id", d.DeviceID).
			Str("model", d.DeviceModel).
			Str("alias", d.DecodedAlias).
			Msg("cloud device")
	}
}

// logHost implements the host callbacks by logging them.
type logHost struct {
	log zerolog.Logger
}

func (h logHost) UpdateStatus(uid string, status tapohub.Status, detail tapohub.StatusDetail, message string) {
	h.log.Info().
		Str("uid", uid).
		Stringer("status", status).
		Stringer("detail", detail).
		Str("message", message).
		Msg("thing status")
}

func (h logHost) PublishString(uid, channel, value string) {
	h.log.Info().Str("uid", uid).Str("channel", channel).Str("value", value).Msg("channel state")
}

func (h logHost) PublishNumber(uid, channel string, value int64) {
	h.log.Info().Str("uid", uid).Str("channel", channel).Int64("value", value).Msg("channel state")
}

func (h logHost) UpdateProperties(uid string, properties map[string]string) {
	h.log.Info().Str("uid", uid).Interface("properties", properties).Msg("properties updated")
}
