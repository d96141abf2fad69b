// Command epddemo pushes a synthetic test pattern to the panel through the
// same driver and stream decoder the scheduled daemon uses. It exists to
// verify wiring and panel health without a calendar server.
package main

import (
	"flag"
	"os"

	"epdframe/internal/bus"
	"epdframe/internal/config"
	appLog "epdframe/internal/log"
	"epdframe/internal/panel"
	"epdframe/internal/pattern"
	"epdframe/internal/stream"
)

func main() {
	configPath := flag.String("config", "/etc/epdframe/config.yaml", "Path to config file")
	patternName := flag.String("pattern", "bands", "Test pattern: bands or checker")
	bandRows := flag.Int("band-rows", 32, "Rows per band/cell")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", *configPath)
		os.Exit(1)
	}

	transport, err := bus.Open(conf.Pins)
	if err != nil {
		appLog.Error("failed to open panel bus", err)
		os.Exit(1)
	}
	display := panel.New(transport, nil)
	decoder := stream.NewDecoder(display, nil)

	var bw, red pattern.PixelSource
	switch *patternName {
	case "bands":
		bw = pattern.BWBands(*bandRows)
		red = pattern.RedBands(*bandRows)
	case "checker":
		bw = pattern.Checkerboard(*bandRows)
	default:
		appLog.Error("unknown pattern", nil, "pattern", *patternName)
		os.Exit(1)
	}

	appLog.Info("drawing test pattern", "pattern", *patternName, "band_rows", *bandRows)

	display.Initialize()

	bwRes := decoder.StreamChannel(
		pattern.Reader(bw, panel.TotalBytes), int64(panel.TotalBytes), panel.TotalBytes, panel.ChannelBlackWhite)

	var redRes stream.Result
	if red != nil {
		redRes = decoder.StreamChannel(
			pattern.Reader(red, panel.TotalBytes), int64(panel.TotalBytes), panel.TotalBytes, panel.ChannelRed)
	} else {
		redRes = decoder.Fill(panel.ChannelRed, panel.TotalBytes)
	}

	display.Refresh()
	display.Sleep()

	appLog.Info("test pattern drawn",
		"bw_black", bwRes.Count(stream.ClassBlack),
		"bw_white", bwRes.Count(stream.ClassWhite),
		"bw_red_prep", bwRes.Count(stream.ClassRedPrep),
		"red_enabled", redRes.Count(stream.ClassRed),
	)
}
