// Package update sequences one full display update: initialize the panel,
// stream the black/white channel, stream (or fall back) the red channel,
// refresh. There is no retry inside an update; the wake scheduler owns retry
// via the next slot.
package update

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"epdframe/internal/log"
	"epdframe/internal/panel"
	"epdframe/internal/serverapi"
	"epdframe/internal/stream"
)

// Phase is the orchestrator's position in the update state machine. Each
// phase is entered at most once per Run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseStreamingBW
	PhaseStreamingRed
	PhaseRefreshing
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseStreamingBW:
		return "streaming_bw"
	case PhaseStreamingRed:
		return "streaming_red"
	case PhaseRefreshing:
		return "refreshing"
	default:
		return "idle"
	}
}

// ChannelTimeoutError marks a channel transfer that hit the streaming
// deadline. The transfer still completed via padding, so this surfaces in
// diagnostics rather than aborting the update.
type ChannelTimeoutError struct {
	Channel panel.Channel
}

func (e *ChannelTimeoutError) Error() string {
	return fmt.Sprintf("update: channel %s timed out mid-transfer", e.Channel)
}

// Display is the panel surface the orchestrator drives. *panel.Driver
// satisfies it.
type Display interface {
	Initialize()
	PrepareChannel(ch panel.Channel)
	WriteDataByte(b byte)
	Refresh()
}

// Fetcher opens raw channel downloads. *serverapi.Client satisfies it.
type Fetcher interface {
	OpenChannel(ctx context.Context, ch panel.Channel) (*serverapi.ChannelBody, error)
}

// Result summarizes one completed update.
type Result struct {
	BlackWhite stream.Result
	Red        stream.Result
	// RedFellBack is set when the red endpoint was unavailable and the
	// channel was filled with the no-red byte instead.
	RedFellBack bool
}

// Orchestrator runs updates against one display and one server.
type Orchestrator struct {
	display Display
	fetcher Fetcher
	decoder *stream.Decoder
	phase   Phase
}

// New returns an Orchestrator. A nil clock selects the real clock for the
// stream decoder.
func New(display Display, fetcher Fetcher, clock clockwork.Clock) *Orchestrator {
	return &Orchestrator{
		display: display,
		fetcher: fetcher,
		decoder: stream.NewDecoder(display, clock),
	}
}

// Phase reports the current state machine position, for diagnostics.
func (o *Orchestrator) Phase() Phase { return o.phase }

// Run performs one full update.
//
// A failed black/white request aborts the whole attempt before the red
// request and before any refresh: a partially-initialized panel is fine
// because the next scheduled wake re-initializes from scratch. A failed red
// request is recovered locally by filling the channel with the no-red byte.
// The refresh command is issued exactly once, only after both channels have
// completed.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	var res Result
	defer func() { o.phase = PhaseIdle }()

	o.phase = PhaseInitializing
	o.display.Initialize()

	o.phase = PhaseStreamingBW
	body, err := o.fetcher.OpenChannel(ctx, panel.ChannelBlackWhite)
	if err != nil {
		return res, fmt.Errorf("update: black/white channel unavailable: %w", err)
	}
	res.BlackWhite = o.decoder.StreamChannel(body.Body, body.Declared, panel.TotalBytes, panel.ChannelBlackWhite)
	body.Close()
	o.noteResult(res.BlackWhite)

	o.phase = PhaseStreamingRed
	body, err = o.fetcher.OpenChannel(ctx, panel.ChannelRed)
	if err != nil {
		// Defined fallback, not an error path: a black/white-only render is
		// an acceptable degraded result.
		log.Info("red channel unavailable, filling with no-red", "reason", err.Error())
		res.Red = o.decoder.Fill(panel.ChannelRed, panel.TotalBytes)
		res.RedFellBack = true
	} else {
		res.Red = o.decoder.StreamChannel(body.Body, body.Declared, panel.TotalBytes, panel.ChannelRed)
		body.Close()
		o.noteResult(res.Red)
	}

	o.phase = PhaseRefreshing
	o.display.Refresh()

	log.Info("update complete",
		"bw_received", res.BlackWhite.Received,
		"bw_padded", res.BlackWhite.Padded,
		"red_received", res.Red.Received,
		"red_padded", res.Red.Padded,
		"red_fallback", res.RedFellBack,
	)
	return res, nil
}

func (o *Orchestrator) noteResult(r stream.Result) {
	if r.TimedOut {
		log.Error("channel transfer hit deadline", &ChannelTimeoutError{Channel: r.Channel},
			"received", r.Received)
	}
	if r.ZeroBytes && r.Channel == panel.ChannelBlackWhite {
		// Upstream rendering likely produced an empty or all-transparent
		// image. The panel still refreshes with the fully padded plane.
		log.Info("black/white channel delivered zero bytes; check the render pipeline")
	}
	log.Debug("channel transfer finished",
		"channel", r.Channel.String(),
		"received", r.Received,
		"padded", r.Padded,
		"black", r.Count(stream.ClassBlack),
		"white", r.Count(stream.ClassWhite),
		"red_prep", r.Count(stream.ClassRedPrep),
		"red", r.Count(stream.ClassRed),
		"no_red", r.Count(stream.ClassNoRed),
		"other", r.Count(stream.ClassOther),
	)
}
