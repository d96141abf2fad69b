// Package stream implements the channel stream decoder: it moves one
// bitplane from an HTTP body of unknown pacing onto the panel, byte for
// byte, reconciling the server-declared length, the fixed panel byte budget
// and the bytes that actually arrive.
package stream

import (
	"errors"
	"io"
	"time"

	"github.com/jonboulle/clockwork"

	"epdframe/internal/log"
	"epdframe/internal/panel"
)

const (
	// chunkCap bounds a single read from the peer.
	chunkCap = 1024

	// readDeadline is the per-channel transfer deadline, measured from the
	// start of the streaming loop.
	readDeadline = 30 * time.Second

	// readBackoff is the wait between polls when the peer has no bytes
	// available yet.
	readBackoff = 10 * time.Millisecond
)

// ByteClass is the diagnostic classification of one transferred byte.
type ByteClass int

const (
	ClassBlack ByteClass = iota
	ClassWhite
	ClassRedPrep
	ClassRed
	ClassNoRed
	ClassOther
	numClasses
)

func (c ByteClass) String() string {
	switch c {
	case ClassBlack:
		return "black"
	case ClassWhite:
		return "white"
	case ClassRedPrep:
		return "red_prep"
	case ClassRed:
		return "red"
	case ClassNoRed:
		return "no_red"
	default:
		return "other"
	}
}

// Classify maps one wire byte to its diagnostic class for the given channel.
func Classify(ch panel.Channel, b byte) ByteClass {
	if ch == panel.ChannelRed {
		switch b {
		case panel.PixelRed:
			return ClassRed
		case panel.PixelNoRed:
			return ClassNoRed
		default:
			return ClassOther
		}
	}
	switch b {
	case panel.PixelBlack:
		return ClassBlack
	case panel.PixelWhite:
		return ClassWhite
	case panel.PixelRedPrep:
		return ClassRedPrep
	default:
		return ClassOther
	}
}

// DataSink receives decoded bytes. *panel.Driver satisfies it; tests use a
// recorder.
type DataSink interface {
	PrepareChannel(ch panel.Channel)
	WriteDataByte(b byte)
}

// Result describes one completed channel transfer. Exactly Written bytes
// reached the sink; Written always equals the target length because short
// input is padded and long input is truncated.
type Result struct {
	Channel  panel.Channel
	Received int // bytes read from the peer, before padding
	Written  int
	Padded   int
	Counts   [numClasses]int
	TimedOut bool
	// ZeroBytes marks a transfer that saw no peer bytes at all. On the
	// black/white channel this usually means the upstream render produced
	// an empty image; it is a warning, not a failure.
	ZeroBytes bool
	Elapsed   time.Duration
}

// Count returns the diagnostic count for one byte class.
func (r Result) Count(c ByteClass) int { return r.Counts[c] }

// Decoder streams channel bitplanes into a DataSink.
type Decoder struct {
	sink  DataSink
	clock clockwork.Clock
}

// NewDecoder returns a Decoder writing into sink. A nil clock selects the
// real clock.
func NewDecoder(sink DataSink, clock clockwork.Clock) *Decoder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Decoder{sink: sink, clock: clock}
}

// StreamChannel transfers one channel from src to the sink.
//
// declared is the peer-reported content length (<= 0 when absent), target the
// fixed panel byte budget. The decoder reads at most
// min(declared, target) bytes in bounded chunks, forwards every byte in
// order, and pads the remainder with the channel pad byte so that exactly
// target bytes always reach the sink. A loop that makes no progress for the
// whole deadline returns with TimedOut set; the transfer is still padded to
// the full target.
func (d *Decoder) StreamChannel(src io.Reader, declared int64, target int, ch panel.Channel) Result {
	res := Result{Channel: ch}

	d.sink.PrepareChannel(ch)

	limit := effectiveLimit(declared, target)
	logDeclaredSignature(declared, target, ch)

	start := d.clock.Now()
	buf := make([]byte, chunkCap)

	for res.Received < limit {
		n := limit - res.Received
		if n > chunkCap {
			n = chunkCap
		}
		k, err := src.Read(buf[:n])
		for _, b := range buf[:k] {
			res.Counts[Classify(ch, b)]++
			d.sink.WriteDataByte(b)
		}
		res.Received += k
		res.Written += k

		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error("channel read aborted", err, "channel", ch.String(), "received", res.Received)
			}
			break
		}
		if k == 0 {
			if d.clock.Since(start) >= readDeadline {
				res.TimedOut = true
				break
			}
			d.clock.Sleep(readBackoff)
		}
	}

	res.Elapsed = d.clock.Since(start)
	res.ZeroBytes = res.Received == 0

	if pad := target - res.Written; pad > 0 {
		d.pad(ch, pad, &res)
		log.Info("short channel input padded",
			"channel", ch.String(),
			"received", res.Received,
			"padded", pad,
			"timed_out", res.TimedOut,
		)
	}

	return res
}

// Fill writes a full channel of the pad byte without touching any peer.
// This is the red-channel fallback when the HTTP request itself fails: a
// black/white-only render is an acceptable degraded result.
func (d *Decoder) Fill(ch panel.Channel, target int) Result {
	res := Result{Channel: ch, ZeroBytes: true}
	d.sink.PrepareChannel(ch)
	d.pad(ch, target, &res)
	return res
}

func (d *Decoder) pad(ch panel.Channel, n int, res *Result) {
	pb := ch.PadByte()
	cls := Classify(ch, pb)
	for i := 0; i < n; i++ {
		d.sink.WriteDataByte(pb)
	}
	res.Counts[cls] += n
	res.Written += n
	res.Padded += n
}

// effectiveLimit reconciles the declared content length with the fixed
// target: absent or non-positive declarations fall back to the target, and
// over-declarations are truncated at the target.
func effectiveLimit(declared int64, target int) int {
	if declared <= 0 {
		return target
	}
	if declared > int64(target) {
		return target
	}
	return int(declared)
}

// logDeclaredSignature flags the two known misconfiguration shapes: a
// declared length of exactly a quarter of the target (server rendering at
// the wrong resolution) or exactly double (unpacked instead of packed
// pixels). Diagnostic only; the wire behavior is unchanged.
func logDeclaredSignature(declared int64, target int, ch panel.Channel) {
	switch declared {
	case int64(target) / 4:
		log.Info("declared length is a quarter of the panel budget; server likely renders at the wrong resolution",
			"channel", ch.String(), "declared", declared, "target", target)
	case int64(target) * 2:
		log.Info("declared length is double the panel budget; server likely sends unpacked pixels",
			"channel", ch.String(), "declared", declared, "target", target)
	}
}
