package panel

// Panel geometry. The panel is a fixed 640x384 tri-color module; each data
// byte carries two pixels, so a full channel is width*height/2 bytes.
const (
	DisplayWidth  = 640
	DisplayHeight = 384
	TotalBytes    = DisplayWidth * DisplayHeight / 2
)

// Per-byte pixel encodings used on the wire. On the black/white channel a
// byte is black, white or red-prepare; on the red channel 0x00 enables red
// for the pixel pair and 0xFF leaves it untouched.
const (
	PixelBlack   = 0x00
	PixelWhite   = 0x33
	PixelRedPrep = 0xCC
	PixelRed     = 0x00
	PixelNoRed   = 0xFF
)

// Channel identifies one of the two bitplanes the panel consumes per refresh.
type Channel int

const (
	ChannelBlackWhite Channel = iota
	ChannelRed
)

// PrepareCommand returns the panel command that selects this channel's
// memory for subsequent data bytes.
func (c Channel) PrepareCommand() byte {
	if c == ChannelRed {
		return cmdDataRed
	}
	return cmdDataBlackWhite
}

// PadByte returns the byte used to fill out a short transfer: all-white for
// the black/white channel, no-red for the red channel.
func (c Channel) PadByte() byte {
	if c == ChannelRed {
		return PixelNoRed
	}
	return PixelWhite
}

func (c Channel) String() string {
	if c == ChannelRed {
		return "red"
	}
	return "bw"
}
