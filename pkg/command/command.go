// Package command decodes the line-oriented command stream a host sends to
// the node.
package command

// Command is a decoded command line.
type Command uint8

const (
	// Toggle flips sampling on/off. Any unrecognised line decodes to Toggle.
	Toggle Command = iota
	// Identify requests the identification line and stops sampling.
	Identify
	// Reset clears every channel's energy accumulator.
	Reset
	// On starts sampling.
	On
	// Off stops sampling.
	Off
)

// Wire tokens, case-sensitive.
const (
	TokenIdentify = "id?"
	TokenReset    = "r"
	TokenOn       = "on"
	TokenOff      = "off"
)

// Parse decodes a single token. It never fails: anything that is not a
// known token is a Toggle.
func Parse(token string) Command {
	switch token {
	case TokenIdentify:
		return Identify
	case TokenReset:
		return Reset
	case TokenOn:
		return On
	case TokenOff:
		return Off
	default:
		return Toggle
	}
}

func (c Command) String() string {
	switch c {
	case Identify:
		return "identify"
	case Reset:
		return "reset"
	case On:
		return "on"
	case Off:
		return "off"
	default:
		return "toggle"
	}
}
