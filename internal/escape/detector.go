// Package escape recognizes the disconnect gesture in terminal input: the
// break character typed Repeat times in a row within Window.
//
// Break characters that might start the gesture are withheld. They are
// handed back to the caller, in order, as soon as the ambiguity resolves:
// either a different byte arrives or the window expires. Only a completed
// gesture swallows them.
package escape

import "time"

const (
	// DefaultChar is Ctrl-].
	DefaultChar byte = 0x1d
	// AltChar is Ctrl-[ (ESC).
	AltChar byte = 0x1b

	// Repeat is the number of consecutive break characters that trigger
	// disconnection.
	Repeat = 3
	// Window is how long withheld break characters wait for the gesture
	// to complete.
	Window = time.Second
)

// Detector is the escape counter. It is not safe for concurrent use; the
// terminal input handler owns it.
type Detector struct {
	char    byte
	enabled bool

	count     int
	deadline  time.Time
	armed     bool
	triggered bool
}

// New returns a detector for char. A disabled detector forwards every byte.
func New(char byte, enabled bool) *Detector {
	return &Detector{char: char, enabled: enabled}
}

// Feed processes one input byte read at now. It returns the bytes to forward
// to the socket, in order, and whether the gesture completed. Once triggered,
// Feed forwards nothing.
func (d *Detector) Feed(b byte, now time.Time) (out []byte, triggered bool) {
	if d.triggered {
		return nil, true
	}
	if !d.enabled {
		return []byte{b}, false
	}

	if b == d.char {
		d.count++
		if d.count >= Repeat {
			d.triggered = true
			d.reset()
			return nil, true
		}
		// The window runs from the first withheld byte; later ones do not
		// extend it.
		if !d.armed {
			d.deadline = now.Add(Window)
			d.armed = true
		}
		return nil, false
	}

	out = d.pending(1)
	out = append(out, b)
	d.reset()
	return out, false
}

// Expire releases withheld break characters once the window has elapsed.
// It returns nil when nothing is pending or the deadline is still ahead.
func (d *Detector) Expire(now time.Time) []byte {
	if !d.armed || now.Before(d.deadline) {
		return nil
	}
	out := d.pending(0)
	d.reset()
	return out
}

// Flush releases withheld break characters regardless of the deadline.
func (d *Detector) Flush() []byte {
	out := d.pending(0)
	d.reset()
	return out
}

// Deadline reports when withheld bytes will be released, if any are.
func (d *Detector) Deadline() (time.Time, bool) {
	return d.deadline, d.armed
}

// Pending is the number of withheld break characters.
func (d *Detector) Pending() int { return d.count }

// Triggered reports whether the gesture has completed.
func (d *Detector) Triggered() bool { return d.triggered }

// Enabled reports whether gesture detection is on.
func (d *Detector) Enabled() bool { return d.enabled }

// Char is the break character.
func (d *Detector) Char() byte { return d.char }

// Name is the caret notation of the break character, e.g. "^]".
func (d *Detector) Name() string {
	return Name(d.char)
}

// Name returns the caret notation of a control character.
func Name(c byte) string {
	switch {
	case c < 0x20:
		return "^" + string(rune(c+'@'))
	case c == 0x7f:
		return "^?"
	default:
		return string(rune(c))
	}
}

// pending returns the withheld bytes with room for extra more.
func (d *Detector) pending(extra int) []byte {
	if d.count == 0 {
		if extra == 0 {
			return nil
		}
		return make([]byte, 0, extra)
	}
	out := make([]byte, d.count, d.count+extra)
	for i := range out {
		out[i] = d.char
	}
	return out
}

func (d *Detector) reset() {
	d.count = 0
	d.armed = false
	d.deadline = time.Time{}
}
