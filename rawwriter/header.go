package rawwriter

import (
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// HeaderSize is the encoded size of a raw data file header (8 words)
const HeaderSize = 8 * 8

// NoTrigger is the trigger ID meaning "no trigger configured"
const NoTrigger = -1

// triggerBase is added to the trigger ID so that trigger 0 is distinguishable from none
const triggerBase = 0x8000

// Mode is the acquisition mode recorded in the header
type Mode int

const (
	// ModeTOT is the default time-over-threshold mode; it sets no mode bits
	ModeTOT Mode = iota
	// ModeQDC sets bit 32 of word 0
	ModeQDC
	// ModeMixed sets word 3 to 1
	ModeMixed
)

func (m Mode) String() string {
	switch m {
	case ModeQDC:
		return "qdc"
	case ModeMixed:
		return "mixed"
	default:
		return "tot"
	}
}

// ParseMode maps a mode string to a Mode. Unknown strings map to ModeTOT
// and ok is false.
func ParseMode(s string) (m Mode, ok bool) {
	switch s {
	case "qdc":
		return ModeQDC, true
	case "mixed":
		return ModeMixed, true
	case "tot":
		return ModeTOT, true
	default:
		return ModeTOT, false
	}
}

// Header describes an acquisition run. It is the first record of a raw file.
type Header struct {
	CreationTime uint64  // DAQ clock at file creation
	SyncEpoch    float64 // synchronization epoch
	Frequency    uint32  // system frequency in Hz
	Mode         Mode
	TriggerID    int // NoTrigger when unset
}

// Encode serializes the header into 8 little-endian 64-bit words:
//
//	word 0: frequency (low 32 bits) | qdc flag << 32
//	word 1: IEEE-754 bits of SyncEpoch
//	word 2: 0x8000 + TriggerID, or 0 for NoTrigger
//	word 3: 1 for mixed mode
//	word 4: CreationTime
//	words 5-7: reserved, zero
func (h Header) Encode() [HeaderSize]byte {
	var words [8]uint64

	words[0] = uint64(h.Frequency)
	if h.Mode == ModeQDC {
		words[0] |= 1 << 32
	}
	words[1] = math.Float64bits(h.SyncEpoch)
	if h.TriggerID != NoTrigger {
		words[2] = uint64(int64(triggerBase) + int64(h.TriggerID))
	}
	if h.Mode == ModeMixed {
		words[3] = 1
	}
	words[4] = h.CreationTime

	var out [HeaderSize]byte
	for i, word := range words {
		binary.LittleEndian.PutUint64(out[i*8:], word)
	}
	return out
}

// DecodeHeader parses the first HeaderSize bytes of b
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidHeader, HeaderSize, len(b))
	}

	var words [8]uint64
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(b[i*8:])
	}

	h := Header{
		CreationTime: words[4],
		SyncEpoch:    math.Float64frombits(words[1]),
		Frequency:    uint32(words[0]),
		Mode:         ModeTOT,
		TriggerID:    NoTrigger,
	}

	qdc := words[0]>>32&1 == 1
	mixed := words[3] == 1
	switch {
	case qdc && mixed:
		return Header{}, fmt.Errorf("%w: both qdc and mixed mode flags set", ErrInvalidHeader)
	case qdc:
		h.Mode = ModeQDC
	case mixed:
		h.Mode = ModeMixed
	}

	if words[2] != 0 {
		h.TriggerID = int(int64(words[2]) - triggerBase)
	}

	return h, nil
}

// WriteHeader appends the 64-byte acquisition header through the normal
// data path. Mode strings other than "qdc" and "mixed" set no mode bits.
func (w *Writer) WriteHeader(creationTime uint64, syncEpoch float64, frequency int64, mode string, triggerID int) error {
	m, ok := ParseMode(mode)
	if !ok {
		w.logger.Warn("unknown acquisition mode, writing default mode bits",
			zap.String("mode", mode),
		)
	}

	h := Header{
		CreationTime: creationTime,
		SyncEpoch:    syncEpoch,
		Frequency:    uint32(frequency),
		Mode:         m,
		TriggerID:    triggerID,
	}
	encoded := h.Encode()
	return w.Append(encoded[:])
}
