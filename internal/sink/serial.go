package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	serial "go.bug.st/serial"

	"github.com/signalsfoundry/gpsfix/internal/nmea"
	"github.com/signalsfoundry/gpsfix/model"
)

// Serial writes one NMEA sentence per fix to a serial line, for hardware
// or software that consumes a GPS receiver stream.
type Serial struct {
	mu     sync.Mutex
	w      io.WriteCloser
	device string
	format func(model.Fix) string
}

// OpenSerial opens device at baud. sentence selects "gga" (default) or
// "rmc".
func OpenSerial(device string, baud int, sentence string) (*Serial, error) {
	format, err := sentenceFormat(sentence)
	if err != nil {
		return nil, err
	}
	p, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	return &Serial{w: p, device: device, format: format}, nil
}

// NewSerial wraps an already open writer.
func NewSerial(w io.WriteCloser, sentence string) (*Serial, error) {
	format, err := sentenceFormat(sentence)
	if err != nil {
		return nil, err
	}
	return &Serial{w: w, format: format}, nil
}

func sentenceFormat(sentence string) (func(model.Fix) string, error) {
	switch sentence {
	case "", "gga":
		return nmea.FormatGGA, nil
	case "rmc":
		return nmea.FormatRMC, nil
	default:
		return nil, fmt.Errorf("%w: unsupported NMEA sentence %q", model.ErrInvalidInput, sentence)
	}
}

func (s *Serial) Name() string { return "serial" }

func (s *Serial) Publish(_ context.Context, fix model.Fix) error {
	line := s.format(fix) + "\r\n"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, line); err != nil {
		return fmt.Errorf("serial write %s: %w", s.device, err)
	}
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
