package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// DoneSentinel is the payload of the final frame of every completion stream.
const DoneSentinel = "[DONE]"

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

func setSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Data writes one event. Each line of payload becomes its own data: line so
// that a compliant reader joins them back with "\n".
func (s *sseWriter) Data(payload string) error {
	var b strings.Builder
	for _, line := range strings.Split(lineBreaks.Replace(payload), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return errors.Wrap(err, "write event")
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) Done() error {
	return s.Data(DoneSentinel)
}
