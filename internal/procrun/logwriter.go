package procrun

import (
	"bufio"
	"bytes"

	"github.com/rs/zerolog"
)

// logLineWriter forwards each line written to it to a zerolog event,
// used by Runner.Log as a convenience over Stdio.
type logLineWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
	field  string
	buf    bytes.Buffer
}

func (w *logLineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	scanner := bufio.NewScanner(bytes.NewReader(w.buf.Bytes()))
	var consumed int
	for scanner.Scan() {
		line := scanner.Text()
		w.logger.WithLevel(w.level).Str(w.field, line).Msg("")
		consumed += len(line) + 1
	}
	if consumed > 0 && consumed <= w.buf.Len() {
		remaining := append([]byte(nil), w.buf.Bytes()[consumed:]...)
		w.buf.Reset()
		w.buf.Write(remaining)
	}
	return len(p), nil
}
