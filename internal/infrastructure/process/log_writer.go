package process

import (
	"bytes"

	"go.uber.org/zap"
)

// lineLogger forwards each non-empty line of process output to zap at debug level.
type lineLogger struct {
	logger *zap.SugaredLogger
}

func newLineLogger(logger *zap.SugaredLogger, stream string) *lineLogger {
	return &lineLogger{logger: logger.With("stream", stream)}
}

func (w *lineLogger) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexAny(p, "\r\n")
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debugw("relay output", "line", string(line))
	}
	return total, nil
}
