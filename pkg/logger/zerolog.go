package logger

import (
	"io"

	"github.com/rs/zerolog"
)

type ZerologHandler struct {
	logger zerolog.Logger
}

// NewZerolog builds a Logger backed by zerolog writing to w.
func NewZerolog(w io.Writer) *ZerologHandler {
	return &ZerologHandler{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

func (handler *ZerologHandler) Error(msg string, args ...any) {
	handler.emit(handler.logger.Error(), msg, args)
}

func (handler *ZerologHandler) Warn(msg string, args ...any) {
	handler.emit(handler.logger.Warn(), msg, args)
}

func (handler *ZerologHandler) Info(msg string, args ...any) {
	handler.emit(handler.logger.Info(), msg, args)
}

func (handler *ZerologHandler) Debug(msg string, args ...any) {
	handler.emit(handler.logger.Debug(), msg, args)
}

func (handler *ZerologHandler) emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
