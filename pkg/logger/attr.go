package logger

import "log/slog"

// Error returns a slog attribute for a single error. A nil error yields
// an empty attribute that slog drops from the record.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Errors returns a slog attribute carrying several error messages under
// one key. Nil entries are skipped.
func Errors(errs ...error) slog.Attr {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return slog.Attr{}
	}
	return slog.Any("errors", msgs)
}
