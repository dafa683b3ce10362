package errx

import (
	"errors"

	"go.uber.org/zap"
)

// Fields flattens err into zap fields: code, category, message, every
// context entry as error.context.<key>, and the cause.
// Non-errx errors yield a single zap.Error field.
func Fields(err error) []zap.Field {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return []zap.Field{zap.Error(err)}
	}
	fields := []zap.Field{
		zap.String("error.code", e.Code()),
		zap.String("error.category", e.Description()),
		zap.String("error.message", e.Message()),
		zap.Error(err),
	}
	for key, value := range e.context {
		fields = append(fields, zap.Any("error.context."+key, value))
	}
	if cause := e.Cause(); cause != nil {
		fields = append(fields, zap.NamedError("error.cause", cause))
	}
	return fields
}
