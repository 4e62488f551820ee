package identity

import (
	"context"

	"github.com/rs/zerolog"
)

// SMSSender delivers one-time codes.
type SMSSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log instead of sending them. It is the
// development sender; production deployments plug in a gateway.
type LogSender struct {
	Logger zerolog.Logger
}

// SendCode logs the code.
func (s LogSender) SendCode(ctx context.Context, phone, code string) error {
	s.Logger.Info().Str("phone", phone).Str("code", code).Msg("one-time code")
	return nil
}
