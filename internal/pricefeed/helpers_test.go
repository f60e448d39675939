package pricefeed

import "github.com/rs/zerolog"

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
