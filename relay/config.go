package relay

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the relay server's settings. Fields load from the
// environment via envconfig (prefix CHATSRV) with the defaults below;
// binaries may override individual fields from flags before calling
// Validate.
type Config struct {
	// Addr is the "host:port" the listener binds to.
	Addr string `envconfig:"ADDR" default:":7667" validate:"required"`

	// MaxSessions caps concurrent connections; connections beyond the cap
	// are closed immediately.
	MaxSessions int `envconfig:"MAX_SESSIONS" default:"64" validate:"min=1,max=1024"`

	// TickInterval bounds how long the hub waits between housekeeping
	// passes; it also bounds how quickly a stop request is observed.
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"1s" validate:"min=10ms"`
}

// Validate checks the configuration against its struct tags.
//
// Returns:
//   - An error describing the first invalid field, or nil
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid relay config: %w", err)
	}

	return nil
}
