package user

import (
	"github.com/sirupsen/logrus"

	"github.com/iotaledger/streams-sub000/crypto"
)

// Options configures a User at construction, following the teacher's
// plain-struct, constructor-defaults style rather than a config file
// format.
type Options struct {
	// Logger receives structured, entry/exit session-level logs. If
	// nil, logrus.StandardLogger() is used.
	Logger *logrus.Logger

	// Time provides the clock used for permission-expiry checks. If
	// nil, crypto.DefaultTimeProvider{} is used.
	Time crypto.TimeProvider

	// PBKDF2Hardening additionally stretches the backup password-derived
	// key through PBKDF2-HMAC-SHA256 before use. Off by default; an
	// additive hardening, never a replacement for the sponge-based
	// derivation in backup.Backup.
	PBKDF2Hardening bool
}

// NewOptions returns the default Options, matching the teacher's
// NewOptions() constructor pattern.
func NewOptions() Options {
	return Options{
		Logger: logrus.StandardLogger(),
		Time:   crypto.DefaultTimeProvider{},
	}
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Time == nil {
		o.Time = crypto.DefaultTimeProvider{}
	}
	return o
}
