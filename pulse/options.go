package pulse

import (
	"time"

	"github.com/veldra/pulse.go/pulse/protocol"
)

// Connection defaults applied by NewClient.
const (
	DefaultPort            = 443
	DefaultActivityTimeout = 30 * time.Second
)

// defaultAuthHeaders is used when AuthOptions.Headers is nil.
var defaultAuthHeaders = map[string]string{
	"Content-Type": "application/x-www-form-urlencoded",
}

// AuthOptions configures the endpoint the backend calls to authorize
// subscriptions to private and presence channels.
type AuthOptions struct {
	Endpoint string
	// Headers sent with the authorization request. Defaults to a
	// form-urlencoded content type.
	Headers map[string]string
}

// Options is the connection configuration passed once to NewClient and
// immutable afterwards. The zero value is usable: default port, encryption
// on, default activity timeout.
type Options struct {
	// Cluster selects a backend cluster by name. Ignored when Host is set.
	Cluster string
	// Host overrides the backend host entirely.
	Host string
	// Port of the backend. Defaults to DefaultPort.
	Port int
	// Insecure disables transport encryption. Encryption is on by default.
	Insecure bool
	// ActivityTimeout is the idle interval after which the transport probes
	// the connection. Defaults to DefaultActivityTimeout. Passed through to
	// the transport, never interpreted locally.
	ActivityTimeout time.Duration
	// Auth enables client events and presence channels when set.
	Auth *AuthOptions
}

// withDefaults returns a copy with zero fields replaced by defaults. Nested
// maps are copied so the caller's values stay untouched.
func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.ActivityTimeout == 0 {
		o.ActivityTimeout = DefaultActivityTimeout
	}
	if o.Auth != nil {
		auth := *o.Auth
		headers := auth.Headers
		if headers == nil {
			headers = defaultAuthHeaders
		}
		auth.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			auth.Headers[k] = v
		}
		o.Auth = &auth
	}
	return o
}

// wire converts to the wire shape. The wire carries an encrypted flag and
// milliseconds, so Insecure is inverted and the timeout converted here.
func (o Options) wire() protocol.Options {
	w := protocol.Options{
		Cluster:         o.Cluster,
		Host:            o.Host,
		Port:            o.Port,
		Encrypted:       !o.Insecure,
		ActivityTimeout: o.ActivityTimeout.Milliseconds(),
	}
	if o.Auth != nil {
		w.Auth = &protocol.Auth{Endpoint: o.Auth.Endpoint, Headers: o.Auth.Headers}
	}
	return w
}
