package transport

import (
	"errors"
	"time"
)

// DefaultDaemonPort is the conventional ebusd TCP command port.
const DefaultDaemonPort = 8888

// defines the valid configuration ranges for a daemon connection.
const (
	// "dial" timeout range [1ms, 60s], default 5s.
	DialTimeoutMin = 1 * time.Millisecond
	DialTimeoutMax = 60 * time.Second

	// "io" timeout range [1ms, 60s], default 5s.
	IOTimeoutMin = 1 * time.Millisecond
	IOTimeoutMax = 60 * time.Second

	// "retry backoff" range [0, 10s], default ~1s.
	RetryBackoffMin = 0 * time.Second
	RetryBackoffMax = 10 * time.Second

	// "drain" deadline range [1ms, 5s], default 200ms. Used to drain any
	// trailing response lines after the payload line without treating
	// that drain as a request-level timeout.
	DrainTimeoutMin = 1 * time.Millisecond
	DrainTimeoutMax = 5 * time.Second
)

// Config defines a daemon TCP connection's timing behavior.
// The default is applied for each unspecified (zero) value.
type Config struct {
	// Host is the daemon's TCP host, default "localhost".
	Host string

	// Port is the daemon's TCP port, default DefaultDaemonPort.
	Port int

	// DialTimeout bounds establishing the per-request TCP connection.
	// range [1ms, 60s], default 5s.
	DialTimeout time.Duration

	// IOTimeout bounds each read/write deadline on the connection.
	// range [1ms, 60s], default 5s.
	IOTimeout time.Duration

	// RetryBackoff is the sleep before the single retry-on-timeout.
	// range [0, 10s], default ~1s.
	RetryBackoff time.Duration

	// DrainTimeout bounds draining trailing response lines once the
	// payload line has been captured. range [1ms, 5s], default 200ms.
	DrainTimeout time.Duration
}

// Valid applies the default for each unspecified value and rejects
// out-of-range ones.
func (sf *Config) Valid() error {
	if sf == nil {
		return errors.New("transport: invalid pointer")
	}

	if sf.Host == "" {
		sf.Host = "localhost"
	}
	if sf.Port == 0 {
		sf.Port = DefaultDaemonPort
	}

	if sf.DialTimeout == 0 {
		sf.DialTimeout = 5 * time.Second
	} else if sf.DialTimeout < DialTimeoutMin || sf.DialTimeout > DialTimeoutMax {
		return errors.New("transport: DialTimeout not in [1ms, 60s]")
	}

	if sf.IOTimeout == 0 {
		sf.IOTimeout = 5 * time.Second
	} else if sf.IOTimeout < IOTimeoutMin || sf.IOTimeout > IOTimeoutMax {
		return errors.New("transport: IOTimeout not in [1ms, 60s]")
	}

	if sf.RetryBackoff == 0 {
		sf.RetryBackoff = 1 * time.Second
	} else if sf.RetryBackoff < RetryBackoffMin || sf.RetryBackoff > RetryBackoffMax {
		return errors.New("transport: RetryBackoff not in [0, 10s]")
	}

	if sf.DrainTimeout == 0 {
		sf.DrainTimeout = 200 * time.Millisecond
	} else if sf.DrainTimeout < DrainTimeoutMin || sf.DrainTimeout > DrainTimeoutMax {
		return errors.New("transport: DrainTimeout not in [1ms, 5s]")
	}

	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         DefaultDaemonPort,
		DialTimeout:  5 * time.Second,
		IOTimeout:    5 * time.Second,
		RetryBackoff: 1 * time.Second,
		DrainTimeout: 200 * time.Millisecond,
	}
}
