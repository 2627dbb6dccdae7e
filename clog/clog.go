// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package clog

import (
	"log"
	"os"
	"sync/atomic"
)

// LogProvider is the logging sink used across the scanner, transport and
// director packages. RFC5424 levels only: Debug, Warn, Error, Critical.
type LogProvider interface {
	Critical(format string, v ...interface{})
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Clog is the internal logging handle embedded by packages that need to
// report scan progress, retries and protocol anomalies without forcing a
// logging dependency on callers. It carries an optional tag — a
// connection trace id (transport/ebusd.Client) or a scan phase name
// (scanner/scan.Run) — that every level method stamps onto its own
// message, so callers stop hand-formatting "[%s] ..." prefixes themselves.
type Clog struct {
	provider LogProvider
	tag      string
	// is log output enabled,1: enable, 0: disable
	has uint32
}

// NewLogger Create a new log with the specified prefix
func NewLogger(prefix string) Clog {
	return Clog{
		provider: defaultLogger{
			log.New(os.Stdout, prefix, log.LstdFlags),
		},
		has: 0,
	}
}

// WithTag returns a copy of sf stamped with tag, which every subsequent
// level call prefixes onto its message as "[tag] ...". Chaining WithTag
// nests tags ("conn-ab12/discover") so a phase-scoped logger derived from
// a connection-scoped one keeps both.
func (sf Clog) WithTag(tag string) Clog {
	if sf.tag != "" {
		tag = sf.tag + "/" + tag
	}
	sf.tag = tag
	return sf
}

// LogMode set enable or disable log output when you has set provider
func (sf *Clog) LogMode(enable bool) {
	if enable {
		atomic.StoreUint32(&sf.has, 1)
	} else {
		atomic.StoreUint32(&sf.has, 0)
	}
}

// SetLogProvider set provider provider
func (sf *Clog) SetLogProvider(p LogProvider) {
	if p != nil {
		sf.provider = p
	}
}

func (sf Clog) tagged(format string) string {
	if sf.tag == "" {
		return format
	}
	return "[" + sf.tag + "] " + format
}

// Critical Log CRITICAL level message.
func (sf Clog) Critical(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Critical(sf.tagged(format), v...)
	}
}

// Error Log ERROR level message.
func (sf Clog) Error(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Error(sf.tagged(format), v...)
	}
}

// Warn Log WARN level message.
func (sf Clog) Warn(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Warn(sf.tagged(format), v...)
	}
}

// Debug Log DEBUG level message.
func (sf Clog) Debug(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Debug(sf.tagged(format), v...)
	}
}

// default log
type defaultLogger struct {
	*log.Logger
}

var _ LogProvider = (*defaultLogger)(nil)

// Critical Log CRITICAL level message.
func (sf defaultLogger) Critical(format string, v ...interface{}) {
	sf.Printf("[C]: "+format, v...)
}

// Error Log ERROR level message.
func (sf defaultLogger) Error(format string, v ...interface{}) {
	sf.Printf("[E]: "+format, v...)
}

// Warn Log WARN level message.
func (sf defaultLogger) Warn(format string, v ...interface{}) {
	sf.Printf("[W]: "+format, v...)
}

// Debug Log DEBUG level message.
func (sf defaultLogger) Debug(format string, v ...interface{}) {
	sf.Printf("[D]: "+format, v...)
}
