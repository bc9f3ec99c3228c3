package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	// serviceType is the mDNS service Meshtastic devices advertise on
	// their network API port.
	serviceType = "_meshtastic._tcp"
	domain      = "local."

	DefaultTimeout = 5 * time.Second
)

// ErrNoRadioFound is returned when the browse window closes without a
// single advertised radio.
var ErrNoRadioFound = errors.New("no radio found via mdns")

// Radio is one discovered device.
type Radio struct {
	Instance string
	Host     string
	Port     int
}

// FindRadio browses mDNS for an advertised radio and returns the first
// one seen. Used when no radio host is configured.
func FindRadio(ctx context.Context, logger *slog.Logger, timeout time.Duration) (Radio, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "discovery")
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)

	go func() {
		browseErr <- zeroconf.Browse(browseCtx, serviceType, domain, entries, removed)
	}()
	go func() {
		for range removed {
		}
	}()

	logger.Info("browsing for radio", "service", serviceType, "timeout", timeout)

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil

				continue
			}
			radio, ok := radioFromEntry(entry)
			if !ok {
				continue
			}
			logger.Info("radio discovered", "instance", radio.Instance, "host", radio.Host, "port", radio.Port)
			cancel()

			return radio, nil
		case <-browseCtx.Done():
			if err := <-browseErr; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return Radio{}, fmt.Errorf("mdns browse: %w", err)
			}

			return Radio{}, ErrNoRadioFound
		}
	}
}

func radioFromEntry(entry *zeroconf.ServiceEntry) (Radio, bool) {
	if entry == nil {
		return Radio{}, false
	}

	radio := Radio{Instance: entry.Instance, Port: entry.Port}
	switch {
	case len(entry.AddrIPv4) > 0:
		radio.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		radio.Host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		radio.Host = entry.HostName
	default:
		return Radio{}, false
	}

	return radio, true
}
