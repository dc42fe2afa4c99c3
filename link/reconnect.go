package link

import (
	"slices"

	serial "github.com/allbin/serialconsole"
)

// reconnect runs after the port of sess was lost and the link has moved
// to Reconnecting. It polls the driver
// until the configured port can be opened again, then installs it and
// returns it. It returns nil when the session is cancelled or the policy
// is turned off; neither is reported as an error.
//
// There is no retry limit and no backoff: the poll interval is fixed for
// as long as the policy stays enabled.
func (l *Link) reconnect(sess *session) serial.Port {
	l.mu.Lock()
	if sess.stopped() {
		l.mu.Unlock()
		return nil
	}
	interval := l.policy.PollInterval
	name := l.config.PortName
	l.mu.Unlock()

	log := l.logger.With("port", name)
	log.Infow("waiting for port", "interval", interval)

	ticker := l.clock.Ticker(interval)
	defer ticker.Stop()

	for attempt := 1; ; {
		select {
		case <-sess.stop:
			log.Debug("reconnect cancelled")
			return nil
		case <-l.policyChanged:
			policy := l.ReconnectPolicy()
			if !policy.Enabled {
				log.Info("reconnect disabled, giving up")
				return nil
			}
			if policy.PollInterval != interval {
				interval = policy.PollInterval
				ticker.Reset(interval)
			}
			continue
		case <-ticker.C:
		}

		l.mu.Lock()
		enabled := l.policy.Enabled
		config := l.config
		l.mu.Unlock()
		if !enabled {
			log.Info("reconnect disabled, giving up")
			return nil
		}

		port := l.tryOpen(config, attempt)
		attempt++
		if port == nil {
			continue
		}

		l.mu.Lock()
		if sess.stopped() {
			l.mu.Unlock()
			port.Close()
			return nil
		}
		l.port = port
		l.setStateLocked(Open)
		l.mu.Unlock()

		log.Infow("reconnected", "attempts", attempt-1)
		return port
	}
}

// tryOpen is one poll: enumerate, and open the port if it is listed.
// Failures are logged and left for the next tick.
func (l *Link) tryOpen(config serial.PortConfig, attempt int) serial.Port {
	log := l.logger.With("port", config.PortName, "attempt", attempt)

	ports, err := l.driver.ListPorts()
	if err != nil {
		log.Warnw("listing ports", "error", err)
		return nil
	}
	if !slices.Contains(ports, config.PortName) {
		log.Debug("port not listed")
		return nil
	}

	port, err := l.driver.Open(config)
	if err != nil {
		if serial.Classify(err) == serial.KindTransientMissing {
			log.Debugw("port not ready", "error", err)
		} else {
			log.Warnw("reopen failed", "error", err)
		}
		return nil
	}
	return port
}
