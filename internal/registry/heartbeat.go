package registry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Heartbeat registers address under service, renews the lease every third of
// the lease window and deregisters when ctx is done. Failed renewals are
// logged and retried on the next tick, so a service keeps running while the
// registry is down. Heartbeat blocks until ctx is done.
func Heartbeat(ctx context.Context, reg Registrar, service, address string, lease time.Duration, log logrus.FieldLogger) {
	lease = ClampLease(lease)
	log = log.WithFields(logrus.Fields{"service": service, "endpoint": address})

	renew := func() {
		if _, err := reg.Register(ctx, service, address, lease); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("registry heartbeat failed")
		}
	}

	renew()
	ticker := time.NewTicker(lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := reg.Deregister(deregCtx, service, address); err != nil {
				log.WithError(err).Warn("deregister failed")
			} else {
				log.Info("deregistered")
			}
			cancel()
			return
		case <-ticker.C:
			renew()
		}
	}
}
