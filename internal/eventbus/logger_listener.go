package eventbus

import (
	"context"

	"github.com/annel0/voxel-tower/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог компонента eventbus.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	log := logging.GetComponentLogger("eventbus")
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		if ev.EventType == EventBlockPlaced {
			if pos, err := DecodeBlockPlaced(ev); err == nil {
				log.Debug("[EventBus] %s %s src=%s client=%s pos=%s", ev.ID, ev.EventType, ev.Source, ev.CorrelationID, pos)
				return
			}
		}
		log.Debug("[EventBus] %s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
