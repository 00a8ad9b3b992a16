package notify

import (
	"github.com/google/wire"

	"whisker/config"
)

func ProvideNotifier(cfg *config.Config) Notifier {
	return NewHTTPNotifier(cfg.NotifyURL)
}

var Set = wire.NewSet(ProvideNotifier)
