package notify

import "github.com/soltixdb/distro/internal/config"

func configFor(typ string) config.NotifyConfig {
	return config.NotifyConfig{Type: typ}
}
