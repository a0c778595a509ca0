package bluetooth

import (
	"context"
	"strings"
)

// Device - найденное или сопряжённое устройство
type Device struct {
	Address string `mapstructure:"address" json:"address"`
	Name    string `mapstructure:"name" json:"name"`
}

// Discoverer возвращает список доступных устройств. Реализация поиска
// (диалоги сопряжения, разрешения ОС) остаётся на стороне хоста.
type Discoverer interface {
	Discover(ctx context.Context) ([]Device, error)
}

// StaticDiscoverer отдаёт заранее сопряжённые устройства из конфигурации
type StaticDiscoverer []Device

func (s StaticDiscoverer) Discover(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Device, len(s))
	copy(out, s)
	return out, nil
}

// FilterByName оставляет устройства с разрешёнными именами. Пустой список имён пропускает всё.
func FilterByName(devices []Device, names []string) []Device {
	if len(names) == 0 {
		return devices
	}
	var out []Device
	for _, d := range devices {
		for _, name := range names {
			if strings.EqualFold(strings.TrimSpace(d.Name), strings.TrimSpace(name)) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
