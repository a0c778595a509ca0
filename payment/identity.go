package payment

import (
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"paybridge/terminal"
)

// DeviceIdentity - отпечаток хоста, передаваемый терминалу с карточными командами
type DeviceIdentity struct {
	DeviceID    string `mapstructure:"device_id"`
	DeviceModel string `mapstructure:"device_model"`
	DeviceName  string `mapstructure:"device_name"`
	AppBuild    string `mapstructure:"app_build"`
}

// DefaultIdentity строит отпечаток по hostname, machine-id и сборке бинарника
func DefaultIdentity() DeviceIdentity {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "paybridge"
	}

	seed := hostname
	if raw, err := os.ReadFile("/etc/machine-id"); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			seed = id
		}
	}

	build := "devel"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		build = info.Main.Version
	}

	return DeviceIdentity{
		DeviceID:    uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String(),
		DeviceModel: runtime.GOOS + "/" + runtime.GOARCH,
		DeviceName:  hostname,
		AppBuild:    build,
	}
}

// WithDefaults заполняет пустые поля значениями DefaultIdentity
func (d DeviceIdentity) WithDefaults() DeviceIdentity {
	if d.DeviceID != "" && d.DeviceModel != "" && d.DeviceName != "" && d.AppBuild != "" {
		return d
	}
	def := DefaultIdentity()
	if d.DeviceID == "" {
		d.DeviceID = def.DeviceID
	}
	if d.DeviceModel == "" {
		d.DeviceModel = def.DeviceModel
	}
	if d.DeviceName == "" {
		d.DeviceName = def.DeviceName
	}
	if d.AppBuild == "" {
		d.AppBuild = def.AppBuild
	}
	return d
}

func (d DeviceIdentity) info() *terminal.DeviceInfo {
	return &terminal.DeviceInfo{
		DeviceID:    d.DeviceID,
		DeviceModel: d.DeviceModel,
		DeviceName:  d.DeviceName,
		AppBuild:    d.AppBuild,
	}
}
