package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"

	"paybridge/backend"
	"paybridge/bluetooth"
	"paybridge/mqtt"
	"paybridge/payment"
	"paybridge/terminal"
)

var logger = log.New(os.Stdout, "[Config] ", log.LstdFlags|log.Lshortfile)

// EnvPrefix - префикс переменных окружения, например PAYBRIDGE_BACKEND_BASE_URL
const EnvPrefix = "PAYBRIDGE"

// placeholderAddress остаётся в примере конфигурации, пока адрес не задан
const placeholderAddress = "XX:XX:XX:XX:XX:XX"

// TerminalConfig - протокол обмена с терминалом
type TerminalConfig struct {
	Protocol string `mapstructure:"protocol"` // structured или legacy
}

// Credentials - логин и пароль кассира, если хост не передаёт их сам
type Credentials struct {
	Login    string `mapstructure:"login"`
	Password string `mapstructure:"password"`
}

// MetricsConfig - адрес HTTP-сервера метрик. Пустой отключает сервер.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// Config - полная конфигурация моста
type Config struct {
	Bluetooth   bluetooth.Config       `mapstructure:"bluetooth"`
	Terminal    TerminalConfig         `mapstructure:"terminal"`
	Backend     backend.Config         `mapstructure:"backend"`
	Payment     payment.Config         `mapstructure:"payment"`
	Device      payment.DeviceIdentity `mapstructure:"device"`
	Credentials Credentials            `mapstructure:"credentials"`
	MQTT        mqtt.Config            `mapstructure:"mqtt"`
	Metrics     MetricsConfig          `mapstructure:"metrics"`
}

// Load читает YAML-файл и переменные окружения. Пустой path ищет config.yaml
// в текущем каталоге; если его нет, используются значения по умолчанию.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		logger.Println("No config.yaml found, using defaults and environment")
	} else {
		logger.Printf("Loaded config from %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	bt := bluetooth.DefaultConfig()
	v.SetDefault("bluetooth.mode", bt.Mode)
	v.SetDefault("bluetooth.address", "")
	v.SetDefault("bluetooth.channel", bt.Channel)
	v.SetDefault("bluetooth.baud_rate", bt.BaudRate)
	v.SetDefault("bluetooth.connect_timeout", bt.ConnectTimeout)
	v.SetDefault("bluetooth.retry_delay", bt.RetryDelay)
	v.SetDefault("bluetooth.framing", string(bt.Framing))
	v.SetDefault("bluetooth.device_names", bt.DeviceNames)

	v.SetDefault("terminal.protocol", string(terminal.ProtocolStructured))

	be := backend.DefaultConfig()
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.timeout", be.Timeout)

	pay := payment.DefaultConfig()
	v.SetDefault("payment.result_timeout", pay.ResultTimeout)
	v.SetDefault("payment.currency", pay.Currency)

	for _, key := range []string{"device.device_id", "device.device_model", "device.device_name", "device.app_build"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("credentials.login", "")
	v.SetDefault("credentials.password", "")

	mq := mqtt.DefaultConfig()
	v.SetDefault("mqtt.broker", mq.Broker)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.command_topic", mq.CommandTopic)
	v.SetDefault("mqtt.state_topic", mq.StateTopic)
	v.SetDefault("mqtt.qos", mq.QoS)
	v.SetDefault("mqtt.keep_alive", mq.KeepAlive)
	v.SetDefault("mqtt.connect_timeout", mq.ConnectTimeout)
	v.SetDefault("mqtt.auto_reconnect", mq.AutoReconnect)

	v.SetDefault("metrics.listen", "")
}

// Validate проверяет значения, без которых мост не запустится
func (c *Config) Validate() error {
	switch c.Bluetooth.Mode {
	case bluetooth.ModeSocket:
		if c.Bluetooth.Address == placeholderAddress {
			return errors.New("please set bluetooth.address to the terminal MAC address")
		}
		if c.Bluetooth.Address != "" {
			if _, err := bluetooth.ParseAddress(c.Bluetooth.Address); err != nil {
				return fmt.Errorf("bluetooth.address: %w", err)
			}
		}
	case bluetooth.ModeSerial:
		if c.Bluetooth.Address == "" {
			return errors.New("bluetooth.address must name the serial device in serial mode")
		}
	default:
		return fmt.Errorf("unknown bluetooth.mode %q", c.Bluetooth.Mode)
	}

	framing, err := terminal.ParseFramingMode(string(c.Bluetooth.Framing))
	if err != nil {
		return fmt.Errorf("bluetooth.framing: %w", err)
	}
	c.Bluetooth.Framing = framing

	if _, err := terminal.ParseProtocol(c.Terminal.Protocol); err != nil {
		return fmt.Errorf("terminal.protocol: %w", err)
	}

	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if c.Payment.ResultTimeout <= 0 {
		return fmt.Errorf("payment.result_timeout must be positive, got %s", c.Payment.ResultTimeout)
	}
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

// Protocol возвращает протокол терминала из проверенной конфигурации
func (c *Config) Protocol() terminal.Protocol {
	protocol, _ := terminal.ParseProtocol(c.Terminal.Protocol)
	return protocol
}
