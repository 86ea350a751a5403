package config

type Config interface {
	EnvConfig
	APIConfig
	RetryConfig
	PushConfig
	CalendarConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetDataFolder() string
	GetDeviceSecret() string
}

type mainConfig struct {
	EnvVars
	API
	Retry
	Push
	Calendar
}

func New() Config {
	return mainConfig{}
}
