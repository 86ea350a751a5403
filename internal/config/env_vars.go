package config

import "os"

const (
	appNameVar      = "APP_NAME"
	folderEnvVar    = "FOLDER"
	apiURLVar       = "MEDISCHED_API_URL"
	devHostVar      = "MEDISCHED_DEV_HOST"
	deviceSecretVar = "DEVICE_SECRET"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "MediSched")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func (EnvVars) GetDataFolder() string {
	return GetEnv(folderEnvVar, "./data")
}

// GetDeviceSecret returns the secret used to seal the credential store at
// rest. On a real device this comes from the platform keystore; the default
// only exists so local development works out of the box.
func (EnvVars) GetDeviceSecret() string {
	return GetEnv(deviceSecretVar, "medisched-local-dev")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
