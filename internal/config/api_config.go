package config

import (
	"fmt"
	"time"
)

// emulatorLoopback is the Android emulator's alias for the host machine.
// Used when neither an explicit API URL nor a dev host is configured.
const emulatorLoopback = "http://10.0.2.2:5000"

type APIConfig interface {
	GetBaseURL() string
	GetRequestTimeout() time.Duration
}

type API struct{}

var _ APIConfig = API{}

// GetBaseURL resolves the default host for all relative requests.
// Resolution order: explicit MEDISCHED_API_URL, then a discovered dev host
// (MEDISCHED_DEV_HOST, as set by the development tooling), then the
// emulator loopback address. Runtime overrides live on the API client, not
// here, and are never persisted across restarts.
func (API) GetBaseURL() string {
	if url := GetEnv(apiURLVar, ""); url != "" {
		return url
	}
	if host := GetEnv(devHostVar, ""); host != "" {
		return fmt.Sprintf("http://%s:5000", host)
	}
	return emulatorLoopback
}

func (API) GetRequestTimeout() time.Duration {
	return 30 * time.Second
}
