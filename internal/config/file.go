package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// FileConfig is the on-disk overlay shape. Every field is optional; unset
// fields fall through to the environment-backed defaults. Durations are
// strings ("30s", "5m") parsed after decode.
type FileConfig struct {
	API      *APIFileBlock      `hcl:"api,block"`
	Retry    *RetryFileBlock    `hcl:"retry,block"`
	Push     *PushFileBlock     `hcl:"push,block"`
	Calendar *CalendarFileBlock `hcl:"calendar,block"`
}

type APIFileBlock struct {
	BaseURL        string `hcl:"base_url,optional"`
	RequestTimeout string `hcl:"request_timeout,optional"`
}

type RetryFileBlock struct {
	Attempts  int    `hcl:"attempts,optional"`
	BaseDelay string `hcl:"base_delay,optional"`
}

type PushFileBlock struct {
	ProjectID string `hcl:"project_id,optional"`
	TokenTTL  string `hcl:"token_ttl,optional"`
}

type CalendarFileBlock struct {
	CallbackTimeout string `hcl:"callback_timeout,optional"`
	LoopbackAddr    string `hcl:"loopback_addr,optional"`
}

// LoadFile decodes an HCL overlay file and layers it over the defaults.
func LoadFile(path string) (Config, error) {
	var file FileConfig
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, fmt.Errorf("[config.LoadFile] decode %s: %w", path, err)
	}
	return newOverlay(file)
}

type overlayConfig struct {
	mainConfig

	baseURL         string
	requestTimeout  time.Duration
	retryAttempts   int
	retryBaseDelay  time.Duration
	pushProjectID   string
	pushTokenTTL    time.Duration
	callbackTimeout time.Duration
	loopbackAddr    string
}

func newOverlay(file FileConfig) (*overlayConfig, error) {
	o := &overlayConfig{retryAttempts: -1}

	if file.API != nil {
		o.baseURL = file.API.BaseURL
		d, err := parseOptionalDuration("api.request_timeout", file.API.RequestTimeout)
		if err != nil {
			return nil, err
		}
		o.requestTimeout = d
	}
	if file.Retry != nil {
		if file.Retry.Attempts > 0 {
			o.retryAttempts = file.Retry.Attempts
		}
		d, err := parseOptionalDuration("retry.base_delay", file.Retry.BaseDelay)
		if err != nil {
			return nil, err
		}
		o.retryBaseDelay = d
	}
	if file.Push != nil {
		o.pushProjectID = file.Push.ProjectID
		d, err := parseOptionalDuration("push.token_ttl", file.Push.TokenTTL)
		if err != nil {
			return nil, err
		}
		o.pushTokenTTL = d
	}
	if file.Calendar != nil {
		o.loopbackAddr = file.Calendar.LoopbackAddr
		d, err := parseOptionalDuration("calendar.callback_timeout", file.Calendar.CallbackTimeout)
		if err != nil {
			return nil, err
		}
		o.callbackTimeout = d
	}
	return o, nil
}

func parseOptionalDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("[config.LoadFile] %s: %w", field, err)
	}
	return d, nil
}

func (o *overlayConfig) GetBaseURL() string {
	if o.baseURL != "" {
		return o.baseURL
	}
	return o.mainConfig.GetBaseURL()
}

func (o *overlayConfig) GetRequestTimeout() time.Duration {
	if o.requestTimeout > 0 {
		return o.requestTimeout
	}
	return o.mainConfig.GetRequestTimeout()
}

func (o *overlayConfig) GetRetryAttempts() int {
	if o.retryAttempts >= 0 {
		return o.retryAttempts
	}
	return o.mainConfig.GetRetryAttempts()
}

func (o *overlayConfig) GetRetryBaseDelay() time.Duration {
	if o.retryBaseDelay > 0 {
		return o.retryBaseDelay
	}
	return o.mainConfig.GetRetryBaseDelay()
}

func (o *overlayConfig) GetPushProjectID() string {
	if o.pushProjectID != "" {
		return o.pushProjectID
	}
	return o.mainConfig.GetPushProjectID()
}

func (o *overlayConfig) GetPushTokenTTL() time.Duration {
	if o.pushTokenTTL > 0 {
		return o.pushTokenTTL
	}
	return o.mainConfig.GetPushTokenTTL()
}

func (o *overlayConfig) GetCallbackTimeout() time.Duration {
	if o.callbackTimeout > 0 {
		return o.callbackTimeout
	}
	return o.mainConfig.GetCallbackTimeout()
}

func (o *overlayConfig) GetLoopbackAddr() string {
	if o.loopbackAddr != "" {
		return o.loopbackAddr
	}
	return o.mainConfig.GetLoopbackAddr()
}
