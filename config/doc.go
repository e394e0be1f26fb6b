// Package config loads the proxy configuration.
//
// Values come from three places, each overriding the one before: the
// built-in defaults, one or more YAML or JSON files, and RTI_PROXY_*
// environment variables. Command-line flags are applied by the caller after
// Load returns.
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/rti-proxy/config.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Durations are Go duration strings ("10s", "250ms"). Unknown keys are an
// error so a misspelled option does not silently fall back to its default.
//
// Environment overrides:
//
//	RTI_PROXY_HUB_HOST       hub.host
//	RTI_PROXY_HUB_PORT       hub.port
//	RTI_PROXY_USERNAME       hub.username
//	RTI_PROXY_PASSWORD       hub.password
//	RTI_PROXY_OTP            hub.otp
//	RTI_PROXY_PORT           proxy.port
//	RTI_PROXY_INSPECT_PORT   inspect.port
//	RTI_PROXY_NATS_URL       nats.url
//	RTI_PROXY_LOG_LEVEL      log.level
//
// Config.String and Config.Redacted mask passwords and tokens.
package config
