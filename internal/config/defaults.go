package config

const (
	defaultDataDir                 = "~/.local/share/fieldq"
	defaultLogDir                  = "~/.local/share/fieldq/logs"
	defaultDeliveryTimeout         = 30
	defaultProbeURL                = "https://connectivitycheck.gstatic.com/generate_204"
	defaultProbeInterval           = 15
	defaultProbeTimeout            = 5
	defaultOfflineThreshold        = 2
	defaultRetryPolicy             = "exp"
	defaultRetryBaseSeconds        = 5
	defaultRetryCapSeconds         = 300
	defaultMaxInFlight             = 1
	defaultPollInterval            = 5
	defaultSubmittedRetentionHours = 24
	defaultRatePerMinute           = 30
	defaultLogFormat               = "text"
	defaultLogLevel                = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Delivery: Delivery{
			RequestTimeout: defaultDeliveryTimeout,
		},
		Connectivity: Connectivity{
			ProbeURL:         defaultProbeURL,
			ProbeInterval:    defaultProbeInterval,
			ProbeTimeout:     defaultProbeTimeout,
			OfflineThreshold: defaultOfflineThreshold,
			NetlinkEnabled:   true,
		},
		Retry: Retry{
			Policy:      defaultRetryPolicy,
			BaseSeconds: defaultRetryBaseSeconds,
			CapSeconds:  defaultRetryCapSeconds,
		},
		Queue: Queue{
			MaxInFlight:             defaultMaxInFlight,
			PollInterval:            defaultPollInterval,
			SubmittedRetentionHours: defaultSubmittedRetentionHours,
			RatePerMinute:           defaultRatePerMinute,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
