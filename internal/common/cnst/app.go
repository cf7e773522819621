package cnst

const (
	// AppName is the canonical application name, used for logger naming
	// and the metrics namespace.
	AppName = "webrelay"

	// ConfigFileName is the default configuration file name.
	ConfigFileName = "webrelay.yaml"
)
