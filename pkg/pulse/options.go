package pulse

type options struct {
	configFile  string
	serviceName string
	environment string
}

// Option configures a Pulse instance.
type Option func(*options)

// WithConfigFile sets the YAML configuration file path. A missing file is
// not an error — defaults plus environment overrides apply.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configFile = path
	}
}

// WithService sets the service name and environment stamped onto every
// event. Default: "pulse", "production".
func WithService(name, environment string) Option {
	return func(o *options) {
		o.serviceName = name
		o.environment = environment
	}
}

func defaultOptions() options {
	return options{
		serviceName: "pulse",
		environment: "production",
	}
}
