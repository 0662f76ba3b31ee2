package engine

type ApplicationConfig struct {
	// The application name used in windowing and by the driver.
	Name string
	// Path of the TOML configuration. Defaults are used when empty or
	// missing.
	ConfigPath string
	// Reload the configuration when the file changes.
	WatchConfig bool
}
