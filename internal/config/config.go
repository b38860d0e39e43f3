package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Kowalski KowalskiConfig `yaml:"kowalski" mapstructure:"kowalski"`
	Catalogs CatalogsConfig `yaml:"catalogs" mapstructure:"catalogs"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Query    QueryConfig    `yaml:"query" mapstructure:"query"`
	Filter   FilterConfig   `yaml:"filter" mapstructure:"filter"`
	Period   PeriodConfig   `yaml:"period" mapstructure:"period"`
	XMatch   XMatchConfig   `yaml:"xmatch" mapstructure:"xmatch"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// KowalskiConfig holds catalog-service endpoints and credentials. The
// survey runs separate instances for source light curves, the Gaia
// mirror, and the alert stream; all three may point at one host.
type KowalskiConfig struct {
	Token      string  `yaml:"token" mapstructure:"token"`
	SourcesURL string  `yaml:"sources_url" mapstructure:"sources_url"`
	GaiaURL    string  `yaml:"gaia_url" mapstructure:"gaia_url"`
	AlertsURL  string  `yaml:"alerts_url" mapstructure:"alerts_url"`
	QPS        float64 `yaml:"qps" mapstructure:"qps"`
}

// CatalogsConfig names the collections queried on the service.
type CatalogsConfig struct {
	Sources string `yaml:"sources" mapstructure:"sources"`
	Alerts  string `yaml:"alerts" mapstructure:"alerts"`
	Gaia    string `yaml:"gaia" mapstructure:"gaia"`
}

// StoreConfig configures the run-ledger database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// QueryConfig bounds the catalog queries.
type QueryConfig struct {
	Limit                  int     `yaml:"limit" mapstructure:"limit"`
	BrightStarRadiusArcsec float64 `yaml:"bright_star_radius_arcsec" mapstructure:"bright_star_radius_arcsec"`
	XMatchRadiusArcsec     float64 `yaml:"xmatch_radius_arcsec" mapstructure:"xmatch_radius_arcsec"`
	BrightStarMagLimit     float64 `yaml:"bright_star_mag_limit" mapstructure:"bright_star_mag_limit"`
	MinObs                 int     `yaml:"min_obs" mapstructure:"min_obs"`
}

// FilterConfig configures light-curve cleaning.
type FilterConfig struct {
	MinPoints      int     `yaml:"min_points" mapstructure:"min_points"`
	CadenceMinutes float64 `yaml:"cadence_minutes" mapstructure:"cadence_minutes"`
}

// PeriodConfig configures the period search. Algorithms overrides the
// mode-derived backend selection when non-empty.
type PeriodConfig struct {
	Algorithms        []string `yaml:"algorithms" mapstructure:"algorithms"`
	CPU               bool     `yaml:"cpu" mapstructure:"cpu"`
	Accelerated       bool     `yaml:"accelerated" mapstructure:"accelerated"`
	SamplesPerPeak    int      `yaml:"samples_per_peak" mapstructure:"samples_per_peak"`
	LongPeriod        bool     `yaml:"long_period" mapstructure:"long_period"`
	RemoveTerrestrial bool     `yaml:"remove_terrestrial" mapstructure:"remove_terrestrial"`
	Parallel          bool     `yaml:"parallel" mapstructure:"parallel"`
	Ncore             int      `yaml:"ncore" mapstructure:"ncore"`
}

// XMatchConfig configures external-catalog cross matching.
type XMatchConfig struct {
	CatalogsFile string  `yaml:"catalogs_file" mapstructure:"catalogs_file"`
	RadiusArcsec float64 `yaml:"radius_arcsec" mapstructure:"radius_arcsec"`
}

// OutputConfig configures the feature artifacts.
type OutputConfig struct {
	Dirname  string `yaml:"dirname" mapstructure:"dirname"`
	Filename string `yaml:"filename" mapstructure:"filename"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FEATURES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("kowalski.sources_url", "https://melman.caltech.edu")
	v.SetDefault("kowalski.gaia_url", "https://gloria.caltech.edu")
	v.SetDefault("kowalski.alerts_url", "https://kowalski.caltech.edu")
	v.SetDefault("kowalski.qps", 4.0)
	v.SetDefault("catalogs.sources", "ZTF_sources_20210401")
	v.SetDefault("catalogs.alerts", "ZTF_alerts")
	v.SetDefault("catalogs.gaia", "Gaia_EDR3")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "features.db")
	v.SetDefault("query.limit", 10000)
	v.SetDefault("query.bright_star_radius_arcsec", 300.0)
	v.SetDefault("query.xmatch_radius_arcsec", 2.0)
	v.SetDefault("query.bright_star_mag_limit", 13.0)
	v.SetDefault("query.min_obs", 0)
	v.SetDefault("filter.min_points", 50)
	v.SetDefault("filter.cadence_minutes", 30.0)
	v.SetDefault("period.algorithms", []string{})
	v.SetDefault("period.cpu", true)
	v.SetDefault("period.samples_per_peak", 10)
	v.SetDefault("period.remove_terrestrial", true)
	v.SetDefault("period.ncore", 8)
	v.SetDefault("xmatch.radius_arcsec", 2.0)
	v.SetDefault("output.dirname", "generated_features")
	v.SetDefault("output.filename", "gen_features")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields required for the given run mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "generate":
		if c.Kowalski.Token == "" {
			problems = append(problems, "kowalski.token is required")
		}
		if c.Catalogs.Sources == "" {
			problems = append(problems, "catalogs.sources is required")
		}
		if c.Period.CPU && c.Period.Accelerated {
			problems = append(problems, "period.cpu and period.accelerated are mutually exclusive")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Filter.MinPoints < 0 {
		problems = append(problems, "filter.min_points must be >= 0")
	}
	if c.Period.SamplesPerPeak < 1 {
		problems = append(problems, "period.samples_per_peak must be >= 1")
	}
	if c.Period.Ncore < 1 || c.Period.Ncore > 128 {
		problems = append(problems, "period.ncore must be between 1 and 128")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
