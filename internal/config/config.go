package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/statarb/pairback/internal/backtest"
	"github.com/statarb/pairback/internal/gridsearch"
)

// Named evaluation periods for the panel date filter.
const (
	PeriodTrain = "train"
	PeriodTest  = "test"
)

// App is the top-level application configuration loaded from YAML.
type App struct {
	Paths    Paths            `yaml:"paths"`
	Period   string           `yaml:"period,omitempty"`
	Backtest backtest.Config  `yaml:"backtest"`
	Grid     *gridsearch.Grid `yaml:"grid,omitempty"`
	Output   Output           `yaml:"output"`
	Postgres Postgres         `yaml:"postgres,omitempty"`
	Monitor  Monitor          `yaml:"monitor,omitempty"`
}

// Paths locates the input files.
type Paths struct {
	PanelCSV string `yaml:"panel_csv"`
	PairsCSV string `yaml:"pairs_csv"`
}

// Output controls where run artifacts land.
type Output struct {
	Dir string `yaml:"dir"`
}

// Postgres enables result persistence when a DSN is set.
type Postgres struct {
	DSN string `yaml:"dsn,omitempty"`
}

// Monitor enables the health and metrics HTTP endpoint when an address is
// set.
type Monitor struct {
	Addr string `yaml:"addr,omitempty"`
}

// Load reads and validates an application configuration file.
func Load(path string) (*App, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg App
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks required fields and the backtest hyperparameters.
func (c *App) Validate() error {
	if c.Paths.PanelCSV == "" {
		return fmt.Errorf("paths.panel_csv is required")
	}
	if c.Paths.PairsCSV == "" {
		return fmt.Errorf("paths.pairs_csv is required")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if _, _, err := c.PeriodBounds(); err != nil {
		return err
	}
	if err := c.Backtest.Validate(); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if c.Grid != nil {
		if err := c.Grid.Validate(); err != nil {
			return fmt.Errorf("grid: %w", err)
		}
	}
	return nil
}

// PeriodBounds resolves the named evaluation period into date bounds. An
// empty period means the full panel; anything else is a config error.
func (c *App) PeriodBounds() (start, end time.Time, err error) {
	switch c.Period {
	case "":
		return time.Time{}, time.Time{}, nil
	case PeriodTrain:
		return time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC), nil
	case PeriodTest:
		return time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown period %q (want %q or %q)", c.Period, PeriodTrain, PeriodTest)
	}
}
