// Package settings loads the coordinator's static configuration file
// (§6) via viper, mirroring the teacher's use of
// github.com/spf13/viper for structured config and
// github.com/spf13/cobra/pflag for the CLI surface in cmd/coordinator.
package settings

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/xaynetwork/xaynet-go/common/logging"
)

// RpcSettings configures the Aggregator RPC listener/dialer.
type RpcSettings struct {
	BindAddress       string `mapstructure:"bind_address"`
	AggregatorAddress string `mapstructure:"aggregator_address"`
}

// ApiSettings configures the participant-facing HTTP API.
type ApiSettings struct {
	BindAddress string `mapstructure:"bind_address"`
}

// FederatedLearningSettings configures the round state machine.
type FederatedLearningSettings struct {
	Rounds               int           `mapstructure:"rounds"`
	ParticipantsPerRound int           `mapstructure:"participants_per_round"`
	SumFraction          float64       `mapstructure:"sum_fraction"`
	UpdateFraction       float64       `mapstructure:"update_fraction"`
	MinClients           int           `mapstructure:"min_clients"`
	PhaseTimeout         time.Duration `mapstructure:"phase_timeout"`
}

// MetricStoreSettings configures the (external, out-of-scope per §1)
// time-series metrics backend.
type MetricStoreSettings struct {
	DatabaseURL  string `mapstructure:"database_url"`
	DatabaseName string `mapstructure:"database_name"`
}

// LoggingSettings configures common/logging.Initialize.
type LoggingSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Settings is the top-level static configuration (§6).
type Settings struct {
	Rpc               RpcSettings               `mapstructure:"rpc"`
	Api               ApiSettings               `mapstructure:"api"`
	FederatedLearning FederatedLearningSettings `mapstructure:"federated_learning"`
	AggregatorURL     string                    `mapstructure:"aggregator_url"`
	MetricStore       MetricStoreSettings       `mapstructure:"metric_store"`
	Logging           LoggingSettings           `mapstructure:"logging"`
}

// New reads and parses the config file at path. A parse failure here
// is what cmd/coordinator turns into process exit code 1 (§6).
func New(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("settings: failed to read config file: %w", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("settings: failed to parse config file: %w", err)
	}
	return &s, nil
}

// LogLevelAndFormat resolves the logging section into the
// common/logging types, defaulting to info/logfmt.
func (s *Settings) LogLevelAndFormat() (logging.Level, logging.Format, error) {
	level := logging.LevelInfo
	if s.Logging.Level != "" {
		lvl, err := logging.LogLevel(s.Logging.Level)
		if err != nil {
			return 0, 0, err
		}
		level = lvl
	}

	format := logging.FmtLogfmt
	if s.Logging.Format != "" {
		f, err := logging.LogFormat(s.Logging.Format)
		if err != nil {
			return 0, 0, err
		}
		format = f
	}

	return level, format, nil
}
