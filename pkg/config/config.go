package config

import (
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/validation"
)

// EngineConfig is the root configuration for the coordination engine.
type EngineConfig struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Deadlock    DeadlockConfig    `yaml:"deadlock"`
	Fault       FaultConfig       `yaml:"fault"`
	Transport   TransportConfig   `yaml:"transport"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CoordinatorConfig defines timing and retry behavior for the commit protocol
type CoordinatorConfig struct {
	TransactionTimeout    time.Duration `yaml:"transaction_timeout"`     // Abort transactions older than this (default: 30s)
	PrepareTimeout        time.Duration `yaml:"prepare_timeout"`         // Base per-participant prepare deadline (default: 5s)
	CommitTimeout         time.Duration `yaml:"commit_timeout"`          // Per-participant commit deadline (default: 5s)
	MaxRetries            int           `yaml:"max_retries"`             // Vote request retries after the first attempt (default: 3)
	RetryBackoff          time.Duration `yaml:"retry_backoff"`           // Delay between retries (default: 100ms)
	DeadlockSweepInterval time.Duration `yaml:"deadlock_sweep_interval"` // Periodic detection sweep (default: 1s)
}

// DeadlockConfig defines lock wait behavior
type DeadlockConfig struct {
	LockWaitTimeout time.Duration `yaml:"lock_wait_timeout"` // A transaction waiting longer than this is timed out (default: 10s)
}

// FaultConfig defines failure detection and recovery behavior
type FaultConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`     // Health check loop interval (default: 1s)
	CascadeCheckInterval time.Duration `yaml:"cascade_check_interval"` // Cascade risk assessment interval (default: 5s)
	CascadeRiskThreshold float64       `yaml:"cascade_risk_threshold"` // Isolate nodes whose risk exceeds this (default: 0.7)
	MaxBackupActivations int           `yaml:"max_backup_activations"` // Backups activated per crash (default: 2)
	RecoveryDelay        time.Duration `yaml:"recovery_delay"`         // Wait before attempting crash recovery (default: 5s)
	ByzantineDetection   bool          `yaml:"byzantine_detection"`    // Enable quarantine on Byzantine evidence (default: true)
	BftToleranceLevel    int           `yaml:"bft_tolerance_level"`    // Configured f for Byzantine-tolerant replication (default: 1)
}

// TransportConfig selects the RPC substrate
type TransportConfig struct {
	Mode         string `yaml:"mode"`          // "memory" or "socket" (default: memory)
	InprocPrefix string `yaml:"inproc_prefix"` // Namespace for inproc socket addresses
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level string `yaml:"level"` // DEBUG, INFO, WARN, ERROR (default: INFO)
}

// DefaultEngineConfig returns a safe default configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Coordinator: DefaultCoordinatorConfig(),
		Deadlock:    DefaultDeadlockConfig(),
		Fault:       DefaultFaultConfig(),
		Transport:   DefaultTransportConfig(),
		Logging:     LoggingConfig{Level: "INFO"},
	}
}

// DefaultCoordinatorConfig returns commit protocol defaults
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		TransactionTimeout:    30 * time.Second,
		PrepareTimeout:        5 * time.Second,
		CommitTimeout:         5 * time.Second,
		MaxRetries:            3,
		RetryBackoff:          100 * time.Millisecond,
		DeadlockSweepInterval: time.Second,
	}
}

// DefaultDeadlockConfig returns lock wait defaults
func DefaultDeadlockConfig() DeadlockConfig {
	return DeadlockConfig{
		LockWaitTimeout: 10 * time.Second,
	}
}

// DefaultFaultConfig returns failure handling defaults
func DefaultFaultConfig() FaultConfig {
	return FaultConfig{
		HeartbeatInterval:    time.Second,
		CascadeCheckInterval: 5 * time.Second,
		CascadeRiskThreshold: 0.7,
		MaxBackupActivations: 2,
		RecoveryDelay:        5 * time.Second,
		ByzantineDetection:   true,
		BftToleranceLevel:    1,
	}
}

// DefaultTransportConfig returns the in-memory substrate
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Mode:         "memory",
		InprocPrefix: "txcore",
	}
}

// Validate checks if configuration is valid
func (c *EngineConfig) Validate() error {
	if err := c.Coordinator.Validate(); err != nil {
		return err
	}
	if err := c.Deadlock.Validate(); err != nil {
		return err
	}
	if err := c.Fault.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	return validation.NewConfigValidator("LoggingConfig").
		OneOf("Level", c.Logging.Level, []string{"DEBUG", "INFO", "WARN", "ERROR"}).
		Validate()
}

// Validate checks commit protocol timing
func (c *CoordinatorConfig) Validate() error {
	return validation.NewConfigValidator("CoordinatorConfig").
		RequiredDuration("TransactionTimeout", c.TransactionTimeout).
		RequiredDuration("PrepareTimeout", c.PrepareTimeout).
		RequiredDuration("CommitTimeout", c.CommitTimeout).
		NonNegative("MaxRetries", c.MaxRetries).
		RequiredDuration("DeadlockSweepInterval", c.DeadlockSweepInterval).
		Custom("PrepareTimeout", func() error {
			if c.PrepareTimeout >= c.TransactionTimeout {
				return ErrPrepareExceedsTransaction
			}
			return nil
		}).
		Validate()
}

// Validate checks lock wait timing
func (c *DeadlockConfig) Validate() error {
	return validation.NewConfigValidator("DeadlockConfig").
		RequiredDuration("LockWaitTimeout", c.LockWaitTimeout).
		Validate()
}

// Validate checks failure handling parameters
func (c *FaultConfig) Validate() error {
	return validation.NewConfigValidator("FaultConfig").
		RequiredDuration("HeartbeatInterval", c.HeartbeatInterval).
		RequiredDuration("CascadeCheckInterval", c.CascadeCheckInterval).
		Probability("CascadeRiskThreshold", c.CascadeRiskThreshold).
		NonNegative("MaxBackupActivations", c.MaxBackupActivations).
		When(c.ByzantineDetection, func(cv *validation.ConfigValidator) {
			cv.RangeInt("BftToleranceLevel", c.BftToleranceLevel, 1, 3)
		}).
		Validate()
}

// Validate checks the transport selection
func (c *TransportConfig) Validate() error {
	return validation.NewConfigValidator("TransportConfig").
		OneOf("Mode", c.Mode, []string{"memory", "socket"}).
		When(c.Mode == "socket", func(cv *validation.ConfigValidator) {
			cv.Required("InprocPrefix", c.InprocPrefix)
		}).
		Validate()
}
