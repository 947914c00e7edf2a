// Package logging provides structured logging channels for FashionMirror
// operations with per-merchant correlation.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Channel represents a logical logging channel for different system components
type Channel string

const (
	// System channels
	ChannelSystem   Channel = "system"
	ChannelStartup  Channel = "startup"
	ChannelShutdown Channel = "shutdown"

	// Business logic channels
	ChannelWidget       Channel = "widget"       // Host loader lifecycle and events
	ChannelSession      Channel = "session"      // Embedded try-on sessions and FSM
	ChannelTryOn        Channel = "tryon"        // Generation pipeline
	ChannelOrchestrator Channel = "orchestrator" // Progressive multi-garment runs

	// Infrastructure channels
	ChannelMessaging Channel = "messaging" // Widget websocket relay
	ChannelMedia     Channel = "media"     // Image validation, fetch proxy
	ChannelMerchant  Channel = "merchant"  // Merchant registry and onboarding
	ChannelEmail     Channel = "email"     // Transactional email

	// Performance and debugging channels
	ChannelPerf  Channel = "performance"
	ChannelDebug Channel = "debug"
)

// ChanneledLogger provides structured logging with multiple channels
type ChanneledLogger struct {
	channels map[Channel]*slog.Logger
	config   *LoggerConfig
	configMu sync.RWMutex
}

// LoggerConfig contains configuration options for the channeled logger
type LoggerConfig struct {
	OutputToFile    bool   `json:"outputToFile"`
	OutputToConsole bool   `json:"outputToConsole"`
	LogDirectory    string `json:"logDirectory"`

	JSONFormat      bool   `json:"jsonFormat"`
	IncludeSource   bool   `json:"includeSource"`
	TimestampFormat string `json:"timestampFormat"`

	DefaultLevel  slog.Level             `json:"defaultLevel"`
	ChannelLevels map[Channel]slog.Level `json:"channelLevels"`
}

// DefaultLoggerConfig returns a sensible default configuration
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		OutputToFile:    true,
		OutputToConsole: true,
		LogDirectory:    "logs",
		JSONFormat:      true,
		IncludeSource:   true,
		TimestampFormat: time.RFC3339,
		DefaultLevel:    slog.LevelInfo,
		ChannelLevels:   make(map[Channel]slog.Level),
	}
}

// NewChanneledLogger creates a new channeled logger with the given configuration
func NewChanneledLogger(config *LoggerConfig) (*ChanneledLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	logger := &ChanneledLogger{
		channels: make(map[Channel]*slog.Logger),
		config:   config,
	}

	if config.OutputToFile {
		if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	channels := []Channel{
		ChannelSystem, ChannelStartup, ChannelShutdown,
		ChannelWidget, ChannelSession, ChannelTryOn, ChannelOrchestrator,
		ChannelMessaging, ChannelMedia, ChannelMerchant, ChannelEmail,
		ChannelPerf, ChannelDebug,
	}

	for _, channel := range channels {
		channelLogger, err := logger.createChannelLogger(channel)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger for channel %s: %w", channel, err)
		}
		logger.channels[channel] = channelLogger
	}

	return logger, nil
}

// createChannelLogger creates a slog.Logger for a specific channel
func (cl *ChanneledLogger) createChannelLogger(channel Channel) (*slog.Logger, error) {
	cl.configMu.RLock()
	defer cl.configMu.RUnlock()

	level := cl.config.DefaultLevel
	if channelLevel, exists := cl.config.ChannelLevels[channel]; exists {
		level = channelLevel
	}

	var writers []io.Writer

	if cl.config.OutputToConsole {
		writers = append(writers, os.Stdout)
	}

	if cl.config.OutputToFile {
		filename := fmt.Sprintf("%s.log", string(channel))
		path := filepath.Join(cl.config.LogDirectory, filename)

		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}

		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cl.config.IncludeSource,
	}

	var handler slog.Handler
	if cl.config.JSONFormat {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return slog.New(handler).With(slog.String("channel", string(channel))), nil
}

func (cl *ChanneledLogger) System() *slog.Logger       { return cl.channels[ChannelSystem] }
func (cl *ChanneledLogger) Startup() *slog.Logger      { return cl.channels[ChannelStartup] }
func (cl *ChanneledLogger) Shutdown() *slog.Logger     { return cl.channels[ChannelShutdown] }
func (cl *ChanneledLogger) Widget() *slog.Logger       { return cl.channels[ChannelWidget] }
func (cl *ChanneledLogger) Session() *slog.Logger      { return cl.channels[ChannelSession] }
func (cl *ChanneledLogger) TryOn() *slog.Logger        { return cl.channels[ChannelTryOn] }
func (cl *ChanneledLogger) Orchestrator() *slog.Logger { return cl.channels[ChannelOrchestrator] }
func (cl *ChanneledLogger) Messaging() *slog.Logger    { return cl.channels[ChannelMessaging] }
func (cl *ChanneledLogger) Media() *slog.Logger        { return cl.channels[ChannelMedia] }
func (cl *ChanneledLogger) Merchant() *slog.Logger     { return cl.channels[ChannelMerchant] }
func (cl *ChanneledLogger) Email() *slog.Logger        { return cl.channels[ChannelEmail] }
func (cl *ChanneledLogger) Perf() *slog.Logger         { return cl.channels[ChannelPerf] }
func (cl *ChanneledLogger) Debug() *slog.Logger        { return cl.channels[ChannelDebug] }

// GetChannel returns a logger for a specific channel
func (cl *ChanneledLogger) GetChannel(channel Channel) *slog.Logger {
	if logger, exists := cl.channels[channel]; exists {
		return logger
	}
	return cl.channels[ChannelSystem]
}

// WithMerchant returns a logger with merchant context
func (cl *ChanneledLogger) WithMerchant(channel Channel, merchantKey string) *slog.Logger {
	return cl.GetChannel(channel).With(slog.String("merchantKey", merchantKey))
}

// WithSession returns a logger with try-on session context
func (cl *ChanneledLogger) WithSession(channel Channel, sessionID string) *slog.Logger {
	return cl.GetChannel(channel).With(slog.String("sessionId", sessionID))
}
