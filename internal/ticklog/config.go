package ticklog

import (
	"fmt"
	"time"
)

// DateLayout names log segments and HDB partitions alike.
const DateLayout = "2006.01.02"

const (
	defaultSegmentMaxBytes int64 = 1 << 30
	defaultQueueSize             = 4096
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "tick"
)

// Config controls the tick log writer.
type Config struct {
	Dir             string
	SegmentMaxBytes int64
	QueueSize       int
	BufferSize      int
	FilePrefix      string
	FlushInterval   time.Duration
	SyncInterval    time.Duration
	CopyPayload     bool
	// Now supplies the clock used for segment dating; tests override it.
	Now func() time.Time
}

// DefaultConfig returns a baseline configuration for the tick log writer.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		SegmentMaxBytes: defaultSegmentMaxBytes,
		QueueSize:       defaultQueueSize,
		BufferSize:      defaultBufferSize,
		FilePrefix:      defaultFilePrefix,
		FlushInterval:   100 * time.Millisecond,
		SyncInterval:    time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid ticklog config: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return fmt.Errorf("invalid ticklog config: SegmentMaxBytes must be > 0")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("invalid ticklog config: QueueSize must be > 0")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid ticklog config: BufferSize must be > 0")
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("invalid ticklog config: FlushInterval must be >= 0")
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("invalid ticklog config: SyncInterval must be >= 0")
	}
	return nil
}
