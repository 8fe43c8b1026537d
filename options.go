package cfile

import "go.uber.org/zap"

// config holds Reader construction settings.
type config struct {
	logger          *zap.Logger
	maxMetadataSize int64
}

func defaultConfig() config {
	return config{
		logger:          zap.NewNop(),
		maxMetadataSize: MaxMetadataSize,
	}
}

// Option configures a Reader.
type Option func(*config)

// WithLogger routes debug logging through the provided logger.
// The default logger discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithMaxMetadataSize lowers the accepted header/footer record size below
// the format maximum. Values outside (0, MaxMetadataSize] are ignored.
func WithMaxMetadataSize(n int64) Option {
	return func(cfg *config) {
		if n > 0 && n <= MaxMetadataSize {
			cfg.maxMetadataSize = n
		}
	}
}
