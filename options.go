package seamhand

import "go.uber.org/zap"

// Options configures a Stream. It is built from functional Option values
// the same way github.com/hayabusa-cloud/framer configures its Options.
type Options struct {
	Logger *zap.Logger
}

var defaultOptions = Options{
	Logger: zap.NewNop(),
}

type Option func(*Options)

// WithLogger attaches a structured logger used for coordinator and
// divider diagnostics. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}
