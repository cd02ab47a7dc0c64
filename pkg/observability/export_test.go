package observability

import (
	"io"
)

// InitWithWriter exposes initWithWriter so tests can capture log output.
var InitWithWriter = func(cfg Config, out io.Writer) (Providers, error) {
	return initWithWriter(cfg, out)
}
