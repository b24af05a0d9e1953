package perfbuffer

import (
	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
)

// DefaultMaxSize is the flush ceiling used when none is configured.
const DefaultMaxSize = "32MB"

// ParseSize parses a human byte size such as "64KB", "16MB" or "8GB". Units
// follow go-humanize: KB/MB/GB are decimal, KiB/MiB/GiB binary.
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, eris.Wrapf(err, "perfbuffer: parse size %q", s)
	}
	if n == 0 {
		return 0, eris.Errorf("perfbuffer: size %q must be positive", s)
	}
	return int64(n), nil
}
