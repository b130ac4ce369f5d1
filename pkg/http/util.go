package http

import (
	"time"

	xutil "TradeWatch/pkg/util"
)

// ParseTime tries RFC3339, a bare date and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }
