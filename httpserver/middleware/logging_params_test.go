/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/ratelimit"
)

func TestLoggingParams_TimeSlots(t *testing.T) {
	lp := &LoggingParams{}
	require.Empty(t, lp.logFields(true))

	lp.AddTimeSlotDurationInMs("external_request_scrape_ms", 120*time.Millisecond)
	lp.AddTimeSlotDurationInMs("external_request_scrape_ms", 30*time.Millisecond)
	lp.AddTimeSlotDurationInMs("rate_limit_check_ms", 2*time.Millisecond)
	require.Equal(t, timeSlotsMs{"external_request_scrape_ms": 150, "rate_limit_check_ms": 2}, lp.timeSlots)

	require.Empty(t, lp.logFields(false))
	fields := lp.logFields(true)
	require.Len(t, fields, 1)
	require.Equal(t, "time_slots", fields[0].Key)
}

func TestLoggingParams_AddRateLimitDecision(t *testing.T) {
	lp := &LoggingParams{}
	lp.ExtendFields(log.String("source_id", "15"))
	lp.AddRateLimitDecision(ratelimit.QuotaInfo{
		Rule:      "scraping",
		Algorithm: ratelimit.AlgorithmTokenBucket,
		Remaining: 4,
	}, 3*time.Millisecond)

	fields := lp.logFields(false)
	require.Len(t, fields, 4)
	require.Equal(t, log.String("source_id", "15"), fields[0])
	require.Equal(t, log.String("rate_limit_rule", "scraping"), fields[1])
	require.Equal(t, log.String("rate_limit_algorithm", string(ratelimit.AlgorithmTokenBucket)), fields[2])
	require.Equal(t, log.Int("rate_limit_remaining", 4), fields[3])
	require.EqualValues(t, 3, lp.timeSlots["rate_limit_check_ms"])
}
