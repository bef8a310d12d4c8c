/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"sync"
	"time"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/ratelimit"
)

type timeSlotsMs map[string]int64

func (ts timeSlotsMs) EncodeLogfObject(e logf.FieldEncoder) error {
	for name, ms := range ts {
		e.EncodeFieldInt64(name, ms)
	}
	return nil
}

// LoggingParams collects fields that inner middlewares and handlers add to the "response completed" line
// of the Logging middleware. Time slots go to the "time_slots" group and are logged only for slow requests.
type LoggingParams struct {
	mu        sync.Mutex
	fields    []log.Field
	timeSlots timeSlotsMs
}

// ExtendFields adds fields to the final log line.
func (lp *LoggingParams) ExtendFields(fields ...log.Field) {
	lp.mu.Lock()
	lp.fields = append(lp.fields, fields...)
	lp.mu.Unlock()
}

// AddTimeSlotDurationInMs adds the duration in milliseconds to the named time slot.
func (lp *LoggingParams) AddTimeSlotDurationInMs(name string, dur time.Duration) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.timeSlots == nil {
		lp.timeSlots = make(timeSlotsMs, 1)
	}
	lp.timeSlots[name] += dur.Milliseconds()
}

// AddRateLimitDecision records the rule and the remaining quota of the checked request
// and the time spent on the check.
func (lp *LoggingParams) AddRateLimitDecision(info ratelimit.QuotaInfo, elapsed time.Duration) {
	lp.ExtendFields(
		log.String("rate_limit_rule", info.Rule),
		log.String("rate_limit_algorithm", string(info.Algorithm)),
		log.Int("rate_limit_remaining", info.Remaining),
	)
	lp.AddTimeSlotDurationInMs("rate_limit_check_ms", elapsed)
}

func (lp *LoggingParams) logFields(withTimeSlots bool) []log.Field {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	fields := append([]log.Field(nil), lp.fields...)
	if withTimeSlots && len(lp.timeSlots) != 0 {
		fields = append(fields, log.Field{Key: "time_slots", Type: logf.FieldTypeObject, Any: lp.timeSlots})
	}
	return fields
}
