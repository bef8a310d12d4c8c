/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekit/log"
)

func TestRecorder(t *testing.T) {
	logRecorder := NewRecorder()
	logRecorder.Warn("rate limit exceeded", log.Int("retry_after", 10), log.String("rule", "auth"))
	lockLogger := logRecorder.With(log.String("lock", "scraping_task:all"))
	lockLogger.Debug("lock acquired")
	lockLogger.WithLevel(log.LevelWarn).Info("dropped")
	lockLogger.Info("lock released")
	lockLogger.Info("lock released")

	entries := logRecorder.Entries()
	require.Len(t, entries, 4)
	require.Equal(t, "rate limit exceeded", entries[0].Text)
	require.Equal(t, log.LevelDebug, entries[1].Level)

	entry, found := logRecorder.FindEntry("rate limit exceeded")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, entry.Level)
	field, found := entry.FindField("retry_after")
	require.True(t, found)
	require.EqualValues(t, 10, field.Int)
	field, found = entry.FindField("rule")
	require.True(t, found)
	require.Equal(t, "auth", string(field.Bytes))
	_, found = entry.FindField("lock")
	require.False(t, found)

	entry, found = logRecorder.FindEntry("lock acquired")
	require.True(t, found)
	field, found = entry.FindField("lock")
	require.True(t, found)
	require.Equal(t, "scraping_task:all", string(field.Bytes))

	_, found = logRecorder.FindEntry("dropped")
	require.False(t, found)
	require.Equal(t, 2, logRecorder.CountEntries("lock released"))
	require.Zero(t, logRecorder.CountEntries("unknown"))
}
