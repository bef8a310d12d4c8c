/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekit/log"
)

func TestRequestContextValues(t *testing.T) {
	empty := context.Background()
	require.Nil(t, GetLoggerFromContext(empty))
	require.Nil(t, GetLoggingParamsFromContext(empty))
	require.Empty(t, GetRequestIDFromContext(empty))
	require.Empty(t, GetInternalRequestIDFromContext(empty))
	require.Empty(t, GetUserIDFromContext(empty))
	require.True(t, GetRequestStartTimeFromContext(empty).IsZero())

	logger := log.NewDisabledLogger()
	lp := &LoggingParams{}
	startTime := time.Now()
	ctx := NewContextWithLogger(empty, logger)
	ctx = NewContextWithLoggingParams(ctx, lp)
	ctx = NewContextWithRequestID(ctx, "ext-id")
	ctx = NewContextWithInternalRequestID(ctx, "int-id")
	ctx = NewContextWithUserID(ctx, "42")
	ctx = NewContextWithRequestStartTime(ctx, startTime)

	require.Equal(t, logger, GetLoggerFromContext(ctx))
	require.Same(t, lp, GetLoggingParamsFromContext(ctx))
	require.Equal(t, "ext-id", GetRequestIDFromContext(ctx))
	require.Equal(t, "int-id", GetInternalRequestIDFromContext(ctx))
	require.Equal(t, "42", GetUserIDFromContext(ctx))
	require.Equal(t, startTime, GetRequestStartTimeFromContext(ctx))
}
