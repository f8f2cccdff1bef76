package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetryClient struct {
	Client
	markCalls int
	failTimes int
	failKind  Kind
}

func (f *fakeRetryClient) MarkPrice(ctx context.Context, symbol string) (MarkPrice, error) {
	f.markCalls++
	if f.markCalls <= f.failTimes {
		return MarkPrice{}, &Error{Kind: f.failKind, Message: "boom"}
	}
	return MarkPrice{Symbol: symbol, Price: 50000}, nil
}

func newTestRetrying(inner Client) *Retrying {
	return &Retrying{inner: inner, maxAttempts: 3, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond}
}

func TestRetrying_SucceedsWithoutRetryOnFirstTry(t *testing.T) {
	inner := &fakeRetryClient{}
	r := newTestRetrying(inner)
	mp, err := r.MarkPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, mp.Price)
	assert.Equal(t, 1, inner.markCalls)
}

func TestRetrying_RetriesTransientThenSucceeds(t *testing.T) {
	inner := &fakeRetryClient{failTimes: 2, failKind: KindTransient}
	r := newTestRetrying(inner)
	mp, err := r.MarkPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, mp.Price)
	assert.Equal(t, 3, inner.markCalls)
}

func TestRetrying_FailsFastOnFatalError(t *testing.T) {
	inner := &fakeRetryClient{failTimes: 100, failKind: KindMargin}
	r := newTestRetrying(inner)
	_, err := r.MarkPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Equal(t, 1, inner.markCalls)
	ve, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindMargin, ve.Kind)
}

func TestRetrying_ExhaustsAttemptsOnPersistentTransient(t *testing.T) {
	inner := &fakeRetryClient{failTimes: 100, failKind: KindTransient}
	r := newTestRetrying(inner)
	_, err := r.MarkPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	// maxAttempts=3 means 1 initial try + 3 retries = 4 total calls.
	assert.Equal(t, 4, inner.markCalls)
}

func TestRetrying_StopsOnContextCancellation(t *testing.T) {
	inner := &fakeRetryClient{failTimes: 100, failKind: KindTransient}
	r := &Retrying{inner: inner, maxAttempts: 5, baseDelay: 50 * time.Millisecond, maxDelay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := r.MarkPrice(ctx, "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	r := &Retrying{baseDelay: time.Second, maxDelay: 10 * time.Second}
	assert.Equal(t, time.Second, r.backoff(0))
	assert.Equal(t, 2*time.Second, r.backoff(1))
	assert.Equal(t, 4*time.Second, r.backoff(2))
	assert.Equal(t, 8*time.Second, r.backoff(3))
	assert.Equal(t, 10*time.Second, r.backoff(4)) // 16s would exceed maxDelay, capped at 10s
}

func TestClassifyBinanceError_KnownCodes(t *testing.T) {
	cases := []struct {
		code int64
		kind Kind
	}{
		{-1021, KindTransient},
		{-1003, KindTransient},
		{-2010, KindMargin},
		{-2019, KindMargin},
		{-1013, KindFilter},
		{-4164, KindNotional},
		{-4131, KindFilter},
		{-2015, KindAuth},
		{-2011, KindNoOrder},
		{-2013, KindNoOrder},
		{-4028, KindLeverage},
	}
	for _, c := range cases {
		err := ClassifyBinanceError(c.code, "msg", 400, nil)
		assert.Equal(t, c.kind, err.Kind, "code %d", c.code)
		assert.Equal(t, c.code, err.Code)
	}
}

func TestClassifyBinanceError_HTTPStatusFallback(t *testing.T) {
	err := ClassifyBinanceError(0, "server error", 503, nil)
	assert.Equal(t, KindTransient, err.Kind)

	err = ClassifyBinanceError(0, "rate limited", 429, nil)
	assert.Equal(t, KindTransient, err.Kind)

	err = ClassifyBinanceError(-9999, "weird code", 400, nil)
	assert.Equal(t, KindOther, err.Kind)

	err = ClassifyBinanceError(0, "network blip", 0, errors.New("dial tcp: timeout"))
	assert.Equal(t, KindTransient, err.Kind)
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(NewTransient("msg", nil)))
	assert.False(t, Transient(NewFatal(KindMargin, -2010, "msg", nil)))
	assert.False(t, Transient(errors.New("plain error")))
	assert.False(t, Transient(nil))
}

func TestVenueError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	ve := NewTransient("wrapped", cause)
	assert.ErrorIs(t, ve, cause)
}

func TestVenueError_MessageFormatting(t *testing.T) {
	withCode := NewFatal(KindMargin, -2019, "margin is insufficient", nil)
	assert.Contains(t, withCode.Error(), "-2019")
	assert.Contains(t, withCode.Error(), "margin is insufficient")

	noCode := NewTransient("network blip", nil)
	assert.NotContains(t, noCode.Error(), "code")
}
