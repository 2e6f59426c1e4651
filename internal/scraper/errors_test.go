package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchErrorUserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *FetchError
		want string
	}{
		{name: "rate limited", err: HTTPStatusError(429), want: "Rate limited by website. Too many requests."},
		{name: "forbidden", err: HTTPStatusError(403), want: "Access forbidden. The website is blocking automated requests."},
		{name: "not found", err: HTTPStatusError(404), want: "Page not found (404)."},
		{name: "server error", err: HTTPStatusError(500), want: "HTTP Error 500: Internal Server Error"},
		{name: "unknown code", err: HTTPStatusError(599), want: "HTTP Error 599: unexpected status"},
		{name: "network", err: NetworkError(errors.New("dial tcp: refused")), want: "network error: dial tcp: refused"},
		{name: "parse", err: ParseError(errors.New("bad html")), want: "parse error: bad html"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.err.UserMessage())
		})
	}
}

func TestHTTPStatusErrorMessage(t *testing.T) {
	t.Parallel()

	err := HTTPStatusError(502)
	require.Equal(t, "HTTP Error 502", err.Error())
	require.Equal(t, KindHTTPStatus, err.Kind)
	require.Equal(t, 502, err.StatusCode)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Nil(t, Classify(nil))

	typed := ParseError(errors.New("broken"))
	wrapped := fmt.Errorf("scrape: %w", typed)
	require.Same(t, typed, Classify(wrapped))

	require.Equal(t, KindNetwork, Classify(fmt.Errorf("fetch: %w", context.DeadlineExceeded)).Kind)
	require.Equal(t, KindUnexpected, Classify(fmt.Errorf("fetch: %w", context.Canceled)).Kind)
	require.ErrorIs(t, Classify(context.Canceled), context.Canceled)
	require.Equal(t, KindNetwork, Classify(&net.DNSError{Err: "no such host", Name: "nope.invalid"}).Kind)

	unknown := errors.New("boom")
	classified := Classify(unknown)
	require.Equal(t, KindUnexpected, classified.Kind)
	require.ErrorIs(t, classified, unknown)
}

func TestJobStateTransitions(t *testing.T) {
	t.Parallel()

	require.True(t, JobPending.CanTransition(JobRunning))
	require.False(t, JobPending.CanTransition(JobCompleted))
	require.True(t, JobRunning.CanTransition(JobCompleted))
	require.True(t, JobRunning.CanTransition(JobFailed))
	require.False(t, JobRunning.CanTransition(JobPending))
	require.False(t, JobCompleted.CanTransition(JobRunning))
	require.False(t, JobFailed.CanTransition(JobCompleted))
	require.True(t, JobFailed.Terminal())
	require.False(t, JobRunning.Terminal())
}

func TestParsePageStatus(t *testing.T) {
	t.Parallel()

	status, ok := ParsePageStatus("completed")
	require.True(t, ok)
	require.Equal(t, PageCompleted, status)

	_, ok = ParsePageStatus("done")
	require.False(t, ok)
}
