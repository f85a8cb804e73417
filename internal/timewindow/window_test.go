package timewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 6, 1, hour, minute, 0, 0, time.UTC)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		want    Clock
		wantErr bool
	}{
		{input: "07:00", want: Clock{Hour: 7}},
		{input: "23:59", want: Clock{Hour: 23, Minute: 59}},
		{input: "01:00:00", want: Clock{Hour: 1}},
		{input: " 06:30 ", want: Clock{Hour: 6, Minute: 30}},
		{input: "24:00", wantErr: true},
		{input: "12:60", wantErr: true},
		{input: "noon", wantErr: true},
		{input: "7", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseClock(tc.input)
		if tc.wantErr {
			require.Error(t, err, tc.input)
			continue
		}
		require.NoError(t, err, tc.input)
		require.Equal(t, tc.want, got, tc.input)
	}
}

func TestSpanContainsNonWrapping(t *testing.T) {
	span := Span{Start: MustParseClock("06:00"), End: MustParseClock("22:00")}

	require.True(t, span.Contains(at(6, 0)), "start boundary is inclusive")
	require.True(t, span.Contains(at(22, 0)), "end boundary is inclusive")
	require.True(t, span.Contains(at(12, 30)))
	require.False(t, span.Contains(at(5, 59)))
	require.False(t, span.Contains(at(22, 1)))
}

func TestSpanContainsWrapping(t *testing.T) {
	span := Span{Start: MustParseClock("22:00"), End: MustParseClock("06:00")}

	require.True(t, span.Contains(at(22, 0)), "start boundary is inclusive")
	require.True(t, span.Contains(at(6, 0)), "end boundary is inclusive")
	require.True(t, span.Contains(at(23, 0)))
	require.True(t, span.Contains(at(2, 0)))
	require.True(t, span.Contains(at(5, 59)))
	require.False(t, span.Contains(at(6, 1)))
	require.False(t, span.Contains(at(21, 59)))
}

func TestActiveIndexSingleMatch(t *testing.T) {
	spans := []Span{
		{Start: MustParseClock("22:00"), End: MustParseClock("06:00")},
		{Start: MustParseClock("06:00"), End: MustParseClock("22:00")},
	}

	idx, active := ActiveIndex(spans, at(23, 0))
	require.True(t, active)
	require.Equal(t, 0, idx, "only the night window matches at 23:00")

	idx, active = ActiveIndex(spans, at(5, 59))
	require.True(t, active)
	require.Equal(t, 0, idx)

	idx, active = ActiveIndex(spans, at(6, 1))
	require.True(t, active)
	require.Equal(t, 1, idx)
}

func TestActiveIndexLastMatchWins(t *testing.T) {
	spans := []Span{
		{Start: MustParseClock("00:00"), End: MustParseClock("23:59")},
		{Start: MustParseClock("08:00"), End: MustParseClock("10:00")},
	}

	idx, active := ActiveIndex(spans, at(9, 0))
	require.True(t, active)
	require.Equal(t, 1, idx, "the later overlapping entry wins")

	idx, active = ActiveIndex(spans, at(15, 0))
	require.True(t, active)
	require.Equal(t, 0, idx)
}

func TestActiveIndexNoMatchFallsBackToFirst(t *testing.T) {
	spans := []Span{
		{Start: MustParseClock("07:00"), End: MustParseClock("09:00")},
		{Start: MustParseClock("18:00"), End: MustParseClock("20:00")},
	}

	idx, active := ActiveIndex(spans, at(12, 0))
	require.False(t, active)
	require.Equal(t, 0, idx)
}
