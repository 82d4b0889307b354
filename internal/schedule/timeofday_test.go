package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	testCases := []struct {
		input   string
		want    TimeOfDay
		wantErr bool
	}{
		{input: "00:00", want: TimeOfDay{0, 0}},
		{input: "09:30", want: TimeOfDay{9, 30}},
		{input: "23:59", want: TimeOfDay{23, 59}},
		{input: "24:00", wantErr: true},
		{input: "12:60", wantErr: true},
		{input: "9:30", wantErr: true},   // missing leading zero
		{input: "09:30:00", wantErr: true},
		{input: "0930", wantErr: true},
		{input: "", wantErr: true},
		{input: "ab:cd", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseTimeOfDay(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTimeOfDayAt(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, loc)
	got := TimeOfDay{Hour: 22, Minute: 15}.At(day)

	assert.Equal(t, time.Date(2025, 3, 10, 22, 15, 0, 0, loc), got)
	assert.Equal(t, loc, got.Location())
}

func TestTimeOfDayString(t *testing.T) {
	assert.Equal(t, "07:05", TimeOfDay{Hour: 7, Minute: 5}.String())
}

func TestParseDate(t *testing.T) {
	loc := time.UTC

	d, err := ParseDate("2025-03-10", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, loc), d)

	_, err = ParseDate("10/03/2025", loc)
	assert.Error(t, err)

	_, err = ParseDate("2025-13-40", loc)
	assert.Error(t, err)
}
