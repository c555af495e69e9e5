package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGradeSpec(t *testing.T) {
	cases := []struct {
		raw     string
		want    GradeSpec
		wantErr bool
	}{
		{raw: "5", want: GradeSpec{Min: 5, Max: 5}},
		{raw: "5-7", want: GradeSpec{Min: 5, Max: 7}},
		{raw: " 5 - 7 ", want: GradeSpec{Min: 5, Max: 7}},
		{raw: "", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "7-5", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "-3", wantErr: true},
		{raw: "5-", wantErr: true},
	}
	for _, tc := range cases {
		spec, err := ParseGradeSpec(tc.raw)
		if tc.wantErr {
			assert.Error(t, err, "raw=%q", tc.raw)
			continue
		}
		require.NoError(t, err, "raw=%q", tc.raw)
		assert.Equal(t, tc.want, spec, "raw=%q", tc.raw)
	}
}

func TestGradeSpecContains(t *testing.T) {
	spec := GradeSpec{Min: 5, Max: 7}
	assert.False(t, spec.Contains(4))
	assert.True(t, spec.Contains(5))
	assert.True(t, spec.Contains(6))
	assert.True(t, spec.Contains(7))
	assert.False(t, spec.Contains(8))

	single := GradeSpec{Min: 5, Max: 5}
	assert.True(t, single.Contains(5))
	assert.False(t, single.Contains(6))
	assert.Equal(t, "5", single.String())
	assert.Equal(t, "5-7", spec.String())
}

func TestDriveIsPast(t *testing.T) {
	today := time.Date(2025, 6, 1, 9, 45, 0, 0, time.UTC)

	yesterday := VaccinationDrive{Date: today.AddDate(0, 0, -1)}
	assert.True(t, yesterday.IsPast(today))

	// Same calendar day counts as not past regardless of clock time.
	sameDay := VaccinationDrive{Date: time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)}
	assert.False(t, sameDay.IsPast(today))

	tomorrow := VaccinationDrive{Date: today.AddDate(0, 0, 1)}
	assert.False(t, tomorrow.IsPast(today))
}
