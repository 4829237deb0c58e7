package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketSegmentArchivePath(t *testing.T) {
	tests := []struct {
		segment MarketSegment
		want    string
		wantErr bool
	}{
		{segment: SegmentSpot, want: "spot"},
		{segment: SegmentOption, want: "option"},
		{segment: SegmentFutures, want: "futures/um"},
		{segment: MarketSegment("margin"), wantErr: true},
		{segment: MarketSegment(""), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.segment), func(t *testing.T) {
			got, err := tt.segment.ArchivePath()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnsupportedSegment)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDownloadWindowValidate(t *testing.T) {
	start := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

	valid := DownloadWindow{
		Symbol:   "BTCUSDT",
		Interval: "15m",
		Start:    start,
		End:      start.AddDate(0, 0, 3),
		Segment:  SegmentSpot,
	}
	assert.NoError(t, valid.Validate())

	noSymbol := valid
	noSymbol.Symbol = ""
	assert.Error(t, noSymbol.Validate())

	badInterval := valid
	badInterval.Interval = "45m"
	assert.ErrorIs(t, badInterval.Validate(), ErrUnknownInterval)

	inverted := valid
	inverted.Start, inverted.End = inverted.End, inverted.Start
	assert.Error(t, inverted.Validate())
}
