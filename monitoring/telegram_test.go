// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/currentcost-logger/pkg/errors"
)

const histLine = "<msg><src>CC128-v1.48</src><dsb>00789</dsb><time>22:20:44</time><hist><dsw>00790</dsw><type>1</type><units>kwhr</units><data><sensor>0</sensor><h650>0.734</h650></data></hist></msg>\r\n"

func TestParseWatts_ExampleLine(t *testing.T) {
	watts, ok, err := ParseWatts(ExampleLine)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 500, watts)
}

func TestParseWatts(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantWatts int
		wantOK    bool
	}{
		{
			name:      "leading zeros",
			line:      "<msg><ch1><watts>00042</watts></ch1></msg>\r\n",
			wantWatts: 42,
			wantOK:    true,
		},
		{
			name:      "zero watts",
			line:      "<msg><ch1><watts>00000</watts></ch1></msg>",
			wantWatts: 0,
			wantOK:    true,
		},
		{
			name:      "whitespace around value",
			line:      "<msg><ch1><watts> 1234 </watts></ch1></msg>",
			wantWatts: 1234,
			wantOK:    true,
		},
		{
			name:   "history dump",
			line:   histLine,
			wantOK: false,
		},
		{
			name:   "history alongside ch1",
			line:   "<msg><hist><data/></hist><ch1><watts>00500</watts></ch1></msg>",
			wantOK: false,
		},
		{
			name:   "no ch1",
			line:   "<msg><src>CC128-v1.48</src><tmpr>22.7</tmpr></msg>",
			wantOK: false,
		},
		{
			name:   "ch1 without watts",
			line:   "<msg><ch1></ch1></msg>",
			wantOK: false,
		},
		{
			name:   "only ch2",
			line:   "<msg><ch2><watts>00100</watts></ch2></msg>",
			wantOK: false,
		},
		{
			name:      "xml declaration and comments around root",
			line:      "<?xml version=\"1.0\"?><!-- cc128 --><msg><ch1><watts>00500</watts></ch1></msg><!-- end -->\r\n",
			wantWatts: 500,
			wantOK:    true,
		},
		{
			name:   "different root tag",
			line:   "<status><ch1><watts>00500</watts></ch1></status>",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			watts, ok, err := ParseWatts(tt.line)

			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantWatts, watts)
			}
		})
	}
}

func TestParseWatts_Timeout(t *testing.T) {
	for _, line := range []string{"", "\r\n", "\n", "   "} {
		_, ok, err := ParseWatts(line)

		assert.False(t, ok)
		assert.ErrorIs(t, err, errors.ErrDeviceTimeout, "line %q", line)
		assert.True(t, errors.IsFatal(err))
	}
}

func TestParseWatts_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"truncated", "<msg><src>CC128-v1.48</src><ch1><watts>005"},
		{"not xml", "garbage from the serial line"},
		{"mismatched tags", "<msg><ch1></msg></ch1>"},
		{"non numeric watts", "<msg><ch1><watts>abc</watts></ch1></msg>"},
		{"negative watts", "<msg><ch1><watts>-5</watts></ch1></msg>"},
		{"text before root", "noise<msg><ch1><watts>00500</watts></ch1></msg>\r\n"},
		{"text after root", "<msg><ch1><watts>00500</watts></ch1></msg>trailing\r\n"},
		{"unterminated tag after root", "<msg><ch1><watts>00500</watts></ch1></msg>trailing<junk\r\n"},
		{"second root element", "<msg><ch1><watts>00500</watts></ch1></msg><msg>\r\n"},
		{"two complete telegrams", "<msg><ch1><watts>00500</watts></ch1></msg><msg><ch1><watts>00600</watts></ch1></msg>"},
		{"doctype before root", "<!DOCTYPE msg><msg><ch1><watts>00500</watts></ch1></msg>"},
		{"only a comment", "<!-- no telegram -->"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := ParseWatts(tt.line)

			assert.False(t, ok)
			require.Error(t, err)
			assert.True(t, errors.IsTelegramError(err), "got %T: %v", err, err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestParseTelegram_Fields(t *testing.T) {
	tg, err := ParseTelegram(ExampleLine)
	require.NoError(t, err)

	assert.Equal(t, "msg", tg.XMLName.Local)
	assert.Equal(t, "CC128-v1.48", tg.Src)
	assert.Equal(t, "00789", tg.DaysSinceBirth)
	assert.Equal(t, "22:20:42", tg.Time)
	assert.Equal(t, "0", tg.Sensor)
	assert.Equal(t, "02872", tg.ID)
	assert.Equal(t, "1", tg.Type)
	assert.True(t, tg.IsRealtime())

	temp, ok := tg.TemperatureCelsius()
	assert.True(t, ok)
	assert.InDelta(t, 22.7, temp, 0.001)
}

func TestDecode(t *testing.T) {
	tg, watts, ok, err := Decode(ExampleLine)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 500, watts)
	require.NotNil(t, tg)
	assert.Equal(t, "CC128-v1.48", tg.Src)

	tg, _, ok, err = Decode(histLine)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotNil(t, tg)

	tg, _, _, err = Decode("<msg><ch1><watts>abc</watts></ch1></msg>")
	assert.True(t, errors.IsTelegramError(err))
	assert.Nil(t, tg)
}

func TestTelegram_TemperatureFahrenheit(t *testing.T) {
	tg, err := ParseTelegram("<msg><tmprF>72.5</tmprF></msg>")
	require.NoError(t, err)

	temp, ok := tg.TemperatureCelsius()
	assert.True(t, ok)
	assert.InDelta(t, 22.5, temp, 0.001)
}

func TestTelegram_HistoryIsNotRealtime(t *testing.T) {
	tg, err := ParseTelegram(histLine)
	require.NoError(t, err)

	assert.NotNil(t, tg.Hist)
	assert.False(t, tg.IsRealtime())
}

func FuzzParseWatts(f *testing.F) {
	f.Add(ExampleLine)
	f.Add(histLine)
	f.Add("")
	f.Add("<msg><ch1><watts>1</watts></ch1></msg>")

	f.Fuzz(func(t *testing.T, line string) {
		watts, ok, err := ParseWatts(line)
		if err != nil && ok {
			t.Fatalf("ok must be false when err is set")
		}
		if ok && watts < 0 {
			t.Fatalf("negative watts %d accepted", watts)
		}
	})
}
