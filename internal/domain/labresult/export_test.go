package labresult

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labtrend/labtrend/internal/platform/vocab"
)

func exportPayload() *Payload {
	p := NewPayload()
	p.Dates = []string{"2025-07-01", "2025-08-08"}
	p.Indicators["B"] = &IndicatorSeries{
		Series: []Observation{{Date: "2025-08-08", Value: num(3), Flag: str(vocab.FlagHigh)}},
	}
	p.Indicators["A"] = &IndicatorSeries{
		Unit: "g/L",
		Ref:  Ref{Lower: num(1), Upper: num(2.5)},
		Series: []Observation{
			{Date: "2025-07-01", Value: num(1.5), Flag: str(vocab.FlagNormal)},
			{Date: "2025-08-08"},
		},
	}
	return p
}

func TestWritePivotCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePivotCSV(&buf, exportPayload()))
	assert.Equal(t, "indicator,2025-07-01,2025-08-08\nA,1.5,\nB,,3\n", buf.String())
}

func TestWriteFlagsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFlagsCSV(&buf, exportPayload()))
	assert.Equal(t, "indicator,2025-07-01,2025-08-08\nA,-,\nB,,↑\n", buf.String())
}

func TestWriteRangesCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRangesCSV(&buf, exportPayload()))
	assert.Equal(t, "indicator,ref_lower,ref_upper,unit\nA,1,2.5,g/L\nB,,,\n", buf.String())
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check(exportPayload()))
	assert.NoError(t, Check(NewPayload()))

	p := exportPayload()
	p.Dates = []string{"2025-08-08", "2025-07-01", "2025-07-01", "8/8"}
	p.Indicators["A"].Ref = Ref{Lower: num(3), Upper: num(2)}
	p.Indicators["B"].Series = append(p.Indicators["B"].Series, Observation{Date: "2025-09-01", Flag: str("H")})

	err := Check(p)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`date "8/8" is not YYYY-MM-DD`,
		`date "2025-07-01" listed twice`,
		`dates out of order at "2025-07-01"`,
		"A: lower bound 3 above upper bound 2",
		`B: series date "2025-09-01" missing from dates`,
		`unknown flag "H"`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestPayload_DecodeRestoresEncoded(t *testing.T) {
	p := exportPayload()
	first := encode(t, p)

	decoded, err := DecodePayload(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(encode(t, decoded)))

	_, err = DecodePayload(bytes.NewReader([]byte("{")))
	assert.Error(t, err)
}

func TestDecodePayload_NullIndicator(t *testing.T) {
	_, err := DecodePayload(strings.NewReader(`{"dates":[],"indicators":{"WBC":null}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `indicator "WBC": null entry`)

	p, err := DecodePayload(strings.NewReader(`{"dates":["2025-08-08"],"indicators":{"WBC":{"unit":"10^9/L"}}}`))
	require.NoError(t, err)
	assert.NotNil(t, p.Indicators["WBC"].Series)
}

func TestCheckLoadable(t *testing.T) {
	p := exportPayload()
	p.Dates = append(p.Dates, "术后复查")
	p.Indicators["B"].Series = append(p.Indicators["B"].Series, Observation{Date: "术后复查", Value: num(4)})

	warnings, err := CheckLoadable(p)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.True(t, errors.Is(warnings[0], ErrNonCanonicalDate))
	assert.Error(t, Check(p))

	p.Indicators["A"].Ref = Ref{Lower: num(3), Upper: num(2)}
	warnings, err = CheckLoadable(p)
	assert.Len(t, warnings, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lower bound 3 above upper bound 2")
	assert.NotContains(t, err.Error(), "术后复查")
}
