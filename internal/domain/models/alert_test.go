package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func TestAlertRuleJSONKeepsThresholdPlaces(t *testing.T) {
	r, err := NewAlertRule("ETH", d("3500.50"), d("3000"), time.Unix(0, 0).UTC())
	require.NoError(t, err)

	b, err := json.Marshal(UserAlertSet{UserID: "alice", Rules: []AlertRule{r}})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"high":"3500.50"`)
	assert.Contains(t, string(b), `"low":"3000"`)
	assert.Contains(t, string(b), `"state":"NEUTRAL"`)

	var back UserAlertSet
	require.NoError(t, json.Unmarshal(b, &back))
	require.Len(t, back.Rules, 1)
	assert.True(t, back.Rules[0].SameThresholds(r))
	assert.Equal(t, int32(-2), back.Rules[0].High.Exponent())
}

func TestMergeTreatsPrecisionChangeAsEdit(t *testing.T) {
	r, err := NewAlertRule("ETH", d("3500.5"), nil, time.Now())
	require.NoError(t, err)

	same, err := r.Merge(d("3500.5"), nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, r.Revision, same.Revision)

	finer, err := r.Merge(d("3500.50"), nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, r.Revision+1, finer.Revision)
	assert.Equal(t, "3500.50", FormatThreshold(*finer.High))
}

func TestExponentFormThresholdIsIntegral(t *testing.T) {
	r, err := NewAlertRule("BTC", d("7E+4"), nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int32(0), r.High.Exponent())
	assert.Equal(t, "70000", FormatThreshold(*r.High))
}
