package booking

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{"200", 20000, false},
		{"200.00", 20000, false},
		{"200.5", 20050, false},
		{" 0.07 ", 7, false},
		{"-12.30", -1230, false},
		{"+3.10", 310, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1.234", 0, true},
		{"1.", 0, true},
		{".50", 0, true},
		{"1e3", 0, true},
		{"12,50", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "200.00", Cents(20000).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.Equal(t, "-1.50", Cents(-150).String())
	assert.Equal(t, "99999999.99", MaxMoney.String())
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{Cents(20000)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"200.00"}`, string(data))

	var in struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.5","b":99.99}`), &in))
	assert.Equal(t, Cents(1250), in.A)
	assert.Equal(t, Cents(9999), in.B)

	assert.Error(t, json.Unmarshal([]byte(`{"a":"ten"}`), &in))
}
