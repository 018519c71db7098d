package rates

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianpay/cardcore/internal/config"
)

const dailyTable = `<?xml version="1.0" encoding="utf-8"?>
<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
  <soap12:Body>
    <GetCursOnDateResponse xmlns="http://web.cbr.ru/">
      <GetCursOnDateResult>
        <ValuteData>
          <ValuteCursOnDate>
            <Vname>US Dollar</Vname>
            <Vnom>1</Vnom>
            <Vcurs>80.0000</Vcurs>
            <Vcode>840</Vcode>
            <VchCode>USD</VchCode>
          </ValuteCursOnDate>
          <ValuteCursOnDate>
            <Vname>Euro</Vname>
            <Vnom>1</Vnom>
            <Vcurs>90.0000</Vcurs>
            <Vcode>978</Vcode>
            <VchCode>EUR</VchCode>
          </ValuteCursOnDate>
          <ValuteCursOnDate>
            <Vname>Japanese Yen</Vname>
            <Vnom>100</Vnom>
            <Vcurs>55.0000</Vcurs>
            <Vcode>392</Vcode>
            <VchCode>JPY</VchCode>
          </ValuteCursOnDate>
        </ValuteData>
      </GetCursOnDateResult>
    </GetCursOnDateResponse>
  </soap12:Body>
</soap12:Envelope>`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
		io.WriteString(w, dailyTable)
	}))
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewClient(&config.Config{RatesURL: srv.URL}, log)
}

func TestRateConversions(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	cases := []struct {
		from, to string
		want     string
	}{
		{"USD", "USD", "1"},
		{"USD", "RUB", "80"},
		{"RUB", "USD", "0.0125"},
		{"EUR", "USD", "1.125"},
		{"JPY", "RUB", "0.55"}, // quoted per 100 units
		{"RUB", "RUB", "1"},
	}
	for _, tc := range cases {
		rate, err := client.Rate(ctx, tc.from, tc.to)
		require.NoError(t, err, "%s->%s", tc.from, tc.to)
		want, _ := decimal.NewFromString(tc.want)
		assert.True(t, rate.Equal(want), "%s->%s: got %s, want %s", tc.from, tc.to, rate, want)
	}
}

func TestRateUnknownCurrency(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Rate(context.Background(), "XXX", "RUB")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XXX")
}

func TestRateFeedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)
	client := NewClient(&config.Config{RatesURL: srv.URL}, log)

	_, err := client.Rate(context.Background(), "USD", "RUB")
	require.Error(t, err)
}
