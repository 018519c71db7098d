// Package rates implements the exchange-rate collaborator against the
// central bank's SOAP daily-rates feed. The engine consults it only when a
// presentment arrives in a foreign currency without a caller-pinned rate.
package rates

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/meridianpay/cardcore/internal/config"
)

// baseCurrency is the currency the feed quotes every rate against. It never
// appears as a row in the daily table, so it is resolved as rate 1.
const baseCurrency = "RUB"

// Client fetches daily currency rates over SOAP.
type Client struct {
	url    string
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a new rates client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url: cfg.RatesURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// buildSOAPRequest creates a SOAP request for the daily rates table
func (c *Client) buildSOAPRequest(onDate time.Time) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
		<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
			<soap12:Body>
				<GetCursOnDate xmlns="http://web.cbr.ru/">
					<On_date>%s</On_date>
				</GetCursOnDate>
			</soap12:Body>
		</soap12:Envelope>`, onDate.Format("2006-01-02"))
}

// sendRequest sends a SOAP request to the rates feed
func (c *Client) sendRequest(ctx context.Context, soapRequest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewBuffer([]byte(soapRequest)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://web.cbr.ru/GetCursOnDate")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}

	c.log.Debugf("Rates XML response: %s", string(body))

	return body, nil
}

// parseXMLResponse extracts the unit rate for one currency code from the
// daily table. The feed quotes every currency against the base currency.
func (c *Client) parseXMLResponse(rawBody []byte, code string) (decimal.Decimal, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse XML: %v", err)
	}

	rows := doc.FindElements("//ValuteData/ValuteCursOnDate")
	if len(rows) == 0 {
		return decimal.Zero, fmt.Errorf("no rate data found in XML")
	}

	for _, row := range rows {
		codeEl := row.FindElement("./VchCode")
		if codeEl == nil || strings.TrimSpace(codeEl.Text()) != code {
			continue
		}
		rateEl := row.FindElement("./Vcurs")
		nomEl := row.FindElement("./Vnom")
		if rateEl == nil || nomEl == nil {
			return decimal.Zero, fmt.Errorf("malformed rate row for %s", code)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(rateEl.Text()))
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse rate for %s: %v", code, err)
		}
		nominal, err := decimal.NewFromString(strings.TrimSpace(nomEl.Text()))
		if err != nil || !nominal.IsPositive() {
			return decimal.Zero, fmt.Errorf("failed to parse nominal for %s", code)
		}
		return rate.Div(nominal), nil
	}

	return decimal.Zero, fmt.Errorf("currency %s not found in rate table", code)
}

// Rate returns the conversion rate from one currency to another, derived as
// a cross rate through the feed's base currency.
func (c *Client) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	body, err := c.sendRequest(ctx, c.buildSOAPRequest(time.Now()))
	if err != nil {
		return decimal.Zero, err
	}

	fromBase, err := c.unitRate(body, from)
	if err != nil {
		return decimal.Zero, err
	}
	toBase, err := c.unitRate(body, to)
	if err != nil {
		return decimal.Zero, err
	}

	rate := fromBase.DivRound(toBase, 8)
	c.log.Infof("Exchange rate %s->%s: %s", from, to, rate)
	return rate, nil
}

// unitRate resolves one currency against the base: the base itself is 1,
// everything else comes out of the daily table.
func (c *Client) unitRate(body []byte, code string) (decimal.Decimal, error) {
	if code == baseCurrency {
		return decimal.NewFromInt(1), nil
	}
	return c.parseXMLResponse(body, code)
}
