package fyers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Config{
		ClientID:    "AB01234-100",
		SecretKey:   "secret",
		RedirectURI: "https://example.com",
		Username:    "FY0001",
		PIN:         "1234",
		TOTPKey:     "JBSWY3DPEHPK3PXP",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.SetAccessToken("token")
	return c
}

func TestNewClient_RejectsMalformedClientID(t *testing.T) {
	_, err := NewClient(Config{ClientID: "NODASH"})
	if err == nil {
		t.Fatal("expected an error for a ClientID without the app type suffix")
	}
}

func TestWSToken_Format(t *testing.T) {
	c := testClient(t)
	if got := c.WSToken(); got != "AB01234-100:token" {
		t.Errorf("WSToken = %q, want CLIENTID:token form", got)
	}
}

func TestQuotes_ParsesLTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "AB01234-100:token" {
			t.Errorf("auth header = %q", got)
		}
		fmt.Fprint(w, `{"s":"ok","d":[
			{"n":"NSE:NIFTY50-INDEX","v":{"lp":24512.35}},
			{"n":"NSE:NIFTY24500CE","v":{"lp":182.55}}]}`)
	}))
	defer srv.Close()
	old := dataBase
	dataBase = srv.URL
	defer func() { dataBase = old }()

	c := testClient(t)
	got, err := c.Quotes(context.Background(), []string{"NSE:NIFTY50-INDEX", "NSE:NIFTY24500CE"})
	if err != nil {
		t.Fatalf("Quotes: %v", err)
	}
	if got["NSE:NIFTY50-INDEX"] != 24512.35 || got["NSE:NIFTY24500CE"] != 182.55 {
		t.Errorf("unexpected quote map: %v", got)
	}
}

func TestHistory_SortsByBucketStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Out of order on purpose; rows are [ts,o,h,l,c,v].
		fmt.Fprint(w, `{"s":"ok","candles":[
			[1733113200,21,23,20,22,0],
			[1733112900,20,21,19,21,0]]}`)
	}))
	defer srv.Close()
	old := dataBase
	dataBase = srv.URL
	defer func() { dataBase = old }()

	c := testClient(t)
	candles, err := c.History(context.Background(), "NSE:NIFTY24500PE", "5",
		time.Unix(1733112900, 0), time.Unix(1733113500, 0))
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[0].BucketStart.Before(candles[1].BucketStart) {
		t.Error("candles should be sorted by bucket start")
	}
	if candles[0].Open != 20 || candles[1].Close != 22 {
		t.Errorf("candle fields mismatched: %+v", candles)
	}
}

func TestATMPair_PicksBothLegs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("strikecount"); got != "1" {
			t.Errorf("strikecount = %q, want 1", got)
		}
		fmt.Fprint(w, `{"s":"ok","data":{"optionsChain":[
			{"symbol":"NSE:NIFTY50-INDEX","option_type":"","strike_price":-1},
			{"symbol":"NSE:NIFTY25SEP24500CE","option_type":"CE","strike_price":24500},
			{"symbol":"NSE:NIFTY25SEP24500PE","option_type":"PE","strike_price":24500}]}}`)
	}))
	defer srv.Close()
	old := dataBase
	dataBase = srv.URL
	defer func() { dataBase = old }()

	c := testClient(t)
	pair, err := c.ATMPair("NSE:NIFTY50-INDEX")
	if err != nil {
		t.Fatalf("ATMPair: %v", err)
	}
	if pair.CE != "NSE:NIFTY25SEP24500CE" || pair.PE != "NSE:NIFTY25SEP24500PE" || pair.Strike != 24500 {
		t.Errorf("unexpected pair: %+v", pair)
	}
}

func TestATMPair_MissingLegIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"s":"ok","data":{"optionsChain":[
			{"symbol":"NSE:NIFTY25SEP24500CE","option_type":"CE","strike_price":24500}]}}`)
	}))
	defer srv.Close()
	old := dataBase
	dataBase = srv.URL
	defer func() { dataBase = old }()

	c := testClient(t)
	if _, err := c.ATMPair("NSE:NIFTY50-INDEX"); err == nil {
		t.Fatal("expected an error when the PE leg is absent")
	}
}
