// Package fyers is a minimal Go client for the Fyers v3 trading API, covering
// the pieces the divergence engine needs: fully automated TOTP login, quotes,
// historical candles and the option chain for ATM strike resolution.
//
// Usage example:
//
//	c := fyers.NewClient(fyers.Config{
//	    ClientID: "XXXXX-100", SecretKey: "...", RedirectURI: "https://www.google.com",
//	    Username: "FYXXXX", PIN: "1234", TOTPKey: "BASE32SECRET",
//	})
//	if err := c.Login(ctx); err != nil { log.Fatal(err) }
//	pair, err := c.ATMPair("NSE:NIFTY50-INDEX")
package fyers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"divergence-systemv1/internal/model"
	"divergence-systemv1/internal/strikes"
)

// Endpoint bases, vars so tests can point them at a local server.
var (
	authBase = "https://api-t2.fyers.in/vagator/v2"
	apiBase  = "https://api-t1.fyers.in/api/v3"
	dataBase = "https://api-t1.fyers.in/data"
)

// Config holds credentials and client options.
type Config struct {
	ClientID    string // "APPID-APPTYPE", e.g. "AB01234-100"
	SecretKey   string
	RedirectURI string
	Username    string // FY id
	PIN         string
	TOTPKey     string // base32 TOTP secret

	Timeout time.Duration // default 10s
	Debug   bool
}

// Client is a Fyers v3 API client. Login must succeed before any data call.
type Client struct {
	cfg       Config
	appID     string
	appType   string
	appIDHash string

	accessToken string
	httpClient  *http.Client
}

// NewClient builds a Client. ClientID must be in "APPID-APPTYPE" form.
func NewClient(cfg Config) (*Client, error) {
	idx := strings.Index(cfg.ClientID, "-")
	if idx < 0 {
		return nil, fmt.Errorf("fyers: invalid client id %q, expected APPID-APPTYPE", cfg.ClientID)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	sum := sha256.Sum256([]byte(cfg.ClientID + ":" + cfg.SecretKey))

	return &Client{
		cfg:       cfg,
		appID:     cfg.ClientID[:idx],
		appType:   cfg.ClientID[idx+1:],
		appIDHash: hex.EncodeToString(sum[:]),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			// The token endpoint answers with a 308 carrying the auth code in
			// the body; following it would lose the payload.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// AccessToken returns the token obtained by Login, empty before login.
func (c *Client) AccessToken() string { return c.accessToken }

// WSToken returns the token format the data socket expects: "CLIENTID:token".
func (c *Client) WSToken() string {
	return c.cfg.ClientID + ":" + c.accessToken
}

// SetAccessToken installs a pre-obtained token, skipping Login.
func (c *Client) SetAccessToken(token string) { c.accessToken = token }

// Login performs the automated six-step TOTP flow and stores the access token.
func (c *Client) Login(ctx context.Context) error {
	log.Printf("[fyers] [1/6] sending login OTP for %s", c.cfg.Username)
	requestKey, err := c.sendLoginOTP(ctx)
	if err != nil {
		return fmt.Errorf("send login otp: %w", err)
	}

	log.Printf("[fyers] [2/6] generating TOTP")
	code, err := totp.GenerateCode(c.cfg.TOTPKey, time.Now())
	if err != nil {
		return fmt.Errorf("generate totp: %w", err)
	}

	log.Printf("[fyers] [3/6] verifying TOTP")
	requestKey, err = c.verifyTOTP(ctx, requestKey, code)
	if err != nil {
		return fmt.Errorf("verify totp: %w", err)
	}

	log.Printf("[fyers] [4/6] verifying PIN")
	tempToken, err := c.verifyPIN(ctx, requestKey)
	if err != nil {
		return fmt.Errorf("verify pin: %w", err)
	}

	log.Printf("[fyers] [5/6] requesting auth code")
	authCode, err := c.getAuthCode(ctx, tempToken)
	if err != nil {
		return fmt.Errorf("get auth code: %w", err)
	}

	log.Printf("[fyers] [6/6] validating auth code")
	token, err := c.validateAuthCode(ctx, authCode)
	if err != nil {
		return fmt.Errorf("validate auth code: %w", err)
	}

	c.accessToken = token
	log.Printf("[fyers] login complete, access token acquired")
	return nil
}

// ---- Login steps ----

type apiResponse struct {
	S          string          `json:"s"`
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	RequestKey string          `json:"request_key"`
	Data       json.RawMessage `json:"data"`

	AccessToken string `json:"access_token"`
	URL         string `json:"Url"`
}

func (c *Client) sendLoginOTP(ctx context.Context) (string, error) {
	res, err := c.postJSON(ctx, authBase+"/send_login_otp", map[string]any{
		"fy_id":  c.cfg.Username,
		"app_id": "2",
	}, "")
	if err != nil {
		return "", err
	}
	return res.RequestKey, nil
}

func (c *Client) verifyTOTP(ctx context.Context, requestKey, code string) (string, error) {
	res, err := c.postJSON(ctx, authBase+"/verify_otp", map[string]any{
		"request_key": requestKey,
		"otp":         code,
	}, "")
	if err != nil {
		return "", err
	}
	return res.RequestKey, nil
}

func (c *Client) verifyPIN(ctx context.Context, requestKey string) (string, error) {
	res, err := c.postJSON(ctx, authBase+"/verify_pin", map[string]any{
		"request_key":   requestKey,
		"identity_type": "pin",
		"identifier":    c.cfg.PIN,
	}, "")
	if err != nil {
		return "", err
	}
	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return "", fmt.Errorf("unexpected verify_pin payload: %w", err)
	}
	if data.AccessToken == "" {
		return "", errors.New("verify_pin returned no access token")
	}
	return data.AccessToken, nil
}

// getAuthCode posts to the token endpoint, which replies 308 with a redirect
// URL carrying auth_code in its query string.
func (c *Client) getAuthCode(ctx context.Context, tempToken string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"fyers_id":       c.cfg.Username,
		"app_id":         c.appID,
		"redirect_uri":   c.cfg.RedirectURI,
		"appType":        c.appType,
		"code_challenge": "",
		"state":          "state",
		"scope":          "",
		"nonce":          "",
		"response_type":  "code",
		"create_cookie":  true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tempToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusPermanentRedirect {
		return "", fmt.Errorf("token endpoint: expected 308, got %d: %s", resp.StatusCode, raw)
	}

	var res apiResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("token endpoint: %w", err)
	}
	u, err := url.Parse(res.URL)
	if err != nil {
		return "", fmt.Errorf("token endpoint: bad redirect url: %w", err)
	}
	code := u.Query().Get("auth_code")
	if code == "" {
		return "", errors.New("token endpoint: redirect url missing auth_code")
	}
	return code, nil
}

func (c *Client) validateAuthCode(ctx context.Context, authCode string) (string, error) {
	res, err := c.postJSON(ctx, apiBase+"/validate-authcode", map[string]any{
		"grant_type": "authorization_code",
		"appIdHash":  c.appIDHash,
		"code":       authCode,
	}, "")
	if err != nil {
		return "", err
	}
	if res.AccessToken == "" {
		return "", errors.New("validate-authcode returned no access token")
	}
	return res.AccessToken, nil
}

// ---- Data endpoints ----

// Quotes returns the last traded price for each symbol.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))

	raw, err := c.getAuthed(ctx, dataBase+"/quotes?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var res struct {
		S    string `json:"s"`
		Code int    `json:"code"`
		D    []struct {
			N string `json:"n"`
			V struct {
				LP float64 `json:"lp"`
			} `json:"v"`
		} `json:"d"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("quotes: %w", err)
	}
	if res.S != "ok" {
		return nil, fmt.Errorf("quotes: api status %q (code %d)", res.S, res.Code)
	}

	out := make(map[string]float64, len(res.D))
	for _, d := range res.D {
		out[d.N] = d.V.LP
	}
	return out, nil
}

// History fetches candles for symbol at the given resolution (minutes, as a
// string per the API, e.g. "5"). Returned candles are sorted by bucket start.
func (c *Client) History(ctx context.Context, symbol, resolution string, from, to time.Time) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", resolution)
	q.Set("date_format", "0") // epoch seconds
	q.Set("range_from", fmt.Sprintf("%d", from.Unix()))
	q.Set("range_to", fmt.Sprintf("%d", to.Unix()))
	q.Set("cont_flag", "0")

	raw, err := c.getAuthed(ctx, dataBase+"/history?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var res struct {
		S       string      `json:"s"`
		Code    int         `json:"code"`
		Candles [][]float64 `json:"candles"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if res.S != "ok" {
		return nil, fmt.Errorf("history %s: api status %q (code %d)", symbol, res.S, res.Code)
	}

	out := make([]model.Candle, 0, len(res.Candles))
	for _, row := range res.Candles {
		// [ts, open, high, low, close, volume]
		if len(row) < 5 {
			continue
		}
		out = append(out, model.Candle{
			Symbol:      symbol,
			BucketStart: time.Unix(int64(row[0]), 0),
			Open:        row[1],
			High:        row[2],
			Low:         row[3],
			Close:       row[4],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

// ATMPair resolves the at-the-money CE/PE pair for the spot symbol from the
// option chain (strikecount=1 returns only the ATM row). Implements
// strikes.PairProvider.
func (c *Client) ATMPair(spotSymbol string) (strikes.Pair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("symbol", spotSymbol)
	q.Set("strikecount", "1")
	q.Set("timestamp", "")

	raw, err := c.getAuthed(ctx, dataBase+"/options-chain-v3?"+q.Encode())
	if err != nil {
		return strikes.Pair{}, err
	}

	var res struct {
		S    string `json:"s"`
		Code int    `json:"code"`
		Data struct {
			OptionsChain []struct {
				Symbol      string  `json:"symbol"`
				OptionType  string  `json:"option_type"`
				StrikePrice float64 `json:"strike_price"`
			} `json:"optionsChain"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return strikes.Pair{}, fmt.Errorf("option chain: %w", err)
	}
	if res.S != "ok" {
		return strikes.Pair{}, fmt.Errorf("option chain: api status %q (code %d)", res.S, res.Code)
	}

	var pair strikes.Pair
	for _, o := range res.Data.OptionsChain {
		switch o.OptionType {
		case "CE":
			if pair.CE == "" {
				pair.CE = o.Symbol
				pair.Strike = o.StrikePrice
			}
		case "PE":
			if pair.PE == "" {
				pair.PE = o.Symbol
			}
		}
	}
	if pair.CE == "" || pair.PE == "" {
		return strikes.Pair{}, errors.New("option chain: ATM CE/PE pair not found")
	}
	return pair, nil
}

// ---- HTTP helpers ----

// postJSON posts a JSON body and decodes the common {"s": "ok", ...} envelope.
// bearer, when non-empty, is sent as the Authorization token.
func (c *Client) postJSON(ctx context.Context, urlStr string, payload map[string]any, bearer string) (*apiResponse, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if c.cfg.Debug {
		log.Printf("[fyers] POST %s -> %d %s", urlStr, resp.StatusCode, raw)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", urlStr, resp.StatusCode, raw)
	}

	var res apiResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%s: %w", urlStr, err)
	}
	if res.S != "ok" {
		return nil, fmt.Errorf("%s: api status %q: %s", urlStr, res.S, res.Message)
	}
	return &res, nil
}

// getAuthed issues a GET with the "CLIENTID:token" authorization the data
// endpoints require and returns the raw body.
func (c *Client) getAuthed(ctx context.Context, urlStr string) ([]byte, error) {
	if c.accessToken == "" {
		return nil, errors.New("fyers: not logged in")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.cfg.ClientID+":"+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if c.cfg.Debug {
		log.Printf("[fyers] GET %s -> %d", urlStr, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", urlStr, resp.StatusCode, raw)
	}
	return raw, nil
}
