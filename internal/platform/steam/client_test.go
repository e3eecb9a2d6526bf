package steam

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smtbot/internal/analytics"
	"github.com/alanyoungcy/smtbot/internal/crypto"
	"github.com/alanyoungcy/smtbot/internal/domain"
)

var csPair = domain.VenuePair{AppID: "730", ContextID: "2"}

// fakeSteam serves the login exchange and lets each test mount market
// endpoints on the same mux.
type fakeSteam struct {
	key      *rsa.PrivateKey
	password string
	mux      *http.ServeMux
	srv      *httptest.Server

	logins       atomic.Int32
	rejectLogin  bool
	lastPassword atomic.Value
}

func newFakeSteam(t *testing.T) *fakeSteam {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeSteam{key: key, password: "hunter2", mux: http.NewServeMux()}
	f.mux.HandleFunc("POST /login/getrsakey/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success":       true,
			"publickey_mod": key.N.Text(16),
			"publickey_exp": fmt.Sprintf("%x", key.E),
			"timestamp":     "1700000000",
		})
	})
	f.mux.HandleFunc("POST /login/dologin/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		ct, err := base64.StdEncoding.DecodeString(r.PostForm.Get("password"))
		require.NoError(t, err)
		plain, err := rsa.DecryptPKCS1v15(nil, key, ct)
		require.NoError(t, err)
		f.lastPassword.Store(string(plain))
		assert.Len(t, r.PostForm.Get("twofactorcode"), 5)

		f.logins.Add(1)
		if f.rejectLogin {
			writeJSON(w, map[string]any{"success": false, "message": "The account name or password that you have entered is incorrect."})
			return
		}
		writeJSON(w, map[string]any{
			"success":             true,
			"login_complete":      true,
			"transfer_parameters": map[string]any{"steamid": "76561198000000001"},
		})
	})
	f.srv = httptest.NewServer(f.mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSteam) client(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{
		CommunityURL: f.srv.URL,
		Credentials: crypto.Credentials{
			Username:     "trader",
			Password:     f.password,
			SharedSecret: base64.StdEncoding.EncodeToString([]byte("shared-secret-bytes!")),
		},
		ReadsPerMinute:  600000,
		WritesPerMinute: 600000,
		LoginBackoff:    time.Millisecond,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// checkSession asserts the form echoes the session cookie.
func checkSession(t *testing.T, r *http.Request) {
	t.Helper()
	require.NoError(t, r.ParseForm())
	cookie, err := r.Cookie("sessionid")
	require.NoError(t, err)
	assert.NotEmpty(t, cookie.Value)
	assert.Equal(t, cookie.Value, r.PostForm.Get("sessionid"))
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{200, nil},
		{204, nil},
		{401, errSessionExpired},
		{403, errSessionExpired},
		{429, domain.ErrRateLimited},
		{400, domain.ErrVenueRejected},
		{404, domain.ErrVenueRejected},
		{500, domain.ErrVenueTransient},
		{502, domain.ErrVenueTransient},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			err := classifyStatus(tc.code)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParsePriceHistoryTime(t *testing.T) {
	at, err := parsePriceHistoryTime("Mar 05 2024 01: +0")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC), at)

	at, err = parsePriceHistoryTime("Mar 05 2024 01: +2")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC), at)

	_, err = parsePriceHistoryTime("yesterday")
	assert.Error(t, err)
}

func TestParsePricePoint(t *testing.T) {
	p, err := parsePricePoint(json.RawMessage(`["Mar 05 2024 01: +0", 1.234, "1,045"]`))
	require.NoError(t, err)
	assert.Equal(t, "1.23", p.Price.StringFixed(2))
	assert.EqualValues(t, 1045, p.Volume)

	_, err = parsePricePoint(json.RawMessage(`["Mar 05 2024 01: +0", 1.2]`))
	assert.Error(t, err)
}

func TestParseMoney(t *testing.T) {
	cases := map[string]string{
		"$1,234.56": "1234.56",
		"$0.03":     "0.03",
		"1,23€":     "1.23",
		"1.234,50€": "1234.50",
		"¥ 1200":    "1200.00",
	}
	for in, want := range cases {
		got, err := parseMoney(in)
		require.NoError(t, err, in)
		require.True(t, got.Valid, in)
		assert.Equal(t, want, got.Decimal.StringFixed(2), in)
	}

	missing, err := parseMoney("")
	require.NoError(t, err)
	assert.False(t, missing.Valid)
}

func TestParseCount(t *testing.T) {
	n, err := parseCount("1,234")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.EqualValues(t, 1234, *n)

	n, err = parseCount("")
	require.NoError(t, err)
	assert.Nil(t, n)

	_, err = parseCount("many")
	assert.Error(t, err)
}

func TestToCents(t *testing.T) {
	assert.EqualValues(t, 140, toCents(decimal.RequireFromString("1.40")))
	assert.EqualValues(t, 3, toCents(decimal.RequireFromString("0.025")))
}

func TestPriceHistory_LogsInAndFiltersByDays(t *testing.T) {
	f := newFakeSteam(t)
	f.mux.HandleFunc("GET /market/pricehistory/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Case Key", r.URL.Query().Get("market_hash_name"))
		assert.Equal(t, "730", r.URL.Query().Get("appid"))
		writeJSON(w, map[string]any{
			"success": true,
			"prices": []any{
				[]any{"Feb 01 2024 01: +0", 2.5, "3"},
				[]any{"Mar 05 2024 01: +0", 1.25, "10"},
				[]any{"Mar 06 2024 13: +0", 1.5, "7"},
			},
		})
	})
	c := f.client(t)
	c.now = func() time.Time { return time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC) }

	points, err := c.PriceHistory(context.Background(), "Case Key", csPair, 7)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC), points[0].At)
	assert.Equal(t, "1.25", points[0].Price.StringFixed(2))
	assert.EqualValues(t, 7, points[1].Volume)

	assert.EqualValues(t, 1, f.logins.Load())
	assert.Equal(t, "hunter2", f.lastPassword.Load())
	assert.Equal(t, "76561198000000001", c.Session().SteamID())
	assert.True(t, c.Session().Valid())
}

func TestCall_ReloginOnUnauthorized(t *testing.T) {
	f := newFakeSteam(t)
	var calls atomic.Int32
	f.mux.HandleFunc("GET /market/priceoverview/", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"success": true, "lowest_price": "$1.10", "median_price": "$1.05", "volume": "1,204"})
	})
	c := f.client(t)

	snap, err := c.CurrentPrice(context.Background(), "Case Key", csPair)
	require.NoError(t, err)
	assert.Equal(t, "1.10", snap.LowestPrice.Decimal.StringFixed(2))
	assert.Equal(t, "1.05", snap.MedianPrice.Decimal.StringFixed(2))
	require.NotNil(t, snap.Volume24h)
	assert.EqualValues(t, 1204, *snap.Volume24h)

	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 2, f.logins.Load(), "401 invalidates the session")
}

func TestCall_RateLimitedKeepsSession(t *testing.T) {
	f := newFakeSteam(t)
	var calls atomic.Int32
	f.mux.HandleFunc("GET /market/priceoverview/", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]any{"success": true, "lowest_price": "$1.10"})
	})
	c := f.client(t)

	snap, err := c.CurrentPrice(context.Background(), "Case Key", csPair)
	require.NoError(t, err)
	assert.False(t, snap.MedianPrice.Valid)
	assert.Nil(t, snap.Volume24h)
	assert.EqualValues(t, 1, f.logins.Load())
}

func TestCall_RejectedNotRetried(t *testing.T) {
	f := newFakeSteam(t)
	var calls atomic.Int32
	f.mux.HandleFunc("GET /market/priceoverview/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	c := f.client(t)

	_, err := c.CurrentPrice(context.Background(), "Case Key", csPair)
	assert.ErrorIs(t, err, domain.ErrVenueRejected)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCall_EmptyBodyExhaustsRetries(t *testing.T) {
	f := newFakeSteam(t)
	var calls atomic.Int32
	f.mux.HandleFunc("GET /market/priceoverview/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "[]")
	})
	c := f.client(t)

	_, err := c.CurrentPrice(context.Background(), "Case Key", csPair)
	assert.ErrorIs(t, err, domain.ErrVenueTransient)
	assert.EqualValues(t, 3, calls.Load())
	assert.EqualValues(t, 3, f.logins.Load())
}

func TestCall_HTMLBodyIsTransient(t *testing.T) {
	f := newFakeSteam(t)
	var calls atomic.Int32
	f.mux.HandleFunc("GET /market/priceoverview/", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = io.WriteString(w, "<html><body>Sign In</body></html>")
			return
		}
		writeJSON(w, map[string]any{"success": true, "median_price": "0,95€"})
	})
	c := f.client(t)

	snap, err := c.CurrentPrice(context.Background(), "Case Key", csPair)
	require.NoError(t, err)
	assert.Equal(t, "0.95", snap.MedianPrice.Decimal.StringFixed(2))
}

func TestLogin_RejectedCredentialsNotRetried(t *testing.T) {
	f := newFakeSteam(t)
	f.rejectLogin = true
	c := f.client(t)

	_, err := c.ActiveListings(context.Background())
	assert.ErrorIs(t, err, domain.ErrVenueRejected)
	assert.EqualValues(t, 1, f.logins.Load())
	assert.False(t, c.Session().Valid())
}

func TestLogin_IncompleteCredentials(t *testing.T) {
	c, err := New(Config{CommunityURL: "http://127.0.0.1:1"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	err = c.Session().EnsureValid(context.Background())
	assert.ErrorIs(t, err, domain.ErrVenueRejected)
}

func listing(id, asset string, price, fee int64) map[string]any {
	return map[string]any{
		"listingid": id,
		"price":     price,
		"fee":       fee,
		"asset":     map[string]any{"id": asset, "appid": 730, "contextid": "2", "market_hash_name": "Case Key"},
	}
}

func TestActiveListings_Paginates(t *testing.T) {
	f := newFakeSteam(t)
	var pages atomic.Int32
	f.mux.HandleFunc("GET /market/mylistings/", func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		assert.Equal(t, "1", r.URL.Query().Get("norender"))
		hold := []any{listing("h1", "a9", 100, 15)}
		switch r.URL.Query().Get("start") {
		case "0":
			writeJSON(w, map[string]any{
				"success": true, "start": 0, "total_count": 3,
				"listings":         []any{listing("l1", "a1", 122, 18), listing("l2", "a2", 87, 13)},
				"listings_on_hold": hold,
			})
		case "2":
			writeJSON(w, map[string]any{
				"success": true, "start": 2, "total_count": 3,
				"listings":         []any{listing("l3", "a3", 200, 30)},
				"listings_on_hold": hold,
			})
		default:
			t.Errorf("unexpected start %q", r.URL.Query().Get("start"))
		}
	})
	c := f.client(t)

	listings, err := c.ActiveListings(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, pages.Load())

	ids := make([]string, 0, len(listings))
	for _, l := range listings {
		ids = append(ids, l.OrderID)
	}
	assert.ElementsMatch(t, []string{"l1", "l2", "h1", "l3"}, ids)
	assert.Equal(t, "a1", listings[0].AssetID)
	assert.Equal(t, "1.40", listings[0].Price.StringFixed(2), "buyer price includes fees")
}

func TestCreateBuyOrder(t *testing.T) {
	f := newFakeSteam(t)
	f.mux.HandleFunc("POST /market/createbuyorder/", func(w http.ResponseWriter, r *http.Request) {
		checkSession(t, r)
		assert.Equal(t, "Case Key", r.PostForm.Get("market_hash_name"))
		assert.Equal(t, "300", r.PostForm.Get("price_total"))
		assert.Equal(t, "3", r.PostForm.Get("quantity"))
		assert.Contains(t, r.Referer(), "/market/listings/730/")
		writeJSON(w, map[string]any{"success": 1, "buy_orderid": "5550001"})
	})
	c := f.client(t)

	id, err := c.CreateBuyOrder(context.Background(), "Case Key", decimal.RequireFromString("1.00"), csPair, 3)
	require.NoError(t, err)
	assert.Equal(t, "5550001", id)
}

func TestCreateBuyOrder_Refused(t *testing.T) {
	f := newFakeSteam(t)
	f.mux.HandleFunc("POST /market/createbuyorder/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": 29, "message": "You already have an active buy order for this item."})
	})
	c := f.client(t)

	_, err := c.CreateBuyOrder(context.Background(), "Case Key", decimal.RequireFromString("1.00"), csPair, 1)
	assert.ErrorIs(t, err, domain.ErrVenueRejected)
}

func TestCreateBuyOrder_NotResentAfterAmbiguousFailure(t *testing.T) {
	cases := []struct {
		name  string
		first func(w http.ResponseWriter)
		want  error
	}{
		{"bad gateway", func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) }, domain.ErrVenueTransient},
		{"rate limited", func(w http.ResponseWriter) { w.WriteHeader(http.StatusTooManyRequests) }, domain.ErrRateLimited},
		{"empty body", func(w http.ResponseWriter) { _, _ = io.WriteString(w, "") }, domain.ErrVenueTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeSteam(t)
			var posts atomic.Int32
			f.mux.HandleFunc("POST /market/createbuyorder/", func(w http.ResponseWriter, r *http.Request) {
				if posts.Add(1) == 1 {
					tc.first(w)
					return
				}
				writeJSON(w, map[string]any{"success": 1, "buy_orderid": "42"})
			})
			c := f.client(t)

			id, err := c.CreateBuyOrder(context.Background(), "Case Key", decimal.RequireFromString("1.00"), csPair, 1)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, id)
			assert.EqualValues(t, 1, posts.Load(), "order must be sent exactly once")
		})
	}
}

func TestCreateBuyOrder_ReloginOnUnauthorized(t *testing.T) {
	f := newFakeSteam(t)
	var posts atomic.Int32
	f.mux.HandleFunc("POST /market/createbuyorder/", func(w http.ResponseWriter, r *http.Request) {
		if posts.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"success": 1, "buy_orderid": "42"})
	})
	c := f.client(t)

	id, err := c.CreateBuyOrder(context.Background(), "Case Key", decimal.RequireFromString("1.00"), csPair, 1)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.EqualValues(t, 2, posts.Load())
	assert.EqualValues(t, 2, f.logins.Load())
}

func TestCreateSellOrder_NotResentAfterServerError(t *testing.T) {
	f := newFakeSteam(t)
	var posts atomic.Int32
	f.mux.HandleFunc("POST /market/sellitem/", func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := f.client(t)

	_, err := c.CreateSellOrder(context.Background(), "9001", csPair, decimal.RequireFromString("2.00"))
	assert.ErrorIs(t, err, domain.ErrVenueTransient)
	assert.EqualValues(t, 1, posts.Load())
}

func TestCreateSellOrder_FindsListing(t *testing.T) {
	f := newFakeSteam(t)
	wantReceived := analytics.CalculateFees(140).Received
	f.mux.HandleFunc("POST /market/sellitem/", func(w http.ResponseWriter, r *http.Request) {
		checkSession(t, r)
		assert.Equal(t, "a1", r.PostForm.Get("assetid"))
		assert.Equal(t, "2", r.PostForm.Get("contextid"))
		assert.Equal(t, fmt.Sprint(wantReceived), r.PostForm.Get("price"))
		writeJSON(w, map[string]any{"success": true, "requires_confirmation": 1})
	})
	f.mux.HandleFunc("GET /market/mylistings/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success": true, "total_count": 1,
			"listings_to_confirm": []any{listing("l7", "a1", wantReceived, 140-wantReceived)},
			"listings":            []any{listing("l6", "a0", 100, 15)},
		})
	})
	c := f.client(t)

	id, err := c.CreateSellOrder(context.Background(), "a1", csPair, decimal.RequireFromString("1.40"))
	require.NoError(t, err)
	assert.Equal(t, "l7", id)
}

func TestCreateSellOrder_ListingNotVisible(t *testing.T) {
	f := newFakeSteam(t)
	f.mux.HandleFunc("POST /market/sellitem/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": true})
	})
	f.mux.HandleFunc("GET /market/mylistings/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": true, "total_count": 1, "listings": []any{listing("l6", "a0", 100, 15)}})
	})
	c := f.client(t)

	_, err := c.CreateSellOrder(context.Background(), "a1", csPair, decimal.RequireFromString("1.40"))
	assert.ErrorIs(t, err, domain.ErrVenueRejected)
}

func TestCreateSellOrder_BelowMinimum(t *testing.T) {
	f := newFakeSteam(t)
	c := f.client(t)

	_, err := c.CreateSellOrder(context.Background(), "a1", csPair, decimal.RequireFromString("0.01"))
	assert.ErrorIs(t, err, domain.ErrVenueRejected)
	assert.EqualValues(t, 0, f.logins.Load())
}

func TestInventory_JoinsDescriptionsAcrossPages(t *testing.T) {
	f := newFakeSteam(t)
	desc := map[string]any{
		"classid": "11", "instanceid": "0", "name": "Case Key", "market_hash_name": "Case Key",
		"tradable": 1, "marketable": 1, "icon_url": "icon-hash",
	}
	f.mux.HandleFunc("GET /inventory/76561198000000001/730/2", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start_assetid") == "" {
			writeJSON(w, map[string]any{
				"success": 1,
				"assets": []any{
					map[string]any{"appid": 730, "contextid": "2", "assetid": "100", "classid": "11", "instanceid": "0", "amount": "1"},
					map[string]any{"appid": 730, "contextid": "2", "assetid": "101", "classid": "99", "instanceid": "0", "amount": "1"},
				},
				"descriptions": []any{desc},
				"more_items":   1,
				"last_assetid": "101",
			})
			return
		}
		assert.Equal(t, "101", r.URL.Query().Get("start_assetid"))
		writeJSON(w, map[string]any{
			"success": 1,
			"assets": []any{
				map[string]any{"appid": 730, "contextid": "2", "assetid": "102", "classid": "11", "instanceid": "0", "amount": "1"},
			},
			"descriptions": []any{desc},
		})
	})
	c := f.client(t)
	require.NoError(t, c.Session().EnsureValid(context.Background()))

	items, err := c.Inventory(context.Background(), csPair)
	require.NoError(t, err)
	require.Len(t, items, 2, "assets without a description are skipped")
	assert.Contains(t, items, "100")
	assert.Contains(t, items, "102")
	assert.Equal(t, "Case Key", items["100"].MarketHashName)
	assert.True(t, items["100"].Marketable)
	assert.Equal(t, domain.InventoryIconBase+"icon-hash", items["100"].IconURL)
}
