package bchydro

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/bchydro/pkg/models"
)

const loginPage = `<html><body>
<form id="login" action="/BCHCustomerPortal/web/login.html" method="post">
  <input type="hidden" name="_csrf" value="token-123">
  <input type="email" name="email">
  <input type="password" name="password">
  <button type="submit">Log in</button>
</form>
</body></html>`

const accountBody = `{"evpSlid":"98765","evpAccount":"000012345678","evpBillingStart":"2024-01-03","evpBillingEnd":"2024-03-04"}`

const usageBody = `<?xml version="1.0" encoding="UTF-8"?>
<Consumption>
  <Series name="Electricity">
    <Point type="ACTUAL" quality="ACTUAL" dateTime="2024-01-04T00:00:00-08:00" endTime="2024-01-05T00:00:00-08:00" value="12.5" cost="$1.60"/>
    <Point type="ACTUAL" quality="ACTUAL" dateTime="2024-01-03T00:00:00-08:00" endTime="2024-01-04T00:00:00-08:00" value="10.25" cost="$1.31"/>
    <Point type="ESTIMATE" quality="ESTIMATE" dateTime="2024-01-05T00:00:00-08:00" endTime="2024-01-06T00:00:00-08:00" value="11" cost="$1.40"/>
  </Series>
  <Rates billingPeriodStart="2024-01-03" billingPeriodEnd="2024-03-04" consumptionToDate="22.75" costToDate="$2.91" estimatedConsumption="1,404.2" estimatedCost="$181.07"/>
</Consumption>`

// fakePortal imitates the portal: a session cookie is handed out on a correct login
type fakePortal struct {
	mu       sync.Mutex
	sessions map[string]bool
	logins   int
	usages   int
	nextID   int

	// expireAfterUse drops the session after one data request
	expireAfterUse bool
	// rejectData bounces every data request to the login page, even right after a login
	rejectData bool
	lastForm   map[string]string
}

func newFakePortal() *fakePortal {
	return &fakePortal{sessions: make(map[string]bool)}
}

func (p *fakePortal) authorized(r *http.Request) bool {
	cookie, err := r.Cookie("JSESSIONID")
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectData {
		return false
	}
	ok := p.sessions[cookie.Value]
	if ok && p.expireAfterUse {
		delete(p.sessions, cookie.Value)
	}
	return ok
}

func (p *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case loginPath:
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, loginPage)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.logins++
		p.lastForm = map[string]string{
			"_csrf":    r.PostForm.Get("_csrf"),
			"email":    r.PostForm.Get("email"),
			"password": r.PostForm.Get("password"),
		}
		good := r.PostForm.Get("email") == "user@example.com" && r.PostForm.Get("password") == "hunter2"
		if good {
			p.nextID++
			id := fmt.Sprintf("session-%d", p.nextID)
			p.sessions[id] = true
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: id, Path: "/"})
		}
		p.mu.Unlock()

		w.Header().Set("Content-Type", "text/html")
		if good {
			fmt.Fprint(w, `<html><body>Welcome</body></html>`)
		} else {
			fmt.Fprint(w, loginPage)
		}
	case accountPath:
		if !p.authorized(r) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, loginPage)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, accountBody)
	case usagePath:
		if !p.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.mu.Lock()
		p.usages++
		p.mu.Unlock()
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, usageBody)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, url, user, pass string) *Client {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	c, err := New(user, pass, WithBaseURL(url), WithLogger(logger), WithTimeout(5*time.Second))
	require.NoError(t, err)
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New("", "secret")
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = New("user", "")
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = New("   ", "secret")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestLogin(t *testing.T) {
	portal := newFakePortal()
	ts := httptest.NewServer(portal)
	defer ts.Close()

	t.Run("success", func(t *testing.T) {
		c := newTestClient(t, ts.URL, "user@example.com", "hunter2")
		require.NoError(t, c.Login(context.Background()))
		assert.Equal(t, "token-123", portal.lastForm["_csrf"], "hidden inputs should be posted back")
	})

	t.Run("bad password", func(t *testing.T) {
		c := newTestClient(t, ts.URL, "user@example.com", "wrong")
		err := c.Login(context.Background())
		require.Error(t, err)

		var authErr *AuthError
		require.True(t, errors.As(err, &authErr))
		assert.Equal(t, http.StatusOK, authErr.StatusCode)
	})
}

func TestAccount(t *testing.T) {
	ts := httptest.NewServer(newFakePortal())
	defer ts.Close()

	c := newTestClient(t, ts.URL, "user@example.com", "hunter2")
	acc, err := c.Account(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "98765", acc.ID)
	assert.Equal(t, "000012345678", acc.Number)
	assert.True(t, acc.BillingStart.Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, pacific)))
	assert.True(t, acc.BillingEnd.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, pacific)))
}

func TestFetchUsage(t *testing.T) {
	portal := newFakePortal()
	ts := httptest.NewServer(portal)
	defer ts.Close()

	c := newTestClient(t, ts.URL, "user@example.com", "hunter2")
	usage, err := c.FetchUsage(context.Background())
	require.NoError(t, err)

	require.Len(t, usage.Electricity, 2, "estimates must be dropped")
	first, last := usage.Electricity[0], usage.Electricity[1]
	assert.Equal(t, 10.25, first.Consumption, "records are ordered oldest first")
	assert.Equal(t, 12.5, last.Consumption)
	assert.Equal(t, models.Float(1.6), last.Cost)
	assert.True(t, last.End.Equal(time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC)))

	require.NotNil(t, usage.Rates)
	assert.Equal(t, models.Float(1404.2), usage.Rates.EstimatedConsumption)
	assert.Equal(t, models.Float(181.07), usage.Rates.EstimatedCost)
	assert.Equal(t, models.Float(2.91), usage.Rates.CostToDate)
	assert.False(t, usage.FetchedAt.IsZero())

	assert.Equal(t, 1, portal.logins)
}

func TestFetchUsageRelogin(t *testing.T) {
	portal := newFakePortal()
	portal.expireAfterUse = true
	ts := httptest.NewServer(portal)
	defer ts.Close()

	c := newTestClient(t, ts.URL, "user@example.com", "hunter2")
	usage, err := c.FetchUsage(context.Background())
	require.NoError(t, err)
	assert.Len(t, usage.Electricity, 2)

	// account and usage each burn one session
	assert.Equal(t, 2, portal.logins)
	assert.Equal(t, 1, portal.usages)
}

func TestFetchUsageSessionRejected(t *testing.T) {
	portal := newFakePortal()
	portal.rejectData = true
	ts := httptest.NewServer(portal)
	defer ts.Close()

	c := newTestClient(t, ts.URL, "user@example.com", "hunter2")
	_, err := c.FetchUsage(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Error(), "session rejected after fresh login")

	// one login up front, one after the first bounce, then give up
	assert.Equal(t, 2, portal.logins)
	assert.Zero(t, portal.usages)
}

func TestFetchUsageBadCredentials(t *testing.T) {
	ts := httptest.NewServer(newFakePortal())
	defer ts.Close()

	c := newTestClient(t, ts.URL, "user@example.com", "nope")
	_, err := c.FetchUsage(context.Background())

	var authErr *AuthError
	assert.True(t, errors.As(err, &authErr))
}

func TestParseUsageWithoutRates(t *testing.T) {
	usage, err := parseUsage([]byte(`<Consumption><Series/></Consumption>`), time.Now())
	require.NoError(t, err)
	assert.Empty(t, usage.Electricity)
	assert.Nil(t, usage.Rates)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		err  bool
	}{
		{"12.5", 12.5, false},
		{"$1,234.56", 1234.56, false},
		{" $0.10 ", 0.1, false},
		{"", 0, true},
		{"n/a", 0, true},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseOptionalAmount(t *testing.T) {
	got, err := parseOptionalAmount("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseOptionalAmount("$0.00")
	require.NoError(t, err)
	assert.Equal(t, models.Float(0), got, "a reported zero is still known")
}

func TestParseUsageOptionalAmounts(t *testing.T) {
	const point = `<Point type="ACTUAL" dateTime="2024-01-04T00:00:00-08:00" endTime="2024-01-05T00:00:00-08:00" value="12.5"/>`

	t.Run("point without cost", func(t *testing.T) {
		usage, err := parseUsage([]byte(`<Consumption><Series>`+point+`</Series></Consumption>`), time.Now())
		require.NoError(t, err)
		require.Len(t, usage.Electricity, 1)
		assert.Equal(t, 12.5, usage.Electricity[0].Consumption)
		assert.Nil(t, usage.Electricity[0].Cost)
	})

	t.Run("point without value", func(t *testing.T) {
		doc := `<Consumption><Series><Point type="ACTUAL" dateTime="2024-01-04T00:00:00-08:00" endTime="2024-01-05T00:00:00-08:00" cost="$1.10"/></Series></Consumption>`
		usage, err := parseUsage([]byte(doc), time.Now())
		require.NoError(t, err)
		assert.Empty(t, usage.Electricity)
	})

	t.Run("cost-only estimate", func(t *testing.T) {
		usage, err := parseUsage([]byte(`<Consumption><Rates estimatedCost="$181.07"/></Consumption>`), time.Now())
		require.NoError(t, err)
		require.NotNil(t, usage.Rates)
		assert.Equal(t, models.Float(181.07), usage.Rates.EstimatedCost)
		assert.Nil(t, usage.Rates.EstimatedConsumption)
		assert.Nil(t, usage.Rates.CostToDate)
	})

	t.Run("consumption-only estimate", func(t *testing.T) {
		usage, err := parseUsage([]byte(`<Consumption><Rates estimatedConsumption="1,404.2"/></Consumption>`), time.Now())
		require.NoError(t, err)
		require.NotNil(t, usage.Rates)
		assert.Equal(t, models.Float(1404.2), usage.Rates.EstimatedConsumption)
		assert.Nil(t, usage.Rates.EstimatedCost)
	})

	t.Run("no estimate", func(t *testing.T) {
		usage, err := parseUsage([]byte(`<Consumption><Rates costToDate="$2.91"/></Consumption>`), time.Now())
		require.NoError(t, err)
		assert.Nil(t, usage.Rates)
	})
}

func TestFindLoginForm(t *testing.T) {
	form, err := findLoginForm(strings.NewReader(loginPage))
	require.NoError(t, err)
	assert.Equal(t, "email", form.UserField)
	assert.Equal(t, "password", form.PassField)
	assert.Equal(t, "/BCHCustomerPortal/web/login.html", form.Action.Path)

	_, err = findLoginForm(strings.NewReader(`<html><form><input name="q"></form></html>`))
	assert.Error(t, err)
}
