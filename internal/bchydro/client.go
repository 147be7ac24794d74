// Package bchydro is a client for the BC Hydro customer portal usage API.
package bchydro

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jgoulah/bchydro/pkg/models"
)

const (
	DefaultBaseURL = "https://app.bchydro.com"

	loginPath   = "/BCHCustomerPortal/web/login.html"
	accountPath = "/evportlet/web/global-data.html"
	usagePath   = "/evportlet/web/consumption-data.html"

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// ErrMissingCredentials is returned when username or password is empty
var ErrMissingCredentials = errors.New("username and password are required")

// errSessionExpired means the portal bounced a data request back to the login page
var errSessionExpired = errors.New("session expired")

// AuthError represents an authentication failure
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}

// Client talks to the BC Hydro portal using username/password login and a cookie session
type Client struct {
	baseURL  *url.URL
	username string
	password string
	http     *http.Client
	log      logrus.FieldLogger
	now      func() time.Time

	// mu serializes use of the session cookies
	mu       sync.Mutex
	loggedIn bool
	account  *models.Account
}

// Option configures a Client
type Option func(*Client) error

// WithBaseURL points the client at a different portal host
func WithBaseURL(raw string) Option {
	return func(c *Client) error {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parsing base url: %w", err)
		}
		c.baseURL = u
		return nil
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.http.Timeout = d
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) error {
		c.log = log
		return nil
	}
}

// New creates a client. It does not contact the portal until the first request.
func New(username, password string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	base, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		baseURL:  base,
		username: username,
		password: password,
		http: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		log: logrus.StandardLogger(),
		now: time.Now,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.log = c.log.WithField("component", "bchydro")

	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.ResolveReference(&url.URL{Path: path}).String()
}

// Login authenticates and stores the session cookies
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	c.loggedIn = false
	c.log.Debug("Logging in to BC Hydro")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(loginPath), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, body, err := c.do(req)
	if err != nil {
		return fmt.Errorf("loading login page: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login page returned status %d", resp.StatusCode)
	}

	form, err := findLoginForm(strings.NewReader(string(body)))
	if err != nil {
		return err
	}

	form.Values.Set(form.UserField, c.username)
	form.Values.Set(form.PassField, c.password)
	action := resp.Request.URL.ResolveReference(form.Action)

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, action.String(), strings.NewReader(form.Values.Encode()))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, body, err = c.do(req)
	if err != nil {
		return fmt.Errorf("submitting login form: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("authentication failed (status %d)", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("login returned status %d", resp.StatusCode)
	case hasLoginForm(body):
		return &AuthError{
			StatusCode: resp.StatusCode,
			Message:    "authentication failed: invalid username or password",
		}
	}

	c.loggedIn = true
	c.log.Debug("Logged in to BC Hydro")
	return nil
}

// Account returns the account descriptor, logging in if needed
func (c *Client) Account(ctx context.Context) (models.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.account != nil {
		return *c.account, nil
	}
	acc, err := c.fetchAccount(ctx)
	if err != nil {
		return models.Account{}, err
	}
	return acc, nil
}

func (c *Client) fetchAccount(ctx context.Context) (models.Account, error) {
	body, err := c.withSession(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(accountPath), nil)
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("fetching account: %w", err)
	}

	acc, err := parseAccount(body)
	if err != nil {
		return models.Account{}, err
	}
	c.account = &acc
	return acc, nil
}

// FetchUsage retrieves daily usage for the current billing period
func (c *Client) FetchUsage(ctx context.Context) (*models.DailyUsage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The billing period moves, so the account is re-read on every fetch
	acc, err := c.fetchAccount(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("Slid", acc.ID)
	form.Set("Account", acc.Number)
	form.Set("ChartType", "column")
	form.Set("Granularity", "daily")
	form.Set("Overlays", "none")
	form.Set("DateRange", "currentBill")
	if !acc.BillingStart.IsZero() {
		form.Set("StartDateTime", acc.BillingStart.Format(dateTimeLayout))
	}
	if !acc.BillingEnd.IsZero() {
		form.Set("EndDateTime", acc.BillingEnd.Format(dateTimeLayout))
	}
	encoded := form.Encode()

	body, err := c.withSession(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(usagePath), strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching usage: %w", err)
	}

	usage, err := parseUsage(body, c.now())
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"account":   acc.ID,
		"intervals": len(usage.Electricity),
	}).Debug("Fetched usage")

	return usage, nil
}

// withSession performs a data request, logging in first if needed and once more if the
// session turns out to be expired
func (c *Client) withSession(ctx context.Context, newReq func() (*http.Request, error)) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if !c.loggedIn {
			if err := c.login(ctx); err != nil {
				return nil, err
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		body, err := c.data(req)
		if errors.Is(err, errSessionExpired) {
			c.log.Info("BC Hydro session expired, logging in again")
			c.loggedIn = false
			continue
		}
		return body, err
	}
	return nil, &AuthError{Message: "authentication failed: session rejected after fresh login"}
}

// data performs a request against a data endpoint
func (c *Client) data(req *http.Request) ([]byte, error) {
	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "html") && hasLoginForm(body) {
		return nil, errSessionExpired
	}

	return body, nil
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp, body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
