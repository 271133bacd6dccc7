// Package directory talks to the configured LDAP servers.
package directory

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/ldapfs/ldapfs/internal/circuit"
	"github.com/ldapfs/ldapfs/internal/entry"
	"github.com/ldapfs/ldapfs/pkg/errors"
	"github.com/ldapfs/ldapfs/pkg/retry"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

const (
	// DefaultPort is used when a host has no port configured.
	DefaultPort = 389
	// DefaultConnectTimeout bounds dialing a server.
	DefaultConnectTimeout = 2 * time.Second

	allObjectsFilter = "(objectClass=*)"
	noAttributes     = "1.1"
)

// HostConfig describes one LDAP server.
type HostConfig struct {
	Address            string
	Port               int
	UseTLS             bool
	InsecureSkipVerify bool
	BindDN             string
	BindPassword       string
}

// URL returns the ldap:// or ldaps:// URL of the server.
func (h HostConfig) URL() string {
	scheme := "ldap"
	if h.UseTLS {
		scheme = "ldaps"
	}
	port := h.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(h.Address, strconv.Itoa(port)))
}

// Config configures a Client.
type Config struct {
	Hosts          map[string]HostConfig
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	Retry          retry.Config

	// CircuitBreaker is nil when breakers are disabled.
	CircuitBreaker *circuit.Config
}

// Conn is the subset of *ldap.Conn the client uses.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SetTimeout(timeout time.Duration)
	Unbind() error
}

// Dialer opens an unbound connection to a server.
type Dialer func(ctx context.Context, cfg HostConfig, timeout time.Duration) (Conn, error)

// DialLDAP is the Dialer backed by go-ldap.
func DialLDAP(ctx context.Context, cfg HostConfig, timeout time.Duration) (Conn, error) {
	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: timeout})}
	if cfg.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{
			ServerName:         cfg.Address,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}))
	}
	conn, err := ldap.DialURL(cfg.URL(), opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type hostConn struct {
	name string
	cfg  HostConfig

	mu   sync.Mutex
	conn Conn
}

// Client implements types.Directory against real LDAP servers. Each host has
// one bound connection, redialed lazily after a network failure, and its own
// circuit breaker.
type Client struct {
	config   Config
	dial     Dialer
	retryer  *retry.Retryer
	breakers *circuit.Manager
	logger   *utils.StructuredLogger
	health   HealthReporter

	hosts map[string]*hostConn
}

// HealthReporter receives the outcome of every call made to a host.
type HealthReporter interface {
	RecordSuccess(host string)
	RecordError(host string, err error)
}

// SetHealthReporter installs r; call it before the client is shared.
func (c *Client) SetHealthReporter(r HealthReporter) {
	c.health = r
}

// report forwards connectivity failures and an open breaker as errors; any
// other outcome proves the host answered.
func (c *Client) report(host string, err error) {
	if c.health == nil {
		return
	}
	if err != nil && (isConnectivityError(err) || errors.HasCode(err, errors.ErrCodeCircuitOpen)) {
		c.health.RecordError(host, err)
		return
	}
	c.health.RecordSuccess(host)
}

// NewClient creates a client; no connection is made until Connect or the first call.
func NewClient(config Config, dial Dialer, logger *utils.StructuredLogger) *Client {
	if dial == nil {
		dial = DialLDAP
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}

	c := &Client{
		config: config,
		dial:   dial,
		logger: logger.WithComponent("directory"),
		hosts:  make(map[string]*hostConn, len(config.Hosts)),
	}

	c.retryer = retry.New(config.Retry).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("bind attempt failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	})

	if config.CircuitBreaker != nil {
		cbConfig := *config.CircuitBreaker
		cbConfig.IsSuccessful = func(err error) bool {
			return err == nil || !isConnectivityError(err)
		}
		cbConfig.OnStateChange = func(name string, from, to circuit.State) {
			c.logger.Warn("circuit breaker changed state", map[string]interface{}{
				"host": name,
				"from": from.String(),
				"to":   to.String(),
			})
		}
		c.breakers = circuit.NewManager(cbConfig)
	}

	for name, hc := range config.Hosts {
		c.hosts[name] = &hostConn{name: name, cfg: hc}
	}
	return c
}

// Hosts returns the configured host names, sorted.
func (c *Client) Hosts() []string {
	names := make([]string, 0, len(c.hosts))
	for name := range c.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connect binds to every host, retrying transient failures. Hosts that
// cannot be reached are reported together; the client stays usable for the
// others and retries the failed ones on their first use.
func (c *Client) Connect(ctx context.Context) error {
	var errs []error
	for _, name := range c.Hosts() {
		h := c.hosts[name]
		err := c.retryer.Do(ctx, func(ctx context.Context) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			_, err := c.connectLocked(ctx, h)
			return err
		})
		c.report(name, err)
		if err != nil {
			c.logger.Error("could not connect to host", map[string]interface{}{
				"host":  name,
				"url":   h.cfg.URL(),
				"error": err.Error(),
			})
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// connectLocked dials and binds h. h.mu must be held.
func (c *Client) connectLocked(ctx context.Context, h *hostConn) (Conn, error) {
	if h.conn != nil {
		return h.conn, nil
	}

	conn, err := c.open(ctx, h.name, h.cfg, "connect")
	if err != nil {
		return nil, err
	}

	h.conn = conn
	c.logger.Info("connected", map[string]interface{}{
		"host":    h.name,
		"url":     h.cfg.URL(),
		"bind_dn": h.cfg.BindDN,
	})
	return conn, nil
}

// open dials cfg and binds when a bind DN is configured.
func (c *Client) open(ctx context.Context, name string, cfg HostConfig, op string) (Conn, error) {
	conn, err := c.dial(ctx, cfg, c.config.ConnectTimeout)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeConnectionFailed, "dial failed").
			WithComponent("directory").
			WithOperation(op).
			WithContext("host", name).
			WithContext("url", cfg.URL()).
			WithCause(err)
	}
	if c.config.RequestTimeout > 0 {
		conn.SetTimeout(c.config.RequestTimeout)
	}

	if cfg.BindDN != "" {
		if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
			_ = conn.Unbind()
			code := errors.ErrCodeConnectionFailed
			if rc, ok := resultCode(err); ok && rc == ldap.LDAPResultInvalidCredentials {
				code = errors.ErrCodeAuthenticationFailed
			}
			return nil, errors.NewError(code, "bind failed").
				WithComponent("directory").
				WithOperation(op).
				WithContext("host", name).
				WithContext("bind_dn", cfg.BindDN).
				WithCause(err)
		}
	}
	return conn, nil
}

// Ping dials and binds a throwaway connection to host. The shared
// connection, the breaker and the health reporter are left alone.
func (c *Client) Ping(ctx context.Context, host string) error {
	h, ok := c.hosts[host]
	if !ok {
		return errors.Newf(errors.ErrCodeNoSuchHost, "host %s is not configured", host).
			WithComponent("directory").
			WithOperation("ping")
	}
	conn, err := c.open(ctx, h.name, h.cfg, "ping")
	if err != nil {
		return err
	}
	return conn.Unbind()
}

// do runs fn on host's connection behind the host's breaker. The error
// returned by fn is mapped onto the error taxonomy; a connectivity failure
// drops the connection so the next call redials.
func (c *Client) do(ctx context.Context, host, dn, op string, fn func(Conn) error) error {
	h, ok := c.hosts[host]
	if !ok {
		return errors.Newf(errors.ErrCodeNoSuchHost, "host %s is not configured", host).
			WithComponent("directory").
			WithOperation(op)
	}

	call := func(ctx context.Context) error {
		h.mu.Lock()
		conn, err := c.connectLocked(ctx, h)
		h.mu.Unlock()
		if err != nil {
			return err
		}

		if err := fn(conn); err != nil {
			mapped := mapError(err, host, dn, op)
			if isConnectivityError(mapped) {
				c.drop(h, conn)
			}
			return mapped
		}
		return nil
	}

	var err error
	if c.breakers == nil {
		err = call(ctx)
	} else {
		err = c.breakers.Breaker(host).Execute(ctx, call)
	}
	c.report(host, err)
	return err
}

func (c *Client) drop(h *hostConn, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != conn {
		return
	}
	_ = conn.Unbind()
	h.conn = nil
	c.logger.Warn("dropped connection", map[string]interface{}{"host": h.name})
}

func (c *Client) search(ctx context.Context, host, dn, op string, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	var result *ldap.SearchResult
	err := c.do(ctx, host, dn, op, func(conn Conn) error {
		var err error
		result, err = conn.Search(req)
		return err
	})
	return result, err
}

func (c *Client) timeLimit() int {
	return int(c.config.RequestTimeout / time.Second)
}

// Exists reports whether dn names an object on host.
func (c *Client) Exists(ctx context.Context, host, dn string) (bool, error) {
	req := ldap.NewSearchRequest(dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		1, c.timeLimit(), false, allObjectsFilter, []string{noAttributes}, nil)

	result, err := c.search(ctx, host, dn, "exists", req)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return len(result.Entries) > 0, nil
}

// Get reads the object dn from host.
func (c *Client) Get(ctx context.Context, host, dn string, attrsOnly bool) (*entry.Entry, error) {
	req := ldap.NewSearchRequest(dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		1, c.timeLimit(), attrsOnly, allObjectsFilter, nil, nil)

	result, err := c.search(ctx, host, dn, "get", req)
	if err != nil {
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, errors.Newf(errors.ErrCodeObjectNotFound, "no object %s", dn).
			WithComponent("directory").
			WithOperation("get").
			WithContext("host", host)
	}
	return convertEntry(result.Entries[0]), nil
}

// Search lists the objects below dn on host.
func (c *Client) Search(ctx context.Context, host, dn string, recursive, attrsOnly bool) ([]*entry.Entry, error) {
	scope := ldap.ScopeSingleLevel
	if recursive {
		scope = ldap.ScopeWholeSubtree
	}
	req := ldap.NewSearchRequest(dn, scope, ldap.NeverDerefAliases,
		0, c.timeLimit(), attrsOnly, allObjectsFilter, nil, nil)

	result, err := c.search(ctx, host, dn, "search", req)
	if err != nil {
		return nil, err
	}

	entries := make([]*entry.Entry, 0, len(result.Entries))
	for _, e := range result.Entries {
		if strings.EqualFold(e.DN, dn) {
			continue
		}
		entries = append(entries, convertEntry(e))
	}
	return entries, nil
}

// Close unbinds every open connection.
func (c *Client) Close() error {
	var errs []error
	for _, name := range c.Hosts() {
		h := c.hosts[name]
		h.mu.Lock()
		if h.conn != nil {
			if err := h.conn.Unbind(); err != nil {
				errs = append(errs, fmt.Errorf("unbind %s: %w", name, err))
			}
			h.conn = nil
		}
		h.mu.Unlock()
	}
	return stderrors.Join(errs...)
}

// BreakerStates reports the circuit breaker state of every host used so far.
func (c *Client) BreakerStates() map[string]circuit.State {
	if c.breakers == nil {
		return nil
	}
	return c.breakers.States()
}

func convertEntry(e *ldap.Entry) *entry.Entry {
	attrs := make([]entry.Attribute, 0, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs = append(attrs, entry.Attribute{Name: a.Name, Values: a.Values})
	}
	return entry.New(e.DN, attrs...)
}

func resultCode(err error) (uint16, bool) {
	var lerr *ldap.Error
	if stderrors.As(err, &lerr) {
		return lerr.ResultCode, true
	}
	return 0, false
}

// mapError translates a go-ldap error into the error taxonomy.
func mapError(err error, host, dn, op string) error {
	var lerr *errors.LdapfsError
	if stderrors.As(err, &lerr) {
		return err
	}

	code := errors.ErrCodeTransportError
	msg := "request failed"
	if rc, ok := resultCode(err); ok {
		switch rc {
		case ldap.LDAPResultNoSuchObject:
			code, msg = errors.ErrCodeObjectNotFound, "no such object"
		case ldap.LDAPResultInvalidDNSyntax:
			code, msg = errors.ErrCodeInvalidName, "invalid DN syntax"
		case ldap.ErrorNetwork:
			msg = "network error"
		default:
			msg = ldap.LDAPResultCodeMap[rc]
		}
	}

	return errors.NewError(code, msg).
		WithComponent("directory").
		WithOperation(op).
		WithContext("host", host).
		WithContext("dn", dn).
		WithCause(err)
}

// isConnectivityError reports whether err means the server could not be
// talked to at all, as opposed to a result code the server sent back.
func isConnectivityError(err error) bool {
	if errors.HasCode(err, errors.ErrCodeConnectionFailed) {
		return true
	}
	if !errors.HasCode(err, errors.ErrCodeTransportError) {
		return false
	}
	rc, ok := resultCode(err)
	return !ok || rc == ldap.ErrorNetwork
}
