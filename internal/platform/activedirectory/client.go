package activedirectory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/phrazzld/securotron/internal/config"
	"github.com/phrazzld/securotron/internal/domain"
	"github.com/phrazzld/securotron/internal/redact"
	"github.com/sethvargo/go-retry"
)

// ErrClosed is returned when the client is used after Close
var ErrClosed = errors.New("directory client is closed")

const (
	// userFilter matches user objects by sAMAccountName
	userFilter = "(&(objectClass=user)(sAMAccountName=%s))"

	dialTimeout    = 10 * time.Second
	requestTimeout = 30 * time.Second
)

// conn is the subset of *ldap.Conn the client needs
type conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Modify(req *ldap.ModifyRequest) error
	Close() error
}

type dialFunc func(ctx context.Context, cfg config.DirectoryConfig) (conn, error)

// Option customizes a Client at construction
type Option func(*Client)

// WithBackoff replaces the retry policy used while connecting.
func WithBackoff(b retry.Backoff) Option {
	return func(c *Client) {
		c.backoff = b
	}
}

func withDialer(dial dialFunc) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

// Client disables Active Directory user accounts. A connection lost to a
// network error is re-established on the next call.
type Client struct {
	mu     sync.Mutex
	conn   conn
	closed bool

	cfg     config.DirectoryConfig
	dial    dialFunc
	backoff retry.Backoff
	logger  *slog.Logger
}

// New dials the configured domain controller over LDAPS and binds with the
// service account. Transient dial and bind failures are retried; invalid
// credentials are not.
func New(ctx context.Context, cfg config.DirectoryConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:     cfg,
		dial:    dialLDAPS,
		backoff: retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond)),
		logger:  logger.With("component", "activedirectory", "server", cfg.ServerFQDN),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	cfg := c.cfg
	bindName := BindName(cfg.Username, cfg.DomainName)

	err := retry.Do(ctx, c.backoff, func(ctx context.Context) error {
		ldapConn, err := c.dial(ctx, cfg)
		if err != nil {
			c.logger.Warn("failed to connect to the directory server", "error", redact.Error(err))
			return retry.RetryableError(err)
		}

		if err := ldapConn.Bind(bindName, cfg.Password); err != nil {
			_ = ldapConn.Close()
			if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
				return err
			}
			c.logger.Warn("failed to bind to the directory server", "error", redact.Error(err))
			return retry.RetryableError(err)
		}

		c.conn = ldapConn
		return nil
	})
	if err != nil {
		c.logger.Error("failed to bind to the LDAP server", "error", redact.Error(err))
		return fmt.Errorf("failed to bind to %s as %s: %w", cfg.ServerFQDN, bindName, err)
	}

	c.logger.Info("bound to the directory server", "bind_name", bindName)
	return nil
}

// dialLDAPS opens a TLS connection to the domain controller.
func dialLDAPS(ctx context.Context, cfg config.DirectoryConfig) (conn, error) {
	addr := "ldaps://" + net.JoinHostPort(cfg.ServerFQDN, strconv.Itoa(cfg.Port))

	ldapConn, err := ldap.DialURL(addr,
		ldap.DialWithDialer(&net.Dialer{Timeout: dialTimeout}),
		ldap.DialWithTLSConfig(&tls.Config{
			ServerName:         cfg.ServerFQDN,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for lab domain controllers
			MinVersion:         tls.VersionTLS12,
		}),
	)
	if err != nil {
		return nil, err
	}

	ldapConn.SetTimeout(requestTimeout)
	return ldapConn, nil
}

// BindName qualifies a bare account name with the domain as a UPN.
// Names already in UPN or down-level logon form are returned unchanged.
func BindName(username, domainName string) string {
	if strings.ContainsAny(username, `@\`) || domainName == "" {
		return username
	}
	return username + "@" + domainName
}

// reconnect drops the current connection and dials again with the usual
// retry policy. Must be called with c.mu held.
func (c *Client) reconnect(ctx context.Context) error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return c.connect(ctx)
}

// isConnectionError reports whether err means the connection itself is
// unusable rather than the request being rejected.
func isConnectionError(err error) bool {
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return ldapErr.ResultCode == ldap.ErrorNetwork
	}
	return errors.Is(err, net.ErrClosed)
}

// DisableUser disables the account whose sAMAccountName is username.
// When the connection has been lost the client reconnects and retries once.
func (c *Client) DisableUser(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if c.conn == nil || closing(c.conn) {
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}

	err := c.disableUser(ctx, username)
	if err == nil || !isConnectionError(err) {
		return err
	}

	c.logger.Warn("lost connection to the directory server, reconnecting", "error", redact.Error(err))
	if rerr := c.reconnect(ctx); rerr != nil {
		return errors.Join(err, rerr)
	}
	return c.disableUser(ctx, username)
}

// closing reports whether an *ldap.Conn has already shut down its reader.
func closing(cn conn) bool {
	lc, ok := cn.(interface{ IsClosing() bool })
	return ok && lc.IsClosing()
}

func (c *Client) disableUser(ctx context.Context, username string) error {
	accounts, err := c.findUser(username)
	if err != nil {
		return err
	}

	if len(accounts) == 0 {
		c.logger.Warn("user not found", "username", username)
		return nil
	}

	for _, account := range accounts {
		if !account.Enabled() {
			c.logger.Warn("account already disabled",
				"username", account.SAMAccountName,
				"user_principal_name", account.UserPrincipalName)
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		account.Disable()

		req := ldap.NewModifyRequest(account.DistinguishedName, nil)
		req.Replace(domain.AttrUserAccountControl, []string{account.UserAccountControl.String()})

		if err := c.conn.Modify(req); err != nil {
			return fmt.Errorf("failed to disable %s: %w", account.DistinguishedName, err)
		}

		c.logger.Info("successfully disabled account",
			"username", account.SAMAccountName,
			"user_principal_name", account.UserPrincipalName)
	}

	return nil
}

// findUser searches the subtree under the root DN for username.
func (c *Client) findUser(username string) ([]*domain.UserAccount, error) {
	req := ldap.NewSearchRequest(
		c.cfg.RootDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		fmt.Sprintf(userFilter, ldap.EscapeFilter(username)),
		domain.AccountAttributes,
		nil,
	)

	result, err := c.conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for user %q: %w", username, err)
	}

	accounts := make([]*domain.UserAccount, 0, len(result.Entries))
	for _, entry := range result.Entries {
		attrs := make(map[string]string, len(domain.AccountAttributes))
		for _, name := range domain.AccountAttributes {
			attrs[name] = entry.GetAttributeValue(name)
		}

		account, err := domain.NewUserAccount(entry.DN, attrs)
		if err != nil {
			return nil, fmt.Errorf("invalid directory entry %q: %w", entry.DN, err)
		}
		accounts = append(accounts, account)
	}

	return accounts, nil
}

// Close unbinds and releases the connection. Only the first call has an
// effect; later calls return ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.closed = true

	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close directory connection: %w", err)
	}
	return nil
}
