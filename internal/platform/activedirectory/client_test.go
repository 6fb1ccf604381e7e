package activedirectory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/phrazzld/securotron/internal/config"
	"github.com/phrazzld/securotron/internal/domain"
	"github.com/phrazzld/securotron/internal/platform/logger"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records LDAP requests and serves canned search results
type fakeConn struct {
	mu sync.Mutex

	BindFn   func(username, password string) error
	SearchFn func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	ModifyFn func(req *ldap.ModifyRequest) error

	binds    []string
	searches []*ldap.SearchRequest
	modifies []*ldap.ModifyRequest
	closes   int
}

func (f *fakeConn) Bind(username, password string) error {
	f.mu.Lock()
	f.binds = append(f.binds, username)
	f.mu.Unlock()
	if f.BindFn != nil {
		return f.BindFn(username, password)
	}
	return nil
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.mu.Lock()
	f.searches = append(f.searches, req)
	f.mu.Unlock()
	if f.SearchFn != nil {
		return f.SearchFn(req)
	}
	return &ldap.SearchResult{}, nil
}

func (f *fakeConn) Modify(req *ldap.ModifyRequest) error {
	f.mu.Lock()
	f.modifies = append(f.modifies, req)
	f.mu.Unlock()
	if f.ModifyFn != nil {
		return f.ModifyFn(req)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func testConfig() config.DirectoryConfig {
	return config.DirectoryConfig{
		ServerFQDN: "dc01.corp.example.com",
		Port:       636,
		Username:   "svc-securotron",
		Password:   "secret",
		DomainName: "corp.example.com",
		RootDN:     "DC=corp,DC=example,DC=com",
	}
}

func noWait() Option {
	return WithBackoff(retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond)))
}

func newTestClient(t *testing.T, fake *fakeConn) *Client {
	t.Helper()
	log, _ := logger.GetTestLogger(t)

	client, err := New(context.Background(), testConfig(), log, noWait(),
		withDialer(func(ctx context.Context, cfg config.DirectoryConfig) (conn, error) {
			return fake, nil
		}))
	require.NoError(t, err)
	return client
}

func userEntry(dn, sam string, uac domain.AccountControl) *ldap.Entry {
	return ldap.NewEntry(dn, map[string][]string{
		domain.AttrSAMAccountName:     {sam},
		domain.AttrUserPrincipalName:  {sam + "@corp.example.com"},
		domain.AttrUserAccountControl: {uac.String()},
	})
}

func TestBindName(t *testing.T) {
	assert.Equal(t, "svc@corp.example.com", BindName("svc", "corp.example.com"))
	assert.Equal(t, "svc@other.example.com", BindName("svc@other.example.com", "corp.example.com"))
	assert.Equal(t, `CORP\svc`, BindName(`CORP\svc`, "corp.example.com"))
	assert.Equal(t, "svc", BindName("svc", ""))
}

func TestNew_BindsWithQualifiedName(t *testing.T) {
	fake := &fakeConn{}
	newTestClient(t, fake)

	assert.Equal(t, []string{"svc-securotron@corp.example.com"}, fake.binds)
}

func TestNew_RetriesTransientFailures(t *testing.T) {
	fake := &fakeConn{}
	dials := 0
	log, _ := logger.GetTestLogger(t)

	_, err := New(context.Background(), testConfig(), log, noWait(),
		withDialer(func(ctx context.Context, cfg config.DirectoryConfig) (conn, error) {
			dials++
			if dials < 3 {
				return nil, errors.New("connection refused")
			}
			return fake, nil
		}))

	require.NoError(t, err)
	assert.Equal(t, 3, dials)
	assert.Len(t, fake.binds, 1)
}

func TestNew_InvalidCredentialsAreNotRetried(t *testing.T) {
	fake := &fakeConn{
		BindFn: func(username, password string) error {
			return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
		},
	}
	log, buf := logger.GetTestLogger(t)

	client, err := New(context.Background(), testConfig(), log, noWait(),
		withDialer(func(ctx context.Context, cfg config.DirectoryConfig) (conn, error) {
			return fake, nil
		}))

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Len(t, fake.binds, 1)
	assert.Equal(t, 1, fake.closes, "failed connection should be closed")
	logger.AssertLogContains(t, buf, "failed to bind to the LDAP server")
}

func TestNew_GivesUpAfterMaxRetries(t *testing.T) {
	dials := 0
	log, _ := logger.GetTestLogger(t)

	_, err := New(context.Background(), testConfig(), log, noWait(),
		withDialer(func(ctx context.Context, cfg config.DirectoryConfig) (conn, error) {
			dials++
			return nil, errors.New("no route to host")
		}))

	assert.ErrorContains(t, err, "no route to host")
	assert.Equal(t, 3, dials)
}

func TestDisableUser_SetsDisableFlag(t *testing.T) {
	dn := "CN=Alice,OU=Staff,DC=corp,DC=example,DC=com"
	fake := &fakeConn{
		SearchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return &ldap.SearchResult{Entries: []*ldap.Entry{
				userEntry(dn, "alice", domain.NormalAccount|domain.PasswordDoesNotExpire),
			}}, nil
		},
	}
	client := newTestClient(t, fake)

	require.NoError(t, client.DisableUser(context.Background(), "alice"))

	require.Len(t, fake.searches, 1)
	search := fake.searches[0]
	assert.Equal(t, "DC=corp,DC=example,DC=com", search.BaseDN)
	assert.Equal(t, ldap.ScopeWholeSubtree, search.Scope)
	assert.Equal(t, "(&(objectClass=user)(sAMAccountName=alice))", search.Filter)
	assert.Equal(t, domain.AccountAttributes, search.Attributes)

	require.Len(t, fake.modifies, 1)
	modify := fake.modifies[0]
	assert.Equal(t, dn, modify.DN)
	require.Len(t, modify.Changes, 1)
	assert.Equal(t, uint(ldap.ReplaceAttribute), modify.Changes[0].Operation)
	assert.Equal(t, domain.AttrUserAccountControl, modify.Changes[0].Modification.Type)

	expected := domain.NormalAccount | domain.PasswordDoesNotExpire | domain.AccountDisabled
	assert.Equal(t, []string{expected.String()}, modify.Changes[0].Modification.Vals)
}

func TestDisableUser_EscapesFilter(t *testing.T) {
	fake := &fakeConn{}
	client := newTestClient(t, fake)

	require.NoError(t, client.DisableUser(context.Background(), "*)(objectClass=*"))

	require.Len(t, fake.searches, 1)
	filter := fake.searches[0].Filter
	assert.True(t, strings.HasPrefix(filter, "(&(objectClass=user)(sAMAccountName="))
	assert.NotContains(t, filter, "*")
	assert.Equal(t, 3, strings.Count(filter, "("), "username must not open new filter components")
}

func TestDisableUser_NotFound(t *testing.T) {
	fake := &fakeConn{}
	log, buf := logger.GetTestLogger(t)
	client, err := New(context.Background(), testConfig(), log, noWait(),
		withDialer(func(ctx context.Context, cfg config.DirectoryConfig) (conn, error) {
			return fake, nil
		}))
	require.NoError(t, err)

	assert.NoError(t, client.DisableUser(context.Background(), "ghost"))
	assert.Empty(t, fake.modifies)
	logger.AssertLogField(t, buf, "msg", "user not found")
}

func TestDisableUser_AlreadyDisabled(t *testing.T) {
	fake := &fakeConn{
		SearchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return &ldap.SearchResult{Entries: []*ldap.Entry{
				userEntry("CN=Bob,DC=corp,DC=example,DC=com", "bob", domain.NormalAccount|domain.AccountDisabled),
			}}, nil
		},
	}
	client := newTestClient(t, fake)

	assert.NoError(t, client.DisableUser(context.Background(), "bob"))
	assert.Empty(t, fake.modifies)
}

func TestDisableUser_Errors(t *testing.T) {
	searchErr := ldap.NewError(ldap.LDAPResultBusy, errors.New("busy"))
	modifyErr := ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("access denied"))

	t.Run("search failure", func(t *testing.T) {
		fake := &fakeConn{
			SearchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) { return nil, searchErr },
		}
		client := newTestClient(t, fake)

		assert.ErrorIs(t, client.DisableUser(context.Background(), "alice"), searchErr)
	})

	t.Run("modify failure", func(t *testing.T) {
		fake := &fakeConn{
			SearchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
				return &ldap.SearchResult{Entries: []*ldap.Entry{
					userEntry("CN=Alice,DC=corp,DC=example,DC=com", "alice", domain.NormalAccount),
				}}, nil
			},
			ModifyFn: func(req *ldap.ModifyRequest) error { return modifyErr },
		}
		client := newTestClient(t, fake)

		assert.ErrorIs(t, client.DisableUser(context.Background(), "alice"), modifyErr)
	})

	t.Run("invalid userAccountControl", func(t *testing.T) {
		fake := &fakeConn{
			SearchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
				return &ldap.SearchResult{Entries: []*ldap.Entry{
					ldap.NewEntry("CN=Alice,DC=corp,DC=example,DC=com", map[string][]string{
						domain.AttrUserAccountControl: {"enabled"},
					}),
				}}, nil
			},
		}
		client := newTestClient(t, fake)

		assert.ErrorIs(t, client.DisableUser(context.Background(), "alice"), domain.ErrInvalidAccountControl)
		assert.Empty(t, fake.modifies)
	})

	t.Run("canceled context", func(t *testing.T) {
		fake := &fakeConn{}
		client := newTestClient(t, fake)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, client.DisableUser(ctx, "alice"), context.Canceled)
		assert.Empty(t, fake.searches)
	})
}

// closingConn reports a shut-down reader the way *ldap.Conn does
type closingConn struct {
	*fakeConn
}

func (closingConn) IsClosing() bool { return true }

// dialSequence hands out conns in order and counts dials
func dialSequence(conns ...conn) (Option, *int) {
	dials := 0
	return withDialer(func(ctx context.Context, cfg config.DirectoryConfig) (conn, error) {
		dials++
		if dials > len(conns) {
			return nil, errors.New("connection refused")
		}
		return conns[dials-1], nil
	}), &dials
}

func TestDisableUser_ReconnectsAfterNetworkError(t *testing.T) {
	dropped := &fakeConn{
		SearchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return nil, ldap.NewError(ldap.ErrorNetwork, errors.New("connection closed"))
		},
	}
	healthy := &fakeConn{
		SearchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return &ldap.SearchResult{Entries: []*ldap.Entry{
				userEntry("CN=Alice,DC=corp,DC=example,DC=com", "alice", domain.NormalAccount),
			}}, nil
		},
	}
	dialer, dials := dialSequence(dropped, healthy)
	log, buf := logger.GetTestLogger(t)

	client, err := New(context.Background(), testConfig(), log, noWait(), dialer)
	require.NoError(t, err)

	require.NoError(t, client.DisableUser(context.Background(), "alice"))
	assert.Equal(t, 2, *dials)
	assert.Equal(t, 1, dropped.closes, "lost connection should be released")
	assert.Len(t, healthy.binds, 1)
	assert.Len(t, healthy.modifies, 1)
	logger.AssertLogContains(t, buf, "reconnecting")

	require.NoError(t, client.DisableUser(context.Background(), "alice"))
	assert.Equal(t, 2, *dials, "healthy connection should be reused")
}

func TestDisableUser_ReconnectFailureIsRetriedNextCall(t *testing.T) {
	networkErr := ldap.NewError(ldap.ErrorNetwork, errors.New("connection reset"))
	dropped := &fakeConn{
		ModifyFn: func(req *ldap.ModifyRequest) error { return networkErr },
		SearchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return &ldap.SearchResult{Entries: []*ldap.Entry{
				userEntry("CN=Alice,DC=corp,DC=example,DC=com", "alice", domain.NormalAccount),
			}}, nil
		},
	}
	dials := 0
	log, _ := logger.GetTestLogger(t)
	client, err := New(context.Background(), testConfig(), log, noWait(),
		withDialer(func(ctx context.Context, cfg config.DirectoryConfig) (conn, error) {
			dials++
			switch {
			case dials == 1:
				return dropped, nil
			case dials <= 4:
				return nil, errors.New("no route to host")
			default:
				return &fakeConn{}, nil
			}
		}))
	require.NoError(t, err)

	err = client.DisableUser(context.Background(), "alice")
	assert.ErrorIs(t, err, networkErr)
	assert.ErrorContains(t, err, "no route to host")
	assert.Equal(t, 4, dials, "one initial dial plus three reconnect attempts")

	require.NoError(t, client.DisableUser(context.Background(), "alice"))
	assert.Equal(t, 5, dials)

	assert.NoError(t, client.Close())
}

func TestDisableUser_RequestErrorsDoNotReconnect(t *testing.T) {
	fake := &fakeConn{
		SearchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return nil, ldap.NewError(ldap.LDAPResultUnwillingToPerform, errors.New("unwilling"))
		},
	}
	dialer, dials := dialSequence(fake, &fakeConn{})
	log, _ := logger.GetTestLogger(t)
	client, err := New(context.Background(), testConfig(), log, noWait(), dialer)
	require.NoError(t, err)

	assert.Error(t, client.DisableUser(context.Background(), "alice"))
	assert.Equal(t, 1, *dials)
	assert.Len(t, fake.searches, 1)
}

func TestDisableUser_RedialsClosingConnection(t *testing.T) {
	stale := closingConn{&fakeConn{}}
	fresh := &fakeConn{}
	dialer, dials := dialSequence(stale, fresh)
	log, _ := logger.GetTestLogger(t)
	client, err := New(context.Background(), testConfig(), log, noWait(), dialer)
	require.NoError(t, err)

	require.NoError(t, client.DisableUser(context.Background(), "alice"))
	assert.Equal(t, 2, *dials)
	assert.Empty(t, stale.searches, "closing connection must not be used")
	assert.Len(t, fresh.searches, 1)
}

func TestClose(t *testing.T) {
	fake := &fakeConn{}
	client := newTestClient(t, fake)

	require.NoError(t, client.Close())
	assert.Equal(t, 1, fake.closes)

	assert.ErrorIs(t, client.Close(), ErrClosed)
	assert.Equal(t, 1, fake.closes, "connection should be released exactly once")

	assert.ErrorIs(t, client.DisableUser(context.Background(), "alice"), ErrClosed)
	assert.Empty(t, fake.searches)
}
