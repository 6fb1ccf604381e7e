package domain

import (
	"errors"
	"strconv"
	"strings"
)

// Directory attribute names read for a user account
const (
	AttrSAMAccountName     = "sAMAccountName"
	AttrDistinguishedName  = "distinguishedName"
	AttrUserPrincipalName  = "userPrincipalName"
	AttrUserAccountControl = "userAccountControl"
)

// AccountAttributes lists the attributes needed to build a UserAccount
var AccountAttributes = []string{
	AttrSAMAccountName,
	AttrDistinguishedName,
	AttrUserPrincipalName,
	AttrUserAccountControl,
}

// UserAccount represents a user account in Active Directory.
type UserAccount struct {
	SAMAccountName     string
	DistinguishedName  string
	UserPrincipalName  string
	UserAccountControl AccountControl
}

// NewUserAccount builds a UserAccount from raw directory attribute values.
// Unknown attributes are ignored. The entry DN is used when the
// distinguishedName attribute was not returned.
func NewUserAccount(dn string, attrs map[string]string) (*UserAccount, error) {
	account := &UserAccount{
		SAMAccountName:    attrs[AttrSAMAccountName],
		DistinguishedName: attrs[AttrDistinguishedName],
		UserPrincipalName: attrs[AttrUserPrincipalName],
	}
	if account.DistinguishedName == "" {
		account.DistinguishedName = dn
	}

	if raw := strings.TrimSpace(attrs[AttrUserAccountControl]); raw != "" {
		value, err := ParseAccountControl(raw)
		if err != nil {
			return nil, err
		}
		account.UserAccountControl = value
	}

	if err := account.Validate(); err != nil {
		return nil, err
	}
	return account, nil
}

// Validate checks if the UserAccount has valid data.
func (a *UserAccount) Validate() error {
	if a.DistinguishedName == "" {
		return ErrEmptyDistinguishedName
	}
	return nil
}

// Enabled reports whether the account is enabled
func (a *UserAccount) Enabled() bool {
	return !a.UserAccountControl.Has(AccountDisabled)
}

// Disable sets the ACCOUNTDISABLE flag, leaving every other flag untouched
func (a *UserAccount) Disable() {
	a.UserAccountControl = a.UserAccountControl.With(AccountDisabled)
}

// Name returns the best human-readable identifier for log output
func (a *UserAccount) Name() string {
	if a.SAMAccountName != "" {
		return a.SAMAccountName
	}
	return a.DistinguishedName
}

// AccountControl is the userAccountControl bit field of a directory account.
// See MS-ADTS 2.2.16.
type AccountControl int32

// userAccountControl flags
const (
	Script                             AccountControl = 0x0001
	AccountDisabled                    AccountControl = 0x0002
	HomeDirectoryRequired              AccountControl = 0x0008
	AccountLockedOut                   AccountControl = 0x0010
	PasswordNotRequired                AccountControl = 0x0020
	PasswordCannotChange               AccountControl = 0x0040
	EncryptedTextPasswordAllowed       AccountControl = 0x0080
	TempDuplicateAccount               AccountControl = 0x0100
	NormalAccount                      AccountControl = 0x0200
	InterDomainTrustAccount            AccountControl = 0x0800
	WorkstationTrustAccount            AccountControl = 0x1000
	ServerTrustAccount                 AccountControl = 0x2000
	PasswordDoesNotExpire              AccountControl = 0x10000
	MNSLogonAccount                    AccountControl = 0x20000
	SmartCardRequired                  AccountControl = 0x40000
	TrustedForDelegation               AccountControl = 0x80000
	AccountNotDelegated                AccountControl = 0x100000
	UseDESKeyOnly                      AccountControl = 0x200000
	DontRequirePreauth                 AccountControl = 0x400000
	PasswordExpired                    AccountControl = 0x800000
	TrustedToAuthenticateForDelegation AccountControl = 0x1000000
	PartialSecretsAccount              AccountControl = 0x4000000
)

// accountControlNames maps each known flag to its MS-ADTS name, in bit order
var accountControlNames = []struct {
	flag AccountControl
	name string
}{
	{Script, "SCRIPT"},
	{AccountDisabled, "ACCOUNTDISABLE"},
	{HomeDirectoryRequired, "HOMEDIR_REQUIRED"},
	{AccountLockedOut, "LOCKOUT"},
	{PasswordNotRequired, "PASSWD_NOTREQD"},
	{PasswordCannotChange, "PASSWD_CANT_CHANGE"},
	{EncryptedTextPasswordAllowed, "ENCRYPTED_TEXT_PWD_ALLOWED"},
	{TempDuplicateAccount, "TEMP_DUPLICATE_ACCOUNT"},
	{NormalAccount, "NORMAL_ACCOUNT"},
	{InterDomainTrustAccount, "INTERDOMAIN_TRUST_ACCOUNT"},
	{WorkstationTrustAccount, "WORKSTATION_TRUST_ACCOUNT"},
	{ServerTrustAccount, "SERVER_TRUST_ACCOUNT"},
	{PasswordDoesNotExpire, "DONT_EXPIRE_PASSWORD"},
	{MNSLogonAccount, "MNS_LOGON_ACCOUNT"},
	{SmartCardRequired, "SMARTCARD_REQUIRED"},
	{TrustedForDelegation, "TRUSTED_FOR_DELEGATION"},
	{AccountNotDelegated, "NOT_DELEGATED"},
	{UseDESKeyOnly, "USE_DES_KEY_ONLY"},
	{DontRequirePreauth, "DONT_REQ_PREAUTH"},
	{PasswordExpired, "PASSWORD_EXPIRED"},
	{TrustedToAuthenticateForDelegation, "TRUSTED_TO_AUTH_FOR_DELEGATION"},
	{PartialSecretsAccount, "PARTIAL_SECRETS_ACCOUNT"},
}

// ParseAccountControl parses the decimal string form stored in the directory
func ParseAccountControl(s string) (AccountControl, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, errors.Join(ErrInvalidAccountControl, err)
	}
	return AccountControl(value), nil
}

// Has reports whether every bit of flag is set
func (c AccountControl) Has(flag AccountControl) bool {
	return c&flag == flag
}

// With returns c with flag set
func (c AccountControl) With(flag AccountControl) AccountControl {
	return c | flag
}

// Without returns c with flag cleared
func (c AccountControl) Without(flag AccountControl) AccountControl {
	return c &^ flag
}

// Flags returns the known flags set in c, in bit order
func (c AccountControl) Flags() []AccountControl {
	var flags []AccountControl
	for _, entry := range accountControlNames {
		if c.Has(entry.flag) {
			flags = append(flags, entry.flag)
		}
	}
	return flags
}

// String returns the decimal form written back to the directory
func (c AccountControl) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// Names returns the MS-ADTS names of the known flags set in c
func (c AccountControl) Names() []string {
	var names []string
	for _, entry := range accountControlNames {
		if c.Has(entry.flag) {
			names = append(names, entry.name)
		}
	}
	return names
}
