// Package activedirectory implements the agent's Directory over LDAPS.
//
// A Client holds one bound connection for its lifetime. DisableUser looks
// the account up by sAMAccountName under the configured root DN and sets the
// ACCOUNTDISABLE bit of userAccountControl, leaving every other flag as it
// was. Missing and already-disabled accounts are logged and treated as
// success so a re-delivered message is harmless.
package activedirectory
