// Package domain defines the directory account model acted on by the agent,
// including the userAccountControl flag set used to enable and disable accounts.
package domain
