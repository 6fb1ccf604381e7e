// Package azurequeue adapts an Azure Storage Queue to the agent's message
// source, deleter and sender interfaces.
package azurequeue
