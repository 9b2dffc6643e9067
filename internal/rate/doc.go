// Package rate implements the Redis fixed-window throttles that sit in
// front of credential verification and token refresh.
package rate
