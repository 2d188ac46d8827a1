// Package chat holds the domain records shared by every corpchat component:
// accounts, groups, messages and their targets, the wire payloads pushed over
// live sessions, and the error taxonomy callers match with errors.Is.
package chat
