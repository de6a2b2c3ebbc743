// Package security derives a posture report from engine configuration.
//
// It lives under internal/ so callers consume it through the root package.
package security
