// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package auth verifies the static per-device bearer tokens. The
// credential map is parsed once at startup and read-only afterwards;
// token comparison is constant-time.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

type contextKey string

const deviceContextKey contextKey = "device_id"

// Authenticator maps bearer tokens to device ids. It holds no mutable
// state after construction.
type Authenticator struct {
	tokens map[string]string
}

// ParseDeviceTokens parses a "tok:dev,tok:dev,..." credential string.
// Entries without a separator are skipped with a warning; whitespace is
// trimmed; entries with an empty token or device id are skipped.
func ParseDeviceTokens(raw string) map[string]string {
	tokens := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return tokens
	}

	for i, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		token, deviceID, found := strings.Cut(entry, ":")
		if !found {
			cclog.Warnf("skipping malformed DEVICE_TOKENS entry at position %d (no colon separator)", i)
			continue
		}
		token = strings.TrimSpace(token)
		deviceID = strings.TrimSpace(deviceID)
		if token == "" || deviceID == "" {
			continue
		}
		tokens[token] = deviceID
	}
	return tokens
}

// New builds an authenticator from a credential string. An empty result
// map is a configuration error.
func New(raw string) (*Authenticator, error) {
	tokens := ParseDeviceTokens(raw)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("DEVICE_TOKENS contains no valid token:device_id entries")
	}
	return &Authenticator{tokens: tokens}, nil
}

// Verify compares the presented token against every registered token
// using constant-time byte comparison and returns the matching device
// id. The loop never exits early on a mismatching byte.
func (a *Authenticator) Verify(presented string) (string, bool) {
	if presented == "" {
		return "", false
	}

	deviceID := ""
	found := false
	for token, dev := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
			deviceID = dev
			found = true
		}
	}
	return deviceID, found
}

// AuthRequest extracts and verifies the bearer credential of a request.
func (a *Authenticator) AuthRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing authorization credentials")
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("authorization header is not a bearer credential")
	}

	deviceID, ok := a.Verify(strings.TrimSpace(token))
	if !ok {
		return "", fmt.Errorf("invalid or expired token")
	}
	return deviceID, nil
}

// Auth wraps next with bearer authentication. The authenticated device
// id is stored on the request context; onfailure renders the 401.
func (a *Authenticator) Auth(
	next http.Handler,
	onfailure func(rw http.ResponseWriter, r *http.Request, err error),
) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		deviceID, err := a.AuthRequest(r)
		if err != nil {
			cclog.Debugf("authentication failed: %v", err)
			onfailure(rw, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), deviceContextKey, deviceID)
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// DeviceFromContext returns the device id stored by Auth, or "".
func DeviceFromContext(ctx context.Context) string {
	deviceID, _ := ctx.Value(deviceContextKey).(string)
	return deviceID
}
