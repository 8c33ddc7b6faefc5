// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

// Package logger provides structured JSON logging for Warden services.
// Every entry carries the component name, instance id, and optionally the
// request id so pipeline stages for one request can be correlated.
package logger
