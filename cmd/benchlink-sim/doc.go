// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Benchlink-sim runs the instrument simulator on a TCP port so
// benchlink can be tried without hardware. It answers *IDN?, MEAS?,
// DATA? and the MMEM:DATA block commands; see package simulator for the
// full command set.
package main
