// ABOUTME: Package status publishes the live state of a caster run
// ABOUTME: Snapshots feed the terminal UI, the HTTP endpoint and websocket clients
// Package status turns connector reports into snapshots and publishes them
// over HTTP (GET /status) and a websocket push feed (/ws), optionally
// advertised on the LAN over mDNS.
package status
