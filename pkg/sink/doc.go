// Package sink provides destinations for encoded audio streams.
//
// ServerSink logs into an Icecast2, Icecast 1.x or Shoutcast server and
// streams over a transport connection. FileSink dumps to disk and
// MonitorSink plays PCM on the local audio device.
//
// Writes are never retried. A Sink may accept fewer bytes than offered
// and the caller decides what to do with the rest.
package sink
