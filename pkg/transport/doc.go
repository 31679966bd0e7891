// Package transport provides the TCP socket used to reach streaming servers.
//
// Reads and writes never retry: Write reports how many bytes the peer
// accepted and Read reports 0 when nothing arrived in time. CanRead and
// CanWrite probe readiness without consuming data on unix platforms.
package transport
