// Package connector fans one capture source out to many encoders.
//
// Each cycle reads one chunk from the source and hands the identical buffer
// to every live encoder in attach order. An encoder that fails is closed and
// left out of later cycles; the others keep streaming. In queued mode every
// encoder runs on its own goroutine behind a bounded queue so a slow server
// never stalls capture.
package connector
