// Package audit buffers security events and hands them to a Sink on a
// background goroutine.
//
// The engine decides which events exist. This package only relays them,
// dropping or blocking when the buffer is full depending on Config.
package audit
