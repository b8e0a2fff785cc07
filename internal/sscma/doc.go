// Package sscma speaks the SSCMA-Micro AT protocol used by Seeed vision
// modules.
//
// Commands are text lines ("AT+INVOKE=-1,0,0\r\n"); the device answers with
// JSON objects, one per line, tagged as a response, an event or a log:
//
//	{"type": 0, "name": "INFO", "code": 0, "data": {...}}
//	{"type": 1, "name": "INVOKE", "code": 0, "data": {"boxes": [...], "image": "..."}}
//
// The transport is supplied by the caller as a Sender, so the same client
// works over MQTT or a serial bridge.
package sscma
