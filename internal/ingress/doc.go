// Package ingress is the shared HTTP listener that devices push to.
//
// One Server per port serves the whole process. Sessions register a handler
// for a path (last registration wins) and unregister with the Registration
// they got back, which only succeeds while it is still the current one. Every
// reply is a JSON envelope {code, msg, data} with HTTP status 200; handler
// errors and panics become code 11999 and never take down the listener.
//
//	srv, _ := pool.Get(8887)
//	reg := srv.Register(ingress.PathGimbalState, sess.handleState)
//	defer srv.Unregister(reg)
package ingress
