// Package session implements the per-client session orchestrator.
//
// A Session owns one script runner, one message queue and one widget store.
// Its two contexts of control are the runner goroutine, which executes the
// script, and the flush loop, which drains the queue to the transport on a
// fixed interval. Client commands arrive through HandleBackMsg.
//
// Components:
//   - Session: command translation, flush loop, lifecycle messages
//   - Manager: session registry, reconnect within a grace period, listing
//
// Reconnect:
//  1. The transport drops; Manager.Disconnect detaches it and starts a timer
//  2. A client connecting with the same session ID before the timer fires
//     is reattached and receives InitializeSession again
//  3. A rerun rebuilds the view from the retained widget values
//
// Example Usage:
//
//	manager := session.NewManager(ctx, session.ManagerConfig{Source: src})
//	sess, resumed, err := manager.Connect(requestedID, transport)
//	err = sess.HandleBackMsg(ctx, cmd)
//	manager.Disconnect(sess.ID(), transport)
package session
