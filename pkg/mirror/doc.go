// Package mirror wires a connection.Manager to its store.Store.
//
// The Manager only reports edges; Mirror decides what they mean:
//
//	device connected     -> reload runtime published values
//	device disconnected  -> cancel their download, clear them
//	firmware loaded      -> reload variables and aliases
//	firmware unloaded    -> cancel their download, clear them
//	server disconnected  -> unsubscribe everything, clear all categories
//
// Store watch edges are forwarded to the server: the first subscriber of an
// entry subscribes its server id, the last one leaving unsubscribes it.
// Entries watched while their category was not ready (or while the socket
// was down) are subscribed once the category becomes ready.
package mirror
