// Package audit defines the structured event model and sink interfaces used
// by the engine's asynchronous audit dispatcher.
package audit
