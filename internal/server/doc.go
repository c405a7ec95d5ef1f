// Package server streams injection progress over WebSocket.
//
// With --events-addr set, stagehand serves ws://<addr>/events while it
// runs. Each frame is a JSON Message: "event" frames mirror the progress
// lines of the terminal output, "report" frames carry each finished
// stage report.
//
//	{"type":"event","time":"...","event":{"stage":"bl2","op":"position","status":"running","message":"Running to bl2"}}
//
// Slow clients are dropped rather than allowed to stall the injection.
package server
