// Command flowpulse starts and watches agent executions from the
// terminal.
//
//	flowpulse start --agent <id> [--input '{"k":"v"}'] [--config flowpulse.yaml]
//	flowpulse watch --execution <id> [--agent <id>]
//	flowpulse cancel --execution <id>
//	flowpulse version
package main
