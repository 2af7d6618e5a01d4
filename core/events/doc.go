// Package events defines the coordination events emitted on the event bus.
//
// Available event types:
//   - AllocationEvent: outcome of an allocation transaction
//   - MissionEvent: mission lifecycle change
//   - EmergencyEvent: emergency failover progress
package events
