// Package campaign implements the campaign orchestrator.
//
// The service drives a campaign from draft or scheduled to running, resolves
// the segment membership, personalizes one message per member and emits one
// send-request per member on the delivery channel. Completion is decided by
// the repository once every enqueued member has a first receipt reconciled.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
