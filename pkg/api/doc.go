// Package api exposes the REST v1 surface of an engine instance.
//
// Every mutation that spawns work answers 202 Accepted with a Location
// header pointing at the action record; clients poll the action for the
// outcome. List endpoints reject unknown query keys with 400, and
// storage sentinels map to 404 and 409.
package api
