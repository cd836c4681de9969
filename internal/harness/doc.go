// Package harness runs conformance scenarios against the mail client
// engine.
//
// A scenario pushes server payloads into a fresh engine, drives the
// message operations, and checks the resulting records, remote calls and
// bus events. Remote calls are answered by a scripted transport.Recorder,
// so nothing leaves the process.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: mark_as_read
//	description: "Reading a message moves it from inbox to history"
//	partner: { id: 7, name: "Demo User" }
//	answers:
//	  - method: set_message_done
//	    result: true
//	setup:
//	  - push: mail.message
//	    payload: { id: 1, needaction_partner_ids: [7] }
//	steps:
//	  - do: mark_as_read
//	    message: 1
//	  - push: res.partner
//	    payload: { type: mark_as_read, message_ids: [1] }
//	assertions:
//	  - type: record
//	    model: mail.message
//	    key: [1]
//	    expect: { isNeedaction: false, threads: [mail.thread_mail.box_history] }
//	  - type: call_count
//	    method: set_message_done
//	    count: 1
//
// # Assertion Types
//
//   - record: finds a record by identity key (or local_id) and checks a
//     subset of its fields. Relations are given as local ids.
//   - absent: the record does not exist.
//   - count: number of live records of a model.
//   - call_count: number of remote calls to a method.
//   - call_order: methods were called in this order.
//   - event: a bus event with a matching payload subset was emitted.
//
// # Deterministic Testing
//
// Every scenario runs on a fresh engine with numbered call tokens
// (testutil.SequenceGenerator) and drains the event queue after each
// step, so at most one remote call is in flight at a time. The trace and
// final snapshot are therefore byte-identical across runs and can be kept
// as golden files.
package harness
