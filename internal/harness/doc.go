// Package harness runs YAML scenarios against a real store, host loop, and
// scheduler, and records every change set delivered to listeners.
//
// A run wires the whole pipeline the way an embedding host would:
//
//  1. Open a fresh store and define the scenario's classes
//  2. Apply setup writes (no listeners yet, so nothing is delivered)
//  3. Start the host loop on its own goroutine; the scheduler is created
//     there, which makes that goroutine the owner
//  4. Register listeners on the loop goroutine
//  5. Run steps: writes go through worker goroutines, releases run on the
//     loop; each step ends with a barrier that waits for the loop to drain
//  6. Release remaining tokens, close the scheduler, evaluate assertions
//
// # Scenario format
//
//	name: collection_diff
//	description: Deleting, modifying, and inserting in one write
//	index_base: one
//	classes:
//	  - name: Dog
//	    properties: [name, age]
//	setup:
//	  - create: {class: Dog, label: a, values: {name: a}}
//	listeners:
//	  - name: dogs
//	    results: Dog
//	steps:
//	  - write:
//	      - set: {object: a, property: age, value: 4}
//	assertions:
//	  - type: delivery_count
//	    listener: dogs
//	    count: 1
//
// Golden files capture deliveries only. Object ids are random and are never
// part of a snapshot.
package harness
