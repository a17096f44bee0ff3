// Package harness runs visibility conformance scenarios.
//
// A scenario builds a relation's history from scratch (inserts, deletes,
// updates, undecodable tuples), records commit outcomes in a commit log and
// then scans the relation as of one or more reference transactions,
// comparing the rows that come back with the expected ones.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: aborted_delete
//	description: "A delete by an aborted transaction leaves the row present"
//	relation: accounts
//	columns:
//	  - {name: id, type: int4}
//	statuses:
//	  100: committed
//	  300: aborted
//	steps:
//	  - insert: {label: a, xmin: 100, row: {id: 1}}
//	  - delete: {label: a, xmax: 300}
//	  - raw: {label: junk, hex: "010203"}
//	checks:
//	  - txn_id: 150
//	    visible: [a]
//	    corrupt: 1
//
// Labels name stored tuples; a check lists the labels it expects back, in
// physical order. Transactions missing from statuses are in progress.
//
// # Isolation
//
// Every run gets a fresh SQLite heap and commit log in a temporary
// directory, so scenarios never observe each other.
//
// # Usage
//
//	sc, err := harness.LoadScenario("testdata/scenarios/aborted_delete.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, sc)
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
