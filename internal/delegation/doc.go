// Package delegation defines the data model of a delegation session and the
// pure steps around scheduling it: building the dispatch queue from task
// units, rendering the prompt a delegate receives, and aggregating finished
// tasks into a Synthesis.
//
// Nothing in this package performs I/O except the explicit file helpers
// ([LoadUnits], [Synthesis.WriteFile]).
package delegation
