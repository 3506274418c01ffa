/*
Package compiler turns a kernel program into a cycle by cycle schedule.

Kernel Program (yaml) ->
	lower ->
Global Instructions + Thread Templates, Scratch Layout ->
	build ->
Instruction Graph (one stream per thread, hazard edges) ->
	pack ->
Cycles (per engine instruction bundles)

The number of resident threads is limited by scratch space.
Every resident thread gets its own copy of per-thread variables,
threads beyond that wait for a free slot.
*/
package compiler
