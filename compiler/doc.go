/*
Process of code generation

Go description calls (meta) ->

	backend requests (back) ->
		asm: registers and moves ->
			assemble ->
		Object (asm) ->
			run

		ssa: values and phis (ir) ->
			prune, verify, remove trivial phis ->
		Program (ir) ->
			run

Finalized Code is immutable and may be called concurrently.
*/
package compiler
