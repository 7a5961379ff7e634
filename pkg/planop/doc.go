// Package planop implements component F of the tablet engine: the
// logical plan operator tree and its traversal engine. The optimizer
// that builds the tree's shape is out of scope; this package turns that
// shape into a fully annotated, executable plan by running the closed
// set of named traversals (do_plan_tree_traverse) and the bottom-up
// compute_property chain over it.
package planop
