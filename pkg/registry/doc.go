/*
Package registry implements component A: a sharded map from tablet key
to *tablet.Handle, a pinned-refcount set blocking deletion of in-use
tablets, and an optional bbolt-backed durable index for fast registry
rebuild on restart.
*/
package registry
