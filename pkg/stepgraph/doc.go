// Package stepgraph defines the step graph for stepcraft.
// The step graph is an ordered sequence of steps, each owning an ordered
// sequence of sub-steps, plus explicit connections between any two nodes
// and the current selection. All mutation goes through Store.
package stepgraph
