/*
Package crdt implements the causal building blocks of causaldoc: vector clocks,
causal contexts, the observed-removed set (ORSet) holding the elements of one
record and the observed-removed map (ORMap) holding all records of a document.

Consider these two requirements:
* Operations may be delivered in any order and any number of times. Every
  replica remembers the exact dots it has seen and defers removes whose clock
  names dots still in flight, so all replicas that applied the same set of
  operations end up in identical states.
* Access to the functions this package provides is expected to be synchronized
  explicitly by some outside measures, e.g. by wrapping calls to this package
  with a mutex lock if concurrent access is possible. This package does not(!)
  synchronize access by itself.

The tombstone-free ORSet and ORMap follow the designs by Bieniusa, Zawirski,
Preguiça, Shapiro, Baquero, Balegas and Duarte, available under:
https://arxiv.org/abs/1210.3368
*/
package crdt
