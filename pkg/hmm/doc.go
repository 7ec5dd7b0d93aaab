/*
Package hmm implements a two-state hidden Markov model over the DNA
alphabet {A, C, G, T}, used to label positions of a sequence as belonging
to a high-GC (H) or low-GC (L) region.

It provides numerically stable scaled forward evaluation, posterior
(forward-backward) decoding with a configurable probability threshold,
Viterbi decoding, and a SQLite-backed registry for keeping named model
parameter sets alongside the built-in default.

A Model is a plain value and is immutable once constructed; all working
tables are local to a call, so a single Model may be shared across
goroutines without synchronization.
*/
package hmm
