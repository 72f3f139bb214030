// Package sbox holds the per-build S-box pair (vm, vm_inv) and the
// byte-wise substitution they drive. The pair is generated once per
// build by the bytecode package and is otherwise read-only.
package sbox

import "fmt"

// Pair is a permutation of 0..255 together with its inverse.
type Pair struct {
	Forward [256]byte
	Inverse [256]byte
}

// NewPair builds a Pair from a forward permutation, computing its
// inverse and validating that forward is indeed a permutation of
// 0..255.
func NewPair(forward [256]byte) (*Pair, error) {
	var inverse [256]byte
	var seen [256]bool
	for i, v := range forward {
		if seen[v] {
			return nil, fmt.Errorf("sbox: %d is not a permutation of 0..255 (duplicate value %d)", i, v)
		}
		seen[v] = true
		inverse[v] = byte(i)
	}
	return &Pair{Forward: forward, Inverse: inverse}, nil
}

// Valid reports whether Inverse truly inverts Forward, i.e.
// Inverse[Forward[i]] == i for all i.
func (p *Pair) Valid() bool {
	for i := 0; i < 256; i++ {
		if p.Inverse[p.Forward[byte(i)]] != byte(i) {
			return false
		}
	}
	return true
}

// Apply substitutes every byte of buf in place through Forward.
func (p *Pair) Apply(buf []byte) {
	for i, b := range buf {
		buf[i] = p.Forward[b]
	}
}

// ApplyInverse substitutes every byte of buf in place through Inverse.
func (p *Pair) ApplyInverse(buf []byte) {
	for i, b := range buf {
		buf[i] = p.Inverse[b]
	}
}
