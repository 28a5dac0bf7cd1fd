//go:build amd64 || arm64

package fam

//go:noescape
func cas128(addr *[2]uint64, oldLo, oldHi, newLo, newHi uint64) (obsLo, obsHi uint64)

//go:noescape
func load128(addr *[2]uint64) (lo, hi uint64)
