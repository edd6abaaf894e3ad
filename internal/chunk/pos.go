// Package chunk defines chunk coordinates, packed chunk keys, and the level
// scale shared by every tracker in the distance core.
package chunk

import "fmt"

// Pos is a chunk coordinate on the horizontal plane.
type Pos struct {
	X int32
	Z int32
}

// Key is a Pos packed into 64 bits: X in the low word, Z in the high word.
// It is the index type of every tracker and of the ticket storage.
type Key int64

// NewPos returns the chunk coordinate (x, z).
func NewPos(x, z int32) Pos {
	return Pos{X: x, Z: z}
}

// PosOfBlock returns the chunk containing block coordinate (bx, bz).
func PosOfBlock(bx, bz int) Pos {
	return Pos{X: int32(bx >> 4), Z: int32(bz >> 4)}
}

// Key packs p into a Key.
//
// Postcondition: FromKey(p.Key()) == p.
func (p Pos) Key() Key {
	return Key(int64(uint32(p.X)) | int64(uint32(p.Z))<<32)
}

// Offset returns the coordinate displaced by (dx, dz).
func (p Pos) Offset(dx, dz int32) Pos {
	return Pos{X: p.X + dx, Z: p.Z + dz}
}

// Chebyshev returns the square-ring distance between p and o.
//
// Postcondition: Returns >= 0.
func (p Pos) Chebyshev(o Pos) int {
	dx := absDiff(p.X, o.X)
	dz := absDiff(p.Z, o.Z)
	if dx > dz {
		return dx
	}
	return dz
}

// String renders the coordinate as "[x, z]".
func (p Pos) String() string {
	return fmt.Sprintf("[%d, %d]", p.X, p.Z)
}

// FromKey unpacks k.
func FromKey(k Key) Pos {
	return Pos{X: int32(uint32(k)), Z: int32(uint32(uint64(k) >> 32))}
}

// Pos unpacks k.
func (k Key) Pos() Pos {
	return FromKey(k)
}

// Offset returns the key of the chunk displaced by (dx, dz) from k.
func (k Key) Offset(dx, dz int32) Key {
	return FromKey(k).Offset(dx, dz).Key()
}

// String renders the key as its coordinate.
func (k Key) String() string {
	return FromKey(k).String()
}

func absDiff(a, b int32) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}
