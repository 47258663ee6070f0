package partition

import "fmt"

// Cursor walks the triangular index space in row-major order.
type Cursor struct {
	N   int64
	Idx int64 // linear index of (I, J)
	I   int64
	J   int64
}

// Seek positions a cursor at linear index idx.
//
// Row i holds N-i+1 pairs, so the walk skips whole rows and costs O(N)
// regardless of idx.
func Seek(n, idx int64) (Cursor, error) {
	total, err := TotalPairs(n)
	if err != nil {
		return Cursor{}, err
	}
	if idx < 0 || idx >= total {
		return Cursor{}, fmt.Errorf("partition: index %d out of range [0, %d)", idx, total)
	}

	i := int64(1)
	rest := idx
	for row := n; rest >= row; row-- {
		rest -= row
		i++
	}
	return Cursor{N: n, Idx: idx, I: i, J: i + rest}, nil
}

// Next advances to the following pair. Past the last pair I exceeds N.
func (c *Cursor) Next() {
	c.Idx++
	c.J++
	if c.J > c.N {
		c.I++
		c.J = c.I
	}
}

// Valid reports whether the cursor still points inside the table.
func (c *Cursor) Valid() bool { return c.I <= c.N }

// Product returns I*J. It cannot overflow for N <= MaxN.
func (c *Cursor) Product() int64 { return c.I * c.J }
