package bragg

import "fmt"

// Kernel is a shoebox: an inner signal box of +1 surrounded by a shell of
// constant negative weight chosen so the whole kernel sums to zero.
type Kernel struct {
	// Inner is the signal box extent.
	Inner Shape
	// Pad is the shell thickness per axis.
	Pad Shape
	// ShellValue is the weight of every shell voxel.
	ShellValue float64
}

// MakeKernel builds the shoebox for an inner box of nr x nc x nb voxels.
// Each axis is padded by max(1, n/16) voxels on both sides.
func MakeKernel(nr, nc, nb int) (*Kernel, error) {
	if nr <= 0 || nc <= 0 || nb <= 0 {
		return nil, fmt.Errorf("%w: kernel size %dx%dx%d", ErrInvalidConfig, nr, nc, nb)
	}
	k := &Kernel{
		Inner: Shape{NRows: nr, NCols: nc, NBins: nb},
		Pad:   Shape{NRows: kernelPad(nr), NCols: kernelPad(nc), NBins: kernelPad(nb)},
	}
	inner := float64(k.Inner.Len())
	shell := float64(k.Dims().Len()) - inner
	k.ShellValue = -inner / shell
	return k, nil
}

func kernelPad(n int) int { return max(1, n/16) }

// Dims returns the full kernel extent including the shell.
func (k *Kernel) Dims() Shape {
	return Shape{
		NRows: k.Inner.NRows + 2*k.Pad.NRows,
		NCols: k.Inner.NCols + 2*k.Pad.NCols,
		NBins: k.Inner.NBins + 2*k.Pad.NBins,
	}
}

// Centre returns the offset of the kernel centre voxel, (dim-1)/2 per axis.
func (k *Kernel) Centre() (r, c, t int) {
	d := k.Dims()
	return (d.NRows - 1) / 2, (d.NCols - 1) / 2, (d.NBins - 1) / 2
}

// Cube materialises the kernel weights for use with Convolve.
func (k *Kernel) Cube() *Cube {
	d := k.Dims()
	out := NewCube(d.NRows, d.NCols, d.NBins)
	for r := 0; r < d.NRows; r++ {
		for c := 0; c < d.NCols; c++ {
			for t := 0; t < d.NBins; t++ {
				v := k.ShellValue
				if k.inInner(r, c, t) {
					v = 1
				}
				out.Set(r, c, t, v)
			}
		}
	}
	return out
}

// inInner reports whether kernel-local voxel (r, c, t) is in the signal box.
func (k *Kernel) inInner(r, c, t int) bool {
	return r >= k.Pad.NRows && r < k.Pad.NRows+k.Inner.NRows &&
		c >= k.Pad.NCols && c < k.Pad.NCols+k.Inner.NCols &&
		t >= k.Pad.NBins && t < k.Pad.NBins+k.Inner.NBins
}

// validShape returns the extent of a valid-mode convolution of s with the
// kernel. It is Empty when the kernel does not fit.
func (k *Kernel) validShape(s Shape) Shape {
	d := k.Dims()
	return Shape{
		NRows: s.NRows - d.NRows + 1,
		NCols: s.NCols - d.NCols + 1,
		NBins: s.NBins - d.NBins + 1,
	}
}
