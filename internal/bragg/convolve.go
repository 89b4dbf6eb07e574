package bragg

import (
	"math"
)

// Convolve returns the valid-mode convolution of data with kernel by direct
// summation. The kernel is applied unflipped, which is the same for the
// symmetric kernels built by MakeKernel. The result is empty when kernel is
// larger than data along any axis.
//
// FindPeaks uses the box-sum shoebox instead; Convolve is the reference it
// is checked against and suits arbitrary kernels.
func Convolve(data, kernel *Cube) *Cube {
	out := NewCube(data.NRows-kernel.NRows+1, data.NCols-kernel.NCols+1, data.NBins-kernel.NBins+1)
	if out.Empty() {
		return out
	}
	for r := 0; r < out.NRows; r++ {
		for c := 0; c < out.NCols; c++ {
			for t := 0; t < out.NBins; t++ {
				var sum float64
				for i := 0; i < kernel.NRows; i++ {
					for j := 0; j < kernel.NCols; j++ {
						for l := 0; l < kernel.NBins; l++ {
							sum += data.At(r+i, c+j, t+l) * kernel.At(i, j, l)
						}
					}
				}
				out.Set(r, c, t, sum)
			}
		}
	}
	return out
}

// shoebox evaluates valid-mode convolutions with a Kernel from box sums.
// With inner weight a and shell weight b a kernel sums to
// b·Σouter + (a-b)·Σinner, so each output voxel needs two box sums.
type shoebox struct {
	k     *Kernel
	valid Shape
}

func newShoebox(k *Kernel, s Shape) shoebox {
	return shoebox{k: k, valid: k.validShape(s)}
}

// apply convolves the values of ps with inner weight a and shell weight b.
func (sb shoebox) apply(ps *prefixSum, a, b float64) *Cube {
	out := NewCube(sb.valid.NRows, sb.valid.NCols, sb.valid.NBins)
	if out.Empty() {
		return out
	}
	d := sb.k.Dims()
	in, pad := sb.k.Inner, sb.k.Pad
	for r := 0; r < out.NRows; r++ {
		for c := 0; c < out.NCols; c++ {
			for t := 0; t < out.NBins; t++ {
				outer := ps.box(r, r+d.NRows, c, c+d.NCols, t, t+d.NBins)
				ri, ci, ti := r+pad.NRows, c+pad.NCols, t+pad.NBins
				inner := ps.box(ri, ri+in.NRows, ci, ci+in.NCols, ti, ti+in.NBins)
				out.Set(r, c, t, b*outer+(a-b)*inner)
			}
		}
	}
	return out
}

// signal returns y convolved with the kernel.
func (sb shoebox) signal(y *Cube) *Cube {
	return sb.apply(newPrefixSum(y, nil), 1, sb.k.ShellValue)
}

// sigma returns sqrt of esq convolved with the squared kernel.
func (sb shoebox) sigma(esq *Cube) *Cube {
	s := sb.k.ShellValue
	out := sb.apply(newPrefixSum(esq, nil), 1, s*s)
	for i, v := range out.Data {
		out.Data[i] = math.Sqrt(v)
	}
	return out
}

// mean returns the mean of f(values) over the full kernel footprint.
func (sb shoebox) mean(c *Cube, f func(float64) float64) *Cube {
	n := float64(sb.k.Dims().Len())
	return sb.apply(newPrefixSum(c, f), 1/n, 1/n)
}
